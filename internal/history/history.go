package history

import (
	"context"
	"errors"
	"time"

	"github.com/leonorpan/iot-fe/internal/sensor"
)

// Query bounds for Recent.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

var (
	// ErrMissingSensorID is returned when an operation needs a sensor id.
	ErrMissingSensorID = errors.New("history: sensor id is required")

	// ErrInvalidRetention is returned by Prune for a non-positive retention.
	ErrInvalidRetention = errors.New("history: retention must be positive")
)

// Entry is one journaled sensor record.
//
// Each entry stores the record as it stood in the store right after an
// applied upsert, so a sequence of entries shows how the sensor evolved.
type Entry struct {
	// ID is the auto-incremented primary key for the row.
	ID int64 `json:"id"`

	// Record is the merged record after the upsert.
	Record sensor.Record `json:"record"`

	// RecordedAt is when the upsert was applied (UTC, millisecond precision).
	RecordedAt time.Time `json:"recorded_at"`
}

// Repository journals applied sensor records.
//
// Implementations must be safe for concurrent use. The journal is for
// querying only; nothing rebuilds the in-memory store from it.
type Repository interface {
	// Append journals rec as applied at the current time.
	Append(ctx context.Context, rec sensor.Record) error

	// Recent returns up to limit entries for sensorID, newest first.
	// A limit outside (0, MaxLimit] is clamped.
	Recent(ctx context.Context, sensorID string, limit int) ([]Entry, error)

	// Prune deletes entries older than retention and reports how many.
	Prune(ctx context.Context, retention time.Duration) (int64, error)
}

// clampLimit applies the DefaultLimit and MaxLimit bounds.
func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}
