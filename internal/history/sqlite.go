package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/leonorpan/iot-fe/internal/infrastructure/clock"
	"github.com/leonorpan/iot-fe/internal/sensor"
)

// SQLiteRepository implements Repository on the sensor_history table.
//
// Timestamps are stored as unix milliseconds so range deletes use the
// (recorded_at) index directly.
type SQLiteRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewSQLiteRepository creates a repository on an open, migrated database.
// A nil clk uses the wall clock.
func NewSQLiteRepository(db *sql.DB, clk clock.Clock) *SQLiteRepository {
	if clk == nil {
		clk = clock.Real()
	}
	return &SQLiteRepository{db: db, clock: clk}
}

// Append inserts rec with the current time.
func (r *SQLiteRepository) Append(ctx context.Context, rec sensor.Record) error {
	if rec.ID == "" {
		return ErrMissingSensorID
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sensor_history (sensor_id, name, connected, value, unit, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Name,
		boolToInt(rec.Connected),
		nullString(rec.Value),
		nullString(rec.Unit),
		r.clock.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("inserting sensor history: %w", err)
	}
	return nil
}

// Recent returns entries for sensorID ordered newest first. Entries
// recorded in the same millisecond keep their insertion order reversed.
func (r *SQLiteRepository) Recent(ctx context.Context, sensorID string, limit int) ([]Entry, error) {
	if sensorID == "" {
		return nil, ErrMissingSensorID
	}
	limit = clampLimit(limit)

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, sensor_id, name, connected, value, unit, recorded_at
		 FROM sensor_history
		 WHERE sensor_id = ?
		 ORDER BY recorded_at DESC, id DESC
		 LIMIT ?`,
		sensorID,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying sensor history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0, limit)
	for rows.Next() {
		var (
			entry      Entry
			connected  int64
			value      sql.NullString
			unit       sql.NullString
			recordedAt int64
		)
		if err := rows.Scan(&entry.ID, &entry.Record.ID, &entry.Record.Name, &connected, &value, &unit, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning sensor history: %w", err)
		}
		entry.Record.Connected = connected == 1
		entry.Record.Value = stringPtr(value)
		entry.Record.Unit = stringPtr(unit)
		entry.RecordedAt = time.UnixMilli(recordedAt).UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sensor history: %w", err)
	}

	return entries, nil
}

// Prune deletes entries recorded before now minus retention.
func (r *SQLiteRepository) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	if retention <= 0 {
		return 0, ErrInvalidRetention
	}

	cutoff := r.clock.Now().UTC().Add(-retention).UnixMilli()
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM sensor_history WHERE recorded_at < ?",
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting sensor history: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("checking rows affected: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
