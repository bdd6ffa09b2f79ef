package sensor

import "errors"

// ErrMissingID is returned by Validate when a record has no identifier.
var ErrMissingID = errors.New("sensor: missing id")

// Record is the canonical state of one sensor as reported by the server.
//
// Value keeps the exact string formatting sent by the device. Value and Unit
// are nil when the server reports null.
type Record struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Connected bool    `json:"connected"`
	Value     *string `json:"value"`
	Unit      *string `json:"unit"`
}

// Validate checks the fields the store relies on.
func (r Record) Validate() error {
	if r.ID == "" {
		return ErrMissingID
	}
	return nil
}

// Clone returns a copy that shares no pointers with r.
func (r Record) Clone() Record {
	out := r
	out.Value = cloneString(r.Value)
	out.Unit = cloneString(r.Unit)
	return out
}

// Equal reports whether two records hold the same state.
func (r Record) Equal(other Record) bool {
	return r.ID == other.ID &&
		r.Name == other.Name &&
		r.Connected == other.Connected &&
		equalString(r.Value, other.Value) &&
		equalString(r.Unit, other.Unit)
}

// StringPtr returns a pointer to s. Handy for building records in code.
func StringPtr(s string) *string {
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func equalString(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// EventKind identifies what changed in a Store.
type EventKind string

const (
	// EventUpserted is emitted when Upsert changes stored state.
	EventUpserted EventKind = "upserted"

	// EventFilterChanged is emitted when SetFilter flips the view flag.
	EventFilterChanged EventKind = "filter_changed"
)

// Event describes a change to a Store.
type Event struct {
	Kind EventKind

	// Record is the merged, stored record. Set for EventUpserted only.
	Record Record

	// Created is true when the upsert was the first sighting of the ID.
	Created bool

	// ConnectedOnly is the filter value after the change.
	ConnectedOnly bool
}

// Snapshot is a consistent read of the store for rendering.
type Snapshot struct {
	ConnectedOnly  bool     `json:"show_connected_only"`
	ConnectedCount int      `json:"connected_count"`
	Total          int      `json:"total"`
	Records        []Record `json:"sensors"`
}
