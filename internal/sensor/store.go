package sensor

import (
	"slices"
	"sync"
)

// Logger defines the logging interface used by the Store.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Store is the canonical sensor-id → Record mapping.
//
// Records are kept in first-sighting order with a key index for O(1) lookup.
type Store struct {
	mu            sync.RWMutex
	records       []Record       // first-sighting order
	index         map[string]int // ID -> position in records
	connectedOnly bool

	subMu  sync.RWMutex
	subs   map[int]func(Event)
	nextID int

	logger Logger
}

// NewStore creates an empty store with the filter off.
func NewStore() *Store {
	return &Store{
		index:  make(map[string]int),
		subs:   make(map[int]func(Event)),
		logger: noopLogger{},
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.logger = logger
}

// Upsert folds rec into the store and reports whether stored state changed.
//
// First sighting inserts rec as-is. For a known ID, a connected record
// replaces the stored one; a disconnected record keeps the stored Value and
// Unit. Applying the same record twice leaves the store as applying it once.
func (s *Store) Upsert(rec Record) bool {
	s.mu.Lock()

	pos, exists := s.index[rec.ID]
	var merged Record
	if exists {
		merged = merge(s.records[pos], rec)
		if merged.Equal(s.records[pos]) {
			s.mu.Unlock()
			return false
		}
		s.records[pos] = merged
	} else {
		merged = rec.Clone()
		s.index[rec.ID] = len(s.records)
		s.records = append(s.records, merged)
	}
	connectedOnly := s.connectedOnly
	s.mu.Unlock()

	s.logger.Debug("sensor upserted",
		"sensor_id", rec.ID,
		"connected", merged.Connected,
		"created", !exists,
	)

	s.notify(Event{
		Kind:          EventUpserted,
		Record:        merged.Clone(),
		Created:       !exists,
		ConnectedOnly: connectedOnly,
	})
	return true
}

// merge applies an incoming record to the stored one.
func merge(stored, incoming Record) Record {
	out := incoming.Clone()
	if !incoming.Connected {
		// Keep the last good reading across a disconnect.
		out.Value = cloneString(stored.Value)
		out.Unit = cloneString(stored.Unit)
	}
	return out
}

// SetFilter toggles the connected-only view. Stored records are untouched.
func (s *Store) SetFilter(connectedOnly bool) {
	s.mu.Lock()
	if s.connectedOnly == connectedOnly {
		s.mu.Unlock()
		return
	}
	s.connectedOnly = connectedOnly
	s.mu.Unlock()

	s.notify(Event{Kind: EventFilterChanged, ConnectedOnly: connectedOnly})
}

// ConnectedOnly returns the current filter value.
func (s *Store) ConnectedOnly() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedOnly
}

// ConnectedCount returns the number of records with Connected set.
// It is recomputed from current state on every call.
func (s *Store) ConnectedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connectedCountLocked()
}

func (s *Store) connectedCountLocked() int {
	n := 0
	for i := range s.records {
		if s.records[i].Connected {
			n++
		}
	}
	return n
}

// VisibleRecords returns every record, or only connected ones when the filter
// is on, in first-sighting order. The returned records are copies.
func (s *Store) VisibleRecords() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visibleLocked()
}

func (s *Store) visibleLocked() []Record {
	out := make([]Record, 0, len(s.records))
	for i := range s.records {
		if s.connectedOnly && !s.records[i].Connected {
			continue
		}
		out = append(out, s.records[i].Clone())
	}
	return out
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.index[id]
	if !ok {
		return Record{}, false
	}
	return s.records[pos].Clone(), true
}

// Len returns the number of known sensors.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Snapshot returns the filter, the counts and the visible records read under
// a single lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Snapshot{
		ConnectedOnly:  s.connectedOnly,
		ConnectedCount: s.connectedCountLocked(),
		Total:          len(s.records),
		Records:        s.visibleLocked(),
	}
}

// Subscribe registers fn to be called after every change. The returned
// function removes the subscription and is safe to call more than once.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

// notify calls every subscriber in registration order.
func (s *Store) notify(ev Event) {
	s.subMu.RLock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	s.subMu.RUnlock()
	slices.Sort(ids)

	for _, id := range ids {
		s.subMu.RLock()
		fn, ok := s.subs[id]
		s.subMu.RUnlock()
		if ok {
			fn(ev)
		}
	}
}
