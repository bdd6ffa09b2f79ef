// Package sensor holds the canonical, in-memory view of every sensor seen on
// the upstream stream.
//
// A Store keeps exactly one Record per sensor ID and folds each incoming
// record into the stored one with a last-write-wins merge:
//
//   - A connected update replaces the stored record wholesale, including the
//     reading (Value and Unit).
//   - A disconnected update refreshes ID, Name and Connected but keeps the
//     last good reading.
//
// Records are created on first sighting and are never removed. The store is
// not persisted; a new process starts with an empty store.
//
// # Usage
//
//	store := sensor.NewStore()
//	unsubscribe := store.Subscribe(func(ev sensor.Event) { ... })
//	defer unsubscribe()
//
//	store.Upsert(rec)
//	store.SetFilter(true)
//	visible := store.VisibleRecords()
//
// # Thread Safety
//
// All Store methods are safe for concurrent use. Subscribers are invoked
// after the store lock is released, on the goroutine that made the change.
package sensor
