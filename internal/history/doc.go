// Package history journals sensor records to SQLite.
//
// Every record the store actually changes is appended to the
// sensor_history table. The journal answers "what did this sensor report
// recently" and is pruned by age. It is never read back to seed the
// in-memory store, which always starts empty.
//
// Usage:
//
//	repo := history.NewSQLiteRepository(db.DB, nil)
//	_ = repo.Append(ctx, rec)
//	entries, _ := repo.Recent(ctx, "s1", 20)
//
//	pruner := history.NewPruner(repo, 7*24*time.Hour, time.Hour)
//	go pruner.Run(ctx)
package history
