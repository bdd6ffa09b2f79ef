// Package database provides SQLite connectivity for sensorlink.
//
// This package manages:
//   - The connection, with WAL mode for concurrent reads
//   - Schema migrations from an fs.FS (see the migrations package)
//   - Connection pool sizing for SQLite's single writer
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is chmod 0600 after opening
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration Strategy:
//
// Migrations are additive. New columns must be NULLABLE or carry a DEFAULT,
// and each .up.sql ships with a .down.sql so MigrateDown can reverse it.
package database
