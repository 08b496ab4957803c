// Package database provides SQLite connectivity for the edge node's
// persistent store.
//
// The node persists only small, frequently rewritten records (lifecycle
// state, boot counters, component configuration, watchdog diagnostics).
// They live in a namespaced key/value table created by the embedded
// migrations; see internal/storage for the typed access layer.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//   - The emergency authorisation token is stored here; the file must not be
//     world-readable
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
