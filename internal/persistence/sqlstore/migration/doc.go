// Package migration applies versioned schema migrations to the booking store.
//
// Migration files are read from an fs.FS (normally embedded in the binary) and
// follow the naming convention {version}_{description}.sql, for example
// "001_initial_schema.sql". Each file runs in its own transaction, and applied
// versions are tracked with their checksums in the schema_migrations table so
// a file edited after it was applied is reported instead of silently skipped.
//
// Example usage:
//
//	manager := NewMigrationManager(NewFileScanner(), NewExecutor(db), files, "sqlite", logger)
//	if err := manager.RunMigrations(ctx); err != nil {
//		return err
//	}
package migration
