package sqlite

import (
	"context"
	"database/sql"
)

// RunMigrate runs migration on a database (exported for testing)
func RunMigrate(ctx context.Context, db *sql.DB) error {
	return migrate(ctx, db)
}

// NewFromDB creates a journal from an existing db connection (exported for testing)
func NewFromDB(db *sql.DB) (*Journal, error) {
	return newFromDB(db, defaultConfig())
}

// SetDBOpener replaces the function used to open connections
func SetDBOpener(fn func(driverName, dataSourceName string) (*sql.DB, error)) {
	dbOpener = fn
}

// ResetDBOpener restores sql.Open
func ResetDBOpener() {
	dbOpener = sql.Open
}
