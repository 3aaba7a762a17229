package kvtable

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/lib/pq"
)

//go:embed schema_postgres.sql
var postgresSchema string

// OpenPostgres connects to the relational backend at dsn and creates the
// tables if they are missing.
func OpenPostgres(ctx context.Context, dsn string) (Table, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("kvtable: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvtable: connect postgres: %w: %w", ErrStorageUnavailable, err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvtable: apply postgres schema: %w", err)
	}
	return newSQLTable(db, postgresDialect), nil
}
