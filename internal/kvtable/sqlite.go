package kvtable

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteMigrations[i] moves a database from user_version i to i+1.
//
//	1 - person_profiles, dashboard_state, conversation_sessions, kv_entries
var sqliteMigrations = []string{
	sqliteSchema,
}

var sqliteSchemaVersion = len(sqliteMigrations)

// OpenSQLite creates or opens the embedded database file at path and
// applies the schema. Use ":memory:" for a throwaway database.
//
// The connection is configured with WAL journaling, NORMAL synchronous mode
// and a 5 second busy timeout. SQLite allows one writer at a time, so the
// pool is limited to a single connection.
func OpenSQLite(path string) (Table, error) {
	if path == "" {
		return nil, fmt.Errorf("kvtable: sqlite path must not be empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("kvtable: open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("kvtable: connect sqlite: %w: %w", ErrStorageUnavailable, err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySQLitePragmas(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := applySQLiteSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return newSQLTable(db, sqliteDialect), nil
}

func applySQLitePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("kvtable: execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySQLiteSchema reads user_version and runs every migration above it,
// each in its own transaction together with the version bump.
func applySQLiteSchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("kvtable: get user_version: %w", err)
	}
	if version > sqliteSchemaVersion {
		return fmt.Errorf("kvtable: sqlite schema version %d is newer than supported version %d", version, sqliteSchemaVersion)
	}

	for v := version; v < sqliteSchemaVersion; v++ {
		if err := migrateSQLite(db, v+1, sqliteMigrations[v]); err != nil {
			return err
		}
	}
	return nil
}

func migrateSQLite(db *sql.DB, to int, stmt string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("kvtable: migrate to v%d: %w", to, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(stmt); err != nil {
		return fmt.Errorf("kvtable: migrate to v%d: %w", to, err)
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", to)); err != nil {
		return fmt.Errorf("kvtable: set user_version %d: %w", to, err)
	}
	return tx.Commit()
}
