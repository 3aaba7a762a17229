package kvtable

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"unison-context/internal/domain"
)

// layout maps a record kind onto its relational table.
type layout struct {
	table   string
	keyCols []string
	payload string
}

var layouts = map[domain.Kind]layout{
	domain.KindProfile:   {table: "person_profiles", keyCols: []string{"person_id"}, payload: "profile_json"},
	domain.KindDashboard: {table: "dashboard_state", keyCols: []string{"person_id"}, payload: "state_json"},
	// The whole session document lives in messages_json. response_json and
	// summary stay NULL; they exist for compatibility with older readers.
	domain.KindSession: {table: "conversation_sessions", keyCols: []string{"person_id", "session_id"}, payload: "messages_json"},
	domain.KindKV:      {table: "kv_entries", keyCols: []string{"namespace", "entry_key"}, payload: "value"},
}

// dialect captures the few differences between the SQL engines we target.
type dialect struct {
	name        string
	placeholder func(n int) string
}

var (
	sqliteDialect   = dialect{name: "sqlite", placeholder: func(int) string { return "?" }}
	postgresDialect = dialect{name: "postgres", placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }}
)

type statements struct {
	get, put, del string
}

func buildStatements(d dialect, l layout) statements {
	var where []string
	for i, c := range l.keyCols {
		where = append(where, fmt.Sprintf("%s = %s", c, d.placeholder(i+1)))
	}
	whereClause := strings.Join(where, " AND ")

	cols := append(append([]string{}, l.keyCols...), l.payload, "updated_at")
	values := make([]string, len(cols))
	for i := range cols {
		values[i] = d.placeholder(i + 1)
	}

	return statements{
		get: fmt.Sprintf("SELECT %s FROM %s WHERE %s", l.payload, l.table, whereClause),
		put: fmt.Sprintf(
			"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at",
			l.table, strings.Join(cols, ", "), strings.Join(values, ", "),
			strings.Join(l.keyCols, ", "), l.payload, l.payload,
		),
		del: fmt.Sprintf("DELETE FROM %s WHERE %s", l.table, whereClause),
	}
}

// sqlTable implements Table over database/sql for SQLite and PostgreSQL.
type sqlTable struct {
	db    *sql.DB
	stmts map[domain.Kind]statements
	now   func() time.Time
}

func newSQLTable(db *sql.DB, d dialect) *sqlTable {
	stmts := make(map[domain.Kind]statements, len(layouts))
	for kind, l := range layouts {
		stmts[kind] = buildStatements(d, l)
	}
	return &sqlTable{db: db, stmts: stmts, now: time.Now}
}

func keyArgs(key Key) []any {
	if key.Sort == "" {
		return []any{key.Partition}
	}
	return []any{key.Partition, key.Sort}
}

// Get implements Table.
func (t *sqlTable) Get(ctx context.Context, key Key) ([]byte, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}
	var payload []byte
	err := t.db.QueryRowContext(ctx, t.stmts[key.Kind].get, keyArgs(key)...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("get", key, err)
	}
	return payload, nil
}

// Put implements Table.
func (t *sqlTable) Put(ctx context.Context, key Key, value []byte) error {
	if err := key.Validate(); err != nil {
		return err
	}
	args := append(keyArgs(key), string(value), epochSeconds(t.now()))
	if _, err := t.db.ExecContext(ctx, t.stmts[key.Kind].put, args...); err != nil {
		return unavailable("put", key, err)
	}
	return nil
}

// Delete implements Table.
func (t *sqlTable) Delete(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	res, err := t.db.ExecContext(ctx, t.stmts[key.Kind].del, keyArgs(key)...)
	if err != nil {
		return unavailable("delete", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("delete", key, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Ping implements Table.
func (t *sqlTable) Ping(ctx context.Context) error {
	if err := t.db.PingContext(ctx); err != nil {
		return fmt.Errorf("kvtable: ping: %w: %w", ErrStorageUnavailable, err)
	}
	return nil
}

// Close implements Table.
func (t *sqlTable) Close() error {
	if t.db == nil {
		return nil
	}
	return t.db.Close()
}

func epochSeconds(ts time.Time) float64 {
	return float64(ts.UnixMicro()) / 1e6
}
