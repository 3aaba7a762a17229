package kvtable

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"unison-context/internal/domain"
)

func TestKeyValidate(t *testing.T) {
	cases := []struct {
		name  string
		key   Key
		valid bool
	}{
		{name: "profile", key: ProfileKey("person-123"), valid: true},
		{name: "dashboard", key: DashboardKey("person-123"), valid: true},
		{name: "session", key: SessionKey("person-1", "session-1"), valid: true},
		{name: "kv", key: EntryKey("u1:profile", "language"), valid: true},
		{name: "unknown kind", key: Key{Kind: "ledger", Partition: "p1"}},
		{name: "empty partition", key: ProfileKey("  ")},
		{name: "session without sort", key: SessionKey("person-1", "")},
		{name: "profile with sort", key: Key{Kind: domain.KindProfile, Partition: "p1", Sort: "x"}},
		{name: "control character", key: ProfileKey("p1\x00")},
		{name: "too long", key: ProfileKey(strings.Repeat("a", maxKeyPartLen+1))},
		{name: "invalid utf8", key: ProfileKey("p\xff")},
		{name: "not NFC", key: ProfileKey("cafe\u0301")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.key.Validate()
			if tc.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidKey)
		})
	}
}

func TestKeyBindingIsUnambiguous(t *testing.T) {
	a := SessionKey("a/b", "c")
	b := SessionKey("a", "b/c")
	require.Equal(t, a.String(), b.String())
	require.NotEqual(t, a.Binding(), b.Binding())
}

// exerciseTable runs the Table contract against a live backend.
func exerciseTable(t *testing.T, table Table) {
	t.Helper()
	ctx := context.Background()
	key := SessionKey("person-1", "session-1")

	_, err := table.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, table.Put(ctx, key, []byte(`{"v":1}`)))
	got, err := table.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, `{"v":1}`, string(got))

	require.NoError(t, table.Put(ctx, key, []byte(`{"v":2}`)))
	got, err = table.Get(ctx, key)
	require.NoError(t, err)
	require.Equal(t, `{"v":2}`, string(got))

	// Same partition, different kind, is a different row.
	_, err = table.Get(ctx, ProfileKey("person-1"))
	require.ErrorIs(t, err, ErrNotFound)

	for _, k := range []Key{ProfileKey("person-1"), DashboardKey("person-1"), EntryKey("ns", "k")} {
		require.NoError(t, table.Put(ctx, k, []byte(k.String())))
		v, err := table.Get(ctx, k)
		require.NoError(t, err)
		require.Equal(t, k.String(), string(v))
	}

	require.NoError(t, table.Delete(ctx, key))
	_, err = table.Get(ctx, key)
	require.ErrorIs(t, err, ErrNotFound)
	require.ErrorIs(t, table.Delete(ctx, key), ErrNotFound)

	require.ErrorIs(t, table.Put(ctx, Key{Kind: "ledger", Partition: "x"}, nil), ErrInvalidKey)
	_, err = table.Get(ctx, SessionKey("person-1", ""))
	require.ErrorIs(t, err, ErrInvalidKey)
	require.ErrorIs(t, table.Delete(ctx, ProfileKey("")), ErrInvalidKey)

	require.NoError(t, table.Ping(ctx))
}

func TestMemoryTable(t *testing.T) {
	exerciseTable(t, NewMemoryTable())
}

func TestMemoryTable_CopiesValues(t *testing.T) {
	table := NewMemoryTable()
	ctx := context.Background()
	buf := []byte("abc")
	require.NoError(t, table.Put(ctx, ProfileKey("p1"), buf))
	buf[0] = 'x'

	got, err := table.Get(ctx, ProfileKey("p1"))
	require.NoError(t, err)
	require.Equal(t, "abc", string(got))
}

func TestSQLiteTable(t *testing.T) {
	table, err := OpenSQLite(filepath.Join(t.TempDir(), "context.db"))
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })

	exerciseTable(t, table)
}

func TestSQLiteTable_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.db")
	ctx := context.Background()

	first, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, first.Put(ctx, DashboardKey("p1"), []byte(`{"cards":[]}`)))
	require.NoError(t, first.Close())

	second, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	got, err := second.Get(ctx, DashboardKey("p1"))
	require.NoError(t, err)
	require.Equal(t, `{"cards":[]}`, string(got))
}

func TestSQLiteTable_UserVersion(t *testing.T) {
	table, err := OpenSQLite(filepath.Join(t.TempDir(), "context.db"))
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })

	var version int
	require.NoError(t, table.(*sqlTable).db.QueryRow("PRAGMA user_version").Scan(&version))
	require.Equal(t, sqliteSchemaVersion, version)
}

func TestSQLiteTable_MigratesUnversionedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.db")

	legacy, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = legacy.Exec(sqliteSchema)
	require.NoError(t, err)
	_, err = legacy.Exec(`INSERT INTO person_profiles (person_id, profile_json, updated_at) VALUES ('p1', '{"locale":"en"}', 1)`)
	require.NoError(t, err)
	require.NoError(t, legacy.Close())

	table, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { table.Close() })

	var version int
	require.NoError(t, table.(*sqlTable).db.QueryRow("PRAGMA user_version").Scan(&version))
	require.Equal(t, sqliteSchemaVersion, version)

	got, err := table.Get(context.Background(), ProfileKey("p1"))
	require.NoError(t, err)
	require.Equal(t, `{"locale":"en"}`, string(got))
}

func TestSQLiteTable_RejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "context.db")

	future, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = future.Exec("PRAGMA user_version = 99")
	require.NoError(t, err)
	require.NoError(t, future.Close())

	_, err = OpenSQLite(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "newer than supported")
}

func TestOpenSQLite_EmptyPath(t *testing.T) {
	_, err := OpenSQLite("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
