package kvtable

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseURL(t *testing.T) {
	cases := []struct {
		raw      string
		backend  Backend
		location string
	}{
		{raw: "sqlite:unison-context.db", backend: BackendSQLite, location: "unison-context.db"},
		{raw: "sqlite:///var/lib/unison/context.db", backend: BackendSQLite, location: "/var/lib/unison/context.db"},
		{raw: "file:context.db", backend: BackendSQLite, location: "context.db"},
		{raw: "postgres://u:p@db:5432/context?sslmode=disable", backend: BackendPostgres, location: "postgres://u:p@db:5432/context?sslmode=disable"},
		{raw: "dynamodb://context-table", backend: BackendDynamoDB, location: "context-table"},
		{raw: "redis://localhost:6379/0", backend: BackendRedis, location: "redis://localhost:6379/0"},
		{raw: "memory:", backend: BackendMemory},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			target, err := ParseURL(tc.raw)
			require.NoError(t, err)
			require.Equal(t, tc.backend, target.Backend)
			require.Equal(t, tc.location, target.Location)
		})
	}
}

func TestParseURL_Errors(t *testing.T) {
	for _, raw := range []string{"", "context.db", "mysql://db", "sqlite:", "dynamodb://"} {
		_, err := ParseURL(raw)
		require.Error(t, err, raw)
	}
}

func TestOpen_SQLiteAndMemory(t *testing.T) {
	ctx := context.Background()

	table, err := Open(ctx, "sqlite:"+filepath.Join(t.TempDir(), "c.db"))
	require.NoError(t, err)
	require.NoError(t, table.Ping(ctx))
	require.NoError(t, table.Close())

	table, err = Open(ctx, "memory:")
	require.NoError(t, err)
	require.IsType(t, &MemoryTable{}, table)
}
