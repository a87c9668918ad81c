package capability

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb/askdb/internal/db"
	"github.com/askdb/askdb/internal/dbexec"
)

func seededRegistry(t *testing.T) *Registry {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "demo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Seed())

	r := NewRegistry(nil)
	RegisterSQL(r, dbexec.New(database.DB))
	RegisterSchema(r, database)
	return r
}

func TestRunSQLQueryAgainstSeedData(t *testing.T) {
	r := seededRegistry(t)

	result := r.Invoke(context.Background(), "req-1", RunSQLQuery, map[string]any{
		"sql": "SELECT name, age FROM users WHERE age > 26 ORDER BY age",
	})
	require.False(t, result.Failed())
	assert.Equal(t, []string{"name", "age"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "Bob Martin", result.Rows[0]["name"])
	assert.Equal(t, "Carol Diaz", result.Rows[1]["name"])
}

func TestRunSQLQueryExecutionFailureKeepsKind(t *testing.T) {
	r := seededRegistry(t)

	result := r.Invoke(context.Background(), "req-2", RunSQLQuery, map[string]any{
		"sql": "SELECT 1; SELECT 2",
	})
	require.True(t, result.Failed())
	assert.Equal(t, string(dbexec.KindMultiStatement), result.Error.Kind)
}

func TestDescribeSchemaCapability(t *testing.T) {
	r := seededRegistry(t)

	result := r.Invoke(context.Background(), "req-3", DescribeSchema, nil)
	require.False(t, result.Failed())
	assert.Equal(t, []string{"table", "column", "type"}, result.Columns)

	tables := make(map[string]bool)
	for _, row := range result.Rows {
		table, _ := row["table"].(string)
		tables[table] = true
	}
	assert.True(t, tables["users"])
	assert.True(t, tables["orders"])
}
