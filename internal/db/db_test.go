package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openSeeded(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "demo.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, database.Seed())
	return database
}

func TestSeedIsIdempotent(t *testing.T) {
	database := openSeeded(t)
	require.NoError(t, database.Seed())

	var users, orders int
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM users").Scan(&users))
	require.NoError(t, database.QueryRow("SELECT COUNT(*) FROM orders").Scan(&orders))
	assert.Equal(t, 3, users)
	assert.Equal(t, 4, orders)
}

func TestDescribeSchema(t *testing.T) {
	database := openSeeded(t)

	cols, err := database.DescribeSchema(context.Background())
	require.NoError(t, err)

	byTable := make(map[string][]string)
	for _, c := range cols {
		byTable[c.Table] = append(byTable[c.Table], c.Column)
	}
	assert.Equal(t, []string{"id", "user_id", "product_name", "price", "order_date"}, byTable["orders"])
	assert.Equal(t, []string{"id", "name", "age", "email"}, byTable["users"])
}

func TestDescribeSchemaHidesInternalTables(t *testing.T) {
	database := openSeeded(t)

	cols, err := database.DescribeSchema(context.Background())
	require.NoError(t, err)
	for _, c := range cols {
		assert.NotContains(t, c.Table, "sqlite_")
	}
}

func TestOpenCreatesDataDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "demo.db")
	database, err := Open(path)
	require.NoError(t, err)
	defer database.Close()
	assert.NoError(t, database.Ping())
}
