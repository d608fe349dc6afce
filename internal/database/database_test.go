package database

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAndMigrate_File(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "history.db")

	db, err := Open(ctx, path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))
	// Re-running is a no-op.
	require.NoError(t, Migrate(ctx, db))

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	var mode string
	require.NoError(t, db.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestOpenAndMigrate_Memory(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(ctx, db))

	for _, table := range []string{"uploads", "passes"} {
		var name string
		err := db.QueryRowContext(ctx,
			"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		assert.NoError(t, err, "table %s missing", table)
	}
}

func TestVersion_Unmigrated(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	v, err := Version(ctx, db)
	require.NoError(t, err)
	assert.Zero(t, v)
}
