package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := Open(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createTable(name string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec("CREATE TABLE " + name + " (id INTEGER PRIMARY KEY)")
		return err
	}
}

func dropTable(name string) func(*sql.Tx) error {
	return func(tx *sql.Tx) error {
		_, err := tx.Exec("DROP TABLE " + name)
		return err
	}
}

func tableExists(t *testing.T, db *sqlx.DB, name string) bool {
	t.Helper()
	var count int
	require.NoError(t, db.Get(&count, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name))
	return count == 1
}

func TestOpen(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, VerifyConfiguration(db))
}

func TestOpen_CreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "nested", "audit.db")

	db, err := Open(context.Background(), dbPath)
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
}

func TestDefaultDBPath(t *testing.T) {
	t.Run("with base path override", func(t *testing.T) {
		t.Setenv(BasePathEnv, "/custom/path")
		path, err := DefaultDBPath()
		require.NoError(t, err)
		assert.Equal(t, "/custom/path/audit.db", path)
	})

	t.Run("without override", func(t *testing.T) {
		t.Setenv(BasePathEnv, "")
		path, err := DefaultDBPath()
		require.NoError(t, err)
		home, _ := os.UserHomeDir()
		assert.Equal(t, filepath.Join(home, ".skillgate", "audit.db"), path)
	})
}

func TestMigrationRunner(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	migrations := []Migration{
		{Version: 20260101000002, Description: "second", Up: createTable("second"), Down: dropTable("second")},
		{Version: 20260101000001, Description: "first", Up: createTable("first"), Down: dropTable("first")},
	}

	require.NoError(t, runner.Run(ctx, migrations))
	assert.True(t, tableExists(t, db, "first"))
	assert.True(t, tableExists(t, db, "second"))

	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int64{20260101000001, 20260101000002}, versions)

	t.Run("idempotent", func(t *testing.T) {
		require.NoError(t, runner.Run(ctx, migrations))
		versions, err := runner.AppliedVersions(ctx)
		require.NoError(t, err)
		assert.Len(t, versions, 2)
	})

	t.Run("rollback latest", func(t *testing.T) {
		require.NoError(t, runner.Rollback(ctx, migrations))
		assert.False(t, tableExists(t, db, "second"))
		assert.True(t, tableExists(t, db, "first"))

		versions, err := runner.AppliedVersions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int64{20260101000001}, versions)
	})
}

func TestMigrationRunner_FailedMigrationIsNotRecorded(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	err := runner.Run(ctx, []Migration{{
		Version:     20260101000001,
		Description: "broken",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec("CREATE TABLE broken (")
			return err
		},
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	versions, err := runner.AppliedVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, versions)
}

func TestMigrationRunner_RollbackWithoutDown(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	runner := NewMigrationRunner(db)

	migrations := []Migration{{Version: 20260101000001, Description: "one way", Up: createTable("one_way")}}
	require.NoError(t, runner.Run(ctx, migrations))

	err := runner.Rollback(ctx, migrations)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rollback function")
}
