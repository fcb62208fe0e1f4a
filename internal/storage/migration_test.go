package storage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openMigrationDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "migrations.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name).Scan(&n))
	return n == 1
}

func TestMigrationManager_VersionsAscend(t *testing.T) {
	migrations := NewMigrationManager(nil).GetMigrations()
	require.NotEmpty(t, migrations)
	for i, m := range migrations {
		assert.Equal(t, i+1, m.Version, "versions are contiguous")
		assert.NotEmpty(t, m.Up, "migration %s has no statements", m.Name)
		assert.Len(t, m.Down, len(m.Up), "migration %s is not reversible statement for statement", m.Name)
	}
}

func TestMigrationManager_Migrate(t *testing.T) {
	db := openMigrationDB(t)
	manager := NewMigrationManager(db)
	ctx := context.Background()

	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Zero(t, version)

	require.NoError(t, manager.Migrate(ctx))

	for _, table := range []string{"repository_bindings", "issues", "issue_labels", "comments", "labels", "milestones"} {
		assert.True(t, tableExists(t, db, table), table)
	}

	applied, err := manager.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	require.Len(t, applied, 3)
	assert.Equal(t, "initial_schema", applied[0].Name)
	assert.False(t, applied[0].AppliedAt.IsZero())

	version, err = manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, manager.LatestVersion(), version)

	_, err = db.Exec(`INSERT INTO issues (id, project_id, number, title) VALUES ('i1', 'web', 1, 'Login bug')`)
	require.NoError(t, err)
	var status string
	require.NoError(t, db.QueryRow(`SELECT sync_status FROM issues WHERE id = 'i1'`).Scan(&status))
	assert.Equal(t, "NOT_SYNCED", status)

	require.NoError(t, manager.Migrate(ctx), "re-running is a no-op")
	applied, err = manager.GetAppliedMigrations(ctx)
	require.NoError(t, err)
	assert.Len(t, applied, 3)
}

func TestMigrationManager_FailedMigrationIsAtomic(t *testing.T) {
	db := openMigrationDB(t)
	manager := &MigrationManager{db: db, migrations: []Migration{
		{Version: 1, Name: "ok", Up: []string{`CREATE TABLE first (id INTEGER)`}},
		{Version: 2, Name: "broken", Up: []string{
			`CREATE TABLE second (id INTEGER)`,
			`CREATE TABLE first (id INTEGER)`,
		}},
	}}
	ctx := context.Background()

	err := manager.Migrate(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "migration 2 (broken)")
	assert.Contains(t, err.Error(), "statement 2")

	assert.True(t, tableExists(t, db, "first"))
	assert.False(t, tableExists(t, db, "second"), "partial migration is rolled back")
	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestMigrationManager_Rollback(t *testing.T) {
	db := openMigrationDB(t)
	manager := NewMigrationManager(db)
	ctx := context.Background()

	require.NoError(t, manager.Migrate(ctx))
	require.NoError(t, manager.Rollback(ctx, 2))

	assert.False(t, tableExists(t, db, "milestones"))
	assert.False(t, tableExists(t, db, "labels"))
	assert.True(t, tableExists(t, db, "issues"))

	version, err := manager.CurrentVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	assert.Error(t, manager.Rollback(ctx, 5), "rolling forward is refused")

	require.NoError(t, manager.Migrate(ctx))
	assert.True(t, tableExists(t, db, "milestones"), "migrate restores rolled back steps")
}
