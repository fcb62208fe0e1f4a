package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Migration is one schema step. Up and Down hold single statements run in
// order inside one transaction.
type Migration struct {
	Version     int
	Name        string
	Description string
	Up          []string
	Down        []string
}

// schemaMigrations is the ordered schema history. Append only.
var schemaMigrations = []Migration{
	{
		Version:     1,
		Name:        "initial_schema",
		Description: "Bindings, issues, issue labels and comments",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS repository_bindings (
				project_id    TEXT PRIMARY KEY,
				owner         TEXT NOT NULL,
				name          TEXT NOT NULL,
				full_name     TEXT NOT NULL,
				token         TEXT NOT NULL,
				auto_sync     INTEGER NOT NULL DEFAULT 1,
				sync_interval INTEGER NOT NULL DEFAULT 300,
				is_active     INTEGER NOT NULL DEFAULT 1,
				html_url      TEXT NOT NULL DEFAULT '',
				is_private    INTEGER NOT NULL DEFAULT 0,
				last_sync_at  DATETIME,
				created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS issues (
				id              TEXT PRIMARY KEY,
				project_id      TEXT NOT NULL,
				number          INTEGER NOT NULL,
				title           TEXT NOT NULL,
				description     TEXT NOT NULL DEFAULT '',
				status          TEXT NOT NULL DEFAULT 'OPEN',
				priority        TEXT NOT NULL DEFAULT '',
				severity        TEXT NOT NULL DEFAULT '',
				type            TEXT NOT NULL DEFAULT '',
				assignee        TEXT NOT NULL DEFAULT '',
				milestone_title TEXT NOT NULL DEFAULT '',
				due_date        DATETIME,
				estimated_hours REAL,
				story_points    INTEGER,
				relations       TEXT,
				github_id       INTEGER,
				github_number   INTEGER,
				github_url      TEXT NOT NULL DEFAULT '',
				sync_status     TEXT NOT NULL DEFAULT 'NOT_SYNCED',
				sync_error      TEXT NOT NULL DEFAULT '',
				last_sync_at    DATETIME,
				sync_marker     TEXT NOT NULL DEFAULT '',
				created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				deleted_at      DATETIME,
				UNIQUE(project_id, number),
				UNIQUE(project_id, github_id)
			)`,
			`CREATE TABLE IF NOT EXISTS issue_labels (
				issue_id    TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
				name        TEXT NOT NULL,
				color       TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				PRIMARY KEY(issue_id, name)
			)`,
			`CREATE TABLE IF NOT EXISTS comments (
				id         TEXT PRIMARY KEY,
				issue_id   TEXT NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
				content    TEXT NOT NULL,
				author     TEXT NOT NULL DEFAULT '',
				github_id  INTEGER,
				created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
				UNIQUE(issue_id, github_id)
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS comments`,
			`DROP TABLE IF EXISTS issue_labels`,
			`DROP TABLE IF EXISTS issues`,
			`DROP TABLE IF EXISTS repository_bindings`,
		},
	},
	{
		Version:     2,
		Name:        "add_indexes",
		Description: "Indexes for per-project listing and sync status filters",
		Up: []string{
			`CREATE INDEX IF NOT EXISTS idx_issues_project ON issues(project_id)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_sync_status ON issues(project_id, sync_status)`,
			`CREATE INDEX IF NOT EXISTS idx_issues_updated_at ON issues(updated_at)`,
			`CREATE INDEX IF NOT EXISTS idx_comments_issue ON comments(issue_id)`,
		},
		Down: []string{
			`DROP INDEX IF EXISTS idx_comments_issue`,
			`DROP INDEX IF EXISTS idx_issues_updated_at`,
			`DROP INDEX IF EXISTS idx_issues_sync_status`,
			`DROP INDEX IF EXISTS idx_issues_project`,
		},
	},
	{
		Version:     3,
		Name:        "add_labels_and_milestones",
		Description: "Project label and milestone catalogues mirrored from GitHub",
		Up: []string{
			`CREATE TABLE IF NOT EXISTS labels (
				project_id  TEXT NOT NULL,
				name        TEXT NOT NULL,
				color       TEXT NOT NULL DEFAULT '',
				description TEXT NOT NULL DEFAULT '',
				PRIMARY KEY(project_id, name)
			)`,
			`CREATE TABLE IF NOT EXISTS milestones (
				project_id    TEXT NOT NULL,
				title         TEXT NOT NULL,
				description   TEXT NOT NULL DEFAULT '',
				state         TEXT NOT NULL DEFAULT 'open',
				due_on        DATETIME,
				github_number INTEGER,
				PRIMARY KEY(project_id, title)
			)`,
		},
		Down: []string{
			`DROP TABLE IF EXISTS milestones`,
			`DROP TABLE IF EXISTS labels`,
		},
	},
}

// MigrationManager applies schemaMigrations and records them in schema_migrations
type MigrationManager struct {
	db         *sql.DB
	migrations []Migration
}

func NewMigrationManager(db *sql.DB) *MigrationManager {
	return &MigrationManager{db: db, migrations: schemaMigrations}
}

// GetMigrations returns the known migrations in version order
func (m *MigrationManager) GetMigrations() []Migration {
	return m.migrations
}

// LatestVersion is the version a fully migrated database reports
func (m *MigrationManager) LatestVersion() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// Migrate applies every migration newer than the recorded version
func (m *MigrationManager) Migrate(ctx context.Context) error {
	current, err := m.prepare(ctx)
	if err != nil {
		return err
	}

	for _, mig := range m.migrations {
		if mig.Version <= current {
			continue
		}
		err := m.inTx(ctx, mig.Up, "INSERT INTO schema_migrations (version, name) VALUES (?, ?)", mig.Version, mig.Name)
		if err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// Rollback reverts migrations down to and excluding targetVersion
func (m *MigrationManager) Rollback(ctx context.Context, targetVersion int) error {
	current, err := m.prepare(ctx)
	if err != nil {
		return err
	}
	if targetVersion >= current {
		return fmt.Errorf("target version %d is not less than current version %d", targetVersion, current)
	}

	for i := len(m.migrations) - 1; i >= 0; i-- {
		mig := m.migrations[i]
		if mig.Version > current {
			continue
		}
		if mig.Version <= targetVersion {
			break
		}
		if err := m.inTx(ctx, mig.Down, "DELETE FROM schema_migrations WHERE version = ?", mig.Version); err != nil {
			return fmt.Errorf("failed to rollback migration %d (%s): %w", mig.Version, mig.Name, err)
		}
	}
	return nil
}

// CurrentVersion returns the highest applied version, zero on a new database
func (m *MigrationManager) CurrentVersion(ctx context.Context) (int, error) {
	return m.prepare(ctx)
}

func (m *MigrationManager) prepare(ctx context.Context) (int, error) {
	const ddl = `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if _, err := m.db.ExecContext(ctx, ddl); err != nil {
		return 0, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var version int
	if err := m.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version, nil
}

// inTx runs statements then the bookkeeping query in a single transaction
func (m *MigrationManager) inTx(ctx context.Context, statements []string, record string, args ...interface{}) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range statements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("statement %d: %w", i+1, err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// GetAppliedMigrations lists the recorded migrations oldest first
func (m *MigrationManager) GetAppliedMigrations(ctx context.Context) ([]AppliedMigration, error) {
	rows, err := m.db.QueryContext(ctx, "SELECT version, name, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var applied []AppliedMigration
	for rows.Next() {
		var a AppliedMigration
		if err := rows.Scan(&a.Version, &a.Name, &a.AppliedAt); err != nil {
			return nil, err
		}
		applied = append(applied, a)
	}
	return applied, rows.Err()
}

// AppliedMigration is one row of schema_migrations
type AppliedMigration struct {
	Version   int       `json:"version"`
	Name      string    `json:"name"`
	AppliedAt time.Time `json:"applied_at"`
}
