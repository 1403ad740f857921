package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/semver/v3"
)

const (
	// CurrentSchemaVersion tracks the database schema version
	CurrentSchemaVersion = "1.1.0"
)

// Migration represents a database schema migration
type Migration struct {
	Version string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: "1.0.0",
		Up:      migrationV1Up,
		Down:    migrationV1Down,
	},
	{
		Version: "1.1.0",
		Up:      migrationV11Up,
		Down:    migrationV11Down,
	},
}

const migrationV1Up = `
-- Tenants and their knowledge base build state
CREATE TABLE IF NOT EXISTS tenants (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    seed_urls TEXT NOT NULL DEFAULT '[]',
    ai_enabled BOOLEAN NOT NULL DEFAULT 0,
    namespace_id TEXT NOT NULL UNIQUE,
    build_status TEXT NOT NULL DEFAULT 'not_started',
    last_scraped_at TIMESTAMP,
    error_message TEXT,
    document_count INTEGER NOT NULL DEFAULT 0,
    progress_json TEXT,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tenants_status ON tenants(build_status);

-- Generation bookkeeping per vector namespace
CREATE TABLE IF NOT EXISTS namespaces (
    namespace TEXT PRIMARY KEY,
    active_generation INTEGER NOT NULL DEFAULT 0,
    last_generation INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

-- Chunks with their embeddings
CREATE TABLE IF NOT EXISTS chunks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace TEXT NOT NULL,
    generation INTEGER NOT NULL,
    chunk_index INTEGER NOT NULL,
    text TEXT NOT NULL,
    source_url TEXT NOT NULL,
    title TEXT,
    header_path TEXT NOT NULL DEFAULT '[]',
    word_count INTEGER NOT NULL,
    char_count INTEGER NOT NULL,
    content_hash BLOB NOT NULL,
    vector BLOB NOT NULL,
    dimension INTEGER NOT NULL,
    model TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_chunks_namespace ON chunks(namespace, generation);
CREATE INDEX IF NOT EXISTS idx_chunks_source ON chunks(namespace, source_url);
`

const migrationV1Down = `
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS namespaces;
DROP TABLE IF EXISTS tenants;
`

const migrationV11Up = `
-- Documents uploaded for a tenant, indexed after the crawl
CREATE TABLE IF NOT EXISTS uploads (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    tenant_id INTEGER NOT NULL,
    name TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (tenant_id) REFERENCES tenants(id) ON DELETE CASCADE,
    UNIQUE(tenant_id, name)
);

CREATE INDEX IF NOT EXISTS idx_uploads_tenant ON uploads(tenant_id);
`

const migrationV11Down = `
DROP TABLE IF EXISTS uploads;
`

const schemaVersionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

// ApplyMigrations brings the schema up to CurrentSchemaVersion. Each pending
// migration runs in its own transaction together with its version record.
func ApplyMigrations(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	applied, err := latestVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	current := semver.MustParse("0.0.0")
	if applied != "" {
		if current, err = semver.NewVersion(applied); err != nil {
			return fmt.Errorf("invalid current schema version %s: %w", applied, err)
		}
	}

	for _, m := range AllMigrations {
		v, err := semver.NewVersion(m.Version)
		if err != nil {
			return fmt.Errorf("invalid migration version %s: %w", m.Version, err)
		}
		if !current.LessThan(v) {
			continue
		}
		if err := runMigration(ctx, db, m.Up, "INSERT INTO schema_version (version) VALUES (?)", m.Version); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.Version, err)
		}
		current = v
	}
	return nil
}

// RollbackMigration reverts the most recent migration
func RollbackMigration(ctx context.Context, db *sql.DB) error {
	applied, err := latestVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to read schema_version: %w", err)
	}
	if applied == "" {
		return fmt.Errorf("no migrations to rollback: %w", sql.ErrNoRows)
	}

	for _, m := range AllMigrations {
		if m.Version != applied {
			continue
		}
		if err := runMigration(ctx, db, m.Down, "DELETE FROM schema_version WHERE version = ?", m.Version); err != nil {
			return fmt.Errorf("failed to rollback migration %s: %w", m.Version, err)
		}
		return nil
	}
	return fmt.Errorf("migration %s not found", applied)
}

// runMigration executes script and the version bookkeeping statement atomically
func runMigration(ctx context.Context, db *sql.DB, script, record, version string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// latestVersion returns the highest recorded schema version, or "" when none.
// applied_at has one second resolution, so versions are compared semantically.
func latestVersion(ctx context.Context, db *sql.DB) (string, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_version")
	if err != nil {
		return "", err
	}
	defer func() { _ = rows.Close() }()

	var latest *semver.Version
	var latestStr string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return "", err
		}
		parsed, err := semver.NewVersion(v)
		if err != nil {
			return "", fmt.Errorf("invalid schema version %s: %w", v, err)
		}
		if latest == nil || parsed.GreaterThan(latest) {
			latest, latestStr = parsed, v
		}
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return latestStr, nil
}
