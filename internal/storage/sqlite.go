package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dshills/sitekb-mcp/pkg/types"
)

// ErrUnknownGeneration is returned when writing to or activating a generation
// that is not the namespace's latest staged one
var ErrUnknownGeneration = errors.New("unknown namespace generation")

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Wait for writers in other processes sharing the file
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// inTx runs fn in a transaction, committing on success
func (s *SQLiteStorage) inTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Tenant operations

const tenantColumns = `
	id, name, seed_urls, ai_enabled, namespace_id, build_status, last_scraped_at,
	error_message, document_count, progress_json, updated_at`

// UpsertTenant creates the tenant or updates its name and seed URLs
func (s *SQLiteStorage) UpsertTenant(ctx context.Context, tenant *Tenant) (*types.TenantState, error) {
	if tenant.ID <= 0 {
		return nil, types.ErrInvalidTenantID
	}
	seeds, err := json.Marshal(nonNil(tenant.SeedURLs))
	if err != nil {
		return nil, fmt.Errorf("failed to encode seed urls: %w", err)
	}

	query := `
		INSERT INTO tenants (id, name, seed_urls, namespace_id, build_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			seed_urls = excluded.seed_urls,
			updated_at = excluded.updated_at
	`
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		tenant.ID, tenant.Name, string(seeds), types.NamespaceFor(tenant.ID, tenant.Name),
		string(types.StatusNotStarted), now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert tenant: %w", err)
	}
	return s.GetTenant(ctx, tenant.ID)
}

// getTenantWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getTenantWithQuerier(ctx context.Context, q querier, tenantID int64) (*types.TenantState, error) {
	row := q.QueryRowContext(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE id = ?", tenantID)
	state, err := scanTenant(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("tenant %d: %w", tenantID, types.ErrTenantNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return state, nil
}

func (s *SQLiteStorage) GetTenant(ctx context.Context, tenantID int64) (*types.TenantState, error) {
	return s.getTenantWithQuerier(ctx, s.querier(), tenantID)
}

func (s *SQLiteStorage) ListTenantsByStatus(ctx context.Context, status types.BuildStatus) ([]*types.TenantState, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+tenantColumns+" FROM tenants WHERE build_status = ? ORDER BY id", string(status))
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tenants []*types.TenantState
	for rows.Next() {
		state, err := scanTenant(rows)
		if err != nil {
			return nil, err
		}
		tenants = append(tenants, state)
	}
	return tenants, rows.Err()
}

// SaveBuildState writes the build columns of state
func (s *SQLiteStorage) SaveBuildState(ctx context.Context, state *types.TenantState) error {
	n, err := s.writeBuildState(ctx, state, "")
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tenant %d: %w", state.TenantID, types.ErrTenantNotFound)
	}
	return nil
}

// ClaimBuild writes state, which must be building, only when no other build
// owns the row. A building row last updated before staleBefore is treated as
// abandoned and may be claimed.
func (s *SQLiteStorage) ClaimBuild(ctx context.Context, state *types.TenantState, staleBefore time.Time) error {
	if state.Status != types.StatusBuilding {
		return fmt.Errorf("claim with status %q: %w", state.Status, types.ErrInvalidTransition)
	}
	n, err := s.writeBuildState(ctx, state,
		"AND (build_status != ? OR updated_at < ?)", string(types.StatusBuilding), staleBefore.UTC())
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetTenant(ctx, state.TenantID); err != nil {
		return err
	}
	return fmt.Errorf("tenant %d: %w", state.TenantID, types.ErrBuildInProgress)
}

// writeBuildState updates the build columns of the tenant row matching cond
// and returns the number of rows written
func (s *SQLiteStorage) writeBuildState(ctx context.Context, state *types.TenantState, cond string, condArgs ...interface{}) (int64, error) {
	if err := state.Validate(); err != nil {
		return 0, err
	}

	var progress sql.NullString
	if state.Progress != nil {
		data, err := json.Marshal(state.Progress)
		if err != nil {
			return 0, fmt.Errorf("failed to encode progress: %w", err)
		}
		progress = sql.NullString{String: string(data), Valid: true}
	}
	var lastScraped sql.NullTime
	if state.LastScrapedAt != nil {
		lastScraped = sql.NullTime{Time: state.LastScrapedAt.UTC(), Valid: true}
	}
	var errMsg sql.NullString
	if state.ErrorMessage != "" {
		errMsg = sql.NullString{String: state.ErrorMessage, Valid: true}
	}

	query := `
		UPDATE tenants
		SET build_status = ?, ai_enabled = ?, last_scraped_at = ?, error_message = ?,
		    document_count = ?, progress_json = ?, updated_at = ?
		WHERE id = ? ` + cond
	now := time.Now().UTC()
	args := append([]interface{}{
		string(state.Status), state.AIEnabled, lastScraped, errMsg,
		state.DocumentCount, progress, now, state.TenantID,
	}, condArgs...)
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to save build state: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		state.UpdatedAt = now
	}
	return n, nil
}

// SetAIEnabled writes only the ai_enabled column
func (s *SQLiteStorage) SetAIEnabled(ctx context.Context, tenantID int64, enabled bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE tenants SET ai_enabled = ?, updated_at = ? WHERE id = ?",
		enabled, time.Now().UTC(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to update ai_enabled: %w", err)
	}
	return requireRow(result, tenantID)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTenant(row rowScanner) (*types.TenantState, error) {
	var (
		state       types.TenantState
		seeds       string
		status      string
		lastScraped sql.NullTime
		errMsg      sql.NullString
		progress    sql.NullString
	)
	err := row.Scan(&state.TenantID, &state.Name, &seeds, &state.AIEnabled, &state.NamespaceID,
		&status, &lastScraped, &errMsg, &state.DocumentCount, &progress, &state.UpdatedAt)
	if err != nil {
		return nil, err
	}

	state.Status = types.BuildStatus(status)
	if err := json.Unmarshal([]byte(seeds), &state.SeedURLs); err != nil {
		return nil, fmt.Errorf("tenant %d: corrupt seed urls: %w", state.TenantID, err)
	}
	if lastScraped.Valid {
		t := lastScraped.Time
		state.LastScrapedAt = &t
	}
	state.ErrorMessage = errMsg.String
	if progress.Valid && progress.String != "" {
		var p types.BuildProgress
		if err := json.Unmarshal([]byte(progress.String), &p); err != nil {
			return nil, fmt.Errorf("tenant %d: corrupt progress: %w", state.TenantID, err)
		}
		state.Progress = &p
	}
	return &state, nil
}

func requireRow(result sql.Result, tenantID int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("tenant %d: %w", tenantID, types.ErrTenantNotFound)
	}
	return nil
}

// Upload operations

// AddUpload stores an uploaded document, replacing one with the same name
func (s *SQLiteStorage) AddUpload(ctx context.Context, upload *Upload) error {
	if upload.Name == "" || upload.Text == "" {
		return types.ErrEmptyContent
	}
	return s.inTx(ctx, func(q querier) error {
		if _, err := s.getTenantWithQuerier(ctx, q, upload.TenantID); err != nil {
			return err
		}

		query := `
			INSERT INTO uploads (tenant_id, name, text, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(tenant_id, name) DO UPDATE SET
				text = excluded.text,
				created_at = excluded.created_at
		`
		now := time.Now().UTC()
		if _, err := q.ExecContext(ctx, query, upload.TenantID, upload.Name, upload.Text, now); err != nil {
			return fmt.Errorf("failed to add upload: %w", err)
		}

		// LastInsertId is unreliable after the conflict branch
		err := q.QueryRowContext(ctx, "SELECT id FROM uploads WHERE tenant_id = ? AND name = ?",
			upload.TenantID, upload.Name).Scan(&upload.ID)
		if err != nil {
			return fmt.Errorf("failed to read upload id: %w", err)
		}
		upload.CreatedAt = now
		return nil
	})
}

// ListUploads returns the tenant's uploads in upload order
func (s *SQLiteStorage) ListUploads(ctx context.Context, tenantID int64) ([]*Upload, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, tenant_id, name, text, created_at FROM uploads WHERE tenant_id = ? ORDER BY id", tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploads: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var uploads []*Upload
	for rows.Next() {
		var u Upload
		if err := rows.Scan(&u.ID, &u.TenantID, &u.Name, &u.Text, &u.CreatedAt); err != nil {
			return nil, err
		}
		uploads = append(uploads, &u)
	}
	return uploads, rows.Err()
}

// Namespace operations

// BeginGeneration discards staged rows and allocates the next generation
func (s *SQLiteStorage) BeginGeneration(ctx context.Context, namespace string) (int64, error) {
	var generation int64
	err := s.inTx(ctx, func(q querier) error {
		now := time.Now().UTC()
		_, err := q.ExecContext(ctx, `
			INSERT INTO namespaces (namespace, active_generation, last_generation, updated_at)
			VALUES (?, 0, 1, ?)
			ON CONFLICT(namespace) DO UPDATE SET
				last_generation = last_generation + 1,
				updated_at = excluded.updated_at
		`, namespace, now)
		if err != nil {
			return fmt.Errorf("failed to allocate generation: %w", err)
		}

		var active int64
		err = q.QueryRowContext(ctx,
			"SELECT active_generation, last_generation FROM namespaces WHERE namespace = ?", namespace,
		).Scan(&active, &generation)
		if err != nil {
			return fmt.Errorf("failed to read generation: %w", err)
		}

		_, err = q.ExecContext(ctx,
			"DELETE FROM chunks WHERE namespace = ? AND generation != ?", namespace, active)
		if err != nil {
			return fmt.Errorf("failed to clear staged chunks: %w", err)
		}
		return nil
	})
	return generation, err
}

// insertChunksWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) insertChunksWithQuerier(ctx context.Context, q querier, namespace string, generation int64, chunks []ChunkRecord) error {
	query := `
		INSERT INTO chunks (namespace, generation, chunk_index, text, source_url, title, header_path,
		                    word_count, char_count, content_hash, vector, dimension, model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	now := time.Now().UTC()
	for i := range chunks {
		rec := &chunks[i]
		if err := rec.Chunk.Validate(); err != nil {
			return fmt.Errorf("chunk %d: %w", rec.Chunk.ChunkIndex, err)
		}
		if len(rec.Vector) == 0 {
			return fmt.Errorf("chunk %d: missing vector", rec.Chunk.ChunkIndex)
		}
		headers, err := json.Marshal(nonNil(rec.Chunk.HeaderPath))
		if err != nil {
			return fmt.Errorf("failed to encode header path: %w", err)
		}
		_, err = q.ExecContext(ctx, query,
			namespace, generation, rec.Chunk.ChunkIndex, rec.Chunk.Text, rec.Chunk.SourceURL,
			rec.Chunk.Title, string(headers), rec.Chunk.WordCount, rec.Chunk.CharCount,
			rec.Chunk.ContentHash[:], serializeVector(rec.Vector), len(rec.Vector), rec.Model, now)
		if err != nil {
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return nil
}

// InsertChunks writes a batch into a staged generation atomically
func (s *SQLiteStorage) InsertChunks(ctx context.Context, namespace string, generation int64, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	return s.inTx(ctx, func(q querier) error {
		var last int64
		err := q.QueryRowContext(ctx,
			"SELECT last_generation FROM namespaces WHERE namespace = ?", namespace).Scan(&last)
		if err == sql.ErrNoRows || (err == nil && last != generation) {
			return fmt.Errorf("%s generation %d: %w", namespace, generation, ErrUnknownGeneration)
		}
		if err != nil {
			return fmt.Errorf("failed to read generation: %w", err)
		}
		return s.insertChunksWithQuerier(ctx, q, namespace, generation, chunks)
	})
}

// ActivateGeneration swaps the visible generation and drops all others
func (s *SQLiteStorage) ActivateGeneration(ctx context.Context, namespace string, generation int64) (int, error) {
	var count int
	err := s.inTx(ctx, func(q querier) error {
		result, err := q.ExecContext(ctx,
			"UPDATE namespaces SET active_generation = ?, updated_at = ? WHERE namespace = ? AND last_generation = ?",
			generation, time.Now().UTC(), namespace, generation)
		if err != nil {
			return fmt.Errorf("failed to activate generation: %w", err)
		}
		if n, _ := result.RowsAffected(); n == 0 {
			return fmt.Errorf("%s generation %d: %w", namespace, generation, ErrUnknownGeneration)
		}

		_, err = q.ExecContext(ctx,
			"DELETE FROM chunks WHERE namespace = ? AND generation != ?", namespace, generation)
		if err != nil {
			return fmt.Errorf("failed to delete old generations: %w", err)
		}

		return q.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM chunks WHERE namespace = ? AND generation = ?", namespace, generation,
		).Scan(&count)
	})
	return count, err
}

// ActiveGeneration returns the visible generation, 0 when nothing was activated
func (s *SQLiteStorage) ActiveGeneration(ctx context.Context, namespace string) (int64, error) {
	var active int64
	err := s.db.QueryRowContext(ctx,
		"SELECT active_generation FROM namespaces WHERE namespace = ?", namespace).Scan(&active)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read active generation: %w", err)
	}
	return active, nil
}

// CountChunks returns the number of visible chunks of the namespace
func (s *SQLiteStorage) CountChunks(ctx context.Context, namespace string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM chunks c
		INNER JOIN namespaces n ON n.namespace = c.namespace AND n.active_generation = c.generation
		WHERE c.namespace = ?
	`, namespace).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count chunks: %w", err)
	}
	return count, nil
}

// SearchNamespace returns the limit chunks most similar to vector
func (s *SQLiteStorage) SearchNamespace(ctx context.Context, namespace string, vector []float32, limit int) ([]VectorResult, error) {
	return searchVector(ctx, s.db, namespace, vector, limit)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
