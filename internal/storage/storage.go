package storage

import (
	"context"
	"time"

	"github.com/dshills/sitekb-mcp/pkg/types"
)

// TenantStore persists tenant records and their knowledge base build state
type TenantStore interface {
	// UpsertTenant creates or updates the tenant's name and seed URLs. Build
	// columns and the namespace of an existing tenant are left untouched.
	UpsertTenant(ctx context.Context, tenant *Tenant) (*types.TenantState, error)
	GetTenant(ctx context.Context, tenantID int64) (*types.TenantState, error)
	ListTenantsByStatus(ctx context.Context, status types.BuildStatus) ([]*types.TenantState, error)

	// SaveBuildState writes only the build columns: status, error, counts,
	// progress, last scrape time and ai_enabled.
	SaveBuildState(ctx context.Context, state *types.TenantState) error

	// ClaimBuild saves a building state unless another build owns the row,
	// in which case it returns types.ErrBuildInProgress. Rows still building
	// but last updated before staleBefore can be claimed.
	ClaimBuild(ctx context.Context, state *types.TenantState, staleBefore time.Time) error

	// SetAIEnabled writes only the ai_enabled column
	SetAIEnabled(ctx context.Context, tenantID int64, enabled bool) error
}

// UploadStore holds document texts uploaded for a tenant
type UploadStore interface {
	AddUpload(ctx context.Context, upload *Upload) error
	ListUploads(ctx context.Context, tenantID int64) ([]*Upload, error)
}

// NamespaceStore holds chunk vectors grouped by namespace and generation.
// Readers only ever see the active generation of a namespace.
type NamespaceStore interface {
	// BeginGeneration drops any staged, never activated rows of the namespace
	// and returns a fresh generation number to write into.
	BeginGeneration(ctx context.Context, namespace string) (int64, error)

	// InsertChunks writes chunks and vectors into a staged generation in one
	// transaction. Rows keep their insertion order.
	InsertChunks(ctx context.Context, namespace string, generation int64, chunks []ChunkRecord) error

	// ActivateGeneration makes generation the visible one and deletes every
	// other generation of the namespace atomically. It returns the visible chunk count.
	ActivateGeneration(ctx context.Context, namespace string, generation int64) (int, error)

	ActiveGeneration(ctx context.Context, namespace string) (int64, error)
	SearchNamespace(ctx context.Context, namespace string, vector []float32, limit int) ([]VectorResult, error)
	CountChunks(ctx context.Context, namespace string) (int, error)
}

// Storage is the full persistence surface
type Storage interface {
	TenantStore
	UploadStore
	NamespaceStore

	Close() error
}

// Tenant is the externally owned part of a tenant record
type Tenant struct {
	ID       int64
	Name     string
	SeedURLs []string
}

// Upload is one uploaded document
type Upload struct {
	ID        int64
	TenantID  int64
	Name      string
	Text      string
	CreatedAt time.Time
}

// ChunkRecord is a chunk with its embedding, ready to be written
type ChunkRecord struct {
	Chunk  types.Chunk
	Vector []float32
	Model  string
}

// VectorResult is one search hit with its chunk
type VectorResult struct {
	ChunkID         int64
	SimilarityScore float64
	Chunk           types.Chunk
}
