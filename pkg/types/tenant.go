package types

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// BuildStatus is the lifecycle state of a tenant's knowledge base
type BuildStatus string

const (
	StatusNotStarted BuildStatus = "not_started"
	StatusBuilding   BuildStatus = "building"
	StatusReady      BuildStatus = "ready"
	StatusFailed     BuildStatus = "failed"
)

// Valid reports whether s is a known status
func (s BuildStatus) Valid() bool {
	switch s {
	case StatusNotStarted, StatusBuilding, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no build task owns a tenant in this status
func (s BuildStatus) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// BuildStep is the pipeline stage a running build is in
type BuildStep string

const (
	StepCrawling   BuildStep = "crawling"
	StepChunking   BuildStep = "chunking"
	StepEmbedding  BuildStep = "embedding"
	StepFinalizing BuildStep = "finalizing"
)

// BuildProgress is the live progress of a running build
type BuildProgress struct {
	Step            BuildStep `json:"step"`
	Message         string    `json:"message"`
	CurrentURL      string    `json:"current_url,omitempty"`
	URLsTotal       int       `json:"urls_total"`
	URLsDone        int       `json:"urls_done"`
	ChunksProcessed int       `json:"chunks_processed"`
	DocumentsAdded  int       `json:"documents_added"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TenantState is one company's knowledge base record
type TenantState struct {
	TenantID      int64
	Name          string
	SeedURLs      []string
	AIEnabled     bool
	NamespaceID   string
	Status        BuildStatus
	LastScrapedAt *time.Time
	ErrorMessage  string
	DocumentCount int
	Progress      *BuildProgress
	UpdatedAt     time.Time
}

// Validate checks the tenant record before it is stored
func (t *TenantState) Validate() error {
	if t.TenantID <= 0 {
		return ErrInvalidTenantID
	}
	if t.Status != "" && !t.Status.Valid() {
		return fmt.Errorf("unknown build status %q", t.Status)
	}
	return nil
}

// NamespaceFor derives the stable vector namespace of a tenant: company_{id}_{slug}
func NamespaceFor(tenantID int64, name string) string {
	var b strings.Builder
	lastUnderscore := true
	for _, r := range strings.ToLower(name) {
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	slug := strings.Trim(b.String(), "_")
	if slug == "" {
		return fmt.Sprintf("company_%d", tenantID)
	}
	return fmt.Sprintf("company_%d_%s", tenantID, slug)
}
