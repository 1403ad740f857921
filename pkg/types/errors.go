package types

import "errors"

// Domain errors shared by the build pipeline and the answer path
var (
	// Validation errors
	ErrInvalidChunkID        = errors.New("invalid chunk ID")
	ErrInvalidRank           = errors.New("rank must be >= 1")
	ErrInvalidRelevanceScore = errors.New("relevance score must be between 0 and 1")
	ErrEmptyContent          = errors.New("content cannot be empty")
	ErrMissingSourceURL      = errors.New("source URL is required")
	ErrInvalidTenantID       = errors.New("tenant ID must be positive")

	// Configuration errors, rejected before a build starts
	ErrTenantNotFound = errors.New("tenant not found")
	ErrNoSeedURLs     = errors.New("tenant has no website URLs")
	ErrInvalidURL     = errors.New("invalid URL")

	// State errors
	ErrBuildInProgress   = errors.New("a build is already running for this tenant")
	ErrInvalidTransition = errors.New("invalid build status transition")
	ErrNotReady          = errors.New("knowledge base is not ready")

	// Query errors
	ErrEmptyQuestion = errors.New("question cannot be empty")
)
