package build

import (
	"context"
	"errors"

	"github.com/dshills/sitekb-mcp/internal/indexer"
)

var (
	// ErrInvalidState is returned when a rescrape is requested for a tenant
	// whose knowledge base is not ready
	ErrInvalidState = errors.New("knowledge base must be ready to rescrape")
	// ErrClosed is returned by triggers after Close
	ErrClosed = errors.New("build orchestrator is closed")
	// ErrNoContent is returned when a build produced no chunks
	ErrNoContent = errors.New("no readable content")
	// ErrSiteUnreachable is returned when every crawled URL failed
	ErrSiteUnreachable = errors.New("website unreachable")
)

// Cancellation causes of a build task context
var (
	errDisabled = errors.New("assistant disabled")
	errShutdown = errors.New("server shutting down")
	errTimedOut = errors.New("build timed out")
)

// Messages stored in error_message. Raw errors are only logged.
const (
	msgNoContent   = "No readable content was found on the website."
	msgUnreachable = "We couldn't reach your website. Please check the URL and try again."
	msgCancelled   = "Build cancelled because the assistant was disabled."
	msgTimeout     = "Build timed out before completing."
	msgRestart     = "Build interrupted by a server restart."
	msgShutdown    = "Build interrupted because the server shut down."
	msgEmbedding   = "The embedding service is unavailable. Please try again later."
	msgWrite       = "The knowledge base could not be saved. Please try again later."
	msgDefault     = "Failed to build knowledge base. Please try again later."
)

// failureMessage maps a build error to the text shown to the tenant. cause is
// the task context's cancellation cause, or nil while the context is live.
func failureMessage(cause, err error) string {
	switch {
	case errors.Is(cause, errDisabled):
		return msgCancelled
	case errors.Is(cause, errShutdown):
		return msgShutdown
	case errors.Is(cause, errTimedOut), errors.Is(cause, context.DeadlineExceeded):
		return msgTimeout
	case errors.Is(err, ErrNoContent):
		return msgNoContent
	case errors.Is(err, ErrSiteUnreachable):
		return msgUnreachable
	case errors.Is(err, indexer.ErrEmbeddingUnavailable):
		return msgEmbedding
	case errors.Is(err, indexer.ErrNamespaceWrite):
		return msgWrite
	default:
		return msgDefault
	}
}
