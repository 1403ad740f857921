package answer

import (
	"github.com/dshills/sitekb-mcp/pkg/types"
)

// FallbackReason says why no generated answer was produced
type FallbackReason string

const (
	ReasonNoResults            FallbackReason = "no_results"
	ReasonGeneratorUnavailable FallbackReason = "generator_unavailable"
	ReasonGeneratorFailed      FallbackReason = "generator_failed"
)

// AutomaticReplyPrefix starts every fallback text
const AutomaticReplyPrefix = "[Automatic reply]"

// Result is either a Generated answer or a Fallback reply
type Result interface {
	// Text is the user-visible reply
	Text() string
	// Kind is "generated" or "fallback"
	Kind() string
	// Sources are the retrieved chunks the reply was based on
	Sources() []types.RetrievedChunk

	isResult()
}

// Generated is an answer written by the generation backend
type Generated struct {
	Answer    string // Always ends with a Sources section
	Citations []types.Citation
	Chunks    []types.RetrievedChunk
}

func (g *Generated) Text() string                    { return g.Answer }
func (g *Generated) Kind() string                    { return "generated" }
func (g *Generated) Sources() []types.RetrievedChunk { return g.Chunks }
func (*Generated) isResult()                         {}

// Fallback is the automatic reply used when no answer could be generated
type Fallback struct {
	Message string
	Reason  FallbackReason
	Chunks  []types.RetrievedChunk
}

func (f *Fallback) Text() string                    { return f.Message }
func (f *Fallback) Kind() string                    { return "fallback" }
func (f *Fallback) Sources() []types.RetrievedChunk { return f.Chunks }
func (*Fallback) isResult()                         {}
