package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/answer"
	"github.com/dshills/sitekb-mcp/internal/build"
	"github.com/dshills/sitekb-mcp/internal/extractor"
	"github.com/dshills/sitekb-mcp/internal/storage"
	"github.com/dshills/sitekb-mcp/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeTenantNotFound  = -32001 // No tenant with the given id
	ErrorCodeBuildInProgress = -32002 // Another build is already running for the tenant
	ErrorCodeNotReady        = -32003 // Knowledge base not ready or assistant disabled
	ErrorCodeEmptyQuery      = -32004 // Chat message is empty
	ErrorCodeInvalidState    = -32005 // Rescrape requested while not ready
)

// handleRegisterTenant handles the register_tenant tool invocation
func (s *Server) handleRegisterTenant(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	tenantID, err := requireTenantID(args)
	if err != nil {
		return nil, err
	}
	seeds, err := getStringSlice(args, "seed_urls")
	if err != nil {
		return nil, err
	}
	for _, u := range seeds {
		if err := extractor.ValidateSeed(u); err != nil {
			return nil, s.toMCPError("invalid seed_urls", err)
		}
	}

	state, err := s.store.UpsertTenant(ctx, &storage.Tenant{
		ID:       tenantID,
		Name:     strings.TrimSpace(getStringDefault(args, "name", "")),
		SeedURLs: seeds,
	})
	if err != nil {
		return nil, s.toMCPError("failed to register tenant", err)
	}

	response := map[string]interface{}{
		"tenant_id":    state.TenantID,
		"name":         state.Name,
		"seed_urls":    state.SeedURLs,
		"namespace_id": state.NamespaceID,
		"build_status": state.Status,
		"ai_enabled":   state.AIEnabled,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleAddDocument handles the add_document tool invocation
func (s *Server) handleAddDocument(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	tenantID, err := requireTenantID(args)
	if err != nil {
		return nil, err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return nil, err
	}
	text, err := requireString(args, "text")
	if err != nil {
		return nil, err
	}

	upload := &storage.Upload{TenantID: tenantID, Name: name, Text: text}
	if err := s.store.AddUpload(ctx, upload); err != nil {
		return nil, s.toMCPError("failed to store document", err)
	}

	response := map[string]interface{}{
		"stored":      true,
		"document_id": upload.ID,
		"name":        name,
		"source_url":  types.UploadScheme + name,
		"message":     "Document saved. It will be included the next time the knowledge base is built.",
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleBuildKnowledgeBase handles the build_knowledge_base tool invocation
func (s *Server) handleBuildKnowledgeBase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.trigger(ctx, request, s.builds.TriggerBuild, "Knowledge base build started")
}

// handleRescrapeKnowledgeBase handles the rescrape_knowledge_base tool invocation
func (s *Server) handleRescrapeKnowledgeBase(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.trigger(ctx, request, s.builds.TriggerRescrape, "Knowledge base rescrape started")
}

type triggerFunc func(ctx context.Context, tenantID int64, urlOverride []string) (*build.Ack, error)

func (s *Server) trigger(ctx context.Context, request mcp.CallToolRequest, fn triggerFunc, message string) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	tenantID, err := requireTenantID(args)
	if err != nil {
		return nil, err
	}
	urls, err := getStringSlice(args, "urls")
	if err != nil {
		return nil, err
	}

	// The build outlives this request
	ack, err := fn(context.WithoutCancel(ctx), tenantID, urls)
	if err != nil {
		return nil, s.toMCPError("failed to start build", err)
	}

	response := map[string]interface{}{
		"tenant_id":    ack.TenantID,
		"build_id":     ack.BuildID.String(),
		"build_status": ack.Status,
		"started_at":   ack.StartedAt,
		"message":      message + ". Use knowledge_base_status to follow its progress.",
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleKnowledgeBaseStatus handles the knowledge_base_status tool invocation
func (s *Server) handleKnowledgeBaseStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	tenantID, err := requireTenantID(args)
	if err != nil {
		return nil, err
	}

	report, err := s.builds.Status(ctx, tenantID)
	if err != nil {
		return nil, s.toMCPError("failed to get status", err)
	}
	return mcp.NewToolResultText(formatJSON(report)), nil
}

// handleChat handles the chat tool invocation
func (s *Server) handleChat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	tenantID, err := requireTenantID(args)
	if err != nil {
		return nil, err
	}

	message, _ := args["message"].(string)
	if strings.TrimSpace(message) == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "message parameter is required and cannot be empty", map[string]interface{}{
			"param":  "message",
			"reason": "missing or empty",
		})
	}

	topK := getIntDefault(args, "top_k", 0)
	if topK < 0 || topK > answer.MaxTopK {
		return nil, newMCPError(ErrorCodeInvalidParams, fmt.Sprintf("top_k must be between 1 and %d", answer.MaxTopK), map[string]interface{}{
			"param": "top_k",
			"value": topK,
		})
	}

	result, err := s.chat.Ask(ctx, tenantID, message, topK)
	if err != nil {
		return nil, s.toMCPError("chat failed", err)
	}

	sources := make([]map[string]interface{}, 0, len(result.Sources()))
	for _, r := range result.Sources() {
		sources = append(sources, map[string]interface{}{
			"rank":      r.Rank,
			"title":     r.Chunk.Title,
			"url":       r.Chunk.SourceURL,
			"citation":  r.Chunk.Citation(),
			"relevance": r.RelevanceScore,
		})
	}
	response := map[string]interface{}{
		"answer":  result.Text(),
		"kind":    result.Kind(),
		"sources": sources,
	}
	if fb, ok := result.(*answer.Fallback); ok {
		response["reason"] = fb.Reason
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleDisableAssistant handles the disable_assistant tool invocation
func (s *Server) handleDisableAssistant(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	tenantID, err := requireTenantID(args)
	if err != nil {
		return nil, err
	}

	cancelled, err := s.builds.Disable(ctx, tenantID)
	if err != nil {
		return nil, s.toMCPError("failed to disable assistant", err)
	}

	response := map[string]interface{}{
		"tenant_id":       tenantID,
		"ai_enabled":      false,
		"build_cancelled": cancelled,
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// toMCPError classifies a service error into an MCP error code. Detail is
// only returned for caller errors; internal errors are logged instead.
func (s *Server) toMCPError(message string, err error) error {
	code := ErrorCodeInternalError
	switch {
	case errors.Is(err, types.ErrTenantNotFound):
		code = ErrorCodeTenantNotFound
	case errors.Is(err, types.ErrBuildInProgress):
		code = ErrorCodeBuildInProgress
	case errors.Is(err, types.ErrNotReady):
		code = ErrorCodeNotReady
	case errors.Is(err, types.ErrEmptyQuestion):
		code = ErrorCodeEmptyQuery
	case errors.Is(err, build.ErrInvalidState):
		code = ErrorCodeInvalidState
	case errors.Is(err, types.ErrNoSeedURLs),
		errors.Is(err, types.ErrInvalidURL),
		errors.Is(err, types.ErrInvalidTenantID),
		errors.Is(err, types.ErrEmptyContent):
		code = ErrorCodeInvalidParams
	}
	if code == ErrorCodeInternalError {
		s.logger.Error(message, zap.Error(err))
		return newMCPError(code, message, nil)
	}
	return newMCPError(code, message, map[string]interface{}{
		"error": err.Error(),
	})
}

// requireTenantID extracts a positive integer tenant_id
func requireTenantID(args map[string]interface{}) (int64, error) {
	invalid := func(reason string) error {
		return newMCPError(ErrorCodeInvalidParams, "tenant_id parameter is required", map[string]interface{}{
			"param":  "tenant_id",
			"reason": reason,
		})
	}
	switch v := args["tenant_id"].(type) {
	case float64:
		if v != math.Trunc(v) || v < 1 || v > math.MaxInt64 {
			return 0, invalid("must be a positive integer")
		}
		return int64(v), nil
	case int:
		if v < 1 {
			return 0, invalid("must be a positive integer")
		}
		return int64(v), nil
	case int64:
		if v < 1 {
			return 0, invalid("must be a positive integer")
		}
		return v, nil
	case nil:
		return 0, invalid("missing")
	default:
		return 0, invalid("must be a positive integer")
	}
}

// requireString extracts a non-blank string parameter
func requireString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || strings.TrimSpace(val) == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

// getStringSlice extracts an optional array of strings
func getStringSlice(args map[string]interface{}, key string) ([]string, error) {
	raw, ok := args[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var items []interface{}
	switch v := raw.(type) {
	case []interface{}:
		items = v
	case []string:
		return v, nil
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
			"param": key,
		})
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, key+" must be an array of strings", map[string]interface{}{
				"param": key,
			})
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}
