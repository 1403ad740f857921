package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/dshills/sitekb-mcp/internal/answer"
	"github.com/dshills/sitekb-mcp/internal/build"
	"github.com/dshills/sitekb-mcp/internal/logging"
	"github.com/dshills/sitekb-mcp/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "sitekb-mcp"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Store holds tenant records and uploaded documents
type Store interface {
	storage.TenantStore
	storage.UploadStore
}

// Builds starts, reports on and cancels knowledge base builds
type Builds interface {
	TriggerBuild(ctx context.Context, tenantID int64, urlOverride []string) (*build.Ack, error)
	TriggerRescrape(ctx context.Context, tenantID int64, urlOverride []string) (*build.Ack, error)
	Status(ctx context.Context, tenantID int64) (*build.StatusReport, error)
	Disable(ctx context.Context, tenantID int64) (bool, error)
}

// Chat answers visitor questions
type Chat interface {
	Ask(ctx context.Context, tenantID int64, question string, topK int) (answer.Result, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	store  Store
	builds Builds
	chat   Chat
	logger *zap.Logger
}

// toolEntry pairs a tool definition with its handler
type toolEntry struct {
	tool    mcp.Tool
	handler server.ToolHandlerFunc
}

// NewServer creates a new MCP server instance. The caller owns the lifetime of
// the dependencies.
func NewServer(store Store, builds Builds, chat Chat, logger *zap.Logger) *Server {
	s := &Server{
		mcp:    server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false)),
		store:  store,
		builds: builds,
		chat:   chat,
		logger: logging.OrNop(logger).Named("mcp"),
	}
	s.registerTools()
	return s
}

// Serve runs the MCP protocol on stdio until ctx ends or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(zap.NewStdLog(s.logger))
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

func (s *Server) tools() []toolEntry {
	return []toolEntry{
		{registerTenantTool(), s.handleRegisterTenant},
		{addDocumentTool(), s.handleAddDocument},
		{buildKnowledgeBaseTool(), s.handleBuildKnowledgeBase},
		{rescrapeKnowledgeBaseTool(), s.handleRescrapeKnowledgeBase},
		{knowledgeBaseStatusTool(), s.handleKnowledgeBaseStatus},
		{chatTool(), s.handleChat},
		{disableAssistantTool(), s.handleDisableAssistant},
	}
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	for _, t := range s.tools() {
		s.mcp.AddTool(t.tool, t.handler)
	}
}
