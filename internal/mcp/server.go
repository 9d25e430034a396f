package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/threadqa-mcp/internal/storage"
	"github.com/dshills/threadqa-mcp/pkg/types"
)

const (
	// ServerName is the MCP server name
	ServerName = "threadqa-mcp"
)

// Asker answers a question over the archive
type Asker interface {
	Ask(ctx context.Context, question string, filters types.Filters) (*types.AnswerResult, error)
}

// StatusSource reports archive statistics
type StatusSource interface {
	GetStatus(ctx context.Context) (*storage.ArchiveStatus, error)
}

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp    *server.MCPServer
	asker  Asker
	status StatusSource
	logger zerolog.Logger
}

// NewServer creates a new MCP server instance
func NewServer(asker Asker, status StatusSource, version string, logger zerolog.Logger) *Server {
	mcpServer := server.NewMCPServer(
		ServerName,
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s := &Server{
		mcp:    mcpServer,
		asker:  asker,
		status: status,
		logger: logger,
	}
	s.registerTools()

	return s
}

// Serve starts the MCP server on stdio and blocks until shutdown.
// Each request context carries the server logger.
func (s *Server) Serve(ctx context.Context) error {
	return server.ServeStdio(s.mcp, server.WithStdioContextFunc(func(reqCtx context.Context) context.Context {
		return s.logger.WithContext(reqCtx)
	}))
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(askTool(), s.handleAsk)
	s.mcp.AddTool(archiveStatusTool(), s.handleArchiveStatus)
}
