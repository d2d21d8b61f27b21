// Package mcp implements the Model Context Protocol server for holderd.
//
// The MCP server exposes the classification engine and its analytics to
// MCP-compatible agent tooling, mirroring the HTTP API's capabilities.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/roadsight/holderd/internal/calibration"
	"github.com/roadsight/holderd/internal/engine"
	"github.com/roadsight/holderd/internal/storage"
)

// Server wraps the MCP server with holderd's engine and store.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     storage.Store
	engine    *engine.Engine
	calib     *calibration.Tracker
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources and tools.
func New(store storage.Store, eng *engine.Engine, calib *calibration.Tracker, version string, logger *slog.Logger) *Server {
	s := &Server{
		store:  store,
		engine: eng,
		calib:  calib,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"holderd",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// holderd://stats: aggregate store statistics.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"holderd://stats",
			"Store Statistics",
			mcplib.WithResourceDescription("Aggregate subject, correction and hypothesis counts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatsResource,
	)

	// holderd://calibration: the current calibration report.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"holderd://calibration",
			"Calibration Report",
			mcplib.WithResourceDescription("Per-decile confidence calibration bins and verdicts"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCalibrationResource,
	)
}

func (s *Server) handleStatsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: stats: %w", err)
	}

	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal stats: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "holderd://stats",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleCalibrationResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(map[string]any{
		"bins":  s.calib.Report(),
		"trend": s.calib.Trend(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal calibration: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "holderd://calibration",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
