package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/roadsight/holderd/internal/calibration"
	"github.com/roadsight/holderd/internal/engine"
	"github.com/roadsight/holderd/internal/storage"
)

// Server is the holderd HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a
// Server. MCPServer is optional (nil = disabled).
type ServerConfig struct {
	Store  storage.Store
	Engine *engine.Engine
	Calib  *calibration.Tracker
	Logger *slog.Logger

	MCPServer *mcpserver.MCPServer

	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Engine:              cfg.Engine,
		Calib:               cfg.Calib,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	mux := http.NewServeMux()

	// Classification.
	mux.HandleFunc("POST /v1/subjects/{subject_id}/decide", h.HandleDecide)
	mux.HandleFunc("GET /v1/subjects/{subject_id}", h.HandleGetSubject)
	mux.HandleFunc("POST /v1/subjects/{subject_id}/corrections", h.HandleCorrect)

	// Export for downstream reporting.
	mux.HandleFunc("GET /v1/export/subjects", h.HandleExportSubjects)

	// Calibration and analytics.
	mux.HandleFunc("GET /v1/calibration", h.HandleCalibration)
	mux.HandleFunc("GET /v1/calibration/confusions", h.HandleConfusions)
	mux.HandleFunc("GET /v1/calibration/trend", h.HandleTrend)
	mux.HandleFunc("GET /v1/stats", h.HandleStats)

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health.
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → tracing → logging → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
