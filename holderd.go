// Package holderd is the public API for embedding the holderd classification server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := holderd.New(
//	    holderd.WithVersion(version),
//	    holderd.WithLogger(logger),
//	    holderd.WithPhotoSource(myPhotoArchive{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: holderd (root) imports
// internal/*, but internal/* never imports holderd (root). Public types
// (VisionReply, Photo, etc.) are standalone with no internal imports;
// conversion adapters live here because this is the only file that sees
// both sides of the boundary.
package holderd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"github.com/roadsight/holderd/internal/calibration"
	"github.com/roadsight/holderd/internal/config"
	"github.com/roadsight/holderd/internal/engine"
	"github.com/roadsight/holderd/internal/mcp"
	"github.com/roadsight/holderd/internal/model"
	"github.com/roadsight/holderd/internal/oracle"
	"github.com/roadsight/holderd/internal/server"
	"github.com/roadsight/holderd/internal/storage"
	"github.com/roadsight/holderd/internal/telemetry"
	"github.com/roadsight/holderd/internal/vision"
	"github.com/roadsight/holderd/migrations"
)

// shutdownHTTPTimeout bounds the in-flight request drain during Shutdown.
const shutdownHTTPTimeout = 10 * time.Second

// App is the holderd server lifecycle. Construct with New(), run with Run().
// App has no public fields; use New() options to configure it.
type App struct {
	cfg          config.Config
	store        storage.Store
	srv          *server.Server
	otelShutdown func(context.Context) error
	logger       *slog.Logger
	version      string
}

// New initialises the holderd server. It opens the store, runs migrations,
// wires all subsystems, and returns a ready-to-run App. It does NOT start
// any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.sqlitePath != "" {
		cfg.SQLitePath = o.sqlitePath
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("holderd starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	fallback := model.ClassPair{Material: cfg.FallbackMaterial, Type: cfg.FallbackType}

	// Open the store. DATABASE_URL selects Postgres; otherwise the service
	// runs on a local SQLite file.
	var store storage.Store
	if cfg.DatabaseURL != "" {
		db, dbErr := storage.New(context.Background(), cfg.DatabaseURL, fallback, logger)
		if dbErr != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", dbErr)
		}
		if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
			_ = db.Close(context.Background())
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("migrations: %w", err)
		}
		logger.Info("store: postgres")
		store = db
	} else {
		lite, liteErr := storage.NewLite(context.Background(), cfg.SQLitePath, fallback, logger)
		if liteErr != nil {
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("storage: %w", liteErr)
		}
		logger.Info("store: sqlite", "path", cfg.SQLitePath)
		store = lite
	}

	// Vision oracle. An external override takes priority over the OpenAI client.
	var visionOracle vision.Oracle
	switch {
	case o.oracle != nil:
		visionOracle = &oracleAdapter{oracle: o.oracle}
		logger.Info("vision oracle: external")
	case cfg.OpenAIAPIKey != "":
		visionOracle = oracle.NewClient(cfg.OpenAIAPIKey, cfg.VisionModel, fallback)
		logger.Info("vision oracle: openai", "model", cfg.VisionModel)
	default:
		logger.Info("vision oracle: disabled (no OPENAI_API_KEY)")
	}

	// The vision source needs both an oracle and a photo source; with either
	// missing the engine votes over the remaining sources.
	var agg engine.Aggregator
	var photos vision.PhotoSource
	if visionOracle != nil && o.photos != nil {
		agg = vision.NewAggregator(visionOracle, fallback, cfg.VisionTimeout, logger)
		photos = &photoSourceAdapter{src: o.photos}
	} else if visionOracle != nil {
		logger.Info("vision source: disabled (no photo source registered)")
	}

	calib := calibration.New(store)

	eng := engine.New(store, agg, photos, calib, engine.Config{
		Fallback:           fallback,
		FallbackConfidence: cfg.FallbackConfidence,
		StoreThreshold:     cfg.StoreThreshold,
		Weights:            engine.DefaultWeights(),
	}, logger)

	// MCP server.
	mcpSrv := mcp.New(store, eng, calib, version, logger)

	// HTTP server (MCP mounted at /mcp).
	srv := server.New(server.ServerConfig{
		Store:               store,
		Engine:              eng,
		Calib:               calib,
		Logger:              logger,
		MCPServer:           mcpSrv.MCPServer(),
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run starts the HTTP server and blocks until ctx is cancelled or a fatal
// server error occurs. On return, Shutdown is called automatically;
// callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, then closes
// the OTEL provider and the store.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("holderd shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	_ = a.otelShutdown(context.Background())
	if err := a.store.Close(context.Background()); err != nil {
		a.logger.Error("store close error", "error", err)
	}

	a.logger.Info("holderd stopped")
	return nil
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// oracleAdapter wraps a public VisionOracle to satisfy vision.Oracle.
type oracleAdapter struct {
	oracle VisionOracle
}

func (a *oracleAdapter) Analyze(ctx context.Context, image []byte, instruction string) (vision.Reply, error) {
	reply, err := a.oracle.Analyze(ctx, image, instruction)
	if err != nil {
		return vision.Reply{}, err
	}
	return vision.Reply{
		Material:   reply.Material,
		Type:       reply.Type,
		Confidence: reply.Confidence,
		Rationale:  reply.Rationale,
	}, nil
}

// photoSourceAdapter wraps a public PhotoSource to satisfy vision.PhotoSource.
type photoSourceAdapter struct {
	src PhotoSource
}

func (a *photoSourceAdapter) Photo(ctx context.Context, subjectID string) (vision.Photo, error) {
	p, err := a.src.Photo(ctx, subjectID)
	if err != nil {
		return nil, err
	}
	return photoAdapter{photo: p}, nil
}

// photoAdapter wraps a public Photo to satisfy vision.Photo.
type photoAdapter struct {
	photo Photo
}

func (a photoAdapter) Region(ctx context.Context, name string) ([]byte, error) {
	return a.photo.Region(ctx, name)
}
