package holderd

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port        int
	databaseURL string
	sqlitePath  string
	logger      *slog.Logger
	version     string
	oracle      VisionOracle
	photos      PhotoSource
}

// WithPort overrides the TCP port from config (HOLDERD_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string from config
// (DATABASE_URL env var). Setting it selects the Postgres store.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithSQLitePath overrides the SQLite file path from config
// (HOLDERD_SQLITE_PATH env var). Used only when no database URL is set.
func WithSQLitePath(path string) Option {
	return func(o *resolvedOptions) { o.sqlitePath = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithOracle replaces the built-in OpenAI vision client.
// Only the last call wins. Without an oracle (and no OPENAI_API_KEY) the
// engine runs on stored records, learned patterns, and rule heuristics alone.
func WithOracle(oracle VisionOracle) Option {
	return func(o *resolvedOptions) { o.oracle = oracle }
}

// WithPhotoSource supplies subject photographs to the vision aggregator.
// Without one the vision source is disabled, since there is nothing to analyze.
func WithPhotoSource(ps PhotoSource) Option {
	return func(o *resolvedOptions) { o.photos = ps }
}
