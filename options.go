package guidematch

import (
	"io/fs"
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port             int
	databaseURL      string
	directoryBackend string
	logger           *slog.Logger
	version          string
	expertSource     ExpertSource
	guideWriter      GuideWriter
	completer        Completer
	middlewares      []Middleware
	extraMigrations  []fs.FS
}

// WithPort overrides the TCP port from config (GUIDEMATCH_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the database connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithDirectoryBackend overrides GUIDEMATCH_DIRECTORY_BACKEND
// (postgres, sqlite, airtable or file).
func WithDirectoryBackend(backend string) Option {
	return func(o *resolvedOptions) { o.directoryBackend = backend }
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

// WithExpertSource replaces the configured directory backend.
func WithExpertSource(s ExpertSource) Option {
	return func(o *resolvedOptions) { o.expertSource = s }
}

// WithGuideWriter replaces the guide generator selected by GUIDEMATCH_GUIDE_PROVIDER.
func WithGuideWriter(w GuideWriter) Option {
	return func(o *resolvedOptions) { o.guideWriter = w }
}

// WithCompleter replaces the OpenAI/Ollama model clients for both guide
// writing and expert matching.
func WithCompleter(c Completer) Option {
	return func(o *resolvedOptions) { o.completer = c }
}

// WithMiddleware registers an HTTP middleware.
// Applied in registration order: the first-registered middleware is outermost.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}

// WithExtraMigrations adds an SQL migration filesystem to run after the
// built-in migrations. Only used by the postgres directory backend.
func WithExtraMigrations(dir fs.FS) Option {
	return func(o *resolvedOptions) { o.extraMigrations = append(o.extraMigrations, dir) }
}
