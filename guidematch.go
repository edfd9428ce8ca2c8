// Package guidematch is the public API for embedding the guidematch server:
// trip guide generation plus expert matching behind one HTTP and MCP surface.
//
//	app, err := guidematch.New(
//	    guidematch.WithVersion(version),
//	    guidematch.WithLogger(logger),
//	    guidematch.WithExpertSource(myCRM{}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the root.
// Public types (Expert, Guide) are standalone structs; the adapters that
// convert them live here because this is the only file that sees both sides.
package guidematch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/wayfarer-labs/guidematch/api"
	"github.com/wayfarer-labs/guidematch/internal/auth"
	"github.com/wayfarer-labs/guidematch/internal/config"
	"github.com/wayfarer-labs/guidematch/internal/directory"
	"github.com/wayfarer-labs/guidematch/internal/guide"
	"github.com/wayfarer-labs/guidematch/internal/llm"
	"github.com/wayfarer-labs/guidematch/internal/matching"
	"github.com/wayfarer-labs/guidematch/internal/mcp"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/orchestrator"
	"github.com/wayfarer-labs/guidematch/internal/ratelimit"
	"github.com/wayfarer-labs/guidematch/internal/server"
	"github.com/wayfarer-labs/guidematch/internal/storage"
	"github.com/wayfarer-labs/guidematch/internal/telemetry"
	"github.com/wayfarer-labs/guidematch/migrations"
)

// App is the guidematch server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	srv          *server.Server
	dir          *directory.Directory
	limiter      ratelimit.Limiter
	closers      []func()
	watchers     []func(ctx context.Context)
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server. It opens the directory backend, builds the
// model clients, wires all subsystems and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
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
	if o.directoryBackend != "" {
		cfg.DirectoryBackend = o.directoryBackend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("guidematch starting", "version", version, "port", cfg.Port)

	ctx := context.Background()
	otelShutdown, err := telemetry.Init(ctx, telemetry.Settings{
		Endpoint:    cfg.OTELEndpoint,
		Insecure:    cfg.OTELInsecure,
		ServiceName: cfg.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	a := &App{cfg: cfg, otelShutdown: otelShutdown, logger: logger, version: version}
	fail := func(err error) (*App, error) {
		a.close()
		return nil, err
	}

	source, err := a.openSource(ctx, o)
	if err != nil {
		return fail(err)
	}
	a.dir = directory.New(source, cfg.DirectoryMaxRecords, logger)

	matchLLM, guideLLM, err := completers(cfg, o.completer, logger)
	if err != nil {
		return fail(err)
	}

	var gen guide.Generator
	switch {
	case o.guideWriter != nil:
		gen = guideWriterAdapter{o.guideWriter}
	case cfg.GuideProvider == "static":
		static, err := guide.NewStaticGenerator()
		if err != nil {
			return fail(fmt.Errorf("guide: %w", err))
		}
		gen = static
	default:
		gen = guide.NewLLMGenerator(guideLLM, cfg.GuideTimeout, logger)
	}
	logger.Info("guide generator ready", "provider", cfg.GuideProvider, "custom", o.guideWriter != nil)

	matcher := matching.NewMatcher(matchLLM, cfg.MatchTimeout, logger)
	orch := orchestrator.New(gen, a.dir, matcher, logger)

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}
	keys, err := auth.ParseKeyRing(cfg.APIKeys)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	if cfg.RateLimitEnabled {
		a.limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting enabled", "rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		a.limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting disabled")
	}

	mcpSrv := mcp.New(orch, a.dir, logger, version)

	middleware := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middleware = append(middleware, mw)
	}

	a.srv = server.New(server.ServerConfig{
		Planner:             orch,
		Catalog:             a.dir,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		Keys:                keys,
		Limiter:             a.limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Middleware:          middleware,
		OpenAPISpec:         api.OpenAPISpec,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		RequestTimeout:      cfg.RequestTimeout,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		Version:             version,
	})
	return a, nil
}

// openSource picks the directory backend. Resources it opens are released
// by close.
func (a *App) openSource(ctx context.Context, o resolvedOptions) (directory.Source, error) {
	cfg := a.cfg
	if o.expertSource != nil {
		a.logger.Info("directory: using custom expert source")
		return expertSourceAdapter{o.expertSource}, nil
	}
	switch cfg.DirectoryBackend {
	case config.BackendPostgres:
		db, err := storage.New(ctx, cfg.DatabaseURL, a.logger)
		if err != nil {
			return nil, fmt.Errorf("storage: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		if err := db.RunMigrations(ctx, migrations.FS); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		for i, extraFS := range o.extraMigrations {
			if err := db.RunMigrations(ctx, extraFS); err != nil {
				return nil, fmt.Errorf("extra migrations[%d]: %w", i, err)
			}
		}
		a.watchers = append(a.watchers, func(ctx context.Context) {
			db.WatchExperts(ctx, func(id string) {
				epoch := a.dir.Invalidate()
				a.logger.Info("directory: expert changed, cache invalidated", "expert_id", id, "epoch", epoch)
			})
		})
		return directory.NewPostgresSource(db, cfg.DirectoryMaxRecords), nil
	case config.BackendSQLite:
		src, err := directory.OpenSQLite(ctx, cfg.SQLitePath, cfg.DirectoryMaxRecords)
		if err != nil {
			return nil, fmt.Errorf("sqlite: %w", err)
		}
		a.closers = append(a.closers, func() {
			if err := src.Close(); err != nil {
				a.logger.Warn("sqlite close failed", "error", err)
			}
		})
		return src, nil
	case config.BackendAirtable:
		return directory.NewAirtableSource(directory.AirtableConfig{
			APIKey:     cfg.AirtableAPIKey,
			BaseID:     cfg.AirtableBaseID,
			Table:      cfg.AirtableTable,
			BaseURL:    cfg.AirtableURL,
			MaxRecords: cfg.DirectoryMaxRecords,
		}), nil
	case config.BackendFile:
		return directory.NewFileSource(cfg.DirectoryFile), nil
	default:
		return nil, fmt.Errorf("directory: unknown backend %q", cfg.DirectoryBackend)
	}
}

// completers returns the matching and guide model clients. A custom
// Completer serves both.
func completers(cfg config.Config, custom Completer, logger *slog.Logger) (match, guideLLM llm.Completer, err error) {
	if custom != nil {
		c := completerAdapter{custom}
		return c, c, nil
	}
	base := llm.Config{
		Provider:      cfg.LLMProvider,
		OpenAIAPIKey:  cfg.OpenAIAPIKey,
		OpenAIBaseURL: cfg.OpenAIBaseURL,
		OllamaURL:     cfg.OllamaURL,
	}
	mc := base
	mc.Model = cfg.MatchModel
	if match, err = llm.New(mc, logger); err != nil {
		return nil, nil, fmt.Errorf("matching model: %w", err)
	}
	if cfg.GuideProvider == "static" {
		return match, nil, nil
	}
	gc := base
	gc.Model = cfg.GuideModel
	if guideLLM, err = llm.New(gc, logger); err != nil {
		return nil, nil, fmt.Errorf("guide model: %w", err)
	}
	return match, guideLLM, nil
}

// Handler returns the fully wrapped HTTP handler, for embedding or tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the background directory refresh, the postgres change
// listener when that backend is in use, and the HTTP server, then
// blocks until ctx is cancelled or a fatal server error occurs. On return,
// Shutdown has been called.
func (a *App) Run(ctx context.Context) error {
	refreshCtx, stopRefresh := context.WithCancel(ctx)
	defer stopRefresh()
	if a.cfg.DirectoryRefreshInterval > 0 {
		go a.directoryRefreshLoop(refreshCtx, a.cfg.DirectoryRefreshInterval)
	}
	for _, watch := range a.watchers {
		go watch(refreshCtx)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stopRefresh()
		_ = a.Shutdown(context.Background())
		return err
	}
	return a.Shutdown(context.Background())
}

// Shutdown drains in-flight HTTP requests, then releases the directory
// backend, the rate limiter and the OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("guidematch shutting down")

	httpCtx, cancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownTimeout)
	err := a.srv.Shutdown(httpCtx)
	cancel()
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	a.close()
	a.logger.Info("guidematch stopped")
	return err
}

func (a *App) close() {
	if a.limiter != nil {
		if err := a.limiter.Close(); err != nil {
			a.logger.Warn("rate limiter close failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	if a.otelShutdown != nil {
		_ = a.otelShutdown(context.Background())
	}
}

// directoryRefreshLoop invalidates the cached pool on a fixed interval so
// that edits in the backing store are picked up without a restart. The next
// request after an invalidation pays for the fetch.
func (a *App) directoryRefreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			epoch := a.dir.Invalidate()
			a.logger.Debug("directory refresh: cache invalidated", "epoch", epoch)
		}
	}
}

func contextWithOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ── Adapters between public and internal types ──────────────────────────────

type expertSourceAdapter struct{ s ExpertSource }

func (a expertSourceAdapter) Name() string { return "custom" }

func (a expertSourceAdapter) ListCandidates(ctx context.Context) ([]model.Candidate, error) {
	experts, err := a.s.ListExperts(ctx)
	if err != nil {
		return nil, model.WrapError(model.KindDatabase, "expert source unavailable", err)
	}
	out := make([]model.Candidate, len(experts))
	for i, e := range experts {
		out[i] = toCandidate(e)
	}
	return out, nil
}

type guideWriterAdapter struct{ w GuideWriter }

func (a guideWriterAdapter) Generate(ctx context.Context, flow model.FlowType, answers model.Answers) (model.TravelGuide, error) {
	g, err := a.w.WriteGuide(ctx, FlowType(flow), answers)
	if err != nil {
		return model.TravelGuide{}, err
	}
	tg := toTravelGuide(g)
	tg.FlowType = flow
	tg.AnswersSummary = guide.Summarize(answers)
	if len(tg.Tags) == 0 {
		tg.Tags = guide.Tags(answers)
	}
	return tg, nil
}

type completerAdapter struct{ c Completer }

func (a completerAdapter) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	return a.c.Complete(ctx, p.System, p.User)
}

func toCandidate(e Expert) model.Candidate {
	return model.Candidate{
		ID:         e.ID,
		Profession: e.Profession,
		Bio:        e.Bio,
		Name:       e.Name,
		AvatarURL:  e.AvatarURL,
		ProfileURL: e.ProfileURL,
	}
}

func toTravelGuide(g Guide) model.TravelGuide {
	tg := model.TravelGuide{
		ID:          g.ID,
		FlowType:    model.FlowType(g.FlowType),
		Title:       g.Title,
		Content:     g.Content,
		GeneratedAt: g.GeneratedAt,
		Tags:        g.Tags,
	}
	if tg.ID == "" {
		tg.ID = uuid.NewString()
	}
	if tg.GeneratedAt.IsZero() {
		tg.GeneratedAt = time.Now().UTC()
	}
	return tg
}
