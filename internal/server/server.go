// Package server implements the guidematch HTTP API.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/wayfarer-labs/guidematch/internal/auth"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/ratelimit"
)

// Planner runs trips and expert selection (orchestrator.Orchestrator).
type Planner interface {
	Run(ctx context.Context, req model.TripRequest) model.OrchestrationOutcome
	SelectForGuide(ctx context.Context, guide model.TravelGuide) (model.SelectionResult, error)
	ExpertDetails(ctx context.Context, sel model.Selection) ([]model.Candidate, error)
}

// Catalog exposes the candidate directory (directory.Directory).
type Catalog interface {
	Pool(ctx context.Context) (model.CandidatePool, error)
	Lookup(ctx context.Context, id string) (model.Candidate, error)
	Invalidate() uint64
	Status() model.DirectoryStatus
}

// Server is the guidematch HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Keys, Limiter, MCPServer, Middleware, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	Planner Planner
	Catalog Catalog
	JWTMgr  *auth.JWTManager
	Logger  *slog.Logger

	// Optional dependencies. A nil or empty Keys disables authentication.
	Keys       *auth.KeyRing
	Limiter    ratelimit.Limiter
	MCPServer  *mcpserver.MCPServer
	Middleware []func(http.Handler) http.Handler
	// OpenAPISpec is served at GET /openapi.yaml when non-empty.
	OpenAPISpec []byte

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	RequestTimeout      time.Duration
	MaxRequestBodyBytes int64
	Version             string
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := &Handlers{
		planner:             cfg.Planner,
		catalog:             cfg.Catalog,
		jwtMgr:              cfg.JWTMgr,
		keys:                cfg.Keys,
		logger:              cfg.Logger,
		startedAt:           time.Now(),
		version:             cfg.Version,
		requestTimeout:      cfg.RequestTimeout,
		maxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		openAPISpec:         cfg.OpenAPISpec,
	}
	authEnabled := cfg.Keys.Len() > 0
	if !authEnabled {
		cfg.Logger.Warn("server: no api keys configured, authentication disabled")
	}

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	callerRL := ratelimit.Middleware(limiter, callerKeyFunc, writeRateLimited, cfg.Logger)
	ipRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, writeRateLimited, cfg.Logger)

	mux := http.NewServeMux()

	// Token exchange (no auth, rate limited by IP).
	mux.Handle("POST /auth/token", ipRL(http.HandlerFunc(h.HandleAuthToken)))

	client := requireRole(authEnabled, model.RoleClient)
	admin := requireRole(authEnabled, model.RoleAdmin)

	mux.Handle("POST /v1/trips", callerRL(client(http.HandlerFunc(h.HandlePlanTrip))))
	mux.Handle("POST /v1/experts/select", callerRL(client(http.HandlerFunc(h.HandleSelectExpert))))
	mux.Handle("GET /v1/experts", callerRL(client(http.HandlerFunc(h.HandleListExperts))))
	mux.Handle("GET /v1/experts/{id}", callerRL(client(http.HandlerFunc(h.HandleGetExpert))))
	mux.Handle("POST /v1/directory/invalidate", admin(http.HandlerFunc(h.HandleInvalidateDirectory)))

	if cfg.MCPServer != nil {
		mux.Handle("/mcp", client(mcpserver.NewStreamableHTTPServer(cfg.MCPServer)))
	}

	// Health and API description (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)
	if len(cfg.OpenAPISpec) > 0 {
		mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPI)
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → extra → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	for i := len(cfg.Middleware) - 1; i >= 0; i-- {
		handler = cfg.Middleware[i](handler)
	}
	if authEnabled {
		handler = authMiddleware(cfg.JWTMgr, handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
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
