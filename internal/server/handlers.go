package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/wayfarer-labs/guidematch/internal/auth"
	"github.com/wayfarer-labs/guidematch/internal/ctxutil"
	"github.com/wayfarer-labs/guidematch/internal/directory"
	"github.com/wayfarer-labs/guidematch/internal/model"
)

// degradedWarning accompanies a guide returned without expert matching.
const degradedWarning = "Your guide is ready, but expert recommendations are unavailable right now."

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	planner             Planner
	catalog             Catalog
	jwtMgr              *auth.JWTManager
	keys                *auth.KeyRing
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	requestTimeout      time.Duration
	maxRequestBodyBytes int64
	openAPISpec         []byte
}

// errDeadline marks a request whose result arrived after its deadline.
var errDeadline = errors.New("request deadline exceeded")

// withDeadline runs fn under the per-request deadline. When the deadline
// passes first, fn's eventual result is discarded and errDeadline returned.
// A panic in fn is re-raised on the calling goroutine.
func withDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) T) (T, error) {
	if d <= 0 {
		return fn(ctx), nil
	}
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan T, 1)
	panicked := make(chan any, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				panicked <- p
			}
		}()
		done <- fn(ctx)
	}()
	select {
	case v := <-done:
		return v, nil
	case p := <-panicked:
		// Re-raise on the handler goroutine so recoveryMiddleware sees it.
		panic(p)
	case <-ctx.Done():
		var zero T
		return zero, errDeadline
	}
}

func (h *Handlers) writeDeadline(w http.ResponseWriter, r *http.Request) {
	h.logger.Warn("request deadline exceeded, discarding late result",
		"path", r.URL.Path,
		"timeout", h.requestTimeout,
		"request_id", ctxutil.RequestIDFromContext(r.Context()))
	writeKindError(w, r, h.logger, model.WrapError(model.KindNetwork, "request timed out", errDeadline), nil)
}

// HandleAuthToken handles POST /auth/token.
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	if h.keys.Len() == 0 {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "authentication is disabled")
		return
	}
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	p, err := h.keys.Authenticate(req.APIKey)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	token, expiresAt, err := h.jwtMgr.IssueToken(p)
	if err != nil {
		h.logger.Error("auth: issue token failed", "caller", p.Name, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue token")
		return
	}
	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{Token: token, ExpiresAt: expiresAt})
}

type planResult struct {
	outcome model.OrchestrationOutcome
	experts []model.Candidate
}

// HandlePlanTrip handles POST /v1/trips.
func (h *Handlers) HandlePlanTrip(w http.ResponseWriter, r *http.Request) {
	var body model.PlanTripRequest
	if err := decodeJSON(w, r, &body, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	req, err := body.ToTripRequest()
	if err != nil {
		writeKindError(w, r, h.logger, model.Classify(err), nil)
		return
	}

	res, err := withDeadline(r.Context(), h.requestTimeout, func(ctx context.Context) planResult {
		out := h.planner.Run(ctx, req)
		if !out.Success || out.SelectedIDs == nil {
			return planResult{outcome: out}
		}
		experts, err := h.planner.ExpertDetails(ctx, *out.SelectedIDs)
		if err != nil {
			h.logger.Warn("trips: resolving expert details failed", "error", err)
		}
		return planResult{outcome: out, experts: experts}
	})
	if err != nil {
		h.writeDeadline(w, r)
		return
	}

	out := res.outcome
	if out.Status == model.StatusFailed {
		me := out.Error
		if me == nil {
			me = model.NewError(model.KindUnknown, "")
		}
		writeKindError(w, r, h.logger, me, out)
		return
	}

	resp := model.PlanTripResponse{
		OrchestrationOutcome: out,
		Degraded:             out.Degraded(),
		Experts:              res.experts,
	}
	if resp.Experts == nil {
		resp.Experts = []model.Candidate{}
	}
	if resp.Degraded {
		resp.Warning = degradedWarning
	}
	writeJSON(w, r, http.StatusOK, resp)
}

type selectResult struct {
	result  model.SelectionResult
	err     error
	experts []model.Candidate
}

// HandleSelectExpert handles POST /v1/experts/select.
func (h *Handlers) HandleSelectExpert(w http.ResponseWriter, r *http.Request) {
	var body model.SelectExpertRequest
	if err := decodeJSON(w, r, &body, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	g, err := body.ToGuide()
	if err != nil {
		writeKindError(w, r, h.logger, model.Classify(err), nil)
		return
	}

	res, err := withDeadline(r.Context(), h.requestTimeout, func(ctx context.Context) selectResult {
		sel, err := h.planner.SelectForGuide(ctx, g)
		if err != nil {
			return selectResult{result: sel, err: err}
		}
		experts, derr := h.planner.ExpertDetails(ctx, sel.SelectedIDs)
		if derr != nil {
			h.logger.Warn("select: resolving expert details failed", "error", derr)
		}
		return selectResult{result: sel, experts: experts}
	})
	if err != nil {
		h.writeDeadline(w, r)
		return
	}
	if res.err != nil {
		writeKindError(w, r, h.logger, model.Classify(res.err), res.result)
		return
	}

	experts := res.experts
	if experts == nil {
		experts = []model.Candidate{}
	}
	writeJSON(w, r, http.StatusOK, model.SelectExpertResponse{SelectionResult: res.result, Experts: experts})
}

// HandleListExperts handles GET /v1/experts.
func (h *Handlers) HandleListExperts(w http.ResponseWriter, r *http.Request) {
	pool, err := h.catalog.Pool(r.Context())
	if err != nil {
		writeKindError(w, r, h.logger, model.Classify(err), nil)
		return
	}
	experts := pool.Candidates()
	writeJSON(w, r, http.StatusOK, model.ExpertListResponse{Experts: experts, Count: len(experts)})
}

// HandleGetExpert handles GET /v1/experts/{id}.
func (h *Handlers) HandleGetExpert(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := h.catalog.Lookup(r.Context(), id)
	if errors.Is(err, directory.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "expert not found")
		return
	}
	if err != nil {
		writeKindError(w, r, h.logger, model.Classify(err), nil)
		return
	}
	writeJSON(w, r, http.StatusOK, c)
}

// HandleInvalidateDirectory handles POST /v1/directory/invalidate.
func (h *Handlers) HandleInvalidateDirectory(w http.ResponseWriter, r *http.Request) {
	epoch := h.catalog.Invalidate()
	caller := "anonymous"
	if p, ok := ctxutil.PrincipalFromContext(r.Context()); ok {
		caller = p.Name
	}
	h.logger.Info("directory invalidated via api", "epoch", epoch, "caller", caller)
	writeJSON(w, r, http.StatusOK, h.catalog.Status())
}

// HandleHealth handles GET /health. It reports cache state without
// triggering a directory fetch.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Directory: h.catalog.Status(),
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleOpenAPI handles GET /openapi.yaml.
func (h *Handlers) HandleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(h.openAPISpec)
}
