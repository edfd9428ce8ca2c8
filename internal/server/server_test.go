package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-labs/guidematch/internal/auth"
	"github.com/wayfarer-labs/guidematch/internal/directory"
	"github.com/wayfarer-labs/guidematch/internal/guide"
	"github.com/wayfarer-labs/guidematch/internal/llm"
	"github.com/wayfarer-labs/guidematch/internal/matching"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/orchestrator"
	"github.com/wayfarer-labs/guidematch/internal/ratelimit"
	"github.com/wayfarer-labs/guidematch/internal/server"
	"github.com/wayfarer-labs/guidematch/internal/testutil"
)

type stubSource struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (s *stubSource) Name() string { return "stub" }

func (s *stubSource) ListCandidates(context.Context) ([]model.Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return testutil.Experts(), nil
}

func (s *stubSource) fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type stubCompleter struct {
	reply string
	err   error
	delay time.Duration
}

func (c *stubCompleter) Complete(ctx context.Context, _ llm.Prompt) (string, error) {
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return c.reply, c.err
}

type env struct {
	src     *stubSource
	llm     *stubCompleter
	handler http.Handler
}

type envOpt func(*server.ServerConfig)

func newEnv(t *testing.T, opts ...envOpt) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	gen, err := guide.NewStaticGenerator()
	require.NoError(t, err)
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)

	e := &env{src: &stubSource{}, llm: &stubCompleter{}}
	dir := directory.New(e.src, 0, logger)
	orch := orchestrator.New(gen, dir, matching.NewMatcher(e.llm, time.Second, logger), logger)

	cfg := server.ServerConfig{
		Planner:             orch,
		Catalog:             dir,
		JWTMgr:              jwtMgr,
		Logger:              logger,
		RequestTimeout:      5 * time.Second,
		MaxRequestBodyBytes: 4096,
		Version:             "test",
	}
	for _, o := range opts {
		o(&cfg)
	}
	e.handler = server.New(cfg).Handler()
	return e
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
	Meta struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (e *env) do(t *testing.T, method, path, body, token string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.RemoteAddr = "198.51.100.4:40000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), rec.Body.String())
	}
	return rec, env
}

type tripData struct {
	Success     bool               `json:"success"`
	Status      string             `json:"status"`
	Guide       *model.TravelGuide `json:"guide"`
	SelectedIDs json.RawMessage    `json:"selected_ids"`
	Degraded    bool               `json:"degraded"`
	Warning     string             `json:"warning"`
	Experts     []model.Candidate  `json:"experts"`
}

func TestHealthDoesNotFetchDirectory(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var h model.HealthResponse
	require.NoError(t, json.Unmarshal(body.Data, &h))
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, "test", h.Version)
	assert.False(t, h.Directory.Populated)
	assert.Zero(t, e.src.fetches())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestPlanTripSingleCompleted(t *testing.T) {
	e := newEnv(t)
	e.llm.reply = "rec_kyoto"

	rec, body := e.do(t, http.MethodPost, "/v1/trips",
		`{"flow_type":"i-know-where","answers":{"destination":"Kyoto"}}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d tripData
	require.NoError(t, json.Unmarshal(body.Data, &d))
	assert.True(t, d.Success)
	assert.Equal(t, "completed", d.Status)
	assert.False(t, d.Degraded)
	assert.JSONEq(t, `"rec_kyoto"`, string(d.SelectedIDs))
	require.NotNil(t, d.Guide)
	require.Len(t, d.Experts, 1)
	assert.Equal(t, "Aiko Tanaka", d.Experts[0].Name)
}

func TestPlanTripMultiCompleted(t *testing.T) {
	e := newEnv(t)
	e.llm.reply = "```json\n[\"rec_patagonia\", \"rec_safari\", \"rec_lisbon\"]\n```"

	rec, body := e.do(t, http.MethodPost, "/v1/trips",
		`{"flow_type":"multi-idea","answers":{"interests":["hiking","food"]}}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d tripData
	require.NoError(t, json.Unmarshal(body.Data, &d))
	assert.JSONEq(t, `["rec_patagonia","rec_safari","rec_lisbon"]`, string(d.SelectedIDs))
	require.Len(t, d.Experts, 3)
	assert.Equal(t, "rec_safari", d.Experts[1].ID)
}

func TestPlanTripDegradedWhenDirectoryDown(t *testing.T) {
	e := newEnv(t)
	e.src.err = errors.New("airtable: 503")
	e.llm.reply = "rec_kyoto"

	rec, body := e.do(t, http.MethodPost, "/v1/trips",
		`{"flow_type":"single-destination","answers":{"destination":"Kyoto"}}`, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var d tripData
	require.NoError(t, json.Unmarshal(body.Data, &d))
	assert.True(t, d.Success)
	assert.True(t, d.Degraded)
	assert.Equal(t, "degraded", d.Status)
	assert.NotEmpty(t, d.Warning)
	assert.JSONEq(t, `"NO_MATCH"`, string(d.SelectedIDs))
	assert.Empty(t, d.Experts)
	assert.NotNil(t, d.Guide)
	assert.NotContains(t, rec.Body.String(), "airtable: 503", "raw cause never reaches callers")
}

func TestPlanTripFailureStatusByKind(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		err        error
		status     int
		code       string
		retryAfter string
	}{
		{"contract violation", "rec_unknown", nil, http.StatusBadGateway, "selection_error", ""},
		{"malformed", "I suggest Aiko", nil, http.StatusBadGateway, "selection_error", ""},
		{"quota", "", &llm.APIError{Provider: "openai", StatusCode: 429, Code: "insufficient_quota"}, http.StatusTooManyRequests, "quota_exceeded", "60"},
		{"rate limited", "", &llm.APIError{Provider: "openai", StatusCode: 429}, http.StatusTooManyRequests, "rate_limited", "30"},
		{"upstream auth", "", &llm.APIError{Provider: "openai", StatusCode: 401}, http.StatusBadGateway, "auth_error", ""},
		{"upstream 5xx", "", &llm.APIError{Provider: "openai", StatusCode: 503}, http.StatusServiceUnavailable, "network_error", ""},
		{"unknown", "", errors.New("weird"), http.StatusInternalServerError, "unknown", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.llm.reply, e.llm.err = tt.reply, tt.err

			rec, body := e.do(t, http.MethodPost, "/v1/trips",
				`{"flow_type":"single-destination","answers":{"destination":"Kyoto"}}`, "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, model.ErrorKind(tt.code).UserMessage(), body.Error.Message)
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			assert.NotContains(t, rec.Body.String(), "weird")

			var d tripData
			require.NoError(t, json.Unmarshal(body.Error.Details, &d))
			assert.Equal(t, "failed", d.Status)
			assert.NotNil(t, d.Guide, "guide kept for the caller")
		})
	}
}

func TestPlanTripValidation(t *testing.T) {
	e := newEnv(t)
	bodies := map[string]string{
		"bad flow":      `{"flow_type":"weekend","answers":{"a":1}}`,
		"no answers":    `{"flow_type":"multi-idea"}`,
		"unknown field": `{"flow_type":"multi-idea","answers":{"a":1},"extra":true}`,
		"not json":      `flow=multi`,
		"trailing data": `{"flow_type":"multi-idea","answers":{"a":1}} {}`,
	}
	for name, b := range bodies {
		t.Run(name, func(t *testing.T) {
			rec, body := e.do(t, http.MethodPost, "/v1/trips", b, "")
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "validation_error", body.Error.Code)
		})
	}
	assert.Zero(t, e.src.fetches(), "rejected before any remote call")
}

func TestPlanTripBodyTooLarge(t *testing.T) {
	e := newEnv(t)
	big := `{"flow_type":"multi-idea","answers":{"notes":"` + strings.Repeat("x", 5000) + `"}}`
	rec, _ := e.do(t, http.MethodPost, "/v1/trips", big, "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestPlanTripDeadlineIsNetworkError(t *testing.T) {
	e := newEnv(t, func(c *server.ServerConfig) { c.RequestTimeout = 50 * time.Millisecond })
	e.llm.reply = "rec_kyoto"
	e.llm.delay = 500 * time.Millisecond

	start := time.Now()
	rec, body := e.do(t, http.MethodPost, "/v1/trips",
		`{"flow_type":"single-destination","answers":{"destination":"Kyoto"}}`, "")
	assert.Less(t, time.Since(start), 400*time.Millisecond)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "network_error", body.Error.Code)
}

func TestSelectExpert(t *testing.T) {
	e := newEnv(t)
	e.llm.reply = `"rec_patagonia"`

	rec, body := e.do(t, http.MethodPost, "/v1/experts/select",
		`{"guide":{"flow_type":"single-destination","content":"Five days trekking around Fitz Roy."}}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var d struct {
		Success     bool              `json:"success"`
		SelectedIDs string            `json:"selected_ids"`
		Experts     []model.Candidate `json:"experts"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &d))
	assert.True(t, d.Success)
	assert.Equal(t, "rec_patagonia", d.SelectedIDs)
	require.Len(t, d.Experts, 1)
}

func TestSelectExpertDirectoryDownIsDatabaseError(t *testing.T) {
	e := newEnv(t)
	e.src.err = errors.New("connection refused")

	rec, body := e.do(t, http.MethodPost, "/v1/experts/select",
		`{"guide":{"flow_type":"multi-idea","content":"Three alpine ideas."}}`, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "database_error", body.Error.Code)
}

func TestSelectExpertMissingGuide(t *testing.T) {
	e := newEnv(t)
	rec, body := e.do(t, http.MethodPost, "/v1/experts/select", `{}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body.Error.Code)
}

func TestListAndGetExperts(t *testing.T) {
	e := newEnv(t)

	rec, body := e.do(t, http.MethodGet, "/v1/experts", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list model.ExpertListResponse
	require.NoError(t, json.Unmarshal(body.Data, &list))
	assert.Equal(t, 5, list.Count)

	rec, body = e.do(t, http.MethodGet, "/v1/experts/rec_lisbon", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var c model.Candidate
	require.NoError(t, json.Unmarshal(body.Data, &c))
	assert.Equal(t, "Ines Costa", c.Name)

	rec, body = e.do(t, http.MethodGet, "/v1/experts/rec_nobody", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, model.ErrCodeNotFound, body.Error.Code)

	assert.Equal(t, 1, e.src.fetches(), "one fetch per epoch")
}

func TestInvalidateStartsNewEpoch(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/v1/experts", "", "")

	rec, body := e.do(t, http.MethodPost, "/v1/directory/invalidate", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var st model.DirectoryStatus
	require.NoError(t, json.Unmarshal(body.Data, &st))
	assert.Equal(t, uint64(1), st.Epoch)
	assert.False(t, st.Populated)

	e.do(t, http.MethodGet, "/v1/experts", "", "")
	assert.Equal(t, 2, e.src.fetches())
}

func withKeys(t *testing.T, spec map[string]string) envOpt {
	t.Helper()
	var entries []string
	for name, roleKey := range spec {
		role, key, _ := strings.Cut(roleKey, "=")
		h, err := auth.HashAPIKey(key)
		require.NoError(t, err)
		entries = append(entries, name+":"+role+":"+h)
	}
	ring, err := auth.ParseKeyRing(strings.Join(entries, ","))
	require.NoError(t, err)
	return func(c *server.ServerConfig) { c.Keys = ring }
}

func (e *env) token(t *testing.T, apiKey string) string {
	t.Helper()
	rec, body := e.do(t, http.MethodPost, "/auth/token", `{"api_key":"`+apiKey+`"}`, "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var tok model.AuthTokenResponse
	require.NoError(t, json.Unmarshal(body.Data, &tok))
	return tok.Token
}

func TestAuthFlow(t *testing.T) {
	e := newEnv(t, withKeys(t, map[string]string{
		"web": "client=web-secret",
		"ops": "admin=ops-secret",
	}))

	rec, _ := e.do(t, http.MethodGet, "/v1/experts", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/v1/experts", "", "garbage")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = e.do(t, http.MethodPost, "/auth/token", `{"api_key":"wrong"}`, "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health stays public")

	client := e.token(t, "web-secret")
	rec, _ = e.do(t, http.MethodGet, "/v1/experts", "", client)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = e.do(t, http.MethodPost, "/v1/directory/invalidate", "", client)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin := e.token(t, "ops-secret")
	rec, _ = e.do(t, http.MethodPost, "/v1/directory/invalidate", "", admin)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthTokenDisabledWithoutKeys(t *testing.T) {
	e := newEnv(t)
	rec, _ := e.do(t, http.MethodPost, "/auth/token", `{"api_key":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRateLimitByCaller(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(0.01, 2)
	t.Cleanup(func() { _ = limiter.Close() })
	e := newEnv(t, func(c *server.ServerConfig) { c.Limiter = limiter })

	for i := range 2 {
		rec, _ := e.do(t, http.MethodGet, "/v1/experts", "", "")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i)
	}
	rec, body := e.do(t, http.MethodGet, "/v1/experts", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	rec, _ = e.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code, "health is not rate limited")
}

type panicPlanner struct{ server.Planner }

func (panicPlanner) Run(context.Context, model.TripRequest) model.OrchestrationOutcome {
	panic("boom")
}

func TestRecoveryAndRequestID(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	jwtMgr, err := auth.NewJWTManager("", "", time.Hour)
	require.NoError(t, err)
	dir := directory.New(&stubSource{}, 0, logger)

	var seen string
	h := server.New(server.ServerConfig{
		Planner: panicPlanner{},
		Catalog: dir,
		JWTMgr:  jwtMgr,
		Logger:  logger,
		Middleware: []func(http.Handler) http.Handler{
			func(next http.Handler) http.Handler {
				return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					seen = r.Header.Get("X-Request-ID")
					next.ServeHTTP(w, r)
				})
			},
		},
	}).Handler()

	req := httptest.NewRequest(http.MethodPost, "/v1/trips",
		bytes.NewBufferString(`{"flow_type":"multi-idea","answers":{"a":1}}`))
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "req-123", seen, "custom middleware ran")
	assert.Contains(t, rec.Body.String(), `"request_id":"req-123"`)
}

func TestOpenAPIServedWithoutAuth(t *testing.T) {
	spec := []byte("openapi: 3.1.0\n")
	e := newEnv(t,
		withKeys(t, map[string]string{"web": "client=web-secret"}),
		func(c *server.ServerConfig) { c.OpenAPISpec = spec },
	)

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
	assert.Equal(t, string(spec), rec.Body.String())
}

func TestOpenAPIAbsentWhenUnset(t *testing.T) {
	e := newEnv(t)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
