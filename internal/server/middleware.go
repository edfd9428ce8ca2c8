package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayfarer-labs/guidematch/internal/auth"
	"github.com/wayfarer-labs/guidematch/internal/ctxutil"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/ratelimit"
	"github.com/wayfarer-labs/guidematch/internal/telemetry"
)

// requestIDMiddleware assigns a unique request ID to each request. A
// caller-supplied X-Request-ID is kept when it is a sane length.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" || len(reqID) > 128 {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctxutil.WithRequestID(r.Context(), reqID)))
	})
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs each request with structured fields.
func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		attrs := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", ctxutil.RequestIDFromContext(r.Context()),
		}
		if tid := traceIDFromContext(r.Context()); tid != "" {
			attrs = append(attrs, "trace_id", tid)
		}
		if p, ok := wrapped.principal(); ok {
			attrs = append(attrs, "caller", p.Name)
		}

		level := slog.LevelInfo
		if wrapped.statusCode >= 500 {
			level = slog.LevelError
		} else if wrapped.statusCode >= 400 {
			level = slog.LevelWarn
		}
		logger.Log(r.Context(), level, "http request", attrs...)
	})
}

// statusWriter records the status code and, once auth has run further down
// the chain, the authenticated caller.
type statusWriter struct {
	http.ResponseWriter
	statusCode int
	caller     *auth.Principal
	wroteHead  bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHead {
		w.statusCode = code
		w.wroteHead = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	w.wroteHead = true
	return w.ResponseWriter.Write(b)
}

// Flush keeps streaming transports (MCP) working through the wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) principal() (auth.Principal, bool) {
	if w.caller == nil {
		return auth.Principal{}, false
	}
	return *w.caller, true
}

// recordCaller lets the auth middleware report the caller to outer wrappers.
func recordCaller(w http.ResponseWriter, p auth.Principal) {
	for {
		if sw, ok := w.(*statusWriter); ok {
			sw.caller = &p
		}
		u, ok := w.(interface{ Unwrap() http.ResponseWriter })
		if !ok {
			return
		}
		w = u.Unwrap()
	}
}

var (
	tracer    = telemetry.Tracer("guidematch/http")
	httpMeter = telemetry.Meter("guidematch/http")
)

// tracingMiddleware creates an OTEL span for each HTTP request
// and records request count and duration metrics.
func tracingMiddleware(next http.Handler) http.Handler {
	requests, _ := httpMeter.Int64Counter("http.server.request_count")
	duration, _ := httpMeter.Float64Histogram("http.server.duration", otelmetric.WithUnit("ms"))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.method", r.Method),
				attribute.String("http.url", r.URL.Path),
				attribute.String("http.request_id", ctxutil.RequestIDFromContext(r.Context())),
			),
		)
		defer span.End()

		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r.WithContext(ctx))

		attrs := []attribute.KeyValue{
			attribute.String("http.method", r.Method),
			attribute.String("http.route", r.URL.Path),
			attribute.String("http.status_code", strconv.Itoa(wrapped.statusCode)),
		}
		span.SetAttributes(attribute.Int("http.status_code", wrapped.statusCode))
		if p, ok := wrapped.principal(); ok {
			span.SetAttributes(
				attribute.String("guidematch.caller", p.Name),
				attribute.String("guidematch.role", string(p.Role)),
			)
		}

		if requests != nil {
			requests.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
		}
		if duration != nil {
			duration.Record(ctx, float64(time.Since(start).Milliseconds()), otelmetric.WithAttributes(attrs...))
		}
	})
}

// traceIDFromContext extracts the OTEL trace ID from the context, if any.
func traceIDFromContext(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// authMiddleware validates bearer tokens and stores the caller in the
// context. /health, /auth/token and /openapi.yaml are public.
func authMiddleware(jwtMgr *auth.JWTManager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" || r.URL.Path == "/auth/token" || r.URL.Path == "/openapi.yaml" {
			next.ServeHTTP(w, r)
			return
		}

		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "missing or malformed bearer token")
			return
		}
		claims, err := jwtMgr.ValidateToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid or expired token")
			return
		}

		p := auth.Principal{Name: claims.Subject, Role: claims.Role}
		recordCaller(w, p)
		next.ServeHTTP(w, r.WithContext(ctxutil.WithPrincipal(r.Context(), p)))
	})
}

// requireRole enforces a minimum role. With auth disabled every request
// passes.
func requireRole(enabled bool, want model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !enabled {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := ctxutil.PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "authentication required")
				return
			}
			if !model.RoleAtLeast(p.Role, want) {
				writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// callerKeyFunc keys the rate limit by caller, falling back to client IP.
// Admins are exempt.
func callerKeyFunc(r *http.Request) string {
	p, ok := ctxutil.PrincipalFromContext(r.Context())
	if !ok {
		return ratelimit.IPKeyFunc(r)
	}
	if model.RoleAtLeast(p.Role, model.RoleAdmin) {
		return ""
	}
	return "key:" + p.Name
}

func writeRateLimited(w http.ResponseWriter, r *http.Request, _ time.Duration) {
	writeError(w, r, http.StatusTooManyRequests, model.ErrCodeRateLimited, "too many requests")
}

// recoveryMiddleware turns a handler panic into a 500.
func recoveryMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			logger.Error("http: handler panic",
				"panic", rec,
				"path", r.URL.Path,
				"request_id", ctxutil.RequestIDFromContext(r.Context()),
				"stack", string(debug.Stack()),
			)
			writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response with the standard envelope.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIResponse{
		Data: data,
		Meta: meta(r),
	})
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetails(w, r, status, code, message, nil)
}

func writeErrorDetails(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(model.APIError{
		Error: model.ErrorDetail{Code: code, Message: message, Details: details},
		Meta:  meta(r),
	})
}

func meta(r *http.Request) model.ResponseMeta {
	return model.ResponseMeta{
		RequestID: ctxutil.RequestIDFromContext(r.Context()),
		Timestamp: time.Now().UTC(),
	}
}

// Retry-After hints for upstream throttling.
const (
	retryAfterRateLimited = 30 * time.Second
	retryAfterQuota       = 60 * time.Second
)

// kindStatus maps an error kind to its HTTP status.
func kindStatus(k model.ErrorKind) int {
	switch k {
	case model.KindValidation:
		return http.StatusBadRequest
	case model.KindQuotaExceeded, model.KindRateLimited:
		return http.StatusTooManyRequests
	case model.KindAuth, model.KindSelection:
		return http.StatusBadGateway
	case model.KindNetwork, model.KindDatabase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeKindError writes a classified failure. Only the kind's stable message
// and our own detail reach the caller; the cause is logged.
func writeKindError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, me *model.Error, details any) {
	switch me.Kind {
	case model.KindRateLimited:
		w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(retryAfterRateLimited)))
	case model.KindQuotaExceeded:
		w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(retryAfterQuota)))
	}
	status := kindStatus(me.Kind)
	if status >= 500 {
		logger.Error("request failed",
			"path", r.URL.Path,
			"error_kind", me.Kind,
			"request_id", ctxutil.RequestIDFromContext(r.Context()),
			"error", me,
		)
	}
	if details == nil && (me.Reason != "" || me.Detail != "") {
		details = me
	}
	writeErrorDetails(w, r, status, string(me.Kind), me.Kind.UserMessage(), details)
}

// decodeJSON decodes a size-limited JSON body, rejecting unknown fields and
// trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

// handleDecodeError writes the response for a body that failed decodeJSON.
func handleDecodeError(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		writeError(w, r, http.StatusRequestEntityTooLarge, model.ErrCodeInvalidInput,
			"request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
		return
	}
	writeError(w, r, http.StatusBadRequest, string(model.KindValidation), "invalid request body: "+err.Error())
}
