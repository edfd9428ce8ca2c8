package ratelimit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(rate float64, burst int) (*MemoryLimiter, *fakeClock) {
	clk := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	return newMemoryLimiter(rate, burst, clk.now), clk
}

func TestMemoryLimiterBurstThenDeny(t *testing.T) {
	m, _ := newTestLimiter(2, 3)
	ctx := context.Background()

	for i := range 3 {
		d, err := m.Allow(ctx, "k")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d within burst", i)
		assert.Equal(t, 2-i, d.Remaining)
	}

	d, err := m.Allow(ctx, "k")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 500*time.Millisecond, d.RetryAfter)
}

func TestMemoryLimiterRefill(t *testing.T) {
	m, clk := newTestLimiter(2, 1)
	ctx := context.Background()

	d, _ := m.Allow(ctx, "k")
	require.True(t, d.Allowed)
	d, _ = m.Allow(ctx, "k")
	require.False(t, d.Allowed)

	clk.advance(250 * time.Millisecond)
	d, _ = m.Allow(ctx, "k")
	assert.False(t, d.Allowed)
	assert.Equal(t, 250*time.Millisecond, d.RetryAfter)

	clk.advance(250 * time.Millisecond)
	d, _ = m.Allow(ctx, "k")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiterRefillCapsAtBurst(t *testing.T) {
	m, clk := newTestLimiter(100, 2)
	ctx := context.Background()
	_, _ = m.Allow(ctx, "k")
	clk.advance(time.Hour)

	allowed := 0
	for range 5 {
		if d, _ := m.Allow(ctx, "k"); d.Allowed {
			allowed++
		}
	}
	assert.Equal(t, 2, allowed)
}

func TestMemoryLimiterKeysIndependent(t *testing.T) {
	m, _ := newTestLimiter(1, 1)
	ctx := context.Background()
	d, _ := m.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = m.Allow(ctx, "b")
	assert.True(t, d.Allowed)
	d, _ = m.Allow(ctx, "a")
	assert.False(t, d.Allowed)
}

func TestMemoryLimiterEvictsStale(t *testing.T) {
	m, clk := newTestLimiter(1, 1)
	ctx := context.Background()
	_, _ = m.Allow(ctx, "old")
	clk.advance(staleThreshold + time.Second)
	_, _ = m.Allow(ctx, "fresh")

	m.evictStale()
	assert.Equal(t, 1, m.size())
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	m := NewMemoryLimiter(0.001, 50)
	defer func() { require.NoError(t, m.Close()) }()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 100 {
		wg.Go(func() {
			d, err := m.Allow(context.Background(), "shared")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
	require.NoError(t, m.Close(), "close is idempotent")
}

type errLimiter struct{}

func (errLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("backend down")
}
func (errLimiter) Close() error { return nil }

func serve(t *testing.T, l Limiter, key string) *httptest.ResponseRecorder {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := Middleware(l, func(*http.Request) string { return key },
		func(w http.ResponseWriter, _ *http.Request, _ time.Duration) {
			w.WriteHeader(http.StatusTooManyRequests)
		}, logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	return rec
}

func TestMiddleware(t *testing.T) {
	m, _ := newTestLimiter(0.5, 1)

	rec := serve(t, m, "k")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = serve(t, m, "k")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusNoContent, serve(t, m, "").Code, "empty key skips limiting")
	assert.Equal(t, http.StatusNoContent, serve(t, errLimiter{}, "k").Code, "fails open")
	assert.Equal(t, http.StatusNoContent, serve(t, NoopLimiter{}, "k").Code)
}

func TestRetryAfterSeconds(t *testing.T) {
	assert.Equal(t, 1, RetryAfterSeconds(0))
	assert.Equal(t, 1, RetryAfterSeconds(200*time.Millisecond))
	assert.Equal(t, 3, RetryAfterSeconds(2100*time.Millisecond))
}

func TestIPKeyFunc(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "203.0.113.7:5123"
	assert.Equal(t, "ip:203.0.113.7", IPKeyFunc(r))

	r.RemoteAddr = "[2001:db8::1]:443"
	assert.Equal(t, "ip:2001:db8::1", IPKeyFunc(r))

	r.RemoteAddr = "unix"
	assert.Equal(t, "ip:unix", IPKeyFunc(r))
}
