// Package ctxutil holds context accessors shared by server and mcp. Both
// read the authenticated principal that server's auth middleware stores.
package ctxutil

import (
	"context"

	"github.com/wayfarer-labs/guidematch/internal/auth"
)

type contextKey string

const (
	keyPrincipal contextKey = "principal"
	keyRequestID contextKey = "request_id"
)

// WithPrincipal returns a new context carrying the caller.
func WithPrincipal(ctx context.Context, p auth.Principal) context.Context {
	return context.WithValue(ctx, keyPrincipal, p)
}

// PrincipalFromContext returns the caller, if auth ran.
func PrincipalFromContext(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(keyPrincipal).(auth.Principal)
	return p, ok
}

// WithRequestID returns a new context carrying the request id.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyRequestID, id)
}

// RequestIDFromContext returns the request id or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(keyRequestID).(string)
	return id
}
