package guidematch

import (
	"context"
	"net/http"
)

// ExpertSource lists the experts eligible for matching.
// When provided via WithExpertSource, replaces the configured directory
// backend. The result is cached and capped like any other backend.
type ExpertSource interface {
	ListExperts(ctx context.Context) ([]Expert, error)
}

// GuideWriter produces a travel guide from questionnaire answers.
// When provided via WithGuideWriter, replaces the LLM or static generator.
// A returned error fails the request; it is never retried.
type GuideWriter interface {
	WriteGuide(ctx context.Context, flow FlowType, answers map[string]any) (Guide, error)
}

// Completer sends one chat prompt to a generative model and returns the raw
// reply. When provided via WithCompleter, it serves both guide writing and
// expert matching in place of the OpenAI/Ollama clients.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Middleware wraps the HTTP handler inside the auth layer.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
