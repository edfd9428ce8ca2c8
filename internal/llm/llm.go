// Package llm provides chat-completion clients for the generative model
// providers used for guide writing and expert matching.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// Prompt is one chat-completion request.
type Prompt struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int // Zero leaves the provider default.
}

// Completer sends a prompt to a model and returns its raw text reply.
// Implementations make exactly one remote call and never retry.
type Completer interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Providers.
const (
	ProviderAuto   = "auto"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// Config selects and configures a provider.
type Config struct {
	Provider      string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OllamaURL     string
	Model         string
}

// New returns the Completer for cfg. The auto provider prefers OpenAI when an
// API key is present and falls back to a local Ollama server.
func New(cfg Config, logger *slog.Logger) (Completer, error) {
	provider := cfg.Provider
	if provider == "" || provider == ProviderAuto {
		provider = ProviderOllama
		if cfg.OpenAIAPIKey != "" {
			provider = ProviderOpenAI
		}
	}
	switch provider {
	case ProviderOpenAI:
		if cfg.OpenAIAPIKey == "" {
			return nil, fmt.Errorf("llm: openai provider requires an API key")
		}
		logger.Info("llm: using openai", "model", cfg.Model)
		return NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.Model), nil
	case ProviderOllama:
		logger.Info("llm: using ollama", "url", cfg.OllamaURL, "model", cfg.Model)
		return NewOllamaClient(cfg.OllamaURL, cfg.Model), nil
	default:
		return nil, fmt.Errorf("llm: unknown provider %q", cfg.Provider)
	}
}

// APIError is a non-2xx reply from a provider. It classifies itself onto the
// error taxonomy through Kind.
type APIError struct {
	Provider   string
	StatusCode int
	Type       string
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s: status %d", e.Provider, e.StatusCode)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Kind maps the provider status onto the error taxonomy.
func (e *APIError) Kind() model.ErrorKind {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		if e.Code == "insufficient_quota" || e.Type == "insufficient_quota" {
			return model.KindQuotaExceeded
		}
		return model.KindRateLimited
	case e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden:
		return model.KindAuth
	case e.StatusCode >= 500:
		return model.KindNetwork
	default:
		return model.KindUnknown
	}
}

// maxErrorBody bounds how much of an error reply is read.
const maxErrorBody = 4096

// readAPIError builds an APIError from a failed response. Both the OpenAI
// object form and the Ollama string form of the "error" field are accepted.
func readAPIError(provider string, resp *http.Response) *APIError {
	apiErr := &APIError{Provider: provider, StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var envelope struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Error) > 0 {
		var detail struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    string `json:"code"`
		}
		var text string
		switch {
		case json.Unmarshal(envelope.Error, &detail) == nil:
			apiErr.Message, apiErr.Type, apiErr.Code = detail.Message, detail.Type, detail.Code
		case json.Unmarshal(envelope.Error, &text) == nil:
			apiErr.Message = text
		}
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}

// newHTTPClient returns a client with an outer bound. Callers set tighter
// deadlines through their context.
func newHTTPClient() *http.Client {
	return &http.Client{Timeout: 3 * time.Minute}
}

// injectTrace propagates the caller's trace context to the provider.
func injectTrace(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// chatMessage is shared by both providers' chat endpoints.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func messages(p Prompt) []chatMessage {
	msgs := make([]chatMessage, 0, 2)
	if p.System != "" {
		msgs = append(msgs, chatMessage{Role: "system", Content: p.System})
	}
	return append(msgs, chatMessage{Role: "user", Content: p.User})
}
