package guidematch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is exchanged for a JWT token. Leave empty for servers running
	// without authentication.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 2-minute timeout is used; trip planning waits on two model calls.
	HTTPClient *http.Client

	// Timeout applies to the default HTTP client. Defaults to 2 minutes.
	Timeout time.Duration
}

// Client is an HTTP client for the guidematch API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager // nil when no API key is configured
}

// NewClient creates a Client from the given configuration.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("guidematch: BaseURL is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	c := &Client{baseURL: baseURL, client: httpClient}
	if cfg.APIKey != "" {
		c.tokenMgr = newTokenManager(baseURL, cfg.APIKey, httpClient)
	}
	return c, nil
}

// PlanTrip generates a guide and matches experts for it. A degraded run
// (guide produced, directory unavailable) is returned without error; check
// TripOutcome.Degraded. A failed run returns an *Error whose Outcome may
// still carry the guide.
func (c *Client) PlanTrip(ctx context.Context, req PlanTripRequest) (*TripOutcome, error) {
	var out TripOutcome
	if err := c.post(ctx, "/v1/trips", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SelectExperts matches experts for a guide the caller already holds.
func (c *Client) SelectExperts(ctx context.Context, guide Guide) (*SelectionResult, error) {
	var out SelectionResult
	if err := c.post(ctx, "/v1/experts/select", map[string]any{"guide": guide}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListExperts returns the experts currently eligible for matching.
func (c *Client) ListExperts(ctx context.Context) ([]Expert, error) {
	var out struct {
		Experts []Expert `json:"experts"`
	}
	if err := c.get(ctx, "/v1/experts", &out); err != nil {
		return nil, err
	}
	return out.Experts, nil
}

// GetExpert returns one expert by id.
func (c *Client) GetExpert(ctx context.Context, id string) (*Expert, error) {
	var out Expert
	if err := c.get(ctx, "/v1/experts/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// InvalidateDirectory drops the server's cached expert pool. Requires the
// admin role when authentication is enabled.
func (c *Client) InvalidateDirectory(ctx context.Context) (*DirectoryStatus, error) {
	var out DirectoryStatus
	if err := c.post(ctx, "/v1/directory/invalidate", struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health calls the public health endpoint.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// apiEnvelope is the server's standard success response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string          `json:"code"`
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("guidematch: marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, encoded, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	return c.do(ctx, http.MethodGet, path, nil, dest)
}

// do sends one request. A 401 with a cached token refreshes the token and
// retries once.
func (c *Client) do(ctx context.Context, method, path string, body []byte, dest any) error {
	err := c.send(ctx, method, path, body, dest)
	if c.tokenMgr != nil && IsUnauthorized(err) {
		c.tokenMgr.invalidate()
		err = c.send(ctx, method, path, body, dest)
	}
	return err
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, dest any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("guidematch: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokenMgr != nil {
		token, err := c.tokenMgr.getToken(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("guidematch: %s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("guidematch: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp, bodyBytes)
	}
	if dest == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("guidematch: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return json.Unmarshal(bodyBytes, dest)
	}
	return json.Unmarshal(envelope.Data, dest)
}

func parseErrorResponse(resp *http.Response, body []byte) *Error {
	apiErr := &Error{StatusCode: resp.StatusCode}
	if s, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && s > 0 {
		apiErr.RetryAfter = time.Duration(s) * time.Second
	}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
		apiErr.Details = envelope.Error.Details
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = string(body)
	}
	return apiErr
}
