// Package model defines the domain types shared across guidematch: flows,
// guides, candidates, selections, outcomes, the error taxonomy, and the HTTP
// request/response envelopes.
package model

import (
	"fmt"
	"time"
)

// Field length limits for caller-supplied text.
const (
	MaxAnswersKeys     = 100
	MaxGuideContentLen = 64 * 1024 // 64 KB
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for transport-level API errors. Orchestration failures
// use the ErrorKind values instead.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// Role is the caller's API role.
type Role string

const (
	RoleClient Role = "client"
	RoleAdmin  Role = "admin"
)

var roleRank = map[Role]int{RoleClient: 1, RoleAdmin: 2}

// RoleAtLeast reports whether have meets or exceeds want.
func RoleAtLeast(have, want Role) bool {
	return roleRank[have] >= roleRank[want] && roleRank[want] > 0
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := roleRank[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	APIKey string `json:"api_key"`
}

// AuthTokenResponse is returned by POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// PlanTripRequest is the request body for POST /v1/trips.
type PlanTripRequest struct {
	FlowType string  `json:"flow_type"`
	Answers  Answers `json:"answers"`
}

// ToTripRequest validates the wire fields and normalizes the flow alias.
func (r PlanTripRequest) ToTripRequest() (TripRequest, error) {
	if r.FlowType == "" || r.Answers == nil {
		return TripRequest{}, NewError(KindValidation, "missing required fields: flow_type or answers")
	}
	flow, err := ParseFlowType(r.FlowType)
	if err != nil {
		return TripRequest{}, NewError(KindValidation, err.Error())
	}
	if len(r.Answers) > MaxAnswersKeys {
		return TripRequest{}, NewError(KindValidation, fmt.Sprintf("answers exceed %d keys", MaxAnswersKeys))
	}
	req := TripRequest{FlowType: flow, Answers: r.Answers}
	if err := req.Validate(); err != nil {
		return TripRequest{}, err
	}
	return req, nil
}

// PlanTripResponse is the body of a POST /v1/trips response. Experts holds
// the display records for the selected identifiers, sentinels excluded.
type PlanTripResponse struct {
	OrchestrationOutcome
	Degraded bool        `json:"degraded"`
	Warning  string      `json:"warning,omitempty"`
	Experts  []Candidate `json:"experts"`
}

// SelectExpertRequest is the request body for POST /v1/experts/select.
type SelectExpertRequest struct {
	Guide *TravelGuide `json:"guide"`
}

// ToGuide validates the guide supplied by the caller.
func (r SelectExpertRequest) ToGuide() (TravelGuide, error) {
	if r.Guide == nil {
		return TravelGuide{}, NewError(KindValidation, "missing required field: guide")
	}
	g := *r.Guide
	if g.FlowType == "" || g.Content == "" {
		return TravelGuide{}, NewError(KindValidation, "guide must contain flow_type and content")
	}
	flow, err := ParseFlowType(string(g.FlowType))
	if err != nil {
		return TravelGuide{}, NewError(KindValidation, err.Error())
	}
	if len(g.Content) > MaxGuideContentLen {
		return TravelGuide{}, NewError(KindValidation, fmt.Sprintf("guide content exceeds %d bytes", MaxGuideContentLen))
	}
	g.FlowType = flow
	return g, nil
}

// SelectExpertResponse is the body of a POST /v1/experts/select response.
type SelectExpertResponse struct {
	SelectionResult
	Experts []Candidate `json:"experts"`
}

// ExpertListResponse is returned by GET /v1/experts.
type ExpertListResponse struct {
	Experts []Candidate `json:"experts"`
	Count   int         `json:"count"`
}

// DirectoryStatus describes the candidate cache.
type DirectoryStatus struct {
	Backend   string     `json:"backend"`
	Populated bool       `json:"populated"`
	Size      int        `json:"size"`
	Epoch     uint64     `json:"epoch"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Directory DirectoryStatus `json:"directory"`
	Uptime    int64           `json:"uptime_seconds"`
}
