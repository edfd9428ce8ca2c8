package guidematch

import (
	"encoding/json"
	"time"
)

// Flow types.
const (
	FlowSingleDestination = "single-destination"
	FlowMultiIdea         = "multi-idea"
)

// NoMatch is the single-destination selection meaning no expert fits.
const NoMatch = "NO_MATCH"

// Expert is one directory entry.
type Expert struct {
	ID         string `json:"id"`
	Profession string `json:"profession"`
	Bio        string `json:"bio"`
	Name       string `json:"name,omitempty"`
	AvatarURL  string `json:"avatar_url,omitempty"`
	ProfileURL string `json:"profile_url,omitempty"`
}

// Guide is a generated travel guide.
type Guide struct {
	ID             string    `json:"id,omitempty"`
	FlowType       string    `json:"flow_type"`
	Title          string    `json:"title,omitempty"`
	Content        string    `json:"content"`
	GeneratedAt    time.Time `json:"generated_at,omitempty"`
	AnswersSummary string    `json:"answers_summary,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
}

// Selection holds the selected expert ids. A single-destination selection
// has one element, which may be NoMatch.
type Selection []string

// UnmarshalJSON accepts either a string or an array of strings.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = Selection{single}
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return err
	}
	*s = multi
	return nil
}

// OutcomeError is the classified error attached to a failed or degraded run.
type OutcomeError struct {
	Kind    string `json:"kind"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// Timing reports per-phase durations in milliseconds.
type Timing struct {
	GuideMs int64 `json:"guide_ms"`
	MatchMs int64 `json:"match_ms"`
	TotalMs int64 `json:"total_ms"`
}

// TripOutcome is the result of one trip planning run.
type TripOutcome struct {
	Success     bool          `json:"success"`
	Status      string        `json:"status"`
	Guide       *Guide        `json:"guide,omitempty"`
	SelectedIDs Selection     `json:"selected_ids,omitempty"`
	Timing      Timing        `json:"timing"`
	Error       *OutcomeError `json:"error,omitempty"`
	Degraded    bool          `json:"degraded"`
	Warning     string        `json:"warning,omitempty"`
	Experts     []Expert      `json:"experts"`
}

// PlanTripRequest is the input to PlanTrip.
type PlanTripRequest struct {
	FlowType string         `json:"flow_type"`
	Answers  map[string]any `json:"answers"`
}

// SelectionResult is the result of SelectExperts.
type SelectionResult struct {
	Success     bool          `json:"success"`
	SelectedIDs Selection     `json:"selected_ids"`
	Error       *OutcomeError `json:"error,omitempty"`
	Experts     []Expert      `json:"experts"`
}

// DirectoryStatus describes the server's cached expert pool.
type DirectoryStatus struct {
	Backend   string     `json:"backend"`
	Populated bool       `json:"populated"`
	Size      int        `json:"size"`
	Epoch     uint64     `json:"epoch"`
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

// Health is returned by the health endpoint.
type Health struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Directory DirectoryStatus `json:"directory"`
	Uptime    int64           `json:"uptime_seconds"`
}
