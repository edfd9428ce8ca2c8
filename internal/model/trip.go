package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// FlowType selects which request shape governs the expected selection cardinality.
type FlowType string

const (
	// FlowSingleDestination is one itinerary matched to one expert.
	FlowSingleDestination FlowType = "single-destination"
	// FlowMultiIdea is three itinerary ideas matched to three distinct experts.
	FlowMultiIdea FlowType = "multi-idea"
)

// NoMatch is the reserved identifier meaning no candidate is a reasonable fit.
const NoMatch = "NO_MATCH"

// MultiIdeaCount is the number of itinerary ideas (and experts) in a multi-idea flow.
const MultiIdeaCount = 3

// flowAliases maps the questionnaire's wire names onto flow types.
var flowAliases = map[string]FlowType{
	string(FlowSingleDestination): FlowSingleDestination,
	string(FlowMultiIdea):         FlowMultiIdea,
	"i-know-where":                FlowSingleDestination,
	"inspire-me":                  FlowMultiIdea,
}

// ParseFlowType normalizes a flow name, accepting the questionnaire aliases.
func ParseFlowType(s string) (FlowType, error) {
	if f, ok := flowAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return f, nil
	}
	return "", fmt.Errorf("unsupported flow type %q: must be %q or %q", s, FlowSingleDestination, FlowMultiIdea)
}

// Valid reports whether f is one of the two supported flows.
func (f FlowType) Valid() bool {
	return f == FlowSingleDestination || f == FlowMultiIdea
}

// Answers holds the questionnaire answers for one request. Values are whatever
// the questionnaire produced (strings, numbers, string lists).
type Answers map[string]any

// TripRequest is the caller's request descriptor.
type TripRequest struct {
	FlowType FlowType `json:"flow_type"`
	Answers  Answers  `json:"answers"`
}

// Validate rejects malformed caller input before any remote call is made.
func (r TripRequest) Validate() error {
	if !r.FlowType.Valid() {
		return NewError(KindValidation, fmt.Sprintf("unsupported flow type %q", r.FlowType))
	}
	if len(r.Answers) == 0 {
		return NewError(KindValidation, "answers are required")
	}
	return nil
}

// TravelGuide is a generated itinerary. Immutable once produced.
type TravelGuide struct {
	ID             string    `json:"id"`
	FlowType       FlowType  `json:"flow_type"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	GeneratedAt    time.Time `json:"generated_at"`
	AnswersSummary string    `json:"answers_summary,omitempty"`
	Tags           []string  `json:"tags,omitempty"`
}

// Candidate is one expert eligible for matching. Only ID, Profession and Bio
// are sent to the matching service; the rest is display data.
type Candidate struct {
	ID         string `json:"id" yaml:"id"`
	Profession string `json:"profession" yaml:"profession"`
	Bio        string `json:"bio" yaml:"bio"`
	Name       string `json:"name,omitempty" yaml:"name"`
	AvatarURL  string `json:"avatar_url,omitempty" yaml:"avatar_url"`
	ProfileURL string `json:"profile_url,omitempty" yaml:"profile_url"`
}

// CandidatePool is an ordered snapshot of candidates, unique by ID.
// Build one with NewCandidatePool; the zero value is an empty pool.
type CandidatePool struct {
	candidates []Candidate
	index      map[string]int
}

// NewCandidatePool builds a pool from candidates, dropping entries with an
// empty or reserved (NoMatch) ID and keeping the first occurrence of each
// duplicate ID.
func NewCandidatePool(candidates []Candidate) CandidatePool {
	p := CandidatePool{
		candidates: make([]Candidate, 0, len(candidates)),
		index:      make(map[string]int, len(candidates)),
	}
	for _, c := range candidates {
		c.ID = strings.TrimSpace(c.ID)
		if c.ID == "" || c.ID == NoMatch {
			continue
		}
		if _, dup := p.index[c.ID]; dup {
			continue
		}
		p.index[c.ID] = len(p.candidates)
		p.candidates = append(p.candidates, c)
	}
	return p
}

// Len returns the number of candidates.
func (p CandidatePool) Len() int { return len(p.candidates) }

// Contains reports whether id belongs to the pool.
func (p CandidatePool) Contains(id string) bool {
	_, ok := p.index[id]
	return ok
}

// Lookup returns the candidate with the given id.
func (p CandidatePool) Lookup(id string) (Candidate, bool) {
	i, ok := p.index[id]
	if !ok {
		return Candidate{}, false
	}
	return p.candidates[i], true
}

// Candidates returns a copy of the pool in order.
func (p CandidatePool) Candidates() []Candidate {
	out := make([]Candidate, len(p.candidates))
	copy(out, p.candidates)
	return out
}

// MarshalJSON encodes the pool as a plain candidate list.
func (p CandidatePool) MarshalJSON() ([]byte, error) {
	if p.candidates == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(p.candidates)
}

// Selection is the set of selected identifiers. A single-destination selection
// holds exactly one identifier and encodes as a JSON string; a multi-idea
// selection encodes as a JSON array.
type Selection struct {
	flow FlowType
	ids  []string
}

// SingleSelection returns a single-destination selection.
func SingleSelection(id string) Selection {
	return Selection{flow: FlowSingleDestination, ids: []string{id}}
}

// MultiSelection returns a multi-idea selection. An empty slice is the
// degraded form used when the directory is unavailable.
func MultiSelection(ids []string) Selection {
	cp := make([]string, len(ids))
	copy(cp, ids)
	return Selection{flow: FlowMultiIdea, ids: cp}
}

// DegradedSelection returns the flow-appropriate sentinel used when expert
// matching could not run.
func DegradedSelection(flow FlowType) Selection {
	if flow == FlowMultiIdea {
		return MultiSelection(nil)
	}
	return SingleSelection(NoMatch)
}

// IsZero reports whether the selection is unset.
func (s Selection) IsZero() bool { return s.flow == "" }

// Flow returns the flow the selection was made for.
func (s Selection) Flow() FlowType { return s.flow }

// IDs returns a copy of the selected identifiers, sentinel included.
func (s Selection) IDs() []string {
	out := make([]string, len(s.ids))
	copy(out, s.ids)
	return out
}

// Single returns the identifier of a single-destination selection.
func (s Selection) Single() string {
	if s.flow != FlowSingleDestination || len(s.ids) == 0 {
		return ""
	}
	return s.ids[0]
}

// ExpertIDs returns the selected identifiers with the sentinel removed.
func (s Selection) ExpertIDs() []string {
	out := make([]string, 0, len(s.ids))
	for _, id := range s.ids {
		if id != NoMatch {
			out = append(out, id)
		}
	}
	return out
}

// MarshalJSON encodes a single selection as a string and a multi selection as an array.
func (s Selection) MarshalJSON() ([]byte, error) {
	if s.flow == FlowSingleDestination {
		return json.Marshal(s.Single())
	}
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON accepts either a string or an array of strings.
func (s *Selection) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = SingleSelection(single)
		return nil
	}
	var multi []string
	if err := json.Unmarshal(data, &multi); err != nil {
		return fmt.Errorf("selection must be a string or an array of strings: %w", err)
	}
	*s = MultiSelection(multi)
	return nil
}

// SelectionResult is the validated output of expert matching.
type SelectionResult struct {
	Success     bool      `json:"success"`
	SelectedIDs Selection `json:"selected_ids"`
	Error       *Error    `json:"error,omitempty"`
}

// OutcomeStatus tags the terminal state of an orchestration run.
type OutcomeStatus string

const (
	StatusCompleted OutcomeStatus = "completed"
	StatusDegraded  OutcomeStatus = "degraded"
	StatusFailed    OutcomeStatus = "failed"
)

// Timing reports wall-clock durations in milliseconds.
type Timing struct {
	GuideMs int64 `json:"guide_ms"`
	MatchMs int64 `json:"match_ms"`
	TotalMs int64 `json:"total_ms"`
}

// OrchestrationOutcome is the single terminal result of one orchestration run.
// It is created once and never mutated after being returned.
type OrchestrationOutcome struct {
	Success     bool          `json:"success"`
	Status      OutcomeStatus `json:"status"`
	Guide       *TravelGuide  `json:"guide,omitempty"`
	SelectedIDs *Selection    `json:"selected_ids,omitempty"`
	Timing      Timing        `json:"timing"`
	Error       *Error        `json:"error,omitempty"`
}

// Degraded reports whether the guide was produced but expert matching was not.
func (o OrchestrationOutcome) Degraded() bool { return o.Status == StatusDegraded }
