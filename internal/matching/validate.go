package matching

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// Validate converts the matching model's raw reply into a SelectionResult.
// A successful result always satisfies the flow's contract: one pool id or
// NO_MATCH for single-destination, three distinct pool ids for multi-idea.
// Every rejection is a selection_error whose Reason separates replies that
// could not be parsed from replies that parsed but broke a rule. Validate is
// pure; it never panics on any input.
func Validate(flow model.FlowType, raw string, pool model.CandidatePool) model.SelectionResult {
	switch flow {
	case model.FlowSingleDestination:
		return validateSingle(raw, pool)
	case model.FlowMultiIdea:
		return validateMulti(raw, pool)
	default:
		return model.SelectionResult{
			SelectedIDs: model.DegradedSelection(flow),
			Error:       model.NewError(model.KindValidation, fmt.Sprintf("unsupported flow type %q", flow)),
		}
	}
}

func validateSingle(raw string, pool model.CandidatePool) model.SelectionResult {
	id := trimQuotes(stripFormatting(raw))
	switch {
	case id == "":
		return reject(model.FlowSingleDestination, model.ReasonMalformedResponse, "empty response")
	case id == model.NoMatch || pool.Contains(id):
		return model.SelectionResult{Success: true, SelectedIDs: model.SingleSelection(id)}
	// Pool ids may contain spaces or punctuation, so only non-members are
	// checked for structure.
	case strings.ContainsAny(id, " \t\r\n,[]{}"):
		return reject(model.FlowSingleDestination, model.ReasonMalformedResponse, "response is not a single identifier")
	default:
		return reject(model.FlowSingleDestination, model.ReasonContractViolation, fmt.Sprintf("identifier %q not found in pool", id))
	}
}

func validateMulti(raw string, pool model.CandidatePool) model.SelectionResult {
	text := stripFormatting(raw)
	if text == "" {
		return reject(model.FlowMultiIdea, model.ReasonMalformedResponse, "empty response")
	}
	var ids []string
	if err := json.Unmarshal([]byte(text), &ids); err != nil {
		return reject(model.FlowMultiIdea, model.ReasonMalformedResponse, "response is not a JSON array of identifiers")
	}
	if len(ids) != model.MultiIdeaCount {
		return reject(model.FlowMultiIdea, model.ReasonContractViolation,
			fmt.Sprintf("expected %d identifiers, got %d", model.MultiIdeaCount, len(ids)))
	}

	seen := make(map[string]bool, len(ids))
	for i, id := range ids {
		id = strings.TrimSpace(id)
		ids[i] = id
		if seen[id] {
			return reject(model.FlowMultiIdea, model.ReasonContractViolation, fmt.Sprintf("duplicate identifier %q", id))
		}
		seen[id] = true
		if !pool.Contains(id) {
			return reject(model.FlowMultiIdea, model.ReasonContractViolation, fmt.Sprintf("identifier %q not found in pool", id))
		}
	}
	return model.SelectionResult{Success: true, SelectedIDs: model.MultiSelection(ids)}
}

func reject(flow model.FlowType, reason, detail string) model.SelectionResult {
	return model.SelectionResult{
		SelectedIDs: model.DegradedSelection(flow),
		Error:       model.SelectionError(reason, detail),
	}
}

// stripFormatting removes surrounding whitespace, Markdown code fences and
// inline backticks. Quotes are left for the caller since a JSON array needs them.
func stripFormatting(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		// Drop an info string such as ```json.
		if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], `["`) {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), "`"))
}

// trimQuotes removes matching outer quotes around a bare identifier.
func trimQuotes(s string) string {
	for len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if first != last || (first != '"' && first != '\'') {
			break
		}
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	return s
}
