// Package guide produces travel guides from questionnaire answers.
package guide

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// Generator produces a TravelGuide for a flow and its answers. Callers do
// not retry; a failed generation is final for the request.
type Generator interface {
	Generate(ctx context.Context, flow model.FlowType, answers model.Answers) (model.TravelGuide, error)
}

// tagKeys are the answers whose values become guide tags.
var tagKeys = []string{"interests", "activities", "travel_style", "style"}

// Summarize renders answers as a stable "key: value; key: value" digest.
func Summarize(answers model.Answers) string {
	keys := make([]string, 0, len(answers))
	for k := range answers {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		if v := strings.Join(values(answers[k]), ", "); v != "" {
			parts = append(parts, k+": "+v)
		}
	}
	return strings.Join(parts, "; ")
}

// Tags collects lower-cased, de-duplicated tags from the interest answers.
func Tags(answers model.Answers) []string {
	var tags []string
	for _, k := range tagKeys {
		for _, v := range values(answers[k]) {
			v = strings.ToLower(v)
			if !slices.Contains(tags, v) {
				tags = append(tags, v)
			}
		}
	}
	return tags
}

// values flattens an answer into strings. Questionnaire answers arrive as
// strings, numbers, booleans or lists of those.
func values(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			return []string{s}
		}
		return nil
	case []string:
		var out []string
		for _, s := range t {
			out = append(out, values(s)...)
		}
		return out
	case []any:
		var out []string
		for _, e := range t {
			out = append(out, values(e)...)
		}
		return out
	default:
		return []string{fmt.Sprint(t)}
	}
}

// titleOf takes the first Markdown heading, else the first non-empty line.
func titleOf(content, fallback string) string {
	first := ""
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if first == "" {
			first = line
		}
	}
	if first == "" || len(first) > 120 {
		return fallback
	}
	return first
}
