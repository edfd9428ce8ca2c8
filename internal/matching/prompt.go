// Package matching selects the expert(s) for a travel guide. It builds the
// request sent to the matching model, validates the model's free-text reply
// against the flow's output contract, and wraps both in a single Matcher call.
package matching

import (
	"fmt"
	"strings"

	"github.com/wayfarer-labs/guidematch/internal/llm"
	"github.com/wayfarer-labs/guidematch/internal/model"
)

// Sampling settings for the matching call. The reply is one to three ids, so
// a small token budget is enough and low temperature keeps it terse.
const (
	Temperature = 0.1
	MaxTokens   = 100
)

const systemPrompt = "You are an expert matching system. Follow the instructions precisely and return only the requested format."

// instructions is the fixed matching contract. Priorities are strictly ordered.
const instructions = `Expert Selection Engine

You match a travel guide to the most suitable expert(s) from a list. Each expert has an ID, a profession and a bio.

MATCHING PRIORITY (most important first):

1. Location specificity
   - Exact destination > region > country > continent.
   - Example: "Grand Canyon guide" > "Arizona expert" > "USA travel expert" > "North America specialist".
   - Look for specific place names, regions and countries in the expert bio.

2. Activity type alignment
   - Specific activity expertise > general outdoor expertise > general travel expertise.
   - Example: "Diving instructor Indonesia" > "Water sports expert" > "Adventure travel guide".

3. Experience depth
   - Local residency > repeated visits > professional guiding > general travel.

4. Language and cultural fit
   - Native speakers and cultural specialists come first for international destinations.

MATCHING EXAMPLES:
- Guide mentions "hiking in Nepal", bio "Himalayan trekking guide, 15 years in Nepal": perfect match.
- Guide mentions "diving in Southeast Asia", bio "Indonesian dive master": good match.
- Guide mentions "European cities", bio "Berlin food tour specialist": partial match.
- Guide mentions "African safari", bio "Tokyo restaurant expert": no match.`

const singleRules = `OUTPUT RULES (single-destination guide):
- Return exactly ONE expert ID.
- Focus on the main destination and primary activities.
- If no expert is a reasonable fit, return NO_MATCH.
- Return ONLY the ID, with no explanation, reasoning or other text.

FORMAT:
EXPERT_ID`

const multiRules = `OUTPUT RULES (multi-idea guide with three destination ideas):
- Return exactly THREE expert IDs, one per destination idea, in the order the ideas appear.
- Never return the same ID twice. If one expert fits several ideas, give it to the best one and pick alternatives for the others.
- Never return more or fewer than three IDs.
- Return ONLY the JSON array, with no explanation, reasoning or other text.

FORMAT:
["EXPERT_ID_1", "EXPERT_ID_2", "EXPERT_ID_3"]`

// BuildRequest serializes guide and pool into one matching request. The
// result depends only on its inputs.
func BuildRequest(guide model.TravelGuide, pool model.CandidatePool) llm.Prompt {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")
	if guide.FlowType == model.FlowMultiIdea {
		b.WriteString(multiRules)
	} else {
		b.WriteString(singleRules)
	}

	b.WriteString("\n\nTRAVEL GUIDE:\n")
	fmt.Fprintf(&b, "Flow type: %s\n", guide.FlowType)
	if guide.Title != "" {
		fmt.Fprintf(&b, "Title: %s\n", guide.Title)
	}
	fmt.Fprintf(&b, "Content:\n%s\n", strings.TrimSpace(guide.Content))

	b.WriteString("\nAVAILABLE EXPERTS:\n")
	for _, c := range pool.Candidates() {
		fmt.Fprintf(&b, "ID: %s | Profession: %s | Bio: %s\n", c.ID, oneLine(c.Profession), oneLine(c.Bio))
	}

	b.WriteString("\nSelect the best expert(s) and return only the ID(s) in the specified format.")

	return llm.Prompt{
		System:      systemPrompt,
		User:        b.String(),
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
	}
}

// oneLine keeps each candidate on a single line of the listing.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
