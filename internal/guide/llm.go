package guide

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wayfarer-labs/guidematch/internal/llm"
	"github.com/wayfarer-labs/guidematch/internal/model"
)

const singleSystemPrompt = `You are a senior travel planner. Write a complete travel guide in Markdown for the destination the traveler chose.
Start with a single "# " title line. Cover the itinerary day by day, the main activities, where to stay, local customs and practical logistics.
Name specific places, regions and activities so a local expert can be matched to the trip.`

const multiSystemPrompt = `You are a senior travel planner. The traveler wants inspiration. Write a Markdown guide with a single "# " title line followed by exactly three destination ideas.
Each idea starts with a "## Idea N: <name> - <place>" heading and describes the place, the main activities and why it fits the traveler.
The three ideas must be in clearly different places. Name specific places, regions and activities so a local expert can be matched to each idea.`

// LLMGenerator writes guides with a chat model.
type LLMGenerator struct {
	completer llm.Completer
	timeout   time.Duration
	logger    *slog.Logger
}

// NewLLMGenerator creates a generator. timeout bounds one generation call;
// zero leaves it to the caller's context.
func NewLLMGenerator(completer llm.Completer, timeout time.Duration, logger *slog.Logger) *LLMGenerator {
	return &LLMGenerator{completer: completer, timeout: timeout, logger: logger}
}

// Generate implements Generator.
func (g *LLMGenerator) Generate(ctx context.Context, flow model.FlowType, answers model.Answers) (model.TravelGuide, error) {
	system := singleSystemPrompt
	fallbackTitle := "Your Travel Guide"
	if flow == model.FlowMultiIdea {
		system = multiSystemPrompt
		fallbackTitle = "Your Travel Inspiration"
	}
	summary := Summarize(answers)

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	content, err := g.completer.Complete(ctx, llm.Prompt{
		System:      system,
		User:        "Traveler questionnaire answers:\n" + strings.ReplaceAll(summary, "; ", "\n"),
		Temperature: 0.7,
	})
	if err != nil {
		return model.TravelGuide{}, fmt.Errorf("guide: generate: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return model.TravelGuide{}, model.NewError(model.KindUnknown, "guide generation returned no content")
	}

	g.logger.Debug("guide: generated", "flow_type", flow, "chars", len(content), "duration_ms", time.Since(start).Milliseconds())
	return model.TravelGuide{
		ID:             uuid.NewString(),
		FlowType:       flow,
		Title:          titleOf(content, fallbackTitle),
		Content:        content,
		GeneratedAt:    time.Now().UTC(),
		AnswersSummary: summary,
		Tags:           Tags(answers),
	}, nil
}
