package guide

import (
	"context"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

//go:embed static_guides.yaml
var staticGuides []byte

type staticGuide struct {
	Title   string `yaml:"title"`
	Content string `yaml:"content"`
}

// StaticGenerator serves pre-written guides, one per flow. It makes no
// remote calls and is used for demos and offline development.
type StaticGenerator struct {
	guides map[model.FlowType]staticGuide
}

// NewStaticGenerator loads the embedded guide set.
func NewStaticGenerator() (*StaticGenerator, error) {
	return ParseStaticGuides(staticGuides)
}

// ParseStaticGuides builds a generator from YAML keyed by flow type.
func ParseStaticGuides(data []byte) (*StaticGenerator, error) {
	raw := map[string]staticGuide{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("guide: parse static guides: %w", err)
	}
	guides := make(map[model.FlowType]staticGuide, len(raw))
	for k, g := range raw {
		flow, err := model.ParseFlowType(k)
		if err != nil {
			return nil, fmt.Errorf("guide: static guides: %w", err)
		}
		guides[flow] = g
	}
	return &StaticGenerator{guides: guides}, nil
}

// Generate implements Generator.
func (s *StaticGenerator) Generate(ctx context.Context, flow model.FlowType, answers model.Answers) (model.TravelGuide, error) {
	if err := ctx.Err(); err != nil {
		return model.TravelGuide{}, err
	}
	g, ok := s.guides[flow]
	if !ok {
		return model.TravelGuide{}, model.NewError(model.KindValidation, fmt.Sprintf("no static guide for flow %q", flow))
	}
	return model.TravelGuide{
		ID:             uuid.NewString(),
		FlowType:       flow,
		Title:          g.Title,
		Content:        g.Content,
		GeneratedAt:    time.Now().UTC(),
		AnswersSummary: Summarize(answers),
		Tags:           Tags(answers),
	}, nil
}
