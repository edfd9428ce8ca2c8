package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

func (s *Server) registerPrompts() {
	// plan-trip: walks an assistant through collecting answers and calling the planner.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("plan-trip",
			mcplib.WithPromptDescription("Interview the traveller, then plan a trip and recommend experts"),
			mcplib.WithArgument("flow_type",
				mcplib.ArgumentDescription("single-destination when the traveller knows where to go, multi-idea for inspiration"),
				mcplib.RequiredArgument(),
			),
		),
		s.handlePlanTripPrompt,
	)
}

func (s *Server) handlePlanTripPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	flow, err := model.ParseFlowType(request.Params.Arguments["flow_type"])
	if err != nil {
		return nil, fmt.Errorf("mcp: %w", err)
	}

	var questions, expect string
	switch flow {
	case model.FlowSingleDestination:
		questions = "destination, travel dates or season, trip length, interests, pace, budget"
		expect = "one expert, or NO_MATCH when nobody in the directory fits"
	default:
		questions = "interests, preferred climate, trip length, travel style, budget"
		expect = "three distinct experts, one per itinerary idea"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Plan a %s trip", flow),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Help the traveller plan a %[1]s trip.

1. ASK for: %[2]s. Keep it conversational and skip anything they already told you.

2. CALL guidematch_plan_trip with flow_type="%[1]s" and answers as a JSON object
   keyed by the topics above.

3. PRESENT the guide, then the recommended %[3]s, using each expert's name,
   profession and bio from the experts list.

4. If the result is degraded, share the guide and say expert recommendations
   will follow later. Do not invent experts.`, flow, questions, expect),
				},
			},
		},
	}, nil
}
