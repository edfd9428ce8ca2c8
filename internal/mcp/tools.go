package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/wayfarer-labs/guidematch/internal/ctxutil"
	"github.com/wayfarer-labs/guidematch/internal/model"
)

func (s *Server) registerTools() {
	// guidematch_plan_trip: generate a guide and match experts in one call.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidematch_plan_trip",
			mcplib.WithDescription("Generate a travel guide from questionnaire answers and recommend the expert(s) best suited to lead it"),
			mcplib.WithString("flow_type",
				mcplib.Description("single-destination (one expert) or multi-idea (three experts)"),
				mcplib.Required(),
				mcplib.Enum(string(model.FlowSingleDestination), string(model.FlowMultiIdea)),
			),
			mcplib.WithString("answers",
				mcplib.Description(`Questionnaire answers as a JSON object, e.g. {"destination":"Kyoto","interests":["temples","food"]}`),
				mcplib.Required(),
			),
		),
		s.handlePlanTrip,
	)

	// guidematch_select_expert: match experts for an existing guide.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidematch_select_expert",
			mcplib.WithDescription("Select the expert(s) for a guide you already have"),
			mcplib.WithString("flow_type",
				mcplib.Description("single-destination or multi-idea"),
				mcplib.Required(),
				mcplib.Enum(string(model.FlowSingleDestination), string(model.FlowMultiIdea)),
			),
			mcplib.WithString("content",
				mcplib.Description("Full guide text"),
				mcplib.Required(),
			),
		),
		s.handleSelectExpert,
	)

	// guidematch_invalidate_directory: force the next request to refetch experts.
	s.mcpServer.AddTool(
		mcplib.NewTool("guidematch_invalidate_directory",
			mcplib.WithDescription("Drop the cached expert directory so the next request reloads it (admin only)"),
			mcplib.WithDestructiveHintAnnotation(false),
		),
		s.handleInvalidateDirectory,
	)
}

func (s *Server) handlePlanTrip(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	rawAnswers := request.GetString("answers", "")
	var answers model.Answers
	if rawAnswers != "" {
		if err := json.Unmarshal([]byte(rawAnswers), &answers); err != nil {
			return errorResult(fmt.Sprintf("answers must be a JSON object: %v", err)), nil
		}
	}
	req, err := model.PlanTripRequest{
		FlowType: request.GetString("flow_type", ""),
		Answers:  answers,
	}.ToTripRequest()
	if err != nil {
		return kindResult(model.Classify(err), nil), nil
	}

	out := s.planner.Run(ctx, req)
	if out.Status == model.StatusFailed {
		me := out.Error
		if me == nil {
			me = model.NewError(model.KindUnknown, "")
		}
		s.logger.Warn("mcp: plan trip failed", "error_kind", me.Kind, "error", me)
		return kindResult(me, out), nil
	}

	resp := model.PlanTripResponse{
		OrchestrationOutcome: out,
		Degraded:             out.Degraded(),
		Experts:              s.details(ctx, out.SelectedIDs),
	}
	if resp.Degraded {
		resp.Warning = "Expert recommendations are unavailable right now: " + out.Error.Kind.UserMessage()
	}
	return jsonResult(resp, false), nil
}

func (s *Server) handleSelectExpert(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	g := model.TravelGuide{
		FlowType: model.FlowType(request.GetString("flow_type", "")),
		Content:  request.GetString("content", ""),
	}
	g, err := model.SelectExpertRequest{Guide: &g}.ToGuide()
	if err != nil {
		return kindResult(model.Classify(err), nil), nil
	}

	res, err := s.planner.SelectForGuide(ctx, g)
	if err != nil {
		return kindResult(model.Classify(err), res), nil
	}
	return jsonResult(model.SelectExpertResponse{
		SelectionResult: res,
		Experts:         s.details(ctx, &res.SelectedIDs),
	}, false), nil
}

func (s *Server) handleInvalidateDirectory(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	caller := "anonymous"
	if p, ok := ctxutil.PrincipalFromContext(ctx); ok {
		if !model.RoleAtLeast(p.Role, model.RoleAdmin) {
			return errorResult("invalidating the directory requires the admin role"), nil
		}
		caller = p.Name
	}
	epoch := s.catalog.Invalidate()
	s.logger.Info("directory invalidated via mcp", "epoch", epoch, "caller", caller)
	return jsonResult(s.catalog.Status(), false), nil
}

// details resolves a selection to display records; failures yield none.
func (s *Server) details(ctx context.Context, sel *model.Selection) []model.Candidate {
	if sel == nil {
		return []model.Candidate{}
	}
	experts, err := s.planner.ExpertDetails(ctx, *sel)
	if err != nil || experts == nil {
		if err != nil {
			s.logger.Warn("mcp: resolving expert details failed", "error", err)
		}
		return []model.Candidate{}
	}
	return experts
}
