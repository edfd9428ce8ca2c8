package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-labs/guidematch/internal/auth"
	"github.com/wayfarer-labs/guidematch/internal/ctxutil"
	"github.com/wayfarer-labs/guidematch/internal/directory"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/testutil"
)

type fakePlanner struct {
	outcome   model.OrchestrationOutcome
	selection model.SelectionResult
	selectErr error
	lastReq   model.TripRequest
	lastGuide model.TravelGuide
	pool      model.CandidatePool
}

func (f *fakePlanner) Run(_ context.Context, req model.TripRequest) model.OrchestrationOutcome {
	f.lastReq = req
	return f.outcome
}

func (f *fakePlanner) SelectForGuide(_ context.Context, g model.TravelGuide) (model.SelectionResult, error) {
	f.lastGuide = g
	return f.selection, f.selectErr
}

func (f *fakePlanner) ExpertDetails(_ context.Context, sel model.Selection) ([]model.Candidate, error) {
	var out []model.Candidate
	for _, id := range sel.ExpertIDs() {
		if c, ok := f.pool.Lookup(id); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeCatalog struct {
	pool  model.CandidatePool
	err   error
	epoch uint64
}

func (f *fakeCatalog) Pool(context.Context) (model.CandidatePool, error) { return f.pool, f.err }

func (f *fakeCatalog) Lookup(_ context.Context, id string) (model.Candidate, error) {
	if f.err != nil {
		return model.Candidate{}, f.err
	}
	c, ok := f.pool.Lookup(id)
	if !ok {
		return model.Candidate{}, fmt.Errorf("lookup %q: %w", id, directory.ErrNotFound)
	}
	return c, nil
}

func (f *fakeCatalog) Invalidate() uint64 { f.epoch++; return f.epoch }

func (f *fakeCatalog) Status() model.DirectoryStatus {
	return model.DirectoryStatus{Backend: "fake", Epoch: f.epoch}
}

func newTestServer() (*Server, *fakePlanner, *fakeCatalog) {
	pool := model.NewCandidatePool(testutil.Experts())
	p := &fakePlanner{pool: pool}
	c := &fakeCatalog{pool: pool}
	return New(p, c, slog.New(slog.NewTextHandler(io.Discard, nil)), "test"), p, c
}

func callTool(args map[string]any) mcplib.CallToolRequest {
	var req mcplib.CallToolRequest
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcplib.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(mcplib.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestPlanTripCompleted(t *testing.T) {
	s, p, _ := newTestServer()
	sel := model.SingleSelection("rec_kyoto")
	p.outcome = model.OrchestrationOutcome{
		Success:     true,
		Status:      model.StatusCompleted,
		Guide:       &model.TravelGuide{ID: "g1", Content: "Temples"},
		SelectedIDs: &sel,
	}

	res, err := s.handlePlanTrip(context.Background(), callTool(map[string]any{
		"flow_type": "i-know-where",
		"answers":   `{"destination":"Kyoto"}`,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, model.FlowSingleDestination, p.lastReq.FlowType)
	assert.Equal(t, "Kyoto", p.lastReq.Answers["destination"])

	var body model.PlanTripResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	require.Len(t, body.Experts, 1)
	assert.Equal(t, "Aiko Tanaka", body.Experts[0].Name)
}

func TestPlanTripDegraded(t *testing.T) {
	s, p, _ := newTestServer()
	sel := model.DegradedSelection(model.FlowMultiIdea)
	p.outcome = model.OrchestrationOutcome{
		Success:     true,
		Status:      model.StatusDegraded,
		Guide:       &model.TravelGuide{ID: "g1", Content: "Ideas"},
		SelectedIDs: &sel,
		Error:       model.NewError(model.KindDatabase, "candidate directory unavailable"),
	}

	res, err := s.handlePlanTrip(context.Background(), callTool(map[string]any{
		"flow_type": "multi-idea",
		"answers":   `{"interests":["food"]}`,
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, `"degraded": true`)
	assert.Contains(t, text, `"experts": []`)
}

func TestPlanTripFailedHidesCause(t *testing.T) {
	s, p, _ := newTestServer()
	p.outcome = model.OrchestrationOutcome{
		Status: model.StatusFailed,
		Error:  model.WrapError(model.KindQuotaExceeded, "", fmt.Errorf("sk-secret quota body")),
	}

	res, err := s.handlePlanTrip(context.Background(), callTool(map[string]any{
		"flow_type": "multi-idea",
		"answers":   `{"interests":"food"}`,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	text := resultText(t, res)
	assert.Contains(t, text, "quota_exceeded")
	assert.NotContains(t, text, "sk-secret")
}

func TestPlanTripRejectsBadInput(t *testing.T) {
	s, p, _ := newTestServer()
	for name, args := range map[string]map[string]any{
		"answers not json": {"flow_type": "multi-idea", "answers": "hiking"},
		"no answers":       {"flow_type": "multi-idea"},
		"bad flow":         {"flow_type": "weekend", "answers": `{"a":1}`},
	} {
		t.Run(name, func(t *testing.T) {
			res, err := s.handlePlanTrip(context.Background(), callTool(args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
		})
	}
	assert.Empty(t, p.lastReq.FlowType, "planner never ran")
}

func TestSelectExpert(t *testing.T) {
	s, p, _ := newTestServer()
	p.selection = model.SelectionResult{Success: true, SelectedIDs: model.MultiSelection([]string{"rec_lisbon", "rec_safari", "rec_kyoto"})}

	res, err := s.handleSelectExpert(context.Background(), callTool(map[string]any{
		"flow_type": "inspire-me",
		"content":   "Three food-focused escapes.",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, model.FlowMultiIdea, p.lastGuide.FlowType)

	var body model.SelectExpertResponse
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &body))
	assert.Len(t, body.Experts, 3)
}

func TestSelectExpertErrors(t *testing.T) {
	s, p, _ := newTestServer()

	res, err := s.handleSelectExpert(context.Background(), callTool(map[string]any{"flow_type": "multi-idea"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "validation_error")

	p.selectErr = model.NewError(model.KindDatabase, "candidate directory unavailable")
	res, err = s.handleSelectExpert(context.Background(), callTool(map[string]any{"flow_type": "multi-idea", "content": "x"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "database_error")
}

func TestInvalidateDirectoryRequiresAdmin(t *testing.T) {
	s, _, c := newTestServer()

	clientCtx := ctxutil.WithPrincipal(context.Background(), auth.Principal{Name: "web", Role: model.RoleClient})
	res, err := s.handleInvalidateDirectory(clientCtx, callTool(nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Zero(t, c.epoch)

	adminCtx := ctxutil.WithPrincipal(context.Background(), auth.Principal{Name: "ops", Role: model.RoleAdmin})
	res, err = s.handleInvalidateDirectory(adminCtx, callTool(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Equal(t, uint64(1), c.epoch)

	res, err = s.handleInvalidateDirectory(context.Background(), callTool(nil))
	require.NoError(t, err)
	assert.False(t, res.IsError, "auth disabled")
}

func TestExpertResources(t *testing.T) {
	s, _, c := newTestServer()

	var req mcplib.ReadResourceRequest
	req.Params.URI = expertsURI
	contents, err := s.handleExperts(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text := contents[0].(mcplib.TextResourceContents).Text
	assert.Contains(t, text, `"count": 5`)

	req.Params.URI = expertsPrefix + "rec_safari"
	contents, err = s.handleExpert(context.Background(), req)
	require.NoError(t, err)
	assert.Contains(t, contents[0].(mcplib.TextResourceContents).Text, "Joseph Mwangi")

	req.Params.URI = expertsPrefix + "rec_nobody"
	_, err = s.handleExpert(context.Background(), req)
	assert.ErrorIs(t, err, directory.ErrNotFound)

	c.err = model.WrapError(model.KindDatabase, "down", fmt.Errorf("pg: password authentication failed"))
	req.Params.URI = expertsURI
	_, err = s.handleExperts(context.Background(), req)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "password")
}

func TestParseExpertURI(t *testing.T) {
	id, err := parseExpertURI("guidematch://experts/rec_1")
	require.NoError(t, err)
	assert.Equal(t, "rec_1", id)

	for _, bad := range []string{"", "guidematch://experts", "guidematch://experts/", "guidematch://experts/a/b", "other://experts/a"} {
		_, err := parseExpertURI(bad)
		assert.Error(t, err, bad)
	}
}

func TestPlanTripPrompt(t *testing.T) {
	s, _, _ := newTestServer()

	var req mcplib.GetPromptRequest
	req.Params.Arguments = map[string]string{"flow_type": "inspire-me"}
	res, err := s.handlePlanTripPrompt(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	text := res.Messages[0].Content.(mcplib.TextContent).Text
	assert.Contains(t, text, `flow_type="multi-idea"`)
	assert.Contains(t, text, "three distinct experts")

	req.Params.Arguments = map[string]string{"flow_type": "weekend"}
	_, err = s.handlePlanTripPrompt(context.Background(), req)
	assert.Error(t, err)
}
