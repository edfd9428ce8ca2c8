package matching

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

func pool(ids ...string) model.CandidatePool {
	cs := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		cs = append(cs, model.Candidate{ID: id, Profession: "guide " + id})
	}
	return model.NewCandidatePool(cs)
}

func requireSelectionError(t *testing.T, res model.SelectionResult, reason string) {
	t.Helper()
	assert.False(t, res.Success)
	require.NotNil(t, res.Error)
	assert.Equal(t, model.KindSelection, res.Error.Kind)
	assert.Equal(t, reason, res.Error.Reason)
}

func TestValidateSingleAcceptsPoolMember(t *testing.T) {
	p := pool("rec123", "rec456")
	for _, raw := range []string{
		"rec123",
		"`rec123`",
		`"rec123"`,
		"  rec123\n",
		"```\nrec123\n```",
		"'rec123'",
	} {
		res := Validate(model.FlowSingleDestination, raw, p)
		require.True(t, res.Success, "raw=%q err=%v", raw, res.Error)
		assert.Equal(t, "rec123", res.SelectedIDs.Single(), "raw=%q", raw)
		assert.Nil(t, res.Error)
	}
}

func TestValidateSingleAcceptsIDsWithSpacesAndPunctuation(t *testing.T) {
	p := pool("ana lopez", "rui,silva", "[b]", "c")
	for _, id := range []string{"ana lopez", "rui,silva", "[b]"} {
		for _, raw := range []string{id, "`" + id + "`", `"` + id + `"`} {
			res := Validate(model.FlowSingleDestination, raw, p)
			require.True(t, res.Success, "raw=%q err=%v", raw, res.Error)
			assert.Equal(t, id, res.SelectedIDs.Single())
		}
	}

	multi := Validate(model.FlowMultiIdea, `["ana lopez","rui,silva","c"]`, p)
	assert.True(t, multi.Success, "multi-idea accepts the same ids")

	res := Validate(model.FlowSingleDestination, "ana lopez is the best fit", p)
	requireSelectionError(t, res, model.ReasonMalformedResponse)
}

func TestValidateSingleScenarioBacktickedID(t *testing.T) {
	res := Validate(model.FlowSingleDestination, "`rec123`", pool("rec123"))
	require.True(t, res.Success)

	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"selected_ids":"rec123"}`, string(data))
}

func TestValidateSingleAcceptsNoMatch(t *testing.T) {
	for _, raw := range []string{"NO_MATCH", "`NO_MATCH`", `"NO_MATCH"`} {
		res := Validate(model.FlowSingleDestination, raw, pool("rec1"))
		require.True(t, res.Success, "raw=%q", raw)
		assert.Equal(t, model.NoMatch, res.SelectedIDs.Single())
	}
}

func TestValidateSingleRejectsUnknownID(t *testing.T) {
	res := Validate(model.FlowSingleDestination, "rec999", pool("rec1"))
	requireSelectionError(t, res, model.ReasonContractViolation)
	assert.Contains(t, res.Error.Detail, "not found in pool")
	assert.Equal(t, model.NoMatch, res.SelectedIDs.Single())
}

func TestValidateSingleRejectsMalformed(t *testing.T) {
	p := pool("rec1")
	for _, raw := range []string{"", "   ", "``", "rec1 is the best fit", `["rec1"]`, "rec1,rec2"} {
		res := Validate(model.FlowSingleDestination, raw, p)
		requireSelectionError(t, res, model.ReasonMalformedResponse)
	}
}

func TestValidateMultiAcceptsDistinctTriple(t *testing.T) {
	p := pool("a", "b", "c", "d")
	for _, raw := range []string{
		`["a","b","c"]`,
		"```json\n[\"a\", \"b\", \"c\"]\n```",
		"`[\"a\",\"b\",\"c\"]`",
		"\n [ \"a\" , \"b\" , \"c\" ] \n",
	} {
		res := Validate(model.FlowMultiIdea, raw, p)
		require.True(t, res.Success, "raw=%q err=%v", raw, res.Error)
		assert.Equal(t, []string{"a", "b", "c"}, res.SelectedIDs.IDs())
	}
}

func TestValidateMultiPreservesOrder(t *testing.T) {
	res := Validate(model.FlowMultiIdea, `["d","a","c"]`, pool("a", "b", "c", "d"))
	require.True(t, res.Success)
	assert.Equal(t, []string{"d", "a", "c"}, res.SelectedIDs.IDs())
}

func TestValidateMultiScenarioTriple(t *testing.T) {
	res := Validate(model.FlowMultiIdea, `["a","b","c"]`, pool("a", "b", "c"))
	data, err := json.Marshal(res)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"selected_ids":["a","b","c"]}`, string(data))
}

func TestValidateMultiRejectsDuplicate(t *testing.T) {
	res := Validate(model.FlowMultiIdea, `["a","a","b"]`, pool("a", "b", "c"))
	requireSelectionError(t, res, model.ReasonContractViolation)
	assert.Contains(t, res.Error.Detail, "duplicate")
	assert.Empty(t, res.SelectedIDs.IDs())
}

func TestValidateMultiRejectsWrongCardinality(t *testing.T) {
	p := pool("a", "b", "c", "d")
	for _, raw := range []string{`[]`, `["a"]`, `["a","b"]`, `["a","b","c","d"]`} {
		res := Validate(model.FlowMultiIdea, raw, p)
		requireSelectionError(t, res, model.ReasonContractViolation)
	}
}

func TestValidateMultiRejectsAbsentID(t *testing.T) {
	res := Validate(model.FlowMultiIdea, `["a","b","zzz"]`, pool("a", "b", "c"))
	requireSelectionError(t, res, model.ReasonContractViolation)
	assert.Contains(t, res.Error.Detail, "zzz")
}

func TestValidateMultiRejectsNoMatchSentinel(t *testing.T) {
	for _, raw := range []string{"NO_MATCH", `["a","b","NO_MATCH"]`} {
		res := Validate(model.FlowMultiIdea, raw, pool("a", "b", "c"))
		assert.False(t, res.Success, "raw=%q", raw)
		assert.Equal(t, model.KindSelection, res.Error.Kind)
	}
}

func TestValidateMultiRejectsMalformed(t *testing.T) {
	p := pool("a", "b", "c")
	for _, raw := range []string{"", "a, b, c", `["a","b",`, `{"ids":["a","b","c"]}`, `[1,2,3]`, "Here are the experts: [\"a\",\"b\",\"c\"]"} {
		res := Validate(model.FlowMultiIdea, raw, p)
		requireSelectionError(t, res, model.ReasonMalformedResponse)
	}
}

func TestValidateUnsupportedFlow(t *testing.T) {
	res := Validate("weekend", "a", pool("a"))
	assert.False(t, res.Success)
	assert.Equal(t, model.KindValidation, res.Error.Kind)
}

func TestValidateIsIdempotent(t *testing.T) {
	p := pool("a", "b", "c")
	inputs := []struct {
		flow model.FlowType
		raw  string
	}{
		{model.FlowSingleDestination, "`a`"},
		{model.FlowSingleDestination, "nope"},
		{model.FlowMultiIdea, `["a","b","c"]`},
		{model.FlowMultiIdea, `["a","a","b"]`},
		{model.FlowMultiIdea, "garbage"},
	}
	for _, in := range inputs {
		first := Validate(in.flow, in.raw, p)
		second := Validate(in.flow, in.raw, p)
		assert.Equal(t, first, second, "flow=%s raw=%q", in.flow, in.raw)
	}
}

func TestValidateSuccessAlwaysSatisfiesContract(t *testing.T) {
	p := pool("a", "b", "c")
	replies := []string{
		"a", "b", "NO_MATCH", "x", "`c`", `["a","b","c"]`, `["c","b","a"]`, `["a","b"]`,
		`["a","b","b"]`, `["a","b","x"]`, "", "```", `"`, "[", "[\"\"]", "\x00",
	}
	for _, flow := range []model.FlowType{model.FlowSingleDestination, model.FlowMultiIdea} {
		for _, raw := range replies {
			res := Validate(flow, raw, p)
			if !res.Success {
				require.NotNil(t, res.Error)
				continue
			}
			ids := res.SelectedIDs.IDs()
			switch flow {
			case model.FlowSingleDestination:
				require.Len(t, ids, 1)
				assert.True(t, ids[0] == model.NoMatch || p.Contains(ids[0]))
			case model.FlowMultiIdea:
				require.Len(t, ids, 3)
				assert.NotEqual(t, ids[0], ids[1])
				assert.NotEqual(t, ids[1], ids[2])
				assert.NotEqual(t, ids[0], ids[2])
				for _, id := range ids {
					assert.True(t, p.Contains(id))
				}
			}
		}
	}
}
