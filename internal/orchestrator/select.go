package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayfarer-labs/guidematch/internal/model"
)

// SelectForGuide matches experts for a guide the caller already holds. The
// directory is needed before any matching can happen, so a directory failure
// is surfaced directly as a database_error instead of degrading. The error is
// nil only when the returned result is successful.
func (o *Orchestrator) SelectForGuide(ctx context.Context, g model.TravelGuide) (model.SelectionResult, error) {
	ctx, span := o.tracer.Start(ctx, "orchestrator.select_for_guide",
		trace.WithAttributes(attribute.String("flow_type", string(g.FlowType))))
	defer span.End()

	fail := func(err error) (model.SelectionResult, error) {
		me := model.Classify(err)
		span.SetStatus(codes.Error, string(me.Kind))
		return model.SelectionResult{SelectedIDs: model.DegradedSelection(g.FlowType), Error: me}, me
	}

	if !g.FlowType.Valid() {
		return fail(model.NewError(model.KindValidation, "unsupported flow type "+string(g.FlowType)))
	}
	if g.Content == "" {
		return fail(model.NewError(model.KindValidation, "guide content is required"))
	}

	pool, err := o.directory.Pool(ctx)
	if err != nil {
		o.logger.Error("orchestrator: directory unavailable for selection", "flow_type", g.FlowType, "error", err)
		return fail(err)
	}

	res, err := o.matcher.Select(ctx, g, pool)
	if err != nil {
		return fail(err)
	}
	if !res.Success {
		if res.Error == nil {
			res.Error = model.SelectionError(model.ReasonContractViolation, "selection rejected")
		}
		span.SetStatus(codes.Error, string(model.KindSelection))
		return res, res.Error
	}
	return res, nil
}

// ExpertDetails resolves a selection to full candidate records in selection
// order. The NO_MATCH sentinel and ids missing from the current snapshot are
// skipped.
func (o *Orchestrator) ExpertDetails(ctx context.Context, sel model.Selection) ([]model.Candidate, error) {
	ids := sel.ExpertIDs()
	if len(ids) == 0 {
		return []model.Candidate{}, nil
	}
	pool, err := o.directory.Pool(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]model.Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := pool.Lookup(id); ok {
			out = append(out, c)
		}
	}
	return out, nil
}
