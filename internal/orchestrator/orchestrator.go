// Package orchestrator drives one trip request end to end: guide generation
// and candidate retrieval run concurrently, then the guide is matched against
// the pool and the run settles into exactly one terminal outcome.
package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/wayfarer-labs/guidematch/internal/guide"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/telemetry"
)

// PoolProvider supplies the candidate pool (directory.Directory).
type PoolProvider interface {
	Pool(ctx context.Context) (model.CandidatePool, error)
}

// Selector matches a guide against a pool (matching.Matcher).
type Selector interface {
	Select(ctx context.Context, guide model.TravelGuide, pool model.CandidatePool) (model.SelectionResult, error)
}

// Orchestrator runs trip requests. It holds no per-request state and is safe
// for concurrent use.
type Orchestrator struct {
	generator guide.Generator
	directory PoolProvider
	matcher   Selector
	logger    *slog.Logger
	tracer    trace.Tracer

	guideDuration metric.Int64Histogram
	matchDuration metric.Int64Histogram
	runDuration   metric.Int64Histogram
	outcomes      metric.Int64Counter
}

// New creates an Orchestrator.
func New(generator guide.Generator, directory PoolProvider, matcher Selector, logger *slog.Logger) *Orchestrator {
	o := &Orchestrator{
		generator: generator,
		directory: directory,
		matcher:   matcher,
		logger:    logger,
		tracer:    telemetry.Tracer("guidematch/orchestrator"),
	}
	meter := telemetry.Meter("guidematch/orchestrator")
	var err error
	if o.guideDuration, err = meter.Int64Histogram("guidematch.guide.duration",
		metric.WithDescription("Guide generation phase duration"), metric.WithUnit("ms")); err != nil {
		logger.Warn("orchestrator: failed to create guide histogram", "error", err)
	}
	if o.matchDuration, err = meter.Int64Histogram("guidematch.match.duration",
		metric.WithDescription("Expert matching phase duration"), metric.WithUnit("ms")); err != nil {
		logger.Warn("orchestrator: failed to create match histogram", "error", err)
	}
	if o.runDuration, err = meter.Int64Histogram("guidematch.orchestration.duration",
		metric.WithDescription("End-to-end orchestration duration"), metric.WithUnit("ms")); err != nil {
		logger.Warn("orchestrator: failed to create run histogram", "error", err)
	}
	if o.outcomes, err = meter.Int64Counter("guidematch.orchestration.outcomes",
		metric.WithDescription("Orchestration runs by terminal status")); err != nil {
		logger.Warn("orchestrator: failed to create outcome counter", "error", err)
	}
	return o
}

// Run executes one request and returns its single terminal outcome:
//
//   - guide generation failed: failed, with the guide error; the directory
//     result is discarded and matching never runs.
//   - guide ready, directory failed: degraded success carrying the guide, the
//     flow's sentinel selection and an informational database_error.
//   - both ready: one matching call, completed on a valid selection and
//     failed otherwise (the guide stays on the outcome).
//
// Timing is reported for every outcome.
func (o *Orchestrator) Run(ctx context.Context, req model.TripRequest) model.OrchestrationOutcome {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, "orchestrator.run",
		trace.WithAttributes(attribute.String("flow_type", string(req.FlowType))))
	defer span.End()

	if err := req.Validate(); err != nil {
		return o.finish(ctx, span, req.FlowType, start, model.OrchestrationOutcome{
			Status: model.StatusFailed,
			Error:  model.Classify(err),
		})
	}

	var (
		g        errgroup.Group
		tg       model.TravelGuide
		guideErr error
		guideDur time.Duration
		pool     model.CandidatePool
		poolErr  error
	)
	// Both goroutines always return nil so that each settles independently;
	// their errors are inspected after Wait.
	g.Go(func() error {
		gctx, gspan := o.tracer.Start(ctx, "orchestrator.generate_guide")
		defer gspan.End()
		t := time.Now()
		tg, guideErr = o.generator.Generate(gctx, req.FlowType, req.Answers)
		guideDur = time.Since(t)
		if guideErr != nil {
			gspan.RecordError(guideErr)
			gspan.SetStatus(codes.Error, "guide generation failed")
		}
		return nil
	})
	g.Go(func() error {
		pool, poolErr = o.directory.Pool(ctx)
		return nil
	})
	_ = g.Wait()

	timing := model.Timing{GuideMs: guideDur.Milliseconds()}
	o.record(ctx, o.guideDuration, guideDur, req.FlowType)

	if guideErr != nil {
		me := model.Classify(guideErr)
		o.logger.Error("orchestrator: guide generation failed",
			"flow_type", req.FlowType, "error_kind", me.Kind, "error", guideErr)
		return o.finish(ctx, span, req.FlowType, start, model.OrchestrationOutcome{
			Status: model.StatusFailed,
			Timing: timing,
			Error:  me,
		})
	}

	if poolErr != nil {
		me := model.Classify(poolErr)
		o.logger.Warn("orchestrator: directory unavailable, returning guide without experts",
			"flow_type", req.FlowType, "guide_id", tg.ID, "error_kind", me.Kind, "error", poolErr)
		sentinel := model.DegradedSelection(req.FlowType)
		return o.finish(ctx, span, req.FlowType, start, model.OrchestrationOutcome{
			Success:     true,
			Status:      model.StatusDegraded,
			Guide:       &tg,
			SelectedIDs: &sentinel,
			Timing:      timing,
			Error:       me,
		})
	}

	matchStart := time.Now()
	res, err := o.matcher.Select(ctx, tg, pool)
	matchDur := time.Since(matchStart)
	timing.MatchMs = matchDur.Milliseconds()
	o.record(ctx, o.matchDuration, matchDur, req.FlowType)

	if err != nil || !res.Success {
		me := model.Classify(err)
		if me == nil {
			me = res.Error
		}
		if me == nil {
			me = model.SelectionError(model.ReasonContractViolation, "selection rejected")
		}
		return o.finish(ctx, span, req.FlowType, start, model.OrchestrationOutcome{
			Status: model.StatusFailed,
			Guide:  &tg,
			Timing: timing,
			Error:  me,
		})
	}

	selected := res.SelectedIDs
	return o.finish(ctx, span, req.FlowType, start, model.OrchestrationOutcome{
		Success:     true,
		Status:      model.StatusCompleted,
		Guide:       &tg,
		SelectedIDs: &selected,
		Timing:      timing,
	})
}

// finish stamps the total duration, records metrics and logs the outcome.
func (o *Orchestrator) finish(ctx context.Context, span trace.Span, flow model.FlowType, start time.Time, out model.OrchestrationOutcome) model.OrchestrationOutcome {
	total := time.Since(start)
	out.Timing.TotalMs = total.Milliseconds()
	o.record(ctx, o.runDuration, total, flow)

	kind := ""
	if out.Error != nil {
		kind = string(out.Error.Kind)
	}
	if o.outcomes != nil {
		o.outcomes.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(out.Status)),
			attribute.String("flow_type", string(flow)),
			attribute.String("error_kind", kind),
		))
	}
	span.SetAttributes(attribute.String("status", string(out.Status)))
	if out.Status == model.StatusFailed {
		span.SetStatus(codes.Error, kind)
	}

	o.logger.Info("orchestrator: run finished",
		"flow_type", flow,
		"status", out.Status,
		"error_kind", kind,
		"guide_ms", out.Timing.GuideMs,
		"match_ms", out.Timing.MatchMs,
		"total_ms", out.Timing.TotalMs,
	)
	return out
}

func (o *Orchestrator) record(ctx context.Context, h metric.Int64Histogram, d time.Duration, flow model.FlowType) {
	if h != nil {
		h.Record(ctx, d.Milliseconds(), metric.WithAttributes(attribute.String("flow_type", string(flow))))
	}
}
