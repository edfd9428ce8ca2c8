package matching

import (
	"context"
	"errors"
	"log/slog"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wayfarer-labs/guidematch/internal/llm"
	"github.com/wayfarer-labs/guidematch/internal/model"
	"github.com/wayfarer-labs/guidematch/internal/telemetry"
)

// DefaultTimeout bounds one matching call when none is configured.
const DefaultTimeout = 20 * time.Second

// maxLoggedReply bounds how much of a rejected reply is logged.
const maxLoggedReply = 512

// Matcher selects experts for a guide with one call to the matching model.
type Matcher struct {
	completer llm.Completer
	timeout   time.Duration
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewMatcher creates a Matcher. timeout <= 0 uses DefaultTimeout.
func NewMatcher(completer llm.Completer, timeout time.Duration, logger *slog.Logger) *Matcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Matcher{
		completer: completer,
		timeout:   timeout,
		logger:    logger,
		tracer:    telemetry.Tracer("guidematch/matching"),
	}
}

// Select builds the request, calls the model exactly once and validates the
// reply. A failed invocation returns a classified *model.Error alongside a
// failed result. A reply that breaks the contract returns a failed result and
// a nil error: the call worked, the answer did not.
func (m *Matcher) Select(ctx context.Context, guide model.TravelGuide, pool model.CandidatePool) (model.SelectionResult, error) {
	ctx, span := m.tracer.Start(ctx, "matching.select", trace.WithAttributes(
		attribute.String("flow_type", string(guide.FlowType)),
		attribute.Int("pool_size", pool.Len()),
	))
	defer span.End()

	if pool.Len() == 0 {
		err := model.NewError(model.KindDatabase, "candidate pool is empty")
		span.SetStatus(codes.Error, err.Error())
		return failed(guide.FlowType, err), err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	raw, err := m.completer.Complete(callCtx, BuildRequest(guide, pool))
	if err != nil {
		me := model.Classify(err)
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			me = model.WrapError(model.KindNetwork, "matching service timed out", err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(me.Kind))
		m.logger.Error("matching: invocation failed",
			"flow_type", guide.FlowType,
			"error_kind", me.Kind,
			"error", err,
		)
		return failed(guide.FlowType, me), me
	}

	res := Validate(guide.FlowType, raw, pool)
	if !res.Success {
		span.SetStatus(codes.Error, res.Error.Reason)
		m.logger.Warn("matching: reply rejected",
			"flow_type", guide.FlowType,
			"reason", res.Error.Reason,
			"detail", res.Error.Detail,
			"reply", truncate(raw, maxLoggedReply),
		)
		return res, nil
	}

	span.SetAttributes(attribute.StringSlice("selected_ids", res.SelectedIDs.IDs()))
	m.logger.Info("matching: experts selected", "flow_type", guide.FlowType, "selected_ids", res.SelectedIDs.IDs())
	return res, nil
}

func failed(flow model.FlowType, err *model.Error) model.SelectionResult {
	return model.SelectionResult{SelectedIDs: model.DegradedSelection(flow), Error: err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
