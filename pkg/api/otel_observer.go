package api

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/petrijr/dealflow"

// OtelObserver records transition and action metrics through an
// OpenTelemetry meter.
type OtelObserver struct {
	NoopObserver

	transitions metric.Int64Counter
	retries     metric.Int64Counter
	actions     metric.Int64Counter
	actionTime  metric.Float64Histogram
}

// NewOtelObserver builds an OtelObserver from mp. A nil provider uses the
// global one.
func NewOtelObserver(mp metric.MeterProvider) (*OtelObserver, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(meterName)

	transitions, err := meter.Int64Counter("dealflow.transitions",
		metric.WithDescription("Deal transitions by outcome"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("dealflow.transition.retries",
		metric.WithDescription("Transition attempts retried after a transient failure"))
	if err != nil {
		return nil, err
	}
	actions, err := meter.Int64Counter("dealflow.actions",
		metric.WithDescription("Entry actions executed by kind and outcome"))
	if err != nil {
		return nil, err
	}
	actionTime, err := meter.Float64Histogram("dealflow.action.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Entry action execution time"))
	if err != nil {
		return nil, err
	}

	return &OtelObserver{
		transitions: transitions,
		retries:     retries,
		actions:     actions,
		actionTime:  actionTime,
	}, nil
}

func (o *OtelObserver) OnTransitionCompleted(ctx context.Context, in TransitionInput, out *TransitionOutcome) {
	o.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "completed"),
		attribute.String("to", out.NewStatus),
	))
}

func (o *OtelObserver) OnTransitionFailed(ctx context.Context, in TransitionInput, err error) {
	o.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", "failed"),
		attribute.String("to", in.TargetStatus),
	))
}

func (o *OtelObserver) OnTransitionRetry(ctx context.Context, in TransitionInput, attempt int, delay time.Duration, err error) {
	o.retries.Add(ctx, 1, metric.WithAttributes(attribute.Int("attempt", attempt)))
}

func (o *OtelObserver) OnActionExecuted(ctx context.Context, actx ActionContext, kind ActionKind, err error, d time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", string(kind)),
		attribute.String("outcome", outcome),
	)
	o.actions.Add(ctx, 1, attrs)
	o.actionTime.Record(ctx, float64(d.Microseconds())/1000, attrs)
}
