package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the workflow service for logging and metrics.
//
// Implementations should be fast and non-blocking; they run inline with
// the transition being observed.
type Observer interface {
	// OnTransitionStart is called once per TransitionDeal call, before the
	// first attempt.
	OnTransitionStart(ctx context.Context, in TransitionInput)

	// OnTransitionCompleted is called when the deal status has been persisted.
	OnTransitionCompleted(ctx context.Context, in TransitionInput, out *TransitionOutcome)

	// OnTransitionFailed is called when the transition gives up.
	OnTransitionFailed(ctx context.Context, in TransitionInput, err error)

	// OnTransitionRetry is called before sleeping ahead of attempt+1.
	OnTransitionRetry(ctx context.Context, in TransitionInput, attempt int, delay time.Duration, err error)

	// OnActionExecuted is called after each entry action, for both
	// successes and failures (err != nil).
	OnActionExecuted(ctx context.Context, actx ActionContext, kind ActionKind, err error, duration time.Duration)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTransitionStart(ctx context.Context, in TransitionInput) {}
func (NoopObserver) OnTransitionCompleted(ctx context.Context, in TransitionInput, out *TransitionOutcome) {
}
func (NoopObserver) OnTransitionFailed(ctx context.Context, in TransitionInput, err error) {}
func (NoopObserver) OnTransitionRetry(ctx context.Context, in TransitionInput, attempt int, delay time.Duration, err error) {
}
func (NoopObserver) OnActionExecuted(ctx context.Context, actx ActionContext, kind ActionKind, err error, d time.Duration) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTransitionStart(ctx context.Context, in TransitionInput) {
	for _, o := range c.observers {
		o.OnTransitionStart(ctx, in)
	}
}

func (c *CompositeObserver) OnTransitionCompleted(ctx context.Context, in TransitionInput, out *TransitionOutcome) {
	for _, o := range c.observers {
		o.OnTransitionCompleted(ctx, in, out)
	}
}

func (c *CompositeObserver) OnTransitionFailed(ctx context.Context, in TransitionInput, err error) {
	for _, o := range c.observers {
		o.OnTransitionFailed(ctx, in, err)
	}
}

func (c *CompositeObserver) OnTransitionRetry(ctx context.Context, in TransitionInput, attempt int, delay time.Duration, err error) {
	for _, o := range c.observers {
		o.OnTransitionRetry(ctx, in, attempt, delay, err)
	}
}

func (c *CompositeObserver) OnActionExecuted(ctx context.Context, actx ActionContext, kind ActionKind, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActionExecuted(ctx, actx, kind, err, d)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs transition and action
// events using the provided slog.Logger. If logger is nil, slog.Default()
// is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTransitionStart(ctx context.Context, in TransitionInput) {
	o.Logger.DebugContext(ctx, "transition_start",
		slog.String("deal_id", in.DealID),
		slog.String("target_status", in.TargetStatus),
		slog.String("actor_role", string(in.ActorRole)),
	)
}

func (o *LoggingObserver) OnTransitionCompleted(ctx context.Context, in TransitionInput, out *TransitionOutcome) {
	o.Logger.InfoContext(ctx, "transition_completed",
		slog.String("deal_id", out.DealID),
		slog.String("from", out.PreviousStatus),
		slog.String("to", out.NewStatus),
		slog.String("workflow_version_id", out.WorkflowVersionID),
		slog.Int("attempts", out.Attempts),
	)
}

func (o *LoggingObserver) OnTransitionFailed(ctx context.Context, in TransitionInput, err error) {
	o.Logger.ErrorContext(ctx, "transition_failed",
		slog.String("deal_id", in.DealID),
		slog.String("target_status", in.TargetStatus),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnTransitionRetry(ctx context.Context, in TransitionInput, attempt int, delay time.Duration, err error) {
	o.Logger.WarnContext(ctx, "transition_retry",
		slog.String("deal_id", in.DealID),
		slog.String("target_status", in.TargetStatus),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnActionExecuted(ctx context.Context, actx ActionContext, kind ActionKind, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "action_executed",
		slog.String("deal_id", actx.DealID),
		slog.String("action", string(kind)),
		slog.String("from", actx.Transition.From),
		slog.String("to", actx.Transition.To),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate action durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	transitionsStarted   atomic.Int64
	transitionsCompleted atomic.Int64
	transitionsFailed    atomic.Int64
	retries              atomic.Int64
	actionsExecuted      atomic.Int64
	actionsFailed        atomic.Int64
	totalActionDuration  atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	TransitionsStarted   int64
	TransitionsCompleted int64
	TransitionsFailed    int64
	Retries              int64

	ActionsExecuted   int64
	ActionsFailed     int64
	AvgActionDuration time.Duration
}

func (m *BasicMetrics) OnTransitionStart(ctx context.Context, in TransitionInput) {
	m.transitionsStarted.Add(1)
}

func (m *BasicMetrics) OnTransitionCompleted(ctx context.Context, in TransitionInput, out *TransitionOutcome) {
	m.transitionsCompleted.Add(1)
}

func (m *BasicMetrics) OnTransitionFailed(ctx context.Context, in TransitionInput, err error) {
	m.transitionsFailed.Add(1)
}

func (m *BasicMetrics) OnTransitionRetry(ctx context.Context, in TransitionInput, attempt int, delay time.Duration, err error) {
	m.retries.Add(1)
}

func (m *BasicMetrics) OnActionExecuted(ctx context.Context, actx ActionContext, kind ActionKind, err error, d time.Duration) {
	if err != nil {
		m.actionsFailed.Add(1)
		return
	}
	m.actionsExecuted.Add(1)
	m.totalActionDuration.Add(d.Nanoseconds())
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	executed := m.actionsExecuted.Load()
	totalNs := m.totalActionDuration.Load()

	var avg time.Duration
	if executed > 0 {
		avg = time.Duration(totalNs / executed)
	}

	return BasicMetricsSnapshot{
		TransitionsStarted:   m.transitionsStarted.Load(),
		TransitionsCompleted: m.transitionsCompleted.Load(),
		TransitionsFailed:    m.transitionsFailed.Load(),
		Retries:              m.retries.Load(),
		ActionsExecuted:      executed,
		ActionsFailed:        m.actionsFailed.Load(),
		AvgActionDuration:    avg,
	}
}
