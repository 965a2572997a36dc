package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/internal/persistence"
	"github.com/petrijr/dealflow/internal/statemachine"
	"github.com/petrijr/dealflow/pkg/api"
)

// DefaultSupervisorRoles bypass transition role lists unless configured
// otherwise. Guards still apply to them.
var DefaultSupervisorRoles = []api.Role{api.RoleAdmin, api.RoleSystem}

// Config describes how to construct a Service.
type Config struct {
	Persistence persistence.Persistence

	// Executor runs entry actions; nil records them without effect.
	Executor api.ActionExecutor
	// Guards replaces the default minimal-grammar guard evaluator.
	Guards   api.GuardEvaluator
	Observer api.Observer
	Logger   *slog.Logger

	// Retry defaults to DefaultRetryPolicy.
	Retry *RetryPolicy
	// SupervisorRoles defaults to DefaultSupervisorRoles. An empty,
	// non-nil slice disables the bypass.
	SupervisorRoles []api.Role

	// Sleep and Jitter are test seams.
	Sleep  Sleeper
	Jitter func(max time.Duration) time.Duration
	Now    func() time.Time
}

// Service is the sole owner of a deal's persisted status.
type Service struct {
	deals    api.DealRepository
	versions api.VersionRepository
	audit    api.AuditLogger
	executor api.ActionExecutor
	guards   api.GuardEvaluator
	observer api.Observer
	logger   *slog.Logger

	retry      RetryPolicy
	supervisor []api.Role
	sleep      Sleeper
	jitter     func(time.Duration) time.Duration
	now        func() time.Time

	machines *machineRegistry
}

// NewService builds a Service from cfg.
func NewService(cfg Config) *Service {
	s := &Service{
		deals:      cfg.Persistence.Deals,
		versions:   cfg.Persistence.Versions,
		audit:      cfg.Persistence.Audit,
		executor:   cfg.Executor,
		guards:     cfg.Guards,
		observer:   cfg.Observer,
		logger:     cfg.Logger,
		retry:      DefaultRetryPolicy(),
		supervisor: cfg.SupervisorRoles,
		sleep:      cfg.Sleep,
		jitter:     cfg.Jitter,
		now:        cfg.Now,
	}
	if s.guards == nil {
		s.guards = guard.DefaultEvaluator{}
	}
	if s.observer == nil {
		s.observer = api.NoopObserver{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if cfg.Retry != nil {
		s.retry = *cfg.Retry
	}
	if s.supervisor == nil {
		s.supervisor = DefaultSupervisorRoles
	}
	if s.sleep == nil {
		s.sleep = sleepContext
	}
	if s.jitter == nil {
		s.jitter = randomJitter
	}
	if s.now == nil {
		s.now = time.Now
	}

	opts := []statemachine.Option{
		statemachine.WithObserver(s.observer),
		statemachine.WithSupervisorRoles(s.supervisor...),
		statemachine.WithGuardEvaluator(s.guards),
	}
	if cfg.Executor != nil {
		opts = append(opts, statemachine.WithActionExecutor(cfg.Executor))
	}
	s.machines = newMachineRegistry(opts...)
	return s
}

// NewInMemoryService wires a Service over a fresh in-memory store.
func NewInMemoryService(executor api.ActionExecutor) (*Service, *persistence.InMemoryStore) {
	mem := persistence.NewInMemoryStore()
	return NewService(Config{
		Persistence: persistence.FromStore(mem),
		Executor:    executor,
	}), mem
}

// Machine returns the state machine governing version v, configured with
// the service's supervisor roles, guard evaluator and executor.
func (s *Service) Machine(v *api.WorkflowVersion) *statemachine.Machine {
	return s.machines.Get(v)
}

// TransitionDeal moves a deal to in.TargetStatus, retrying transient
// failures according to the retry policy. Each attempt re-reads the deal
// and rebuilds the guard context.
func (s *Service) TransitionDeal(ctx context.Context, in api.TransitionInput) (*api.TransitionOutcome, error) {
	s.observer.OnTransitionStart(ctx, in)

	maxAttempts := s.retry.attempts()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		out, err := s.transitionOnce(ctx, in)
		if err == nil {
			out.Attempts = attempt
			s.observer.OnTransitionCompleted(ctx, in, out)
			return out, nil
		}
		lastErr = err

		if attempt == maxAttempts || !IsRetryable(err) {
			break
		}

		delay := s.retry.Backoff(attempt) + s.jitter(s.retry.MaxJitter)
		s.observer.OnTransitionRetry(ctx, in, attempt, delay, err)
		if serr := s.sleep(ctx, delay); serr != nil {
			lastErr = fmt.Errorf("transition %s aborted after attempt %d: %w", in.DealID, attempt, errors.Join(serr, err))
			break
		}
	}

	s.observer.OnTransitionFailed(ctx, in, lastErr)
	return nil, lastErr
}

func (s *Service) transitionOnce(ctx context.Context, in api.TransitionInput) (*api.TransitionOutcome, error) {
	deal, err := s.deals.GetDeal(ctx, in.DealID)
	if err != nil {
		return nil, fmt.Errorf("load deal %s: %w", in.DealID, err)
	}

	version, err := s.ResolveVersion(ctx, deal)
	if err != nil {
		return nil, err
	}

	guardCtx := guard.DeepMerge(deal.Payload, in.GuardContext)

	res, err := s.Machine(version).PerformTransition(ctx, api.TransitionRequest{
		DealID:            deal.ID,
		From:              deal.Status,
		To:                in.TargetStatus,
		ActorRole:         in.ActorRole,
		ActorID:           in.ActorID,
		WorkflowVersionID: version.ID,
		Context:           guardCtx,
		Payload:           in.ActionPayload,
	})
	if err != nil {
		return nil, err
	}

	if err := s.deals.UpdateDealStatus(ctx, api.DealStatusUpdate{
		DealID:            deal.ID,
		PreviousStatus:    deal.Status,
		NewStatus:         res.To,
		WorkflowVersionID: version.ID,
	}); err != nil {
		return nil, fmt.Errorf("persist status of deal %s: %w", deal.ID, err)
	}

	s.logTransition(ctx, api.AuditEntry{
		ID:                uuid.NewString(),
		DealID:            deal.ID,
		Event:             api.AuditTransition,
		From:              deal.Status,
		To:                res.To,
		ActorRole:         in.ActorRole,
		ActorID:           in.ActorID,
		WorkflowVersionID: version.ID,
		Actions:           res.ExecutedActions,
		Details: map[string]any{
			"guardContext":    guardCtx,
			"actionsExecuted": res.ExecutedActions,
		},
		CreatedAt: s.now().UTC(),
	})

	return &api.TransitionOutcome{
		DealID:            deal.ID,
		PreviousStatus:    deal.Status,
		NewStatus:         res.To,
		WorkflowVersionID: version.ID,
		ExecutedActions:   res.ExecutedActions,
	}, nil
}

// logTransition writes the audit row. The status is already persisted at
// this point, so a failure is logged rather than returned.
func (s *Service) logTransition(ctx context.Context, entry api.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogTransition(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "transition_audit_failed",
			slog.String("deal_id", entry.DealID),
			slog.String("from", entry.From),
			slog.String("to", entry.To),
			slog.Any("error", err),
		)
	}
}

// ResolveVersion returns the version governing deal: its pinned version if
// that still resolves, else the workflow's active version. The result must
// belong to the deal's workflow.
func (s *Service) ResolveVersion(ctx context.Context, deal *api.Deal) (*api.WorkflowVersion, error) {
	var version *api.WorkflowVersion
	if deal.WorkflowVersionID != "" {
		v, err := s.versions.FindByID(ctx, deal.WorkflowVersionID)
		switch {
		case err == nil:
			version = v
		case !errors.Is(err, api.ErrVersionNotFound):
			return nil, fmt.Errorf("load pinned version %s: %w", deal.WorkflowVersionID, err)
		}
	}
	if version == nil {
		v, err := s.versions.FindActive(ctx, deal.WorkflowID)
		if err != nil {
			return nil, fmt.Errorf("resolve version for workflow %s: %w", deal.WorkflowID, err)
		}
		version = v
	}
	if version.WorkflowID != deal.WorkflowID {
		return nil, fmt.Errorf("deal workflow %q, template workflow %q: %w", deal.WorkflowID, version.WorkflowID, api.ErrWorkflowMismatch)
	}
	return version, nil
}
