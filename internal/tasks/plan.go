package tasks

import (
	"slices"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// Plan is the auto-transition decision for a completed task.
type Plan struct {
	// StatusFound is false when the deal's status is not declared.
	StatusFound bool
	// ExitGuardKeys are the keys of the status's exit requirements.
	ExitGuardKeys []string
	// GuardMatched reports whether the guard key is one of ExitGuardKeys,
	// or the status declares none.
	GuardMatched bool
	// UnsatisfiedGuards are the exit requirement keys that do not hold.
	UnsatisfiedGuards []string
	// TargetStatus is empty when no outgoing transition applies.
	TargetStatus string
}

// Ready reports whether the plan allows a transition attempt.
func (p Plan) Ready() bool {
	return p.StatusFound && p.GuardMatched && len(p.UnsatisfiedGuards) == 0 && p.TargetStatus != ""
}

// ResolvePlan decides whether completing a task that raised guardKey
// should move a deal out of status. Exit requirements are evaluated over
// data with the default grammar; a rule it cannot evaluate counts as
// unsatisfied.
//
// The target is the first outgoing transition, in declared order, that
// either has no guards or has a guard on guardKey.
func ResolvePlan(tpl *api.WorkflowTemplate, status, guardKey string, data map[string]any) Plan {
	st, ok := tpl.Status(status)
	if !ok {
		return Plan{GuardMatched: true}
	}

	plan := Plan{StatusFound: true}
	for _, req := range st.ExitRequirements {
		if req.Key != "" {
			plan.ExitGuardKeys = append(plan.ExitGuardKeys, req.Key)
		}
	}
	plan.GuardMatched = len(plan.ExitGuardKeys) == 0 || slices.Contains(plan.ExitGuardKeys, guardKey)

	for _, req := range st.ExitRequirements {
		if req.Key == "" {
			continue
		}
		held, err := guard.Evaluate(api.Condition{Key: req.Key, Rule: req.Rule}, data)
		if err != nil || !held {
			plan.UnsatisfiedGuards = append(plan.UnsatisfiedGuards, req.Key)
		}
	}

	plan.TargetStatus = nextStatus(tpl, status, guardKey)
	return plan
}

func nextStatus(tpl *api.WorkflowTemplate, status, guardKey string) string {
	for _, tr := range tpl.OutgoingTransitions(status) {
		if len(tr.Guards) == 0 {
			return tr.To
		}
		for _, g := range tr.Guards {
			if g.Key == guardKey {
				return tr.To
			}
		}
	}
	return ""
}
