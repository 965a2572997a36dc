package guard

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/petrijr/dealflow/pkg/api"
)

// ErrUnsupportedRule is returned by the default evaluator for any rule
// outside "==v", "!=v", "truthy" and "falsy".
var ErrUnsupportedRule = errors.New("unsupported guard rule")

// DefaultEvaluator implements the minimal guard grammar.
type DefaultEvaluator struct{}

var _ api.GuardEvaluator = DefaultEvaluator{}

func (DefaultEvaluator) Evaluate(_ context.Context, cond api.Condition, data map[string]any) (bool, error) {
	return Evaluate(cond, data)
}

// Evaluate applies cond to data using the minimal grammar.
func Evaluate(cond api.Condition, data map[string]any) (bool, error) {
	actual, present := ResolvePath(data, cond.Key)
	rule := strings.TrimSpace(cond.Rule)

	switch {
	case strings.HasPrefix(rule, "=="):
		return StrictEqual(actual, present, ParseRuleValue(rule[2:])), nil
	case strings.HasPrefix(rule, "!="):
		return !StrictEqual(actual, present, ParseRuleValue(rule[2:])), nil
	case rule == "truthy":
		return Truthy(actual, present), nil
	case rule == "falsy":
		return !Truthy(actual, present), nil
	}
	return false, fmt.Errorf("%w %q for key %q: provide a custom guard evaluator", ErrUnsupportedRule, rule, cond.Key)
}

// CheckAll evaluates every condition, without short-circuiting, and
// returns those that did not hold. Evaluation errors abort.
func CheckAll(ctx context.Context, eval api.GuardEvaluator, conds []api.Condition, data map[string]any) ([]api.Condition, error) {
	if eval == nil {
		eval = DefaultEvaluator{}
	}
	var failed []api.Condition
	for _, c := range conds {
		ok, err := eval.Evaluate(ctx, c, data)
		if err != nil {
			return nil, err
		}
		if !ok {
			failed = append(failed, c)
		}
	}
	return failed, nil
}
