package actions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

var placeholder = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// Scope is the document binding expressions are evaluated against. Its
// top-level keys are deal, payload, context, status, workflow and now.
type Scope map[string]any

// NewScope builds the binding scope for a task created on deal while
// entering status. payload is the deal payload with the action payload
// merged over it.
func NewScope(deal *api.Deal, tpl *api.WorkflowTemplate, status string, ctx, payload map[string]any, now time.Time) Scope {
	scope := Scope{
		"context": guard.Clone(ctx),
		"now":     now.UTC().Format(time.RFC3339),
	}
	var dealPayload map[string]any
	if deal != nil {
		dealPayload = deal.Payload
		scope["deal"] = map[string]any{
			"id":                  deal.ID,
			"status":              deal.Status,
			"workflow_id":         deal.WorkflowID,
			"workflow_version_id": deal.WorkflowVersionID,
			"op_manager_id":       deal.OpManagerID,
			"payload":             guard.Clone(deal.Payload),
		}
	}
	scope["payload"] = guard.DeepMerge(dealPayload, payload)

	statusDoc := map[string]any{"code": status, "title": status}
	if tpl != nil {
		if st, ok := tpl.Status(status); ok && st.Title != "" {
			statusDoc["title"] = st.Title
		}
		scope["workflow"] = map[string]any{
			"id":    tpl.Workflow.ID,
			"title": tpl.Workflow.Title,
		}
	}
	scope["status"] = statusDoc
	return scope
}

// Evaluate renders one binding expression. An expression that is exactly
// one placeholder yields the raw value at its path, and reports false when
// the path does not resolve. Mixed text interpolates every placeholder as a
// string; unresolved ones render empty.
func (s Scope) Evaluate(expr string) (any, bool) {
	trimmed := strings.TrimSpace(expr)
	if m := placeholder.FindStringSubmatchIndex(trimmed); m != nil && m[0] == 0 && m[1] == len(trimmed) {
		return guard.ResolvePath(s, trimmed[m[2]:m[3]])
	}
	if !placeholder.MatchString(expr) {
		return expr, true
	}
	out := placeholder.ReplaceAllStringFunc(expr, func(match string) string {
		path := placeholder.FindStringSubmatch(match)[1]
		v, ok := guard.ResolvePath(s, path)
		if !ok {
			return ""
		}
		return stringify(v)
	})
	return out, true
}

// EvaluateAll renders every binding. Unresolved single-placeholder bindings
// are left out so defaults can still apply.
func (s Scope) EvaluateAll(bindings map[string]string) map[string]any {
	if len(bindings) == 0 {
		return nil
	}
	out := make(map[string]any, len(bindings))
	for field, expr := range bindings {
		if v, ok := s.Evaluate(expr); ok {
			out[field] = v
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}
