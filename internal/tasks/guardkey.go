package tasks

import (
	"regexp"
	"strings"
	"time"

	"github.com/petrijr/dealflow/internal/guard"
)

// fallbackGuardKeys maps built-in task types to the guard flag their
// completion raises when the task payload names none.
var fallbackGuardKeys = map[string]string{
	"CONFIRM_CAR":       "tasks.confirmCar.completed",
	"PREPARE_QUOTE":     "quotationPrepared",
	"VERIFY_VEHICLE":    "vehicle.verified",
	"COLLECT_DOCS":      "docs.required.allUploaded",
	"AECB_CHECK":        "risk.approved",
	"FIN_CALC":          "finance.approved",
	"INVESTOR_APPROVAL": "investor.approved",
	"PREPARE_CONTRACT":  "legal.contractReady",
	"RECEIVE_ADVANCE":   "payments.advanceReceived",
	"PAY_SUPPLIER":      "payments.supplierPaid",
	"ARRANGE_DELIVERY":  "delivery.confirmed",
}

// FallbackGuardKey returns the built-in guard key of taskType.
func FallbackGuardKey(taskType string) (string, bool) {
	key, ok := fallbackGuardKeys[strings.ToUpper(strings.TrimSpace(taskType))]
	return key, ok
}

// ResolveGuardKey picks the guard key a completed task raises: a non-empty
// "guard_key" string in the task payload wins over the type fallback.
func ResolveGuardKey(taskType string, payload map[string]any) string {
	if raw, ok := payload["guard_key"].(string); ok {
		if key := strings.TrimSpace(raw); key != "" {
			return key
		}
	}
	key, _ := FallbackGuardKey(taskType)
	return key
}

var nonAlnum = regexp.MustCompile(`[^A-Za-z0-9]+`)

// StorageKey derives the entry name under payload.tasks for a guard key.
// Keys already under "tasks." keep their next segment; others are
// flattened with underscores.
func StorageKey(guardKey string) string {
	if rest, ok := strings.CutPrefix(guardKey, "tasks."); ok {
		if seg, _, _ := strings.Cut(rest, "."); seg != "" {
			return seg
		}
	}
	return nonAlnum.ReplaceAllString(guardKey, "_")
}

// completionRecord is what a completed task leaves behind in the deal payload.
type completionRecord struct {
	GuardKey    string
	TaskID      string
	TaskType    string
	StatusKey   string
	CompletedAt time.Time
	TaskPayload map[string]any
}

// applyCompletion raises the guard flag and writes the bookkeeping entries
// under payload.tasks and payload.guard_tasks. It returns a new map.
func applyCompletion(payload map[string]any, rec completionRecord) map[string]any {
	out := guard.SetPath(payload, rec.GuardKey, true)

	completedAt := rec.CompletedAt.UTC().Format(time.RFC3339)
	statusKey := nullable(rec.StatusKey)

	tasksBranch := branch(out, "tasks")
	storageKey := StorageKey(rec.GuardKey)
	entry := branch(tasksBranch, storageKey)
	entry["completed"] = true
	entry["completed_at"] = completedAt
	entry["task_type"] = nullable(rec.TaskType)
	entry["task_id"] = rec.TaskID
	entry["status_key"] = statusKey

	guardBranch := branch(out, "guard_tasks")
	ge := branch(guardBranch, rec.GuardKey)
	ge["fulfilled"] = true
	ge["completed_at"] = completedAt
	ge["task_type"] = nullable(rec.TaskType)
	ge["task_id"] = rec.TaskID
	ge["status_key"] = statusKey
	ge["note"] = carry(rec.TaskPayload, "guard_note", ge["note"])
	ge["attachment_path"] = carry(rec.TaskPayload, "guard_attachment_path", ge["attachment_path"])
	ge["document_type"] = carry(rec.TaskPayload, "guard_document_type", ge["document_type"])
	return out
}

// branch returns m[key] as an object, replacing any non-object value.
func branch(m map[string]any, key string) map[string]any {
	if child, ok := m[key].(map[string]any); ok {
		return child
	}
	child := map[string]any{}
	m[key] = child
	return child
}

// carry returns payload[key] when it is a non-empty string, else existing.
func carry(payload map[string]any, key string, existing any) any {
	if s, ok := payload[key].(string); ok && s != "" {
		return s
	}
	return existing
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
