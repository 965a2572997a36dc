// Package assignee maps a workflow role to the user a task should be
// assigned to, using the assignment data carried in deal payloads.
package assignee

import (
	"strings"

	"github.com/petrijr/dealflow/pkg/api"
)

// Containers holds the historical key names of nested assignment maps and
// lists, in lookup order.
var Containers = []string{
	"assignments",
	"assignees",
	"roleAssignments",
	"role_assignments",
	"workflowAssignments",
	"workflow_assignments",
	"guardAssignments",
	"guard_assignments",
}

var userIDKeys = []string{"user_id", "userId", "id", "assignee_user_id", "assigneeUserId"}

// Actor is the user performing the operation that creates the task.
type Actor struct {
	Role api.Role
	ID   string
}

// Input is what Resolve looks at.
type Input struct {
	Role api.Role
	// Sources are searched in order; nil entries are skipped.
	Sources []map[string]any
	// OpManagerID is the deal's legacy single-owner field.
	OpManagerID string
	Actor       *Actor
}

// Resolve returns the first user id found for in.Role:
//  1. a role-keyed entry in a source, in any of its case variants;
//  2. an entry of a nested assignment container of that source;
//  3. the deal's OpManagerID, for OP_MANAGER;
//  4. the actor's own id when the actor holds the role.
//
// It reports false when nothing matches.
func Resolve(in Input) (string, bool) {
	role := strings.ToUpper(string(in.Role))

	for _, src := range in.Sources {
		if src == nil {
			continue
		}
		if id, ok := lookup(src, role); ok {
			return id, true
		}
		for _, key := range Containers {
			container, ok := src[key]
			if !ok {
				continue
			}
			if id, ok := fromContainer(container, role); ok {
				return id, true
			}
		}
	}

	if role == string(api.RoleOpManager) {
		if id := strings.TrimSpace(in.OpManagerID); id != "" {
			return in.OpManagerID, true
		}
	}

	if in.Actor != nil && strings.ToUpper(string(in.Actor.Role)) == role {
		if strings.TrimSpace(in.Actor.ID) != "" {
			return in.Actor.ID, true
		}
	}
	return "", false
}

func lookup(src map[string]any, role string) (string, bool) {
	for _, key := range []string{role, strings.ToLower(role), camel(role)} {
		v, ok := src[key]
		if !ok {
			continue
		}
		if id, ok := ExtractUserID(v); ok {
			return id, true
		}
	}
	return "", false
}

func fromContainer(container any, role string) (string, bool) {
	switch c := container.(type) {
	case map[string]any:
		return lookup(c, role)
	case []any:
		for _, item := range c {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if entryRole, ok := entryRole(entry); ok && strings.ToUpper(entryRole) != role {
				continue
			}
			if id, ok := ExtractUserID(entry); ok {
				return id, true
			}
		}
	}
	return "", false
}

// entryRole returns the first present role field of a list entry. Entries
// without one match any role.
func entryRole(entry map[string]any) (string, bool) {
	for _, key := range []string{"role", "role_code", "roleCode"} {
		v, present := entry[key]
		if !present || v == nil {
			continue
		}
		s, ok := v.(string)
		return s, ok
	}
	return "", false
}

// ExtractUserID reads a user id from a string, the first resolvable entry
// of a list, or the id fields of an object.
func ExtractUserID(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case []any:
		for _, item := range t {
			if id, ok := ExtractUserID(item); ok {
				return id, true
			}
		}
	case map[string]any:
		for _, key := range userIDKeys {
			if s, ok := t[key].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s), true
			}
		}
	}
	return "", false
}

// camel turns OP_MANAGER into opManager.
func camel(s string) string {
	parts := strings.Split(strings.ToLower(s), "_")
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}
