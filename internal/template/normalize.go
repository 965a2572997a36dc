package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/petrijr/dealflow/pkg/api"
)

var roleCategories = map[string]bool{"auth": true, "workflow": true}

// normalizer validates the raw document while converting it, collecting
// issues instead of stopping at the first one.
type normalizer struct {
	issues []Issue
}

func (n *normalizer) addf(path, format string, args ...any) {
	n.issues = append(n.issues, Issue{Path: path, Message: fmt.Sprintf(format, args...)})
}

func (n *normalizer) required(path, value string) string {
	if strings.TrimSpace(value) == "" {
		n.addf(path, "is required")
	}
	return value
}

func (n *normalizer) role(path, code string) api.Role {
	if code == "" {
		n.addf(path, "is required")
		return ""
	}
	r := api.Role(code)
	if !api.IsTemplateRole(r) {
		n.addf(path, "unknown role %q", code)
	}
	return r
}

func (n *normalizer) roles(path string, codes []string, min int) []api.Role {
	if len(codes) < min {
		n.addf(path, "must list at least %d role(s)", min)
	}
	var out []api.Role
	for i, c := range codes {
		out = append(out, n.role(fmt.Sprintf("%s[%d]", path, i), c))
	}
	return out
}

func (n *normalizer) template(raw *rawTemplate) *api.WorkflowTemplate {
	tpl := &api.WorkflowTemplate{}

	if raw.Workflow == nil {
		n.addf("workflow", "is required")
	} else {
		tpl.Workflow = api.Metadata{
			ID:        n.required("workflow.id", raw.Workflow.ID),
			Title:     n.required("workflow.title", raw.Workflow.Title),
			Entity:    n.required("workflow.entity", raw.Workflow.Entity),
			OwnerRole: n.role("workflow.owner_role", raw.Workflow.OwnerRole),
			Timezone:  n.required("workflow.timezone", raw.Workflow.Timezone),
		}
	}

	if len(raw.Roles) == 0 {
		n.addf("roles", "must declare at least one role")
	}
	for i, r := range raw.Roles {
		path := fmt.Sprintf("roles[%d]", i)
		def := api.RoleDefinition{
			Code: n.role(path+".code", r.Code),
			Name: n.required(path+".name", r.Name),
		}
		if len(r.Categories) == 0 {
			n.addf(path+".categories", "must list at least one category")
		}
		for j, c := range r.Categories {
			if !roleCategories[c] {
				n.addf(fmt.Sprintf("%s.categories[%d]", path, j), "unknown category %q", c)
			}
			def.Categories = append(def.Categories, c)
		}
		tpl.Roles = append(tpl.Roles, def)
	}

	if len(raw.KanbanOrder) == 0 {
		n.addf("kanban_order", "must list at least one status")
	}
	for i, code := range raw.KanbanOrder {
		tpl.KanbanOrder = append(tpl.KanbanOrder, n.required(fmt.Sprintf("kanban_order[%d]", i), code))
	}

	if raw.Statuses == nil {
		n.addf("statuses", "is required")
	}
	tpl.Statuses = make(map[string]*api.StatusDefinition, len(raw.Statuses))
	for _, code := range sortedKeys(raw.Statuses) {
		tpl.Statuses[code] = n.status("statuses."+code, code, raw.Statuses[code])
	}

	if len(raw.Transitions) == 0 {
		n.addf("transitions", "must declare at least one transition")
	}
	for i, t := range raw.Transitions {
		path := fmt.Sprintf("transitions[%d]", i)
		tpl.Transitions = append(tpl.Transitions, api.Transition{
			From:    n.required(path+".from", t.From),
			To:      n.required(path+".to", t.To),
			ByRoles: n.roles(path+".by_roles", t.ByRoles, 1),
			Guards:  n.conditions(path+".guards", t.Guards),
		})
	}

	if raw.Permissions == nil {
		n.addf("permissions", "is required")
	}
	for _, name := range sortedKeys(raw.Permissions) {
		if tpl.Permissions == nil {
			tpl.Permissions = make(map[string]api.PermissionEntry, len(raw.Permissions))
		}
		tpl.Permissions[name] = n.permission("permissions."+name, raw.Permissions[name])
	}

	if raw.Integrations == nil {
		n.addf("integrations", "is required")
	} else {
		tpl.Integrations = n.integrations(raw.Integrations)
	}

	if raw.Metrics == nil {
		n.addf("metrics", "is required")
	} else {
		tpl.Metrics = n.metrics(raw.Metrics)
	}

	if raw.Notifications == nil {
		n.addf("notifications", "is required")
	} else {
		for i, ch := range raw.Notifications.Channels {
			tpl.Notifications.Channels = append(tpl.Notifications.Channels,
				n.required(fmt.Sprintf("notifications.channels[%d]", i), ch))
		}
		for key, text := range raw.Notifications.Templates {
			n.required("notifications.templates."+key, text)
		}
		tpl.Notifications.Templates = nilIfEmpty(raw.Notifications.Templates)
	}

	n.references(tpl)
	return tpl
}

func (n *normalizer) status(path, code string, raw *rawStatus) *api.StatusDefinition {
	if raw == nil {
		n.addf(path, "is empty")
		return &api.StatusDefinition{Code: code}
	}
	st := &api.StatusDefinition{
		Code:        code,
		Title:       n.required(path+".title", raw.Title),
		Description: raw.Description,
	}
	for i, a := range raw.EntryActions {
		if act := n.action(fmt.Sprintf("%s.entry_actions[%d]", path, i), &a); act != nil {
			st.EntryActions = append(st.EntryActions, act)
		}
	}
	for i, r := range raw.ExitRequirements {
		p := fmt.Sprintf("%s.exit_requirements[%d]", path, i)
		st.ExitRequirements = append(st.ExitRequirements, api.Requirement{
			Key:     n.required(p+".key", r.Key),
			Rule:    n.required(p+".rule", r.Rule),
			Message: r.Message,
		})
	}
	if raw.Webhooks != nil {
		st.Webhooks = &api.StatusWebhookConfig{}
		for i, ev := range raw.Webhooks.OnEvent {
			p := fmt.Sprintf("%s.webhooks.on_event[%d]", path, i)
			st.Webhooks.OnEvent = append(st.Webhooks.OnEvent, api.StatusWebhookEvent{
				Event:        n.required(p+".event", ev.Event),
				TransitionTo: n.required(p+".transition_to", ev.TransitionTo),
				Conditions:   n.conditions(p+".conditions", ev.Conditions),
			})
		}
	}
	if raw.SLA != nil {
		st.SLA = &api.StatusSLA{MaxHours: n.positive(path+".sla.max_hours", raw.SLA.MaxHours)}
		for i, esc := range raw.SLA.Escalation {
			p := fmt.Sprintf("%s.sla.escalation[%d]", path, i)
			step := api.SLAEscalation{AfterHours: n.positive(p+".after_hours", esc.AfterHours)}
			if esc.Action == nil {
				n.addf(p+".action", "is required")
			} else {
				step.Action = n.action(p+".action", esc.Action)
			}
			st.SLA.Escalation = append(st.SLA.Escalation, step)
		}
	}
	return st
}

func (n *normalizer) positive(path string, v int) int {
	if v <= 0 {
		n.addf(path, "must be a positive integer")
	}
	return v
}

func (n *normalizer) conditions(path string, raw []rawCondition) []api.Condition {
	var out []api.Condition
	for i, c := range raw {
		p := fmt.Sprintf("%s[%d]", path, i)
		out = append(out, api.Condition{
			Key:  n.required(p+".key", c.Key),
			Rule: n.required(p+".rule", c.Rule),
		})
	}
	return out
}

func (n *normalizer) action(path string, raw *rawAction) api.Action {
	switch api.ActionKind(raw.Type) {
	case api.ActionTaskCreate:
		if raw.Task == nil {
			n.addf(path+".task", "is required")
			return nil
		}
		return &api.TaskCreateAction{Task: n.task(path+".task", raw.Task)}
	case api.ActionNotify:
		return &api.NotifyAction{
			ToRoles:  n.roles(path+".to_roles", raw.ToRoles, 1),
			Template: n.required(path+".template", raw.Template),
		}
	case api.ActionEscalate:
		return &api.EscalateAction{
			ToRoles:  n.roles(path+".to_roles", raw.ToRoles, 1),
			Template: n.required(path+".template", raw.Template),
		}
	case api.ActionWebhook:
		return &api.WebhookAction{
			Endpoint: n.required(path+".endpoint", raw.Endpoint),
			Payload:  nilIfEmpty(raw.Payload),
		}
	case api.ActionSchedule:
		if raw.Job == nil {
			n.addf(path+".job", "is required")
			return nil
		}
		return &api.ScheduleAction{Job: api.ScheduleJob{
			Type: n.required(path+".job.type", raw.Job.Type),
			Cron: n.required(path+".job.cron", raw.Job.Cron),
		}}
	case "":
		n.addf(path+".type", "is required")
	default:
		n.addf(path+".type", "unknown action type %q", raw.Type)
	}
	return nil
}

func (n *normalizer) task(path string, raw *rawTask) api.TaskDefinition {
	def := api.TaskDefinition{
		TemplateID:   n.required(path+".template_id", raw.TemplateID),
		Type:         n.required(path+".type", raw.Type),
		Title:        n.required(path+".title", raw.Title),
		AssigneeRole: n.role(path+".assignee_role", raw.AssigneeRole),
		Defaults:     nilIfEmpty(raw.Defaults),
		GuardKey:     raw.GuardKey,
	}
	if raw.SLA != nil {
		def.SLA = &api.TaskSLA{Hours: n.positive(path+".sla.hours", raw.SLA.Hours)}
	}
	for k, expr := range raw.Bindings {
		n.required(path+".bindings."+k, expr)
	}
	def.Bindings = nilIfEmpty(raw.Bindings)
	if raw.Schema != nil {
		def.Schema = n.schema(path+".schema", raw.Schema)
	}
	return def
}

// schema validates the task field mini-DSL: every field needs an id and a
// type, ids are unique, options carry a value, and profile-sync lists may
// only name declared fields.
func (n *normalizer) schema(path string, raw *rawTaskSchema) *api.TaskSchema {
	s := &api.TaskSchema{Version: raw.Version}
	if s.Version == "" {
		s.Version = "1.0"
	}
	if len(raw.Fields) == 0 {
		n.addf(path+".fields", "must declare at least one field")
	}
	ids := map[string]bool{}
	for i, f := range raw.Fields {
		p := fmt.Sprintf("%s.fields[%d]", path, i)
		field := api.TaskField{
			ID:           n.required(p+".id", f.ID),
			Type:         n.required(p+".type", f.Type),
			Label:        f.Label,
			Description:  f.Description,
			DocumentType: f.DocumentType,
			Required:     f.Required,
			UI:           nilIfEmpty(f.UI),
		}
		if f.ID != "" && ids[f.ID] {
			n.addf(p+".id", "duplicate field id %q", f.ID)
		}
		ids[f.ID] = true
		for j, o := range f.Options {
			field.Options = append(field.Options, api.FieldOption{
				Value:       n.required(fmt.Sprintf("%s.options[%d].value", p, j), o.Value),
				Label:       o.Label,
				Description: o.Description,
			})
		}
		s.Fields = append(s.Fields, field)
	}
	s.SaveToBuyerProfile = n.profileList(path+".save_to_buyer_profile", raw.SaveToBuyerProfile, ids)
	s.SaveToSellerProfile = n.profileList(path+".save_to_seller_profile", raw.SaveToSellerProfile, ids)
	s.SaveToClientProfile = n.profileList(path+".save_to_client_profile", raw.SaveToClientProfile, ids)
	return s
}

func (n *normalizer) profileList(path string, list []string, ids map[string]bool) []string {
	var out []string
	for i, id := range list {
		if !ids[id] {
			n.addf(fmt.Sprintf("%s[%d]", path, i), "references undeclared field %q", id)
		}
		out = append(out, id)
	}
	return out
}

func (n *normalizer) permission(path string, raw *rawPermission) api.PermissionEntry {
	if raw == nil || (len(raw.Roles) > 0) == (len(raw.Rules) > 0) {
		n.addf(path, "must declare exactly one of roles or rules")
		return api.PermissionEntry{}
	}
	if len(raw.Roles) > 0 {
		return api.PermissionEntry{Kind: api.PermissionRoles, Roles: n.roles(path+".roles", raw.Roles, 1)}
	}
	entry := api.PermissionEntry{Kind: api.PermissionRules}
	for i, r := range raw.Rules {
		p := fmt.Sprintf("%s.rules[%d]", path, i)
		if len(r.AllowedFrom) == 0 {
			n.addf(p+".allowed_from", "must list at least one status")
		}
		entry.Rules = append(entry.Rules, api.PermissionRule{
			Role:        n.role(p+".role", r.Role),
			AllowedFrom: nilIfEmptySlice(r.AllowedFrom),
			AllowedTo:   nilIfEmptySlice(r.AllowedTo),
		})
	}
	return entry
}

func (n *normalizer) integrations(raw *rawIntegrations) api.Integrations {
	out := api.Integrations{
		Webhooks:  nilIfEmpty(raw.Webhooks),
		Callbacks: nilIfEmpty(raw.Callbacks),
	}
	if raw.Retries != nil {
		if raw.Retries.BaseMs < 0 {
			n.addf("integrations.retries.base_ms", "must not be negative")
		}
		if raw.Retries.MaxRetries < 0 {
			n.addf("integrations.retries.max_retries", "must not be negative")
		}
		out.Retries = &api.RetryConfig{
			Policy:     n.required("integrations.retries.policy", raw.Retries.Policy),
			BaseMs:     raw.Retries.BaseMs,
			MaxRetries: raw.Retries.MaxRetries,
		}
	}
	return out
}

func (n *normalizer) metrics(raw *rawMetrics) api.MetricsConfig {
	out := api.MetricsConfig{}
	if raw.Enabled == nil {
		n.addf("metrics.enabled", "is required")
	} else {
		out.Enabled = *raw.Enabled
	}
	for i, t := range raw.Timers {
		p := fmt.Sprintf("metrics.timers[%d]", i)
		out.Timers = append(out.Timers, api.TimerMetric{
			Name: n.required(p+".name", t.Name),
			From: n.required(p+".from", t.From),
			To:   n.required(p+".to", t.To),
		})
	}
	if raw.Export != nil {
		out.Export = &api.MetricsExport{
			Prometheus: raw.Export.Prometheus,
			Dimensions: nilIfEmptySlice(raw.Export.Dimensions),
		}
	}
	return out
}

// references checks that every status code used by the kanban order,
// transitions and inbound webhooks is declared, and that no (from, to)
// pair is declared twice.
func (n *normalizer) references(tpl *api.WorkflowTemplate) {
	var missingKanban []string
	for _, code := range tpl.KanbanOrder {
		if _, ok := tpl.Statuses[code]; !ok && code != "" {
			missingKanban = append(missingKanban, code)
		}
	}
	if len(missingKanban) > 0 {
		n.addf("kanban_order", "references undefined statuses: %s", strings.Join(missingKanban, ", "))
	}

	var missingTransition []string
	seen := map[string]bool{}
	pairs := map[[2]string]bool{}
	for i, t := range tpl.Transitions {
		for _, code := range []string{t.From, t.To} {
			if _, ok := tpl.Statuses[code]; !ok && code != "" && !seen[code] {
				seen[code] = true
				missingTransition = append(missingTransition, code)
			}
		}
		key := [2]string{t.From, t.To}
		if pairs[key] {
			n.addf(fmt.Sprintf("transitions[%d]", i), "duplicate transition %s -> %s", t.From, t.To)
		}
		pairs[key] = true
	}
	if len(missingTransition) > 0 {
		n.addf("transitions", "reference undefined statuses: %s", strings.Join(missingTransition, ", "))
	}

	for _, code := range sortedKeys(tpl.Statuses) {
		st := tpl.Statuses[code]
		if st.Webhooks == nil {
			continue
		}
		for i, ev := range st.Webhooks.OnEvent {
			if _, ok := tpl.Statuses[ev.TransitionTo]; !ok && ev.TransitionTo != "" {
				n.addf(fmt.Sprintf("statuses.%s.webhooks.on_event[%d].transition_to", code, i),
					"references undefined status %q", ev.TransitionTo)
			}
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func nilIfEmpty[V any](m map[string]V) map[string]V {
	if len(m) == 0 {
		return nil
	}
	return m
}

func nilIfEmptySlice(s []string) []string {
	if len(s) == 0 {
		return nil
	}
	return s
}
