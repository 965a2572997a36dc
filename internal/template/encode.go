package template

import (
	"bytes"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/dealflow/pkg/api"
)

// Encode renders tpl back into its snake_case document form. Parsing the
// output yields a template equal to tpl.
func Encode(tpl *api.WorkflowTemplate) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(denormalize(tpl)); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func denormalize(tpl *api.WorkflowTemplate) *rawTemplate {
	raw := &rawTemplate{
		Workflow: &rawMetadata{
			ID:        tpl.Workflow.ID,
			Title:     tpl.Workflow.Title,
			Entity:    tpl.Workflow.Entity,
			OwnerRole: string(tpl.Workflow.OwnerRole),
			Timezone:  tpl.Workflow.Timezone,
		},
		KanbanOrder: tpl.KanbanOrder,
		Statuses:    make(map[string]*rawStatus, len(tpl.Statuses)),
		Permissions: make(map[string]*rawPermission, len(tpl.Permissions)),
		Integrations: &rawIntegrations{
			Webhooks:  tpl.Integrations.Webhooks,
			Callbacks: tpl.Integrations.Callbacks,
		},
		Metrics: &rawMetrics{Enabled: &tpl.Metrics.Enabled},
		Notifications: &rawNotifications{
			Channels:  tpl.Notifications.Channels,
			Templates: tpl.Notifications.Templates,
		},
	}

	for _, r := range tpl.Roles {
		raw.Roles = append(raw.Roles, rawRole{Code: string(r.Code), Name: r.Name, Categories: r.Categories})
	}

	for code, st := range tpl.Statuses {
		raw.Statuses[code] = denormalizeStatus(st)
	}

	for _, t := range tpl.Transitions {
		raw.Transitions = append(raw.Transitions, rawTransition{
			From:    t.From,
			To:      t.To,
			ByRoles: roleStrings(t.ByRoles),
			Guards:  rawConditions(t.Guards),
		})
	}

	for name, p := range tpl.Permissions {
		rp := &rawPermission{Roles: roleStrings(p.Roles)}
		for _, r := range p.Rules {
			rp.Rules = append(rp.Rules, rawPermissionRule{Role: string(r.Role), AllowedFrom: r.AllowedFrom, AllowedTo: r.AllowedTo})
		}
		raw.Permissions[name] = rp
	}

	if r := tpl.Integrations.Retries; r != nil {
		raw.Integrations.Retries = &rawRetries{Policy: r.Policy, BaseMs: r.BaseMs, MaxRetries: r.MaxRetries}
	}

	for _, t := range tpl.Metrics.Timers {
		raw.Metrics.Timers = append(raw.Metrics.Timers, rawTimer(t))
	}
	if e := tpl.Metrics.Export; e != nil {
		raw.Metrics.Export = &rawExport{Prometheus: e.Prometheus, Dimensions: e.Dimensions}
	}
	return raw
}

func denormalizeStatus(st *api.StatusDefinition) *rawStatus {
	raw := &rawStatus{Title: st.Title, Description: st.Description}
	for _, a := range st.EntryActions {
		raw.EntryActions = append(raw.EntryActions, *denormalizeAction(a))
	}
	for _, r := range st.ExitRequirements {
		raw.ExitRequirements = append(raw.ExitRequirements, rawRequirement(r))
	}
	if st.Webhooks != nil {
		raw.Webhooks = &rawStatusWebhook{}
		for _, ev := range st.Webhooks.OnEvent {
			raw.Webhooks.OnEvent = append(raw.Webhooks.OnEvent, rawWebhookEvent{
				Event:        ev.Event,
				TransitionTo: ev.TransitionTo,
				Conditions:   rawConditions(ev.Conditions),
			})
		}
	}
	if st.SLA != nil {
		raw.SLA = &rawStatusSLA{MaxHours: st.SLA.MaxHours}
		for _, esc := range st.SLA.Escalation {
			raw.SLA.Escalation = append(raw.SLA.Escalation, rawEscalation{
				AfterHours: esc.AfterHours,
				Action:     denormalizeAction(esc.Action),
			})
		}
	}
	return raw
}

// actionEncoder renders each action kind into the union wire form.
type actionEncoder struct {
	out *rawAction
}

func denormalizeAction(a api.Action) *rawAction {
	enc := &actionEncoder{out: &rawAction{}}
	if a != nil {
		_ = a.Accept(enc)
	}
	return enc.out
}

func (e *actionEncoder) VisitTaskCreate(a *api.TaskCreateAction) error {
	t := a.Task
	rt := &rawTask{
		TemplateID:   t.TemplateID,
		Type:         t.Type,
		Title:        t.Title,
		AssigneeRole: string(t.AssigneeRole),
		Bindings:     t.Bindings,
		Defaults:     t.Defaults,
		GuardKey:     t.GuardKey,
	}
	if t.SLA != nil {
		rt.SLA = &rawTaskSLA{Hours: t.SLA.Hours}
	}
	if s := t.Schema; s != nil {
		rs := &rawTaskSchema{
			Version:             s.Version,
			SaveToBuyerProfile:  s.SaveToBuyerProfile,
			SaveToSellerProfile: s.SaveToSellerProfile,
			SaveToClientProfile: s.SaveToClientProfile,
		}
		for _, f := range s.Fields {
			rf := rawTaskField{
				ID:           f.ID,
				Type:         f.Type,
				Label:        f.Label,
				Description:  f.Description,
				DocumentType: f.DocumentType,
				Required:     f.Required,
				UI:           f.UI,
			}
			for _, o := range f.Options {
				rf.Options = append(rf.Options, rawFieldOption(o))
			}
			rs.Fields = append(rs.Fields, rf)
		}
		rt.Schema = rs
	}
	*e.out = rawAction{Type: string(api.ActionTaskCreate), Task: rt}
	return nil
}

func (e *actionEncoder) VisitNotify(a *api.NotifyAction) error {
	*e.out = rawAction{Type: string(api.ActionNotify), ToRoles: roleStrings(a.ToRoles), Template: a.Template}
	return nil
}

func (e *actionEncoder) VisitEscalate(a *api.EscalateAction) error {
	*e.out = rawAction{Type: string(api.ActionEscalate), ToRoles: roleStrings(a.ToRoles), Template: a.Template}
	return nil
}

func (e *actionEncoder) VisitWebhook(a *api.WebhookAction) error {
	*e.out = rawAction{Type: string(api.ActionWebhook), Endpoint: a.Endpoint, Payload: a.Payload}
	return nil
}

func (e *actionEncoder) VisitSchedule(a *api.ScheduleAction) error {
	*e.out = rawAction{Type: string(api.ActionSchedule), Job: &rawJob{Type: a.Job.Type, Cron: a.Job.Cron}}
	return nil
}

func roleStrings(roles []api.Role) []string {
	var out []string
	for _, r := range roles {
		out = append(out, string(r))
	}
	return out
}

func rawConditions(conds []api.Condition) []rawCondition {
	var out []rawCondition
	for _, c := range conds {
		out = append(out, rawCondition(c))
	}
	return out
}
