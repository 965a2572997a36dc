package api

import "encoding/json"

// ActionKind is the wire tag of an entry action.
type ActionKind string

const (
	ActionTaskCreate ActionKind = "TASK_CREATE"
	ActionNotify     ActionKind = "NOTIFY"
	ActionEscalate   ActionKind = "ESCALATE"
	ActionWebhook    ActionKind = "WEBHOOK"
	ActionSchedule   ActionKind = "SCHEDULE"
)

// Action is a side effect dispatched when a status is entered.
//
// The set of implementations is closed: only the action types in this
// package satisfy it. Consumers dispatch through ActionVisitor, so a new
// kind fails to compile until every visitor handles it.
type Action interface {
	Kind() ActionKind
	Accept(v ActionVisitor) error
	isAction()
}

// ActionVisitor handles each action kind.
type ActionVisitor interface {
	VisitTaskCreate(a *TaskCreateAction) error
	VisitNotify(a *NotifyAction) error
	VisitEscalate(a *EscalateAction) error
	VisitWebhook(a *WebhookAction) error
	VisitSchedule(a *ScheduleAction) error
}

// TaskCreateAction opens a task for a role.
type TaskCreateAction struct {
	Task TaskDefinition
}

// NotifyAction sends a templated message to roles.
type NotifyAction struct {
	ToRoles  []Role
	Template string
}

// EscalateAction sends a templated escalation to roles.
type EscalateAction struct {
	ToRoles  []Role
	Template string
}

// WebhookAction posts a static payload to an endpoint.
type WebhookAction struct {
	Endpoint string
	Payload  map[string]any
}

// ScheduleAction registers a recurring job.
type ScheduleAction struct {
	Job ScheduleJob
}

// ScheduleJob is the job type and cron expression of a ScheduleAction.
type ScheduleJob struct {
	Type string `json:"type"`
	Cron string `json:"cron"`
}

func (*TaskCreateAction) Kind() ActionKind { return ActionTaskCreate }
func (*NotifyAction) Kind() ActionKind     { return ActionNotify }
func (*EscalateAction) Kind() ActionKind   { return ActionEscalate }
func (*WebhookAction) Kind() ActionKind    { return ActionWebhook }
func (*ScheduleAction) Kind() ActionKind   { return ActionSchedule }

func (a *TaskCreateAction) Accept(v ActionVisitor) error { return v.VisitTaskCreate(a) }
func (a *NotifyAction) Accept(v ActionVisitor) error     { return v.VisitNotify(a) }
func (a *EscalateAction) Accept(v ActionVisitor) error   { return v.VisitEscalate(a) }
func (a *WebhookAction) Accept(v ActionVisitor) error    { return v.VisitWebhook(a) }
func (a *ScheduleAction) Accept(v ActionVisitor) error   { return v.VisitSchedule(a) }

func (*TaskCreateAction) isAction() {}
func (*NotifyAction) isAction()     {}
func (*EscalateAction) isAction()   {}
func (*WebhookAction) isAction()    {}
func (*ScheduleAction) isAction()   {}

// MarshalJSON renders the action with its type tag first. The output is
// deterministic and feeds the action hash.
func (a *TaskCreateAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type ActionKind     `json:"type"`
		Task TaskDefinition `json:"task"`
	}{ActionTaskCreate, a.Task})
}

func (a *NotifyAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     ActionKind `json:"type"`
		ToRoles  []Role     `json:"toRoles"`
		Template string     `json:"template"`
	}{ActionNotify, a.ToRoles, a.Template})
}

func (a *EscalateAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     ActionKind `json:"type"`
		ToRoles  []Role     `json:"toRoles"`
		Template string     `json:"template"`
	}{ActionEscalate, a.ToRoles, a.Template})
}

func (a *WebhookAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     ActionKind     `json:"type"`
		Endpoint string         `json:"endpoint"`
		Payload  map[string]any `json:"payload,omitempty"`
	}{ActionWebhook, a.Endpoint, a.Payload})
}

func (a *ScheduleAction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type ActionKind  `json:"type"`
		Job  ScheduleJob `json:"job"`
	}{ActionSchedule, a.Job})
}

// TaskDefinition describes the task a TASK_CREATE action opens.
type TaskDefinition struct {
	TemplateID   string            `json:"templateId"`
	Type         string            `json:"type"`
	Title        string            `json:"title"`
	AssigneeRole Role              `json:"assigneeRole"`
	SLA          *TaskSLA          `json:"sla,omitempty"`
	Schema       *TaskSchema       `json:"schema,omitempty"`
	Bindings     map[string]string `json:"bindings,omitempty"`
	Defaults     map[string]any    `json:"defaults,omitempty"`
	GuardKey     string            `json:"guardKey,omitempty"`
}

// TaskSLA is the completion window of a task.
type TaskSLA struct {
	Hours int `json:"hours"`
}

// TaskSchema describes the form fields of a task and which of them are
// written back to participant profiles on completion.
type TaskSchema struct {
	Version             string      `json:"version"`
	Fields              []TaskField `json:"fields"`
	SaveToBuyerProfile  []string    `json:"save_to_buyer_profile,omitempty"`
	SaveToSellerProfile []string    `json:"save_to_seller_profile,omitempty"`
	SaveToClientProfile []string    `json:"save_to_client_profile,omitempty"`
}

// ProfileFields returns the profile-sync field lists keyed by profile side.
func (s *TaskSchema) ProfileFields() map[ProfileSide][]string {
	if s == nil {
		return nil
	}
	out := map[ProfileSide][]string{}
	if len(s.SaveToBuyerProfile) > 0 {
		out[ProfileBuyer] = s.SaveToBuyerProfile
	}
	if len(s.SaveToSellerProfile) > 0 {
		out[ProfileSeller] = s.SaveToSellerProfile
	}
	if len(s.SaveToClientProfile) > 0 {
		out[ProfileClient] = s.SaveToClientProfile
	}
	return out
}

// TaskField is one field of a task form.
type TaskField struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Label        string         `json:"label,omitempty"`
	Description  string         `json:"description,omitempty"`
	DocumentType string         `json:"document_type,omitempty"`
	Required     bool           `json:"required,omitempty"`
	Options      []FieldOption  `json:"options,omitempty"`
	UI           map[string]any `json:"ui,omitempty"`
}

// FieldOption is a choice of a select-like field.
type FieldOption struct {
	Value       string `json:"value"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
}
