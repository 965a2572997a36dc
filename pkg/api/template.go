package api

// Role is a code from the fixed role vocabulary templates may reference.
type Role string

const (
	RoleAdmin          Role = "ADMIN"
	RoleOpManager      Role = "OP_MANAGER"
	RoleSupport        Role = "SUPPORT"
	RoleFinance        Role = "FINANCE"
	RoleTechSpecialist Role = "TECH_SPECIALIST"
	RoleRiskManager    Role = "RISK_MANAGER"
	RoleInvestor       Role = "INVESTOR"
	RoleLegal          Role = "LEGAL"
	RoleAccounting     Role = "ACCOUNTING"
	RoleClient         Role = "CLIENT"

	// RoleSystem is the actor role used for transitions triggered by
	// inbound integrations. Templates cannot reference it.
	RoleSystem Role = "SYSTEM"
)

// TemplateRoles lists the roles a template may declare or grant.
var TemplateRoles = []Role{
	RoleAdmin,
	RoleOpManager,
	RoleSupport,
	RoleFinance,
	RoleTechSpecialist,
	RoleRiskManager,
	RoleInvestor,
	RoleLegal,
	RoleAccounting,
	RoleClient,
}

// IsTemplateRole reports whether r belongs to the template role vocabulary.
func IsTemplateRole(r Role) bool {
	for _, known := range TemplateRoles {
		if known == r {
			return true
		}
	}
	return false
}

// WorkflowTemplate is the validated, immutable in-memory form of a workflow
// definition. Instances returned by the parser must not be mutated.
type WorkflowTemplate struct {
	Workflow      Metadata
	Roles         []RoleDefinition
	KanbanOrder   []string
	Statuses      map[string]*StatusDefinition
	Transitions   []Transition
	Permissions   map[string]PermissionEntry
	Integrations  Integrations
	Metrics       MetricsConfig
	Notifications NotificationConfig
}

// Metadata identifies the workflow a template describes.
type Metadata struct {
	ID        string
	Title     string
	Entity    string
	OwnerRole Role
	Timezone  string
}

// RoleDefinition declares a role participating in the workflow.
type RoleDefinition struct {
	Code       Role
	Name       string
	Categories []string
}

// StatusDefinition describes one status of the lifecycle.
type StatusDefinition struct {
	Code             string
	Title            string
	Description      string
	EntryActions     []Action
	ExitRequirements []Requirement
	Webhooks         *StatusWebhookConfig
	SLA              *StatusSLA
}

// StatusWebhookConfig maps inbound integration events to transitions.
type StatusWebhookConfig struct {
	OnEvent []StatusWebhookEvent
}

// StatusWebhookEvent is one inbound event accepted while a deal sits in a status.
type StatusWebhookEvent struct {
	Event        string
	TransitionTo string
	Conditions   []Condition
}

// StatusSLA bounds the time a deal may spend in a status.
type StatusSLA struct {
	MaxHours   int
	Escalation []SLAEscalation
}

// SLAEscalation fires Action once a deal has been in the status for AfterHours.
type SLAEscalation struct {
	AfterHours int
	Action     Action
}

// Transition is a directed, role-gated edge between two statuses.
type Transition struct {
	From    string
	To      string
	ByRoles []Role
	Guards  []Condition
}

// AllowsRole reports whether role is listed in ByRoles.
func (t Transition) AllowsRole(role Role) bool {
	for _, r := range t.ByRoles {
		if r == role {
			return true
		}
	}
	return false
}

// Condition is a guard: a dot-path key into the deal context plus a rule.
type Condition struct {
	Key  string
	Rule string
}

// Requirement is an exit requirement of a status.
type Requirement struct {
	Key     string
	Rule    string
	Message string
}

// PermissionKind discriminates PermissionEntry.
type PermissionKind string

const (
	PermissionRoles PermissionKind = "roles"
	PermissionRules PermissionKind = "rules"
)

// PermissionEntry is either a plain role list or a list of status-scoped rules.
type PermissionEntry struct {
	Kind  PermissionKind
	Roles []Role
	Rules []PermissionRule
}

// PermissionRule grants Role the permission while moving between statuses.
type PermissionRule struct {
	Role        Role
	AllowedFrom []string
	AllowedTo   []string
}

// Integrations holds outbound integration settings declared by the template.
type Integrations struct {
	Webhooks  map[string]string
	Callbacks map[string]string
	Retries   *RetryConfig
}

// RetryConfig is the template-declared retry hint for integrations.
type RetryConfig struct {
	Policy     string
	BaseMs     int
	MaxRetries int
}

// MetricsConfig declares lifecycle timers.
type MetricsConfig struct {
	Enabled bool
	Timers  []TimerMetric
	Export  *MetricsExport
}

// TimerMetric measures the time between two statuses.
type TimerMetric struct {
	Name string
	From string
	To   string
}

// MetricsExport names export targets for metrics.
type MetricsExport struct {
	Prometheus string
	Dimensions []string
}

// NotificationConfig holds channels and message templates keyed by name.
type NotificationConfig struct {
	Channels  []string
	Templates map[string]string
}

// Status returns the status definition for code, if declared.
func (t *WorkflowTemplate) Status(code string) (*StatusDefinition, bool) {
	s, ok := t.Statuses[code]
	return s, ok
}

// FindTransition returns the transition declared for (from, to).
func (t *WorkflowTemplate) FindTransition(from, to string) (Transition, bool) {
	for _, tr := range t.Transitions {
		if tr.From == from && tr.To == to {
			return tr, true
		}
	}
	return Transition{}, false
}

// OutgoingTransitions returns the transitions leaving from, in declared order.
func (t *WorkflowTemplate) OutgoingTransitions(from string) []Transition {
	var out []Transition
	for _, tr := range t.Transitions {
		if tr.From == from {
			out = append(out, tr)
		}
	}
	return out
}
