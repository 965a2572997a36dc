package template

// Wire form of a workflow template. Field names follow the snake_case
// document keys; pointers mark sections whose presence is validated.

type rawTemplate struct {
	Workflow      *rawMetadata              `yaml:"workflow"`
	Roles         []rawRole                 `yaml:"roles"`
	KanbanOrder   []string                  `yaml:"kanban_order"`
	Statuses      map[string]*rawStatus     `yaml:"statuses"`
	Transitions   []rawTransition           `yaml:"transitions"`
	Permissions   map[string]*rawPermission `yaml:"permissions"`
	Integrations  *rawIntegrations          `yaml:"integrations"`
	Metrics       *rawMetrics               `yaml:"metrics"`
	Notifications *rawNotifications         `yaml:"notifications"`
}

type rawMetadata struct {
	ID        string `yaml:"id"`
	Title     string `yaml:"title"`
	Entity    string `yaml:"entity"`
	OwnerRole string `yaml:"owner_role"`
	Timezone  string `yaml:"timezone"`
}

type rawRole struct {
	Code       string   `yaml:"code"`
	Name       string   `yaml:"name"`
	Categories []string `yaml:"categories"`
}

type rawStatus struct {
	Title            string            `yaml:"title"`
	Description      string            `yaml:"description,omitempty"`
	EntryActions     []rawAction       `yaml:"entry_actions,omitempty"`
	ExitRequirements []rawRequirement  `yaml:"exit_requirements,omitempty"`
	Webhooks         *rawStatusWebhook `yaml:"webhooks,omitempty"`
	SLA              *rawStatusSLA     `yaml:"sla,omitempty"`
}

type rawRequirement struct {
	Key     string `yaml:"key"`
	Rule    string `yaml:"rule"`
	Message string `yaml:"message,omitempty"`
}

type rawCondition struct {
	Key  string `yaml:"key"`
	Rule string `yaml:"rule"`
}

type rawStatusWebhook struct {
	OnEvent []rawWebhookEvent `yaml:"on_event,omitempty"`
}

type rawWebhookEvent struct {
	Event        string         `yaml:"event"`
	TransitionTo string         `yaml:"transition_to"`
	Conditions   []rawCondition `yaml:"conditions,omitempty"`
}

type rawStatusSLA struct {
	MaxHours   int             `yaml:"max_hours"`
	Escalation []rawEscalation `yaml:"escalation,omitempty"`
}

type rawEscalation struct {
	AfterHours int        `yaml:"after_hours"`
	Action     *rawAction `yaml:"action"`
}

// rawAction is the union of every action kind; Type selects which fields apply.
type rawAction struct {
	Type     string         `yaml:"type"`
	Task     *rawTask       `yaml:"task,omitempty"`
	ToRoles  []string       `yaml:"to_roles,omitempty"`
	Template string         `yaml:"template,omitempty"`
	Endpoint string         `yaml:"endpoint,omitempty"`
	Payload  map[string]any `yaml:"payload,omitempty"`
	Job      *rawJob        `yaml:"job,omitempty"`
}

type rawJob struct {
	Type string `yaml:"type"`
	Cron string `yaml:"cron"`
}

type rawTask struct {
	TemplateID   string            `yaml:"template_id"`
	Type         string            `yaml:"type"`
	Title        string            `yaml:"title"`
	AssigneeRole string            `yaml:"assignee_role"`
	SLA          *rawTaskSLA       `yaml:"sla,omitempty"`
	Schema       *rawTaskSchema    `yaml:"schema,omitempty"`
	Bindings     map[string]string `yaml:"bindings,omitempty"`
	Defaults     map[string]any    `yaml:"defaults,omitempty"`
	GuardKey     string            `yaml:"guard_key,omitempty"`
}

type rawTaskSLA struct {
	Hours int `yaml:"hours"`
}

type rawTaskSchema struct {
	Version             string         `yaml:"version,omitempty"`
	Fields              []rawTaskField `yaml:"fields"`
	SaveToBuyerProfile  []string       `yaml:"save_to_buyer_profile,omitempty"`
	SaveToSellerProfile []string       `yaml:"save_to_seller_profile,omitempty"`
	SaveToClientProfile []string       `yaml:"save_to_client_profile,omitempty"`
}

type rawTaskField struct {
	ID           string           `yaml:"id"`
	Type         string           `yaml:"type"`
	Label        string           `yaml:"label,omitempty"`
	Description  string           `yaml:"description,omitempty"`
	DocumentType string           `yaml:"document_type,omitempty"`
	Required     bool             `yaml:"required,omitempty"`
	Options      []rawFieldOption `yaml:"options,omitempty"`
	UI           map[string]any   `yaml:"ui,omitempty"`
}

type rawFieldOption struct {
	Value       string `yaml:"value"`
	Label       string `yaml:"label,omitempty"`
	Description string `yaml:"description,omitempty"`
}

type rawTransition struct {
	From    string         `yaml:"from"`
	To      string         `yaml:"to"`
	ByRoles []string       `yaml:"by_roles"`
	Guards  []rawCondition `yaml:"guards,omitempty"`
}

// rawPermission is either {roles: [...]} or {rules: [...]}.
type rawPermission struct {
	Roles []string            `yaml:"roles,omitempty"`
	Rules []rawPermissionRule `yaml:"rules,omitempty"`
}

type rawPermissionRule struct {
	Role        string   `yaml:"role"`
	AllowedFrom []string `yaml:"allowed_from"`
	AllowedTo   []string `yaml:"allowed_to,omitempty"`
}

type rawIntegrations struct {
	Webhooks  map[string]string `yaml:"webhooks,omitempty"`
	Callbacks map[string]string `yaml:"callbacks,omitempty"`
	Retries   *rawRetries       `yaml:"retries,omitempty"`
}

type rawRetries struct {
	Policy     string `yaml:"policy"`
	BaseMs     int    `yaml:"base_ms,omitempty"`
	MaxRetries int    `yaml:"max_retries,omitempty"`
}

type rawMetrics struct {
	Enabled *bool      `yaml:"enabled"`
	Timers  []rawTimer `yaml:"timers,omitempty"`
	Export  *rawExport `yaml:"export,omitempty"`
}

type rawTimer struct {
	Name string `yaml:"name"`
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

type rawExport struct {
	Prometheus string   `yaml:"prometheus,omitempty"`
	Dimensions []string `yaml:"dimensions,omitempty"`
}

type rawNotifications struct {
	Channels  []string          `yaml:"channels"`
	Templates map[string]string `yaml:"templates"`
}
