package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/dealflow/internal/guard"
	"github.com/petrijr/dealflow/pkg/api"
)

// InMemoryStore is a simple, goroutine-safe implementation of every
// repository the engine consumes, backed by maps. Values are copied on the
// way in and out so callers never share state with the store.
type InMemoryStore struct {
	mu sync.RWMutex

	deals    map[string]*api.Deal
	versions map[string]*api.WorkflowVersion
	audit    []api.AuditEntry
	tasks    map[string]*api.Task
	profiles map[string]map[api.ProfileSide]map[string]any

	taskOrder     []string
	notifications []*api.NotificationRow
	webhooks      []*api.WebhookRow
	schedules     []*api.ScheduleRow
	taskQueue     []*api.TaskQueueRow
	hashes        map[string]bool
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		deals:    make(map[string]*api.Deal),
		versions: make(map[string]*api.WorkflowVersion),
		tasks:    make(map[string]*api.Task),
		profiles: make(map[string]map[api.ProfileSide]map[string]any),
		hashes:   make(map[string]bool),
	}
}

// Ensure InMemoryStore implements the interfaces.
var (
	_ api.DealRepository    = (*InMemoryStore)(nil)
	_ api.VersionRepository = (*InMemoryStore)(nil)
	_ api.AuditLogger       = (*InMemoryStore)(nil)
	_ api.QueueStore        = (*InMemoryStore)(nil)
	_ api.TaskRepository    = (*InMemoryStore)(nil)
	_ api.ProfileStore      = (*InMemoryStore)(nil)
	_ api.DealLister        = (*InMemoryStore)(nil)
)

func copyDeal(d *api.Deal) *api.Deal {
	out := *d
	out.Payload = guard.Clone(d.Payload)
	return &out
}

// SaveDeal creates or replaces a deal.
func (s *InMemoryStore) SaveDeal(_ context.Context, deal *api.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := copyDeal(deal)
	d.UpdatedAt = time.Now().UTC()
	s.deals[deal.ID] = d
	return nil
}

func (s *InMemoryStore) GetDeal(_ context.Context, id string) (*api.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.deals[id]
	if !ok {
		return nil, api.ErrDealNotFound
	}
	return copyDeal(d), nil
}

func (s *InMemoryStore) UpdateDealStatus(_ context.Context, update api.DealStatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[update.DealID]
	if !ok {
		return api.ErrDealNotFound
	}
	if d.Status != update.PreviousStatus {
		return api.ErrStatusConflict
	}
	d.Status = update.NewStatus
	if update.WorkflowVersionID != "" {
		d.WorkflowVersionID = update.WorkflowVersionID
	}
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) UpdateDealPayload(_ context.Context, dealID string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.deals[dealID]
	if !ok {
		return api.ErrDealNotFound
	}
	d.Payload = guard.Clone(payload)
	d.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *InMemoryStore) Insert(_ context.Context, v *api.WorkflowVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.versions {
		if existing.WorkflowID == v.WorkflowID && existing.Version == v.Version {
			return api.ErrVersionExists
		}
	}
	cp := *v
	s.versions[v.ID] = &cp
	return nil
}

func (s *InMemoryStore) List(_ context.Context, workflowID string) ([]*api.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.WorkflowVersion
	for _, v := range s.versions {
		if v.WorkflowID == workflowID {
			cp := *v
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Version > out[j].Version
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *InMemoryStore) FindActive(_ context.Context, workflowID string) (*api.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions {
		if v.WorkflowID == workflowID && v.IsActive {
			cp := *v
			return &cp, nil
		}
	}
	return nil, api.ErrNoActiveVersion
}

func (s *InMemoryStore) FindByVersion(_ context.Context, workflowID, version string) (*api.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, v := range s.versions {
		if v.WorkflowID == workflowID && v.Version == version {
			cp := *v
			return &cp, nil
		}
	}
	return nil, api.ErrVersionNotFound
}

func (s *InMemoryStore) FindByID(_ context.Context, id string) (*api.WorkflowVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[id]
	if !ok {
		return nil, api.ErrVersionNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *InMemoryStore) MarkActive(_ context.Context, workflowID, versionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target, ok := s.versions[versionID]
	if !ok || target.WorkflowID != workflowID {
		return api.ErrVersionNotFound
	}
	for _, v := range s.versions {
		if v.WorkflowID == workflowID {
			v.IsActive = v.ID == versionID
		}
	}
	return nil
}

func (s *InMemoryStore) LogTransition(_ context.Context, entry api.AuditEntry) error {
	return s.appendAudit(entry)
}

func (s *InMemoryStore) LogAction(_ context.Context, entry api.AuditEntry) error {
	return s.appendAudit(entry)
}

func (s *InMemoryStore) appendAudit(entry api.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns the audit trail of a deal in insertion order.
func (s *InMemoryStore) AuditEntries(dealID string) []api.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []api.AuditEntry
	for _, e := range s.audit {
		if e.DealID == dealID {
			out = append(out, e)
		}
	}
	return out
}

// claim records hash and reports whether it was new. Callers hold mu.
func (s *InMemoryStore) claim(kind, hash string) bool {
	key := kind + ":" + hash
	if s.hashes[key] {
		return false
	}
	s.hashes[key] = true
	return true
}

func (s *InMemoryStore) InsertTaskIfAbsent(_ context.Context, task *api.Task) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claim("task", task.ActionHash) {
		return false, nil
	}
	cp := *task
	cp.Payload = guard.Clone(task.Payload)
	s.tasks[cp.ID] = &cp
	s.taskOrder = append(s.taskOrder, cp.ID)
	return true, nil
}

func (s *InMemoryStore) InsertNotificationIfAbsent(_ context.Context, row *api.NotificationRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claim("notification", row.ActionHash) {
		return false, nil
	}
	cp := *row
	s.notifications = append(s.notifications, &cp)
	return true, nil
}

func (s *InMemoryStore) InsertWebhookIfAbsent(_ context.Context, row *api.WebhookRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claim("webhook", row.ActionHash) {
		return false, nil
	}
	cp := *row
	s.webhooks = append(s.webhooks, &cp)
	return true, nil
}

func (s *InMemoryStore) InsertScheduleIfAbsent(_ context.Context, row *api.ScheduleRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claim("schedule", row.ActionHash) {
		return false, nil
	}
	cp := *row
	s.schedules = append(s.schedules, &cp)
	return true, nil
}

func (s *InMemoryStore) InsertTaskQueueIfAbsent(_ context.Context, row *api.TaskQueueRow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.claim("task_queue", row.ActionHash) {
		return false, nil
	}
	cp := *row
	s.taskQueue = append(s.taskQueue, &cp)
	return true, nil
}

func (s *InMemoryStore) PendingNotifications(_ context.Context, limit int) ([]*api.NotificationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.NotificationRow
	for _, r := range s.notifications {
		if r.Status == api.QueuePending && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PendingWebhooks(_ context.Context, now time.Time, limit int) ([]*api.WebhookRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.WebhookRow
	for _, r := range s.webhooks {
		if r.Status != api.QueuePending || len(out) >= limit {
			continue
		}
		if r.NextAttemptAt != nil && r.NextAttemptAt.After(now) {
			continue
		}
		cp := *r
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) PendingSchedules(_ context.Context, limit int) ([]*api.ScheduleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.ScheduleRow
	for _, r := range s.schedules {
		if r.Status == api.QueuePending && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) PendingTaskQueue(_ context.Context, limit int) ([]*api.TaskQueueRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.TaskQueueRow
	for _, r := range s.taskQueue {
		if r.Status == api.QueuePending && len(out) < limit {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) UpdateNotification(_ context.Context, row *api.NotificationRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.notifications {
		if r.ID == row.ID {
			cp := *row
			s.notifications[i] = &cp
			return nil
		}
	}
	return ErrRowNotFound
}

func (s *InMemoryStore) UpdateWebhook(_ context.Context, row *api.WebhookRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.webhooks {
		if r.ID == row.ID {
			cp := *row
			s.webhooks[i] = &cp
			return nil
		}
	}
	return ErrRowNotFound
}

func (s *InMemoryStore) UpdateSchedule(_ context.Context, row *api.ScheduleRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.schedules {
		if r.ID == row.ID {
			cp := *row
			s.schedules[i] = &cp
			return nil
		}
	}
	return ErrRowNotFound
}

func (s *InMemoryStore) UpdateTaskQueue(_ context.Context, row *api.TaskQueueRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.taskQueue {
		if r.ID == row.ID {
			cp := *row
			s.taskQueue[i] = &cp
			return nil
		}
	}
	return ErrRowNotFound
}

// Notifications returns every notification row, in insertion order.
func (s *InMemoryStore) Notifications() []api.NotificationRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.NotificationRow, 0, len(s.notifications))
	for _, r := range s.notifications {
		out = append(out, *r)
	}
	return out
}

// Webhooks returns every webhook row, in insertion order.
func (s *InMemoryStore) Webhooks() []api.WebhookRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.WebhookRow, 0, len(s.webhooks))
	for _, r := range s.webhooks {
		out = append(out, *r)
	}
	return out
}

// Schedules returns every schedule row, in insertion order.
func (s *InMemoryStore) Schedules() []api.ScheduleRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.ScheduleRow, 0, len(s.schedules))
	for _, r := range s.schedules {
		out = append(out, *r)
	}
	return out
}

// TaskQueue returns every deferred task row, in insertion order.
func (s *InMemoryStore) TaskQueue() []api.TaskQueueRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]api.TaskQueueRow, 0, len(s.taskQueue))
	for _, r := range s.taskQueue {
		out = append(out, *r)
	}
	return out
}

func (s *InMemoryStore) GetTask(_ context.Context, id string) (*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, api.ErrTaskNotFound
	}
	cp := *t
	cp.Payload = guard.Clone(t.Payload)
	return &cp, nil
}

func (s *InMemoryStore) ListTasks(_ context.Context, dealID string) ([]*api.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*api.Task
	for _, id := range s.taskOrder {
		t := s.tasks[id]
		if t.DealID == dealID {
			cp := *t
			cp.Payload = guard.Clone(t.Payload)
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CompleteTask(_ context.Context, update api.TaskCompletionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[update.TaskID]
	if !ok {
		return api.ErrTaskNotFound
	}
	completed := update.CompletedAt
	t.Status = api.TaskDone
	t.CompletedAt = &completed
	t.SLAStatus = update.SLAStatus
	if update.Payload != nil {
		t.Payload = guard.Clone(update.Payload)
	}
	return nil
}

func (s *InMemoryStore) LoadProfile(_ context.Context, dealID string, side api.ProfileSide) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return guard.Clone(s.profiles[dealID][side]), nil
}

func (s *InMemoryStore) SaveProfile(_ context.Context, dealID string, side api.ProfileSide, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sides, ok := s.profiles[dealID]
	if !ok {
		sides = make(map[api.ProfileSide]map[string]any)
		s.profiles[dealID] = sides
	}
	sides[side] = guard.DeepMerge(sides[side], fields)
	return nil
}

func (s *InMemoryStore) ListDeals(_ context.Context, excludeStatuses ...string) ([]*api.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	skip := make(map[string]bool, len(excludeStatuses))
	for _, st := range excludeStatuses {
		skip[st] = true
	}
	out := make([]*api.Deal, 0, len(s.deals))
	for _, d := range s.deals {
		if !skip[d.Status] {
			out = append(out, copyDeal(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
