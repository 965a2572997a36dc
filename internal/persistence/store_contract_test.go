package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	_ "modernc.org/sqlite"

	"github.com/petrijr/dealflow/internal/template"
	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/pkg/api"
)

// dealStore is a Store that can also seed deals.
type dealStore interface {
	Store
	SaveDeal(ctx context.Context, deal *api.Deal) error
}

// StoreContractSuite runs the same behavioural checks against every Store
// backend. newStore must return an empty store.
type StoreContractSuite struct {
	suite.Suite
	newStore func(t *testing.T) dealStore

	ctx   context.Context
	store dealStore
	base  time.Time
}

func (s *StoreContractSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = s.newStore(s.T())
	s.base = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
}

func (s *StoreContractSuite) seedDeal(id, status string, payload map[string]any) {
	s.Require().NoError(s.store.SaveDeal(s.ctx, &api.Deal{
		ID:         id,
		WorkflowID: "fast-lease-v1",
		Status:     status,
		Payload:    payload,
	}))
}

func (s *StoreContractSuite) version(id, version string, active bool, createdAt time.Time) *api.WorkflowVersion {
	src := string(testutil.FastLeaseTemplate())
	tpl, err := template.ParseString(src)
	s.Require().NoError(err)
	return &api.WorkflowVersion{
		ID:         id,
		WorkflowID: "fast-lease-v1",
		Version:    version,
		Title:      "Fast Lease",
		Source:     src,
		Template:   tpl,
		Checksum:   "sum-" + version,
		IsActive:   active,
		CreatedBy:  "ops",
		CreatedAt:  createdAt,
	}
}

func (s *StoreContractSuite) TestDealStatusCompareAndSwap() {
	s.seedDeal("deal-1", "QUOTE", map[string]any{"price": "100"})

	err := s.store.UpdateDealStatus(s.ctx, api.DealStatusUpdate{
		DealID:            "deal-1",
		PreviousStatus:    "QUOTE",
		NewStatus:         "CONTRACT",
		WorkflowVersionID: "ver-1",
	})
	s.Require().NoError(err)

	deal, err := s.store.GetDeal(s.ctx, "deal-1")
	s.Require().NoError(err)
	s.Equal("CONTRACT", deal.Status)
	s.Equal("ver-1", deal.WorkflowVersionID)
	s.Equal("100", deal.Payload["price"])

	err = s.store.UpdateDealStatus(s.ctx, api.DealStatusUpdate{
		DealID:         "deal-1",
		PreviousStatus: "QUOTE",
		NewStatus:      "CLOSED",
	})
	s.ErrorIs(err, api.ErrStatusConflict)

	// An empty version id keeps the pinned version.
	s.Require().NoError(s.store.UpdateDealStatus(s.ctx, api.DealStatusUpdate{
		DealID:         "deal-1",
		PreviousStatus: "CONTRACT",
		NewStatus:      "SIGNING",
	}))
	deal, err = s.store.GetDeal(s.ctx, "deal-1")
	s.Require().NoError(err)
	s.Equal("SIGNING", deal.Status)
	s.Equal("ver-1", deal.WorkflowVersionID)
}

func (s *StoreContractSuite) TestMissingDeal() {
	_, err := s.store.GetDeal(s.ctx, "nope")
	s.ErrorIs(err, api.ErrDealNotFound)

	err = s.store.UpdateDealStatus(s.ctx, api.DealStatusUpdate{DealID: "nope", PreviousStatus: "A", NewStatus: "B"})
	s.ErrorIs(err, api.ErrDealNotFound)

	err = s.store.UpdateDealPayload(s.ctx, "nope", map[string]any{"a": "b"})
	s.ErrorIs(err, api.ErrDealNotFound)
}

func (s *StoreContractSuite) TestDealPayloadReplaced() {
	s.seedDeal("deal-1", "QUOTE", map[string]any{"a": "1"})

	s.Require().NoError(s.store.UpdateDealPayload(s.ctx, "deal-1", map[string]any{
		"b": map[string]any{"nested": true},
	}))

	deal, err := s.store.GetDeal(s.ctx, "deal-1")
	s.Require().NoError(err)
	s.NotContains(deal.Payload, "a")
	s.Equal(map[string]any{"nested": true}, deal.Payload["b"])
}

func (s *StoreContractSuite) TestListDealsExcludesStatuses() {
	s.seedDeal("deal-b", "ACTIVE", nil)
	s.seedDeal("deal-a", "QUOTE", nil)
	s.seedDeal("deal-c", "CLOSED", nil)

	deals, err := s.store.ListDeals(s.ctx, "CLOSED", "CANCELLED")
	s.Require().NoError(err)
	s.Require().Len(deals, 2)
	s.Equal("deal-a", deals[0].ID)
	s.Equal("deal-b", deals[1].ID)

	all, err := s.store.ListDeals(s.ctx)
	s.Require().NoError(err)
	s.Len(all, 3)
}

func (s *StoreContractSuite) TestVersionsInsertListAndActivate() {
	v1 := s.version("ver-1", "1", true, s.base)
	v2 := s.version("ver-2", "2", false, s.base.Add(time.Hour))
	s.Require().NoError(s.store.Insert(s.ctx, v1))
	s.Require().NoError(s.store.Insert(s.ctx, v2))

	dup := s.version("ver-3", "1", false, s.base)
	s.ErrorIs(s.store.Insert(s.ctx, dup), api.ErrVersionExists)

	list, err := s.store.List(s.ctx, "fast-lease-v1")
	s.Require().NoError(err)
	s.Require().Len(list, 2)
	s.Equal("ver-2", list[0].ID)
	s.Equal("ver-1", list[1].ID)

	active, err := s.store.FindActive(s.ctx, "fast-lease-v1")
	s.Require().NoError(err)
	s.Equal("ver-1", active.ID)
	s.Require().NotNil(active.Template)
	s.Equal("fast-lease-v1", active.Template.Workflow.ID)

	s.Require().NoError(s.store.MarkActive(s.ctx, "fast-lease-v1", "ver-2"))

	active, err = s.store.FindActive(s.ctx, "fast-lease-v1")
	s.Require().NoError(err)
	s.Equal("ver-2", active.ID)

	old, err := s.store.FindByID(s.ctx, "ver-1")
	s.Require().NoError(err)
	s.False(old.IsActive)

	byVersion, err := s.store.FindByVersion(s.ctx, "fast-lease-v1", "2")
	s.Require().NoError(err)
	s.Equal("ver-2", byVersion.ID)
	s.Equal("sum-2", byVersion.Checksum)
	s.Equal("ops", byVersion.CreatedBy)
}

func (s *StoreContractSuite) TestVersionLookupsMiss() {
	_, err := s.store.FindActive(s.ctx, "fast-lease-v1")
	s.ErrorIs(err, api.ErrNoActiveVersion)

	_, err = s.store.FindByID(s.ctx, "missing")
	s.ErrorIs(err, api.ErrVersionNotFound)

	_, err = s.store.FindByVersion(s.ctx, "fast-lease-v1", "9")
	s.ErrorIs(err, api.ErrVersionNotFound)

	s.Require().NoError(s.store.Insert(s.ctx, s.version("ver-1", "1", false, s.base)))
	s.ErrorIs(s.store.MarkActive(s.ctx, "other-workflow", "ver-1"), api.ErrVersionNotFound)
}

func (s *StoreContractSuite) TestTaskInsertIfAbsentAndComplete() {
	due := s.base.Add(4 * time.Hour)
	task := &api.Task{
		ID:           "task-1",
		DealID:       "deal-1",
		Type:         "PREPARE_QUOTE",
		Title:        "Prepare quote",
		Status:       api.TaskOpen,
		AssigneeRole: api.Role("OP_MANAGER"),
		SLADueAt:     &due,
		Payload:      map[string]any{"guard_key": "tasks.quote"},
		ActionHash:   "hash-task-1",
		CreatedAt:    s.base,
	}
	created, err := s.store.InsertTaskIfAbsent(s.ctx, task)
	s.Require().NoError(err)
	s.True(created)

	again := *task
	again.ID = "task-2"
	created, err = s.store.InsertTaskIfAbsent(s.ctx, &again)
	s.Require().NoError(err)
	s.False(created, "duplicate action hash must not create a second task")

	tasks, err := s.store.ListTasks(s.ctx, "deal-1")
	s.Require().NoError(err)
	s.Require().Len(tasks, 1)

	completedAt := s.base.Add(5 * time.Hour)
	s.Require().NoError(s.store.CompleteTask(s.ctx, api.TaskCompletionUpdate{
		TaskID:      "task-1",
		CompletedAt: completedAt,
		SLAStatus:   api.SLABreached,
		Payload:     map[string]any{"guard_key": "tasks.quote", "note": "done"},
	}))

	got, err := s.store.GetTask(s.ctx, "task-1")
	s.Require().NoError(err)
	s.Equal(api.TaskDone, got.Status)
	s.Equal(api.SLABreached, got.SLAStatus)
	s.Require().NotNil(got.CompletedAt)
	s.True(completedAt.Equal(*got.CompletedAt))
	s.Require().NotNil(got.SLADueAt)
	s.True(due.Equal(*got.SLADueAt))
	s.Equal("done", got.Payload["note"])

	_, err = s.store.GetTask(s.ctx, "missing")
	s.ErrorIs(err, api.ErrTaskNotFound)
	s.ErrorIs(s.store.CompleteTask(s.ctx, api.TaskCompletionUpdate{TaskID: "missing"}), api.ErrTaskNotFound)
}

func (s *StoreContractSuite) TestPendingWebhooksRespectNextAttempt() {
	later := s.base.Add(time.Hour)
	rows := []*api.WebhookRow{
		{ID: "wh-1", DealID: "deal-1", TransitionFrom: "CONTRACT", TransitionTo: "SIGNING", Endpoint: "/a", Status: api.QueuePending, ActionHash: "h1", CreatedAt: s.base},
		{ID: "wh-2", DealID: "deal-1", Endpoint: "/b", Status: api.QueuePending, ActionHash: "h2", CreatedAt: s.base.Add(time.Second), NextAttemptAt: &later},
		{ID: "wh-3", DealID: "deal-1", Endpoint: "/c", Status: api.QueueSent, ActionHash: "h3", CreatedAt: s.base.Add(2 * time.Second)},
	}
	for _, r := range rows {
		created, err := s.store.InsertWebhookIfAbsent(s.ctx, r)
		s.Require().NoError(err)
		s.True(created)
	}

	pending, err := s.store.PendingWebhooks(s.ctx, s.base.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal("wh-1", pending[0].ID)
	s.Equal("CONTRACT", pending[0].TransitionFrom)
	s.Equal("SIGNING", pending[0].TransitionTo)

	pending, err = s.store.PendingWebhooks(s.ctx, later, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 2)
	s.Equal("wh-2", pending[1].ID)

	row := pending[0]
	row.RetryCount = 1
	row.LastError = "boom"
	row.NextAttemptAt = &later
	s.Require().NoError(s.store.UpdateWebhook(s.ctx, row))

	pending, err = s.store.PendingWebhooks(s.ctx, s.base.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Empty(pending)

	s.ErrorIs(s.store.UpdateWebhook(s.ctx, &api.WebhookRow{ID: "missing", Status: api.QueueSent}), ErrRowNotFound)
}

func (s *StoreContractSuite) TestNotificationQueue() {
	row := &api.NotificationRow{
		ID:             "n-1",
		DealID:         "deal-1",
		TransitionFrom: "QUOTE",
		TransitionTo:   "CONTRACT",
		Kind:           api.ActionNotify,
		ToRoles:        []api.Role{"OP_MANAGER", "LEGAL"},
		Template:       "contract_ready",
		Payload:        map[string]any{"message": "Contract ready"},
		Status:         api.QueuePending,
		ActionHash:     "n-hash",
		CreatedAt:      s.base,
	}
	created, err := s.store.InsertNotificationIfAbsent(s.ctx, row)
	s.Require().NoError(err)
	s.True(created)
	created, err = s.store.InsertNotificationIfAbsent(s.ctx, &api.NotificationRow{ID: "n-2", DealID: "deal-1", Kind: api.ActionNotify, Status: api.QueuePending, ActionHash: "n-hash", CreatedAt: s.base})
	s.Require().NoError(err)
	s.False(created)

	pending, err := s.store.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal([]api.Role{"OP_MANAGER", "LEGAL"}, pending[0].ToRoles)
	s.Equal("Contract ready", pending[0].Message())
	s.Equal("QUOTE", pending[0].TransitionFrom)
	s.Equal("CONTRACT", pending[0].TransitionTo)

	sent := s.base.Add(time.Minute)
	pending[0].Status = api.QueueSent
	pending[0].SentAt = &sent
	s.Require().NoError(s.store.UpdateNotification(s.ctx, pending[0]))

	pending, err = s.store.PendingNotifications(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(pending)
}

func (s *StoreContractSuite) TestScheduleAndTaskQueue() {
	created, err := s.store.InsertScheduleIfAbsent(s.ctx, &api.ScheduleRow{
		ID: "s-1", DealID: "deal-1", TransitionFrom: "SIGNING", TransitionTo: "ACTIVE",
		JobType: "payment_reminder", Cron: "0 9 * * *",
		Status: api.QueuePending, ActionHash: "s-hash", CreatedAt: s.base,
	})
	s.Require().NoError(err)
	s.True(created)

	created, err = s.store.InsertTaskQueueIfAbsent(s.ctx, &api.TaskQueueRow{
		ID:             "q-1",
		DealID:         "deal-1",
		TransitionFrom: "QUOTE",
		TransitionTo:   "CONTRACT",
		Task: api.TaskDefinition{
			TemplateID:   "prepare_contract",
			Type:         "PREPARE_CONTRACT",
			AssigneeRole: api.Role("LEGAL"),
			SLA:          &api.TaskSLA{Hours: 24},
		},
		ActorRole:  api.Role("OP_MANAGER"),
		Status:     api.QueuePending,
		ActionHash: "q-hash",
		CreatedAt:  s.base,
	})
	s.Require().NoError(err)
	s.True(created)

	schedules, err := s.store.PendingSchedules(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(schedules, 1)
	s.Equal("0 9 * * *", schedules[0].Cron)
	s.Equal("ACTIVE", schedules[0].TransitionTo)

	queued, err := s.store.PendingTaskQueue(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(queued, 1)
	s.Equal("PREPARE_CONTRACT", queued[0].Task.Type)
	s.Require().NotNil(queued[0].Task.SLA)
	s.Equal(24, queued[0].Task.SLA.Hours)

	processed := s.base.Add(time.Minute)
	queued[0].Status = api.QueueProcessed
	queued[0].Attempts = 1
	queued[0].ProcessedAt = &processed
	s.Require().NoError(s.store.UpdateTaskQueue(s.ctx, queued[0]))

	queued, err = s.store.PendingTaskQueue(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(queued)
}

func (s *StoreContractSuite) TestProfilesMerge() {
	profile, err := s.store.LoadProfile(s.ctx, "deal-1", api.ProfileClient)
	s.Require().NoError(err)
	s.Empty(profile)

	s.Require().NoError(s.store.SaveProfile(s.ctx, "deal-1", api.ProfileClient, map[string]any{
		"phone":   "+971",
		"address": map[string]any{"city": "Dubai"},
	}))
	s.Require().NoError(s.store.SaveProfile(s.ctx, "deal-1", api.ProfileClient, map[string]any{
		"address": map[string]any{"street": "Marina"},
	}))

	profile, err = s.store.LoadProfile(s.ctx, "deal-1", api.ProfileClient)
	s.Require().NoError(err)
	s.Equal("+971", profile["phone"])
	s.Equal(map[string]any{"city": "Dubai", "street": "Marina"}, profile["address"])

	seller, err := s.store.LoadProfile(s.ctx, "deal-1", api.ProfileSeller)
	s.Require().NoError(err)
	s.Empty(seller)
}

func TestInMemoryStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{
		newStore: func(t *testing.T) dealStore { return NewInMemoryStore() },
	})
}

func TestSQLiteStoreContract(t *testing.T) {
	suite.Run(t, &StoreContractSuite{newStore: newTestSQLiteStore})
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := testutil.GetPostgresDSN(t)
	suite.Run(t, &StoreContractSuite{
		newStore: func(t *testing.T) dealStore {
			store, err := OpenSQLStore(context.Background(), DialectPostgres, dsn)
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })
			truncateAll(t, store)
			return store
		},
	})
}

func newTestSQLiteStore(t *testing.T) dealStore {
	t.Helper()
	store, err := OpenSQLStore(context.Background(), DialectSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func truncateAll(t *testing.T, store *SQLStore) {
	t.Helper()
	_, err := store.DB().Exec(`TRUNCATE deals, workflow_versions, deal_audit, tasks,
		notification_queue, webhook_queue, schedule_queue, task_queue, deal_profiles`)
	require.NoError(t, err)
}
