package dealflow

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petrijr/dealflow/internal/config"
	"github.com/petrijr/dealflow/internal/logging"
	"github.com/petrijr/dealflow/internal/persistence"
	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/internal/versioning"
	"github.com/petrijr/dealflow/pkg/api"
)

type dealSaver interface {
	SaveDeal(ctx context.Context, deal *api.Deal) error
}

func testOptions() Options {
	policy := Retry(1).Policy()
	return Options{Logger: logging.Discard(), Retry: &policy}
}

// seed activates the fast-lease template and stores a NEW deal pinned to it.
func seed(t *testing.T, ctx context.Context, b *Bundle, saver dealSaver) *api.WorkflowVersion {
	t.Helper()
	v, err := b.Registry.CreateVersion(ctx, versioning.CreateVersionInput{
		Source:   string(testutil.FastLeaseTemplate()),
		Activate: true,
	})
	require.NoError(t, err)
	require.NoError(t, saver.SaveDeal(ctx, &api.Deal{
		ID:                "deal-1",
		WorkflowID:        v.WorkflowID,
		WorkflowVersionID: v.ID,
		Status:            "NEW",
		Payload:           map[string]any{},
	}))
	return v
}

func advanceToOfferPrep(t *testing.T, ctx context.Context, b *Bundle) *api.TransitionOutcome {
	t.Helper()
	out, err := b.Service.TransitionDeal(ctx, api.TransitionInput{
		DealID:       "deal-1",
		TargetStatus: "OFFER_PREP",
		ActorRole:    RoleOpManager,
		GuardContext: map[string]any{"quotationPrepared": true},
	})
	require.NoError(t, err)
	return out
}

func TestInMemoryBundle_TransitionThenDrainQueues(t *testing.T) {
	ctx := context.Background()
	b, mem := NewInMemoryBundle(testOptions())
	defer b.Close()

	v := seed(t, ctx, b, mem)
	out := advanceToOfferPrep(t, ctx, b)
	assert.Equal(t, "OFFER_PREP", out.NewStatus)
	assert.Equal(t, v.ID, out.WorkflowVersionID)

	tasks, err := b.Store.ListTasks(ctx, "deal-1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "PREPARE_QUOTE", tasks[0].Type)

	res, err := b.Worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Schedules.Processed)

	res, err = b.Worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Total().Processed, "rows are processed once")
}

func TestSQLiteBundle_DurableAcrossRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dsn := "file:" + filepath.Join(t.TempDir(), "dealflow.db")

	b1, err := NewSQLiteBundle(ctx, dsn, testOptions())
	require.NoError(t, err)
	seed(t, ctx, b1, b1.Store.(*persistence.SQLStore))
	advanceToOfferPrep(t, ctx, b1)
	require.NoError(t, b1.Close())

	b2, err := NewSQLiteBundle(ctx, dsn, testOptions())
	require.NoError(t, err)
	defer b2.Close()

	deal, err := b2.Store.GetDeal(ctx, "deal-1")
	require.NoError(t, err)
	assert.Equal(t, "OFFER_PREP", deal.Status)

	active, err := b2.Registry.GetActiveVersion(ctx, deal.WorkflowID)
	require.NoError(t, err)
	assert.Equal(t, deal.WorkflowVersionID, active.ID)

	res, err := b2.Worker.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Schedules.Processed, "schedule row enqueued before restart is drained after it")
}

func TestBundle_AuditOverride(t *testing.T) {
	ctx := context.Background()
	sink := persistence.NewInMemoryStore()

	opts := testOptions()
	opts.Audit = sink
	b, mem := NewInMemoryBundle(opts)
	defer b.Close()

	seed(t, ctx, b, mem)
	advanceToOfferPrep(t, ctx, b)

	assert.Empty(t, mem.AuditEntries("deal-1"))
	assert.NotEmpty(t, sink.AuditEntries("deal-1"))
}

func TestBundle_CloseRunsClosersInReverse(t *testing.T) {
	b, _ := NewInMemoryBundle(testOptions())

	var order []int
	b.OnClose(func() error { order = append(order, 1); return nil })
	b.OnClose(func() error { order = append(order, 2); return nil })

	require.NoError(t, b.Close())
	assert.Equal(t, []int{2, 1}, order)

	require.NoError(t, b.Close(), "second close is a no-op")
	assert.Equal(t, []int{2, 1}, order)
}

func TestOpen_MemoryDriverServesHTTP(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEALFLOW_STORAGE_DRIVER", "memory")

	cfg, err := config.Load("")
	require.NoError(t, err)

	b, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer b.Close()

	_, ok := b.Store.(*persistence.InMemoryStore)
	assert.True(t, ok)

	rec := httptest.NewRecorder()
	b.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOpenObserver_OtelSwitch(t *testing.T) {
	cfg := &config.Config{}

	obs, err := openObserver(cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &api.LoggingObserver{}, obs)

	cfg.Metrics.Otel = true
	obs, err = openObserver(cfg, logging.Discard())
	require.NoError(t, err)
	assert.IsType(t, &api.CompositeObserver{}, obs)
}

func TestOpen_MaxAttemptsBoundsRetries(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DEALFLOW_STORAGE_DRIVER", "memory")
	t.Setenv("DEALFLOW_ENGINE_MAX_ATTEMPTS", "1")

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Equal(t, 1, cfg.Engine.MaxAttempts)

	b, err := Open(context.Background(), cfg, logging.Discard())
	require.NoError(t, err)
	defer b.Close()

	_, err = b.Registry.CreateVersion(context.Background(), versioning.CreateVersionInput{
		Source:   string(testutil.FastLeaseTemplate()),
		Version:  "1",
		Activate: true,
	})
	require.NoError(t, err)
	v, err := b.Registry.GetActiveVersion(context.Background(), "fast-lease-v1")
	require.NoError(t, err)

	saver, ok := b.Store.(dealSaver)
	require.True(t, ok)
	require.NoError(t, saver.SaveDeal(context.Background(), &api.Deal{
		ID: "deal-1", WorkflowID: "fast-lease-v1", WorkflowVersionID: v.ID, Status: "NEW",
	}))

	start := time.Now()
	_, err = b.Service.TransitionDeal(context.Background(), api.TransitionInput{
		DealID:       "deal-1",
		TargetStatus: "OFFER_PREP",
		ActorRole:    api.RoleOpManager,
	})
	var terr *api.TransitionError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, api.ReasonGuardFailed, terr.Validation.Reason)
	assert.Less(t, time.Since(start), time.Second, "a single attempt never sleeps")
}
