package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/dealflow/internal/testutil"
	"github.com/petrijr/dealflow/pkg/api"
)

type MongoAuditLogTestSuite struct {
	suite.Suite
	client *mongo.Client
	log    *MongoAuditLog
	ctx    context.Context
}

func TestMongoAuditLogTestSuite(t *testing.T) {
	uri := testutil.GetMongoURI(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		t.Fatalf("mongo.Connect failed: %v", err)
	}
	t.Cleanup(func() {
		_ = client.Disconnect(context.Background())
	})

	suite.Run(t, &MongoAuditLogTestSuite{client: client})
}

func (m *MongoAuditLogTestSuite) SetupTest() {
	m.ctx = context.Background()
	m.Require().NoError(m.client.Database("dealflow_test").Collection("audit_test").Drop(m.ctx))
	m.log = NewMongoAuditLog(m.client, "dealflow_test", "audit_test")
	m.Require().NoError(m.log.EnsureIndexes(m.ctx))
}

func (m *MongoAuditLogTestSuite) TestEntriesAreReturnedOldestFirst() {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	m.Require().NoError(m.log.LogAction(m.ctx, api.AuditEntry{
		DealID:     "deal-1",
		Event:      api.AuditTaskCreate,
		ActionHash: "hash-1",
		Details:    map[string]any{"task_type": "PREPARE_CONTRACT"},
		CreatedAt:  base.Add(time.Second),
	}))
	m.Require().NoError(m.log.LogTransition(m.ctx, api.AuditEntry{
		DealID:            "deal-1",
		Event:             api.AuditTransition,
		From:              "QUOTE",
		To:                "CONTRACT",
		ActorRole:         api.Role("OP_MANAGER"),
		ActorID:           "user-1",
		WorkflowVersionID: "ver-1",
		Actions:           []api.ActionKind{api.ActionTaskCreate, api.ActionNotify},
		CreatedAt:         base,
	}))
	m.Require().NoError(m.log.LogTransition(m.ctx, api.AuditEntry{
		DealID: "deal-2",
		Event:  api.AuditTransition,
	}))

	entries, err := m.log.AuditEntries(m.ctx, "deal-1")
	m.Require().NoError(err)
	m.Require().Len(entries, 2)

	first := entries[0]
	m.NotEmpty(first.ID)
	m.Equal(api.AuditTransition, first.Event)
	m.Equal("QUOTE", first.From)
	m.Equal("CONTRACT", first.To)
	m.Equal(api.Role("OP_MANAGER"), first.ActorRole)
	m.Equal([]api.ActionKind{api.ActionTaskCreate, api.ActionNotify}, first.Actions)
	m.True(base.Equal(first.CreatedAt))

	second := entries[1]
	m.Equal(api.AuditTaskCreate, second.Event)
	m.Equal("hash-1", second.ActionHash)
	m.Equal("PREPARE_CONTRACT", second.Details["task_type"])
}

func (m *MongoAuditLogTestSuite) TestUnknownDealHasNoEntries() {
	entries, err := m.log.AuditEntries(m.ctx, "nope")
	m.Require().NoError(err)
	m.Empty(entries)
}
