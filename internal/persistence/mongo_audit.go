package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/petrijr/dealflow/pkg/api"
)

// MongoAuditLog is an append-only audit sink backed by a MongoDB collection.
// Documents use the bson tags of api.AuditEntry.
type MongoAuditLog struct {
	coll *mongo.Collection
	now  func() time.Time
}

var _ api.AuditLogger = (*MongoAuditLog)(nil)

// NewMongoAuditLog creates a Mongo-backed audit log.
// dbName defaults to "dealflow" if empty, collName defaults to "deal_audit".
func NewMongoAuditLog(client *mongo.Client, dbName, collName string) *MongoAuditLog {
	if dbName == "" {
		dbName = "dealflow"
	}
	if collName == "" {
		collName = "deal_audit"
	}
	return &MongoAuditLog{
		coll: client.Database(dbName).Collection(collName),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the (deal_id, created_at) index used by AuditEntries.
func (l *MongoAuditLog) EnsureIndexes(ctx context.Context) error {
	_, err := l.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "deal_id", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("create audit index: %w", err)
	}
	return nil
}

func (l *MongoAuditLog) LogTransition(ctx context.Context, entry api.AuditEntry) error {
	return l.insert(ctx, entry)
}

func (l *MongoAuditLog) LogAction(ctx context.Context, entry api.AuditEntry) error {
	return l.insert(ctx, entry)
}

func (l *MongoAuditLog) insert(ctx context.Context, entry api.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = l.now()
	}
	// Mongo keeps millisecond precision; truncate so reads compare equal.
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Millisecond)

	if _, err := l.coll.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("append audit %s for deal %s: %w", entry.Event, entry.DealID, err)
	}
	return nil
}

// AuditEntries returns the audit trail of a deal, oldest first.
func (l *MongoAuditLog) AuditEntries(ctx context.Context, dealID string) ([]api.AuditEntry, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := l.coll.Find(ctx, bson.M{"deal_id": dealID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var entries []api.AuditEntry
	for cur.Next(ctx) {
		var entry api.AuditEntry
		if err := cur.Decode(&entry); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}
