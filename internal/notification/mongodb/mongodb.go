// Package mongodb archives fraud alerts in a MongoDB collection.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"gw-ledger/internal/models"
	"gw-ledger/internal/notification"
)

const defaultListLimit = 100

type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
}

var _ notification.Storage = (*MongoStorage)(nil)

var archiveIndexes = []mongo.IndexModel{
	{Keys: bson.D{{Key: "created_at", Value: -1}}},
	{Keys: bson.D{{Key: "account_id", Value: 1}, {Key: "created_at", Value: -1}}},
	{Keys: bson.D{{Key: "severity", Value: 1}, {Key: "created_at", Value: -1}}},
}

func NewMongoStorage(ctx context.Context, uri, database, collection string, timeout time.Duration) (*MongoStorage, error) {
	const op = "mongodb.NewMongoStorage"

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetConnectTimeout(timeout).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	coll := client.Database(database).Collection(collection)
	if _, err := coll.Indexes().CreateMany(ctx, archiveIndexes); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return &MongoStorage{client: client, collection: coll}, nil
}

// SaveNotification inserts n keyed by its id. Redelivered notifications hit
// the _id index and are ignored.
func (s *MongoStorage) SaveNotification(ctx context.Context, n *models.Notification) error {
	if n.ProcessedAt.IsZero() {
		n.ProcessedAt = time.Now()
	}

	if _, err := s.collection.InsertOne(ctx, n); err != nil && !mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("mongodb.SaveNotification %s: %w", n.ID, err)
	}
	return nil
}

func (s *MongoStorage) GetNotification(ctx context.Context, id string) (*models.Notification, error) {
	var n models.Notification

	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&n)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		return nil, notification.ErrNotificationNotFound
	case err != nil:
		return nil, fmt.Errorf("mongodb.GetNotification %s: %w", id, err)
	}
	return &n, nil
}

func (s *MongoStorage) ListNotifications(ctx context.Context, filter notification.ListFilter) ([]models.Notification, error) {
	const op = "mongodb.ListNotifications"

	query := bson.M{}
	if filter.AccountID != "" {
		query["account_id"] = filter.AccountID
	}
	if filter.Severity != "" {
		query["severity"] = filter.Severity
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetLimit(limit)

	cur, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]models.Notification, 0)
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("%s: decode: %w", op, err)
	}
	return out, nil
}

func (s *MongoStorage) Close() error {
	if s.client == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.client.Disconnect(ctx)
}
