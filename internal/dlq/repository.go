package dlq

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hookrelay/internal/constants"
	"hookrelay/pkg/models"
)

// ListFilter narrows dead-letter queries. Zero values mean "any".
type ListFilter struct {
	Source      string
	TargetAgent string
	Limit       int64
	Offset      int64
}

type Repository interface {
	Insert(ctx context.Context, entry models.DeadLetterEntry) error
	Get(ctx context.Context, id string) (models.DeadLetterEntry, bool, error)
	List(ctx context.Context, filter ListFilter) ([]models.DeadLetterEntry, error)
	MarkReplayed(ctx context.Context, id string, at time.Time) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

type MongoDBRepository struct {
	collection *mongo.Collection
}

func NewRepository(db *mongo.Database) Repository {
	return &MongoDBRepository{
		collection: db.Collection(constants.DefaultDLQCollection),
	}
}

// EnsureIndexes creates the indexes dead-letter queries depend on.
func (r *MongoDBRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "failed_at", Value: -1}}},
		{Keys: bson.D{{Key: "source", Value: 1}, {Key: "target_agent", Value: 1}}},
		{Keys: bson.D{{Key: "event_id", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("failed to create dead letter indexes: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) Insert(ctx context.Context, entry models.DeadLetterEntry) error {
	if _, err := r.collection.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to insert dead letter: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) Get(ctx context.Context, id string) (models.DeadLetterEntry, bool, error) {
	var entry models.DeadLetterEntry
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&entry)
	if err == mongo.ErrNoDocuments {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, fmt.Errorf("failed to find dead letter: %w", err)
	}
	return entry, true, nil
}

func (r *MongoDBRepository) List(ctx context.Context, filter ListFilter) ([]models.DeadLetterEntry, error) {
	query := bson.M{}
	if filter.Source != "" {
		query["source"] = filter.Source
	}
	if filter.TargetAgent != "" {
		query["target_agent"] = filter.TargetAgent
	}

	limit := filter.Limit
	if limit <= 0 || limit > constants.MaxDLQPageSize {
		limit = constants.DefaultDLQPageSize
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "failed_at", Value: -1}}).
		SetSkip(filter.Offset).
		SetLimit(limit)

	cursor, err := r.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer cursor.Close(ctx)

	var entries []models.DeadLetterEntry
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode dead letters: %w", err)
	}
	return entries, nil
}

func (r *MongoDBRepository) MarkReplayed(ctx context.Context, id string, at time.Time) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"replayed_at": at}},
	)
	if err != nil {
		return fmt.Errorf("failed to mark dead letter replayed: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("dead letter %s not found", id)
	}
	return nil
}

func (r *MongoDBRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.collection.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete dead letter: %w", err)
	}
	return nil
}

func (r *MongoDBRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return n, nil
}
