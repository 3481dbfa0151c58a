package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"hookrelay/internal/constants"
)

// EnsureMongoCollection prepares the dead letter collection and its indexes.
// Safe to call on every startup.
func EnsureMongoCollection(ctx context.Context, db *mongo.Database) error {
	collection := db.Collection(constants.DefaultDLQCollection)

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "failed_at", Value: -1}},
			Options: options.Index().SetName("idx_dead_letters_failed_at"),
		},
		{
			Keys:    bson.D{{Key: "source", Value: 1}, {Key: "target_agent", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_source_target"),
		},
		{
			Keys:    bson.D{{Key: "event_id", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_event_id"),
		},
		{
			Keys:    bson.D{{Key: "replayed_at", Value: 1}},
			Options: options.Index().SetName("idx_dead_letters_replayed_at").SetSparse(true),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		if !strings.Contains(err.Error(), "already exists") {
			return fmt.Errorf("failed to create dead letter indexes: %w", err)
		}
	}

	return nil
}
