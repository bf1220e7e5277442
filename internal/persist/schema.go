package persist

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// EnsureIndexes creates idempotent indexes on all collections, grounded on
// teacher's internal/persist/schema.go's idx{collection,model} slice
// pattern, retargeted at this module's collection set per the data model's
// access patterns.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	type idx struct {
		collection string
		model      mongo.IndexModel
	}

	indexes := []idx{
		{
			collection: "agents",
			model: mongo.IndexModel{
				Keys:    bson.D{{Key: "api_key_hash", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "agents",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "status", Value: 1}},
			},
		},
		{
			collection: "agents",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "cash", Value: -1}},
			},
		},
		{
			collection: "orders",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "agent_id", Value: 1},
					{Key: "status", Value: 1},
				},
			},
		},
		{
			collection: "trades",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "symbol", Value: 1},
					{Key: "executed_at", Value: -1},
				},
			},
		},
		{
			collection: "holdings",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "agent_id", Value: 1},
					{Key: "symbol", Value: 1},
				},
				Options: options.Index().SetUnique(true),
			},
		},
		{
			collection: "news",
			model: mongo.IndexModel{
				Keys: bson.D{{Key: "tick", Value: -1}},
			},
		},
		{
			collection: "messages",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "recipient_id", Value: 1},
					{Key: "channel", Value: 1},
				},
			},
		},
		{
			collection: "alliances",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "proposer_id", Value: 1},
					{Key: "partner_id", Value: 1},
				},
			},
		},
		{
			collection: "investigations",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "target_agent_id", Value: 1},
					{Key: "status", Value: 1},
				},
			},
		},
		{
			collection: "actions",
			model: mongo.IndexModel{
				Keys: bson.D{
					{Key: "agent_id", Value: 1},
					{Key: "tick", Value: -1},
				},
			},
		},
	}

	for _, i := range indexes {
		_, err := db.Collection(i.collection).Indexes().CreateOne(ctx, i.model)
		if err != nil {
			return fmt.Errorf("create index on %s: %w", i.collection, err)
		}
	}

	return nil
}
