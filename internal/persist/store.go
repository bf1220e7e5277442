package persist

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"
)

// Store wraps the MongoDB client and database. Grounded on teacher's
// internal/persist/store.go; adapted to take a zap logger instead of the
// log package, matching this module's ambient logging stack.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	log    *zap.Logger
}

// NewStore connects to MongoDB and returns a Store. The URI should include
// the database name (e.g. mongodb://localhost:27017/wallstreetsim). If no
// database is specified in the URI, "wallstreetsim" is used.
func NewStore(ctx context.Context, uri string, logger *zap.Logger) (*Store, error) {
	clientOpts := options.Client().ApplyURI(uri)

	client, err := mongo.Connect(clientOpts)
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}

	dbName := "wallstreetsim"
	if u, err := url.Parse(uri); err == nil {
		if name := strings.TrimPrefix(u.Path, "/"); name != "" {
			dbName = name
		}
	}

	logger.Info("connected to MongoDB", zap.String("db", dbName))
	return &Store{client: client, db: client.Database(dbName), log: logger}, nil
}

// Close disconnects from MongoDB.
func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// DB returns the underlying mongo.Database.
func (s *Store) DB() *mongo.Database {
	return s.db
}

// Client returns the underlying mongo.Client, needed for transactions.
func (s *Store) Client() *mongo.Client {
	return s.client
}

// Migrate creates indexes for all collections.
func (s *Store) Migrate(ctx context.Context) error {
	if err := EnsureIndexes(ctx, s.db); err != nil {
		return err
	}
	s.log.Info("MongoDB indexes ensured")
	return nil
}
