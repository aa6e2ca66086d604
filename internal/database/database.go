// Package database owns the MongoDB client and the index set the catalog and
// job queue rely on.
package database

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	filesCollection   = "files"
	jobsCollection    = "jobs"
	recordsCollection = "parsed_records"

	minPoolSize = 2
	maxPoolSize = 10
)

// DB wraps the MongoDB client and database handle held for the process
// lifetime.
type DB struct {
	client *mongo.Client
	db     *mongo.Database
}

// Connect opens a pooled MongoDB client and verifies connectivity.
func Connect(ctx context.Context, uri, name string) (*DB, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetMinPoolSize(minPoolSize).
		SetMaxPoolSize(maxPoolSize).
		SetServerSelectionTimeout(10 * time.Second)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongodb: %w", err)
	}
	return &DB{client: client, db: client.Database(name)}, nil
}

// Files returns the file catalog collection.
func (d *DB) Files() *mongo.Collection { return d.db.Collection(filesCollection) }

// Jobs returns the job queue collection.
func (d *DB) Jobs() *mongo.Collection { return d.db.Collection(jobsCollection) }

// ParsedRecords returns the parsed-record collection.
func (d *DB) ParsedRecords() *mongo.Collection { return d.db.Collection(recordsCollection) }

// Ping reports liveness of the metadata store.
func (d *DB) Ping(ctx context.Context) error {
	return d.client.Ping(ctx, readpref.Primary())
}

// Close tears the client down on shutdown.
func (d *DB) Close(ctx context.Context) error {
	return d.client.Disconnect(ctx)
}

// EnsureIndexes creates the indexes both repositories depend on. CreateMany is
// idempotent for identical specs, so this is safe to run on every startup.
func (d *DB) EnsureIndexes(ctx context.Context) error {
	fileIndexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "object_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	if _, err := d.Files().Indexes().CreateMany(ctx, fileIndexes); err != nil {
		return fmt.Errorf("create file indexes: %w", err)
	}

	jobIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "file_id", Value: 1}}},
		// FIFO claim scans (state, queued_at); stale sweeps scan (state, lock_until).
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "queued_at", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "lock_until", Value: 1}}},
		{Keys: bson.D{{Key: "worker_id", Value: 1}}},
	}
	if _, err := d.Jobs().Indexes().CreateMany(ctx, jobIndexes); err != nil {
		return fmt.Errorf("create job indexes: %w", err)
	}
	return nil
}
