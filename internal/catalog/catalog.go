// Package catalog is the only writer of file records. It is thin CRUD over the
// files collection; lifecycle invariants live here and nowhere else.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dharsanguruparan/linehaul/internal/database"
	"github.com/dharsanguruparan/linehaul/internal/model"
)

// ErrNotFound is returned when no file record matches the lookup.
var ErrNotFound = errors.New("file not found")

// Catalog mediates all access to file records.
type Catalog struct {
	files *mongo.Collection
}

// New constructs a Catalog over the shared database handle.
func New(db *database.DB) *Catalog {
	return &Catalog{files: db.Files()}
}

// Create inserts a file record after the object-store put has fully completed.
// Size must be the exact byte count streamed to the store.
func (c *Catalog) Create(ctx context.Context, key, name string, size int64, contentType string) (*model.File, error) {
	file := &model.File{
		ObjectKey:    key,
		OriginalName: name,
		Size:         size,
		ContentType:  contentType,
		Status:       model.FileUploaded,
		CreatedAt:    time.Now().UTC(),
	}
	res, err := c.files.InsertOne(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("insert file: %w", err)
	}
	file.ID = res.InsertedID.(primitive.ObjectID)
	return file, nil
}

// Get returns a file record by id.
func (c *Catalog) Get(ctx context.Context, id primitive.ObjectID) (*model.File, error) {
	var file model.File
	err := c.files.FindOne(ctx, bson.M{"_id": id}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find file %s: %w", id.Hex(), err)
	}
	return &file, nil
}

// GetByKey returns a file record by its object-store key.
func (c *Catalog) GetByKey(ctx context.Context, key string) (*model.File, error) {
	var file model.File
	err := c.files.FindOne(ctx, bson.M{"object_key": key}).Decode(&file)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find file by key %s: %w", key, err)
	}
	return &file, nil
}

// SetStatus advances the lifecycle status. Status only moves forward, so the
// update is conditioned on the record not already being past the target.
func (c *Catalog) SetStatus(ctx context.Context, id primitive.ObjectID, status model.FileStatus) error {
	filter := bson.M{"_id": id}
	if status == model.FileProcessed {
		filter["status"] = model.FileUploaded
	}
	// MatchedCount 0 means the status already advanced; that is fine for an
	// idempotent worker retry, so only hard errors surface.
	if _, err := c.files.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"status": status}}); err != nil {
		return fmt.Errorf("update file status: %w", err)
	}
	return nil
}

// List returns file records newest first, optionally filtered by status.
func (c *Catalog) List(ctx context.Context, skip, limit int64, status *model.FileStatus) ([]model.File, error) {
	filter := bson.M{}
	if status != nil {
		filter["status"] = *status
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(skip).
		SetLimit(limit)
	cur, err := c.files.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer cur.Close(ctx)
	var files []model.File
	if err := cur.All(ctx, &files); err != nil {
		return nil, fmt.Errorf("decode files: %w", err)
	}
	return files, nil
}
