// Package records persists parsed records produced by the worker.
package records

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/dharsanguruparan/linehaul/internal/database"
	"github.com/dharsanguruparan/linehaul/internal/model"
)

// Store bulk-inserts parsed records.
type Store struct {
	coll *mongo.Collection
}

// New constructs a Store over the shared database handle.
func New(db *database.DB) *Store {
	return &Store{coll: db.ParsedRecords()}
}

// InsertBatch bulk-inserts one batch with ordered=false, so an individual
// duplicate-key error does not abort the rest of the batch. It returns how
// many documents the store acknowledged alongside any error, letting the
// caller account for partial failures.
func (s *Store) InsertBatch(ctx context.Context, recs []model.ParsedRecord) (int, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	docs := make([]interface{}, len(recs))
	for i := range recs {
		docs[i] = recs[i]
	}
	res, err := s.coll.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	inserted := 0
	if res != nil {
		inserted = len(res.InsertedIDs)
	}
	if err != nil {
		return inserted, fmt.Errorf("insert parsed records: %w", err)
	}
	return inserted, nil
}
