// Package jobqueue is the only writer of job records. Every state mutation
// goes through its operations, so the transition DAG
// (queued -> in_progress -> completed|failed) is enforced in one place.
//
// Claim is a single atomic find-and-update, so no two workers can take the
// same job. A live worker keeps its lock fresh through UpdateProgress; if it
// dies, the lock expires and the job becomes claimable again (or is swept by
// RecoverStale), bounded by the attempt budget.
package jobqueue

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

// ErrNotFound is returned when no job matches the lookup.
var ErrNotFound = errors.New("job not found")

// StaleFailureMessage is stored on jobs that burned their attempt budget
// without ever finishing.
const StaleFailureMessage = "exceeded maximum attempts and became stale"

// errorTailCap bounds the per-job error list; the oldest entries are evicted
// first.
const errorTailCap = 100

// Options tune the lease and retry protocol.
type Options struct {
	LockTimeout    time.Duration
	StaleThreshold time.Duration
	MaxAttempts    int
}

// RecoveryStats reports what a stale sweep did.
type RecoveryStats struct {
	Reset  int64
	Failed int64
}

// Queue mediates all access to job records.
type Queue struct {
	jobs *mongo.Collection
	opts Options
}

// New constructs a Queue. Zero option fields fall back to the protocol
// defaults (5 min lock, 10 min stale threshold, 3 attempts).
func New(db *database.DB, opts Options) *Queue {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 5 * time.Minute
	}
	if opts.StaleThreshold <= 0 {
		opts.StaleThreshold = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Queue{jobs: db.Jobs(), opts: opts}
}

// Create inserts a new queued job for the file with zero attempts and empty
// progress.
func (q *Queue) Create(ctx context.Context, fileID primitive.ObjectID) (*model.Job, error) {
	job := &model.Job{
		FileID:   fileID,
		State:    model.JobQueued,
		QueuedAt: time.Now().UTC(),
	}
	res, err := q.jobs.InsertOne(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	job.ID = res.InsertedID.(primitive.ObjectID)
	return job, nil
}

// Get returns a job by id.
func (q *Queue) Get(ctx context.Context, id primitive.ObjectID) (*model.Job, error) {
	var job model.Job
	err := q.jobs.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find job %s: %w", id.Hex(), err)
	}
	return &job, nil
}

// Claim atomically takes the oldest claimable job for the worker, or returns
// (nil, nil) when none exists. A job is claimable when it is queued, or when
// it is in_progress with an expired lock and attempts left; the second arm is
// how a dead worker's job gets picked up between recovery sweeps. The sort is
// strict FIFO on queued_at with _id as the tie-break, which keeps dispatch
// fair across concurrent workers.
func (q *Queue) Claim(ctx context.Context, workerID string) (*model.Job, error) {
	now := time.Now().UTC()
	filter := bson.M{"$or": bson.A{
		bson.M{"state": model.JobQueued},
		bson.M{
			"state":      model.JobInProgress,
			"lock_until": bson.M{"$lt": now},
			"attempts":   bson.M{"$lt": q.opts.MaxAttempts},
		},
	}}
	update := bson.M{
		"$set": bson.M{
			"state":      model.JobInProgress,
			"worker_id":  workerID,
			"started_at": now,
			"lock_until": now.Add(q.opts.LockTimeout),
		},
		"$inc": bson.M{"attempts": 1},
	}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "queued_at", Value: 1}, {Key: "_id", Value: 1}}).
		SetReturnDocument(options.After)

	var job model.Job
	err := q.jobs.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return &job, nil
}

// UpdateProgress writes the current progress snapshot and extends the lock,
// renewing the worker's lease. Called once per completed batch.
func (q *Queue) UpdateProgress(ctx context.Context, id primitive.ObjectID, progress model.Progress) error {
	update := bson.M{"$set": bson.M{
		"progress":   progress,
		"lock_until": time.Now().UTC().Add(q.opts.LockTimeout),
	}}
	if _, err := q.jobs.UpdateOne(ctx, bson.M{"_id": id, "state": model.JobInProgress}, update); err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	return nil
}

// Complete transitions an in-progress job to its terminal completed state and
// stores the result.
func (q *Queue) Complete(ctx context.Context, id primitive.ObjectID, result model.JobResult) error {
	update := bson.M{
		"$set": bson.M{
			"state":       model.JobCompleted,
			"finished_at": time.Now().UTC(),
			"progress": model.Progress{
				LinesProcessed:  result.LinesProcessed,
				RecordsInserted: result.RecordsInserted,
				ErrorCount:      result.ErrorCount,
			},
			"result": result,
		},
	}
	res, err := q.jobs.UpdateOne(ctx, bson.M{"_id": id, "state": model.JobInProgress}, update)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("complete job %s: not in progress", id.Hex())
	}
	return nil
}

// Fail transitions a non-terminal job to failed and stores the error message.
func (q *Queue) Fail(ctx context.Context, id primitive.ObjectID, errMsg string) error {
	filter := bson.M{
		"_id":   id,
		"state": bson.M{"$in": bson.A{model.JobQueued, model.JobInProgress}},
	}
	update := bson.M{
		"$set": bson.M{
			"state":       model.JobFailed,
			"finished_at": time.Now().UTC(),
			"result":      model.JobResult{Success: false, Error: errMsg},
		},
	}
	res, err := q.jobs.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("fail job %s: already terminal", id.Hex())
	}
	return nil
}

// AppendError pushes one entry onto the bounded error tail and increments the
// persisted error count. When the tail is full the oldest entries are evicted.
func (q *Queue) AppendError(ctx context.Context, id primitive.ObjectID, message string) error {
	entry := model.JobError{Message: message, Timestamp: time.Now().UTC()}
	update := bson.M{
		"$push": bson.M{"errors": bson.M{
			"$each":  bson.A{entry},
			"$slice": -errorTailCap,
		}},
		"$inc": bson.M{"progress.error_count": 1},
	}
	if _, err := q.jobs.UpdateOne(ctx, bson.M{"_id": id}, update); err != nil {
		return fmt.Errorf("append job error: %w", err)
	}
	return nil
}

// RecoverStale sweeps in_progress jobs whose lock expired or whose start time
// passed the stale threshold. Jobs with attempts left go back to queued; jobs
// that burned the budget fail terminally. It runs at process startup before
// any worker claims, and periodically from the worker loop.
func (q *Queue) RecoverStale(ctx context.Context) (RecoveryStats, error) {
	now := time.Now().UTC()
	stale := bson.M{
		"state": model.JobInProgress,
		"$or": bson.A{
			bson.M{"lock_until": bson.M{"$lt": now}},
			bson.M{"started_at": bson.M{"$lt": now.Add(-q.opts.StaleThreshold)}},
		},
	}

	var stats RecoveryStats

	resetFilter := bson.M{"attempts": bson.M{"$lt": q.opts.MaxAttempts}}
	for k, v := range stale {
		resetFilter[k] = v
	}
	resetUpdate := bson.M{
		"$set":   bson.M{"state": model.JobQueued},
		"$unset": bson.M{"worker_id": "", "lock_until": ""},
	}
	res, err := q.jobs.UpdateMany(ctx, resetFilter, resetUpdate)
	if err != nil {
		return stats, fmt.Errorf("reset stale jobs: %w", err)
	}
	stats.Reset = res.ModifiedCount

	failFilter := bson.M{"attempts": bson.M{"$gte": q.opts.MaxAttempts}}
	for k, v := range stale {
		failFilter[k] = v
	}
	failUpdate := bson.M{
		"$set": bson.M{
			"state":       model.JobFailed,
			"finished_at": now,
			"result":      model.JobResult{Success: false, Error: StaleFailureMessage},
		},
		"$unset": bson.M{"worker_id": "", "lock_until": ""},
	}
	res, err = q.jobs.UpdateMany(ctx, failFilter, failUpdate)
	if err != nil {
		return stats, fmt.Errorf("fail stale jobs: %w", err)
	}
	stats.Failed = res.ModifiedCount
	return stats, nil
}
