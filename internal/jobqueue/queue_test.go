package jobqueue

// These tests run the real update documents against a live MongoDB so the
// claim filter, the $push/$slice error tail, and the stale sweep are exercised
// end to end. They skip unless MONGODB_URI is set, e.g.
//
//	MONGODB_URI=mongodb://localhost:27017 go test ./internal/jobqueue/

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/dharsanguruparan/linehaul/internal/database"
	"github.com/dharsanguruparan/linehaul/internal/model"
)

func newTestQueue(t *testing.T, opts Options) (*Queue, *mongo.Collection) {
	t.Helper()
	uri := os.Getenv("MONGODB_URI")
	if uri == "" {
		t.Skip("MONGODB_URI not set")
	}
	ctx := context.Background()
	db, err := database.Connect(ctx, uri, "linehaul_test")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Jobs().Drop(cctx)
		_ = db.Close(cctx)
	})
	if err := db.Jobs().Drop(ctx); err != nil {
		t.Fatalf("drop jobs: %v", err)
	}
	return New(db, opts), db.Jobs()
}

func insertJob(t *testing.T, coll *mongo.Collection, job model.Job) primitive.ObjectID {
	t.Helper()
	res, err := coll.InsertOne(context.Background(), job)
	if err != nil {
		t.Fatalf("insert job: %v", err)
	}
	return res.InsertedID.(primitive.ObjectID)
}

func TestClaimOldestQueuedFirst(t *testing.T) {
	q, coll := newTestQueue(t, Options{})
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	// Newest inserted first so insertion order cannot mask the sort.
	newer := insertJob(t, coll, model.Job{FileID: primitive.NewObjectID(), State: model.JobQueued, QueuedAt: base.Add(time.Minute)})
	older := insertJob(t, coll, model.Job{FileID: primitive.NewObjectID(), State: model.JobQueued, QueuedAt: base})

	job, err := q.Claim(ctx, "worker-a")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != older {
		t.Fatalf("expected oldest job %s, got %+v", older.Hex(), job)
	}
	if job.State != model.JobInProgress || job.Attempts != 1 {
		t.Fatalf("claim did not advance state/attempts: %+v", job)
	}
	if job.WorkerID == nil || *job.WorkerID != "worker-a" {
		t.Fatalf("worker id not recorded: %+v", job.WorkerID)
	}
	if job.LockUntil == nil || !job.LockUntil.After(time.Now().UTC()) {
		t.Fatalf("lock not held into the future: %+v", job.LockUntil)
	}

	// A second claim takes the remaining job, never the one already held.
	second, err := q.Claim(ctx, "worker-b")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if second == nil || second.ID != newer {
		t.Fatalf("expected remaining job %s, got %+v", newer.Hex(), second)
	}

	third, err := q.Claim(ctx, "worker-c")
	if err != nil {
		t.Fatalf("third claim: %v", err)
	}
	if third != nil {
		t.Fatalf("drained queue should claim nothing, got %+v", third)
	}
}

func TestClaimTakesExpiredLockWithAttemptsLeft(t *testing.T) {
	q, coll := newTestQueue(t, Options{MaxAttempts: 3})
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	dead := "worker-dead"
	live := "worker-live"

	expired := insertJob(t, coll, model.Job{
		FileID: primitive.NewObjectID(), State: model.JobInProgress,
		Attempts: 1, QueuedAt: now.Add(-time.Hour),
		WorkerID: &dead, LockUntil: &past, StartedAt: &past,
	})
	insertJob(t, coll, model.Job{
		FileID: primitive.NewObjectID(), State: model.JobInProgress,
		Attempts: 3, QueuedAt: now.Add(-time.Hour),
		WorkerID: &dead, LockUntil: &past, StartedAt: &past,
	})
	insertJob(t, coll, model.Job{
		FileID: primitive.NewObjectID(), State: model.JobInProgress,
		Attempts: 1, QueuedAt: now.Add(-time.Hour),
		WorkerID: &live, LockUntil: &future, StartedAt: &now,
	})

	job, err := q.Claim(ctx, "worker-b")
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil || job.ID != expired {
		t.Fatalf("expected expired-lock job %s, got %+v", expired.Hex(), job)
	}
	if job.Attempts != 2 {
		t.Fatalf("expected attempts bumped to 2, got %d", job.Attempts)
	}
	if job.WorkerID == nil || *job.WorkerID != "worker-b" {
		t.Fatalf("lock not reassigned: %+v", job.WorkerID)
	}

	// The exhausted job and the live-lock job stay unclaimable.
	next, err := q.Claim(ctx, "worker-b")
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if next != nil {
		t.Fatalf("expected nothing claimable, got %+v", next)
	}
}

func TestCompleteAndFailRefuseTerminalJobs(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	created, err := q.Create(ctx, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	claimed, err := q.Claim(ctx, "worker-a")
	if err != nil || claimed == nil || claimed.ID != created.ID {
		t.Fatalf("claim: %v %+v", err, claimed)
	}

	result := model.JobResult{LinesProcessed: 2, RecordsInserted: 2, Success: true}
	if err := q.Complete(ctx, claimed.ID, result); err != nil {
		t.Fatalf("complete: %v", err)
	}
	got, err := q.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.JobCompleted || got.FinishedAt == nil || got.Result == nil || !got.Result.Success {
		t.Fatalf("terminal state not recorded: %+v", got)
	}
	if got.Progress.RecordsInserted != 2 {
		t.Fatalf("final progress not synced with result: %+v", got.Progress)
	}

	if err := q.Complete(ctx, claimed.ID, result); err == nil || !strings.Contains(err.Error(), "not in progress") {
		t.Fatalf("re-complete should be refused, got %v", err)
	}
	if err := q.Fail(ctx, claimed.ID, "boom"); err == nil || !strings.Contains(err.Error(), "already terminal") {
		t.Fatalf("fail after complete should be refused, got %v", err)
	}
	got, err = q.Get(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.State != model.JobCompleted || got.Result.Error != "" {
		t.Fatalf("terminal state mutated: %+v", got)
	}
}

func TestAppendErrorCapsTailAtHundred(t *testing.T) {
	q, _ := newTestQueue(t, Options{})
	ctx := context.Background()

	job, err := q.Create(ctx, primitive.NewObjectID())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 1; i <= 120; i++ {
		if err := q.AppendError(ctx, job.ID, fmt.Sprintf("Line %d: bad", i)); err != nil {
			t.Fatalf("append error %d: %v", i, err)
		}
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Errors) != 100 {
		t.Fatalf("expected capped tail of 100, got %d", len(got.Errors))
	}
	// FIFO eviction keeps the newest 100.
	if got.Errors[0].Message != "Line 21: bad" || got.Errors[99].Message != "Line 120: bad" {
		t.Fatalf("unexpected tail window: %q .. %q", got.Errors[0].Message, got.Errors[99].Message)
	}
	if got.Progress.ErrorCount != 120 {
		t.Fatalf("error count should survive eviction, got %d", got.Progress.ErrorCount)
	}
}

func TestRecoverStaleSplitsByAttempts(t *testing.T) {
	q, coll := newTestQueue(t, Options{MaxAttempts: 3, StaleThreshold: 10 * time.Minute})
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)
	dead := "worker-dead"
	live := "worker-live"

	under := insertJob(t, coll, model.Job{
		FileID: primitive.NewObjectID(), State: model.JobInProgress,
		Attempts: 1, QueuedAt: now.Add(-time.Hour),
		WorkerID: &dead, LockUntil: &past, StartedAt: &past,
	})
	over := insertJob(t, coll, model.Job{
		FileID: primitive.NewObjectID(), State: model.JobInProgress,
		Attempts: 3, QueuedAt: now.Add(-time.Hour),
		WorkerID: &dead, LockUntil: &past, StartedAt: &past,
	})
	healthy := insertJob(t, coll, model.Job{
		FileID: primitive.NewObjectID(), State: model.JobInProgress,
		Attempts: 1, QueuedAt: now.Add(-time.Hour),
		WorkerID: &live, LockUntil: &future, StartedAt: &now,
	})

	stats, err := q.RecoverStale(ctx)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if stats.Reset != 1 || stats.Failed != 1 {
		t.Fatalf("expected 1 reset / 1 failed, got %+v", stats)
	}

	got, err := q.Get(ctx, under)
	if err != nil {
		t.Fatalf("get reset job: %v", err)
	}
	if got.State != model.JobQueued || got.WorkerID != nil || got.LockUntil != nil {
		t.Fatalf("under-budget job not reset cleanly: %+v", got)
	}

	got, err = q.Get(ctx, over)
	if err != nil {
		t.Fatalf("get failed job: %v", err)
	}
	if got.State != model.JobFailed || got.FinishedAt == nil {
		t.Fatalf("exhausted job not failed: %+v", got)
	}
	if got.Result == nil || got.Result.Error != StaleFailureMessage {
		t.Fatalf("unexpected failure result: %+v", got.Result)
	}

	got, err = q.Get(ctx, healthy)
	if err != nil {
		t.Fatalf("get healthy job: %v", err)
	}
	if got.State != model.JobInProgress || got.WorkerID == nil || *got.WorkerID != live {
		t.Fatalf("healthy job disturbed by sweep: %+v", got)
	}
}
