// Package worker hosts the long-running claim loop that turns queued jobs into
// parsed records. One Worker runs per process; multiple processes coordinate
// solely through the job queue's atomic claim.
package worker

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/dharsanguruparan/linehaul/internal/jobqueue"
	"github.com/dharsanguruparan/linehaul/internal/model"
	"github.com/dharsanguruparan/linehaul/internal/parser"
)

// Line splitter buffers: initial read buffer and the hard cap on one line.
const (
	scanBufSize = 64 << 10
	maxLineSize = 1 << 20
)

// Queue is the slice of the job queue the worker drives.
type Queue interface {
	Claim(ctx context.Context, workerID string) (*model.Job, error)
	UpdateProgress(ctx context.Context, id primitive.ObjectID, progress model.Progress) error
	Complete(ctx context.Context, id primitive.ObjectID, result model.JobResult) error
	Fail(ctx context.Context, id primitive.ObjectID, errMsg string) error
	AppendError(ctx context.Context, id primitive.ObjectID, message string) error
	RecoverStale(ctx context.Context) (jobqueue.RecoveryStats, error)
}

// Catalog resolves and advances file records.
type Catalog interface {
	Get(ctx context.Context, id primitive.ObjectID) (*model.File, error)
	SetStatus(ctx context.Context, id primitive.ObjectID, status model.FileStatus) error
}

// ObjectStore streams stored objects back.
type ObjectStore interface {
	GetStream(ctx context.Context, key string) (io.ReadCloser, error)
}

// RecordSink bulk-inserts parsed records, reporting how many the store
// acknowledged.
type RecordSink interface {
	InsertBatch(ctx context.Context, recs []model.ParsedRecord) (int, error)
}

// Config tunes batching, polling, and the stale-sweep cadence.
type Config struct {
	BatchSize        int
	WritePause       time.Duration
	PollInterval     time.Duration
	RecoveryInterval time.Duration
}

// Worker claims jobs and processes them to a terminal state.
type Worker struct {
	id      string
	queue   Queue
	catalog Catalog
	store   ObjectStore
	sink    RecordSink
	cfg     Config
	log     *slog.Logger
}

// New constructs a Worker. Zero config fields fall back to the defaults
// (batch 1000, pause 50ms, poll 1s, sweep every 1m).
func New(id string, queue Queue, catalog Catalog, store ObjectStore, sink RecordSink, cfg Config, log *slog.Logger) *Worker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if cfg.WritePause <= 0 {
		cfg.WritePause = 50 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.RecoveryInterval <= 0 {
		cfg.RecoveryInterval = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{id: id, queue: queue, catalog: catalog, store: store, sink: sink, cfg: cfg, log: log}
}

// Run polls for claimable jobs until the context is cancelled. Claim errors
// and job failures back off for twice the poll interval before the next
// attempt. Every recovery interval the loop also sweeps stale jobs, so an
// expired job whose attempts are exhausted reaches failed without waiting for
// a process restart.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "worker_id", w.id)
	nextSweep := time.Now().Add(w.cfg.RecoveryInterval)
	for {
		if now := time.Now(); !now.Before(nextSweep) {
			w.sweepStale(ctx)
			nextSweep = now.Add(w.cfg.RecoveryInterval)
		}
		job, err := w.queue.Claim(ctx, w.id)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("claim failed", "worker_id", w.id, "error", err)
			if err := sleep(ctx, 2*w.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		if job == nil {
			if err := sleep(ctx, w.cfg.PollInterval); err != nil {
				return err
			}
			continue
		}
		if err := w.process(ctx, job); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Error("job failed", "worker_id", w.id, "job_id", job.ID.Hex(), "error", err)
			if err := sleep(ctx, 2*w.cfg.PollInterval); err != nil {
				return err
			}
		}
	}
}

// sweepStale runs one stale-recovery pass. Sweep errors are logged, not
// fatal; the next interval retries.
func (w *Worker) sweepStale(ctx context.Context) {
	stats, err := w.queue.RecoverStale(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error("stale sweep failed", "worker_id", w.id, "error", err)
		}
		return
	}
	if stats.Reset > 0 || stats.Failed > 0 {
		w.log.Info("recovered stale jobs", "worker_id", w.id, "reset", stats.Reset, "failed", stats.Failed)
	}
}

// process drives one claimed job to a terminal state. Per-line errors are
// isolated into the job's bounded error tail; only infrastructure failures
// fail the job.
func (w *Worker) process(ctx context.Context, job *model.Job) error {
	w.log.Info("processing job", "worker_id", w.id, "job_id", job.ID.Hex(), "file_id", job.FileID.Hex(), "attempt", job.Attempts)

	file, err := w.catalog.Get(ctx, job.FileID)
	if err != nil {
		return w.failJob(ctx, job, fmt.Errorf("load file %s: %w", job.FileID.Hex(), err))
	}
	body, err := w.store.GetStream(ctx, file.ObjectKey)
	if err != nil {
		return w.failJob(ctx, job, fmt.Errorf("open object %s: %w", file.ObjectKey, err))
	}
	defer body.Close()

	parse := parser.Select(file.ContentType)
	progress, err := w.consume(ctx, job, parse, body)
	if err != nil {
		return w.failJob(ctx, job, err)
	}

	if err := w.catalog.SetStatus(ctx, file.ID, model.FileProcessed); err != nil {
		return w.failJob(ctx, job, fmt.Errorf("advance file status: %w", err))
	}
	result := model.JobResult{
		LinesProcessed:  progress.LinesProcessed,
		RecordsInserted: progress.RecordsInserted,
		ErrorCount:      progress.ErrorCount,
		Success:         true,
	}
	if err := w.queue.Complete(ctx, job.ID, result); err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	w.log.Info("job completed", "worker_id", w.id, "job_id", job.ID.Hex(),
		"lines", progress.LinesProcessed, "records", progress.RecordsInserted, "errors", progress.ErrorCount)
	return nil
}

// consume runs the streaming pipeline: line splitter -> parse/validate ->
// batcher -> throttled bulk insert. Back-pressure is inherent: the splitter
// only pulls from the object stream when the loop asks for the next line, and
// the loop blocks during flushes.
func (w *Worker) consume(ctx context.Context, job *model.Job, parse parser.Func, body io.Reader) (model.Progress, error) {
	var progress model.Progress
	batch := make([]model.ParsedRecord, 0, w.cfg.BatchSize)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, scanBufSize), maxLineSize)

	lineNo := 0
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return progress, err
		}
		lineNo++
		res := parse(scanner.Text(), lineNo)
		switch {
		case res == nil:
			// Empty line, silently skipped.
		case !res.OK:
			progress.ErrorCount++
			w.appendLineError(ctx, job.ID, fmt.Sprintf("Line %d: %s", lineNo, res.Err))
		case !parser.Validate(res.Data):
			progress.ErrorCount++
			w.appendLineError(ctx, job.ID, fmt.Sprintf("Line %d: Invalid data format", lineNo))
		default:
			progress.LinesProcessed++
			batch = append(batch, model.ParsedRecord{
				FileID:      job.FileID,
				JobID:       job.ID,
				LineNumber:  lineNo,
				Data:        res.Data,
				ProcessedAt: time.Now().UTC(),
			})
			if len(batch) == w.cfg.BatchSize {
				if err := w.flush(ctx, job.ID, batch, &progress); err != nil {
					return progress, err
				}
				batch = batch[:0]
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return progress, fmt.Errorf("read object stream: %w", err)
	}
	if len(batch) > 0 {
		if err := w.flush(ctx, job.ID, batch, &progress); err != nil {
			return progress, err
		}
	}
	return progress, nil
}

// flush bulk-inserts one batch, throttles, and reports progress (which also
// renews the job lease). A failed insert degrades the batch into error_count
// instead of aborting the job.
func (w *Worker) flush(ctx context.Context, jobID primitive.ObjectID, batch []model.ParsedRecord, progress *model.Progress) error {
	inserted, err := w.sink.InsertBatch(ctx, batch)
	progress.RecordsInserted += inserted
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		progress.ErrorCount += len(batch) - inserted
		w.log.Warn("batch insert degraded", "worker_id", w.id, "job_id", jobID.Hex(),
			"batch", len(batch), "inserted", inserted, "error", err)
	}
	if err := sleep(ctx, w.cfg.WritePause); err != nil {
		return err
	}
	if err := w.queue.UpdateProgress(ctx, jobID, *progress); err != nil {
		return fmt.Errorf("update progress: %w", err)
	}
	return nil
}

// failJob records the terminal failure and returns the original error so the
// loop logs and backs off.
func (w *Worker) failJob(ctx context.Context, job *model.Job, cause error) error {
	if err := w.queue.Fail(ctx, job.ID, cause.Error()); err != nil {
		w.log.Error("fail transition failed", "worker_id", w.id, "job_id", job.ID.Hex(), "error", err)
	}
	return cause
}

func (w *Worker) appendLineError(ctx context.Context, jobID primitive.ObjectID, message string) {
	if err := w.queue.AppendError(ctx, jobID, message); err != nil {
		w.log.Warn("append error failed", "worker_id", w.id, "job_id", jobID.Hex(), "error", err)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
