// Package model contains the document definitions shared by the catalog, the
// job queue, and the worker.
package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FileStatus describes the lifecycle of an uploaded file. Status only moves
// forward: uploaded -> processed.
type FileStatus string

const (
	FileUploaded  FileStatus = "uploaded"
	FileProcessed FileStatus = "processed"
)

// File represents one uploaded blob in the files collection. The object key is
// assigned before the upload and never changes; Size is the exact byte count
// observed while streaming to the object store.
type File struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"file_id"`
	ObjectKey    string             `bson:"object_key" json:"key"`
	OriginalName string             `bson:"original_name" json:"original_name"`
	Size         int64              `bson:"size" json:"size"`
	ContentType  string             `bson:"content_type" json:"content_type"`
	Status       FileStatus         `bson:"status" json:"status"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// JobState enumerates the job lifecycle. Transitions form a DAG:
// queued -> in_progress -> (completed | failed). Terminal states never
// transition again; queued -> failed happens only through stale recovery once
// the attempt budget is exhausted.
type JobState string

const (
	JobQueued     JobState = "queued"
	JobInProgress JobState = "in_progress"
	JobCompleted  JobState = "completed"
	JobFailed     JobState = "failed"
)

// Progress is the snapshot the worker reports after every batch flush.
// LinesProcessed counts lines that parsed and validated; ErrorCount counts
// lines that did not, plus rows lost to failed flushes.
type Progress struct {
	LinesProcessed  int `bson:"lines_processed" json:"lines_processed"`
	RecordsInserted int `bson:"records_inserted" json:"records_inserted"`
	ErrorCount      int `bson:"error_count" json:"error_count"`
}

// JobError is one entry in the job's bounded error tail.
type JobError struct {
	Message   string    `bson:"message" json:"message"`
	Timestamp time.Time `bson:"timestamp" json:"timestamp"`
}

// JobResult is stored when a job reaches a terminal state.
type JobResult struct {
	LinesProcessed  int    `bson:"lines_processed" json:"lines_processed"`
	RecordsInserted int    `bson:"records_inserted" json:"records_inserted"`
	ErrorCount      int    `bson:"error_count" json:"error_count"`
	Success         bool   `bson:"success" json:"success"`
	Error           string `bson:"error,omitempty" json:"error,omitempty"`
}

// Job is one unit of deferred processing against one file. WorkerID and
// LockUntil are set only while the job is in_progress; the lock is extended on
// every progress update and expires if the worker dies.
type Job struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"job_id"`
	FileID     primitive.ObjectID `bson:"file_id" json:"file_id"`
	State      JobState           `bson:"state" json:"state"`
	Attempts   int                `bson:"attempts" json:"attempts"`
	QueuedAt   time.Time          `bson:"queued_at" json:"queued_at"`
	StartedAt  *time.Time         `bson:"started_at,omitempty" json:"started_at,omitempty"`
	FinishedAt *time.Time         `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	WorkerID   *string            `bson:"worker_id,omitempty" json:"worker_id,omitempty"`
	LockUntil  *time.Time         `bson:"lock_until,omitempty" json:"lock_until,omitempty"`
	Progress   Progress           `bson:"progress" json:"progress"`
	Errors     []JobError         `bson:"errors,omitempty" json:"errors,omitempty"`
	Result     *JobResult         `bson:"result,omitempty" json:"result,omitempty"`
}

// ParsedRecord is one successful product of processing one input line.
// LineNumber is 1-based and matches input byte order.
type ParsedRecord struct {
	FileID      primitive.ObjectID `bson:"file_id" json:"file_id"`
	JobID       primitive.ObjectID `bson:"job_id" json:"job_id"`
	LineNumber  int                `bson:"line_number" json:"line_number"`
	Data        interface{}        `bson:"data" json:"data"`
	ProcessedAt time.Time          `bson:"processed_at" json:"processed_at"`
}
