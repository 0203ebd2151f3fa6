package jobs

import (
	"context"
	"fmt"
	"time"
)

// JobStatus represents the current status of an ingestion job.
type JobStatus string

const (
	// JobStatusQueued indicates the job is accepted and waiting for a worker.
	JobStatusQueued JobStatus = "queued"
	// JobStatusProcessing indicates a worker has claimed the job.
	JobStatusProcessing JobStatus = "processing"
	// JobStatusSucceeded indicates the job finished and its result is final.
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed indicates the job failed. Resubmission is up to the caller.
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusSucceeded, JobStatusFailed:
		return true
	}
	return false
}

// Result is the outcome of a successful job.
// TotalRecords always equals NewCount + DuplicateCount.
type Result struct {
	TotalRecords   int `json:"total_records"`
	NewCount       int `json:"new_count"`
	DuplicateCount int `json:"duplicate_count"`
}

// Consistent reports whether the counts add up.
func (r Result) Consistent() bool {
	return r.TotalRecords == r.NewCount+r.DuplicateCount && r.NewCount >= 0 && r.DuplicateCount >= 0
}

// IngestJob tracks one submitted file through the pipeline.
type IngestJob struct {
	// JobID is the unique identifier for this job.
	JobID string `json:"job_id"`

	// ArtifactRef locates the stored file (local path or gs:// URI).
	ArtifactRef string `json:"artifact_ref"`

	// SourceName is the file name as submitted; it decides the format and is
	// stamped on every persisted row.
	SourceName string `json:"source_name"`

	Status JobStatus `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result is set once the job succeeded.
	Result *Result `json:"result,omitempty"`

	// Error contains error details if the job failed.
	Error string `json:"error,omitempty"`
}

// Clone returns a deep copy of the job.
func (j *IngestJob) Clone() *IngestJob {
	c := *j
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

// Payload is the polling response for a job.
type Payload struct {
	Status string  `json:"status"`
	TaskID string  `json:"task_id,omitempty"`
	Result *Result `json:"result"`
	Error  *string `json:"error"`
}

// Payload renders the job for status polling: "success" or "error" once
// terminal, otherwise the current status and the task id.
func (j *IngestJob) Payload() Payload {
	switch j.Status {
	case JobStatusSucceeded:
		p := Payload{Status: "success"}
		if j.Result != nil {
			r := *j.Result
			p.Result = &r
		}
		return p
	case JobStatusFailed:
		msg := j.Error
		return Payload{Status: "error", Error: &msg}
	default:
		return Payload{Status: string(j.Status), TaskID: j.JobID}
	}
}

// Publisher dispatches jobs to workers.
type Publisher interface {
	// Publish enqueues a saved, queued job.
	Publish(ctx context.Context, job *IngestJob) error

	// Close closes the publisher and releases resources.
	Close() error
}

// Consumer defines the interface for consuming jobs from a queue.
type Consumer interface {
	// Start begins consuming jobs from the queue.
	// The handler function is called for each job received.
	Start(ctx context.Context, handler JobHandler) error

	// Stop stops consuming jobs and waits for in-flight jobs to complete.
	Stop(ctx context.Context) error
}

// JobHandler processes a claimed job. A nil error means the job succeeded
// with the returned result.
type JobHandler func(ctx context.Context, job *IngestJob) (*Result, error)

// JobStore defines the interface for storing and retrieving job state.
type JobStore interface {
	// SaveJob saves a new job.
	SaveJob(ctx context.Context, job *IngestJob) error

	// GetJob retrieves a job by ID. Unknown ids return *UnknownJobError.
	GetJob(ctx context.Context, jobID string) (*IngestJob, error)

	// ListJobs retrieves jobs with optional filtering, newest first.
	ListJobs(ctx context.Context, filter JobFilter) ([]*IngestJob, error)

	// Transition moves a job to status and returns the updated job.
	// result is recorded on success, errMsg on failure.
	Transition(ctx context.Context, jobID string, to JobStatus, result *Result, errMsg string) (*IngestJob, error)
}

// JobFilter defines filtering criteria for listing jobs.
type JobFilter struct {
	// Status filters jobs by status.
	Status JobStatus

	// Limit limits the number of results.
	Limit int

	// Offset for pagination.
	Offset int
}

// CanTransition reports whether from → to is an allowed move.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case JobStatusQueued:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusSucceeded || to == JobStatusFailed
	default:
		return false
	}
}

// UnknownJobError is returned for a job id the store does not hold.
type UnknownJobError struct {
	JobID string
}

func (e *UnknownJobError) Error() string {
	return fmt.Sprintf("unknown job: %s", e.JobID)
}

// TransitionError is returned for a move the lifecycle does not allow.
type TransitionError struct {
	JobID string
	From  JobStatus
	To    JobStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("job %s: cannot move from %s to %s", e.JobID, e.From, e.To)
}
