package inmemory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/rs/zerolog"
)

// ErrQueueClosed is returned when publishing to or starting a stopped queue.
var ErrQueueClosed = errors.New("queue is closed")

// Queue is an in-memory implementation of job publisher and consumer.
// It uses Go channels for job distribution and is safe for concurrent use.
// This implementation is suitable for single-instance deployments and testing.
type Queue struct {
	jobChan   chan *jobs.IngestJob
	closeChan chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	mu        sync.RWMutex
	store     jobs.JobStore
	workers   int
	log       zerolog.Logger
	closed    bool
	started   bool
}

// NewQueue creates a new in-memory job queue.
// bufferSize determines how many jobs can be queued before Publish blocks;
// workers is the number of jobs processed concurrently.
func NewQueue(bufferSize, workers int, store jobs.JobStore, log zerolog.Logger) *Queue {
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		jobChan:   make(chan *jobs.IngestJob, bufferSize),
		closeChan: make(chan struct{}),
		store:     store,
		workers:   workers,
		log:       log.With().Str("component", "queue").Logger(),
	}
}

// Publish implements the Publisher interface.
// It enqueues a job for asynchronous processing.
func (q *Queue) Publish(ctx context.Context, job *jobs.IngestJob) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}

	// Enqueue job with context cancellation support
	select {
	case q.jobChan <- job.Clone():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-q.closeChan:
		return ErrQueueClosed
	}
}

// Start implements the Consumer interface.
// It starts the worker goroutines that process jobs using the provided handler.
func (q *Queue) Start(ctx context.Context, handler jobs.JobHandler) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if q.started {
		return fmt.Errorf("queue already started")
	}
	q.started = true

	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, handler)
	}

	q.log.Info().Int("workers", q.workers).Msg("queue started")
	return nil
}

// worker processes jobs from the queue until it is closed and drained, so
// every accepted job reaches a terminal state.
func (q *Queue) worker(ctx context.Context, handler jobs.JobHandler) {
	defer q.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-q.jobChan:
			if !ok {
				return
			}
			q.processJob(ctx, job, handler)
		}
	}
}

// processJob claims a job, runs the handler once and records the outcome.
// Jobs are never retried.
func (q *Queue) processJob(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) {
	log := q.log.With().Str("job_id", job.JobID).Str("source_file", job.SourceName).Logger()

	claimed, err := q.store.Transition(ctx, job.JobID, jobs.JobStatusProcessing, nil, "")
	if err != nil {
		log.Warn().Err(err).Msg("job not claimed")
		return
	}

	result, herr := q.safeHandle(ctx, claimed, handler)

	// The outcome is recorded even if the worker context was cancelled meanwhile.
	recordCtx := context.WithoutCancel(ctx)
	if herr != nil {
		if _, err := q.store.Transition(recordCtx, job.JobID, jobs.JobStatusFailed, nil, herr.Error()); err != nil {
			log.Error().Err(err).Msg("failed to record job failure")
		}
		log.Error().Err(herr).Msg("job failed")
		return
	}

	if _, err := q.store.Transition(recordCtx, job.JobID, jobs.JobStatusSucceeded, result, ""); err != nil {
		log.Error().Err(err).Msg("failed to record job success")
		return
	}
	if result != nil {
		log.Info().
			Int("total_records", result.TotalRecords).
			Int("new_count", result.NewCount).
			Int("duplicate_count", result.DuplicateCount).
			Msg("job succeeded")
	}
}

func (q *Queue) safeHandle(ctx context.Context, job *jobs.IngestJob, handler jobs.JobHandler) (result *jobs.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return handler(ctx, job)
}

// Stop implements the Consumer interface.
// It stops accepting jobs and waits for buffered and in-flight jobs to finish.
func (q *Queue) Stop(ctx context.Context) error {
	q.closeOnce.Do(func() {
		// Wake publishers blocked on a full buffer before taking the write lock.
		close(q.closeChan)

		q.mu.Lock()
		q.closed = true
		close(q.jobChan)
		q.mu.Unlock()
	})

	// Wait for workers to finish with timeout
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close implements the Publisher interface.
func (q *Queue) Close() error {
	return q.Stop(context.Background())
}

// Ensure Queue implements both Publisher and Consumer interfaces.
var _ jobs.Publisher = (*Queue)(nil)
var _ jobs.Consumer = (*Queue)(nil)
