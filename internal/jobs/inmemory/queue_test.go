package inmemory

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForStatus(t *testing.T, s *Store, id string, want jobs.JobStatus) *jobs.IngestJob {
	t.Helper()
	var job *jobs.IngestJob
	require.Eventually(t, func() bool {
		var err error
		job, err = s.GetJob(context.Background(), id)
		return err == nil && job.Status == want
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestQueue_ProcessesJobsToTerminalStates(t *testing.T) {
	ctx := context.Background()
	store := NewStore(time.Hour)
	q := NewQueue(10, 2, store, zerolog.Nop())

	handler := func(ctx context.Context, job *jobs.IngestJob) (*jobs.Result, error) {
		assert.Equal(t, jobs.JobStatusProcessing, job.Status)
		if job.JobID == "bad" {
			return nil, errors.New("boom")
		}
		return &jobs.Result{TotalRecords: 3, NewCount: 2, DuplicateCount: 1}, nil
	}
	require.NoError(t, q.Start(ctx, handler))
	defer q.Stop(ctx)

	for _, id := range []string{"good", "bad"} {
		job := queuedJob(id, time.Now())
		require.NoError(t, store.SaveJob(ctx, job))
		require.NoError(t, q.Publish(ctx, job))
	}

	good := waitForStatus(t, store, "good", jobs.JobStatusSucceeded)
	assert.Equal(t, &jobs.Result{TotalRecords: 3, NewCount: 2, DuplicateCount: 1}, good.Result)

	bad := waitForStatus(t, store, "bad", jobs.JobStatusFailed)
	assert.Equal(t, "boom", bad.Error)
}

func TestQueue_RecoversHandlerPanic(t *testing.T) {
	ctx := context.Background()
	store := NewStore(time.Hour)
	q := NewQueue(1, 1, store, zerolog.Nop())

	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.IngestJob) (*jobs.Result, error) {
		panic("unexpected")
	}))
	defer q.Stop(ctx)

	job := queuedJob("p", time.Now())
	require.NoError(t, store.SaveJob(ctx, job))
	require.NoError(t, q.Publish(ctx, job))

	failed := waitForStatus(t, store, "p", jobs.JobStatusFailed)
	assert.Contains(t, failed.Error, "panic")
}

func TestQueue_HandlerRunsOncePerJob(t *testing.T) {
	ctx := context.Background()
	store := NewStore(time.Hour)
	q := NewQueue(10, 4, store, zerolog.Nop())

	var calls atomic.Int32
	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.IngestJob) (*jobs.Result, error) {
		calls.Add(1)
		return nil, errors.New("always fails")
	}))

	job := queuedJob("once", time.Now())
	require.NoError(t, store.SaveJob(ctx, job))
	// Publishing the same job twice must not run it twice.
	require.NoError(t, q.Publish(ctx, job))
	require.NoError(t, q.Publish(ctx, job))

	require.NoError(t, q.Stop(ctx))
	assert.EqualValues(t, 1, calls.Load())
	waitForStatus(t, store, "once", jobs.JobStatusFailed)
}

func TestQueue_StopDrainsBufferedJobs(t *testing.T) {
	ctx := context.Background()
	store := NewStore(time.Hour)
	q := NewQueue(10, 1, store, zerolog.Nop())

	for _, id := range []string{"a", "b", "c"} {
		job := queuedJob(id, time.Now())
		require.NoError(t, store.SaveJob(ctx, job))
		require.NoError(t, q.Publish(ctx, job))
	}

	require.NoError(t, q.Start(ctx, func(context.Context, *jobs.IngestJob) (*jobs.Result, error) {
		return &jobs.Result{}, nil
	}))
	require.NoError(t, q.Stop(ctx))

	for _, id := range []string{"a", "b", "c"} {
		job, err := store.GetJob(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, jobs.JobStatusSucceeded, job.Status)
	}
}

func TestQueue_ClosedQueueRejects(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(1, 1, NewStore(time.Hour), zerolog.Nop())
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	err := q.Publish(ctx, queuedJob("late", time.Now()))
	assert.ErrorIs(t, err, ErrQueueClosed)
	assert.ErrorIs(t, q.Start(ctx, nil), ErrQueueClosed)
}

func TestQueue_PublishHonoursContext(t *testing.T) {
	q := NewQueue(0, 1, NewStore(time.Hour), zerolog.Nop())
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Publish(ctx, queuedJob("blocked", time.Now()))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
