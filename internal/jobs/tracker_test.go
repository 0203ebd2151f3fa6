package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/dvloznov/txingest/internal/jobs/inmemory"
	"github.com/dvloznov/txingest/internal/parser"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type removerSpy struct {
	mu      sync.Mutex
	removed []string
}

func (r *removerSpy) Remove(_ context.Context, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, ref)
	return nil
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, *jobs.IngestJob) error { return errors.New("broker down") }
func (failingPublisher) Close() error { return nil }

func TestTracker_SubmitAndPoll(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(time.Hour)
	queue := inmemory.NewQueue(4, 1, store, zerolog.Nop())
	spy := &removerSpy{}
	tracker := jobs.NewTracker(store, queue, spy, zerolog.Nop())

	id, err := tracker.Submit(ctx, "/tmp/a.csv", "a.csv")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := tracker.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, jobs.JobStatusQueued, job.Status)
	assert.Equal(t, "a.csv", job.SourceName)
	assert.Equal(t, jobs.Payload{Status: "queued", TaskID: id}, job.Payload())

	require.NoError(t, queue.Start(ctx, func(context.Context, *jobs.IngestJob) (*jobs.Result, error) {
		return &jobs.Result{TotalRecords: 1, NewCount: 1}, nil
	}))
	require.NoError(t, queue.Stop(ctx))

	first, err := tracker.Status(ctx, id)
	require.NoError(t, err)
	second, err := tracker.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.Payload(), second.Payload(), "polling is idempotent")
	assert.Equal(t, "success", first.Payload().Status)
	assert.Empty(t, spy.removed)
}

func TestTracker_RejectsUnsupportedNames(t *testing.T) {
	store := inmemory.NewStore(time.Hour)
	spy := &removerSpy{}
	tracker := jobs.NewTracker(store, failingPublisher{}, spy, zerolog.Nop())

	_, err := tracker.Submit(context.Background(), "/tmp/notes.txt", "notes.txt")
	var unsupported *parser.UnsupportedFormatError
	require.True(t, errors.As(err, &unsupported))
	assert.Equal(t, []string{"/tmp/notes.txt"}, spy.removed)

	all, err := tracker.List(context.Background(), jobs.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestTracker_DispatchFailureFailsJob(t *testing.T) {
	ctx := context.Background()
	store := inmemory.NewStore(time.Hour)
	spy := &removerSpy{}
	tracker := jobs.NewTracker(store, failingPublisher{}, spy, zerolog.Nop())

	_, err := tracker.Submit(ctx, "/tmp/a.json", "a.json")
	require.Error(t, err)
	assert.Equal(t, []string{"/tmp/a.json"}, spy.removed)

	failed, err := tracker.List(ctx, jobs.JobFilter{Status: jobs.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Contains(t, failed[0].Error, "broker down")
}

func TestTracker_UnknownJob(t *testing.T) {
	tracker := jobs.NewTracker(inmemory.NewStore(time.Hour), failingPublisher{}, nil, zerolog.Nop())

	_, err := tracker.Status(context.Background(), "nope")
	var unknown *jobs.UnknownJobError
	assert.True(t, errors.As(err, &unknown))
}

func TestPayload(t *testing.T) {
	ok := &jobs.IngestJob{JobID: "1", Status: jobs.JobStatusSucceeded, Result: &jobs.Result{TotalRecords: 2, NewCount: 1, DuplicateCount: 1}}
	p := ok.Payload()
	assert.Equal(t, "success", p.Status)
	assert.Nil(t, p.Error)
	assert.Equal(t, 2, p.Result.TotalRecords)

	bad := &jobs.IngestJob{JobID: "2", Status: jobs.JobStatusFailed, Error: "parse csv: missing header line"}
	p = bad.Payload()
	assert.Equal(t, "error", p.Status)
	assert.Nil(t, p.Result)
	require.NotNil(t, p.Error)
	assert.Equal(t, "parse csv: missing header line", *p.Error)

	running := &jobs.IngestJob{JobID: "3", Status: jobs.JobStatusProcessing}
	assert.Equal(t, jobs.Payload{Status: "processing", TaskID: "3"}, running.Payload())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, jobs.CanTransition(jobs.JobStatusQueued, jobs.JobStatusProcessing))
	assert.True(t, jobs.CanTransition(jobs.JobStatusQueued, jobs.JobStatusFailed))
	assert.False(t, jobs.CanTransition(jobs.JobStatusQueued, jobs.JobStatusSucceeded))
	assert.True(t, jobs.CanTransition(jobs.JobStatusProcessing, jobs.JobStatusSucceeded))
	assert.False(t, jobs.CanTransition(jobs.JobStatusProcessing, jobs.JobStatusQueued))
	assert.False(t, jobs.CanTransition(jobs.JobStatusFailed, jobs.JobStatusProcessing))
	assert.False(t, jobs.CanTransition(jobs.JobStatusSucceeded, jobs.JobStatusFailed))
}
