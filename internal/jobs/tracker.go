package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dvloznov/txingest/internal/parser"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArtifactRemover deletes a stored artifact.
type ArtifactRemover interface {
	Remove(ctx context.Context, ref string) error
}

// Tracker submits jobs and answers status queries.
type Tracker struct {
	store     JobStore
	publisher Publisher
	artifacts ArtifactRemover
	log       zerolog.Logger
	now       func() time.Time
}

// NewTracker creates a tracker over a job store and a publisher.
func NewTracker(store JobStore, publisher Publisher, artifacts ArtifactRemover, log zerolog.Logger) *Tracker {
	return &Tracker{
		store:     store,
		publisher: publisher,
		artifacts: artifacts,
		log:       log.With().Str("component", "tracker").Logger(),
		now:       time.Now,
	}
}

// Submit registers a queued job for an already stored artifact and dispatches
// it. The artifact is removed when the name has an unsupported suffix or the
// dispatch fails; in the latter case the job is recorded as failed.
func (t *Tracker) Submit(ctx context.Context, artifactRef, sourceName string) (string, error) {
	if _, err := parser.FormatFromName(sourceName); err != nil {
		t.removeArtifact(ctx, artifactRef, "")
		return "", err
	}

	job := &IngestJob{
		JobID:       uuid.NewString(),
		ArtifactRef: artifactRef,
		SourceName:  sourceName,
		Status:      JobStatusQueued,
		CreatedAt:   t.now(),
	}

	if err := t.store.SaveJob(ctx, job); err != nil {
		t.removeArtifact(ctx, artifactRef, job.JobID)
		return "", fmt.Errorf("Submit: saving job: %w", err)
	}

	if err := t.publisher.Publish(ctx, job); err != nil {
		msg := fmt.Sprintf("dispatch failed: %v", err)
		if _, terr := t.store.Transition(context.WithoutCancel(ctx), job.JobID, JobStatusFailed, nil, msg); terr != nil {
			t.log.Error().Err(terr).Str("job_id", job.JobID).Msg("failed to record dispatch failure")
		}
		t.removeArtifact(ctx, artifactRef, job.JobID)
		return "", fmt.Errorf("Submit: dispatching job %s: %w", job.JobID, err)
	}

	t.log.Info().
		Str("job_id", job.JobID).
		Str("source_file", sourceName).
		Msg("job queued")

	return job.JobID, nil
}

// Status returns the current state of a job without waiting for it.
func (t *Tracker) Status(ctx context.Context, jobID string) (*IngestJob, error) {
	return t.store.GetJob(ctx, jobID)
}

// List returns tracked jobs.
func (t *Tracker) List(ctx context.Context, filter JobFilter) ([]*IngestJob, error) {
	return t.store.ListJobs(ctx, filter)
}

func (t *Tracker) removeArtifact(ctx context.Context, ref, jobID string) {
	if t.artifacts == nil || ref == "" {
		return
	}
	if err := t.artifacts.Remove(context.WithoutCancel(ctx), ref); err != nil {
		t.log.Error().Err(err).Str("job_id", jobID).Str("artifact", ref).Msg("failed to remove artifact")
	}
}
