// Package pipeline runs an ingestion job: parse, normalize, convert,
// deduplicate and persist one submitted file.
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/dvloznov/txingest/internal/logger"
	"github.com/dvloznov/txingest/internal/store"
	"github.com/rs/zerolog"
)

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d (%s) failed: %w", i+1, step.Name(), err)
		}
	}
	return nil
}

// ArtifactStore reads and removes stored artifacts.
type ArtifactStore interface {
	ArtifactReader
	Remove(ctx context.Context, ref string) error
}

// Config holds the executor dependencies.
type Config struct {
	Artifacts ArtifactStore
	Repo      store.Repository
	// Exporter is optional.
	Exporter Exporter
	Policy   MissingIdentifierPolicy
	Location *time.Location
	Now      func() time.Time
	NewID    func() string
	Log      zerolog.Logger
}

// NewIngestionPipeline creates the standard ingestion pipeline.
func NewIngestionPipeline(cfg Config) *Pipeline {
	return NewPipeline(
		&ReadArtifactStep{Artifacts: cfg.Artifacts},
		&ParseStep{},
		&NormalizeStep{},
		&ConvertStep{},
		&IdentifierPolicyStep{Policy: cfg.Policy, NewID: cfg.NewID},
		&SnapshotIdentifiersStep{Repo: cfg.Repo},
		&PartitionStep{},
		&StampStep{Now: cfg.Now, Location: cfg.Location},
		&PersistStep{Repo: cfg.Repo},
		&ExportStep{Exporter: cfg.Exporter},
		&SummarizeStep{},
	)
}

// Executor runs the ingestion pipeline for claimed jobs and removes the
// artifact once the outcome is known.
type Executor struct {
	pipeline  *Pipeline
	artifacts ArtifactStore
	log       zerolog.Logger
}

// NewExecutor creates an executor with the standard pipeline.
func NewExecutor(cfg Config) *Executor {
	return &Executor{
		pipeline:  NewIngestionPipeline(cfg),
		artifacts: cfg.Artifacts,
		log:       cfg.Log.With().Str("component", "executor").Logger(),
	}
}

// Execute processes one job. It keeps running if ctx is cancelled, turns a
// panic into an error, and removes the artifact exactly once before
// returning, whatever the outcome. Removal failures are logged only.
func (e *Executor) Execute(ctx context.Context, job *jobs.IngestJob) (result *jobs.Result, err error) {
	ctx = context.WithoutCancel(ctx)

	log := e.log.With().
		Str("job_id", job.JobID).
		Str("source_file", job.SourceName).
		Logger()
	ctx = logger.WithContext(ctx, log)

	var cleanup sync.Once
	removeArtifact := func() {
		cleanup.Do(func() {
			if rerr := e.artifacts.Remove(ctx, job.ArtifactRef); rerr != nil {
				log.Error().Err(rerr).Str("artifact", job.ArtifactRef).Msg("failed to remove artifact")
			}
		})
	}
	defer removeArtifact()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("pipeline panicked")
			result, err = nil, fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	started := time.Now()
	state := &PipelineState{
		JobID:       job.JobID,
		ArtifactRef: job.ArtifactRef,
		SourceName:  job.SourceName,
	}

	if err := e.pipeline.Execute(ctx, state); err != nil {
		log.Error().Err(err).Dur("elapsed", time.Since(started)).Msg("ingestion failed")
		return nil, err
	}

	log.Info().
		Int("total_records", state.Result.TotalRecords).
		Int("new_count", state.Result.NewCount).
		Int("duplicate_count", state.Result.DuplicateCount).
		Dur("elapsed", time.Since(started)).
		Msg("ingestion finished")

	return state.Result, nil
}

// Handle adapts Execute to jobs.JobHandler.
func (e *Executor) Handle(ctx context.Context, job *jobs.IngestJob) (*jobs.Result, error) {
	return e.Execute(ctx, job)
}

var _ jobs.JobHandler = (*Executor)(nil).Handle
