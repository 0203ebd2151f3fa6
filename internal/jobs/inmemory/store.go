package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dvloznov/txingest/internal/jobs"
	"github.com/patrickmn/go-cache"
)

// Store is an in-memory implementation of JobStore.
// Jobs are evicted retention after their last change; data is lost on restart.
type Store struct {
	mu    sync.Mutex
	cache *cache.Cache
	now   func() time.Time
}

// NewStore creates a new in-memory job store. A non-positive retention keeps
// jobs forever.
func NewStore(retention time.Duration) *Store {
	cleanup := retention / 2
	if retention <= 0 {
		retention = cache.NoExpiration
		cleanup = 0
	}
	if cleanup > 0 && cleanup < time.Second {
		cleanup = time.Second
	}
	return &Store{
		cache: cache.New(retention, cleanup),
		now:   time.Now,
	}
}

// SaveJob implements the JobStore interface.
func (s *Store) SaveJob(ctx context.Context, job *jobs.IngestJob) error {
	if job.JobID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("job %s: invalid status %q", job.JobID, job.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Create a copy to avoid external modifications
	s.cache.SetDefault(job.JobID, job.Clone())
	return nil
}

// GetJob implements the JobStore interface.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.get(jobID)
	if !ok {
		return nil, &jobs.UnknownJobError{JobID: jobID}
	}
	return job.Clone(), nil
}

// ListJobs implements the JobStore interface.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.IngestJob, error) {
	s.mu.Lock()
	items := s.cache.Items()
	s.mu.Unlock()

	result := make([]*jobs.IngestJob, 0, len(items))
	for _, item := range items {
		job := item.Object.(*jobs.IngestJob)
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		result = append(result, job.Clone())
	}

	sort.Slice(result, func(i, k int) bool {
		if result[i].CreatedAt.Equal(result[k].CreatedAt) {
			return result[i].JobID < result[k].JobID
		}
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []*jobs.IngestJob{}, nil
		}
		result = result[filter.Offset:]
	}

	if filter.Limit > 0 && filter.Limit < len(result) {
		result = result[:filter.Limit]
	}

	return result, nil
}

// Transition implements the JobStore interface. The check and the update
// happen under one lock, so exactly one caller wins a claim.
func (s *Store) Transition(ctx context.Context, jobID string, to jobs.JobStatus, result *jobs.Result, errMsg string) (*jobs.IngestJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.get(jobID)
	if !ok {
		return nil, &jobs.UnknownJobError{JobID: jobID}
	}
	if !jobs.CanTransition(current.Status, to) {
		return nil, &jobs.TransitionError{JobID: jobID, From: current.Status, To: to}
	}

	job := current.Clone()
	job.Status = to
	now := s.now()

	switch to {
	case jobs.JobStatusProcessing:
		job.StartedAt = &now
	case jobs.JobStatusSucceeded:
		job.CompletedAt = &now
		if result != nil {
			r := *result
			job.Result = &r
		} else {
			job.Result = &jobs.Result{}
		}
		job.Error = ""
	case jobs.JobStatusFailed:
		job.CompletedAt = &now
		job.Result = nil
		job.Error = errMsg
	}

	s.cache.SetDefault(jobID, job)
	return job.Clone(), nil
}

func (s *Store) get(jobID string) (*jobs.IngestJob, bool) {
	v, ok := s.cache.Get(jobID)
	if !ok {
		return nil, false
	}
	return v.(*jobs.IngestJob), true
}

// Ensure Store implements JobStore interface.
var _ jobs.JobStore = (*Store)(nil)
