package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storeops/internal/kv"
	"storeops/internal/models"
)

// JobStore persists BulkJobs in the TTL store. Job keys are not principal
// scoped: the worker consumes them by id alone; the actor travels inside the
// record.
type JobStore struct {
	kv  *kv.Store
	ttl time.Duration
}

// NewJobStore builds a job store with the record TTL.
func NewJobStore(store *kv.Store, ttl time.Duration) *JobStore {
	return &JobStore{kv: store, ttl: ttl}
}

func jobKey(id string) string {
	return "job:" + id
}

// Save writes the job record. Jobs are immutable after creation.
func (s *JobStore) Save(ctx context.Context, job models.BulkJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	return s.kv.Set(ctx, jobKey(job.ID), data, s.ttl)
}

// Load reads a job; absent or expired reads as ErrNotFound.
func (s *JobStore) Load(ctx context.Context, id string) (models.BulkJob, error) {
	data, ok, err := s.kv.Get(ctx, jobKey(id))
	if err != nil {
		return models.BulkJob{}, err
	}
	if !ok {
		return models.BulkJob{}, models.ErrNotFound
	}
	var job models.BulkJob
	if err := json.Unmarshal(data, &job); err != nil {
		return models.BulkJob{}, fmt.Errorf("unmarshal job: %w", err)
	}
	return job, nil
}
