package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"storeops/internal/kv"
	"storeops/internal/models"
	"storeops/internal/telemetry"
)

// RollbackStore persists RollbackRecords in the TTL store, namespaced per
// acting principal.
type RollbackStore struct {
	kv  *kv.Store
	ttl time.Duration
}

// NewRollbackStore builds a rollback store with the record TTL.
func NewRollbackStore(store *kv.Store, ttl time.Duration) *RollbackStore {
	return &RollbackStore{kv: store, ttl: ttl}
}

func rollbackKey(actor models.Actor, id string) string {
	return fmt.Sprintf("%s:rollback:%s", actor.ID, id)
}

// Save writes the record.
func (s *RollbackStore) Save(ctx context.Context, actor models.Actor, rec models.RollbackRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal rollback record: %w", err)
	}
	return s.kv.Set(ctx, rollbackKey(actor, rec.ID), data, s.ttl)
}

// Load reads a rollback record; absent or expired reads as ErrNotFound.
func (s *RollbackStore) Load(ctx context.Context, actor models.Actor, id string) (models.RollbackRecord, error) {
	data, ok, err := s.kv.Get(ctx, rollbackKey(actor, id))
	if err != nil {
		return models.RollbackRecord{}, err
	}
	if !ok {
		return models.RollbackRecord{}, models.ErrNotFound
	}
	var rec models.RollbackRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.RollbackRecord{}, fmt.Errorf("unmarshal rollback record: %w", err)
	}
	return rec, nil
}

// Rollback reverses a completed bulk action from its captured prior state.
// The record is left intact afterwards so a partially failed rollback can be
// retried; items that already rolled back report failure or no-op on the
// retry according to their executor's semantics.
func (e *Engine) Rollback(ctx context.Context, actor models.Actor, rollbackID string) (models.RollbackResult, error) {
	rec, err := e.rollbacks.Load(ctx, actor, rollbackID)
	if err != nil {
		return models.RollbackResult{}, err
	}

	executor, err := e.registry.New(rec.Action)
	if err != nil {
		return models.RollbackResult{}, err
	}

	result := models.RollbackResult{RollbackID: rec.ID, Action: rec.Action}

	ids := make([]int64, 0, len(rec.Orders))
	for id := range rec.Orders {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		item := models.RollbackItemResult{OrderID: id}
		err := executor.Rollback(ctx, id, rec.Orders[id])
		switch {
		case err == nil:
			item.Outcome = models.RollbackUndone
			result.Undone++
		case errors.Is(err, models.ErrRollbackUnsupported):
			item.Outcome = models.RollbackUnsupported
			item.Message = err.Error()
		default:
			item.Outcome = models.RollbackFailed
			item.Message = err.Error()
			result.Failed++
		}
		result.Items = append(result.Items, item)
	}

	telemetry.RollbacksRun.Inc()
	return result, nil
}
