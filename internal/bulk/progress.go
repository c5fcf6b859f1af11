package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"storeops/internal/kv"
	"storeops/internal/models"
)

// ProgressStore persists Progress records in the TTL store, namespaced per
// acting principal.
type ProgressStore struct {
	kv  *kv.Store
	ttl time.Duration
}

// NewProgressStore builds a progress store with the record TTL.
func NewProgressStore(store *kv.Store, ttl time.Duration) *ProgressStore {
	return &ProgressStore{kv: store, ttl: ttl}
}

func progressKey(actor models.Actor, id string) string {
	return fmt.Sprintf("%s:progress:%s", actor.ID, id)
}

// Save writes the record, stamping LastUpdated.
func (s *ProgressStore) Save(ctx context.Context, actor models.Actor, p models.Progress) error {
	p.LastUpdated = time.Now().UTC()
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}
	return s.kv.Set(ctx, progressKey(actor, p.ID), data, s.ttl)
}

// Load reads a progress record; absent or expired reads as ErrNotFound.
func (s *ProgressStore) Load(ctx context.Context, actor models.Actor, id string) (models.Progress, error) {
	data, ok, err := s.kv.Get(ctx, progressKey(actor, id))
	if err != nil {
		return models.Progress{}, err
	}
	if !ok {
		return models.Progress{}, models.ErrNotFound
	}
	var p models.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return models.Progress{}, fmt.Errorf("unmarshal progress: %w", err)
	}
	return p, nil
}

// tracker accumulates counters for one running job and writes them through
// the store with throttling: state transitions always flush, per-item updates
// flush at most once per interval. Counters only ever increase.
type tracker struct {
	store     *ProgressStore
	actor     models.Actor
	prog      models.Progress
	errorCap  int
	interval  time.Duration
	lastFlush time.Time
}

func newTracker(store *ProgressStore, actor models.Actor, prog models.Progress, errorCap int, interval time.Duration) *tracker {
	return &tracker{
		store:    store,
		actor:    actor,
		prog:     prog,
		errorCap: errorCap,
		interval: interval,
	}
}

// start transitions queued → running.
func (t *tracker) start(ctx context.Context) error {
	now := time.Now().UTC()
	t.prog.Status = models.ProgressRunning
	t.prog.StartedAt = &now
	return t.flush(ctx, true)
}

// itemUpdated records one successful item.
func (t *tracker) itemUpdated(ctx context.Context) {
	t.prog.Processed++
	t.prog.Updated++
	_ = t.flush(ctx, false)
}

// itemFailed records one failed item. Failed always counts the failure;
// the itemized error list is bounded by the cap.
func (t *tracker) itemFailed(ctx context.Context, orderID int64, msg string) {
	t.prog.Processed++
	t.prog.Failed++
	if len(t.prog.Errors) < t.errorCap {
		t.prog.Errors = append(t.prog.Errors, models.ItemError{OrderID: orderID, Message: msg})
	} else {
		t.prog.Truncated = true
	}
	_ = t.flush(ctx, false)
}

// jobError records a job-level failure that is not tied to one item, without
// touching the item counters or the per-order error list.
func (t *tracker) jobError(ctx context.Context, msg string) {
	t.prog.JobErrors = append(t.prog.JobErrors, msg)
	_ = t.flush(ctx, false)
}

// complete transitions running → completed and attaches the artifact, if
// any.
func (t *tracker) complete(ctx context.Context, artifact string) error {
	now := time.Now().UTC()
	t.prog.Status = models.ProgressCompleted
	t.prog.CompletedAt = &now
	t.prog.Artifact = artifact
	return t.flush(ctx, true)
}

func (t *tracker) flush(ctx context.Context, force bool) error {
	now := time.Now()
	if !force && now.Sub(t.lastFlush) < t.interval {
		return nil
	}
	t.lastFlush = now
	return t.store.Save(ctx, t.actor, t.prog)
}
