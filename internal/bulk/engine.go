package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"storeops/internal/action"
	"storeops/internal/config"
	"storeops/internal/draft"
	"storeops/internal/kv"
	"storeops/internal/models"
	"storeops/internal/orders"
	"storeops/internal/telemetry"
)

// Scheduler hands a job id to an external queue for deferred execution.
// Fire-and-forget: the engine only assumes the id will eventually be
// executed.
type Scheduler interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Engine orchestrates bulk actions: selection, draft preparation, atomic
// confirmation, sync/async dispatch, per-item execution, progress and
// rollback capture.
type Engine struct {
	cfg       config.Config
	gateway   orders.Gateway
	drafts    *draft.Store
	registry  *action.Registry
	jobs      *JobStore
	progress  *ProgressStore
	rollbacks *RollbackStore
	scheduler Scheduler
}

// New wires the engine. scheduler may be nil, in which case every confirmed
// job runs inline regardless of size.
func New(cfg config.Config, gateway orders.Gateway, drafts *draft.Store, registry *action.Registry, store *kv.Store, scheduler Scheduler) *Engine {
	return &Engine{
		cfg:       cfg,
		gateway:   gateway,
		drafts:    drafts,
		registry:  registry,
		jobs:      NewJobStore(store, cfg.RecordTTL),
		progress:  NewProgressStore(store, cfg.RecordTTL),
		rollbacks: NewRollbackStore(store, cfg.RecordTTL),
		scheduler: scheduler,
	}
}

// Jobs exposes the job store for the worker.
func (e *Engine) Jobs() *JobStore { return e.jobs }

// Progress loads a progress record for polling.
func (e *Engine) Progress(ctx context.Context, actor models.Actor, id string) (models.Progress, error) {
	return e.progress.Load(ctx, actor, id)
}

// PrepareDraft validates a bulk request end to end and stages the draft.
// Nothing is persisted on any rejection: the batch cap, unknown actions, bad
// params, and unresolved ids are all checked first.
func (e *Engine) PrepareDraft(ctx context.Context, actor models.Actor, actionKind string, orderIDs []int64, params json.RawMessage) (models.Draft, error) {
	if !models.ValidBulkAction(actionKind) {
		return models.Draft{}, models.Validationf("unknown action %q", actionKind)
	}
	if err := e.registry.ValidateParams(actionKind, params); err != nil {
		return models.Draft{}, err
	}

	ids := dedupe(orderIDs)
	if len(ids) == 0 {
		return models.Draft{}, models.Validationf("no order ids given")
	}
	if len(ids) > e.cfg.BatchMax {
		return models.Draft{}, fmt.Errorf("%w: %d > %d", models.ErrLimitExceeded, len(ids), e.cfg.BatchMax)
	}

	found, err := e.gateway.FindByIDs(ctx, ids)
	if err != nil {
		return models.Draft{}, fmt.Errorf("resolve orders: %w", err)
	}
	var missing []int64
	snapshot := make(map[int64]string, len(ids))
	for _, id := range ids {
		o, ok := found[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		snapshot[id] = o.Status
	}
	if len(missing) > 0 {
		sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
		return models.Draft{}, &models.MissingOrdersError{OrderIDs: missing}
	}

	payload := models.BulkDraftPayload{
		Action:         actionKind,
		OrderIDs:       ids,
		Params:         params,
		StatusSnapshot: snapshot,
	}
	preview := action.Preview(actionKind, len(ids), params)
	d, err := e.drafts.Create(ctx, actor, models.DraftBulkAction, payload, preview)
	if err != nil {
		return models.Draft{}, err
	}
	telemetry.DraftsCreated.Inc()
	return d, nil
}

// ConfirmResult is the outcome of a confirmation: either polling coordinates
// for a queued job or the final progress of an inline run.
type ConfirmResult struct {
	Status     string           `json:"status"`
	JobID      string           `json:"job_id"`
	ProgressID string           `json:"progress_id"`
	RollbackID string           `json:"rollback_id"`
	Progress   *models.Progress `json:"progress,omitempty"`
}

// Confirm claims the draft (at most one of N concurrent confirmations wins),
// re-checks the status snapshot, creates the job, progress, and empty
// rollback records, and dispatches inline or to the scheduler. The claim
// strictly precedes job creation: a failed execution never resurrects the
// draft.
func (e *Engine) Confirm(ctx context.Context, actor models.Actor, draftID string) (ConfirmResult, error) {
	d, err := e.drafts.Claim(ctx, actor, models.DraftBulkAction, draftID)
	if err != nil {
		return ConfirmResult{}, err
	}
	telemetry.DraftsClaimed.Inc()

	var payload models.BulkDraftPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		return ConfirmResult{}, fmt.Errorf("unmarshal draft payload: %w", err)
	}

	// The preview the user confirmed described order state at draft time;
	// reject if any target has moved since. The draft is already consumed,
	// so the caller re-drafts rather than retrying.
	if changed, err := e.changedSinceDraft(ctx, payload); err != nil {
		return ConfirmResult{}, err
	} else if len(changed) > 0 {
		telemetry.ConfirmConflicts.Inc()
		return ConfirmResult{}, &models.ConflictError{OrderIDs: changed}
	}

	now := time.Now().UTC()
	job := models.BulkJob{
		ID:         uuid.New().String(),
		Actor:      actor.ID,
		Action:     payload.Action,
		OrderIDs:   payload.OrderIDs,
		Params:     payload.Params,
		ProgressID: uuid.New().String(),
		RollbackID: uuid.New().String(),
		DraftID:    d.ID,
		CreatedAt:  now,
	}
	prog := models.Progress{
		ID:         job.ProgressID,
		Status:     models.ProgressQueued,
		Action:     job.Action,
		OrderCount: len(job.OrderIDs),
		RollbackID: job.RollbackID,
		CreatedAt:  now,
	}
	rec := models.RollbackRecord{
		ID:        job.RollbackID,
		Action:    job.Action,
		Orders:    map[int64]models.PriorState{},
		CreatedAt: now,
		ExpiresAt: now.Add(e.cfg.RecordTTL),
	}

	if err := e.jobs.Save(ctx, job); err != nil {
		return ConfirmResult{}, err
	}
	if err := e.progress.Save(ctx, actor, prog); err != nil {
		return ConfirmResult{}, err
	}
	if err := e.rollbacks.Save(ctx, actor, rec); err != nil {
		return ConfirmResult{}, err
	}

	result := ConfirmResult{
		JobID:      job.ID,
		ProgressID: job.ProgressID,
		RollbackID: job.RollbackID,
	}

	if e.scheduler != nil && len(job.OrderIDs) > e.cfg.AsyncThreshold {
		if err := e.scheduler.Enqueue(ctx, job.ID); err != nil {
			// The job, progress and rollback records are persisted and the
			// draft is consumed; running inline beats stranding them behind
			// an error with nothing to poll.
			log.Printf("job %s: enqueue failed, falling back to inline: %v", job.ID, err)
		} else {
			telemetry.JobsQueued.Inc()
			result.Status = models.ProgressQueued
			return result, nil
		}
	}

	telemetry.JobsInline.Inc()
	if err := e.Execute(ctx, job); err != nil {
		return ConfirmResult{}, err
	}
	final, err := e.progress.Load(ctx, actor, job.ProgressID)
	if err != nil {
		return ConfirmResult{}, err
	}
	result.Status = final.Status
	result.Progress = &final
	return result, nil
}

func (e *Engine) changedSinceDraft(ctx context.Context, payload models.BulkDraftPayload) ([]int64, error) {
	current, err := e.gateway.FindByIDs(ctx, payload.OrderIDs)
	if err != nil {
		return nil, fmt.Errorf("resolve orders at confirm: %w", err)
	}
	var changed []int64
	for _, id := range payload.OrderIDs {
		o, ok := current[id]
		if !ok || o.Status != payload.StatusSnapshot[id] {
			changed = append(changed, id)
		}
	}
	sort.Slice(changed, func(i, j int) bool { return changed[i] < changed[j] })
	return changed, nil
}

// Execute runs the per-item loop for a confirmed job. Shared by the inline
// path and the scheduler-driven worker. Per-item failures never abort the
// batch; the job always reaches completed. A re-delivered job is guarded:
// completed jobs are not re-run, and a job interrupted mid-run resumes from
// the rollback record instead of re-applying mutations.
func (e *Engine) Execute(ctx context.Context, job models.BulkJob) error {
	actor := models.Actor{ID: job.Actor}

	prog, err := e.progress.Load(ctx, actor, job.ProgressID)
	if err != nil {
		return fmt.Errorf("load progress for job %s: %w", job.ID, err)
	}
	rec, err := e.rollbacks.Load(ctx, actor, job.RollbackID)
	if err != nil {
		return fmt.Errorf("load rollback record for job %s: %w", job.ID, err)
	}

	switch prog.Status {
	case models.ProgressCompleted:
		// Re-delivery after a finished run, e.g. the worker crashed between
		// executing and acking. Nothing left to do.
		log.Printf("job %s: already completed, dropping re-delivery", job.ID)
		return nil
	case models.ProgressRunning:
		// A worker died mid-run and the lease lapsed. Counters are rebuilt
		// from scratch below; items already captured in the rollback record
		// are counted without re-applying.
		log.Printf("job %s: resuming interrupted run", job.ID)
		prog.Processed, prog.Updated, prog.Failed = 0, 0, 0
		prog.Errors, prog.JobErrors, prog.Truncated = nil, nil, false
	}

	executor, err := e.registry.New(job.Action)
	if err != nil {
		return err
	}

	t := newTracker(e.progress, actor, prog, e.cfg.ErrorCap, e.cfg.ProgressWriteInterval)
	if err := t.start(ctx); err != nil {
		return err
	}
	telemetry.JobsRunning.Inc()
	defer telemetry.JobsRunning.Dec()

	// One batched resolution up front; the gateway chunks internally.
	found, err := e.gateway.FindByIDs(ctx, job.OrderIDs)
	if err != nil {
		return fmt.Errorf("resolve orders for job %s: %w", job.ID, err)
	}

	captureRollback := job.Action != models.ActionExportCSV
	lastRollbackFlush := time.Now()

	for _, id := range job.OrderIDs {
		if _, applied := rec.Orders[id]; captureRollback && applied {
			// Applied before an interruption; count it, do not redo it.
			t.itemUpdated(ctx)
			continue
		}
		o, ok := found[id]
		if !ok {
			t.itemFailed(ctx, id, "order not found")
			telemetry.OrdersFailed.Inc()
			continue
		}
		prior, err := executor.Apply(ctx, actor, o, job.Params)
		if err != nil {
			t.itemFailed(ctx, id, err.Error())
			telemetry.OrdersFailed.Inc()
			continue
		}
		if captureRollback {
			rec.Orders[id] = prior
			if time.Since(lastRollbackFlush) >= e.cfg.ProgressWriteInterval {
				lastRollbackFlush = time.Now()
				_ = e.rollbacks.Save(ctx, actor, rec)
			}
		}
		t.itemUpdated(ctx)
		telemetry.OrdersUpdated.Inc()
	}

	var artifact string
	if producer, ok := executor.(action.ArtifactProducer); ok {
		artifact, err = producer.Finish(ctx, job.ID)
		if err != nil {
			// The rows are gone with the job; surface the failure on
			// the progress record rather than dropping it silently.
			log.Printf("job %s: export artifact failed: %v", job.ID, err)
			t.jobError(ctx, fmt.Sprintf("export artifact: %v", err))
		}
	}

	if captureRollback {
		if err := e.rollbacks.Save(ctx, actor, rec); err != nil {
			return fmt.Errorf("persist rollback record for job %s: %w", job.ID, err)
		}
	}
	return t.complete(ctx, artifact)
}

// dedupe removes repeated ids, preserving first-occurrence order so items
// execute in selection order.
func dedupe(ids []int64) []int64 {
	seen := make(map[int64]bool, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
