package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storeops/internal/action"
	"storeops/internal/config"
	"storeops/internal/draft"
	"storeops/internal/kv"
	"storeops/internal/models"
	"storeops/internal/orders"
)

type fakeScheduler struct {
	enqueued []string
}

func (f *fakeScheduler) Enqueue(_ context.Context, jobID string) error {
	f.enqueued = append(f.enqueued, jobID)
	return nil
}

type testRig struct {
	engine    *Engine
	mem       *orders.Memory
	scheduler *fakeScheduler
	kv        *kv.Store
	cfg       config.Config
	actor     models.Actor
}

func newTestRig(t *testing.T, withScheduler bool) *testRig {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	cfg := config.Config{
		DraftTTL:              15 * time.Minute,
		RecordTTL:             24 * time.Hour,
		BatchMax:              1000,
		AsyncThreshold:        50,
		ErrorCap:              25,
		LookupChunk:           100,
		ProgressWriteInterval: time.Second,
		ExportDir:             t.TempDir(),
	}

	store := kv.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mem := orders.NewMemory()
	uploader, err := action.NewUploader(context.Background(), cfg)
	if err != nil {
		t.Fatalf("uploader: %v", err)
	}
	registry := action.NewRegistry(mem, uploader)
	drafts := draft.New(store, cfg.DraftTTL)

	var scheduler *fakeScheduler
	var sched Scheduler
	if withScheduler {
		scheduler = &fakeScheduler{}
		sched = scheduler
	}

	return &testRig{
		engine:    New(cfg, mem, drafts, registry, store, sched),
		mem:       mem,
		scheduler: scheduler,
		kv:        store,
		cfg:       cfg,
		actor:     models.Actor{ID: "ops@example.com"},
	}
}

func (r *testRig) seedOrders(n int, status string) []int64 {
	ids := make([]int64, n)
	for i := 0; i < n; i++ {
		id := int64(i + 1)
		ids[i] = id
		r.mem.PutOrder(models.Order{
			ID:        id,
			Status:    status,
			CreatedAt: time.Now().Add(time.Duration(i) * time.Second),
		})
	}
	return ids
}

func statusParams(t *testing.T, status string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(models.StatusParams{Status: status})
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func TestPrepareRejectsMissingOrders(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.mem.PutOrder(models.Order{ID: 1, Status: models.OrderProcessing})
	rig.mem.PutOrder(models.Order{ID: 3, Status: models.OrderProcessing})

	_, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, []int64{1, 2, 3}, statusParams(t, models.OrderCompleted))
	var missing *models.MissingOrdersError
	if !errors.As(err, &missing) {
		t.Fatalf("want MissingOrdersError, got %v", err)
	}
	if len(missing.OrderIDs) != 1 || missing.OrderIDs[0] != 2 {
		t.Fatalf("missing = %v, want [2]", missing.OrderIDs)
	}
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("missing orders should map to not_found")
	}
}

func TestPrepareBatchCap(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	params := statusParams(t, models.OrderCompleted)

	ids := make([]int64, 1001)
	for i := range ids {
		ids[i] = int64(i + 1)
		rig.mem.PutOrder(models.Order{ID: int64(i + 1), Status: models.OrderPending})
	}

	if _, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, params); !errors.Is(err, models.ErrLimitExceeded) {
		t.Fatalf("1001 ids: want ErrLimitExceeded, got %v", err)
	}
	if _, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids[:1000], params); err != nil {
		t.Fatalf("1000 ids: %v", err)
	}
}

func TestPrepareRejectsBadParams(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.seedOrders(2, models.OrderPending)

	_, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, []int64{1, 2}, statusParams(t, "nonsense"))
	if !models.IsValidation(err) {
		t.Fatalf("want validation error, got %v", err)
	}
	_, err = rig.engine.PrepareDraft(ctx, rig.actor, "melt_orders", []int64{1, 2}, nil)
	if !models.IsValidation(err) {
		t.Fatalf("unknown action: want validation error, got %v", err)
	}
}

func TestPrepareDedupesPreservingOrder(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.seedOrders(3, models.OrderPending)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionAddTag, []int64{3, 1, 3, 2, 1}, json.RawMessage(`{"tags":["vip"]}`))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	var payload models.BulkDraftPayload
	if err := json.Unmarshal(d.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	want := []int64{3, 1, 2}
	if len(payload.OrderIDs) != len(want) {
		t.Fatalf("ids = %v", payload.OrderIDs)
	}
	for i := range want {
		if payload.OrderIDs[i] != want[i] {
			t.Fatalf("ids = %v, want %v", payload.OrderIDs, want)
		}
	}
}

func TestConfirmInlineBelowThreshold(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, true)
	ids := rig.seedOrders(5, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Status != models.ProgressCompleted {
		t.Fatalf("status = %q", res.Status)
	}
	if res.Progress == nil || res.Progress.Processed != 5 || res.Progress.Updated != 5 || res.Progress.Failed != 0 {
		t.Fatalf("progress = %+v", res.Progress)
	}
	if res.Progress.StartedAt == nil || res.Progress.CompletedAt == nil {
		t.Fatalf("missing transition timestamps: %+v", res.Progress)
	}
	if len(rig.scheduler.enqueued) != 0 {
		t.Fatalf("small batch must not hit the scheduler")
	}

	for _, id := range ids {
		o, _ := rig.mem.FindByID(ctx, id)
		if o.Status != models.OrderCompleted {
			t.Fatalf("order %d status = %q", id, o.Status)
		}
	}
}

func TestConfirmIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	ids := rig.seedOrders(3, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := rig.engine.Confirm(ctx, rig.actor, d.ID); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := rig.engine.Confirm(ctx, rig.actor, d.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("second confirm: want ErrNotFound, got %v", err)
	}
}

func TestConfirmDeferredAboveThreshold(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, true)
	ids := rig.seedOrders(200, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Status != models.ProgressQueued || res.ProgressID == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(rig.scheduler.enqueued) != 1 || rig.scheduler.enqueued[0] != res.JobID {
		t.Fatalf("scheduler calls = %v", rig.scheduler.enqueued)
	}

	// Nothing ran yet.
	prog, err := rig.engine.Progress(ctx, rig.actor, res.ProgressID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.Status != models.ProgressQueued || prog.Processed != 0 {
		t.Fatalf("queued progress = %+v", prog)
	}

	// A later scheduler-driven execution drives it to completion.
	job, err := rig.engine.Jobs().Load(ctx, res.JobID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if err := rig.engine.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	prog, err = rig.engine.Progress(ctx, rig.actor, res.ProgressID)
	if err != nil {
		t.Fatalf("progress after execute: %v", err)
	}
	if prog.Status != models.ProgressCompleted || prog.Updated != 200 {
		t.Fatalf("final progress = %+v", prog)
	}
}

func TestConfirmConflictWhenStateChanged(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	ids := rig.seedOrders(3, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	// Order 2 moves between drafting and confirmation.
	if err := rig.mem.UpdateStatus(ctx, 2, models.OrderCancelled); err != nil {
		t.Fatalf("mutate: %v", err)
	}

	_, err = rig.engine.Confirm(ctx, rig.actor, d.ID)
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("want ConflictError, got %v", err)
	}
	if len(conflict.OrderIDs) != 1 || conflict.OrderIDs[0] != 2 {
		t.Fatalf("conflict ids = %v, want [2]", conflict.OrderIDs)
	}

	// The draft was consumed by the conflicted confirmation.
	if _, err := rig.engine.Confirm(ctx, rig.actor, d.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("re-confirm: want ErrNotFound, got %v", err)
	}
	// No mutations happened.
	o, _ := rig.mem.FindByID(ctx, 1)
	if o.Status != models.OrderProcessing {
		t.Fatalf("order 1 mutated on conflicted confirm: %q", o.Status)
	}
}

func TestErrorBounding(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.cfg.ErrorCap = 3
	rig.engine.cfg.ErrorCap = 3
	ids := rig.seedOrders(10, models.OrderProcessing)

	rig.mem.FailOrders = map[int64]error{}
	for _, id := range []int64{2, 4, 5, 7, 8, 9} {
		rig.mem.FailOrders[id] = fmt.Errorf("gateway timeout")
	}

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	p := res.Progress
	if p.Failed != 6 || p.Updated != 4 || p.Processed != 10 {
		t.Fatalf("counters = %+v", p)
	}
	if len(p.Errors) != 3 || !p.Truncated {
		t.Fatalf("errors = %d truncated = %v, want 3/true", len(p.Errors), p.Truncated)
	}
	if p.Updated+p.Failed > p.Processed || p.Processed > p.OrderCount {
		t.Fatalf("invariant violated: %+v", p)
	}
}

func TestExecuteThenRollbackRestoresStatus(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.mem.PutOrder(models.Order{ID: 1, Status: models.OrderProcessing})
	rig.mem.PutOrder(models.Order{ID: 2, Status: models.OrderOnHold})
	rig.mem.PutOrder(models.Order{ID: 3, Status: models.OrderPending})
	// A bystander order the job does not touch.
	rig.mem.PutOrder(models.Order{ID: 99, Status: models.OrderProcessing})

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, []int64{1, 2, 3}, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	rb, err := rig.engine.Rollback(ctx, rig.actor, res.RollbackID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.Undone != 3 || rb.Failed != 0 {
		t.Fatalf("rollback result = %+v", rb)
	}

	want := map[int64]string{
		1:  models.OrderProcessing,
		2:  models.OrderOnHold,
		3:  models.OrderPending,
		99: models.OrderProcessing,
	}
	for id, status := range want {
		o, _ := rig.mem.FindByID(ctx, id)
		if o.Status != status {
			t.Fatalf("order %d = %q, want %q", id, o.Status, status)
		}
	}

	// The record survives, so a retried rollback still answers.
	rb2, err := rig.engine.Rollback(ctx, rig.actor, res.RollbackID)
	if err != nil {
		t.Fatalf("retried rollback: %v", err)
	}
	if len(rb2.Items) != 3 {
		t.Fatalf("retried rollback items = %d", len(rb2.Items))
	}
}

func TestRollbackUnknownIDReadsAsNotFound(t *testing.T) {
	rig := newTestRig(t, false)
	if _, err := rig.engine.Rollback(context.Background(), rig.actor, "no-such-id"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestExportJobProducesArtifactAndNoRollbackState(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	ids := rig.seedOrders(4, models.OrderCompleted)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionExportCSV, ids, json.RawMessage(`{"fields":["id","status"]}`))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Progress.Artifact == "" {
		t.Fatalf("no artifact on progress: %+v", res.Progress)
	}

	rb, err := rig.engine.Rollback(ctx, rig.actor, res.RollbackID)
	if err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if rb.Undone != 0 || rb.Failed != 0 || len(rb.Items) != 0 {
		t.Fatalf("export rollback should have no per-item state: %+v", rb)
	}
}

func TestExecuteDropsRedeliveryOfCompletedJob(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	ids := rig.seedOrders(3, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionAddNote, ids, json.RawMessage(`{"note":"call customer"}`))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// The same job arrives again, e.g. the worker crashed between executing
	// and acking and the lease lapsed.
	job, err := rig.engine.Jobs().Load(ctx, res.JobID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if err := rig.engine.Execute(ctx, job); err != nil {
		t.Fatalf("re-delivered execute: %v", err)
	}

	prog, err := rig.engine.Progress(ctx, rig.actor, res.ProgressID)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if prog.Processed != 3 || prog.Updated != 3 || prog.Failed != 0 {
		t.Fatalf("counters changed on re-delivery: %+v", prog)
	}
	for _, id := range ids {
		if notes := rig.mem.NotesFor(id); len(notes) != 1 {
			t.Fatalf("order %d has %d notes, want 1", id, len(notes))
		}
	}
}

func TestExecuteResumesInterruptedRun(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, true)
	ids := rig.seedOrders(60, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.Status != models.ProgressQueued {
		t.Fatalf("status = %q", res.Status)
	}

	// Simulate a worker that applied the first 20 items and died: those
	// orders are mutated and captured in the rollback record, the progress
	// record is stuck in running.
	prev := models.OrderProcessing
	rec, err := rig.engine.rollbacks.Load(ctx, rig.actor, res.RollbackID)
	if err != nil {
		t.Fatalf("load rollback: %v", err)
	}
	for _, id := range ids[:20] {
		if err := rig.mem.UpdateStatus(ctx, id, models.OrderCompleted); err != nil {
			t.Fatalf("mutate: %v", err)
		}
		rec.Orders[id] = models.PriorState{Status: &prev}
	}
	if err := rig.engine.rollbacks.Save(ctx, rig.actor, rec); err != nil {
		t.Fatalf("save rollback: %v", err)
	}
	prog, err := rig.engine.Progress(ctx, rig.actor, res.ProgressID)
	if err != nil {
		t.Fatalf("load progress: %v", err)
	}
	now := time.Now().UTC()
	prog.Status = models.ProgressRunning
	prog.StartedAt = &now
	prog.Processed, prog.Updated = 20, 20
	if err := rig.engine.progress.Save(ctx, rig.actor, prog); err != nil {
		t.Fatalf("save progress: %v", err)
	}

	job, err := rig.engine.Jobs().Load(ctx, res.JobID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if err := rig.engine.Execute(ctx, job); err != nil {
		t.Fatalf("resumed execute: %v", err)
	}

	prog, err = rig.engine.Progress(ctx, rig.actor, res.ProgressID)
	if err != nil {
		t.Fatalf("final progress: %v", err)
	}
	if prog.Status != models.ProgressCompleted || prog.Processed != 60 || prog.Updated != 60 {
		t.Fatalf("resumed progress = %+v", prog)
	}
	if prog.Processed > prog.OrderCount {
		t.Fatalf("processed exceeds order count: %+v", prog)
	}

	// Captured items were not re-applied: no duplicate audit notes, and the
	// remaining items got exactly one.
	if notes := rig.mem.NotesFor(ids[0]); len(notes) != 0 {
		t.Fatalf("captured order re-applied: %d notes", len(notes))
	}
	if notes := rig.mem.NotesFor(ids[59]); len(notes) != 1 {
		t.Fatalf("resumed order notes = %d, want 1", len(notes))
	}
	for _, id := range ids {
		o, _ := rig.mem.FindByID(ctx, id)
		if o.Status != models.OrderCompleted {
			t.Fatalf("order %d = %q after resume", id, o.Status)
		}
	}
}

type failingScheduler struct{}

func (failingScheduler) Enqueue(context.Context, string) error {
	return fmt.Errorf("broker unavailable")
}

func TestConfirmFallsBackInlineWhenEnqueueFails(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.engine.scheduler = failingScheduler{}
	ids := rig.seedOrders(60, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm with broken scheduler: %v", err)
	}
	if res.Status != models.ProgressCompleted || res.Progress == nil || res.Progress.Updated != 60 {
		t.Fatalf("result = %+v", res)
	}
	o, _ := rig.mem.FindByID(ctx, ids[0])
	if o.Status != models.OrderCompleted {
		t.Fatalf("order not mutated by fallback: %q", o.Status)
	}
}

type failingUploader struct{}

func (failingUploader) Upload(context.Context, string, []byte, string) (string, error) {
	return "", fmt.Errorf("destination unreachable")
}

func TestExportUploadFailureRecordedAsJobError(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	rig.engine.registry = action.NewRegistry(rig.mem, failingUploader{})
	ids := rig.seedOrders(3, models.OrderCompleted)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionExportCSV, ids, json.RawMessage(`{"fields":["id"]}`))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	p := res.Progress
	if p.Status != models.ProgressCompleted || p.Processed != 3 || p.Failed != 0 {
		t.Fatalf("progress = %+v", p)
	}
	if len(p.JobErrors) != 1 {
		t.Fatalf("job errors = %v, want one entry", p.JobErrors)
	}
	if len(p.Errors) != 0 {
		t.Fatalf("upload failure leaked into per-order errors: %+v", p.Errors)
	}
	if p.Artifact != "" {
		t.Fatalf("artifact should be empty on upload failure: %q", p.Artifact)
	}
}

func TestProgressCrossActorIsolation(t *testing.T) {
	ctx := context.Background()
	rig := newTestRig(t, false)
	ids := rig.seedOrders(2, models.OrderProcessing)

	d, err := rig.engine.PrepareDraft(ctx, rig.actor, models.ActionUpdateStatus, ids, statusParams(t, models.OrderCompleted))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	res, err := rig.engine.Confirm(ctx, rig.actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}

	other := models.Actor{ID: "mallory"}
	if _, err := rig.engine.Progress(ctx, other, res.ProgressID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("cross-actor progress: want ErrNotFound, got %v", err)
	}
	if _, err := rig.engine.Rollback(ctx, other, res.RollbackID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("cross-actor rollback: want ErrNotFound, got %v", err)
	}
}
