package action

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"storeops/internal/models"
	"storeops/internal/orders"
)

func mustParams(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal params: %v", err)
	}
	return raw
}

func TestStatusExecutorApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	mem := orders.NewMemory()
	mem.PutOrder(models.Order{ID: 1, Status: models.OrderProcessing})
	reg := NewRegistry(mem, nil)

	ex, err := reg.New(models.ActionUpdateStatus)
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	params := mustParams(t, models.StatusParams{Status: models.OrderCompleted})
	actor := models.Actor{ID: "ops@example.com"}

	order, _ := mem.FindByID(ctx, 1)
	prior, err := ex.Apply(ctx, actor, order, params)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if prior.Status == nil || *prior.Status != models.OrderProcessing {
		t.Fatalf("prior status = %v", prior.Status)
	}

	got, _ := mem.FindByID(ctx, 1)
	if got.Status != models.OrderCompleted {
		t.Fatalf("status after apply = %q", got.Status)
	}

	// Audit note written, no customer-visible notification by default.
	notes := mem.NotesFor(1)
	if len(notes) != 1 || notes[0].CustomerVisible {
		t.Fatalf("notes after apply = %+v", notes)
	}
	if notes[0].Author != actor.ID {
		t.Fatalf("audit author = %q", notes[0].Author)
	}

	if err := ex.Rollback(ctx, 1, prior); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, _ = mem.FindByID(ctx, 1)
	if got.Status != models.OrderProcessing {
		t.Fatalf("status after rollback = %q", got.Status)
	}
	// Rollback must not have added notification notes.
	if visible := countVisible(mem.NotesFor(1)); visible != 0 {
		t.Fatalf("visible notes after rollback = %d", visible)
	}
}

func countVisible(notes []models.OrderNote) int {
	var n int
	for _, note := range notes {
		if note.CustomerVisible {
			n++
		}
	}
	return n
}

func TestStatusExecutorNotify(t *testing.T) {
	ctx := context.Background()
	mem := orders.NewMemory()
	mem.PutOrder(models.Order{ID: 1, Status: models.OrderProcessing})
	reg := NewRegistry(mem, nil)

	ex, _ := reg.New(models.ActionUpdateStatus)
	params := mustParams(t, models.StatusParams{Status: models.OrderCompleted, Notify: true})
	order, _ := mem.FindByID(ctx, 1)
	if _, err := ex.Apply(ctx, models.Actor{ID: "ops"}, order, params); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if visible := countVisible(mem.NotesFor(1)); visible != 1 {
		t.Fatalf("visible notes = %d, want 1", visible)
	}
}

func TestStatusExecutorValidation(t *testing.T) {
	reg := NewRegistry(orders.NewMemory(), nil)
	ex, _ := reg.New(models.ActionUpdateStatus)

	if err := ex.ValidateParams(mustParams(t, models.StatusParams{Status: "shipped-to-mars"})); !models.IsValidation(err) {
		t.Fatalf("unknown status: want validation error, got %v", err)
	}
	if err := ex.ValidateParams(nil); !models.IsValidation(err) {
		t.Fatalf("missing status: want validation error, got %v", err)
	}
	if err := ex.ValidateParams(mustParams(t, models.StatusParams{Status: models.OrderOnHold})); err != nil {
		t.Fatalf("valid status rejected: %v", err)
	}
}

func TestTagExecutorUnionAndRollback(t *testing.T) {
	ctx := context.Background()
	mem := orders.NewMemory()
	mem.PutOrder(models.Order{ID: 1, Tags: []string{"vip"}})
	reg := NewRegistry(mem, nil)

	ex, _ := reg.New(models.ActionAddTag)
	params := mustParams(t, models.TagParams{Tags: []string{"rush", "vip"}})

	order, _ := mem.FindByID(ctx, 1)
	prior, err := ex.Apply(ctx, models.Actor{ID: "ops"}, order, params)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}

	got, _ := mem.FindByID(ctx, 1)
	if strings.Join(got.Tags, ",") != "vip,rush" {
		t.Fatalf("tags after apply = %v", got.Tags)
	}

	// Idempotent union: applying again changes nothing.
	order, _ = mem.FindByID(ctx, 1)
	if _, err := ex.Apply(ctx, models.Actor{ID: "ops"}, order, params); err != nil {
		t.Fatalf("second apply: %v", err)
	}
	got, _ = mem.FindByID(ctx, 1)
	if strings.Join(got.Tags, ",") != "vip,rush" {
		t.Fatalf("tags after second apply = %v", got.Tags)
	}

	if err := ex.Rollback(ctx, 1, prior); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, _ = mem.FindByID(ctx, 1)
	if strings.Join(got.Tags, ",") != "vip" {
		t.Fatalf("tags after rollback = %v", got.Tags)
	}
}

func TestTagExecutorRollbackToEmptySet(t *testing.T) {
	ctx := context.Background()
	mem := orders.NewMemory()
	mem.PutOrder(models.Order{ID: 1})
	reg := NewRegistry(mem, nil)

	ex, _ := reg.New(models.ActionAddTag)
	order, _ := mem.FindByID(ctx, 1)
	prior, err := ex.Apply(ctx, models.Actor{ID: "ops"}, order, mustParams(t, models.TagParams{Tags: []string{"rush"}}))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !prior.HadTags || len(prior.Tags) != 0 {
		t.Fatalf("prior = %+v, want empty captured set", prior)
	}
	if err := ex.Rollback(ctx, 1, prior); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	got, _ := mem.FindByID(ctx, 1)
	if len(got.Tags) != 0 {
		t.Fatalf("tags after rollback = %v", got.Tags)
	}
}

func TestNoteExecutorApplyAndRollback(t *testing.T) {
	ctx := context.Background()
	mem := orders.NewMemory()
	mem.PutOrder(models.Order{ID: 1})
	reg := NewRegistry(mem, nil)

	ex, _ := reg.New(models.ActionAddNote)
	params := mustParams(t, models.NoteParams{Note: "called customer, approved"})

	order, _ := mem.FindByID(ctx, 1)
	prior, err := ex.Apply(ctx, models.Actor{ID: "ops"}, order, params)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if prior.NoteID == nil {
		t.Fatalf("prior has no note id")
	}
	if _, ok := mem.Note(*prior.NoteID); !ok {
		t.Fatalf("note %d not stored", *prior.NoteID)
	}

	if err := ex.Rollback(ctx, 1, prior); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if _, ok := mem.Note(*prior.NoteID); ok {
		t.Fatalf("note %d still present after rollback", *prior.NoteID)
	}

	// Retried rollback of an already-deleted note is quiet.
	if err := ex.Rollback(ctx, 1, prior); err != nil {
		t.Fatalf("retried rollback: %v", err)
	}
}

func TestExportExecutorProducesArtifact(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ex := newExportExecutor(&localUploader{baseDir: dir})

	params := mustParams(t, models.ExportParams{Fields: []string{"id", "customer_email"}})
	for i := int64(1); i <= 2; i++ {
		o := models.Order{ID: i, CustomerEmail: "=cmd()"}
		if _, err := ex.Apply(ctx, models.Actor{ID: "ops"}, o, params); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	location, err := ex.Finish(ctx, "job-1")
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	if location != filepath.Join(dir, "exports", "job-1.csv") {
		t.Fatalf("location = %q", location)
	}

	data, err := os.ReadFile(location)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	want := "id,customer_email\r\n1,'=cmd()\r\n2,'=cmd()\r\n"
	if string(data) != want {
		t.Fatalf("artifact = %q, want %q", data, want)
	}

	if err := ex.Rollback(ctx, 1, models.PriorState{}); !errors.Is(err, models.ErrRollbackUnsupported) {
		t.Fatalf("export rollback: want ErrRollbackUnsupported, got %v", err)
	}
}

func TestRegistryUnknownAction(t *testing.T) {
	reg := NewRegistry(orders.NewMemory(), nil)
	if _, err := reg.New("drop_tables"); !models.IsValidation(err) {
		t.Fatalf("unknown action: want validation error, got %v", err)
	}
}
