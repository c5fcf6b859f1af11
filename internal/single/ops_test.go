package single

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"storeops/internal/draft"
	"storeops/internal/kv"
	"storeops/internal/models"
	"storeops/internal/orders"
)

func newTestOps(t *testing.T) (*Ops, *orders.Memory) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	store := kv.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	mem := orders.NewMemory()
	return New(mem, draft.New(store, 10*time.Minute)), mem
}

var actor = models.Actor{ID: "ops@example.com"}

func TestRefundPrepareConfirm(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutOrder(models.Order{ID: 1, Status: models.OrderCompleted, TotalCents: 5000, Currency: "USD"})

	d, err := ops.PrepareRefund(ctx, actor, 1, 2500, "damaged item")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if d.Preview != "Refund USD 25.00 on order #1" {
		t.Fatalf("preview = %q", d.Preview)
	}

	res, err := ops.ConfirmRefund(ctx, actor, d.ID)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if res.OrderID != 1 {
		t.Fatalf("result = %+v", res)
	}

	o, _ := mem.FindByID(ctx, 1)
	if o.Status != models.OrderRefunded {
		t.Fatalf("status = %q", o.Status)
	}
	notes := mem.NotesFor(1)
	if len(notes) != 1 || notes[0].Author != actor.ID {
		t.Fatalf("notes = %+v", notes)
	}

	// The draft is consumed.
	if _, err := ops.ConfirmRefund(ctx, actor, d.ID); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("second confirm: want ErrNotFound, got %v", err)
	}
}

func TestRefundValidation(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutOrder(models.Order{ID: 1, Status: models.OrderCompleted, TotalCents: 5000})

	if _, err := ops.PrepareRefund(ctx, actor, 1, 6000, ""); !models.IsValidation(err) {
		t.Fatalf("over-total refund: want validation error, got %v", err)
	}
	if _, err := ops.PrepareRefund(ctx, actor, 1, 0, ""); !models.IsValidation(err) {
		t.Fatalf("zero refund: want validation error, got %v", err)
	}
	if _, err := ops.PrepareRefund(ctx, actor, 404, 100, ""); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("unknown order: want ErrNotFound, got %v", err)
	}
}

func TestRefundConflictWhenStatusMoved(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutOrder(models.Order{ID: 1, Status: models.OrderCompleted, TotalCents: 5000})

	d, err := ops.PrepareRefund(ctx, actor, 1, 100, "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := mem.UpdateStatus(ctx, 1, models.OrderCancelled); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := ops.ConfirmRefund(ctx, actor, d.ID); !models.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
	// No mutation happened.
	o, _ := mem.FindByID(ctx, 1)
	if o.Status != models.OrderCancelled {
		t.Fatalf("status = %q", o.Status)
	}
}

func TestStatusPrepareConfirm(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutOrder(models.Order{ID: 2, Status: models.OrderOnHold})

	d, err := ops.PrepareStatus(ctx, actor, 2, models.OrderProcessing)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := ops.ConfirmStatus(ctx, actor, d.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	o, _ := mem.FindByID(ctx, 2)
	if o.Status != models.OrderProcessing {
		t.Fatalf("status = %q", o.Status)
	}

	if _, err := ops.PrepareStatus(ctx, actor, 2, models.OrderProcessing); !models.IsValidation(err) {
		t.Fatalf("no-op transition: want validation error, got %v", err)
	}
	if _, err := ops.PrepareStatus(ctx, actor, 2, "warp-speed"); !models.IsValidation(err) {
		t.Fatalf("unknown status: want validation error, got %v", err)
	}
}

func TestStockPrepareConfirm(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutProduct(models.Product{ID: 9, SKU: "TEE-L", StockQty: 12})

	delta := int64(-5)
	d, err := ops.PrepareStock(ctx, actor, 9, nil, &delta)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if d.Preview != `Set stock of "TEE-L" from 12 to 7` {
		t.Fatalf("preview = %q", d.Preview)
	}
	if _, err := ops.ConfirmStock(ctx, actor, d.ID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	p, _ := mem.GetProduct(ctx, 9)
	if p.StockQty != 7 {
		t.Fatalf("stock = %d", p.StockQty)
	}
}

func TestStockValidation(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutProduct(models.Product{ID: 9, SKU: "TEE-L", StockQty: 3})

	qty := int64(5)
	delta := int64(1)
	if _, err := ops.PrepareStock(ctx, actor, 9, &qty, &delta); !models.IsValidation(err) {
		t.Fatalf("both qty and delta: want validation error, got %v", err)
	}
	if _, err := ops.PrepareStock(ctx, actor, 9, nil, nil); !models.IsValidation(err) {
		t.Fatalf("neither qty nor delta: want validation error, got %v", err)
	}
	under := int64(-4)
	if _, err := ops.PrepareStock(ctx, actor, 9, nil, &under); !models.IsValidation(err) {
		t.Fatalf("negative stock: want validation error, got %v", err)
	}
}

func TestStockConflictWhenQtyMoved(t *testing.T) {
	ctx := context.Background()
	ops, mem := newTestOps(t)
	mem.PutProduct(models.Product{ID: 9, SKU: "TEE-L", StockQty: 3})

	qty := int64(10)
	d, err := ops.PrepareStock(ctx, actor, 9, &qty, nil)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := mem.SetStock(ctx, 9, 4); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if _, err := ops.ConfirmStock(ctx, actor, d.ID); !models.IsConflict(err) {
		t.Fatalf("want conflict, got %v", err)
	}
}
