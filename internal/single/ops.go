// Package single implements the single-target draft operations (refund,
// status update, stock edit). They ride the same draft-claim pipeline as the
// bulk engine: prepare stages a typed draft with a state snapshot, confirm
// claims it at most once and re-checks the snapshot before mutating.
package single

import (
	"context"
	"encoding/json"
	"fmt"

	"storeops/internal/draft"
	"storeops/internal/models"
	"storeops/internal/orders"
	"storeops/internal/telemetry"
)

// Ops bundles the single-order operations.
type Ops struct {
	gateway orders.Gateway
	drafts  *draft.Store
}

// New wires the operations.
func New(gateway orders.Gateway, drafts *draft.Store) *Ops {
	return &Ops{gateway: gateway, drafts: drafts}
}

// Result reports a confirmed single-order mutation.
type Result struct {
	OrderID   int64  `json:"order_id,omitempty"`
	ProductID int64  `json:"product_id,omitempty"`
	Detail    string `json:"detail"`
}

// PrepareRefund stages a refund draft after validating the amount against
// the order total.
func (o *Ops) PrepareRefund(ctx context.Context, actor models.Actor, orderID, amountCents int64, reason string) (models.Draft, error) {
	if amountCents <= 0 {
		return models.Draft{}, models.Validationf("refund amount must be positive")
	}
	order, err := o.gateway.FindByID(ctx, orderID)
	if err != nil {
		return models.Draft{}, err
	}
	if order.Status == models.OrderRefunded {
		return models.Draft{}, models.Validationf("order %d is already refunded", orderID)
	}
	if amountCents > order.TotalCents {
		return models.Draft{}, models.Validationf("refund amount %d exceeds order total %d", amountCents, order.TotalCents)
	}

	payload := models.RefundDraftPayload{
		OrderID:     orderID,
		AmountCents: amountCents,
		Reason:      reason,
		PrevStatus:  order.Status,
	}
	preview := fmt.Sprintf("Refund %s %d.%02d on order #%d", order.Currency, amountCents/100, amountCents%100, orderID)
	d, err := o.drafts.Create(ctx, actor, models.DraftRefund, payload, preview)
	if err != nil {
		return models.Draft{}, err
	}
	telemetry.DraftsCreated.Inc()
	return d, nil
}

// ConfirmRefund claims the refund draft and applies it.
func (o *Ops) ConfirmRefund(ctx context.Context, actor models.Actor, draftID string) (Result, error) {
	d, err := o.drafts.Claim(ctx, actor, models.DraftRefund, draftID)
	if err != nil {
		return Result{}, err
	}
	telemetry.DraftsClaimed.Inc()

	var p models.RefundDraftPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return Result{}, fmt.Errorf("unmarshal refund payload: %w", err)
	}

	order, err := o.gateway.FindByID(ctx, p.OrderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status != p.PrevStatus {
		telemetry.ConfirmConflicts.Inc()
		return Result{}, &models.ConflictError{OrderIDs: []int64{p.OrderID}}
	}

	if err := o.gateway.UpdateStatus(ctx, p.OrderID, models.OrderRefunded); err != nil {
		return Result{}, err
	}
	note := fmt.Sprintf("Refunded %d.%02d", p.AmountCents/100, p.AmountCents%100)
	if p.Reason != "" {
		note += ": " + p.Reason
	}
	_, _ = o.gateway.AddNote(ctx, models.OrderNote{OrderID: p.OrderID, Author: actor.ID, Note: note})

	return Result{OrderID: p.OrderID, Detail: note}, nil
}

// PrepareStatus stages a single-order status transition draft.
func (o *Ops) PrepareStatus(ctx context.Context, actor models.Actor, orderID int64, newStatus string) (models.Draft, error) {
	if !models.ValidOrderStatus(newStatus) {
		return models.Draft{}, models.Validationf("unknown target status %q", newStatus)
	}
	order, err := o.gateway.FindByID(ctx, orderID)
	if err != nil {
		return models.Draft{}, err
	}
	if order.Status == newStatus {
		return models.Draft{}, models.Validationf("order %d is already %q", orderID, newStatus)
	}

	payload := models.StatusDraftPayload{OrderID: orderID, NewStatus: newStatus, PrevStatus: order.Status}
	preview := fmt.Sprintf("Set order #%d from %q to %q", orderID, order.Status, newStatus)
	d, err := o.drafts.Create(ctx, actor, models.DraftStatusUpdate, payload, preview)
	if err != nil {
		return models.Draft{}, err
	}
	telemetry.DraftsCreated.Inc()
	return d, nil
}

// ConfirmStatus claims the status draft and applies it.
func (o *Ops) ConfirmStatus(ctx context.Context, actor models.Actor, draftID string) (Result, error) {
	d, err := o.drafts.Claim(ctx, actor, models.DraftStatusUpdate, draftID)
	if err != nil {
		return Result{}, err
	}
	telemetry.DraftsClaimed.Inc()

	var p models.StatusDraftPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return Result{}, fmt.Errorf("unmarshal status payload: %w", err)
	}

	order, err := o.gateway.FindByID(ctx, p.OrderID)
	if err != nil {
		return Result{}, err
	}
	if order.Status != p.PrevStatus {
		telemetry.ConfirmConflicts.Inc()
		return Result{}, &models.ConflictError{OrderIDs: []int64{p.OrderID}}
	}

	if err := o.gateway.UpdateStatus(ctx, p.OrderID, p.NewStatus); err != nil {
		return Result{}, err
	}
	_, _ = o.gateway.AddNote(ctx, models.OrderNote{
		OrderID: p.OrderID,
		Author:  actor.ID,
		Note:    fmt.Sprintf("Status changed from %q to %q", p.PrevStatus, p.NewStatus),
	})

	return Result{OrderID: p.OrderID, Detail: fmt.Sprintf("status set to %q", p.NewStatus)}, nil
}

// PrepareStock stages a stock edit draft. Exactly one of qty (absolute) or
// delta (relative) must be given; deltas are resolved to an absolute value at
// prepare time so the preview shows the final number.
func (o *Ops) PrepareStock(ctx context.Context, actor models.Actor, productID int64, qty, delta *int64) (models.Draft, error) {
	if (qty == nil) == (delta == nil) {
		return models.Draft{}, models.Validationf("exactly one of qty or delta is required")
	}
	product, err := o.gateway.GetProduct(ctx, productID)
	if err != nil {
		return models.Draft{}, err
	}

	newQty := product.StockQty
	if qty != nil {
		newQty = *qty
	} else {
		newQty += *delta
	}
	if newQty < 0 {
		return models.Draft{}, models.Validationf("stock for %q cannot go below zero", product.SKU)
	}

	payload := models.StockDraftPayload{ProductID: productID, NewQty: newQty, PrevQty: product.StockQty}
	preview := fmt.Sprintf("Set stock of %q from %d to %d", product.SKU, product.StockQty, newQty)
	d, err := o.drafts.Create(ctx, actor, models.DraftStockUpdate, payload, preview)
	if err != nil {
		return models.Draft{}, err
	}
	telemetry.DraftsCreated.Inc()
	return d, nil
}

// ConfirmStock claims the stock draft and applies it.
func (o *Ops) ConfirmStock(ctx context.Context, actor models.Actor, draftID string) (Result, error) {
	d, err := o.drafts.Claim(ctx, actor, models.DraftStockUpdate, draftID)
	if err != nil {
		return Result{}, err
	}
	telemetry.DraftsClaimed.Inc()

	var p models.StockDraftPayload
	if err := json.Unmarshal(d.Payload, &p); err != nil {
		return Result{}, fmt.Errorf("unmarshal stock payload: %w", err)
	}

	product, err := o.gateway.GetProduct(ctx, p.ProductID)
	if err != nil {
		return Result{}, err
	}
	if product.StockQty != p.PrevQty {
		telemetry.ConfirmConflicts.Inc()
		return Result{}, &models.ConflictError{OrderIDs: []int64{p.ProductID}}
	}

	if err := o.gateway.SetStock(ctx, p.ProductID, p.NewQty); err != nil {
		return Result{}, err
	}
	return Result{ProductID: p.ProductID, Detail: fmt.Sprintf("stock set to %d", p.NewQty)}, nil
}
