package action

import (
	"context"
	"encoding/json"
	"fmt"

	"storeops/internal/models"
	"storeops/internal/orders"
)

// statusExecutor transitions order status. Customer notifications are
// suppressed unless params ask for them; the audit trail is always written.
type statusExecutor struct {
	gateway orders.Gateway
}

func (e *statusExecutor) Kind() string { return models.ActionUpdateStatus }

func (e *statusExecutor) ValidateParams(raw json.RawMessage) error {
	var p models.StatusParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	if p.Status == "" {
		return models.Validationf("update_status requires a target status")
	}
	if !models.ValidOrderStatus(p.Status) {
		return models.Validationf("unknown target status %q", p.Status)
	}
	return nil
}

func (e *statusExecutor) Apply(ctx context.Context, actor models.Actor, order models.Order, raw json.RawMessage) (models.PriorState, error) {
	var p models.StatusParams
	if err := decodeParams(raw, &p); err != nil {
		return models.PriorState{}, err
	}

	prev := order.Status
	if err := e.gateway.UpdateStatus(ctx, order.ID, p.Status); err != nil {
		return models.PriorState{}, err
	}

	// The status change stuck; a lost note is not worth failing the item.
	_, _ = e.gateway.AddNote(ctx, models.OrderNote{
		OrderID: order.ID,
		Author:  actor.ID,
		Note:    fmt.Sprintf("Status changed from %q to %q", prev, p.Status),
	})
	if p.Notify {
		_, _ = e.gateway.AddNote(ctx, models.OrderNote{
			OrderID:         order.ID,
			Author:          actor.ID,
			Note:            fmt.Sprintf("Your order is now %s", p.Status),
			CustomerVisible: true,
		})
	}

	return models.PriorState{Status: &prev}, nil
}

// Rollback re-applies the previous status without re-triggering
// notifications.
func (e *statusExecutor) Rollback(ctx context.Context, orderID int64, prior models.PriorState) error {
	if prior.Status == nil {
		return models.ErrRollbackUnsupported
	}
	return e.gateway.UpdateStatus(ctx, orderID, *prior.Status)
}
