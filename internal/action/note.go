package action

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"storeops/internal/models"
	"storeops/internal/orders"
)

// noteExecutor appends an annotation to each order.
type noteExecutor struct {
	gateway orders.Gateway
}

func (e *noteExecutor) Kind() string { return models.ActionAddNote }

func (e *noteExecutor) ValidateParams(raw json.RawMessage) error {
	var p models.NoteParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	if strings.TrimSpace(p.Note) == "" {
		return models.Validationf("add_note requires note text")
	}
	return nil
}

func (e *noteExecutor) Apply(ctx context.Context, actor models.Actor, order models.Order, raw json.RawMessage) (models.PriorState, error) {
	var p models.NoteParams
	if err := decodeParams(raw, &p); err != nil {
		return models.PriorState{}, err
	}

	id, err := e.gateway.AddNote(ctx, models.OrderNote{
		OrderID:         order.ID,
		Author:          actor.ID,
		Note:            p.Note,
		CustomerVisible: p.CustomerVisible,
	})
	if err != nil {
		return models.PriorState{}, err
	}
	return models.PriorState{NoteID: &id}, nil
}

// Rollback deletes the created annotation. A note that is already gone
// counts as undone, so retried rollbacks stay quiet.
func (e *noteExecutor) Rollback(ctx context.Context, _ int64, prior models.PriorState) error {
	if prior.NoteID == nil {
		return models.ErrRollbackUnsupported
	}
	err := e.gateway.DeleteNote(ctx, *prior.NoteID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	return err
}
