package action

import (
	"context"
	"encoding/json"
	"strings"

	"storeops/internal/models"
	"storeops/internal/orders"
)

// tagExecutor merges new tags into an order's existing set. The merge is an
// idempotent union; re-applying the same tags is a no-op mutation.
type tagExecutor struct {
	gateway orders.Gateway
}

func (e *tagExecutor) Kind() string { return models.ActionAddTag }

func (e *tagExecutor) ValidateParams(raw json.RawMessage) error {
	var p models.TagParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	if len(p.Tags) == 0 {
		return models.Validationf("add_tag requires at least one tag")
	}
	for _, tag := range p.Tags {
		if strings.TrimSpace(tag) == "" {
			return models.Validationf("add_tag: empty tag")
		}
	}
	return nil
}

func (e *tagExecutor) Apply(ctx context.Context, _ models.Actor, order models.Order, raw json.RawMessage) (models.PriorState, error) {
	var p models.TagParams
	if err := decodeParams(raw, &p); err != nil {
		return models.PriorState{}, err
	}

	prior := models.PriorState{
		Tags:    append([]string(nil), order.Tags...),
		HadTags: true,
	}

	merged := append([]string(nil), order.Tags...)
	existing := make(map[string]bool, len(merged))
	for _, tag := range merged {
		existing[tag] = true
	}
	for _, tag := range p.Tags {
		tag = strings.TrimSpace(tag)
		if !existing[tag] {
			existing[tag] = true
			merged = append(merged, tag)
		}
	}

	if err := e.gateway.SetTags(ctx, order.ID, merged); err != nil {
		return models.PriorState{}, err
	}
	return prior, nil
}

// Rollback replaces the tag set with the pre-merge snapshot.
func (e *tagExecutor) Rollback(ctx context.Context, orderID int64, prior models.PriorState) error {
	if !prior.HadTags {
		return models.ErrRollbackUnsupported
	}
	return e.gateway.SetTags(ctx, orderID, prior.Tags)
}
