package selection

import (
	"context"
	"fmt"
	"sort"

	"storeops/internal/models"
	"storeops/internal/orders"
)

// sampleSize is how many orders the preview shows out of a candidate set.
const sampleSize = 5

// Selection is a bounded candidate set plus a small illustrative sample.
type Selection struct {
	OrderIDs []int64        `json:"order_ids"`
	Total    int            `json:"total"`
	Capped   bool           `json:"capped,omitempty"`
	Sample   []models.Order `json:"sample,omitempty"`
}

// Engine turns criteria into candidate order ids. It is stateless; the
// gateway does the querying.
type Engine struct {
	gateway  orders.Gateway
	batchMax int
}

// New builds a selection engine bounded by the batch maximum.
func New(gateway orders.Gateway, batchMax int) *Engine {
	return &Engine{gateway: gateway, batchMax: batchMax}
}

// Select resolves criteria into a deduplicated, ascending-sorted candidate
// list capped at the batch maximum. An over-full result set is capped, not
// rejected; only an explicit id list above the cap is an error (the bulk
// engine enforces that).
func (e *Engine) Select(ctx context.Context, c models.Criteria) (Selection, error) {
	// Query one past the cap so we can tell "exactly full" from "capped".
	ids, err := e.gateway.Query(ctx, c, e.batchMax+1)
	if err != nil {
		return Selection{}, fmt.Errorf("query orders: %w", err)
	}

	capped := len(ids) > e.batchMax
	if capped {
		ids = ids[:e.batchMax]
	}
	ids = dedupeSorted(ids)

	sel := Selection{OrderIDs: ids, Total: len(ids), Capped: capped}
	if len(ids) == 0 {
		return sel, nil
	}

	n := sampleSize
	if n > len(ids) {
		n = len(ids)
	}
	found, err := e.gateway.FindByIDs(ctx, ids[:n])
	if err != nil {
		return Selection{}, fmt.Errorf("load sample: %w", err)
	}
	for _, id := range ids[:n] {
		if o, ok := found[id]; ok {
			sel.Sample = append(sel.Sample, o)
		}
	}
	return sel, nil
}

func dedupeSorted(ids []int64) []int64 {
	if len(ids) == 0 {
		return ids
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:1]
	for _, id := range ids[1:] {
		if id != out[len(out)-1] {
			out = append(out, id)
		}
	}
	return out
}
