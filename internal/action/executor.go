package action

import (
	"context"
	"encoding/json"
	"fmt"

	"storeops/internal/models"
	"storeops/internal/orders"
)

// Executor applies one bulk action kind to a single order and knows how to
// reverse it. Implementations validate their own raw params at the boundary.
type Executor interface {
	Kind() string
	// ValidateParams rejects bad params before any draft is created.
	ValidateParams(raw json.RawMessage) error
	// Apply mutates one order and returns the prior state needed to
	// reverse exactly that mutation.
	Apply(ctx context.Context, actor models.Actor, order models.Order, raw json.RawMessage) (models.PriorState, error)
	// Rollback reverses a previously applied mutation from its prior
	// state snapshot.
	Rollback(ctx context.Context, orderID int64, prior models.PriorState) error
}

// ArtifactProducer is implemented by executors that accumulate an output
// artifact across a batch (export). Finish is called once after the last
// item.
type ArtifactProducer interface {
	Finish(ctx context.Context, jobID string) (string, error)
}

// Registry builds job-scoped executor instances. Export executors carry
// per-job row state, so every job gets a fresh instance.
type Registry struct {
	gateway  orders.Gateway
	uploader Uploader
}

// NewRegistry wires executors to the order gateway and export uploader.
func NewRegistry(gateway orders.Gateway, uploader Uploader) *Registry {
	return &Registry{gateway: gateway, uploader: uploader}
}

// New returns a fresh executor for the action kind.
func (r *Registry) New(kind string) (Executor, error) {
	switch kind {
	case models.ActionUpdateStatus:
		return &statusExecutor{gateway: r.gateway}, nil
	case models.ActionAddTag:
		return &tagExecutor{gateway: r.gateway}, nil
	case models.ActionAddNote:
		return &noteExecutor{gateway: r.gateway}, nil
	case models.ActionExportCSV:
		return newExportExecutor(r.uploader), nil
	default:
		return nil, models.Validationf("unknown action %q", kind)
	}
}

// ValidateParams validates raw params for the action kind without building a
// job-scoped instance for the caller to keep.
func (r *Registry) ValidateParams(kind string, raw json.RawMessage) error {
	ex, err := r.New(kind)
	if err != nil {
		return err
	}
	return ex.ValidateParams(raw)
}

func decodeParams(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return models.Validationf("invalid action params: %v", err)
	}
	return nil
}

// Preview renders the one-line human summary shown before confirmation.
func Preview(kind string, count int, raw json.RawMessage) string {
	switch kind {
	case models.ActionUpdateStatus:
		var p models.StatusParams
		_ = decodeParams(raw, &p)
		return fmt.Sprintf("Set %d order(s) to %q", count, p.Status)
	case models.ActionAddTag:
		var p models.TagParams
		_ = decodeParams(raw, &p)
		return fmt.Sprintf("Add tags %v to %d order(s)", p.Tags, count)
	case models.ActionAddNote:
		return fmt.Sprintf("Add a note to %d order(s)", count)
	case models.ActionExportCSV:
		return fmt.Sprintf("Export %d order(s) to CSV", count)
	default:
		return fmt.Sprintf("%s on %d order(s)", kind, count)
	}
}
