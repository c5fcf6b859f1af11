package action

import (
	"context"
	"encoding/json"
	"fmt"

	"storeops/internal/models"
)

// exportExecutor accumulates one CSV row per order. It performs no mutation,
// so it has no rollback semantics; the artifact is produced by Finish once
// the batch completes.
type exportExecutor struct {
	uploader Uploader
	fields   []string
	rows     []models.Order
}

func newExportExecutor(uploader Uploader) *exportExecutor {
	return &exportExecutor{uploader: uploader}
}

func (e *exportExecutor) Kind() string { return models.ActionExportCSV }

func (e *exportExecutor) ValidateParams(raw json.RawMessage) error {
	var p models.ExportParams
	if err := decodeParams(raw, &p); err != nil {
		return err
	}
	for _, f := range p.Fields {
		if !ValidExportField(f) {
			return models.Validationf("unknown export field %q", f)
		}
	}
	return nil
}

func (e *exportExecutor) Apply(_ context.Context, _ models.Actor, order models.Order, raw json.RawMessage) (models.PriorState, error) {
	if e.fields == nil {
		var p models.ExportParams
		if err := decodeParams(raw, &p); err != nil {
			return models.PriorState{}, err
		}
		e.fields = p.Fields
		if len(e.fields) == 0 {
			e.fields = ExportFields
		}
	}
	e.rows = append(e.rows, order)
	return models.PriorState{}, nil
}

func (e *exportExecutor) Rollback(context.Context, int64, models.PriorState) error {
	return models.ErrRollbackUnsupported
}

// Finish writes the accumulated rows and returns the artifact location.
func (e *exportExecutor) Finish(ctx context.Context, jobID string) (string, error) {
	fields := e.fields
	if len(fields) == 0 {
		fields = ExportFields
	}
	data := writeCSV(fields, e.rows)
	key := fmt.Sprintf("exports/%s.csv", jobID)
	location, err := e.uploader.Upload(ctx, key, data, "text/csv; charset=utf-8")
	if err != nil {
		return "", fmt.Errorf("upload export: %w", err)
	}
	return location, nil
}
