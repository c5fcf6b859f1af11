package models

import (
	"encoding/json"
	"time"
)

// Bulk action kinds.
const (
	ActionUpdateStatus = "update_status"
	ActionAddTag       = "add_tag"
	ActionAddNote      = "add_note"
	ActionExportCSV    = "export_csv"
)

// BulkActions lists every supported bulk action kind.
var BulkActions = []string{ActionUpdateStatus, ActionAddTag, ActionAddNote, ActionExportCSV}

// ValidBulkAction reports whether a is a supported bulk action kind.
func ValidBulkAction(a string) bool {
	for _, known := range BulkActions {
		if a == known {
			return true
		}
	}
	return false
}

// Per-action parameter structs. The raw params attached to a draft or job are
// decoded into exactly one of these at the boundary, never handled as a loose
// map past it.

// StatusParams parameterizes update_status.
type StatusParams struct {
	Status string `json:"status"`
	// Notify re-enables downstream customer notifications, which are
	// suppressed by default for bulk edits.
	Notify bool `json:"notify,omitempty"`
}

// TagParams parameterizes add_tag.
type TagParams struct {
	Tags []string `json:"tags"`
}

// NoteParams parameterizes add_note.
type NoteParams struct {
	Note            string `json:"note"`
	CustomerVisible bool   `json:"customer_visible,omitempty"`
}

// ExportParams parameterizes export_csv. Fields defaults to the full column
// set when empty.
type ExportParams struct {
	Fields []string `json:"fields,omitempty"`
}

// BulkJob is the unit of work spawned by confirming a bulk_action draft.
// Immutable after creation; consumed exactly once by the inline path or by a
// scheduler-driven worker.
type BulkJob struct {
	ID         string          `json:"id"`
	Actor      string          `json:"actor"`
	Action     string          `json:"action"`
	OrderIDs   []int64         `json:"order_ids"`
	Params     json.RawMessage `json:"params,omitempty"`
	ProgressID string          `json:"progress_id"`
	RollbackID string          `json:"rollback_id"`
	DraftID    string          `json:"draft_id"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Progress statuses.
const (
	ProgressQueued    = "queued"
	ProgressRunning   = "running"
	ProgressCompleted = "completed"
)

// ItemError records one per-order failure during batch execution.
type ItemError struct {
	OrderID int64  `json:"order_id"`
	Message string `json:"message"`
}

// Progress is the pollable execution status of a bulk job. Counters are
// monotonic within a job; Errors is bounded, with Truncated set once the cap
// is exceeded (Failed still counts every failure).
type Progress struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	Action      string      `json:"action"`
	OrderCount  int         `json:"order_count"`
	Processed   int         `json:"processed"`
	Updated     int         `json:"updated"`
	Failed      int         `json:"failed"`
	Errors      []ItemError `json:"errors,omitempty"`
	Truncated   bool        `json:"truncated,omitempty"`
	// JobErrors holds failures of the job itself (e.g. artifact upload),
	// as opposed to per-order failures.
	JobErrors   []string    `json:"job_errors,omitempty"`
	Artifact    string      `json:"artifact,omitempty"`
	RollbackID  string      `json:"rollback_id,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	LastUpdated time.Time   `json:"last_updated"`
}

// PriorState is the minimal per-order snapshot an executor needs to reverse
// its own mutation. Exactly the fields for the job's action kind are set.
type PriorState struct {
	Status *string  `json:"status,omitempty"`
	Tags   []string `json:"tags,omitempty"`
	// HadTags distinguishes "previous tag set was empty" from "no tag
	// state captured".
	HadTags bool   `json:"had_tags,omitempty"`
	NoteID  *int64 `json:"note_id,omitempty"`
}

// RollbackRecord holds the prior state captured while a bulk job ran. It is
// read by rollback requests and never mutated afterward, so a partially
// failed rollback can be retried.
type RollbackRecord struct {
	ID        string               `json:"id"`
	Action    string               `json:"action"`
	Orders    map[int64]PriorState `json:"orders"`
	CreatedAt time.Time            `json:"created_at"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Rollback item outcomes.
const (
	RollbackUndone      = "undone"
	RollbackFailed      = "failed"
	RollbackUnsupported = "not_supported"
)

// RollbackItemResult is the per-order outcome of a rollback request.
type RollbackItemResult struct {
	OrderID int64  `json:"order_id"`
	Outcome string `json:"outcome"`
	Message string `json:"message,omitempty"`
}

// RollbackResult aggregates a rollback request.
type RollbackResult struct {
	RollbackID string               `json:"rollback_id"`
	Action     string               `json:"action"`
	Undone     int                  `json:"undone"`
	Failed     int                  `json:"failed"`
	Items      []RollbackItemResult `json:"items"`
}
