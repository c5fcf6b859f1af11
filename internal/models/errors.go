package models

import (
	"errors"
	"fmt"
)

// ErrNotFound covers unresolvable drafts, jobs, progress and rollback ids.
// Expired and already-claimed drafts deliberately read the same as
// never-existed so callers cannot probe for consumed drafts.
var ErrNotFound = errors.New("not found")

// ErrLimitExceeded rejects batches above the hard cap before any state is
// created.
var ErrLimitExceeded = errors.New("batch size exceeds limit")

// ErrRollbackUnsupported marks actions with no rollback semantics.
var ErrRollbackUnsupported = errors.New("rollback not supported for this action")

// ValidationError rejects bad or missing parameters before any state is
// created.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// Validationf builds a ValidationError.
func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// MissingOrdersError aborts draft preparation when any target id does not
// resolve. It always carries the complete missing list.
type MissingOrdersError struct {
	OrderIDs []int64
}

func (e *MissingOrdersError) Error() string {
	return fmt.Sprintf("orders not found: %v", e.OrderIDs)
}

func (e *MissingOrdersError) Unwrap() error { return ErrNotFound }

// ConflictError reports orders whose state changed between drafting and
// confirmation. Distinct from not found so the caller knows to re-draft.
type ConflictError struct {
	OrderIDs []int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("order state changed since draft: %v", e.OrderIDs)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
