package model

import (
	"errors"
	"fmt"
	"time"
)

// Error is a structured error carrying a machine-readable code plus enough
// state for the caller to retry deliberately. Conflicts are never retried
// by the core; the caller decides between rebase-and-retry and abort.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Entity and ID identify the affected record ("session", "machine").
	Entity string
	ID     string

	// CurrentVersion/CurrentValue carry the stored state on a version
	// conflict so the caller can rebase without a second read.
	CurrentVersion int64
	CurrentValue   Doc

	// CurrentTimestamp carries the stored guard timestamp on a todos
	// conflict.
	CurrentTimestamp time.Time
}

// ErrorCode categorizes errors per the synchronization contract.
type ErrorCode string

const (
	// ErrCodeConflict indicates a stale version/timestamp guard, or a
	// resume attempt that failed to attach within its deadline.
	ErrCodeConflict ErrorCode = "CONFLICT"

	// ErrCodeNotFound indicates the target entity does not exist.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeNamespaceMismatch indicates an attempt to re-register an
	// existing machine id under a different namespace. This is a fatal
	// consistency violation, never a silent overwrite.
	ErrCodeNamespaceMismatch ErrorCode = "NAMESPACE_MISMATCH"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Entity != "" && e.ID != "" {
		return fmt.Sprintf("%s: %s (%s=%s)", e.Code, e.Message, e.Entity, e.ID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsConflict reports whether err is a conflict-class error.
// Uses errors.As to handle wrapped errors.
func IsConflict(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == ErrCodeConflict || me.Code == ErrCodeNamespaceMismatch
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var me *Error
	if errors.As(err, &me) {
		return me.Code == ErrCodeNotFound
	}
	return false
}

// NewNotFound creates a NOT_FOUND error for an entity.
func NewNotFound(entity, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: entity + " does not exist",
		Entity:  entity,
		ID:      id,
	}
}

// NewVersionConflict creates a CONFLICT error carrying the stored
// value/version for caller-side rebase.
func NewVersionConflict(entity, id string, current int64, value Doc) *Error {
	return &Error{
		Code:           ErrCodeConflict,
		Message:        fmt.Sprintf("stale version guard (current=%d)", current),
		Entity:         entity,
		ID:             id,
		CurrentVersion: current,
		CurrentValue:   value,
	}
}

// NewTimestampConflict creates a CONFLICT error for a stale last-writer-wins
// timestamp guard.
func NewTimestampConflict(entity, id string, stored time.Time) *Error {
	return &Error{
		Code:             ErrCodeConflict,
		Message:          "stale timestamp guard",
		Entity:           entity,
		ID:               id,
		CurrentTimestamp: stored,
	}
}

// NewNamespaceMismatch creates the fatal error for a machine re-registered
// under a different namespace.
func NewNamespaceMismatch(id, have, want string) *Error {
	return &Error{
		Code:    ErrCodeNamespaceMismatch,
		Message: fmt.Sprintf("machine registered in namespace %q, refusing re-register under %q", have, want),
		Entity:  "machine",
		ID:      id,
	}
}
