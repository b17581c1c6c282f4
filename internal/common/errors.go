// Package common defines the error taxonomy shared by every gophzip layer.
// Callers should match errors with errors.Is against the sentinels or
// errors.As against the typed errors.
package common

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks bad caller input. No state was mutated.
	ErrValidation = errors.New("validation error")
	// ErrConflict marks a lost compare-and-swap or an already claimed file.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned for unknown ids.
	ErrNotFound = errors.New("not found")
	// ErrPrecondition marks an operation attempted in the wrong state.
	ErrPrecondition = errors.New("precondition failed")
	// ErrTransient marks a metadata or blob store failure worth retrying.
	ErrTransient = errors.New("transient store error")
	// ErrCompression marks a deterministic compression failure. Never retried.
	ErrCompression = errors.New("compression error")
	// ErrJobFailed is returned when a compression job ended in Failed.
	ErrJobFailed = errors.New("job failed")
	// ErrLeaseHeld is returned when another worker owns the archive job.
	ErrLeaseHeld = errors.New("lease held by another owner")
)

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ConflictError names the record whose compare-and-swap failed.
type ConflictError struct {
	Kind   string
	ID     string
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// NewConflictError builds a ConflictError.
func NewConflictError(kind, id, reason string) error {
	return &ConflictError{Kind: kind, ID: id, Reason: reason}
}

// InvalidTransitionError is returned when a transition's source state does
// not match the record's current state. It is a ConflictError.
type InvalidTransitionError struct {
	Kind     string
	ID       string
	Expected string
	Actual   string
	Target   string
}

func (e *InvalidTransitionError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("invalid %s transition %s -> %s: current state is %s", e.Kind, e.Expected, e.Target, e.Actual)
	}
	return fmt.Sprintf("invalid %s %s transition %s -> %s: current state is %s", e.Kind, e.ID, e.Expected, e.Target, e.Actual)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrConflict }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError builds a NotFoundError.
func NewNotFoundError(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// PreconditionError is returned when a gated action is attempted before the
// record reached the required state.
type PreconditionError struct {
	Kind     string
	ID       string
	Required string
	Actual   string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s %s is %s, must be %s", e.Kind, e.ID, e.Actual, e.Required)
}

func (e *PreconditionError) Unwrap() error { return ErrPrecondition }

// TransientStoreError wraps an infrastructure failure that may succeed on retry.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() []error { return []error{ErrTransient, e.Err} }

// Transient wraps err as a TransientStoreError. A nil err stays nil.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientStoreError{Op: op, Err: err}
}

// CompressionError wraps a failure of the compression engine.
type CompressionError struct {
	Err error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("compression failed: %v", e.Err)
}

func (e *CompressionError) Unwrap() []error { return []error{ErrCompression, e.Err} }

// Compression wraps err as a CompressionError. A nil err stays nil.
func Compression(err error) error {
	if err == nil {
		return nil
	}
	var ce *CompressionError
	if errors.As(err, &ce) {
		return err
	}
	return &CompressionError{Err: err}
}

// JobFailedError is returned by a job that recorded a terminal failure.
type JobFailedError struct {
	ArchiveID string
	Err       error
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("archive %s job failed: %v", e.ArchiveID, e.Err)
}

func (e *JobFailedError) Unwrap() []error { return []error{ErrJobFailed, e.Err} }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
