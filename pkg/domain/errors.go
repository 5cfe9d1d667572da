package domain

import (
	"errors"
	"fmt"
)

// NotFoundError is returned when a referenced record is absent.
type NotFoundError struct {
	Kind EntityType
	ID   string
}

func (e NotFoundError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("record %s not found", e.ID)
	}
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// LoadError reports that a record could not be read, either because the
// store was unreachable or because the stored record is malformed.
type LoadError struct {
	ID  string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load record %s: %v", e.ID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// RecordLoadError reports a failure to fetch a linked record of a given kind.
type RecordLoadError struct {
	ID   string
	Kind EntityType
	Err  error
}

func (e *RecordLoadError) Error() string {
	return fmt.Sprintf("failed to load linked %s %s: %v", e.Kind, e.ID, e.Err)
}

func (e *RecordLoadError) Unwrap() error { return e.Err }

// ConflictError is returned by RecordStore.Write when the expected version
// token no longer matches the stored record.
type ConflictError struct {
	ID       string
	Expected string
	Actual   string
}

func (e *ConflictError) Error() string {
	if e.Expected == "" {
		return fmt.Sprintf("record %s already exists (version %s)", e.ID, e.Actual)
	}
	return fmt.Sprintf("version conflict on record %s: expected %s, found %s", e.ID, e.Expected, e.Actual)
}

// InvalidTransitionError is returned when a status change falls outside the
// transition graph.
type InvalidTransitionError struct {
	From      Status
	To        Status
	Submitted bool
	Reason    string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition from %s to %s (submitted=%t): %s", e.From, e.To, e.Submitted, e.Reason)
}

// StatusChangeError attaches the submission identity to a rejected status change.
type StatusChangeError struct {
	SubmissionID string
	From         Status
	To           Status
	Err          error
}

func (e *StatusChangeError) Error() string {
	return fmt.Sprintf("cannot change status from %s to %s on submission %s: %v", e.From, e.To, e.SubmissionID, e.Err)
}

func (e *StatusChangeError) Unwrap() error { return e.Err }

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf NotFoundError
	return errors.As(err, &nf)
}

// IsConflict reports whether err wraps a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsInvalidTransition reports whether err wraps an InvalidTransitionError.
func IsInvalidTransition(err error) bool {
	var it *InvalidTransitionError
	return errors.As(err, &it)
}
