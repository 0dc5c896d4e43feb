package core

import "fmt"

// ValidationError reports malformed or out-of-range input, tied to the
// offending field. Never retried automatically.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ConflictError reports an operation blocked by existing state, such as
// deleting a category that expenses still reference.
type ConflictError struct {
	Resource string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s conflict: %s", e.Resource, e.Reason)
}

// NotFoundError reports an operation targeting a nonexistent id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// ExternalServiceError wraps a failed aggregator or provider call.
// Transient failures (network, timeout) are safe to retry; permanent ones
// (bad or revoked credential) are not.
type ExternalServiceError struct {
	Op        string
	Transient bool
	Err       error
}

func (e *ExternalServiceError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s provider error: %v", e.Op, kind, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// PersistenceError reports a snapshot that failed to load or save. After a
// failed save the in-memory state still holds the mutation; the caller is
// told the change may not survive a restart.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
