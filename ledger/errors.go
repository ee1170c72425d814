// ABOUTME: Typed errors for ledger sync, store, and remote operations.
// ABOUTME: Enables programmatic error handling with errors.Is() and errors.As().
package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic handling.
var (
	ErrNetworkUnavailable    = errors.New("network unavailable")
	ErrAuthInvalid           = errors.New("authentication invalid")
	ErrResourceMissing       = errors.New("resource missing")
	ErrAccessDenied          = errors.New("access denied")
	ErrRemoteGeneric         = errors.New("remote error")
	ErrLocalStoreUnavailable = errors.New("local store unavailable")
	ErrValidationFailed      = errors.New("validation failed")
	ErrUnauthenticated       = errors.New("no active session")
	ErrInvalidAccessCode     = errors.New("invalid access code")
	ErrNotConfigured         = errors.New("remote not configured")
)

// RemoteError is a classified non-2xx response from the backend.
type RemoteError struct {
	Op      string // "get", "post", "patch", "delete"
	Path    string
	Status  int
	Message string // server diagnostic, or the status text
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Op, e.Path, e.Status, e.Message)
}

// Kind returns the sentinel this status maps to.
func (e *RemoteError) Kind() error {
	switch e.Status {
	case 401:
		return ErrAuthInvalid
	case 403:
		return ErrAccessDenied
	case 404:
		return ErrResourceMissing
	default:
		return ErrRemoteGeneric
	}
}

func (e *RemoteError) Is(target error) bool {
	return target == e.Kind()
}

// StoreError wraps a local SQLite failure.
type StoreError struct {
	Op    string
	Cause error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("local store %s: %v", e.Op, e.Cause)
}

func (e *StoreError) Unwrap() error { return e.Cause }

func (e *StoreError) Is(target error) bool {
	return target == ErrLocalStoreUnavailable
}

// ValidationError lists the problems found in a malformed intent or row.
type ValidationError struct {
	Collection Collection
	Problems   []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Collection, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidationFailed
}

func validationErr(c Collection, problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return &ValidationError{Collection: c, Problems: problems}
}

// SyncError wraps errors with operation context after retries.
type SyncError struct {
	Op      string // "write", "refresh"
	Err     error  // underlying typed error
	Retries int    // attempts made
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Retries, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Cause: err}
}
