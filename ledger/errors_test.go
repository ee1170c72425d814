// ABOUTME: Tests for typed ledger errors.
// ABOUTME: Verifies status classification, wrapping, and Is() matching.
package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrNetworkUnavailable,
		ErrAuthInvalid,
		ErrResourceMissing,
		ErrAccessDenied,
		ErrRemoteGeneric,
		ErrLocalStoreUnavailable,
		ErrValidationFailed,
		ErrUnauthenticated,
		ErrInvalidAccessCode,
		ErrNotConfigured,
	}

	for i, a := range sentinels {
		for j, b := range sentinels {
			if i != j && errors.Is(a, b) {
				t.Errorf("sentinel errors should be distinct: %v matches %v", a, b)
			}
		}
	}
}

func TestRemoteError_Kind(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{401, ErrAuthInvalid},
		{403, ErrAccessDenied},
		{404, ErrResourceMissing},
		{400, ErrRemoteGeneric},
		{409, ErrRemoteGeneric},
		{500, ErrRemoteGeneric},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("wrapped: %w", &RemoteError{Op: "get", Path: "/records", Status: tt.status})
			if !errors.Is(err, tt.want) {
				t.Errorf("status %d should match %v", tt.status, tt.want)
			}
			if tt.want != ErrRemoteGeneric && errors.Is(err, ErrRemoteGeneric) {
				t.Errorf("status %d should not match the generic kind", tt.status)
			}
		})
	}
}

func TestRemoteError_Error(t *testing.T) {
	err := &RemoteError{Op: "patch", Path: "/vehicles", Status: 403, Message: "permission denied"}
	want := "patch /vehicles: status 403: permission denied"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestStoreError(t *testing.T) {
	err := storeErr("put records", sql.ErrConnDone)

	if !errors.Is(err, ErrLocalStoreUnavailable) {
		t.Error("store errors should match ErrLocalStoreUnavailable")
	}
	if !errors.Is(err, sql.ErrConnDone) {
		t.Error("store errors should unwrap to the cause")
	}
	if storeErr("noop", nil) != nil {
		t.Error("storeErr(nil) should be nil")
	}
}

func TestValidationError(t *testing.T) {
	if validationErr(CollectionRecords, nil) != nil {
		t.Error("no problems should yield nil")
	}
	err := validationErr(CollectionRecords, []string{"date is required", "vehicle id is required"})
	if !errors.Is(err, ErrValidationFailed) {
		t.Error("should match ErrValidationFailed")
	}
	want := "invalid records: date is required; vehicle id is required"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	err := &SyncError{Op: "write", Err: &RemoteError{Status: 401}, Retries: 1}

	if !errors.Is(err, ErrAuthInvalid) {
		t.Error("errors.Is should see through SyncError to the remote kind")
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		t.Error("errors.Is should not match ErrNetworkUnavailable")
	}
	var re *RemoteError
	if !errors.As(err, &re) || re.Status != 401 {
		t.Errorf("errors.As should find the RemoteError, got %v", re)
	}
}
