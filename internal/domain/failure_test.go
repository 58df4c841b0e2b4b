package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

// TestKindOfTypedFailure verifies classification survives wrapping.
func TestKindOfTypedFailure(t *testing.T) {
	base := TransientFailure(CodeStalledTransfer, "no bytes for 30s", nil)
	wrapped := fmt.Errorf("download model base: %w", base)

	if got := KindOf(wrapped); got != KindTransient {
		t.Fatalf("KindOf = %s, want transient", got)
	}
	if got := CodeOf(wrapped); got != CodeStalledTransfer {
		t.Fatalf("CodeOf = %s, want %s", got, CodeStalledTransfer)
	}
}

// TestKindOfContextCancellation covers stdlib cancellation errors.
func TestKindOfContextCancellation(t *testing.T) {
	err := fmt.Errorf("request aborted: %w", context.Canceled)
	if got := KindOf(err); got != KindCancelled {
		t.Fatalf("KindOf = %s, want cancelled", got)
	}
}

// TestKindOfUntypedError defaults to internal, never retried.
func TestKindOfUntypedError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != KindInternal {
		t.Fatalf("KindOf = %s, want internal", got)
	}
	if got := CodeOf(errors.New("boom")); got != "" {
		t.Fatalf("CodeOf = %q, want empty", got)
	}
}

// TestFailureUnwrap checks errors.Is through the failure chain.
func TestFailureUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	failure := NewFailure(CodeRemoteError, KindTransient, "upload failed", cause)
	if !errors.Is(failure, cause) {
		t.Fatal("expected errors.Is to find wrapped cause")
	}
}
