package domain

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind classifies an error for retry/continue decisions. The
// orchestrator is the only consumer of the kind; components producing a
// Failure never retry on their own.
type FailureKind int

const (
	// KindInternal is an unexpected failure with no retry policy.
	KindInternal FailureKind = iota
	// KindConfig is a missing or malformed prerequisite. Never retried.
	KindConfig
	// KindTransient is a network/timeout style fault worth one retry.
	KindTransient
	// KindResource is a disk/permission fault. The underlying cause is
	// surfaced to the caller instead of a generic failure message.
	KindResource
	// KindCancelled is user cancellation. Never retried, never reported
	// as an error condition.
	KindCancelled
)

// String returns the lowercase kind name for logs.
func (k FailureKind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindResource:
		return "resource"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// FailureCode identifies the specific failure produced at the point of
// origin, replacing string matching on error text.
type FailureCode string

const (
	CodeEngineMissing         FailureCode = "engine_missing"
	CodeModelMissing          FailureCode = "model_missing"
	CodeEngineCrashed         FailureCode = "engine_crashed"
	CodeRuntimeDepMissing     FailureCode = "runtime_dep_missing"
	CodeConversionUnavailable FailureCode = "conversion_unavailable"
	CodeConversionFailed      FailureCode = "conversion_failed"
	CodeEmptyTranscript       FailureCode = "empty_transcript"
	CodeInputMissing          FailureCode = "input_missing"
	CodeCredentialMissing     FailureCode = "credential_missing"
	CodeCredentialInvalid     FailureCode = "credential_invalid"
	CodeUnauthorized          FailureCode = "unauthorized"
	CodeRateLimited           FailureCode = "rate_limited"
	CodePayloadTooLarge       FailureCode = "payload_too_large"
	CodeRemoteError           FailureCode = "remote_error"
	CodeMalformedResponse     FailureCode = "malformed_response"
	CodeUnknownAsset          FailureCode = "unknown_asset"
	CodeAlreadyInProgress     FailureCode = "already_in_progress"
	CodeHostUnreachable       FailureCode = "host_unreachable"
	CodeServerError           FailureCode = "server_error"
	CodeTooManyRedirects      FailureCode = "too_many_redirects"
	CodeConnectionTimeout     FailureCode = "connection_timeout"
	CodeStalledTransfer       FailureCode = "stalled_transfer"
	CodeInstallFailed         FailureCode = "install_failed"
	CodeSaveFailed            FailureCode = "save_failed"
	CodeCancelled             FailureCode = "cancelled"
)

// Failure is the typed error every component raises. It carries enough
// structure (kind + code + human detail) for the orchestrator to
// classify it without re-deriving anything from error text.
type Failure struct {
	Code    FailureCode
	Kind    FailureKind
	Message string
	Hint    string
	Err     error
}

// Error formats the failure for logs.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("[%s] %s", f.Code, f.Message)
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (f *Failure) Unwrap() error {
	return f.Err
}

// NewFailure builds a Failure with an optional wrapped cause.
func NewFailure(code FailureCode, kind FailureKind, message string, err error) *Failure {
	return &Failure{Code: code, Kind: kind, Message: message, Err: err}
}

// WithHint attaches an actionable remediation hint.
func (f *Failure) WithHint(hint string) *Failure {
	f.Hint = hint
	return f
}

// ConfigFailure builds a never-retried configuration failure.
func ConfigFailure(code FailureCode, message, hint string) *Failure {
	return &Failure{Code: code, Kind: KindConfig, Message: message, Hint: hint}
}

// TransientFailure builds a retryable failure wrapping its cause.
func TransientFailure(code FailureCode, message string, err error) *Failure {
	return &Failure{Code: code, Kind: KindTransient, Message: message, Err: err}
}

// CancelledFailure marks user cancellation of an in-flight operation.
func CancelledFailure(message string) *Failure {
	return &Failure{Code: CodeCancelled, Kind: KindCancelled, Message: message, Err: context.Canceled}
}

// KindOf extracts the failure kind from any error. Bare context
// cancellation counts as KindCancelled so classification works even for
// errors surfaced by the standard library.
func KindOf(err error) FailureKind {
	if err == nil {
		return KindInternal
	}
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	return KindInternal
}

// CodeOf extracts the failure code, or empty for untyped errors.
func CodeOf(err error) FailureCode {
	var failure *Failure
	if errors.As(err, &failure) {
		return failure.Code
	}
	return ""
}
