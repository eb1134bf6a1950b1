package model

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error by how callers should react to it: reject the
// input, retry with backoff, shed load, or surface an internal fault.
type Kind string

const (
	// KindInvalidInput marks caller errors: empty queries, malformed ids,
	// out-of-range parameters. Never retried.
	KindInvalidInput Kind = "invalid_input"

	// KindSchema marks incident records that fail field validation at
	// ingest. The record is quarantined; the batch continues.
	KindSchema Kind = "schema"

	// KindRateLimited marks local admission rejections and provider 429s.
	// Retryable with backoff.
	KindRateLimited Kind = "rate_limited"

	// KindQuotaExhausted marks provider quota exhaustion. Not retryable
	// within a request; the pipeline degrades or refuses instead.
	KindQuotaExhausted Kind = "quota_exhausted"

	// KindTransient marks timeouts and temporary upstream failures.
	// Retryable with backoff.
	KindTransient Kind = "transient"

	// KindUnavailable marks a dependency that is down or unreachable after
	// retries were exhausted.
	KindUnavailable Kind = "unavailable"

	// KindNotFound marks lookups of ids that are not live in the corpus.
	KindNotFound Kind = "not_found"

	// KindInternal marks bugs and unclassified failures.
	KindInternal Kind = "internal"
)

// Error is the pipeline error type. Kind drives retry and HTTP mapping,
// Message is safe to surface to callers, Err carries the upstream cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an Error with no upstream cause.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf builds an Error with a formatted message and no upstream cause.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an upstream cause.
func WrapError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the Kind from an error chain. Context cancellation and
// deadline expiry classify as transient; anything unclassified is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return KindTransient
	}
	return KindInternal
}

// IsRetryable reports whether an error is worth retrying with backoff.
// Only rate limits and transient faults qualify; quota exhaustion would
// burn the remaining budget and input errors never heal.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindTransient:
		return true
	default:
		return false
	}
}

// ProviderErrorKind classifies an error returned by a generative or
// embedding provider. The SDK does not expose a stable typed error, so
// classification matches the status markers the API embeds in the error
// text. Quota is checked before 429 because quota responses also carry
// that status but must not be retried.
func ProviderErrorKind(err error) Kind {
	if err == nil {
		return ""
	}
	if k := KindOf(err); k != KindInternal {
		return k
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "quota") || strings.Contains(msg, "resource_exhausted") || strings.Contains(msg, "resource exhausted"):
		return KindQuotaExhausted
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests"):
		return KindRateLimited
	case strings.Contains(msg, "400") || strings.Contains(msg, "invalid argument") || strings.Contains(msg, "invalid_argument"):
		return KindInvalidInput
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") ||
		strings.Contains(msg, "unavailable") || strings.Contains(msg, "connection") ||
		strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503"):
		return KindTransient
	default:
		return KindUnavailable
	}
}
