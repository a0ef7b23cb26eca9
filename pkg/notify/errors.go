package notify

import (
	"errors"
	"time"
)

// ErrorKind is the unified taxonomy every adapter-native error is mapped
// into. No SDK error type crosses an adapter boundary in native form.
type ErrorKind string

const (
	// KindBadRequest: the platform rejected the request as malformed.
	// Not retryable; a per-notification failure only.
	KindBadRequest ErrorKind = "bad_request"

	// KindAuthFailed: credentials were rejected. A configuration-level
	// problem; the whole job is aborted rather than burning through a fleet.
	KindAuthFailed ErrorKind = "auth_failed"

	// KindUnregistered: the device credential is permanently dead. The
	// orchestrator issues an InvalidateToken call to the device registry.
	KindUnregistered ErrorKind = "unregistered"

	// KindPayloadTooLarge: the payload exceeds the size limit. Caught before
	// any network call by Payload.Validate.
	KindPayloadTooLarge ErrorKind = "payload_too_large"

	// KindRateLimited: the platform asked us to slow down. Retryable,
	// honoring RetryAfter when the platform supplied one.
	KindRateLimited ErrorKind = "rate_limited"

	// KindServerError: transient platform-side failure. Retryable.
	KindServerError ErrorKind = "server_error"

	// KindNetworkTimeout: the per-call deadline elapsed. Retryable.
	KindNetworkTimeout ErrorKind = "network_timeout"

	// KindUnknown: anything unclassifiable. Not retryable, flagged for
	// manual review.
	KindUnknown ErrorKind = "unknown"
)

// ErrTopicUnsupported is returned by SendTopic on adapters whose protocol has
// no native broadcast group; the dispatcher falls back to per-device sends.
var ErrTopicUnsupported = errors.New("adapter does not support topic sends")

// ErrJobNotFound is returned by outcome stores for unknown job ids.
var ErrJobNotFound = errors.New("job not found")

// Error is the single typed error adapters emit. The native cause stays
// wrapped for logging but is never inspected above the adapter boundary.
type Error struct {
	Kind   ErrorKind
	Detail string

	// RetryAfter is the platform-requested delay for KindRateLimited, when
	// the protocol exposes one. Zero means use backoff.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return string(e.Kind) + ": " + e.Detail
	}
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds a taxonomy error wrapping the native cause.
func NewError(kind ErrorKind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: cause}
}
