package notify

import "context"

// HealthState is the result of a cheap, side-effect-free liveness probe.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// Health describes one adapter's current ability to deliver.
type Health struct {
	State  HealthState `json:"state"`
	Detail string      `json:"detail,omitempty"`
}

// Healthy reports whether the adapter can be handed traffic.
func (h Health) Healthy() bool { return h.State == HealthHealthy }

// Adapter is the capability set every platform integration implements.
// Constructors validate their typed config and fail fast; an Adapter that
// exists is one whose credentials parsed and whose connection pool is up.
//
// Send performs exactly one network round trip and never retries internally;
// retry policy is centralized in the dispatcher. Concurrent Send calls share
// the adapter's single connection pool and are individually goroutine-safe.
type Adapter interface {
	// Name is the registry key ("fcm", "apns", "wns", "webpush", "mqtt").
	Name() string

	// Platform is the delivery platform this adapter serves.
	Platform() Platform

	// Send encodes the payload into the protocol's native wire format and
	// delivers it to one device. SDK errors are converted to *Error at this
	// boundary; no native error type escapes.
	Send(ctx context.Context, target DeviceTarget, payload *Payload) (messageID string, err error)

	// SendTopic delivers to a native broadcast group. Adapters without
	// native topic support return ErrTopicUnsupported and the dispatcher
	// falls back to per-device iteration.
	SendTopic(ctx context.Context, topic string, payload *Payload) (messageID string, err error)

	// HealthCheck is used by the provider registry for fallback resolution.
	HealthCheck(ctx context.Context) Health
}

// DeviceRegistry is the external device/site registry, consumed read-only
// except for the single outbound mutation InvalidateToken.
type DeviceRegistry interface {
	// ResolvePage returns one page of targets matching the criteria, in
	// stable order (creation time descending), so repeated pagination on a
	// static snapshot is deterministic. An empty cursor starts from the top.
	ResolvePage(ctx context.Context, criteria Criteria, pageSize int, cursor string) (Page, error)

	// InvalidateToken marks a device credential permanently dead. The
	// registry guarantees idempotency; callers do not deduplicate.
	InvalidateToken(ctx context.Context, deviceID string) error
}

// OutcomeStore persists job outcomes. SaveJobOutcome is called exactly once
// per job, at finalization.
type OutcomeStore interface {
	SaveJobOutcome(ctx context.Context, outcome *JobOutcome) error
	// GetJobOutcome returns ErrJobNotFound for unknown ids.
	GetJobOutcome(ctx context.Context, jobID string) (*JobOutcome, error)
}

// ResultAppender receives the per-device audit trail. It is append-only and
// best-effort: outcome correctness never depends on it.
type ResultAppender interface {
	AppendResult(ctx context.Context, jobID string, result Result) error
}
