package notify

import "time"

// Result records the outcome of exactly one adapter call for one device.
// It is created once and never mutated; a retried send produces a fresh
// Result with an incremented Attempt.
type Result struct {
	DeviceID string   `json:"device_id" firestore:"device_id"`
	Platform Platform `json:"platform" firestore:"platform"`
	Success  bool     `json:"success" firestore:"success"`

	MessageID string `json:"message_id,omitempty" firestore:"message_id,omitempty"`

	// ErrorKind is present iff Success is false.
	ErrorKind   ErrorKind `json:"error_kind,omitempty" firestore:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty" firestore:"error_detail,omitempty"`

	// RetryAfter is the platform-requested delay for rate-limited failures.
	RetryAfter time.Duration `json:"retry_after,omitempty" firestore:"retry_after,omitempty"`

	// Attempt is 1-based.
	Attempt int `json:"attempt" firestore:"attempt"`
}
