package notify

import "time"

// JobStatus is the orchestrator's state machine. All states other than
// StatusPending and StatusRunning are terminal and absorbing.
type JobStatus string

const (
	StatusPending   JobStatus = "pending"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether s is an absorbing state.
func (s JobStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusPartial, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// PlatformCount is one row of the per-platform breakdown.
type PlatformCount struct {
	Sent   int `json:"sent" firestore:"sent"`
	Failed int `json:"failed" firestore:"failed"`
}

// JobOutcome is the auditable record of one dispatch job. For every terminal
// status except cancelled, SuccessCount+FailureCount == RequestedCount; a
// cancelled job may leave devices unattempted.
type JobOutcome struct {
	JobID   string `json:"job_id" firestore:"job_id"`
	JobType string `json:"job_type" firestore:"job_type"`

	RequestedCount int `json:"requested_count" firestore:"requested_count"`
	SuccessCount   int `json:"success_count" firestore:"success_count"`
	FailureCount   int `json:"failure_count" firestore:"failure_count"`
	RetriedCount   int `json:"retried_count" firestore:"retried_count"`

	Status JobStatus `json:"status" firestore:"status"`

	// Error carries the fatal cause when Status is failed for a
	// configuration-level reason (auth failure, no provider available).
	Error string `json:"error,omitempty" firestore:"error,omitempty"`

	StartedAt  time.Time `json:"started_at" firestore:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitempty" firestore:"finished_at,omitempty"`

	PerPlatform map[Platform]PlatformCount `json:"per_platform_breakdown,omitempty" firestore:"per_platform_breakdown,omitempty"`
}

// Clone returns a deep copy so callers can hand the outcome across goroutine
// boundaries without racing the aggregator.
func (o *JobOutcome) Clone() *JobOutcome {
	cp := *o
	if o.PerPlatform != nil {
		cp.PerPlatform = make(map[Platform]PlatformCount, len(o.PerPlatform))
		for k, v := range o.PerPlatform {
			cp.PerPlatform[k] = v
		}
	}
	return &cp
}
