// Package platform holds support code shared by the concrete adapters.
package platform

import (
	"fmt"
	"sync/atomic"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// HealthTracker derives a liveness signal from recent send outcomes for
// protocols that offer no cheap server-side ping (FCM, APNs, WNS, Web Push).
// It reports unhealthy once a streak of consecutive transport failures
// reaches the threshold; any success resets the streak.
type HealthTracker struct {
	threshold int64
	streak    atomic.Int64
}

// NewHealthTracker creates a tracker; a threshold <= 0 defaults to 3.
func NewHealthTracker(threshold int) *HealthTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &HealthTracker{threshold: int64(threshold)}
}

func (t *HealthTracker) RecordSuccess() { t.streak.Store(0) }

func (t *HealthTracker) RecordFailure() { t.streak.Add(1) }

// Health is safe for concurrent use and has no side effects.
func (t *HealthTracker) Health() notify.Health {
	if streak := t.streak.Load(); streak >= t.threshold {
		return notify.Health{
			State:  notify.HealthUnhealthy,
			Detail: fmt.Sprintf("%d consecutive transport failures", streak),
		}
	}
	return notify.Health{State: notify.HealthHealthy}
}
