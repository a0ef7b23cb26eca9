// Package sim provides an in-memory adapter that stands in for a real
// platform. It backs the dispatcher and orchestrator tests and serves as the
// fallback provider when real credentials are absent.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// Call records one Send or SendTopic invocation.
type Call struct {
	DeviceID string
	Topic    string
	Payload  *notify.Payload
}

type Adapter struct {
	name     string
	platform notify.Platform

	mu       sync.Mutex
	calls    []Call
	healthy  bool
	topics   bool
	failures map[string][]*notify.Error // per device id, consumed in order
}

// NewAdapter creates a healthy simulation adapter registered under name,
// masquerading as the given platform.
func NewAdapter(name string, platform notify.Platform) *Adapter {
	return &Adapter{
		name:     name,
		platform: platform,
		healthy:  true,
		topics:   true,
		failures: make(map[string][]*notify.Error),
	}
}

func (a *Adapter) Name() string              { return a.name }
func (a *Adapter) Platform() notify.Platform { return a.platform }

func (a *Adapter) Send(_ context.Context, target notify.DeviceTarget, payload *notify.Payload) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls = append(a.calls, Call{DeviceID: target.DeviceID, Payload: payload})

	if queue := a.failures[target.DeviceID]; len(queue) > 0 {
		next := queue[0]
		a.failures[target.DeviceID] = queue[1:]
		return "", next
	}
	return fmt.Sprintf("sim-%s", uuid.NewString()), nil
}

func (a *Adapter) SendTopic(_ context.Context, topic string, payload *notify.Payload) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.topics {
		return "", notify.ErrTopicUnsupported
	}
	a.calls = append(a.calls, Call{Topic: topic, Payload: payload})
	return fmt.Sprintf("sim-%s", uuid.NewString()), nil
}

func (a *Adapter) HealthCheck(_ context.Context) notify.Health {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.healthy {
		return notify.Health{State: notify.HealthUnhealthy, Detail: "simulated outage"}
	}
	return notify.Health{State: notify.HealthHealthy}
}

// SetHealthy flips the simulated health state.
func (a *Adapter) SetHealthy(healthy bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthy = healthy
}

// SetTopicSupport toggles whether SendTopic succeeds or reports unsupported.
func (a *Adapter) SetTopicSupport(supported bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.topics = supported
}

// FailWith queues errors that successive sends to deviceID will return, in
// order. Once the queue drains, sends succeed again.
func (a *Adapter) FailWith(deviceID string, errs ...*notify.Error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures[deviceID] = append(a.failures[deviceID], errs...)
}

// FailAlways makes every send to deviceID return the same error forever.
func (a *Adapter) FailAlways(deviceID string, kind notify.ErrorKind) {
	// A long queue is indistinguishable from forever for bounded retries.
	errs := make([]*notify.Error, 64)
	for i := range errs {
		errs[i] = &notify.Error{Kind: kind, Detail: "simulated failure"}
	}
	a.FailWith(deviceID, errs...)
}

// Calls returns a copy of the recorded invocations.
func (a *Adapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Call, len(a.calls))
	copy(out, a.calls)
	return out
}

// CallsFor counts recorded sends for one device.
func (a *Adapter) CallsFor(deviceID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if c.DeviceID == deviceID {
			n++
		}
	}
	return n
}

// Reset clears recorded calls and queued failures.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = nil
	a.failures = make(map[string][]*notify.Error)
}
