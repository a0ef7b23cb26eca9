// Package registry holds the set of platform adapters and resolves which one
// serves a send, including ordered fallback across providers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// ErrNoProviderAvailable is returned when no adapter in a fallback chain
// reports healthy. It is a configuration-level failure: the orchestrator
// aborts the job rather than failing every device identically.
var ErrNoProviderAvailable = errors.New("no provider available")

// Registry is built once at startup and injected; there is no global state.
// Registration happens before the registry is shared, so reads need no lock.
type Registry struct {
	byName     map[string]notify.Adapter
	byPlatform map[notify.Platform]notify.Adapter
	logger     *slog.Logger
}

func New(logger *slog.Logger) *Registry {
	return &Registry{
		byName:     make(map[string]notify.Adapter),
		byPlatform: make(map[notify.Platform]notify.Adapter),
		logger:     logger.With("component", "ProviderRegistry"),
	}
}

// Register adds an adapter under its name. The first adapter registered for
// a platform becomes that platform's default; later ones (e.g. a simulation
// stand-in) remain reachable by name for preference overrides.
func (r *Registry) Register(a notify.Adapter) error {
	name := a.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("adapter %q already registered", name)
	}
	r.byName[name] = a
	if _, exists := r.byPlatform[a.Platform()]; !exists {
		r.byPlatform[a.Platform()] = a
	}
	r.logger.Info("Adapter registered", "name", name, "platform", string(a.Platform()))
	return nil
}

// ForPlatform is the common per-device dispatch path: one adapter per
// platform, no fallback.
func (r *Registry) ForPlatform(platform notify.Platform) (notify.Adapter, error) {
	a, ok := r.byPlatform[platform]
	if !ok {
		return nil, fmt.Errorf("platform %q: %w", platform, ErrNoProviderAvailable)
	}
	return a, nil
}

// Resolve walks the preferred provider names in order and returns the first
// whose health check passes. Used for job-level provider overrides.
func (r *Registry) Resolve(ctx context.Context, preferred []string) (notify.Adapter, error) {
	for _, name := range preferred {
		a, ok := r.byName[name]
		if !ok {
			r.logger.Warn("Preferred provider not registered", "name", name)
			continue
		}
		health := a.HealthCheck(ctx)
		if health.Healthy() {
			return a, nil
		}
		r.logger.Warn("Skipping unhealthy provider", "name", name, "detail", health.Detail)
	}
	return nil, fmt.Errorf("tried %d providers: %w", len(preferred), ErrNoProviderAvailable)
}

// Names lists the registered adapter names (order unspecified).
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	return names
}

// Health probes every registered adapter. Serves the service health surface.
func (r *Registry) Health(ctx context.Context) map[string]notify.Health {
	out := make(map[string]notify.Health, len(r.byName))
	for name, a := range r.byName {
		out[name] = a.HealthCheck(ctx)
	}
	return out
}
