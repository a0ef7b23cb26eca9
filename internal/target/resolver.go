// Package target turns an abstract targeting criterion into a paginated
// stream of device targets, delegating storage to the external device
// registry.
package target

import (
	"context"
	"fmt"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// DefaultPageSize bounds how many devices are in flight per batch.
const DefaultPageSize = 50

// Resolver validates criteria and pulls pages from the device registry. It
// never materializes the full match set: callers iterate page by page, so
// memory stays O(page size) regardless of fleet size.
type Resolver struct {
	registry notify.DeviceRegistry
}

func NewResolver(registry notify.DeviceRegistry) *Resolver {
	return &Resolver{registry: registry}
}

// ResolvePage returns the next page of live targets. Targets the registry
// already knows to be invalid are filtered out here so the dispatcher never
// burns a send on a credential a protocol declared dead.
func (r *Resolver) ResolvePage(ctx context.Context, criteria notify.Criteria, pageSize int, cursor string) (notify.Page, error) {
	if err := ValidateCriteria(criteria); err != nil {
		return notify.Page{}, err
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	page, err := r.registry.ResolvePage(ctx, criteria, pageSize, cursor)
	if err != nil {
		return notify.Page{}, fmt.Errorf("device registry query failed: %w", err)
	}

	live := page.Targets[:0]
	for _, t := range page.Targets {
		if !t.KnownInvalid {
			live = append(live, t)
		}
	}
	page.Targets = live
	return page, nil
}

// ValidateCriteria rejects criteria whose variant payload is missing.
func ValidateCriteria(c notify.Criteria) error {
	switch c.Kind {
	case notify.CriteriaDeviceIDs:
		if len(c.DeviceIDs) == 0 {
			return fmt.Errorf("device_ids criteria requires at least one id")
		}
	case notify.CriteriaSite:
		if c.SiteID == "" {
			return fmt.Errorf("site criteria requires a site_id")
		}
	case notify.CriteriaDeviceType:
		if c.DeviceType == "" {
			return fmt.Errorf("device_type criteria requires a device_type")
		}
	case notify.CriteriaDeviceStatus:
		if c.DeviceStatus == "" {
			return fmt.Errorf("device_status criteria requires a device_status")
		}
	case notify.CriteriaAll:
		// No payload.
	default:
		return fmt.Errorf("unknown criteria kind %q", c.Kind)
	}
	return nil
}
