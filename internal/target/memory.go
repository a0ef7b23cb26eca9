package target

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// Device is one registry record: a deliverable target plus the fleet
// attributes criteria filter on.
type Device struct {
	Target    notify.DeviceTarget
	SiteID    string
	Type      string
	Status    string
	CreatedAt time.Time
}

// MemoryRegistry is an in-memory device registry used by tests and the
// credential-free development mode. Pagination is value-cursor based over
// (created_at desc, device_id desc), the same stable ordering the Firestore
// registry uses, so the two are interchangeable.
type MemoryRegistry struct {
	mu      sync.RWMutex
	devices map[string]*Device
}

func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{devices: make(map[string]*Device)}
}

// Add upserts a device record.
func (m *MemoryRegistry) Add(d Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := d
	m.devices[d.Target.DeviceID] = &cp
}

type memCursor struct {
	CreatedAt time.Time `json:"c"`
	DeviceID  string    `json:"d"`
}

func (m *MemoryRegistry) ResolvePage(_ context.Context, criteria notify.Criteria, pageSize int, cursor string) (notify.Page, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := make([]*Device, 0, len(m.devices))
	for _, d := range m.devices {
		if m.matches(d, criteria) {
			matched = append(matched, d)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].Target.DeviceID > matched[j].Target.DeviceID
	})

	start := 0
	if cursor != "" {
		after, err := decodeCursor(cursor)
		if err != nil {
			return notify.Page{}, err
		}
		for i, d := range matched {
			if d.CreatedAt.Equal(after.CreatedAt) && d.Target.DeviceID == after.DeviceID {
				start = i + 1
				break
			}
		}
	}

	end := start + pageSize
	if end > len(matched) {
		end = len(matched)
	}

	page := notify.Page{Targets: make([]notify.DeviceTarget, 0, end-start)}
	for _, d := range matched[start:end] {
		page.Targets = append(page.Targets, d.Target)
	}
	if end < len(matched) {
		last := matched[end-1]
		page.NextCursor = encodeCursor(memCursor{CreatedAt: last.CreatedAt, DeviceID: last.Target.DeviceID})
	}
	return page, nil
}

// InvalidateToken marks the credential dead. Calling it twice for the same
// device has the same observable effect as calling it once.
func (m *MemoryRegistry) InvalidateToken(_ context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceID]; ok {
		d.Target.KnownInvalid = true
	}
	return nil
}

// Invalidated reports whether a device's credential has been marked dead.
func (m *MemoryRegistry) Invalidated(deviceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceID]
	return ok && d.Target.KnownInvalid
}

func (m *MemoryRegistry) matches(d *Device, c notify.Criteria) bool {
	switch c.Kind {
	case notify.CriteriaDeviceIDs:
		for _, id := range c.DeviceIDs {
			if d.Target.DeviceID == id {
				return true
			}
		}
		return false
	case notify.CriteriaSite:
		return d.SiteID == c.SiteID
	case notify.CriteriaDeviceType:
		return d.Type == c.DeviceType
	case notify.CriteriaDeviceStatus:
		return d.Status == c.DeviceStatus
	case notify.CriteriaAll:
		return true
	default:
		return false
	}
}

func encodeCursor(c memCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodeCursor(s string) (memCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return memCursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	var c memCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return memCursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	return c, nil
}
