package firestore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

const devicesCollection = "devices"

// deviceDoc is the registry record shape, one document per device keyed by
// device id.
type deviceDoc struct {
	DeviceID     string    `firestore:"device_id"`
	Platform     string    `firestore:"platform"`
	Credential   string    `firestore:"credential"`
	KnownInvalid bool      `firestore:"known_invalid"`
	SiteID       string    `firestore:"site_id,omitempty"`
	DeviceType   string    `firestore:"device_type,omitempty"`
	Status       string    `firestore:"status,omitempty"`
	CreatedAt    time.Time `firestore:"created_at"`
}

// DeviceRecord is one registry entry as callers see it.
type DeviceRecord struct {
	Target    notify.DeviceTarget
	SiteID    string
	Type      string
	Status    string
	CreatedAt time.Time
}

// DeviceRegistry is the Firestore-backed fleet registry. Pagination uses a
// value cursor over (created_at desc, device_id desc), so repeated pulls on
// a static snapshot are deterministic and never materialize the match set.
type DeviceRegistry struct {
	client *firestore.Client
}

func NewDeviceRegistry(client *firestore.Client) *DeviceRegistry {
	return &DeviceRegistry{client: client}
}

// pageCursor carries either an offset into an explicit id list or the value
// pair of the last document on the previous page.
type pageCursor struct {
	Offset    int       `json:"o,omitempty"`
	CreatedAt time.Time `json:"c,omitempty"`
	DeviceID  string    `json:"d,omitempty"`
}

func (r *DeviceRegistry) ResolvePage(ctx context.Context, criteria notify.Criteria, pageSize int, cursor string) (notify.Page, error) {
	if criteria.Kind == notify.CriteriaDeviceIDs {
		return r.resolveByIDs(ctx, criteria.DeviceIDs, pageSize, cursor)
	}

	q := r.client.Collection(devicesCollection).Query
	switch criteria.Kind {
	case notify.CriteriaSite:
		q = q.Where("site_id", "==", criteria.SiteID)
	case notify.CriteriaDeviceType:
		q = q.Where("device_type", "==", criteria.DeviceType)
	case notify.CriteriaDeviceStatus:
		q = q.Where("status", "==", criteria.DeviceStatus)
	case notify.CriteriaAll:
	default:
		return notify.Page{}, fmt.Errorf("unsupported criteria kind %q", criteria.Kind)
	}

	q = q.OrderBy("created_at", firestore.Desc).OrderBy("device_id", firestore.Desc)
	if cursor != "" {
		c, err := decodePageCursor(cursor)
		if err != nil {
			return notify.Page{}, err
		}
		q = q.StartAfter(c.CreatedAt, c.DeviceID)
	}
	q = q.Limit(pageSize)

	iter := q.Documents(ctx)
	defer iter.Stop()

	page := notify.Page{}
	var last deviceDoc
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return notify.Page{}, fmt.Errorf("device query failed: %w", err)
		}
		var rec deviceDoc
		if err := doc.DataTo(&rec); err != nil {
			return notify.Page{}, fmt.Errorf("decode device %s: %w", doc.Ref.ID, err)
		}
		page.Targets = append(page.Targets, rec.target())
		last = rec
	}

	// A full page may have more behind it; the final short page never does.
	if len(page.Targets) == pageSize {
		page.NextCursor = encodePageCursor(pageCursor{CreatedAt: last.CreatedAt, DeviceID: last.DeviceID})
	}
	return page, nil
}

// resolveByIDs pages through an explicit id list in list order, fetching
// each slice of documents directly rather than via a query.
func (r *DeviceRegistry) resolveByIDs(ctx context.Context, ids []string, pageSize int, cursor string) (notify.Page, error) {
	start := 0
	if cursor != "" {
		c, err := decodePageCursor(cursor)
		if err != nil {
			return notify.Page{}, err
		}
		start = c.Offset
	}
	if start >= len(ids) {
		return notify.Page{}, nil
	}

	end := start + pageSize
	if end > len(ids) {
		end = len(ids)
	}

	refs := make([]*firestore.DocumentRef, 0, end-start)
	for _, id := range ids[start:end] {
		refs = append(refs, r.client.Collection(devicesCollection).Doc(id))
	}
	docs, err := r.client.GetAll(ctx, refs)
	if err != nil {
		return notify.Page{}, fmt.Errorf("device lookup failed: %w", err)
	}

	page := notify.Page{}
	for _, doc := range docs {
		if !doc.Exists() {
			continue
		}
		var rec deviceDoc
		if err := doc.DataTo(&rec); err != nil {
			return notify.Page{}, fmt.Errorf("decode device %s: %w", doc.Ref.ID, err)
		}
		page.Targets = append(page.Targets, rec.target())
	}
	if end < len(ids) {
		page.NextCursor = encodePageCursor(pageCursor{Offset: end})
	}
	return page, nil
}

// InvalidateToken marks a device credential permanently dead. Repeat calls
// and calls for unknown devices are no-ops.
func (r *DeviceRegistry) InvalidateToken(ctx context.Context, deviceID string) error {
	_, err := r.client.Collection(devicesCollection).Doc(deviceID).Update(ctx, []firestore.Update{
		{Path: "known_invalid", Value: true},
	})
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("invalidate token for device %s: %w", deviceID, err)
	}
	return nil
}

// Upsert writes one registry record. Used by seeding tools and tests; the
// dispatch core itself never creates devices.
func (r *DeviceRegistry) Upsert(ctx context.Context, rec DeviceRecord) error {
	doc := deviceDoc{
		DeviceID:     rec.Target.DeviceID,
		Platform:     string(rec.Target.Platform),
		Credential:   rec.Target.Credential,
		KnownInvalid: rec.Target.KnownInvalid,
		SiteID:       rec.SiteID,
		DeviceType:   rec.Type,
		Status:       rec.Status,
		CreatedAt:    rec.CreatedAt,
	}
	_, err := r.client.Collection(devicesCollection).Doc(doc.DeviceID).Set(ctx, doc)
	if err != nil {
		return fmt.Errorf("upsert device %s: %w", doc.DeviceID, err)
	}
	return nil
}

func (d deviceDoc) target() notify.DeviceTarget {
	return notify.DeviceTarget{
		DeviceID:     d.DeviceID,
		Platform:     notify.Platform(d.Platform),
		Credential:   d.Credential,
		KnownInvalid: d.KnownInvalid,
	}
}

func encodePageCursor(c pageCursor) string {
	raw, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(raw)
}

func decodePageCursor(s string) (pageCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return pageCursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	var c pageCursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return pageCursor{}, fmt.Errorf("malformed cursor: %w", err)
	}
	return c, nil
}
