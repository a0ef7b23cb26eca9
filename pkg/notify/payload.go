// Package notify contains the public interfaces and domain models for the
// fleet notification dispatch core.
package notify

import (
	"encoding/json"
	"fmt"
	"time"
)

// MaxPayloadBytes is the hard cap on the wire-serialized size of a payload
// (title + body + data + platform data). It is enforced before any network
// call is made, never discovered via a failed send.
const MaxPayloadBytes = 4096

// Priority expresses how urgently a notification should be delivered.
// Adapters map it onto their protocol's native priority scheme.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Payload is the protocol-agnostic notification content, constructed once per
// job and treated as immutable by every layer below the orchestrator.
type Payload struct {
	Title string         `json:"title"`
	Body  string         `json:"body"`
	Data  map[string]any `json:"data,omitempty"`

	Priority Priority `json:"priority,omitempty"`

	// PlatformData carries adapter-specific fields (badge, sound, category,
	// content-available) that don't generalize across protocols.
	PlatformData map[string]any `json:"platform_data,omitempty"`

	// TTL is how long an undelivered notification remains valid before the
	// platform discards it. Zero means the platform default.
	TTL time.Duration `json:"ttl,omitempty"`

	// CollapseKey lets a platform supersede an undelivered notification with
	// a newer one carrying the same key.
	CollapseKey string `json:"collapse_key,omitempty"`
}

// sizeEnvelope is the canonical serialized form the size limit applies to.
type sizeEnvelope struct {
	Title        string         `json:"title"`
	Body         string         `json:"body"`
	Data         map[string]any `json:"data,omitempty"`
	PlatformData map[string]any `json:"platform_data,omitempty"`
}

// Validate checks the serialized payload against MaxPayloadBytes.
// It returns a *Error with KindPayloadTooLarge when the payload cannot be
// sent, or a plain error if the data map is not JSON-serializable.
func (p *Payload) Validate() error {
	raw, err := json.Marshal(sizeEnvelope{
		Title:        p.Title,
		Body:         p.Body,
		Data:         p.Data,
		PlatformData: p.PlatformData,
	})
	if err != nil {
		return fmt.Errorf("payload is not serializable: %w", err)
	}
	if len(raw) > MaxPayloadBytes {
		return &Error{
			Kind:   KindPayloadTooLarge,
			Detail: fmt.Sprintf("serialized payload is %d bytes, limit is %d", len(raw), MaxPayloadBytes),
		}
	}
	return nil
}

// DataStrings flattens the Data map to string values, the form FCM and MQTT
// envelopes expect. Non-string values are JSON-encoded.
func (p *Payload) DataStrings() map[string]string {
	if len(p.Data) == 0 {
		return nil
	}
	out := make(map[string]string, len(p.Data))
	for k, v := range p.Data {
		if s, ok := v.(string); ok {
			out[k] = s
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			continue
		}
		out[k] = string(raw)
	}
	return out
}
