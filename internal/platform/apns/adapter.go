// Package apns delivers Apple push notifications over the APNs HTTP/2 API.
package apns

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sideshow/apns2"
	apnspayload "github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"

	"github.com/fieldgrid/fleetnotify/internal/platform"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// APNSClient defines the subset of the apns2.Client methods we use.
// This allows mocking for unit tests.
type APNSClient interface {
	Push(n *apns2.Notification) (*apns2.Response, error)
}

// Config holds the credentials required to sign APNs tokens. All fields are
// required except Timeout.
type Config struct {
	KeyID    string
	TeamID   string
	BundleID string
	// P8KeyContent is the raw string content of the .p8 signing key.
	P8KeyContent string
	// Timeout is the hard per-call deadline. Defaults to 10s.
	Timeout time.Duration
}

type Adapter struct {
	client APNSClient
	topic  string // the app bundle id
	health *platform.HealthTracker
	logger *slog.Logger
}

// NewAdapter creates a configured APNs adapter. It parses the P8 key
// immediately to fail fast on startup if credentials are bad.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.KeyID == "" || cfg.TeamID == "" || cfg.BundleID == "" {
		return nil, fmt.Errorf("apns: key_id, team_id and bundle_id are all required")
	}
	authKey, err := token.AuthKeyFromBytes([]byte(cfg.P8KeyContent))
	if err != nil {
		return nil, fmt.Errorf("apns: failed to parse P8 key: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}).Production()
	// The HTTP client deadline is the per-call timeout; APNs has no
	// request-scoped context on the unary Push path.
	client.HTTPClient.Timeout = cfg.Timeout

	return newAdapter(client, cfg.BundleID, logger), nil
}

func newAdapter(client APNSClient, bundleID string, logger *slog.Logger) *Adapter {
	return &Adapter{
		client: client,
		topic:  bundleID,
		health: platform.NewHealthTracker(3),
		logger: logger.With("component", "APNSAdapter"),
	}
}

func (a *Adapter) Name() string              { return "apns" }
func (a *Adapter) Platform() notify.Platform { return notify.PlatformAPNS }

// Send pushes to one device token. The APNs HTTP/2 API is unary, so this is
// exactly one round trip.
func (a *Adapter) Send(_ context.Context, target notify.DeviceTarget, payload *notify.Payload) (string, error) {
	n := &apns2.Notification{
		DeviceToken: target.Credential,
		Topic:       a.topic,
		Payload:     buildPayload(payload),
		CollapseID:  payload.CollapseKey,
		Priority:    apnsPriority(payload.Priority),
	}
	if payload.TTL > 0 {
		n.Expiration = time.Now().Add(payload.TTL)
	}

	res, err := a.client.Push(n)
	if err != nil {
		a.health.RecordFailure()
		return "", classifyTransport(err)
	}

	if res.Sent() {
		a.health.RecordSuccess()
		return res.ApnsID, nil
	}
	return "", classifyReason(res)
}

// SendTopic is unsupported: APNs has no broadcast group, the dispatcher
// falls back to per-device iteration.
func (a *Adapter) SendTopic(context.Context, string, *notify.Payload) (string, error) {
	return "", notify.ErrTopicUnsupported
}

func (a *Adapter) HealthCheck(_ context.Context) notify.Health {
	return a.health.Health()
}

// buildPayload constructs the aps JSON dictionary, including the
// platform-specific fields callers tuck into PlatformData.
func buildPayload(p *notify.Payload) *apnspayload.Payload {
	builder := apnspayload.NewPayload().
		AlertTitle(p.Title).
		AlertBody(p.Body)

	if sound, ok := p.PlatformData["sound"].(string); ok {
		builder.Sound(sound)
	}
	if badge, ok := p.PlatformData["badge"].(float64); ok {
		builder.Badge(int(badge))
	}
	if category, ok := p.PlatformData["category"].(string); ok {
		builder.Category(category)
	}
	if ca, ok := p.PlatformData["content-available"].(bool); ok && ca {
		builder.ContentAvailable()
	}
	for k, v := range p.DataStrings() {
		builder.Custom(k, v)
	}
	return builder
}

func apnsPriority(p notify.Priority) int {
	switch p {
	case notify.PriorityHigh, notify.PriorityCritical:
		return apns2.PriorityHigh
	default:
		return apns2.PriorityLow
	}
}

func classifyTransport(err error) *notify.Error {
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return notify.NewError(notify.KindNetworkTimeout, "apns call timed out", err)
	}
	return notify.NewError(notify.KindServerError, "apns transport failed", err)
}

// classifyReason maps APNs rejection reasons onto the shared taxonomy.
// See Apple's "Handling notification responses from APNs".
func classifyReason(res *apns2.Response) *notify.Error {
	detail := fmt.Sprintf("apns status %d: %s", res.StatusCode, res.Reason)

	switch res.Reason {
	case apns2.ReasonBadDeviceToken, apns2.ReasonUnregistered, apns2.ReasonDeviceTokenNotForTopic:
		return notify.NewError(notify.KindUnregistered, detail, nil)
	case apns2.ReasonTooManyRequests:
		return notify.NewError(notify.KindRateLimited, detail, nil)
	case apns2.ReasonExpiredProviderToken, apns2.ReasonInvalidProviderToken, apns2.ReasonMissingProviderToken, apns2.ReasonForbidden:
		return notify.NewError(notify.KindAuthFailed, detail, nil)
	case apns2.ReasonPayloadTooLarge:
		return notify.NewError(notify.KindPayloadTooLarge, detail, nil)
	case apns2.ReasonInternalServerError, apns2.ReasonServiceUnavailable, apns2.ReasonShutdown:
		return notify.NewError(notify.KindServerError, detail, nil)
	}
	if res.StatusCode >= http.StatusInternalServerError {
		return notify.NewError(notify.KindServerError, detail, nil)
	}
	return notify.NewError(notify.KindBadRequest, detail, nil)
}
