// Package webpush delivers browser push notifications to VAPID subscription
// endpoints.
package webpush

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	wp "github.com/SherClockHolmes/webpush-go"

	"github.com/fieldgrid/fleetnotify/internal/platform"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// Config holds the VAPID key pair used to sign pushes. All key fields are
// required.
type Config struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
	// Timeout is the hard per-call deadline. Defaults to 10s.
	Timeout time.Duration
}

type Adapter struct {
	subscriber string
	publicKey  string
	privateKey string
	httpClient *http.Client
	health     *platform.HealthTracker
	logger     *slog.Logger
}

func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.PublicKey == "" || cfg.PrivateKey == "" || cfg.SubscriberEmail == "" {
		return nil, fmt.Errorf("webpush: vapid public key, private key and subscriber email are all required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		subscriber: cfg.SubscriberEmail,
		publicKey:  cfg.PublicKey,
		privateKey: cfg.PrivateKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		health:     platform.NewHealthTracker(3),
		logger:     logger.With("component", "WebPushAdapter"),
	}, nil
}

func (a *Adapter) Name() string              { return "webpush" }
func (a *Adapter) Platform() notify.Platform { return notify.PlatformWebPush }

// Send pushes to one browser subscription. The target credential is the
// standard PushSubscription JSON blob (endpoint plus p256dh/auth keys).
func (a *Adapter) Send(ctx context.Context, target notify.DeviceTarget, payload *notify.Payload) (string, error) {
	var sub wp.Subscription
	if err := json.Unmarshal([]byte(target.Credential), &sub); err != nil {
		return "", notify.NewError(notify.KindBadRequest, "credential is not a push subscription", err)
	}
	if sub.Endpoint == "" {
		return "", notify.NewError(notify.KindBadRequest, "subscription has no endpoint", nil)
	}

	body, err := json.Marshal(map[string]any{
		"notification": map[string]string{
			"title": payload.Title,
			"body":  payload.Body,
		},
		"data": payload.Data,
	})
	if err != nil {
		return "", notify.NewError(notify.KindBadRequest, "payload not serializable", err)
	}

	opts := &wp.Options{
		Subscriber:      a.subscriber,
		VAPIDPublicKey:  a.publicKey,
		VAPIDPrivateKey: a.privateKey,
		HTTPClient:      a.httpClient,
		Urgency:         urgency(payload.Priority),
		Topic:           payload.CollapseKey,
	}
	if payload.TTL > 0 {
		opts.TTL = int(payload.TTL / time.Second)
	}

	resp, err := wp.SendNotificationWithContext(ctx, body, &sub, opts)
	if err != nil {
		a.health.RecordFailure()
		return "", classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return a.classifyStatus(resp)
}

// SendTopic is unsupported: the Web Push protocol has no broadcast groups.
func (a *Adapter) SendTopic(context.Context, string, *notify.Payload) (string, error) {
	return "", notify.ErrTopicUnsupported
}

func (a *Adapter) HealthCheck(_ context.Context) notify.Health {
	return a.health.Health()
}

func (a *Adapter) classifyStatus(resp *http.Response) (string, error) {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		a.health.RecordSuccess()
		// Push services identify the accepted message via Location.
		return resp.Header.Get("Location"), nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// Subscription is dead.
		return "", notify.NewError(notify.KindUnregistered,
			fmt.Sprintf("push service returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", notify.NewError(notify.KindPayloadTooLarge, "push service rejected payload size", nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &notify.Error{
			Kind:       notify.KindRateLimited,
			Detail:     "push service throttled",
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", notify.NewError(notify.KindAuthFailed, "vapid authorization rejected", nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		a.health.RecordFailure()
		return "", notify.NewError(notify.KindServerError,
			fmt.Sprintf("push service returned %d", resp.StatusCode), nil)
	default:
		return "", notify.NewError(notify.KindBadRequest,
			fmt.Sprintf("push service returned %d", resp.StatusCode), nil)
	}
}

func urgency(p notify.Priority) wp.Urgency {
	switch p {
	case notify.PriorityLow:
		return wp.UrgencyLow
	case notify.PriorityHigh, notify.PriorityCritical:
		return wp.UrgencyHigh
	default:
		return wp.UrgencyNormal
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func classifyTransport(err error) *notify.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return notify.NewError(notify.KindNetworkTimeout, "push service call timed out", err)
	}
	return notify.NewError(notify.KindServerError, "push service transport failed", err)
}
