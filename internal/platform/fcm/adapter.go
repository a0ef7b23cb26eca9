// Package fcm delivers mobile push notifications through Firebase Cloud
// Messaging.
package fcm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"

	"github.com/fieldgrid/fleetnotify/internal/platform"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// MessagingClient defines the subset of the Firebase Messaging API we use.
// This interface allows us to mock the client for unit testing.
// Note: *messaging.Client satisfies it automatically.
type MessagingClient interface {
	Send(ctx context.Context, msg *messaging.Message) (string, error)
}

// Config holds the adapter-level settings. The Firebase credentials
// themselves are validated earlier, when the messaging client is built.
type Config struct {
	// Timeout is the hard per-call deadline. Defaults to 10s.
	Timeout time.Duration
}

type Adapter struct {
	client  MessagingClient
	timeout time.Duration
	health  *platform.HealthTracker
	logger  *slog.Logger
}

// NewAdapter accepts the concrete client but stores it as the interface.
func NewAdapter(client MessagingClient, cfg Config, logger *slog.Logger) (*Adapter, error) {
	if client == nil {
		return nil, fmt.Errorf("fcm: messaging client is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Adapter{
		client:  client,
		timeout: cfg.Timeout,
		health:  platform.NewHealthTracker(3),
		logger:  logger.With("component", "FCMAdapter"),
	}, nil
}

func (a *Adapter) Name() string              { return "fcm" }
func (a *Adapter) Platform() notify.Platform { return notify.PlatformFCM }

// Send delivers to one device token. Exactly one round trip; retry policy
// lives in the dispatcher.
func (a *Adapter) Send(ctx context.Context, target notify.DeviceTarget, payload *notify.Payload) (string, error) {
	msg := a.buildMessage(payload)
	msg.Token = target.Credential
	return a.send(ctx, msg)
}

// SendTopic uses FCM's native topic fan-out.
func (a *Adapter) SendTopic(ctx context.Context, topic string, payload *notify.Payload) (string, error) {
	msg := a.buildMessage(payload)
	msg.Topic = topic
	return a.send(ctx, msg)
}

func (a *Adapter) HealthCheck(_ context.Context) notify.Health {
	return a.health.Health()
}

func (a *Adapter) send(ctx context.Context, msg *messaging.Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	id, err := a.client.Send(ctx, msg)
	if err != nil {
		classified := classify(err)
		if classified.Kind == notify.KindServerError || classified.Kind == notify.KindNetworkTimeout {
			a.health.RecordFailure()
		}
		return "", classified
	}

	a.health.RecordSuccess()
	return id, nil
}

func (a *Adapter) buildMessage(payload *notify.Payload) *messaging.Message {
	android := &messaging.AndroidConfig{
		CollapseKey: payload.CollapseKey,
		Priority:    androidPriority(payload.Priority),
	}
	if payload.TTL > 0 {
		ttl := payload.TTL
		android.TTL = &ttl
	}
	if sound, ok := payload.PlatformData["sound"].(string); ok {
		android.Notification = &messaging.AndroidNotification{Sound: sound}
	}

	return &messaging.Message{
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data:    payload.DataStrings(),
		Android: android,
	}
}

// androidPriority maps our four levels onto FCM's two.
func androidPriority(p notify.Priority) string {
	switch p {
	case notify.PriorityHigh, notify.PriorityCritical:
		return "high"
	default:
		return "normal"
	}
}

// classify converts Firebase SDK errors into the shared taxonomy. This is
// the only place FCM error semantics are interpreted.
func classify(err error) *notify.Error {
	switch {
	case messaging.IsRegistrationTokenNotRegistered(err):
		return notify.NewError(notify.KindUnregistered, "token not registered", err)
	case messaging.IsInvalidArgument(err):
		return notify.NewError(notify.KindBadRequest, "fcm rejected message as invalid", err)
	case errorutils.IsUnauthenticated(err) || errorutils.IsPermissionDenied(err):
		return notify.NewError(notify.KindAuthFailed, "fcm credentials rejected", err)
	case errorutils.IsResourceExhausted(err):
		return notify.NewError(notify.KindRateLimited, "fcm quota exceeded", err)
	case errorutils.IsUnavailable(err) || errorutils.IsInternal(err):
		return notify.NewError(notify.KindServerError, "fcm backend unavailable", err)
	case errorutils.IsDeadlineExceeded(err) || errors.Is(err, context.DeadlineExceeded):
		return notify.NewError(notify.KindNetworkTimeout, "fcm call timed out", err)
	default:
		return notify.NewError(notify.KindUnknown, "unclassified fcm error", err)
	}
}
