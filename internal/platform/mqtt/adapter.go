// Package mqtt delivers notifications to IoT devices over an MQTT broker.
//
// A device's credential is the broker topic it subscribes to, so this is the
// one adapter with native broadcast support: SendTopic publishes to a shared
// group topic directly.
package mqtt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/fieldgrid/fleetnotify/internal/platform"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// Client defines the subset of the paho client we use, for mockability.
// Note: paho.Client satisfies it.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnectionOpen() bool
	Disconnect(quiesce uint)
}

// Config holds the broker connection settings. BrokerURL and ClientID are
// required.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string
	// QoS is the baseline quality of service (0-2). High and critical
	// priority payloads are published at QoS 1 minimum.
	QoS byte
	// Timeout bounds both the initial connect and each publish ack.
	// Defaults to 10s.
	Timeout time.Duration
}

type Adapter struct {
	client  Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger
}

// NewAdapter validates the config and connects to the broker, failing fast
// when it is unreachable.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.BrokerURL == "" || cfg.ClientID == "" {
		return nil, fmt.Errorf("mqtt: broker_url and client_id are required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: qos must be 0, 1 or 2")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.Timeout).
		SetAutoReconnect(true)

	client := paho.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt: connect to %s timed out", cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: connect to %s failed: %w", cfg.BrokerURL, err)
	}

	return newAdapter(client, cfg, logger), nil
}

func newAdapter(client Client, cfg Config, logger *slog.Logger) *Adapter {
	return &Adapter{
		client:  client,
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		logger:  logger.With("component", "MQTTAdapter"),
	}
}

func (a *Adapter) Name() string              { return "mqtt" }
func (a *Adapter) Platform() notify.Platform { return notify.PlatformMQTT }

// Send publishes the envelope to the device's own topic (its credential).
func (a *Adapter) Send(ctx context.Context, target notify.DeviceTarget, payload *notify.Payload) (string, error) {
	return a.publish(ctx, target.Credential, payload)
}

// SendTopic publishes once to a shared group topic.
func (a *Adapter) SendTopic(ctx context.Context, topic string, payload *notify.Payload) (string, error) {
	return a.publish(ctx, topic, payload)
}

func (a *Adapter) HealthCheck(_ context.Context) notify.Health {
	if !a.client.IsConnectionOpen() {
		return notify.Health{State: notify.HealthUnhealthy, Detail: "broker connection is down"}
	}
	return notify.Health{State: notify.HealthHealthy}
}

// Close disconnects from the broker, allowing in-flight publishes to drain.
func (a *Adapter) Close() {
	a.client.Disconnect(uint(a.timeout / time.Millisecond))
}

func (a *Adapter) publish(_ context.Context, topic string, payload *notify.Payload) (string, error) {
	if topic == "" {
		return "", notify.NewError(notify.KindBadRequest, "empty topic", nil)
	}
	if !a.client.IsConnectionOpen() {
		return "", notify.NewError(notify.KindServerError, "broker connection is down", nil)
	}

	body, err := platform.EncodeEnvelope(payload)
	if err != nil {
		return "", notify.NewError(notify.KindBadRequest, "payload not serializable", err)
	}

	tok := a.client.Publish(topic, a.publishQoS(payload.Priority), false, body)
	if !tok.WaitTimeout(a.timeout) {
		return "", notify.NewError(notify.KindNetworkTimeout, "publish ack timed out", nil)
	}
	if err := tok.Error(); err != nil {
		return "", notify.NewError(notify.KindServerError, "publish failed", err)
	}

	// MQTT acks carry no message id; mint one for the audit trail.
	return uuid.NewString(), nil
}

func (a *Adapter) publishQoS(p notify.Priority) byte {
	if (p == notify.PriorityHigh || p == notify.PriorityCritical) && a.qos == 0 {
		return 1
	}
	return a.qos
}
