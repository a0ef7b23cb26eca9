// Package wns delivers desktop push notifications through the Windows
// Notification Service.
//
// WNS has no official Go SDK; the adapter speaks the HTTP API directly and
// authenticates with OAuth2 client credentials, the access token being
// refreshed transparently by the oauth2 transport.
package wns

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/fieldgrid/fleetnotify/internal/platform"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

const defaultTokenURL = "https://login.live.com/accesstoken.srf"

// Config holds the WNS application credentials. PackageSID and ClientSecret
// are required.
type Config struct {
	PackageSID   string
	ClientSecret string
	// TokenURL overrides the Microsoft login endpoint (tests only).
	TokenURL string
	// Timeout is the hard per-call deadline. Defaults to 10s.
	Timeout time.Duration
}

type Adapter struct {
	httpClient *http.Client
	health     *platform.HealthTracker
	logger     *slog.Logger
}

// NewAdapter validates the credentials and builds the token-refreshing HTTP
// client. Bad credentials surface on the first send, not here; WNS offers no
// validation endpoint.
func NewAdapter(cfg Config, logger *slog.Logger) (*Adapter, error) {
	if cfg.PackageSID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("wns: package_sid and client_secret are required")
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = defaultTokenURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	cc := clientcredentials.Config{
		ClientID:     cfg.PackageSID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       []string{"notify.windows.com"},
	}
	// Token fetches share the same per-call deadline as notification posts.
	base := &http.Client{Timeout: cfg.Timeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	httpClient := cc.Client(tokenCtx)
	httpClient.Timeout = cfg.Timeout

	return &Adapter{
		httpClient: httpClient,
		health:     platform.NewHealthTracker(3),
		logger:     logger.With("component", "WNSAdapter"),
	}, nil
}

func (a *Adapter) Name() string              { return "wns" }
func (a *Adapter) Platform() notify.Platform { return notify.PlatformWNS }

// Send posts a raw notification to the device's channel URI (the target
// credential). Field agents parse the shared JSON envelope.
func (a *Adapter) Send(ctx context.Context, target notify.DeviceTarget, payload *notify.Payload) (string, error) {
	body, err := platform.EncodeEnvelope(payload)
	if err != nil {
		return "", notify.NewError(notify.KindBadRequest, "payload not serializable", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Credential, bytes.NewReader(body))
	if err != nil {
		return "", notify.NewError(notify.KindBadRequest, "channel URI is not a valid URL", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-WNS-Type", "wns/raw")
	req.Header.Set("X-WNS-RequestForStatus", "true")
	if payload.TTL > 0 {
		req.Header.Set("X-WNS-TTL", strconv.Itoa(int(payload.TTL/time.Second)))
	}
	if payload.CollapseKey != "" {
		req.Header.Set("X-WNS-Tag", payload.CollapseKey)
	}
	if payload.Priority == notify.PriorityHigh || payload.Priority == notify.PriorityCritical {
		req.Header.Set("X-WNS-PRIORITY", "1")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		a.health.RecordFailure()
		return "", classifyTransport(err)
	}
	defer func() { _ = resp.Body.Close() }()

	return a.classifyStatus(resp)
}

// SendTopic is unsupported: WNS addresses individual channel URIs only.
func (a *Adapter) SendTopic(context.Context, string, *notify.Payload) (string, error) {
	return "", notify.ErrTopicUnsupported
}

func (a *Adapter) HealthCheck(_ context.Context) notify.Health {
	return a.health.Health()
}

func (a *Adapter) classifyStatus(resp *http.Response) (string, error) {
	switch {
	case resp.StatusCode == http.StatusOK:
		a.health.RecordSuccess()
		return resp.Header.Get("X-WNS-Msg-ID"), nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return "", notify.NewError(notify.KindAuthFailed,
			fmt.Sprintf("wns rejected credentials with %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		// The channel URI has expired.
		return "", notify.NewError(notify.KindUnregistered,
			fmt.Sprintf("channel returned %d", resp.StatusCode), nil)
	case resp.StatusCode == http.StatusNotAcceptable:
		// WNS throttles with 406.
		return "", &notify.Error{
			Kind:       notify.KindRateLimited,
			Detail:     "wns channel throttled",
			RetryAfter: retryAfter(resp),
		}
	case resp.StatusCode == http.StatusRequestEntityTooLarge:
		return "", notify.NewError(notify.KindPayloadTooLarge, "wns rejected payload size", nil)
	case resp.StatusCode >= http.StatusInternalServerError:
		a.health.RecordFailure()
		return "", notify.NewError(notify.KindServerError,
			fmt.Sprintf("wns returned %d", resp.StatusCode), nil)
	default:
		return "", notify.NewError(notify.KindBadRequest,
			fmt.Sprintf("wns returned %d", resp.StatusCode), nil)
	}
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func classifyTransport(err error) *notify.Error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		return notify.NewError(notify.KindNetworkTimeout, "wns call timed out", err)
	}
	return notify.NewError(notify.KindServerError, "wns transport failed", err)
}
