package wns_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fleetnotify/internal/platform/wns"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// newTokenServer mimics the Microsoft login endpoint.
func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	}))
}

func newAdapter(t *testing.T, tokenURL string) *wns.Adapter {
	t.Helper()
	adapter, err := wns.NewAdapter(wns.Config{
		PackageSID:   "ms-app://s-1-15-2-test",
		ClientSecret: "secret",
		TokenURL:     tokenURL,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	return adapter
}

func TestWNSSend(t *testing.T) {
	ctx := context.Background()
	payload := &notify.Payload{
		Title:       "Update",
		Body:        "v1.2.3",
		Priority:    notify.PriorityHigh,
		TTL:         10 * time.Minute,
		CollapseKey: "config-push",
	}

	t.Run("OK response is a success carrying the WNS message id", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()

		channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer test-access-token", r.Header.Get("Authorization"))
			assert.Equal(t, "wns/raw", r.Header.Get("X-WNS-Type"))
			assert.Equal(t, "600", r.Header.Get("X-WNS-TTL"))
			assert.Equal(t, "config-push", r.Header.Get("X-WNS-Tag"))
			assert.Equal(t, "1", r.Header.Get("X-WNS-PRIORITY"))

			var envelope map[string]any
			require.NoError(t, json.NewDecoder(r.Body).Decode(&envelope))
			assert.Equal(t, "Update", envelope["title"])

			w.Header().Set("X-WNS-Msg-ID", "wns-msg-1")
			w.WriteHeader(http.StatusOK)
		}))
		defer channelSrv.Close()

		adapter := newAdapter(t, tokenSrv.URL)
		target := notify.DeviceTarget{DeviceID: "dev-1", Credential: channelSrv.URL}

		id, err := adapter.Send(ctx, target, payload)

		require.NoError(t, err)
		assert.Equal(t, "wns-msg-1", id)
	})

	t.Run("Expired channel classifies as Unregistered", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()
		channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusGone)
		}))
		defer channelSrv.Close()

		adapter := newAdapter(t, tokenSrv.URL)
		_, err := adapter.Send(ctx, notify.DeviceTarget{DeviceID: "d", Credential: channelSrv.URL}, payload)

		var nErr *notify.Error
		require.True(t, errors.As(err, &nErr))
		assert.Equal(t, notify.KindUnregistered, nErr.Kind)
	})

	t.Run("Throttle classifies as RateLimited with Retry-After", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()
		channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "12")
			w.WriteHeader(http.StatusNotAcceptable)
		}))
		defer channelSrv.Close()

		adapter := newAdapter(t, tokenSrv.URL)
		_, err := adapter.Send(ctx, notify.DeviceTarget{DeviceID: "d", Credential: channelSrv.URL}, payload)

		var nErr *notify.Error
		require.True(t, errors.As(err, &nErr))
		assert.Equal(t, notify.KindRateLimited, nErr.Kind)
		assert.Equal(t, 12*time.Second, nErr.RetryAfter)
	})

	t.Run("Unauthorized classifies as AuthFailed", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()
		channelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer channelSrv.Close()

		adapter := newAdapter(t, tokenSrv.URL)
		_, err := adapter.Send(ctx, notify.DeviceTarget{DeviceID: "d", Credential: channelSrv.URL}, payload)

		var nErr *notify.Error
		require.True(t, errors.As(err, &nErr))
		assert.Equal(t, notify.KindAuthFailed, nErr.Kind)
	})

	t.Run("Topic sends are unsupported", func(t *testing.T) {
		tokenSrv := newTokenServer(t)
		defer tokenSrv.Close()

		adapter := newAdapter(t, tokenSrv.URL)
		_, err := adapter.SendTopic(ctx, "anything", payload)
		assert.ErrorIs(t, err, notify.ErrTopicUnsupported)
	})
}

func TestWNSConfigValidation(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := wns.NewAdapter(wns.Config{PackageSID: "sid-only"}, logger)
	require.Error(t, err)
}
