package fcm_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"firebase.google.com/go/v4/messaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fleetnotify/internal/platform/fcm"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// MockClient satisfies the MessagingClient interface.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Send(ctx context.Context, msg *messaging.Message) (string, error) {
	args := m.Called(ctx, msg)
	return args.String(0), args.Error(1)
}

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFCMAdapter(t *testing.T) {
	ctx := context.Background()
	logger := newTestLogger()
	payload := &notify.Payload{Title: "Update", Body: "v1.2.3", Priority: notify.PriorityHigh}
	target := notify.DeviceTarget{DeviceID: "dev-1", Platform: notify.PlatformFCM, Credential: "token-1"}

	t.Run("Happy path returns the FCM message id", func(t *testing.T) {
		mockClient := new(MockClient)
		adapter, err := fcm.NewAdapter(mockClient, fcm.Config{}, logger)
		require.NoError(t, err)

		mockClient.On("Send", mock.Anything, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Token == "token-1" &&
				m.Notification.Title == "Update" &&
				m.Android.Priority == "high"
		})).Return("projects/p/messages/msg-1", nil)

		id, err := adapter.Send(ctx, target, payload)

		require.NoError(t, err)
		assert.Equal(t, "projects/p/messages/msg-1", id)
		mockClient.AssertExpectations(t)
	})

	t.Run("Topic send sets the topic, not a token", func(t *testing.T) {
		mockClient := new(MockClient)
		adapter, _ := fcm.NewAdapter(mockClient, fcm.Config{}, logger)

		mockClient.On("Send", mock.Anything, mock.MatchedBy(func(m *messaging.Message) bool {
			return m.Topic == "fleet-eu" && m.Token == ""
		})).Return("msg-2", nil)

		id, err := adapter.SendTopic(ctx, "fleet-eu", payload)

		require.NoError(t, err)
		assert.Equal(t, "msg-2", id)
	})

	t.Run("Unclassified SDK error surfaces as Unknown", func(t *testing.T) {
		mockClient := new(MockClient)
		adapter, _ := fcm.NewAdapter(mockClient, fcm.Config{}, logger)

		mockClient.On("Send", mock.Anything, mock.Anything).Return("", errors.New("something odd"))

		_, err := adapter.Send(ctx, target, payload)
		require.Error(t, err)

		var nErr *notify.Error
		require.True(t, errors.As(err, &nErr))
		assert.Equal(t, notify.KindUnknown, nErr.Kind)
	})

	// Note: we rely on integration tests to verify the mapping of specific
	// Firebase error helpers (IsRegistrationTokenNotRegistered etc.), as
	// fabricating the SDK's internal error types is brittle.

	t.Run("Nil client fails construction", func(t *testing.T) {
		_, err := fcm.NewAdapter(nil, fcm.Config{}, logger)
		require.Error(t, err)
	})

	t.Run("Health stays healthy on non-transport failures", func(t *testing.T) {
		mockClient := new(MockClient)
		adapter, _ := fcm.NewAdapter(mockClient, fcm.Config{}, logger)

		mockClient.On("Send", mock.Anything, mock.Anything).Return("", errors.New("odd")).Times(5)
		for i := 0; i < 5; i++ {
			_, _ = adapter.Send(ctx, target, payload)
		}

		assert.True(t, adapter.HealthCheck(ctx).Healthy())
	})
}
