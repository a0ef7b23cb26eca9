package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fleetnotify/internal/storage/cache"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest any) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) SaveJobOutcome(ctx context.Context, outcome *notify.JobOutcome) error {
	return m.Called(ctx, outcome).Error(0)
}
func (m *MockRealStore) GetJobOutcome(ctx context.Context, jobID string) (*notify.JobOutcome, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notify.JobOutcome), args.Error(1)
}

func TestCachedOutcomeStore(t *testing.T) {
	ctx := context.Background()
	cacheKey := "fleetnotify:outcome:job-1"
	outcome := &notify.JobOutcome{JobID: "job-1", Status: notify.StatusCompleted, RequestedCount: 5, SuccessCount: 5}

	t.Run("Save writes through and fills the cache", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedOutcomeStore(mockDB, mockCache, time.Hour)

		mockDB.On("SaveJobOutcome", ctx, outcome).Return(nil)
		mockCache.On("Set", ctx, cacheKey, outcome, time.Hour).Return(nil)

		err := store.SaveJobOutcome(ctx, outcome)

		require.NoError(t, err)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Save failure skips the cache fill", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedOutcomeStore(mockDB, mockCache, time.Hour)

		mockDB.On("SaveJobOutcome", ctx, outcome).Return(assert.AnError)

		err := store.SaveJobOutcome(ctx, outcome)

		require.Error(t, err)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Miss falls back to the store and refills", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedOutcomeStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError) // Error implies miss
		mockDB.On("GetJobOutcome", ctx, "job-1").Return(outcome, nil)
		mockCache.On("Set", ctx, cacheKey, outcome, time.Hour).Return(nil)

		got, err := store.GetJobOutcome(ctx, "job-1")

		require.NoError(t, err)
		assert.Equal(t, notify.StatusCompleted, got.Status)
		mockDB.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Hit never touches the store", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedOutcomeStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Run(func(args mock.Arguments) {
			dest := args.Get(2).(*notify.JobOutcome)
			*dest = *outcome
		}).Return(nil)

		got, err := store.GetJobOutcome(ctx, "job-1")

		require.NoError(t, err)
		assert.Equal(t, 5, got.SuccessCount)
		mockDB.AssertNotCalled(t, "GetJobOutcome", mock.Anything, mock.Anything)
	})

	t.Run("Unknown job propagates not found", func(t *testing.T) {
		mockCache := new(MockCache)
		mockDB := new(MockRealStore)
		store := cache.NewCachedOutcomeStore(mockDB, mockCache, time.Hour)

		mockCache.On("Get", ctx, "fleetnotify:outcome:nope", mock.Anything).Return(assert.AnError)
		mockDB.On("GetJobOutcome", ctx, "nope").Return(nil, notify.ErrJobNotFound)

		_, err := store.GetJobOutcome(ctx, "nope")

		assert.ErrorIs(t, err, notify.ErrJobNotFound)
		mockCache.AssertNotCalled(t, "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}
