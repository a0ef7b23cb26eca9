package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fieldgrid/fleetnotify/internal/api"
	"github.com/fieldgrid/fleetnotify/internal/orchestrator"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// --- Mocks ---
type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) SubmitJob(ctx context.Context, req orchestrator.SubmitRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}
func (m *MockJobService) GetJobOutcome(ctx context.Context, jobID string) (*notify.JobOutcome, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*notify.JobOutcome), args.Error(1)
}
func (m *MockJobService) CancelJob(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

type MockProviderHealth struct {
	mock.Mock
}

func (m *MockProviderHealth) Health(ctx context.Context) map[string]notify.Health {
	return m.Called(ctx).Get(0).(map[string]notify.Health)
}

// --- Setup ---
func setupAPI(t *testing.T) (*chi.Mux, *MockJobService, *MockProviderHealth) {
	t.Helper()
	mockJobs := new(MockJobService)
	mockHealth := new(MockProviderHealth)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	r := chi.NewRouter()
	r.Route("/api/v1", api.NewJobsAPI(mockJobs, mockHealth, logger).Routes)
	return r, mockJobs, mockHealth
}

func TestSubmitJob(t *testing.T) {
	t.Run("Valid submission returns accepted with job id", func(t *testing.T) {
		router, mockJobs, _ := setupAPI(t)
		mockJobs.On("SubmitJob", mock.Anything, mock.MatchedBy(func(req orchestrator.SubmitRequest) bool {
			return req.JobType == "config_update" &&
				req.Criteria.Kind == notify.CriteriaSite &&
				req.Payload.Title == "Update"
		})).Return("job-123", nil)

		body, _ := json.Marshal(api.SubmitJobRequest{
			JobType:  "config_update",
			Criteria: notify.Criteria{Kind: notify.CriteriaSite, SiteID: "site-7"},
			Payload:  &notify.Payload{Title: "Update", Body: "v1.2.3"},
		})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusAccepted, rec.Code)
		var resp api.SubmitJobResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, "job-123", resp.JobID)
		mockJobs.AssertExpectations(t)
	})

	t.Run("Malformed body is a bad request", func(t *testing.T) {
		router, _, _ := setupAPI(t)
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader([]byte("{not json")))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("Rejected submission maps to bad request", func(t *testing.T) {
		router, mockJobs, _ := setupAPI(t)
		mockJobs.On("SubmitJob", mock.Anything, mock.Anything).
			Return("", notify.NewError(notify.KindBadRequest, "payload is required", nil))

		body, _ := json.Marshal(api.SubmitJobRequest{Criteria: notify.Criteria{Kind: notify.CriteriaAll}})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs", bytes.NewReader(body))
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "payload is required")
	})
}

func TestGetJobOutcome(t *testing.T) {
	t.Run("Known job returns its outcome", func(t *testing.T) {
		router, mockJobs, _ := setupAPI(t)
		mockJobs.On("GetJobOutcome", mock.Anything, "job-123").Return(&notify.JobOutcome{
			JobID:          "job-123",
			Status:         notify.StatusPartial,
			RequestedCount: 10,
			SuccessCount:   8,
			FailureCount:   2,
		}, nil)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/job-123", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		var outcome notify.JobOutcome
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
		assert.Equal(t, notify.StatusPartial, outcome.Status)
		assert.Equal(t, 8, outcome.SuccessCount)
	})

	t.Run("Unknown job is not found", func(t *testing.T) {
		router, mockJobs, _ := setupAPI(t)
		mockJobs.On("GetJobOutcome", mock.Anything, "nope").Return(nil, notify.ErrJobNotFound)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/jobs/nope", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestCancelJob(t *testing.T) {
	t.Run("Cancel returns no content", func(t *testing.T) {
		router, mockJobs, _ := setupAPI(t)
		mockJobs.On("CancelJob", mock.Anything, "job-123").Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/job-123/cancel", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		mockJobs.AssertExpectations(t)
	})

	t.Run("Cancelling an unknown job is not found", func(t *testing.T) {
		router, mockJobs, _ := setupAPI(t)
		mockJobs.On("CancelJob", mock.Anything, "nope").Return(notify.ErrJobNotFound)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/jobs/nope/cancel", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestProviderHealth(t *testing.T) {
	t.Run("All healthy reports ok", func(t *testing.T) {
		router, _, mockHealth := setupAPI(t)
		mockHealth.On("Health", mock.Anything).Return(map[string]notify.Health{
			"fcm":  {State: notify.HealthHealthy},
			"mqtt": {State: notify.HealthHealthy},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/health", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("A degraded provider flips the status code", func(t *testing.T) {
		router, _, mockHealth := setupAPI(t)
		mockHealth.On("Health", mock.Anything).Return(map[string]notify.Health{
			"fcm":  {State: notify.HealthHealthy},
			"apns": {State: notify.HealthUnhealthy, Detail: "connection refused"},
		})

		req := httptest.NewRequest(http.MethodGet, "/api/v1/providers/health", nil)
		rec := httptest.NewRecorder()

		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
