// Package api exposes the job submission and status surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/fieldgrid/fleetnotify/internal/orchestrator"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// JobService is the orchestrator surface the API needs. Satisfied by
// *orchestrator.Orchestrator.
type JobService interface {
	SubmitJob(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
	GetJobOutcome(ctx context.Context, jobID string) (*notify.JobOutcome, error)
	CancelJob(ctx context.Context, jobID string) error
}

// ProviderHealth reports adapter health by provider name. Satisfied by
// *registry.Registry.
type ProviderHealth interface {
	Health(ctx context.Context) map[string]notify.Health
}

type JobsAPI struct {
	Jobs      JobService
	Providers ProviderHealth
	Logger    *slog.Logger
}

func NewJobsAPI(jobs JobService, providers ProviderHealth, logger *slog.Logger) *JobsAPI {
	return &JobsAPI{
		Jobs:      jobs,
		Providers: providers,
		Logger:    logger,
	}
}

// Routes mounts the job endpoints on a chi router.
func (api *JobsAPI) Routes(r chi.Router) {
	r.Post("/jobs", api.SubmitJob)
	r.Get("/jobs/{jobID}", api.GetJobOutcome)
	r.Post("/jobs/{jobID}/cancel", api.CancelJob)
	r.Get("/providers/health", api.ProviderHealth)
}

// SubmitJobRequest is the POST /jobs body.
type SubmitJobRequest struct {
	JobType            string          `json:"job_type"`
	Criteria           notify.Criteria `json:"criteria"`
	Payload            *notify.Payload `json:"payload"`
	ProviderPreference []string        `json:"provider_preference,omitempty"`
	Topic              string          `json:"topic,omitempty"`
	TopicPlatform      notify.Platform `json:"topic_platform,omitempty"`
}

type SubmitJobResponse struct {
	JobID string `json:"job_id"`
}

func (api *JobsAPI) SubmitJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}

	jobID, err := api.Jobs.SubmitJob(ctx, orchestrator.SubmitRequest{
		JobType:       req.JobType,
		Criteria:      req.Criteria,
		Payload:       req.Payload,
		Preferred:     req.ProviderPreference,
		Topic:         req.Topic,
		TopicPlatform: req.TopicPlatform,
	})
	if err != nil {
		var nErr *notify.Error
		if errors.As(err, &nErr) && nErr.Kind == notify.KindBadRequest {
			writeJSONError(w, http.StatusBadRequest, nErr.Detail)
			return
		}
		api.Logger.Error("Job submission failed.", "err", err)
		writeJSONError(w, http.StatusInternalServerError, "submission failed")
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitJobResponse{JobID: jobID})
}

func (api *JobsAPI) GetJobOutcome(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	outcome, err := api.Jobs.GetJobOutcome(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, notify.ErrJobNotFound) {
			writeJSONError(w, http.StatusNotFound, "job not found")
			return
		}
		api.Logger.Error("Outcome lookup failed.", "job_id", jobID, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (api *JobsAPI) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	if err := api.Jobs.CancelJob(r.Context(), jobID); err != nil {
		if errors.Is(err, notify.ErrJobNotFound) {
			writeJSONError(w, http.StatusNotFound, "job not found")
			return
		}
		api.Logger.Error("Cancel failed.", "job_id", jobID, "err", err)
		writeJSONError(w, http.StatusInternalServerError, "cancel failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ProviderHealth reports every registered adapter's probe result. Degraded
// providers flip the status code so load balancers can act on it.
func (api *JobsAPI) ProviderHealth(w http.ResponseWriter, r *http.Request) {
	health := api.Providers.Health(r.Context())

	code := http.StatusOK
	for _, h := range health {
		if !h.Healthy() {
			code = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, code, health)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
