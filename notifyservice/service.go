package notifyservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/fieldgrid/fleetnotify/internal/api"
	"github.com/fieldgrid/fleetnotify/internal/orchestrator"
	"github.com/fieldgrid/fleetnotify/internal/pipeline"
	"github.com/fieldgrid/fleetnotify/notifyservice/config"
)

// Wrapper ties the HTTP control surface, the pub/sub ingestion pipeline and
// the job orchestrator into one unit with a common lifecycle.
type Wrapper struct {
	httpServer      *http.Server
	pipelineService *messagepipeline.StreamingService[pipeline.JobSubmission]
	orchestrator    *orchestrator.Orchestrator
	logger          *slog.Logger
}

// New assembles the service. The consumer may be nil when the deployment has
// no pub/sub ingestion path; the HTTP API still runs.
func New(
	cfg *config.Config,
	consumer messagepipeline.MessageConsumer,
	orch *orchestrator.Orchestrator,
	providers api.ProviderHealth,
	logger *slog.Logger,
) (*Wrapper, error) {

	// 1. Ingestion pipeline
	var streamingService *messagepipeline.StreamingService[pipeline.JobSubmission]
	if consumer != nil {
		processor := pipeline.NewProcessor(orch, logger)

		var err error
		streamingService, err = messagepipeline.NewStreamingService(
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.JobSubmissionTransformer,
			processor,
			logger,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	// 2. HTTP control surface
	jobsAPI := api.NewJobsAPI(orch, providers, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Route("/api/v1", jobsAPI.Routes)

	return &Wrapper{
		httpServer: &http.Server{
			Addr:    cfg.ListenAddr,
			Handler: r,
		},
		pipelineService: streamingService,
		orchestrator:    orch,
		logger:          logger,
	}, nil
}

// Start runs the ingestion pipeline and then serves HTTP until the server is
// shut down. It blocks.
func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.logger.Info("Service is now ready.", "addr", w.httpServer.Addr)
	if err := w.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops ingestion first so no new jobs arrive, then drains running
// jobs, then closes the HTTP server.
func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.orchestrator.Shutdown(ctx); err != nil {
		w.logger.Error("Job orchestrator shutdown failed.", "err", err)
		finalErr = err
	}
	if err := w.httpServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
