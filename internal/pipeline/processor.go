package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/fieldgrid/fleetnotify/internal/orchestrator"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// JobSubmitter is the orchestrator surface the processor needs.
type JobSubmitter interface {
	SubmitJob(ctx context.Context, req orchestrator.SubmitRequest) (string, error)
}

// NewProcessor creates the logic that hands transformed submissions to the
// orchestrator. Submission is fire-and-forget; the job itself runs in the
// orchestrator's background workers, so the message is acked as soon as the
// job is accepted.
func NewProcessor(jobs JobSubmitter, logger *slog.Logger) messagepipeline.StreamProcessor[JobSubmission] {
	return func(ctx context.Context, original messagepipeline.Message, sub *JobSubmission) error {
		procLogger := logger.With(
			"job_type", sub.JobType,
			"pubsub_msg_id", original.ID,
		)

		jobID, err := jobs.SubmitJob(ctx, orchestrator.SubmitRequest{
			JobType:       sub.JobType,
			Criteria:      sub.Criteria,
			Payload:       sub.Payload,
			Preferred:     sub.ProviderPreference,
			Topic:         sub.Topic,
			TopicPlatform: sub.TopicPlatform,
		})
		if err != nil {
			// Redelivering an invalid submission can never succeed; drop it
			// and let the DLQ counter surface the problem.
			var nErr *notify.Error
			if errors.As(err, &nErr) && nErr.Kind == notify.KindBadRequest {
				procLogger.Warn("Dropping invalid job submission.", "err", err)
				return nil
			}
			procLogger.Error("Job submission failed", "err", err)
			return err // Retryable
		}

		procLogger.Info("Job accepted.", "job_id", jobID)
		return nil
	}
}
