// Package pipeline contains the message processing components that feed job
// submissions from Pub/Sub into the orchestrator.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// JobSubmission is the wire shape of one submission message, shared with the
// HTTP surface.
type JobSubmission struct {
	JobType            string          `json:"job_type"`
	Criteria           notify.Criteria `json:"criteria"`
	Payload            *notify.Payload `json:"payload"`
	ProviderPreference []string        `json:"provider_preference,omitempty"`
	Topic              string          `json:"topic,omitempty"`
	TopicPlatform      notify.Platform `json:"topic_platform,omitempty"`
}

// JobSubmissionTransformer is a dataflow Transformer that safely unmarshals a
// raw message payload into a structured JobSubmission.
//
// Malformed messages are skipped rather than retried: redelivery cannot fix a
// payload that never parsed, so the StreamingService's Nack/DLQ handling takes
// over.
func JobSubmissionTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*JobSubmission, bool, error) {
	var sub JobSubmission
	if err := json.Unmarshal(msg.Payload, &sub); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal job submission from message %s: %w", msg.ID, err)
	}

	if sub.Payload == nil {
		return nil, true, fmt.Errorf("job submission in message %s carries no notification payload", msg.ID)
	}

	return &sub, false, nil
}
