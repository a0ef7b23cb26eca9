// Package firestore holds the Firestore-backed persistence: the job outcome
// store with its append-only result audit trail, and the fleet device
// registry the target resolver queries.
package firestore

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

const (
	jobsCollection    = "notification_jobs"
	resultsCollection = "results"
)

// OutcomeStore persists one document per job under notification_jobs, keyed
// by job id, with per-device results appended to a results subcollection.
type OutcomeStore struct {
	client *firestore.Client
}

func NewOutcomeStore(client *firestore.Client) *OutcomeStore {
	return &OutcomeStore{client: client}
}

func (s *OutcomeStore) SaveJobOutcome(ctx context.Context, outcome *notify.JobOutcome) error {
	_, err := s.jobRef(outcome.JobID).Set(ctx, outcome)
	if err != nil {
		return fmt.Errorf("save outcome for job %s: %w", outcome.JobID, err)
	}
	return nil
}

func (s *OutcomeStore) GetJobOutcome(ctx context.Context, jobID string) (*notify.JobOutcome, error) {
	doc, err := s.jobRef(jobID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("job %s: %w", jobID, notify.ErrJobNotFound)
		}
		return nil, fmt.Errorf("get outcome for job %s: %w", jobID, err)
	}

	var outcome notify.JobOutcome
	if err := doc.DataTo(&outcome); err != nil {
		return nil, fmt.Errorf("decode outcome for job %s: %w", jobID, err)
	}
	return &outcome, nil
}

// AppendResult writes one audit record. Auto-generated document ids keep the
// subcollection append-only.
func (s *OutcomeStore) AppendResult(ctx context.Context, jobID string, result notify.Result) error {
	_, err := s.jobRef(jobID).Collection(resultsCollection).NewDoc().Create(ctx, result)
	if err != nil {
		return fmt.Errorf("append result for job %s: %w", jobID, err)
	}
	return nil
}

// Results reads back the audit trail for one job, in no guaranteed order.
func (s *OutcomeStore) Results(ctx context.Context, jobID string) ([]notify.Result, error) {
	iter := s.jobRef(jobID).Collection(resultsCollection).Documents(ctx)
	defer iter.Stop()

	var results []notify.Result
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate results for job %s: %w", jobID, err)
		}
		var res notify.Result
		if err := doc.DataTo(&res); err != nil {
			return nil, fmt.Errorf("decode result for job %s: %w", jobID, err)
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *OutcomeStore) jobRef(jobID string) *firestore.DocumentRef {
	return s.client.Collection(jobsCollection).Doc(jobID)
}
