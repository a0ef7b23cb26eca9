// Package orchestrator owns the job state machine. It accepts submissions,
// drives the dispatcher across the resolved fleet in the background, keeps
// live counts queryable while a job runs, and persists exactly one outcome
// record when the job reaches a terminal state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fieldgrid/fleetnotify/internal/dispatch"
	"github.com/fieldgrid/fleetnotify/pkg/notify"
)

// JobDispatcher is the page-driving delivery engine. Satisfied by
// *dispatch.Dispatcher.
type JobDispatcher interface {
	Dispatch(
		ctx context.Context,
		resolver dispatch.PageResolver,
		criteria notify.Criteria,
		payload *notify.Payload,
		opts dispatch.Options,
	) iter.Seq2[[]notify.Result, error]
}

// SubmitRequest is one job submission.
type SubmitRequest struct {
	// JobType is a caller-supplied label carried into the outcome record
	// ("config_update", "alert", "command"). Defaults to "notification".
	JobType  string
	Criteria notify.Criteria
	Payload  *notify.Payload

	// Preferred is an optional ordered provider override, resolved once at
	// job start.
	Preferred []string

	// Topic requests a native broadcast on TopicPlatform instead of
	// per-device fan-out.
	Topic         string
	TopicPlatform notify.Platform
}

// jobState is the in-memory record of one running job. Removed from the
// running set once the outcome is durably saved.
type jobState struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	outcome *notify.JobOutcome
}

// Orchestrator runs jobs asynchronously. SubmitJob returns immediately;
// callers poll GetJobOutcome for live counts while the job is running and
// the final record once it is terminal.
type Orchestrator struct {
	dispatcher JobDispatcher
	resolver   dispatch.PageResolver
	devices    notify.DeviceRegistry
	outcomes   notify.OutcomeStore
	audit      notify.ResultAppender // optional
	logger     *slog.Logger

	mu      sync.Mutex
	running map[string]*jobState
	wg      sync.WaitGroup
}

// New assembles the orchestrator. audit may be nil when no per-result trail
// is wanted.
func New(
	dispatcher JobDispatcher,
	resolver dispatch.PageResolver,
	devices notify.DeviceRegistry,
	outcomes notify.OutcomeStore,
	audit notify.ResultAppender,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		dispatcher: dispatcher,
		resolver:   resolver,
		devices:    devices,
		outcomes:   outcomes,
		audit:      audit,
		logger:     logger.With("component", "Orchestrator"),
		running:    make(map[string]*jobState),
	}
}

// SubmitJob validates the request, records a pending job, and starts its run
// in the background. It never blocks on delivery.
func (o *Orchestrator) SubmitJob(ctx context.Context, req SubmitRequest) (string, error) {
	if req.Payload == nil {
		return "", notify.NewError(notify.KindBadRequest, "payload is required", nil)
	}
	if req.Topic != "" && req.TopicPlatform == "" {
		return "", notify.NewError(notify.KindBadRequest, "topic dispatch requires a platform", nil)
	}
	if req.Topic == "" && req.Criteria.Kind == "" {
		return "", notify.NewError(notify.KindBadRequest, "targeting criteria is required", nil)
	}
	if req.JobType == "" {
		req.JobType = "notification"
	}

	jobID := uuid.NewString()

	// The job outlives the submission request; only CancelJob or process
	// shutdown stops it.
	jobCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	st := &jobState{
		cancel: cancel,
		done:   make(chan struct{}),
		outcome: &notify.JobOutcome{
			JobID:       jobID,
			JobType:     req.JobType,
			Status:      notify.StatusPending,
			StartedAt:   time.Now().UTC(),
			PerPlatform: make(map[notify.Platform]notify.PlatformCount),
		},
	}

	o.mu.Lock()
	o.running[jobID] = st
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(jobCtx, st, req)
	}()

	o.logger.Info("Job submitted.", "job_id", jobID, "job_type", req.JobType, "criteria", req.Criteria.Kind)
	return jobID, nil
}

// GetJobOutcome returns live counts for a running job or the persisted
// record for a finished one. Unknown ids return notify.ErrJobNotFound.
func (o *Orchestrator) GetJobOutcome(ctx context.Context, jobID string) (*notify.JobOutcome, error) {
	o.mu.Lock()
	st, ok := o.running[jobID]
	o.mu.Unlock()

	if ok {
		st.mu.Lock()
		defer st.mu.Unlock()
		return st.outcome.Clone(), nil
	}
	return o.outcomes.GetJobOutcome(ctx, jobID)
}

// CancelJob requests cancellation of a running job. The in-flight page
// completes; later pages are never dispatched. Cancelling a job that is
// already terminal is a no-op.
func (o *Orchestrator) CancelJob(ctx context.Context, jobID string) error {
	o.mu.Lock()
	st, ok := o.running[jobID]
	o.mu.Unlock()

	if ok {
		st.cancel()
		return nil
	}
	if _, err := o.outcomes.GetJobOutcome(ctx, jobID); err != nil {
		return err
	}
	return nil
}

// Shutdown cancels every running job and waits for their outcomes to be
// finalized, bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, st := range o.running {
		st.cancel()
	}
	o.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("orchestrator shutdown: %w", ctx.Err())
	}
}

// awaitJob blocks until the job reaches a terminal state. Test hook.
func (o *Orchestrator) awaitJob(jobID string) {
	o.mu.Lock()
	st, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		<-st.done
	}
}

func (o *Orchestrator) run(ctx context.Context, st *jobState, req SubmitRequest) {
	st.mu.Lock()
	st.outcome.Status = notify.StatusRunning
	jobID := st.outcome.JobID
	st.mu.Unlock()

	opts := dispatch.Options{
		Preferred:     req.Preferred,
		Topic:         req.Topic,
		TopicPlatform: req.TopicPlatform,
	}

	var fatal error
	for results, err := range o.dispatcher.Dispatch(ctx, o.resolver, req.Criteria, req.Payload, opts) {
		// A fatal abort can carry the aborting page's results alongside
		// the error; count them before ending the job.
		o.recordPage(ctx, st, jobID, results)
		if err != nil {
			fatal = err
			break
		}
	}

	o.finalize(ctx, st, req, fatal)
}

// recordPage folds one page of results into the live outcome and applies the
// per-result side effects: token invalidation for dead credentials and the
// best-effort audit trail.
func (o *Orchestrator) recordPage(ctx context.Context, st *jobState, jobID string, results []notify.Result) {
	if len(results) == 0 {
		return
	}

	st.mu.Lock()
	st.outcome.RequestedCount += len(results)
	for _, res := range results {
		pc := st.outcome.PerPlatform[res.Platform]
		if res.Success {
			st.outcome.SuccessCount++
			pc.Sent++
		} else {
			st.outcome.FailureCount++
			pc.Failed++
		}
		st.outcome.RetriedCount += res.Attempt - 1
		st.outcome.PerPlatform[res.Platform] = pc
	}
	st.mu.Unlock()

	// Side effects run outside the counter lock. Invalidation is idempotent
	// at the registry boundary; no deduplication here.
	sideCtx := context.WithoutCancel(ctx)
	for _, res := range results {
		if res.ErrorKind == notify.KindUnregistered {
			if err := o.devices.InvalidateToken(sideCtx, res.DeviceID); err != nil {
				o.logger.Error("Token invalidation failed.", "job_id", jobID, "device_id", res.DeviceID, "err", err)
			}
		}
		if res.ErrorKind == notify.KindUnknown {
			o.logger.Warn("Unclassified delivery failure, flagging for review.",
				"job_id", jobID, "device_id", res.DeviceID, "detail", res.ErrorDetail)
		}
		if o.audit != nil {
			if err := o.audit.AppendResult(sideCtx, jobID, res); err != nil {
				o.logger.Warn("Audit append failed.", "job_id", jobID, "device_id", res.DeviceID, "err", err)
			}
		}
	}
}

// finalize decides the terminal status, stamps the outcome, and performs the
// single durable save.
func (o *Orchestrator) finalize(ctx context.Context, st *jobState, req SubmitRequest, fatal error) {
	st.mu.Lock()
	switch {
	case fatal == nil:
		switch {
		case st.outcome.FailureCount == 0:
			st.outcome.Status = notify.StatusCompleted
		case st.outcome.SuccessCount == 0:
			st.outcome.Status = notify.StatusFailed
		default:
			st.outcome.Status = notify.StatusPartial
		}
	case errors.Is(fatal, context.Canceled):
		st.outcome.Status = notify.StatusCancelled
	default:
		st.outcome.Status = notify.StatusFailed
		st.outcome.Error = fatal.Error()
	}
	st.outcome.FinishedAt = time.Now().UTC()
	status := st.outcome.Status
	jobID := st.outcome.JobID
	st.mu.Unlock()

	if status == notify.StatusCancelled && req.Topic == "" {
		o.countUnattempted(ctx, st, req.Criteria)
	}

	st.mu.Lock()
	final := st.outcome.Clone()
	st.mu.Unlock()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := o.outcomes.SaveJobOutcome(saveCtx, final); err != nil {
		// Keep the job in the running set so GetJobOutcome can still serve
		// the terminal record from memory.
		o.logger.Error("Outcome save failed, retaining in memory.", "job_id", jobID, "err", err)
	} else {
		o.mu.Lock()
		delete(o.running, jobID)
		o.mu.Unlock()
	}

	close(st.done)
	o.logger.Info("Job finished.", "job_id", jobID, "status", status,
		"requested", final.RequestedCount, "success", final.SuccessCount,
		"failed", final.FailureCount, "retried", final.RetriedCount)
}

// countUnattempted sizes the full match set after a cancellation so the
// outcome records how many devices were never attempted. The resolver
// snapshot is assumed static for the duration of the job.
func (o *Orchestrator) countUnattempted(ctx context.Context, st *jobState, criteria notify.Criteria) {
	countCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	total := 0
	cursor := ""
	for {
		page, err := o.resolver.ResolvePage(countCtx, criteria, countPageSize, cursor)
		if err != nil {
			o.logger.Warn("Could not size fleet for cancelled job.", "err", err)
			return
		}
		total += len(page.Targets)
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	st.mu.Lock()
	if total > st.outcome.RequestedCount {
		st.outcome.RequestedCount = total
	}
	st.mu.Unlock()
}

const countPageSize = 200
