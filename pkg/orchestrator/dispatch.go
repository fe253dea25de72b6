package orchestrator

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/executor"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/metrics"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

// Start launches the settlement worker pool, the retry handler and the
// reconciliation sweep. Returns immediately; cancel the context to stop.
func (o *Orchestrator) Start(ctx context.Context) {
	o.logger.Info("Starting %d settlement workers", o.cfg.Workers)
	for i := 0; i < o.cfg.Workers; i++ {
		go o.worker(ctx, i)
	}

	go o.retryHandler(ctx)
	go o.reconciler(ctx)
}

// worker consumes dispatched intents and drives their target leg. Failures
// here are logged and scheduled for retry, never propagated: the caller that
// submitted the proof already got its response, and the same outcome stays
// reachable through the idempotent TriggerTargetPayment entry point.
func (o *Orchestrator) worker(ctx context.Context, id int) {
	o.logger.Debug("Settlement worker %d started", id)
	for {
		select {
		case <-ctx.Done():
			o.logger.Debug("Settlement worker %d shutting down", id)
			return
		case job, ok := <-o.dispatchJobs:
			if !ok {
				return
			}
			metrics.PendingSettlements.Set(float64(len(o.dispatchJobs)))
			o.processJob(ctx, id, job)
		}
	}
}

func (o *Orchestrator) processJob(ctx context.Context, workerID int, job dispatchJob) {
	err := o.TriggerTargetPayment(ctx, job.IntentID)
	if err == nil {
		o.logger.Info("Worker %d settled intent %s", workerID, job.IntentID)
		return
	}

	switch {
	case errors.Is(err, models.ErrInvalidState):
		// Someone else is settling or already settled this intent
		o.logger.Debug("Worker %d: intent %s no longer awaiting settlement", workerID, job.IntentID)
	case errors.Is(err, models.ErrNotFound):
		o.logger.Error("Worker %d: intent %s vanished from the store", workerID, job.IntentID)
	case errors.Is(err, models.ErrSettlementFailed):
		reason := models.SettlementReason(err)
		o.logger.Error("Worker %d: settlement failed for intent %s: %v", workerID, job.IntentID, err)
		if !models.RetriableSettlement(err) {
			// Timeouts go to the reconciler, reverts need investigation;
			// neither is helped by a blind resubmission
			metrics.RetriesDropped.WithLabelValues(reason).Inc()
			return
		}
		o.scheduleRetry(job, reason)
	default:
		o.logger.Error("Worker %d: error settling intent %s: %v", workerID, job.IntentID, err)
		o.scheduleRetry(job, models.ReasonUnknown)
	}
}

// scheduleRetry queues another attempt with exponential backoff (2^n * 10s,
// capped at 2 minutes), up to the configured retry limit.
func (o *Orchestrator) scheduleRetry(job dispatchJob, reason string) {
	if job.RetryCount >= o.cfg.MaxRetries {
		o.logger.Error("Max retries reached for intent %s, giving up (reason: %s)", job.IntentID, reason)
		metrics.RetriesDropped.WithLabelValues(reason).Inc()
		return
	}

	backoff := time.Duration(math.Pow(2, float64(job.RetryCount))) * 10 * time.Second
	maxBackoff := 2 * time.Minute
	if backoff > maxBackoff {
		backoff = maxBackoff
	}

	retry := retryJob{
		IntentID:    job.IntentID,
		RetryCount:  job.RetryCount + 1,
		NextAttempt: o.now().Add(backoff),
		Reason:      reason,
	}

	select {
	case o.retryJobs <- retry:
		o.logger.Info("Scheduled retry #%d for intent %s in %v (reason: %s)", retry.RetryCount, job.IntentID, backoff, reason)
	default:
		o.logger.Error("Retry queue full, dropping retry for intent %s", job.IntentID)
		metrics.RetriesDropped.WithLabelValues("queue_full").Inc()
	}
}

// retryHandler holds deferred attempts until their backoff elapses, then
// feeds them back to the workers. An intent that left SOURCE_SETTLED in the
// meantime is dropped: the state machine already decided its fate.
func (o *Orchestrator) retryHandler(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second) // Check retry queue every 10 seconds
	defer ticker.Stop()

	var queue []retryJob

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.retryJobs:
			queue = append(queue, job)
			sort.Slice(queue, func(i, j int) bool {
				return queue[i].NextAttempt.Before(queue[j].NextAttempt)
			})
			metrics.RetryQueueSize.Set(float64(len(queue)))
		case <-ticker.C:
			now := o.now()
			var remaining []retryJob

			for _, job := range queue {
				if job.NextAttempt.After(now) {
					remaining = append(remaining, job)
					continue
				}

				intent, err := o.repo.GetByID(ctx, job.IntentID)
				if err != nil || intent.Status != models.StatusSourceSettled {
					o.logger.Debug("Skipping retry for intent %s: no longer awaiting settlement", job.IntentID)
					continue
				}

				metrics.RetriesExecuted.WithLabelValues(job.Reason).Inc()
				o.dispatch(job.IntentID, job.RetryCount)
			}

			queue = remaining
			metrics.RetryQueueSize.Set(float64(len(queue)))
		}
	}
}

// reconciler periodically repairs the three situations the happy path can
// leave behind: overdue PENDING intents that nobody read (lazy expiry only
// runs on access), SOURCE_SETTLED intents whose dispatch was lost (process
// restart, full queue), and TARGET_SETTLING intents stuck past the threshold
// (crash mid-settlement or confirmation timeout).
func (o *Orchestrator) reconciler(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.ReconcileInterval)
	defer ticker.Stop()

	o.logger.Info("Reconciler started (interval: %v)", o.cfg.ReconcileInterval)
	for {
		select {
		case <-ctx.Done():
			o.logger.Info("Reconciler shutting down")
			return
		case <-ticker.C:
			metrics.ReconcilerRuns.Inc()
			o.sweepExpired(ctx)
			o.sweepUnsettled(ctx)
			o.sweepStuck(ctx)
		}
	}
}

// sweepExpired advances overdue PENDING intents that no reader has touched
func (o *Orchestrator) sweepExpired(ctx context.Context) {
	pending, err := o.repo.ListByStatus(ctx, models.StatusPending)
	if err != nil {
		o.logger.Error("Reconciler failed to list pending intents: %v", err)
		return
	}
	for _, intent := range pending {
		if intent.Expired(o.now()) {
			if _, err := o.expireIfDue(ctx, intent); err != nil {
				o.logger.Error("Reconciler failed to expire intent %s: %v", intent.ID, err)
			}
		}
	}
}

// sweepUnsettled re-dispatches SOURCE_SETTLED intents that have been waiting
// longer than the stuck threshold. SOURCE_SETTLED is the durable marker for
// "needs target settlement", so this sweep is what makes the fire-and-forget
// dispatch safe across restarts.
func (o *Orchestrator) sweepUnsettled(ctx context.Context) {
	unsettled, err := o.repo.ListByStatus(ctx, models.StatusSourceSettled)
	if err != nil {
		o.logger.Error("Reconciler failed to list unsettled intents: %v", err)
		return
	}
	cutoff := o.now().Add(-o.cfg.StuckThreshold)
	for _, intent := range unsettled {
		if intent.UpdatedAt.Before(cutoff) {
			o.logger.Info("Reconciler re-dispatching intent %s (unsettled since %s)", intent.ID, intent.UpdatedAt.Format(time.RFC3339))
			o.dispatch(intent.ID, 0)
		}
	}
}

// sweepStuck resolves TARGET_SETTLING intents older than the stuck
// threshold. When a tx ref was recorded the network is asked before deciding:
// a confirmed transfer completes the intent, a reverted or absent one rolls
// it back for retry. Without a recorded ref nothing can have been submitted
// past the executor's submit step, so rollback is safe.
func (o *Orchestrator) sweepStuck(ctx context.Context) {
	settling, err := o.repo.ListByStatus(ctx, models.StatusTargetSettling)
	if err != nil {
		o.logger.Error("Reconciler failed to list settling intents: %v", err)
		return
	}
	cutoff := o.now().Add(-o.cfg.StuckThreshold)

	for _, intent := range settling {
		if !intent.UpdatedAt.Before(cutoff) {
			continue
		}

		if intent.LastAttemptTxRef == "" {
			o.logger.Notice("Reconciler rolling back intent %s: stuck in settling with no submitted transfer", intent.ID)
			o.rollback(ctx, intent.ID, nil)
			metrics.ReconcilerRecovered.WithLabelValues("rolled_back").Inc()
			o.dispatch(intent.ID, 0)
			continue
		}

		status, err := o.executor.LookupTransfer(ctx, intent.LastAttemptTxRef)
		if err != nil {
			// Leave it for the next sweep rather than risking a double pay
			o.logger.Error("Reconciler could not resolve transfer %s for intent %s: %v", intent.LastAttemptTxRef, intent.ID, err)
			continue
		}

		switch status {
		case executor.TransferConfirmed:
			o.logger.NoticeWithChain(intent.TargetChain, "Reconciler completing intent %s: transfer %s confirmed", intent.ID, intent.LastAttemptTxRef)
			if err := o.complete(ctx, intent, intent.LastAttemptTxRef, models.DeriveSettlementProof(intent.LastAttemptTxRef)); err != nil {
				o.logger.Error("Reconciler failed to complete intent %s: %v", intent.ID, err)
				continue
			}
			metrics.ReconcilerRecovered.WithLabelValues("completed").Inc()
		case executor.TransferFailed:
			o.logger.Notice("Reconciler rolling back intent %s: transfer %s reverted", intent.ID, intent.LastAttemptTxRef)
			o.rollback(ctx, intent.ID, nil)
			metrics.ReconcilerRecovered.WithLabelValues("rolled_back").Inc()
		case executor.TransferNotFound:
			o.logger.Notice("Reconciler rolling back intent %s: transfer %s not found on chain", intent.ID, intent.LastAttemptTxRef)
			o.rollback(ctx, intent.ID, nil)
			metrics.ReconcilerRecovered.WithLabelValues("rolled_back").Inc()
			o.dispatch(intent.ID, 0)
		}
	}
}
