// Package orchestrator owns the payment intent state machine. Every
// transition is a single conditional write keyed on the expected prior
// status, so concurrent or duplicate requests for the same intent resolve to
// exactly one winner performing the external side effect.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/circuitbreaker"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/executor"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/metrics"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/store"
)

// SettlementExecutor executes the target-chain leg of an intent
type SettlementExecutor interface {
	Execute(ctx context.Context, intentID, amount, recipient string) (*executor.Result, error)
	LookupTransfer(ctx context.Context, txRef string) (executor.TransferStatus, error)
}

// ProofVerifier validates a source-chain settlement proof
type ProofVerifier interface {
	Verify(ctx context.Context, proof string) error
}

// Config holds the orchestrator's policy knobs
type Config struct {
	PayerChain        string
	TargetChain       string
	IntentTTL         time.Duration
	Workers           int
	MaxRetries        int
	ReconcileInterval time.Duration
	StuckThreshold    time.Duration
}

// retryJob is a deferred settlement attempt for a previously failed intent
type retryJob struct {
	IntentID    string
	RetryCount  int
	NextAttempt time.Time
	Reason      string
}

// dispatchJob carries an intent into the settlement worker pool
type dispatchJob struct {
	IntentID   string
	RetryCount int
}

// Orchestrator drives intents through their lifecycle: creation, source
// proof verification, asynchronous target settlement, retries and
// reconciliation.
type Orchestrator struct {
	repo     store.Repository
	verifier ProofVerifier
	executor SettlementExecutor
	breaker  *circuitbreaker.CircuitBreaker
	cfg      Config
	logger   logger.Logger

	dispatchJobs chan dispatchJob
	retryJobs    chan retryJob

	// now is replaceable in tests to exercise expiry boundaries
	now func() time.Time
}

// New creates the orchestrator. Start must be called to run the settlement
// workers; the synchronous operations work without it.
func New(repo store.Repository, pv ProofVerifier, exec SettlementExecutor, breaker *circuitbreaker.CircuitBreaker, cfg Config, log logger.Logger) *Orchestrator {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Orchestrator{
		repo:         repo,
		verifier:     pv,
		executor:     exec,
		breaker:      breaker,
		cfg:          cfg,
		logger:       log,
		dispatchJobs: make(chan dispatchJob, 100), // Buffer for pending settlements
		retryJobs:    make(chan retryJob, 100),    // Buffer for retry jobs
		now:          time.Now,
	}
}

// CreateIntent validates the request and persists a new PENDING intent. No
// side effects beyond the store write.
func (o *Orchestrator) CreateIntent(ctx context.Context, amount, recipient string) (*models.PaymentIntent, error) {
	if !models.ValidAmount(amount) {
		return nil, fmt.Errorf("%w: amount must be a positive decimal, got %q", models.ErrInvalidInput, amount)
	}
	if !common.IsHexAddress(recipient) {
		return nil, fmt.Errorf("%w: recipient is not a valid %s address", models.ErrInvalidInput, o.cfg.TargetChain)
	}

	now := o.now().UTC()
	intent := &models.PaymentIntent{
		ID:                uuid.NewString(),
		Amount:            amount,
		MerchantRecipient: recipient,
		PayerChain:        o.cfg.PayerChain,
		TargetChain:       o.cfg.TargetChain,
		Status:            models.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
		ExpiresAt:         now.Add(o.cfg.IntentTTL),
	}

	if err := o.repo.Create(ctx, intent); err != nil {
		return nil, fmt.Errorf("failed to persist intent: %w", err)
	}

	metrics.IntentsCreated.Inc()
	o.logger.Info("Created intent %s for %s to %s (expires %s)",
		intent.ID, intent.Amount, intent.MerchantRecipient, intent.ExpiresAt.Format(time.RFC3339))
	return intent, nil
}

// GetIntent returns the intent, lazily advancing an overdue PENDING record
// to EXPIRED before returning it.
func (o *Orchestrator) GetIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	intent, err := o.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return o.expireIfDue(ctx, intent)
}

// expireIfDue applies lazy expiry: a PENDING intent past its TTL is advanced
// to EXPIRED with a conditional write. Losing the race just means someone
// else transitioned the record first, so the fresh copy is returned.
func (o *Orchestrator) expireIfDue(ctx context.Context, intent *models.PaymentIntent) (*models.PaymentIntent, error) {
	if intent.Status != models.StatusPending || !intent.Expired(o.now()) {
		return intent, nil
	}

	expired, err := o.repo.ConditionalUpdate(ctx, intent.ID, models.StatusPending, func(m *models.PaymentIntent) {
		m.Status = models.StatusExpired
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return o.repo.GetByID(ctx, intent.ID)
		}
		return nil, err
	}

	metrics.IntentsExpired.Inc()
	o.logger.Info("Intent %s expired", intent.ID)
	return expired, nil
}

// SubmitSourceProof verifies the payer's source-chain settlement proof and,
// on success, marks the intent SOURCE_SETTLED and schedules the target leg
// without blocking the caller. The SOURCE_SETTLED status itself is the
// durable "needs target settlement" marker: if the async dispatch is lost,
// the reconciler or an explicit TriggerTargetPayment call picks it up.
func (o *Orchestrator) SubmitSourceProof(ctx context.Context, id, proof, txRef, payerWallet string) error {
	if proof == "" || txRef == "" {
		return fmt.Errorf("%w: proof and tx_ref are required", models.ErrInvalidInput)
	}

	// Re-validate expiry before the PENDING check so a proof for an overdue
	// intent fails InvalidState rather than settling a dead intent
	intent, err := o.GetIntent(ctx, id)
	if err != nil {
		return err
	}
	if intent.Status != models.StatusPending {
		return fmt.Errorf("%w: intent %s is %s", models.ErrInvalidState, id, intent.Status)
	}

	// ErrInvalidProof leaves the intent PENDING so the caller can retry with
	// a corrected proof; ErrVerifierUnavailable likewise
	if err := o.verifier.Verify(ctx, proof); err != nil {
		return err
	}

	_, err = o.repo.ConditionalUpdate(ctx, id, models.StatusPending, func(m *models.PaymentIntent) {
		settledAt := o.now().UTC()
		m.Status = models.StatusSourceSettled
		m.SourceProof = proof
		m.SourceTxRef = txRef
		m.PayerWallet = payerWallet
		m.SourceSettledAt = &settledAt
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: intent %s changed state during verification", models.ErrInvalidState, id)
		}
		if errors.Is(err, store.ErrNotFound) {
			return models.ErrNotFound
		}
		return err
	}

	o.logger.InfoWithChain(intent.PayerChain, "Source leg settled for intent %s (tx: %s)", id, txRef)
	o.dispatch(id, 0)
	return nil
}

// dispatch hands an intent to the settlement workers without blocking. A
// full queue is only logged: SOURCE_SETTLED intents are re-swept by the
// reconciler, so a dropped dispatch is never lost work.
func (o *Orchestrator) dispatch(id string, retryCount int) {
	select {
	case o.dispatchJobs <- dispatchJob{IntentID: id, RetryCount: retryCount}:
		metrics.PendingSettlements.Set(float64(len(o.dispatchJobs)))
	default:
		o.logger.Error("Dispatch queue full, intent %s left for reconciliation", id)
	}
}

// TriggerTargetPayment executes the target-chain leg for a SOURCE_SETTLED
// intent. The SOURCE_SETTLED to TARGET_SETTLING transition is the idempotency
// guard: it is a single conditional write, so of N concurrent triggers
// exactly one wins and invokes the executor; the rest fail InvalidState.
func (o *Orchestrator) TriggerTargetPayment(ctx context.Context, id string) error {
	if o.breaker != nil && o.breaker.IsEnabled() && o.breaker.IsOpen() {
		return models.NewSettlementError(models.ReasonCircuitOpen, fmt.Errorf("settlement halted by circuit breaker"))
	}

	intent, err := o.repo.ConditionalUpdate(ctx, id, models.StatusSourceSettled, func(m *models.PaymentIntent) {
		attemptAt := o.now().UTC()
		m.Status = models.StatusTargetSettling
		m.AttemptCount++
		m.LastAttemptAt = &attemptAt
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return models.ErrNotFound
		}
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: intent %s is not awaiting target settlement", models.ErrInvalidState, id)
		}
		return err
	}

	startTime := o.now()
	result, execErr := o.executor.Execute(ctx, intent.ID, intent.Amount, intent.MerchantRecipient)
	metrics.SettlementDuration.WithLabelValues(intent.TargetChain).Observe(time.Since(startTime).Seconds())

	if execErr == nil {
		return o.complete(ctx, intent, result.TxRef, result.Proof)
	}

	reason := models.SettlementReason(execErr)
	metrics.SettlementAttempts.WithLabelValues(intent.TargetChain, "failed").Inc()
	metrics.SettlementErrors.WithLabelValues(intent.TargetChain, reason).Inc()
	if o.breaker != nil {
		o.breaker.RecordFailure()
	}

	if reason == models.ReasonConfirmationTimeout {
		// Unknown outcome: the transfer may still land. Keep the lock state
		// and record the attempted tx so the reconciler can resolve it by
		// re-querying the network instead of risking a double payment.
		o.recordUnresolvedAttempt(ctx, intent.ID, result)
		return execErr
	}

	o.rollback(ctx, intent.ID, result)
	return execErr
}

// complete finalizes a confirmed transfer: TARGET_SETTLING to COMPLETED with
// the target leg's fields written exactly once.
func (o *Orchestrator) complete(ctx context.Context, intent *models.PaymentIntent, txRef, proof string) error {
	_, err := o.repo.ConditionalUpdate(ctx, intent.ID, models.StatusTargetSettling, func(m *models.PaymentIntent) {
		completedAt := o.now().UTC()
		m.Status = models.StatusCompleted
		m.TargetTxRef = txRef
		m.TargetProof = proof
		m.TargetSettledAt = &completedAt
		m.CompletedAt = &completedAt
	})
	if err != nil {
		// The transfer landed but the record could not be finalized. The
		// confirmed ref must be persisted anyway: without it the stuck sweep
		// would read the empty ref as "nothing was submitted", roll the
		// intent back and pay a second time. With the ref recorded the
		// reconciler completes the intent from the network instead.
		o.logger.Error("Failed to finalize settled intent %s (tx: %s): %v", intent.ID, txRef, err)
		o.recordUnresolvedAttempt(ctx, intent.ID, &executor.Result{TxRef: txRef})
		return fmt.Errorf("settled but not finalized: %w", err)
	}

	metrics.SettlementAttempts.WithLabelValues(intent.TargetChain, "success").Inc()
	o.logger.NoticeWithChain(intent.TargetChain, "Intent %s completed (tx: %s)", intent.ID, txRef)
	return nil
}

// rollback reverts TARGET_SETTLING to SOURCE_SETTLED after a failed attempt,
// leaving the intent retriable. Previously recorded source-leg fields are
// untouched; only the status moves back.
func (o *Orchestrator) rollback(ctx context.Context, id string, result *executor.Result) {
	_, err := o.repo.ConditionalUpdate(ctx, id, models.StatusTargetSettling, func(m *models.PaymentIntent) {
		m.Status = models.StatusSourceSettled
		if result != nil && result.TxRef != "" {
			m.LastAttemptTxRef = result.TxRef
		}
	})
	if err != nil {
		o.logger.Error("Failed to roll back intent %s: %v", id, err)
	}
}

// recordUnresolvedAttempt keeps the intent in TARGET_SETTLING and stores the
// submitted tx ref for reconciliation. Runs on a detached context: the
// caller's cancellation can be the very reason the outcome is unknown, and
// the ref must still be written.
func (o *Orchestrator) recordUnresolvedAttempt(ctx context.Context, id string, result *executor.Result) {
	_, err := o.repo.ConditionalUpdate(context.WithoutCancel(ctx), id, models.StatusTargetSettling, func(m *models.PaymentIntent) {
		if result != nil && result.TxRef != "" {
			m.LastAttemptTxRef = result.TxRef
		}
	})
	if err != nil {
		o.logger.Error("Failed to record unresolved attempt for intent %s: %v", id, err)
	}
}

// GetReceipt returns the read-only projection of both legs. Available in any
// state; partial receipts are valid. Never mutates the record.
func (o *Orchestrator) GetReceipt(ctx context.Context, id string) (*models.Receipt, error) {
	intent, err := o.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	receipt := models.BuildReceipt(intent)
	return &receipt, nil
}
