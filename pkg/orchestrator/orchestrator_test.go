package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/circuitbreaker"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/executor"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/logger"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
	"github.com/bridgeline-hq/bridgeline-settler/pkg/store"
)

const testRecipient = "0x1111111111111111111111111111111111111111"

// mockVerifier returns a fixed verdict for every proof
type mockVerifier struct {
	mu     sync.Mutex
	err    error
	proofs []string
}

func (m *mockVerifier) Verify(_ context.Context, proof string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proofs = append(m.proofs, proof)
	return m.err
}

// mockExecutor counts Execute calls and returns a configurable outcome
type mockExecutor struct {
	mu       sync.Mutex
	calls    atomic.Int64
	result   *executor.Result
	err      error
	delay    time.Duration
	lookup   executor.TransferStatus
	lookupEr error
}

func (m *mockExecutor) Execute(_ context.Context, _, _, _ string) (*executor.Result, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result, m.err
}

func (m *mockExecutor) LookupTransfer(_ context.Context, _ string) (executor.TransferStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookup, m.lookupEr
}

func (m *mockExecutor) setOutcome(result *executor.Result, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.result = result
	m.err = err
}

type testHarness struct {
	orch     *Orchestrator
	repo     *store.MemoryStore
	verifier *mockVerifier
	executor *mockExecutor
	clock    time.Time
	clockMu  sync.Mutex
}

func (h *testHarness) advance(d time.Duration) {
	h.clockMu.Lock()
	defer h.clockMu.Unlock()
	h.clock = h.clock.Add(d)
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	h := &testHarness{
		repo:     store.NewMemoryStore(),
		verifier: &mockVerifier{},
		executor: &mockExecutor{result: &executor.Result{TxRef: "0xtarget", Proof: "0xproof"}},
		clock:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	h.orch = New(h.repo, h.verifier, h.executor, nil, Config{
		PayerChain:        "solana",
		TargetChain:       "base",
		IntentTTL:         10 * time.Minute,
		Workers:           1,
		MaxRetries:        3,
		ReconcileInterval: time.Minute,
		StuckThreshold:    5 * time.Minute,
	}, &logger.EmptyLogger{})
	h.orch.now = func() time.Time {
		h.clockMu.Lock()
		defer h.clockMu.Unlock()
		return h.clock
	}
	return h
}

// settle drives an intent to SOURCE_SETTLED for tests of the target leg
func (h *testHarness) settledIntent(t *testing.T) *models.PaymentIntent {
	t.Helper()
	ctx := context.Background()
	intent, err := h.orch.CreateIntent(ctx, "10.50", testRecipient)
	assert.NoError(t, err)
	assert.NoError(t, h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "0xsource", "payer-wallet"))
	return intent
}

func TestCreateIntent(t *testing.T) {
	h := newHarness(t)

	intent, err := h.orch.CreateIntent(context.Background(), "10.50", testRecipient)
	assert.NoError(t, err)
	assert.NotEmpty(t, intent.ID)
	assert.Equal(t, models.StatusPending, intent.Status)
	assert.Equal(t, "10.50", intent.Amount)
	assert.Equal(t, "solana", intent.PayerChain)
	assert.Equal(t, "base", intent.TargetChain)
	assert.Equal(t, h.clock.Add(10*time.Minute), intent.ExpiresAt)

	// No settlement fields before any leg settles
	assert.Empty(t, intent.SourceProof)
	assert.Empty(t, intent.TargetTxRef)
	assert.Nil(t, intent.CompletedAt)
}

func TestCreateIntentValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		amount    string
		recipient string
	}{
		{name: "zero amount", amount: "0", recipient: testRecipient},
		{name: "negative amount", amount: "-5", recipient: testRecipient},
		{name: "non-numeric amount", amount: "ten", recipient: testRecipient},
		{name: "empty recipient", amount: "10", recipient: ""},
		{name: "malformed recipient", amount: "10", recipient: "not-an-address"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.orch.CreateIntent(ctx, tc.amount, tc.recipient)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
		})
	}
}

func TestGetIntentNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.GetIntent(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestGetIntentLazyExpiry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	intent, err := h.orch.CreateIntent(ctx, "10", testRecipient)
	assert.NoError(t, err)

	// One tick before expiry the intent is still payable
	h.advance(10*time.Minute - time.Millisecond)
	got, err := h.orch.GetIntent(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	// At the expiry instant the read itself advances the record
	h.advance(time.Millisecond)
	got, err = h.orch.GetIntent(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)

	// The transition is durable, not just a view
	stored, err := h.repo.GetByID(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
}

func TestSubmitSourceProof(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	intent, err := h.orch.CreateIntent(ctx, "10.50", testRecipient)
	assert.NoError(t, err)

	err = h.orch.SubmitSourceProof(ctx, intent.ID, "proof-data", "0xsource", "payer-wallet")
	assert.NoError(t, err)
	assert.Equal(t, []string{"proof-data"}, h.verifier.proofs)

	got, err := h.orch.GetIntent(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusSourceSettled, got.Status)
	assert.Equal(t, "proof-data", got.SourceProof)
	assert.Equal(t, "0xsource", got.SourceTxRef)
	assert.Equal(t, "payer-wallet", got.PayerWallet)
	assert.NotNil(t, got.SourceSettledAt)
}

func TestSubmitSourceProofMissingFields(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)

	assert.ErrorIs(t, h.orch.SubmitSourceProof(ctx, intent.ID, "", "0xsource", ""), models.ErrInvalidInput)
	assert.ErrorIs(t, h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "", ""), models.ErrInvalidInput)
}

func TestSubmitSourceProofTwice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)

	assert.NoError(t, h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "0xsource", ""))
	err := h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "0xsource", "")
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

func TestSubmitSourceProofExpiredIntent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)

	h.advance(11 * time.Minute)
	err := h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "0xsource", "")
	assert.ErrorIs(t, err, models.ErrInvalidState)

	// The overdue intent was expired by the attempt, not settled
	got, err := h.orch.GetIntent(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
}

func TestSubmitSourceProofRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)

	h.verifier.err = models.ErrInvalidProof
	err := h.orch.SubmitSourceProof(ctx, intent.ID, "bad-proof", "0xsource", "")
	assert.ErrorIs(t, err, models.ErrInvalidProof)

	// Intent stays PENDING so a corrected proof can be submitted
	got, _ := h.orch.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.StatusPending, got.Status)

	h.verifier.err = nil
	assert.NoError(t, h.orch.SubmitSourceProof(ctx, intent.ID, "good-proof", "0xsource", ""))
}

func TestSubmitSourceProofVerifierDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)

	h.verifier.err = models.ErrVerifierUnavailable
	err := h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "0xsource", "")
	assert.ErrorIs(t, err, models.ErrVerifierUnavailable)

	// Resubmitting the same proof later is safe: the intent never left PENDING
	h.verifier.err = nil
	assert.NoError(t, h.orch.SubmitSourceProof(ctx, intent.ID, "proof", "0xsource", ""))
}

func TestTriggerTargetPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.settledIntent(t)

	assert.NoError(t, h.orch.TriggerTargetPayment(ctx, intent.ID))
	assert.Equal(t, int64(1), h.executor.calls.Load())

	got, err := h.orch.GetIntent(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "0xtarget", got.TargetTxRef)
	assert.Equal(t, "0xproof", got.TargetProof)
	assert.NotNil(t, got.TargetSettledAt)
	assert.NotNil(t, got.CompletedAt)
	assert.Equal(t, 1, got.AttemptCount)

	// Source leg fields survive the transition untouched
	assert.Equal(t, "proof", got.SourceProof)
	assert.Equal(t, "0xsource", got.SourceTxRef)
}

func TestTriggerTargetPaymentWrongState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)
	assert.ErrorIs(t, h.orch.TriggerTargetPayment(ctx, intent.ID), models.ErrInvalidState)
	assert.ErrorIs(t, h.orch.TriggerTargetPayment(ctx, "missing"), models.ErrNotFound)
	assert.Equal(t, int64(0), h.executor.calls.Load())
}

// TestTriggerTargetPaymentIdempotent verifies the exactly-one-winner
// guarantee: N concurrent triggers for the same intent invoke the executor
// once, and the rest observe InvalidState.
func TestTriggerTargetPaymentIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.settledIntent(t)
	h.executor.delay = 50 * time.Millisecond

	const triggers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	rejected := 0

	for i := 0; i < triggers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := h.orch.TriggerTargetPayment(ctx, intent.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				succeeded++
			} else if errors.Is(err, models.ErrInvalidState) {
				rejected++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, triggers-1, rejected)
	assert.Equal(t, int64(1), h.executor.calls.Load())

	got, _ := h.orch.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
}

func TestTriggerTargetPaymentInsufficientFunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.settledIntent(t)

	h.executor.setOutcome(nil, models.NewSettlementError(models.ReasonInsufficientFunds,
		errors.New("balance 100 below required 10500000")))

	err := h.orch.TriggerTargetPayment(ctx, intent.ID)
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
	assert.Equal(t, models.ReasonInsufficientFunds, models.SettlementReason(err))

	// Rolled back and retriable once the wallet is topped up
	got, _ := h.orch.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.StatusSourceSettled, got.Status)

	h.executor.setOutcome(&executor.Result{TxRef: "0xtarget", Proof: "0xproof"}, nil)
	assert.NoError(t, h.orch.TriggerTargetPayment(ctx, intent.ID))

	got, _ = h.orch.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestTriggerTargetPaymentConfirmationTimeout(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.settledIntent(t)

	h.executor.setOutcome(&executor.Result{TxRef: "0xpending"},
		models.NewSettlementError(models.ReasonConfirmationTimeout, errors.New("no confirmation within 2m")))

	err := h.orch.TriggerTargetPayment(ctx, intent.ID)
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
	assert.Equal(t, models.ReasonConfirmationTimeout, models.SettlementReason(err))

	// Unknown outcome: the intent stays locked with the attempted tx recorded
	// so reconciliation can resolve it against the network
	got, _ := h.orch.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.StatusTargetSettling, got.Status)
	assert.Equal(t, "0xpending", got.LastAttemptTxRef)

	// A blind re-trigger is refused while the outcome is unresolved
	assert.ErrorIs(t, h.orch.TriggerTargetPayment(ctx, intent.ID), models.ErrInvalidState)
	assert.Equal(t, int64(1), h.executor.calls.Load())
}

func TestTriggerTargetPaymentCircuitOpen(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.settledIntent(t)

	breaker := circuitbreaker.NewCircuitBreaker(true, 1, time.Minute, time.Hour)
	breaker.RecordFailure()
	assert.True(t, breaker.IsOpen())
	h.orch.breaker = breaker

	err := h.orch.TriggerTargetPayment(ctx, intent.ID)
	assert.ErrorIs(t, err, models.ErrSettlementFailed)
	assert.Equal(t, models.ReasonCircuitOpen, models.SettlementReason(err))
	assert.Equal(t, int64(0), h.executor.calls.Load())

	// Refused before the state machine: the intent is still triggerable
	got, _ := h.orch.GetIntent(ctx, intent.ID)
	assert.Equal(t, models.StatusSourceSettled, got.Status)
}

func TestGetReceiptPartial(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "0.05", testRecipient)

	receipt, err := h.orch.GetReceipt(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, intent.ID, receipt.IntentID)
	assert.Equal(t, "0.05", receipt.Amount)
	assert.Equal(t, models.StatusPending, receipt.Status)
	assert.Empty(t, receipt.SourceTxRef)
	assert.Empty(t, receipt.TargetExplorerURL)
	assert.Nil(t, receipt.CompletedAt)
}

func TestGetReceiptCompleted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent := h.settledIntent(t)
	assert.NoError(t, h.orch.TriggerTargetPayment(ctx, intent.ID))

	receipt, err := h.orch.GetReceipt(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, receipt.Status)
	assert.Equal(t, "0xsource", receipt.SourceTxRef)
	assert.Equal(t, "https://solscan.io/tx/0xsource", receipt.SourceExplorerURL)
	assert.Equal(t, "0xtarget", receipt.TargetTxRef)
	assert.Equal(t, "https://basescan.org/tx/0xtarget", receipt.TargetExplorerURL)
	assert.NotNil(t, receipt.CompletedAt)
}

// GetReceipt is a pure read: it must not trigger lazy expiry
func TestGetReceiptDoesNotMutate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	intent, _ := h.orch.CreateIntent(ctx, "10", testRecipient)

	h.advance(time.Hour)
	receipt, err := h.orch.GetReceipt(ctx, intent.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.StatusPending, receipt.Status)

	stored, _ := h.repo.GetByID(ctx, intent.ID)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestGetReceiptNotFound(t *testing.T) {
	h := newHarness(t)
	_, err := h.orch.GetReceipt(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
