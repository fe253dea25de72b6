package models

import (
	"time"
)

// Status is the lifecycle state of a payment intent
type Status string

const (
	// StatusPending means the intent is created and waiting for the payer's source-chain proof
	StatusPending Status = "PENDING"
	// StatusSourceSettled means the source leg is verified; the target leg can be triggered
	StatusSourceSettled Status = "SOURCE_SETTLED"
	// StatusTargetSettling is the transient lock state held while a transfer is in flight
	StatusTargetSettling Status = "TARGET_SETTLING"
	// StatusCompleted means the target-chain transfer is confirmed; terminal
	StatusCompleted Status = "COMPLETED"
	// StatusExpired means the intent passed its TTL while still pending; terminal
	StatusExpired Status = "EXPIRED"
)

// validTransitions is the full transition graph. TARGET_SETTLING back to
// SOURCE_SETTLED is the rollback edge taken after a failed transfer attempt.
var validTransitions = map[Status][]Status{
	StatusPending:        {StatusSourceSettled, StatusExpired},
	StatusSourceSettled:  {StatusTargetSettling},
	StatusTargetSettling: {StatusCompleted, StatusSourceSettled},
	StatusCompleted:      {},
	StatusExpired:        {},
}

// CanTransition reports whether moving from one status to another is allowed
func CanTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions
func (s Status) IsTerminal() bool {
	return len(validTransitions[s]) == 0
}

// PaymentIntent is the durable record of one requested cross-chain payment.
// The identity and amount fields are fixed at creation; each leg's fields are
// written exactly once, at the corresponding transition, and never cleared —
// rollback only reverts the status.
type PaymentIntent struct {
	ID                string    `json:"id"`
	Amount            string    `json:"amount"`
	MerchantRecipient string    `json:"merchant_recipient"`
	PayerChain        string    `json:"payer_chain"`
	TargetChain       string    `json:"target_chain"`
	Status            Status    `json:"status"`

	// Source leg, populated when the payer's proof is verified
	SourceProof string `json:"source_proof,omitempty"`
	SourceTxRef string `json:"source_tx_ref,omitempty"`
	PayerWallet string `json:"payer_wallet,omitempty"`

	// Target leg, populated when the compensating transfer confirms
	TargetTxRef string `json:"target_tx_ref,omitempty"`
	TargetProof string `json:"target_proof,omitempty"`

	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	ExpiresAt       time.Time  `json:"expires_at"`
	SourceSettledAt *time.Time `json:"source_settled_at,omitempty"`
	TargetSettledAt *time.Time `json:"target_settled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`

	// Operational fields for reconciliation. A transfer whose confirmation
	// timed out may still land on chain; the last attempted tx ref lets the
	// reconciler re-query the network before deciding between completion
	// and rollback. Unlike the leg fields above these are overwritten on
	// every attempt.
	LastAttemptTxRef string     `json:"last_attempt_tx_ref,omitempty"`
	LastAttemptAt    *time.Time `json:"last_attempt_at,omitempty"`
	AttemptCount     int        `json:"attempt_count"`
}

// Expired reports whether the intent is past its TTL at the given instant.
// The expiry instant itself counts as expired.
func (p *PaymentIntent) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// Clone returns a deep-enough copy; timestamps pointers are duplicated so a
// caller mutating the copy cannot reach back into a stored record.
func (p *PaymentIntent) Clone() *PaymentIntent {
	clone := *p
	clone.SourceSettledAt = copyTime(p.SourceSettledAt)
	clone.TargetSettledAt = copyTime(p.TargetSettledAt)
	clone.CompletedAt = copyTime(p.CompletedAt)
	clone.LastAttemptAt = copyTime(p.LastAttemptAt)
	return &clone
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	copied := *t
	return &copied
}
