package models

import (
	"time"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/chains"
)

// Receipt is a read-only projection of both legs of an intent. Partial
// receipts are valid: fields for a leg that has not settled stay empty.
type Receipt struct {
	IntentID          string `json:"intent_id"`
	Amount            string `json:"amount"`
	MerchantRecipient string `json:"merchant_recipient"`
	Status            Status `json:"status"`

	PayerChain        string     `json:"payer_chain"`
	SourceTxRef       string     `json:"source_tx_ref,omitempty"`
	SourceExplorerURL string     `json:"source_explorer_url,omitempty"`
	SourceSettledAt   *time.Time `json:"source_settled_at,omitempty"`

	TargetChain       string     `json:"target_chain"`
	TargetTxRef       string     `json:"target_tx_ref,omitempty"`
	TargetExplorerURL string     `json:"target_explorer_url,omitempty"`
	TargetSettledAt   *time.Time `json:"target_settled_at,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// BuildReceipt projects an intent into a receipt. Pure: never mutates the
// intent and always returns the same data for the same record.
func BuildReceipt(intent *PaymentIntent) Receipt {
	return Receipt{
		IntentID:          intent.ID,
		Amount:            intent.Amount,
		MerchantRecipient: intent.MerchantRecipient,
		Status:            intent.Status,
		PayerChain:        intent.PayerChain,
		SourceTxRef:       intent.SourceTxRef,
		SourceExplorerURL: chains.ExplorerTxURL(intent.PayerChain, intent.SourceTxRef),
		SourceSettledAt:   copyTime(intent.SourceSettledAt),
		TargetChain:       intent.TargetChain,
		TargetTxRef:       intent.TargetTxRef,
		TargetExplorerURL: chains.ExplorerTxURL(intent.TargetChain, intent.TargetTxRef),
		TargetSettledAt:   copyTime(intent.TargetSettledAt),
		CompletedAt:       copyTime(intent.CompletedAt),
	}
}
