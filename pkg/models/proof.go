package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// DeriveSettlementProof builds the synthetic settlement proof string for a
// confirmed target-chain transfer. The proof is a stable function of the tx
// reference so the reconciler completing a previously timed-out transfer
// produces the same proof the executor would have.
func DeriveSettlementProof(txRef string) string {
	digest := sha256.Sum256([]byte("settled:" + txRef))
	return "0x" + hex.EncodeToString(digest[:])
}
