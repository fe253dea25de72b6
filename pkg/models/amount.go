package models

import (
	"fmt"
	"math/big"
	"strings"
)

// ValidAmount reports whether the amount is a well-formed, strictly positive
// decimal. This is the creation-time check; conversion to the settlement
// asset's base units happens in ToBaseUnits when the transfer is built.
func ValidAmount(amount string) bool {
	value, ok := new(big.Rat).SetString(amount)
	if !ok {
		return false
	}
	// Reject exponent and fraction notation that big.Rat accepts
	if strings.ContainsAny(amount, "eE/") {
		return false
	}
	return value.Sign() > 0
}

// ToBaseUnits converts a decimal amount string to the asset's smallest unit
// using exact integer arithmetic. "0.05" with 6 decimals yields 50000. The
// conversion fails rather than round: an amount with more fractional digits
// than the asset carries would silently under- or overpay.
func ToBaseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, fmt.Errorf("empty amount")
	}

	whole := amount
	frac := ""
	if idx := strings.IndexByte(amount, '.'); idx >= 0 {
		whole = amount[:idx]
		frac = amount[idx+1:]
	}
	if whole == "" {
		whole = "0"
	}

	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %s has more than %d decimal places", amount, decimals)
	}
	frac += strings.Repeat("0", int(decimals)-len(frac))

	units, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount: %s", amount)
	}
	if units.Sign() <= 0 {
		return nil, fmt.Errorf("amount must be positive: %s", amount)
	}
	return units, nil
}
