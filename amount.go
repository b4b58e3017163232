package agentpay

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// HumanToAtomic converts a human-readable decimal amount (e.g. "1.50") to
// atomic units of an asset with the given decimals. The conversion is exact
// integer arithmetic: amounts with more fractional digits than the asset
// carries are rejected rather than rounded, so a payment can never be under-
// or overpaid by a rounding step.
func HumanToAtomic(amount string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", amount, err)
	}
	if d.IsNegative() {
		return nil, fmt.Errorf("amount must be non-negative: %s", amount)
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, fmt.Errorf("amount %q has more than %d decimal places", amount, decimals)
	}
	return shifted.BigInt(), nil
}

// AtomicToHuman renders atomic units as a fixed-point decimal string with
// exactly `decimals` fractional digits. This is the ledger's canonical amount
// format (e.g. 1500000 with 6 decimals renders "1.500000").
func AtomicToHuman(value *big.Int, decimals int) string {
	if value == nil {
		value = big.NewInt(0)
	}
	return decimal.NewFromBigInt(value, -int32(decimals)).StringFixed(int32(decimals))
}
