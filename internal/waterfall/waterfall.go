// Package waterfall computes how a required amount is covered by the
// wallet's pools: protection credit first, then cash, then an external
// charge for whatever remains. All amounts are integer minor units (cents).
package waterfall

import "fmt"

// Split describes how a required amount is covered.
type Split struct {
	ProtectionUsed int64 `json:"protection_used_cents"`
	CashUsed       int64 `json:"cash_used_cents"`
	External       int64 `json:"external_cents"`
}

// Total returns the sum of all three components.
func (s Split) Total() int64 {
	return s.ProtectionUsed + s.CashUsed + s.External
}

// Compute splits required across the pools in waterfall order.
// Protection credit is consumed first, cash second, and the remainder
// falls through to an external charge. Inputs must be non-negative;
// the components always sum exactly to required.
func Compute(required, protectionAvailable, cashAvailable int64) (Split, error) {
	if required < 0 {
		return Split{}, fmt.Errorf("required amount must not be negative: %d", required)
	}
	if protectionAvailable < 0 {
		return Split{}, fmt.Errorf("protection balance must not be negative: %d", protectionAvailable)
	}
	if cashAvailable < 0 {
		return Split{}, fmt.Errorf("cash balance must not be negative: %d", cashAvailable)
	}

	s := Split{}
	remaining := required

	s.ProtectionUsed = min64(remaining, protectionAvailable)
	remaining -= s.ProtectionUsed

	s.CashUsed = min64(remaining, cashAvailable)
	remaining -= s.CashUsed

	s.External = remaining
	return s, nil
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
