// Package risk enforces per-wallet exposure limits on claim markets.
//
// A claim and the variants derived from it during review form a family: the
// variants restate the same underlying fact, so a wallet that buys across
// the whole family carries correlated risk. The limiter bounds both the cost
// basis held in a single claim and the aggregate across its family.
package risk

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrPositionLimitExceeded is returned when a buy would push a wallet's
	// cost basis in a single claim beyond MaxPerClaim.
	ErrPositionLimitExceeded = errors.New("risk: position limit exceeded")

	// ErrFamilyLimitExceeded is returned when a buy would push the aggregate
	// cost basis across a claim family beyond MaxPerFamily. It wraps
	// ErrPositionLimitExceeded.
	ErrFamilyLimitExceeded = fmt.Errorf("%w: claim family exposure", ErrPositionLimitExceeded)
)

// Exposure is a wallet's cost basis in one claim, both sides combined.
type Exposure struct {
	ClaimID int64
	// FamilyID is the root claim: the parent for variants, the claim itself
	// otherwise.
	FamilyID  int64
	CostBasis decimal.Decimal
}

// FamilyOf returns the family root for a claim with an optional parent.
func FamilyOf(claimID int64, parentID *int64) int64 {
	if parentID != nil {
		return *parentID
	}
	return claimID
}

// PositionLimiter bounds wallet exposure. A zero limit disables that check.
type PositionLimiter struct {
	MaxPerClaim  decimal.Decimal
	MaxPerFamily decimal.Decimal
}

// NewPositionLimiter creates a limiter. Negative limits are treated as zero.
func NewPositionLimiter(maxPerClaim, maxPerFamily decimal.Decimal) *PositionLimiter {
	if maxPerClaim.IsNegative() {
		maxPerClaim = decimal.Zero
	}
	if maxPerFamily.IsNegative() {
		maxPerFamily = decimal.Zero
	}
	return &PositionLimiter{MaxPerClaim: maxPerClaim, MaxPerFamily: maxPerFamily}
}

// Enabled reports whether any limit is configured.
func (l *PositionLimiter) Enabled() bool {
	return l != nil && (l.MaxPerClaim.IsPositive() || l.MaxPerFamily.IsPositive())
}

// CheckLimit validates whether adding costDelta to target keeps the wallet
// within limits, given its existing exposures. target.CostBasis is ignored;
// the current exposure in the target claim is taken from existing.
func (l *PositionLimiter) CheckLimit(target Exposure, costDelta decimal.Decimal, existing []Exposure) error {
	if !l.Enabled() {
		return nil
	}

	inClaim := decimal.Zero
	inFamily := decimal.Zero
	for _, e := range existing {
		if e.ClaimID == target.ClaimID {
			inClaim = inClaim.Add(e.CostBasis)
			continue
		}
		if e.FamilyID == target.FamilyID {
			inFamily = inFamily.Add(e.CostBasis.Abs())
		}
	}

	newInClaim := inClaim.Add(costDelta)
	if l.MaxPerClaim.IsPositive() && newInClaim.Abs().GreaterThan(l.MaxPerClaim) {
		return ErrPositionLimitExceeded
	}

	if l.MaxPerFamily.IsPositive() && inFamily.Add(newInClaim.Abs()).GreaterThan(l.MaxPerFamily) {
		return ErrFamilyLimitExceeded
	}
	return nil
}
