// Package pricing implements the per-side price curves used by claim
// markets.
//
// Each side of a market is priced only from its own cumulative supply, so a
// buy on TRUE never moves the FALSE price. Both curves start at the same
// baseline and are non-decreasing in supply:
//
//	linear:       p(s) = baseline + slope * s
//	exponential:  p(s) = baseline * exp(s / b)
//
// The exponential curve reuses the LMSR liquidity parameter b: higher b means
// flatter prices. All monetary values use shopspring/decimal; the exponential
// curve does its transcendental math in float64 and converts back at once.
package pricing

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidBaseline is returned when the baseline price is not positive.
	ErrInvalidBaseline = errors.New("pricing: baseline price must be positive")

	// ErrInvalidSlope is returned when a linear curve has a negative slope.
	ErrInvalidSlope = errors.New("pricing: slope must not be negative")

	// ErrInvalidLiquidity is returned when b <= 0.
	ErrInvalidLiquidity = errors.New("pricing: liquidity parameter b must be positive")

	// ErrInvalidCeiling is returned when a ceiling is below the baseline.
	ErrInvalidCeiling = errors.New("pricing: max price must not be below baseline")

	// BaselinePrice is the price both sides open at: 1 unit per share.
	BaselinePrice = decimal.NewFromInt(1)

	// DefaultSlope is the linear price increase per share bought.
	DefaultSlope = decimal.NewFromFloat(0.01)

	// PriceScale is the number of decimal places for price/cost rounding.
	PriceScale int32 = 8
)

// Curve maps a side's cumulative supply to its spot price.
type Curve interface {
	// Price returns the spot price after supply shares have been bought.
	// Implementations must be positive and non-decreasing in supply.
	Price(supply decimal.Decimal) decimal.Decimal

	// Baseline returns Price(0).
	Baseline() decimal.Decimal

	// Name identifies the curve in logs and config.
	Name() string
}

// Cost returns what buying amount shares costs at the given spot price.
// Buys pay the pre-trade spot price for every share.
func Cost(amount, price decimal.Decimal) decimal.Decimal {
	return amount.Mul(price).RoundCeil(PriceScale)
}

// ValidAmount reports whether amount is positive and representable at
// PriceScale decimal places.
func ValidAmount(amount decimal.Decimal) bool {
	return amount.IsPositive() && amount.Exponent() >= -PriceScale
}

// Linear is p(s) = baseline + slope * s, optionally capped at a ceiling.
type Linear struct {
	baseline decimal.Decimal
	slope    decimal.Decimal
	ceiling  decimal.Decimal // zero means uncapped
}

// NewLinear creates a linear curve. A zero ceiling disables the cap.
func NewLinear(baseline, slope, ceiling decimal.Decimal) (*Linear, error) {
	if !baseline.IsPositive() {
		return nil, ErrInvalidBaseline
	}
	if slope.IsNegative() {
		return nil, ErrInvalidSlope
	}
	if !ceiling.IsZero() && ceiling.LessThan(baseline) {
		return nil, ErrInvalidCeiling
	}
	return &Linear{baseline: baseline, slope: slope, ceiling: ceiling}, nil
}

func (c *Linear) Name() string               { return "linear" }
func (c *Linear) Baseline() decimal.Decimal { return c.baseline }

// Price computes baseline + slope * supply. Negative supply is treated as
// zero so the price never drops below the baseline.
func (c *Linear) Price(supply decimal.Decimal) decimal.Decimal {
	if supply.IsNegative() {
		supply = decimal.Zero
	}
	p := c.baseline.Add(c.slope.Mul(supply)).Round(PriceScale)
	return clamp(p, c.ceiling)
}

// Exponential is p(s) = baseline * exp(s / b), optionally capped.
type Exponential struct {
	baseline decimal.Decimal
	b        decimal.Decimal
	ceiling  decimal.Decimal
}

// NewExponential creates an exponential curve with liquidity parameter b.
// Higher b means less price impact per share.
func NewExponential(baseline, b, ceiling decimal.Decimal) (*Exponential, error) {
	if !baseline.IsPositive() {
		return nil, ErrInvalidBaseline
	}
	if b.LessThanOrEqual(decimal.Zero) {
		return nil, ErrInvalidLiquidity
	}
	if !ceiling.IsZero() && ceiling.LessThan(baseline) {
		return nil, ErrInvalidCeiling
	}
	return &Exponential{baseline: baseline, b: b, ceiling: ceiling}, nil
}

func (c *Exponential) Name() string               { return "exponential" }
func (c *Exponential) Baseline() decimal.Decimal { return c.baseline }

// B returns the liquidity parameter.
func (c *Exponential) B() decimal.Decimal { return c.b }

// Price computes baseline * exp(supply / b). Overflow of the float64
// exponent saturates at the ceiling, or at math.MaxFloat64 when uncapped.
func (c *Exponential) Price(supply decimal.Decimal) decimal.Decimal {
	if supply.IsNegative() {
		supply = decimal.Zero
	}
	x := supply.InexactFloat64() / c.b.InexactFloat64()
	growth := math.Exp(x)
	if math.IsInf(growth, 1) {
		if !c.ceiling.IsZero() {
			return c.ceiling
		}
		growth = math.MaxFloat64 / c.baseline.InexactFloat64()
	}
	p := c.baseline.Mul(decimal.NewFromFloat(growth)).Round(PriceScale)
	// Rounding can only lose precision, never cross below baseline.
	if p.LessThan(c.baseline) {
		p = c.baseline
	}
	return clamp(p, c.ceiling)
}

func clamp(p, ceiling decimal.Decimal) decimal.Decimal {
	if !ceiling.IsZero() && p.GreaterThan(ceiling) {
		return ceiling
	}
	return p
}

// New builds a curve by name ("linear" or "exponential"). slope is used by
// the linear curve and b by the exponential one.
func New(name string, baseline, slope, b, ceiling decimal.Decimal) (Curve, error) {
	switch name {
	case "", "linear":
		c, err := NewLinear(baseline, slope, ceiling)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "exponential":
		c, err := NewExponential(baseline, b, ceiling)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
	return nil, errors.New("pricing: unknown curve " + name)
}
