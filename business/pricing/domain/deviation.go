package domain

import (
	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/asset"
)

var bpsMultiplier = decimal.NewFromInt(10000)

// DeviationDirection tells whether a pool prices an anchor above or below
// its authoritative value.
type DeviationDirection string

const (
	DeviationPremium  DeviationDirection = "PREMIUM"
	DeviationDiscount DeviationDirection = "DISCOUNT"
	DeviationNone     DeviationDirection = "NONE"
)

// Deviation compares an anchor's authoritative price with the price a pool
// implies for it.
type Deviation struct {
	Expected    decimal.Decimal    `json:"expected"`
	Implied     decimal.Decimal    `json:"implied"`
	Absolute    decimal.Decimal    `json:"absolute"`    // implied - expected
	BasisPoints decimal.Decimal    `json:"basisPoints"` // (implied - expected) / expected * 10000
	Direction   DeviationDirection `json:"direction"`
}

// CalculateDeviation computes the deviation of implied from expected.
func CalculateDeviation(expected, implied decimal.Decimal) Deviation {
	absolute := implied.Sub(expected)
	bps := decimal.Zero
	if !expected.IsZero() {
		bps = absolute.Div(expected).Mul(bpsMultiplier)
	}

	var direction DeviationDirection
	switch {
	case absolute.IsPositive():
		direction = DeviationPremium
	case absolute.IsNegative():
		direction = DeviationDiscount
	default:
		direction = DeviationNone
	}

	return Deviation{
		Expected:    expected,
		Implied:     implied,
		Absolute:    absolute,
		BasisPoints: bps,
		Direction:   direction,
	}
}

// AnchorDeviation is the cross-check of a pool joining two anchors: the
// price of Quoted implied through Base.
type AnchorDeviation struct {
	PoolID PoolID   `json:"poolId"`
	Base   asset.ID `json:"base"`
	Quoted asset.ID `json:"quoted"`
	Deviation
}

// Exceeds reports whether the absolute deviation is above limit bps.
func (d AnchorDeviation) Exceeds(limit decimal.Decimal) bool {
	return d.BasisPoints.Abs().GreaterThan(limit)
}
