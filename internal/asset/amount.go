package asset

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrNilAsset       = errors.New("asset: nil asset")
	ErrNilRaw         = errors.New("asset: nil raw value")
	ErrNegativeAmount = errors.New("asset: negative amount")
)

// Amount is a non-negative quantity of a token in atomic units, such as a
// pool reserve read on chain.
type Amount struct {
	raw   *big.Int
	asset *Asset
}

// NewAmount copies raw into an Amount of asset.
func NewAmount(asset *Asset, raw *big.Int) (Amount, error) {
	switch {
	case asset == nil:
		return Amount{}, ErrNilAsset
	case raw == nil:
		return Amount{}, ErrNilRaw
	case raw.Sign() < 0:
		return Amount{}, ErrNegativeAmount
	}
	return Amount{raw: new(big.Int).Set(raw), asset: asset}, nil
}

// MustAmount is NewAmount for inputs already validated by the caller.
func MustAmount(asset *Asset, raw *big.Int) Amount {
	a, err := NewAmount(asset, raw)
	if err != nil {
		panic(err)
	}
	return a
}

// Normalize converts an atomic value to whole units: raw / 10^decimals.
func Normalize(raw *big.Int, decimals uint8) decimal.Decimal {
	if raw == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(raw, -int32(decimals))
}

func (a Amount) Raw() *big.Int {
	if a.raw == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.raw)
}

func (a Amount) Asset() *Asset { return a.asset }

func (a Amount) IsPositive() bool { return a.raw != nil && a.raw.Sign() > 0 }

// ToDecimal is the amount in whole token units. Prices are always ratios
// of these, never of raw values.
func (a Amount) ToDecimal() decimal.Decimal {
	if a.asset == nil {
		return decimal.Zero
	}
	return Normalize(a.raw, a.asset.Decimals())
}

// ValueIn prices the amount at a per-whole-token price.
func (a Amount) ValueIn(price decimal.Decimal) decimal.Decimal {
	return a.ToDecimal().Mul(price)
}

func (a Amount) String() string {
	if a.asset == nil {
		return "0"
	}
	return a.ToDecimal().String() + " " + a.asset.Symbol()
}
