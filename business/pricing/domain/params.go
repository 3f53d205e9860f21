package domain

import (
	"fmt"
	"runtime"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/apperror"
)

// Default run parameters.
const (
	DefaultMaxCycles         = 16
	DefaultDecay             = 0.85
	DefaultConfidenceEpsilon = 1e-9
)

// DeviationWarnBps is the anchor cross-check deviation above which a
// warning diagnostic is recorded.
var DeviationWarnBps = decimal.NewFromInt(100)

// Params tunes a propagation run.
type Params struct {
	MaxCycles         int
	Decay             float64
	MinLiquidityUSD   decimal.Decimal
	Workers           int
	ConfidenceEpsilon float64
}

// DefaultParams returns the default run parameters.
func DefaultParams() Params {
	return Params{
		MaxCycles:         DefaultMaxCycles,
		Decay:             DefaultDecay,
		MinLiquidityUSD:   decimal.Zero,
		Workers:           runtime.GOMAXPROCS(0),
		ConfidenceEpsilon: DefaultConfidenceEpsilon,
	}
}

// Validate checks the parameters and fills the worker count when unset.
func (p *Params) Validate() error {
	switch {
	case p.MaxCycles < 1:
		return apperror.Configuration(fmt.Sprintf("maxCycles must be >= 1, got %d", p.MaxCycles))
	case p.Decay <= 0 || p.Decay >= 1:
		return apperror.Configuration(fmt.Sprintf("decay must be in (0,1), got %v", p.Decay))
	case p.MinLiquidityUSD.IsNegative():
		return apperror.Configuration("minLiquidityUsd must not be negative")
	case p.ConfidenceEpsilon < 0:
		return apperror.Configuration("confidenceEpsilon must not be negative")
	}
	if p.Workers < 1 {
		p.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}
