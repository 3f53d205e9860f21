package domain

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

// divPrecision is the number of significant digits kept by divisions and
// square roots.
const divPrecision = 24

// sqrtPrec is the big.Float mantissa size used for square roots.
const sqrtPrec = 256

// Observer is notified of every accepted price update. prev is nil when the
// token was unpriced.
type Observer interface {
	OnAccept(cycle int, prev *PriceResult, next PriceResult)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(cycle int, prev *PriceResult, next PriceResult)

// OnAccept calls f.
func (f ObserverFunc) OnAccept(cycle int, prev *PriceResult, next PriceResult) {
	f(cycle, prev, next)
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithObserver registers an acceptance observer.
func WithObserver(o Observer) EngineOption {
	return func(e *Engine) {
		e.observer = o
	}
}

// Engine propagates anchor prices across a pool graph.
type Engine struct {
	params   Params
	observer Observer
}

// NewEngine validates params and builds an Engine.
func NewEngine(params Params, opts ...EngineOption) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{params: params}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	return e.params
}

// RunResult is the raw outcome of propagation.
type RunResult struct {
	Prices      map[asset.ID]PriceResult
	Deviations  []AnchorDeviation
	Diagnostics []Diagnostic
	Cycles      int
	Converged   bool
	Estimates   int
	Accepted    int
	Discarded   int
	ThinEdges   int
}

// Run executes propagation cycles until no token changes or MaxCycles is
// reached. Each cycle reads the state frozen at its start and applies
// accepted updates once every estimate has been collected. ctx is checked
// between cycles; cancellation is a run failure.
func (e *Engine) Run(ctx context.Context, g *Graph, anchors *Anchors) (*RunResult, error) {
	if g == nil || anchors == nil {
		return nil, apperror.New(apperror.CodeInvalidInput, apperror.WithContext("nil graph or anchors"))
	}

	res := &RunResult{Prices: anchors.Frontier()}
	res.Deviations, res.Diagnostics = crossValidate(g, anchors)

	for cycle := 1; cycle <= e.params.MaxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil, runError(err, cycle)
		}

		estimates, thin, err := e.collect(ctx, g, anchors, res.Prices)
		if err != nil {
			return nil, runError(err, cycle)
		}
		res.Cycles = cycle
		res.Estimates += len(estimates)
		res.ThinEdges += thin

		accepted := e.apply(cycle, g, res, estimates)
		res.Accepted += accepted
		if accepted == 0 {
			res.Converged = true
			break
		}
	}

	return res, nil
}

func runError(err error, cycle int) error {
	code := apperror.CodeRunFailed
	if errors.Is(err, context.DeadlineExceeded) {
		code = apperror.CodeRunTimeout
	}
	return apperror.New(code, apperror.WithCause(err), apperror.WithContext(fmt.Sprintf("cycle=%d", cycle)))
}

// collect fans the priced tokens out over the worker pool. Each worker owns
// its output slice; the slices are concatenated and sorted afterwards so the
// result is independent of scheduling.
func (e *Engine) collect(ctx context.Context, g *Graph, anchors *Anchors, state map[asset.ID]PriceResult) ([]PriceEstimate, int, error) {
	priced := make([]asset.ID, 0, len(state))
	for id := range state {
		if len(g.Neighbors(id)) > 0 {
			priced = append(priced, id)
		}
	}
	sort.Slice(priced, func(i, j int) bool { return priced[i] < priced[j] })
	if len(priced) == 0 {
		return nil, 0, nil
	}

	workers := e.params.Workers
	if workers > len(priced) {
		workers = len(priced)
	}
	chunk := (len(priced) + workers - 1) / workers

	outs := make([][]PriceEstimate, workers)
	thin := make([]int, workers)

	eg, egCtx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		lo := w * chunk
		if lo >= len(priced) {
			break
		}
		hi := min(lo+chunk, len(priced))
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			for _, t := range priced[lo:hi] {
				outs[w], thin[w] = e.estimatesFrom(g, anchors, state, t, outs[w], thin[w])
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, 0, err
	}

	var all []PriceEstimate
	thinTotal := 0
	for w := range outs {
		all = append(all, outs[w]...)
		thinTotal += thin[w]
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Target != b.Target {
			return a.Target < b.Target
		}
		if a.SourcePoolID != b.SourcePoolID {
			return a.SourcePoolID < b.SourcePoolID
		}
		return a.ViaToken < b.ViaToken
	})
	return all, thinTotal, nil
}

// estimatesFrom appends one estimate per usable edge leaving t. A neighbour
// that is already priced only accepts estimates from tokens strictly closer
// to an anchor, so a price never flows back into its own source.
func (e *Engine) estimatesFrom(g *Graph, anchors *Anchors, state map[asset.ID]PriceResult, t asset.ID, out []PriceEstimate, thin int) ([]PriceEstimate, int) {
	src := state[t]
	for _, adj := range g.Neighbors(t) {
		n := adj.Neighbor
		if anchors.IsAnchor(n) {
			continue
		}
		if cur, ok := state[n]; ok && cur.HopCount <= src.HopCount {
			continue
		}

		normT, normN := g.edgeAt(adj).normalized(t)
		implied := ImpliedPrice(src.USDPrice, normT, normN)
		if !implied.IsPositive() {
			thin++
			continue
		}
		liquidity := GeometricMean(normT.Mul(src.USDPrice), normN.Mul(implied))
		if liquidity.LessThan(e.params.MinLiquidityUSD) {
			thin++
			continue
		}

		out = append(out, PriceEstimate{
			Target:       n,
			USDPrice:     implied,
			Confidence:   src.Confidence * e.params.Decay,
			HopCount:     src.HopCount + 1,
			SourcePoolID: adj.Pool,
			ViaToken:     t,
			Liquidity:    liquidity,
		})
	}
	return out, thin
}

// apply merges the sorted estimates per target and commits the accepted
// candidates. It returns the number of accepted updates.
func (e *Engine) apply(cycle int, g *Graph, res *RunResult, estimates []PriceEstimate) int {
	accepted := 0
	for lo := 0; lo < len(estimates); {
		hi := lo + 1
		for hi < len(estimates) && estimates[hi].Target == estimates[lo].Target {
			hi++
		}

		cand := mergeEstimates(estimates[lo:hi])
		cand.Cycle = cycle
		if tok, ok := g.Token(cand.TokenID); ok {
			cand.Symbol = tok.Symbol()
		}

		prev, priced := res.Prices[cand.TokenID]
		if !priced || e.improves(cand, prev) {
			if e.observer != nil {
				var p *PriceResult
				if priced {
					p = &prev
				}
				e.observer.OnAccept(cycle, p, cand)
			}
			res.Prices[cand.TokenID] = cand
			accepted++
		} else {
			res.Discarded++
		}
		lo = hi
	}
	return accepted
}

// improves reports whether cand materially beats cur: higher confidence,
// then more paths, then fewer hops. Lower confidence never wins.
func (e *Engine) improves(cand, cur PriceResult) bool {
	d := cand.Confidence - cur.Confidence
	switch {
	case d > e.params.ConfidenceEpsilon:
		return true
	case d < 0:
		return false
	case cand.PathsUsed != cur.PathsUsed:
		return cand.PathsUsed > cur.PathsUsed
	default:
		return cand.HopCount < cur.HopCount
	}
}

// mergeEstimates combines one target's estimates: liquidity-weighted mean
// price (plain mean when no estimate carries weight), max confidence, min
// hops, summed liquidity.
func mergeEstimates(ests []PriceEstimate) PriceResult {
	out := PriceResult{
		TokenID:        ests[0].Target,
		HopCount:       ests[0].HopCount,
		PathsUsed:      len(ests),
		TotalLiquidity: decimal.Zero,
		Paths:          make([]PathRef, 0, len(ests)),
	}

	weighted := decimal.Zero
	plain := decimal.Zero
	for _, est := range ests {
		weighted = weighted.Add(est.USDPrice.Mul(est.Liquidity))
		plain = plain.Add(est.USDPrice)
		out.TotalLiquidity = out.TotalLiquidity.Add(est.Liquidity)
		out.Confidence = math.Max(out.Confidence, est.Confidence)
		out.HopCount = min(out.HopCount, est.HopCount)
		out.Paths = append(out.Paths, PathRef{
			PoolID:    est.SourcePoolID,
			Via:       est.ViaToken,
			USDPrice:  est.USDPrice,
			Liquidity: est.Liquidity,
		})
	}

	if out.TotalLiquidity.IsPositive() {
		out.USDPrice = quo(weighted, out.TotalLiquidity)
	} else {
		out.USDPrice = quo(plain, decimal.NewFromInt(int64(len(ests))))
	}
	return out
}

// crossValidate compares each usable pool joining two anchors with the
// anchors' configured prices. Anchors are never repriced.
func crossValidate(g *Graph, anchors *Anchors) ([]AnchorDeviation, []Diagnostic) {
	var (
		devs  []AnchorDeviation
		diags []Diagnostic
	)
	for _, e := range g.edges {
		p := e.pool
		if !p.Usable() {
			continue
		}
		base, okA := anchors.Get(p.TokenA)
		quoted, okB := anchors.Get(p.TokenB)
		if !okA || !okB {
			continue
		}

		implied := ImpliedPrice(base.USDPrice, e.normA, e.normB)
		dev := AnchorDeviation{
			PoolID:    p.ID,
			Base:      base.Token,
			Quoted:    quoted.Token,
			Deviation: CalculateDeviation(quoted.USDPrice, implied),
		}
		devs = append(devs, dev)

		if dev.Exceeds(DeviationWarnBps) {
			diags = append(diags, Diagnostic{
				Code:     apperror.CodeAnchorDeviation,
				Severity: SeverityWarning,
				PoolID:   p.ID,
				TokenID:  quoted.Token,
				Message:  fmt.Sprintf("pool implies %s for anchor %s (%s bps)", implied.StringFixed(6), quoted.Token, dev.BasisPoints.StringFixed(2)),
			})
		}
	}
	return devs, diags
}

// ImpliedPrice is the spot USD price of the far side of a pool given the USD
// price of the near side and both reserves in whole-token units.
func ImpliedPrice(nearPrice, nearReserve, farReserve decimal.Decimal) decimal.Decimal {
	if farReserve.IsZero() {
		return decimal.Zero
	}
	return quo(nearPrice.Mul(nearReserve), farReserve)
}

// GeometricMean returns sqrt(a*b), zero when either side is not positive.
// The root is taken in big.Float so products of any magnitude stay finite.
func GeometricMean(a, b decimal.Decimal) decimal.Decimal {
	if !a.IsPositive() || !b.IsPositive() {
		return decimal.Zero
	}
	prod, _, err := big.ParseFloat(a.Mul(b).String(), 10, sqrtPrec, big.ToNearestEven)
	if err != nil {
		return decimal.Zero
	}
	root := new(big.Float).SetPrec(sqrtPrec).Sqrt(prod)
	out, err := decimal.NewFromString(root.Text('e', divPrecision))
	if err != nil {
		return decimal.Zero
	}
	return out
}

// quo divides keeping divPrecision significant digits past the leading
// digit of the quotient, so tiny quotients never round to zero.
func quo(num, den decimal.Decimal) decimal.Decimal {
	places := int32(divPrecision)
	if lead := magnitude(num) - magnitude(den); lead < 0 {
		places -= lead
	}
	return num.DivRound(den, places)
}

// magnitude is the position of the leading digit: 123 -> 3, 0.0012 -> -2.
func magnitude(d decimal.Decimal) int32 {
	return int32(d.NumDigits()) + d.Exponent()
}
