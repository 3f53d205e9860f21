// Package uniswap reads Uniswap V2 style pair contracts into pool sets.
package uniswap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/fd1az/pool-pricer/business/pricing/app"
	"github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
	"github.com/fd1az/pool-pricer/internal/cache"
	"github.com/fd1az/pool-pricer/internal/circuitbreaker"
	"github.com/fd1az/pool-pricer/internal/config"
	"github.com/fd1az/pool-pricer/internal/logger"
)

const (
	tracerName = "github.com/fd1az/pool-pricer/business/pricing/infra/uniswap"
	meterName  = "github.com/fd1az/pool-pricer/business/pricing/infra/uniswap"

	defaultCallTimeout = 5 * time.Second
	defaultConcurrency = 8
)

var _ app.PoolSource = (*PairSource)(nil)

// Backend is the subset of ethclient.Client the source needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

type sourceMetrics struct {
	callsTotal   metric.Int64Counter
	callErrors   metric.Int64Counter
	fetchLatency metric.Float64Histogram
	pairsSkipped metric.Int64Counter
}

// PairSource implements app.PoolSource over on-chain V2 pairs. All calls of
// one fetch are pinned to the same block.
type PairSource struct {
	backend     Backend
	pairs       []common.Address
	callTimeout time.Duration
	concurrency int

	pairABI  abi.ABI
	erc20ABI abi.ABI

	// Token metadata never changes, so it is cached without expiry.
	tokens *cache.Cache[common.Address, *asset.Asset]

	logger  logger.LoggerInterface
	cb      *circuitbreaker.CircuitBreaker[[]byte]
	tracer  trace.Tracer
	metrics *sourceMetrics
}

// NewPairSource creates a source reading cfg.Pairs through backend.
func NewPairSource(backend Backend, cfg config.EVMConfig, log logger.LoggerInterface) (*PairSource, error) {
	if backend == nil {
		return nil, apperror.Configuration("evm pool source requires an ethereum client")
	}
	pairs := cfg.PairAddresses()
	if len(pairs) == 0 {
		return nil, apperror.Configuration("evm pool source requires at least one pair")
	}

	pairABI, err := abi.JSON(strings.NewReader(PairABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse pair ABI: %w", err)
	}
	erc20ABI, err := abi.JSON(strings.NewReader(ERC20ABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse erc20 ABI: %w", err)
	}

	s := &PairSource{
		backend:     backend,
		pairs:       pairs,
		callTimeout: cfg.CallTimeout,
		concurrency: cfg.Concurrency,
		pairABI:     pairABI,
		erc20ABI:    erc20ABI,
		tokens:      cache.New[common.Address, *asset.Asset](0),
		logger:      log,
		cb:          circuitbreaker.New[[]byte](circuitbreaker.DefaultConfig("evm-pairs")),
		tracer:      otel.Tracer(tracerName),
	}
	if s.callTimeout <= 0 {
		s.callTimeout = defaultCallTimeout
	}
	if s.concurrency <= 0 {
		s.concurrency = defaultConcurrency
	}

	if err := s.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to init metrics: %w", err)
	}
	return s, nil
}

func (s *PairSource) initMetrics() error {
	meter := otel.Meter(meterName)
	var err error

	s.metrics = &sourceMetrics{}

	s.metrics.callsTotal, err = meter.Int64Counter(
		"evm_contract_calls_total",
		metric.WithDescription("Total contract calls"),
	)
	if err != nil {
		return err
	}

	s.metrics.callErrors, err = meter.Int64Counter(
		"evm_contract_call_errors_total",
		metric.WithDescription("Total failed contract calls"),
	)
	if err != nil {
		return err
	}

	s.metrics.fetchLatency, err = meter.Float64Histogram(
		"evm_pool_fetch_latency_ms",
		metric.WithDescription("Latency of a full pair fetch in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	s.metrics.pairsSkipped, err = meter.Int64Counter(
		"evm_pairs_skipped_total",
		metric.WithDescription("Pairs dropped from a fetch after a failed read"),
	)
	return err
}

// Close releases the token metadata cache.
func (s *PairSource) Close() {
	s.tokens.Close()
}

type pairState struct {
	address  common.Address
	token0   common.Address
	token1   common.Address
	reserves Reserves
}

// FetchPools reads every configured pair at the current block. A pair that
// cannot be read is skipped with a warning; the fetch fails only when no
// pair could be read.
func (s *PairSource) FetchPools(ctx context.Context) (*domain.PoolSet, error) {
	ctx, span := s.tracer.Start(ctx, "uniswap.fetch_pools",
		trace.WithAttributes(attribute.Int("pairs", len(s.pairs))),
	)
	defer span.End()

	start := time.Now()
	defer func() {
		s.metrics.fetchLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	}()

	head, err := s.backend.BlockNumber(ctx)
	if err != nil {
		span.SetStatus(codes.Error, "block number")
		return nil, apperror.External(apperror.CodePoolSourceFailed, "read block number", err)
	}
	block := new(big.Int).SetUint64(head)
	span.SetAttributes(attribute.Int64("block", int64(head)))

	states := make([]*pairState, len(s.pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for i, pair := range s.pairs {
		g.Go(func() error {
			st, err := s.readPair(gctx, pair, block)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.metrics.pairsSkipped.Add(gctx, 1)
				s.logger.Warn(gctx, "pair read failed", "pair", pair.Hex(), "error", err)
				return nil
			}
			states[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, apperror.Wrap(err, apperror.CodePoolSourceFailed, "read pairs")
	}

	read := make([]*pairState, 0, len(states))
	for _, st := range states {
		if st != nil {
			read = append(read, st)
		}
	}
	if len(read) == 0 {
		span.SetStatus(codes.Error, "no pairs")
		return nil, apperror.New(apperror.CodePoolSourceFailed,
			apperror.WithContext(fmt.Sprintf("none of %d pairs could be read at block %d", len(s.pairs), head)))
	}

	registry, err := s.resolveTokens(ctx, read, block)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, apperror.Wrap(err, apperror.CodePoolSourceFailed, "read token metadata")
	}

	pools := make([]domain.PoolEdge, 0, len(read))
	for _, st := range read {
		pools = append(pools, domain.PoolEdge{
			ID:          domain.PoolID(st.address.Hex()),
			TokenA:      asset.IDFromAddress(st.token0),
			TokenB:      asset.IDFromAddress(st.token1),
			ReserveA:    st.reserves.Reserve0,
			ReserveB:    st.reserves.Reserve1,
			LastUpdated: time.Unix(int64(st.reserves.BlockTimestampLast), 0).UTC(),
		})
	}

	span.SetAttributes(
		attribute.Int("pools_read", len(pools)),
		attribute.Int("tokens", registry.Count()),
	)
	s.logger.Debug(ctx, "evm pairs fetched", "block", head, "pools", len(pools), "tokens", registry.Count())

	return &domain.PoolSet{
		Pools:       pools,
		Tokens:      registry,
		BlockNumber: head,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (s *PairSource) readPair(ctx context.Context, pair common.Address, block *big.Int) (*pairState, error) {
	st := &pairState{address: pair}

	out, err := s.call(ctx, s.pairABI, pair, "token0", block)
	if err != nil {
		return nil, err
	}
	st.token0 = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)

	out, err = s.call(ctx, s.pairABI, pair, "token1", block)
	if err != nil {
		return nil, err
	}
	st.token1 = *abi.ConvertType(out[0], new(common.Address)).(*common.Address)

	out, err = s.call(ctx, s.pairABI, pair, "getReserves", block)
	if err != nil {
		return nil, err
	}
	if len(out) < 3 {
		return nil, fmt.Errorf("getReserves: unexpected output length %d", len(out))
	}
	r0, ok0 := out[0].(*big.Int)
	r1, ok1 := out[1].(*big.Int)
	ts, okTS := out[2].(uint32)
	if !ok0 || !ok1 || !okTS {
		return nil, errors.New("getReserves: unexpected output types")
	}
	st.reserves = Reserves{Reserve0: r0, Reserve1: r1, BlockTimestampLast: ts}
	return st, nil
}

// resolveTokens registers every token referenced by pairs. Tokens whose
// decimals cannot be read stay unregistered and are rejected downstream as
// unknown.
func (s *PairSource) resolveTokens(ctx context.Context, pairs []*pairState, block *big.Int) (*asset.Registry, error) {
	seen := make(map[common.Address]struct{})
	var addrs []common.Address
	for _, st := range pairs {
		for _, t := range []common.Address{st.token0, st.token1} {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				addrs = append(addrs, t)
			}
		}
	}

	registry := asset.NewRegistry()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, addr := range addrs {
		g.Go(func() error {
			a, err := s.token(gctx, addr, block)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				s.logger.Warn(gctx, "token metadata unavailable", "token", addr.Hex(), "error", err)
				return nil
			}
			return registry.Register(a)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return registry, nil
}

func (s *PairSource) token(ctx context.Context, addr common.Address, block *big.Int) (*asset.Asset, error) {
	if a, ok := s.tokens.Get(ctx, addr); ok {
		return a, nil
	}

	out, err := s.call(ctx, s.erc20ABI, addr, "decimals", block)
	if err != nil {
		return nil, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return nil, errors.New("decimals: unexpected output type")
	}

	// Some tokens return bytes32 symbols; fall back to a short address tag.
	symbol := addr.Hex()[:8]
	if out, err := s.call(ctx, s.erc20ABI, addr, "symbol", block); err == nil {
		if sym, ok := out[0].(string); ok && sym != "" {
			symbol = sym
		}
	}

	a, err := asset.New(asset.IDFromAddress(addr), symbol, int(decimals))
	if err != nil {
		return nil, err
	}
	s.tokens.Set(ctx, addr, a, 0)
	return a, nil
}

// call packs method, executes it through the breaker with a per-call
// timeout, and unpacks the outputs.
func (s *PairSource) call(ctx context.Context, contract abi.ABI, to common.Address, method string, block *big.Int) ([]any, error) {
	data, err := contract.Pack(method)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", method, err)
	}

	s.metrics.callsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	raw, err := s.cb.Execute(func() ([]byte, error) {
		return s.backend.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, block)
	})
	if err != nil {
		s.metrics.callErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
		if apperror.IsCode(err, apperror.CodeCircuitOpen) {
			return nil, err
		}
		return nil, apperror.New(apperror.CodeContractCallFailed,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("%s on %s", method, to.Hex())))
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: empty output", method)
	}
	return out, nil
}
