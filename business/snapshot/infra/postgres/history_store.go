package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/fd1az/pool-pricer/business/snapshot/app"
	"github.com/fd1az/pool-pricer/business/snapshot/domain"
	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

const tracerName = "github.com/fd1az/pool-pricer/business/snapshot/infra/postgres"

var _ app.HistoryStore = (*HistoryStore)(nil)

const insertPoint = `
INSERT INTO price_history (
    version, computed_at, block_number, token_id, symbol,
    usd_price, sbtc_ratio, confidence, hop_count, paths_used,
    total_liquidity, anchor
) VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8, $9, $10, $11::numeric, $12)
ON CONFLICT (computed_at, token_id) DO NOTHING`

const selectRecent = `
SELECT version, computed_at, block_number, token_id, symbol,
       usd_price::text, sbtc_ratio::text, confidence, hop_count, paths_used,
       total_liquidity::text, anchor
FROM price_history
WHERE token_id = $1
ORDER BY computed_at DESC
LIMIT $2`

// HistoryStore writes one row per priced token per published run.
type HistoryStore struct {
	pool   *Pool
	tracer trace.Tracer
}

// NewHistoryStore creates a HistoryStore on pool.
func NewHistoryStore(pool *Pool) *HistoryStore {
	return &HistoryStore{pool: pool, tracer: otel.Tracer(tracerName)}
}

// Append inserts points in one batch. Rows already recorded for the same
// run and token are skipped.
func (s *HistoryStore) Append(ctx context.Context, points []domain.PricePoint) error {
	if len(points) == 0 {
		return nil
	}
	ctx, span := s.tracer.Start(ctx, "postgres.history.append",
		trace.WithAttributes(attribute.Int("points", len(points))),
	)
	defer span.End()

	batch := &pgx.Batch{}
	for _, p := range points {
		batch.Queue(insertPoint,
			int64(p.Version),
			p.ComputedAt,
			int64(p.BlockNumber),
			string(p.TokenID),
			p.Symbol,
			p.USDPrice.String(),
			p.SBTCRatio.String(),
			p.Confidence,
			p.HopCount,
			p.PathsUsed,
			p.TotalLiquidity.String(),
			p.Anchor,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range points {
		if _, err := br.Exec(); err != nil {
			span.RecordError(err)
			return apperror.External(apperror.CodeHistoryStoreError, "insert price_history", err)
		}
	}
	return nil
}

// Recent returns up to limit points of token, newest first.
func (s *HistoryStore) Recent(ctx context.Context, token asset.ID, limit int) ([]domain.PricePoint, error) {
	rows, err := s.pool.Query(ctx, selectRecent, string(token), limit)
	if err != nil {
		return nil, apperror.External(apperror.CodeHistoryStoreError, "query price_history", err)
	}
	defer rows.Close()

	var out []domain.PricePoint
	for rows.Next() {
		var (
			p                     domain.PricePoint
			version, block        int64
			tokenID               string
			usd, ratio, liquidity string
		)
		if err := rows.Scan(&version, &p.ComputedAt, &block, &tokenID, &p.Symbol,
			&usd, &ratio, &p.Confidence, &p.HopCount, &p.PathsUsed, &liquidity, &p.Anchor); err != nil {
			return nil, apperror.External(apperror.CodeHistoryStoreError, "scan price_history", err)
		}
		p.Version = uint64(version)
		p.BlockNumber = uint64(block)
		p.TokenID = asset.ID(tokenID)
		if p.USDPrice, err = decimal.NewFromString(usd); err != nil {
			return nil, fmt.Errorf("usd_price %q: %w", usd, err)
		}
		if p.SBTCRatio, err = decimal.NewFromString(ratio); err != nil {
			return nil, fmt.Errorf("sbtc_ratio %q: %w", ratio, err)
		}
		if p.TotalLiquidity, err = decimal.NewFromString(liquidity); err != nil {
			return nil, fmt.Errorf("total_liquidity %q: %w", liquidity, err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperror.External(apperror.CodeHistoryStoreError, "read price_history", err)
	}
	return out, nil
}
