// Package console renders published snapshots as terminal tables.
package console

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	pricing "github.com/fd1az/pool-pricer/business/pricing/domain"
	"github.com/fd1az/pool-pricer/business/snapshot/app"
)

const defaultTopN = 10

var _ app.Publisher = (*Publisher)(nil)

// Publisher writes a summary of each snapshot: the top priced tokens, the
// deepest pools and any anchor deviations.
type Publisher struct {
	mu   sync.Mutex
	out  io.Writer
	topN int
}

// NewPublisher creates a Publisher writing to out (stdout when nil).
func NewPublisher(out io.Writer, topN int) *Publisher {
	if out == nil {
		out = os.Stdout
	}
	if topN <= 0 {
		topN = defaultTopN
	}
	return &Publisher{out: out, topN: topN}
}

// Publish renders snap.
func (p *Publisher) Publish(_ context.Context, snap *pricing.Snapshot) error {
	if snap == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	_, err := io.WriteString(p.out, p.Render(snap))
	return err
}

// Render returns the report for snap without writing it.
func (p *Publisher) Render(snap *pricing.Snapshot) string {
	sections := []string{
		titleStyle.Render(fmt.Sprintf("Snapshot v%d", snap.Version)),
		summary(snap),
		p.tokenTable(snap),
	}
	if len(snap.Pools) > 0 {
		sections = append(sections, p.poolTable(snap))
	}
	if len(snap.Deviations) > 0 {
		sections = append(sections, deviationTable(snap.Deviations))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...) + "\n"
}

func summary(snap *pricing.Snapshot) string {
	s := snap.Stats
	line := fmt.Sprintf("%s  BTC $%s  priced %d  unpriced %d  pools %d/%d  cycles %d  %s",
		snap.ComputedAt.UTC().Format(time.RFC3339),
		snap.BTCPrice.StringFixed(2),
		s.TokensPriced, s.TokensUnpriced,
		s.PoolsUsable, s.PoolsTotal,
		s.Cycles, s.Duration.Round(time.Millisecond),
	)
	if s.BlockNumber > 0 {
		line = fmt.Sprintf("block #%d  %s", s.BlockNumber, line)
	}
	if !s.Converged {
		line += "  " + warningStyle.Render("cycle cap reached")
	}
	return mutedStyle.Render(line)
}

func (p *Publisher) tokenTable(snap *pricing.Snapshot) string {
	priced := snap.Priced()
	if len(priced) > p.topN {
		priced = priced[:p.topN]
	}

	rows := make([][]string, 0, len(priced))
	for _, pr := range priced {
		rows = append(rows, []string{
			label(pr.Symbol, string(pr.TokenID)),
			"$" + pr.USDPrice.StringFixed(6),
			pr.SBTCRatio.StringFixed(8),
			strconv.FormatFloat(pr.Confidence, 'f', 3, 64),
			strconv.Itoa(pr.HopCount),
			strconv.Itoa(pr.PathsUsed),
			"$" + pr.TotalLiquidity.StringFixed(2),
		})
	}

	return newTable().
		Headers("TOKEN", "USD", "BTC", "CONF", "HOPS", "PATHS", "LIQUIDITY").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 0 && priced[row].Anchor:
				return anchorStyle
			case col == 3:
				return confidenceStyle(priced[row].Confidence)
			default:
				return cellStyle
			}
		}).
		Render()
}

func (p *Publisher) poolTable(snap *pricing.Snapshot) string {
	pools := snap.Pools
	if len(pools) > p.topN {
		pools = pools[:p.topN]
	}

	rows := make([][]string, 0, len(pools))
	for _, pool := range pools {
		rows = append(rows, []string{
			strconv.Itoa(pool.Rank),
			label(pool.SymbolA, string(pool.TokenA)) + "/" + label(pool.SymbolB, string(pool.TokenB)),
			"$" + pool.LiquidityUSD.StringFixed(2),
			pool.LiquidityRelative.StringFixed(4),
		})
	}

	return newTable().
		Headers("#", "POOL", "LIQUIDITY", "SHARE").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Render()
}

func deviationTable(devs []pricing.AnchorDeviation) string {
	rows := make([][]string, 0, len(devs))
	for _, d := range devs {
		rows = append(rows, []string{
			string(d.PoolID),
			string(d.Quoted) + " via " + string(d.Base),
			d.BasisPoints.StringFixed(2) + " bps",
		})
	}

	return newTable().
		Headers("POOL", "ANCHOR", "DEVIATION").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case col == 2:
				return dangerStyle.Padding(0, 1)
			default:
				return cellStyle
			}
		}).
		Render()
}

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorBorder))
}

func label(symbol, id string) string {
	if symbol != "" {
		return symbol
	}
	if len(id) > 10 {
		return id[:10]
	}
	return id
}
