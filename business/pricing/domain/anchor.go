package domain

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/fd1az/pool-pricer/internal/apperror"
	"github.com/fd1az/pool-pricer/internal/asset"
)

// AnchorKind distinguishes how an anchor is priced.
type AnchorKind string

const (
	AnchorStablecoin AnchorKind = "stablecoin"
	AnchorBTCOracle  AnchorKind = "btc_oracle"
)

// Anchor is a token whose USD price is supplied from outside the engine.
type Anchor struct {
	Token    asset.ID
	USDPrice decimal.Decimal
	Kind     AnchorKind
}

// AnchorConfig lists the anchor tokens of a run.
type AnchorConfig struct {
	Stablecoins []asset.ID
	BTCAnchor   asset.ID
}

// Anchors is the seeded frontier of a run.
type Anchors struct {
	list     []Anchor
	byToken  map[asset.ID]Anchor
	btcToken asset.ID
	btcPrice decimal.Decimal
}

var stablecoinPrice = decimal.NewFromInt(1)

// SeedAnchors prices stablecoins at $1 and the BTC anchor at the oracle
// price. A zero oracle price means the oracle value is missing.
func SeedAnchors(cfg AnchorConfig, btcPrice decimal.Decimal) (*Anchors, error) {
	if !btcPrice.IsPositive() {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("BTC oracle price is missing or not positive"),
			apperror.WithContext(fmt.Sprintf("btcPrice=%s", btcPrice)))
	}
	if cfg.BTCAnchor.IsEmpty() {
		return nil, apperror.New(apperror.CodeConfigurationError,
			apperror.WithMessage("BTC anchor token is not configured"))
	}

	a := &Anchors{
		byToken:  make(map[asset.ID]Anchor, len(cfg.Stablecoins)+1),
		btcToken: cfg.BTCAnchor,
		btcPrice: btcPrice,
	}
	add := func(anchor Anchor) error {
		if anchor.Token.IsEmpty() {
			return apperror.Configuration("empty anchor token id")
		}
		if _, dup := a.byToken[anchor.Token]; dup {
			return apperror.Configuration(fmt.Sprintf("duplicate anchor %s", anchor.Token))
		}
		a.byToken[anchor.Token] = anchor
		a.list = append(a.list, anchor)
		return nil
	}

	for _, id := range cfg.Stablecoins {
		if err := add(Anchor{Token: id, USDPrice: stablecoinPrice, Kind: AnchorStablecoin}); err != nil {
			return nil, err
		}
	}
	if err := add(Anchor{Token: cfg.BTCAnchor, USDPrice: btcPrice, Kind: AnchorBTCOracle}); err != nil {
		return nil, err
	}

	return a, nil
}

// Frontier returns the initial price table: one result per anchor with
// confidence 1, zero hops and a single path.
func (a *Anchors) Frontier() map[asset.ID]PriceResult {
	out := make(map[asset.ID]PriceResult, len(a.list))
	for _, an := range a.list {
		out[an.Token] = PriceResult{
			TokenID:    an.Token,
			USDPrice:   an.USDPrice,
			Confidence: 1.0,
			HopCount:   0,
			PathsUsed:  1,
			Anchor:     true,
		}
	}
	return out
}

// IsAnchor reports whether t is an anchor.
func (a *Anchors) IsAnchor(t asset.ID) bool {
	_, ok := a.byToken[t]
	return ok
}

// Get returns the anchor for t.
func (a *Anchors) Get(t asset.ID) (Anchor, bool) {
	an, ok := a.byToken[t]
	return an, ok
}

// All returns the anchors in configuration order.
func (a *Anchors) All() []Anchor {
	out := make([]Anchor, len(a.list))
	copy(out, a.list)
	return out
}

// BTCToken returns the BTC-pegged anchor id.
func (a *Anchors) BTCToken() asset.ID { return a.btcToken }

// BTCPrice returns the oracle price of the BTC anchor.
func (a *Anchors) BTCPrice() decimal.Decimal { return a.btcPrice }
