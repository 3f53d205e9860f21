package asset

import (
	"errors"
	"fmt"
)

// MaxDecimals bounds token decimals. ERC-20 allows up to 255 but anything
// above this is almost certainly a broken contract.
const MaxDecimals = 36

var (
	ErrEmptyID            = errors.New("asset: empty token id")
	ErrDecimalsOutOfRange = errors.New("asset: decimals out of range")
)

// Asset is the metadata of a token. Identity is the ID, never the symbol.
type Asset struct {
	id       ID
	symbol   string
	name     string
	decimals uint8
}

// New creates an Asset, validating its identity and decimals.
func New(id ID, symbol string, decimals int) (*Asset, error) {
	if id.IsEmpty() {
		return nil, ErrEmptyID
	}
	if decimals < 0 || decimals > MaxDecimals {
		return nil, fmt.Errorf("%w: %s has %d", ErrDecimalsOutOfRange, id, decimals)
	}
	return &Asset{id: id, symbol: symbol, decimals: uint8(decimals)}, nil
}

// MustNew is New that panics on invalid input. Intended for fixtures.
func MustNew(id ID, symbol string, decimals int) *Asset {
	a, err := New(id, symbol, decimals)
	if err != nil {
		panic(err)
	}
	return a
}

// WithName returns a copy of the asset carrying a human-readable name.
func (a *Asset) WithName(name string) *Asset {
	c := *a
	c.name = name
	return &c
}

// ID returns the unique identifier for this asset.
func (a *Asset) ID() ID {
	return a.id
}

// Symbol returns the ticker symbol, falling back to the id.
func (a *Asset) Symbol() string {
	if a.symbol == "" {
		return string(a.id)
	}
	return a.symbol
}

// Name returns the human-readable name (e.g., "USD Coin").
func (a *Asset) Name() string {
	if a.name == "" {
		return a.Symbol()
	}
	return a.name
}

// Decimals returns the number of decimal places.
func (a *Asset) Decimals() uint8 {
	return a.decimals
}

// String returns a human-readable representation.
func (a *Asset) String() string {
	return a.Symbol()
}

// Equals compares two Assets by their ID.
func (a *Asset) Equals(other *Asset) bool {
	if a == nil || other == nil {
		return a == other
	}
	return a.id == other.id
}
