// Package asset provides a type-safe model for on-chain tokens.
// Reserves are held as exact big.Int atomic units; decimal.Decimal is only
// produced at the normalisation boundary.
package asset

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ID identifies a token. For EVM tokens it is the checksummed contract
// address; any other non-empty string is accepted verbatim.
type ID string

// NewID normalises s into an ID. Hex addresses are checksummed so the same
// contract always maps to the same key regardless of input casing.
func NewID(s string) ID {
	s = strings.TrimSpace(s)
	if common.IsHexAddress(s) {
		return ID(common.HexToAddress(s).Hex())
	}
	return ID(s)
}

// IDFromAddress creates an ID from a contract address.
func IDFromAddress(addr common.Address) ID {
	return ID(addr.Hex())
}

// IsEmpty reports whether the identifier is blank.
func (id ID) IsEmpty() bool {
	return id == ""
}

// IsAddress reports whether the identifier is an EVM contract address.
func (id ID) IsAddress() bool {
	return common.IsHexAddress(string(id))
}

// Address returns the contract address (zero when the ID is not an address).
func (id ID) Address() common.Address {
	if !id.IsAddress() {
		return common.Address{}
	}
	return common.HexToAddress(string(id))
}

// String returns the raw identifier.
func (id ID) String() string {
	return string(id)
}
