// Package token describes the on-chain ChainEquity token contract: the event
// signatures it emits, the decoder that turns raw logs into typed events, and
// the fixed-point conventions shared by the indexing and cap-table layers.
package token

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// BasisPoints is the denominator of the split multiplier. A cumulative
// multiplier M stored in basis points means the displayed balance is
// raw * M / BasisPoints.
const BasisPoints = 10_000

// DefaultDecimals is assumed when the contract's decimals() cannot be read.
const DefaultDecimals = 18

// Event type names, as persisted in the store's event_type column.
const (
	TypeTransfer        = "Transfer"
	TypeWalletApproved  = "WalletApproved"
	TypeWalletRevoked   = "WalletRevoked"
	TypeStockSplit      = "StockSplit"
	TypeSymbolChanged   = "SymbolChanged"
	TypeNameChanged     = "NameChanged"
	TypeTransferBlocked = "TransferBlocked"
)

// EventTypes lists every recognized event type.
var EventTypes = []string{
	TypeTransfer,
	TypeWalletApproved,
	TypeWalletRevoked,
	TypeStockSplit,
	TypeSymbolChanged,
	TypeNameChanged,
	TypeTransferBlocked,
}

// ValidEventType reports whether s names a recognized event type.
func ValidEventType(s string) bool {
	for _, t := range EventTypes {
		if s == t {
			return true
		}
	}
	return false
}

// AddressHex renders an address as the canonical stored form: lowercase
// 40-hex with 0x prefix.
func AddressHex(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// IsZeroAddress reports whether a is the zero address, which marks the mint
// and burn sides of a Transfer.
func IsZeroAddress(a common.Address) bool {
	return a == (common.Address{})
}

// BasisPointsBig is BasisPoints as a big integer, for raw-balance math.
var BasisPointsBig = big.NewInt(BasisPoints)
