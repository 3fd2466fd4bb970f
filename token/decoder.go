package token

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// abiJSON declares the seven events the contract emits. View methods are
// called by selector and do not appear here.
const abiJSON = `[
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"value","type":"uint256","indexed":false}]},
  {"type":"event","name":"WalletApproved","anonymous":false,"inputs":[
    {"name":"wallet","type":"address","indexed":true}]},
  {"type":"event","name":"WalletRevoked","anonymous":false,"inputs":[
    {"name":"wallet","type":"address","indexed":true}]},
  {"type":"event","name":"StockSplit","anonymous":false,"inputs":[
    {"name":"multiplier","type":"uint256","indexed":false},
    {"name":"newCumulativeMultiplier","type":"uint256","indexed":false}]},
  {"type":"event","name":"SymbolChanged","anonymous":false,"inputs":[
    {"name":"oldSymbol","type":"string","indexed":false},
    {"name":"newSymbol","type":"string","indexed":false}]},
  {"type":"event","name":"NameChanged","anonymous":false,"inputs":[
    {"name":"oldName","type":"string","indexed":false},
    {"name":"newName","type":"string","indexed":false}]},
  {"type":"event","name":"TransferBlocked","anonymous":false,"inputs":[
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"amount","type":"uint256","indexed":false}]}
]`

// Event is a decoded contract log. Only the fields relevant to its Type are
// populated; the zero address on a Transfer side marks a mint or burn.
type Event struct {
	Type string
	Raw  types.Log

	From   common.Address
	To     common.Address
	Wallet common.Address
	Amount *big.Int

	Multiplier           *big.Int
	CumulativeMultiplier *big.Int

	OldValue string
	NewValue string
}

// DataJSON renders the decoded arguments as the canonical JSON payload
// persisted in the store's data column. Keys are emitted in sorted order.
func (e *Event) DataJSON() (string, error) {
	args := map[string]string{}
	switch e.Type {
	case TypeTransfer:
		args["from"] = AddressHex(e.From)
		args["to"] = AddressHex(e.To)
		args["value"] = e.Amount.String()
	case TypeTransferBlocked:
		args["from"] = AddressHex(e.From)
		args["to"] = AddressHex(e.To)
		args["amount"] = e.Amount.String()
	case TypeWalletApproved, TypeWalletRevoked:
		args["wallet"] = AddressHex(e.Wallet)
	case TypeStockSplit:
		args["multiplier"] = e.Multiplier.String()
		args["newCumulativeMultiplier"] = e.CumulativeMultiplier.String()
	case TypeSymbolChanged:
		args["oldSymbol"] = e.OldValue
		args["newSymbol"] = e.NewValue
	case TypeNameChanged:
		args["oldName"] = e.OldValue
		args["newName"] = e.NewValue
	default:
		return "", fmt.Errorf("token: unknown event type %q", e.Type)
	}
	b, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Decoder maps raw logs to typed events. It performs no I/O and is safe for
// concurrent use.
type Decoder struct {
	abi abi.ABI
}

// NewDecoder parses the contract ABI and returns a ready decoder.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return nil, fmt.Errorf("token: parse abi: %w", err)
	}
	return &Decoder{abi: parsed}, nil
}

// Decode turns a raw log into a typed Event. Logs whose topic does not match
// any known event yield (nil, nil); malformed payloads on a known topic
// yield an error.
func (d *Decoder) Decode(lg types.Log) (*Event, error) {
	if len(lg.Topics) == 0 {
		return nil, nil
	}
	def, err := d.abi.EventByID(lg.Topics[0])
	if err != nil {
		return nil, nil
	}

	ev := &Event{Type: def.Name, Raw: lg}
	switch def.Name {
	case TypeTransfer, TypeTransferBlocked:
		var topics struct {
			From common.Address
			To   common.Address
		}
		if err := abi.ParseTopics(&topics, indexedArgs(def.Inputs), lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("token: decode %s topics: %w", def.Name, err)
		}
		vals, err := def.Inputs.NonIndexed().Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("token: decode %s data: %w", def.Name, err)
		}
		ev.From, ev.To = topics.From, topics.To
		ev.Amount = vals[0].(*big.Int)

	case TypeWalletApproved, TypeWalletRevoked:
		var topics struct {
			Wallet common.Address
		}
		if err := abi.ParseTopics(&topics, indexedArgs(def.Inputs), lg.Topics[1:]); err != nil {
			return nil, fmt.Errorf("token: decode %s topics: %w", def.Name, err)
		}
		ev.Wallet = topics.Wallet

	case TypeStockSplit:
		vals, err := def.Inputs.Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("token: decode StockSplit data: %w", err)
		}
		ev.Multiplier = vals[0].(*big.Int)
		ev.CumulativeMultiplier = vals[1].(*big.Int)

	case TypeSymbolChanged, TypeNameChanged:
		vals, err := def.Inputs.Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("token: decode %s data: %w", def.Name, err)
		}
		ev.OldValue = vals[0].(string)
		ev.NewValue = vals[1].(string)

	default:
		return nil, nil
	}
	return ev, nil
}

// EventID returns the topic hash of the named event, or false if unknown.
// Used by tests and by callers that build filter queries.
func (d *Decoder) EventID(name string) (common.Hash, bool) {
	def, ok := d.abi.Events[name]
	if !ok {
		return common.Hash{}, false
	}
	return def.ID, true
}

// indexedArgs filters an event's inputs down to the indexed ones, in order.
func indexedArgs(inputs abi.Arguments) abi.Arguments {
	var out abi.Arguments
	for _, arg := range inputs {
		if arg.Indexed {
			out = append(out, arg)
		}
	}
	return out
}
