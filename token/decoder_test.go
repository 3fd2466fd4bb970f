package token

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func newTestDecoder(t *testing.T) *Decoder {
	t.Helper()
	d, err := NewDecoder()
	if err != nil {
		t.Fatalf("NewDecoder: %v", err)
	}
	return d
}

// addrTopic left-pads an address into a 32-byte topic.
func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

// packData encodes the non-indexed arguments of the named event.
func packData(t *testing.T, d *Decoder, event string, vals ...interface{}) []byte {
	t.Helper()
	def, ok := d.abi.Events[event]
	if !ok {
		t.Fatalf("unknown event %q", event)
	}
	data, err := def.Inputs.NonIndexed().Pack(vals...)
	if err != nil {
		t.Fatalf("pack %s: %v", event, err)
	}
	return data
}

var (
	addrA = common.HexToAddress("0xAAaA00000000000000000000000000000000aaaA")
	addrB = common.HexToAddress("0xbBbB00000000000000000000000000000000BbbB")
)

func TestDecoder_TransferTopicIsCanonical(t *testing.T) {
	d := newTestDecoder(t)
	id, ok := d.EventID(TypeTransfer)
	if !ok {
		t.Fatal("Transfer event missing from ABI")
	}
	// keccak256("Transfer(address,address,uint256)")
	want := common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")
	if id != want {
		t.Fatalf("Transfer topic = %s, want %s", id, want)
	}
}

func TestDecoder_Transfer(t *testing.T) {
	d := newTestDecoder(t)
	id, _ := d.EventID(TypeTransfer)
	amount := new(big.Int).Mul(big.NewInt(1000), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

	lg := types.Log{
		Topics:      []common.Hash{id, addrTopic(addrA), addrTopic(addrB)},
		Data:        packData(t, d, TypeTransfer, amount),
		BlockNumber: 42,
		TxHash:      common.HexToHash("0x01"),
		Index:       3,
	}

	ev, err := d.Decode(lg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev == nil {
		t.Fatal("Decode returned nil for known topic")
	}
	if ev.Type != TypeTransfer {
		t.Fatalf("type = %q, want Transfer", ev.Type)
	}
	if ev.From != addrA || ev.To != addrB {
		t.Fatalf("from/to = %s/%s", ev.From, ev.To)
	}
	if ev.Amount.Cmp(amount) != 0 {
		t.Fatalf("amount = %s, want %s", ev.Amount, amount)
	}
	if ev.Raw.BlockNumber != 42 || ev.Raw.Index != 3 {
		t.Fatalf("raw log not carried: block=%d index=%d", ev.Raw.BlockNumber, ev.Raw.Index)
	}

	data, err := ev.DataJSON()
	if err != nil {
		t.Fatalf("DataJSON: %v", err)
	}
	for _, want := range []string{
		`"from":"0xaaaa00000000000000000000000000000000aaaa"`,
		`"to":"0xbbbb00000000000000000000000000000000bbbb"`,
		`"value":"` + amount.String() + `"`,
	} {
		if !strings.Contains(data, want) {
			t.Errorf("data %s missing %s", data, want)
		}
	}
}

func TestDecoder_MintHasZeroFrom(t *testing.T) {
	d := newTestDecoder(t)
	id, _ := d.EventID(TypeTransfer)

	lg := types.Log{
		Topics: []common.Hash{id, addrTopic(common.Address{}), addrTopic(addrA)},
		Data:   packData(t, d, TypeTransfer, big.NewInt(500)),
	}

	ev, err := d.Decode(lg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !IsZeroAddress(ev.From) {
		t.Fatalf("from = %s, want zero address", ev.From)
	}
	if IsZeroAddress(ev.To) {
		t.Fatal("to must not be zero")
	}
}

func TestDecoder_WalletApprovedAndRevoked(t *testing.T) {
	d := newTestDecoder(t)

	for _, typ := range []string{TypeWalletApproved, TypeWalletRevoked} {
		id, ok := d.EventID(typ)
		if !ok {
			t.Fatalf("%s missing from ABI", typ)
		}
		lg := types.Log{Topics: []common.Hash{id, addrTopic(addrA)}}

		ev, err := d.Decode(lg)
		if err != nil {
			t.Fatalf("Decode %s: %v", typ, err)
		}
		if ev.Type != typ {
			t.Fatalf("type = %q, want %q", ev.Type, typ)
		}
		if ev.Wallet != addrA {
			t.Fatalf("wallet = %s, want %s", ev.Wallet, addrA)
		}

		data, err := ev.DataJSON()
		if err != nil {
			t.Fatalf("DataJSON: %v", err)
		}
		if !strings.Contains(data, `"wallet":"0xaaaa`) {
			t.Errorf("data %s missing wallet", data)
		}
	}
}

func TestDecoder_StockSplit(t *testing.T) {
	d := newTestDecoder(t)
	id, _ := d.EventID(TypeStockSplit)

	lg := types.Log{
		Topics: []common.Hash{id},
		Data:   packData(t, d, TypeStockSplit, big.NewInt(20000), big.NewInt(40000)),
	}

	ev, err := d.Decode(lg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Multiplier.Int64() != 20000 {
		t.Fatalf("multiplier = %s, want 20000", ev.Multiplier)
	}
	if ev.CumulativeMultiplier.Int64() != 40000 {
		t.Fatalf("cumulative = %s, want 40000", ev.CumulativeMultiplier)
	}

	data, err := ev.DataJSON()
	if err != nil {
		t.Fatalf("DataJSON: %v", err)
	}
	if !strings.Contains(data, `"newCumulativeMultiplier":"40000"`) {
		t.Errorf("data %s missing cumulative multiplier", data)
	}
}

func TestDecoder_SymbolAndNameChanged(t *testing.T) {
	d := newTestDecoder(t)

	tests := []struct {
		typ      string
		old, new string
	}{
		{TypeSymbolChanged, "EQT", "EQT2"},
		{TypeNameChanged, "Equity Token", "Equity Token v2"},
	}

	for _, tt := range tests {
		id, _ := d.EventID(tt.typ)
		lg := types.Log{
			Topics: []common.Hash{id},
			Data:   packData(t, d, tt.typ, tt.old, tt.new),
		}

		ev, err := d.Decode(lg)
		if err != nil {
			t.Fatalf("Decode %s: %v", tt.typ, err)
		}
		if ev.OldValue != tt.old || ev.NewValue != tt.new {
			t.Fatalf("%s: old/new = %q/%q, want %q/%q",
				tt.typ, ev.OldValue, ev.NewValue, tt.old, tt.new)
		}
	}
}

func TestDecoder_TransferBlocked(t *testing.T) {
	d := newTestDecoder(t)
	id, _ := d.EventID(TypeTransferBlocked)

	lg := types.Log{
		Topics: []common.Hash{id, addrTopic(addrA), addrTopic(addrB)},
		Data:   packData(t, d, TypeTransferBlocked, big.NewInt(77)),
	}

	ev, err := d.Decode(lg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Type != TypeTransferBlocked {
		t.Fatalf("type = %q", ev.Type)
	}
	if ev.Amount.Int64() != 77 {
		t.Fatalf("amount = %s, want 77", ev.Amount)
	}
}

func TestDecoder_UnknownTopicIgnored(t *testing.T) {
	d := newTestDecoder(t)

	lg := types.Log{Topics: []common.Hash{common.HexToHash("0xdead")}}
	ev, err := d.Decode(lg)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev != nil {
		t.Fatalf("unknown topic decoded to %+v, want nil", ev)
	}
}

func TestDecoder_NoTopicsIgnored(t *testing.T) {
	d := newTestDecoder(t)

	ev, err := d.Decode(types.Log{})
	if err != nil || ev != nil {
		t.Fatalf("Decode(empty) = %+v, %v; want nil, nil", ev, err)
	}
}

func TestDecoder_MalformedDataErrors(t *testing.T) {
	d := newTestDecoder(t)
	id, _ := d.EventID(TypeStockSplit)

	// StockSplit expects two 32-byte words; one byte is malformed.
	lg := types.Log{Topics: []common.Hash{id}, Data: []byte{0x01}}
	if _, err := d.Decode(lg); err == nil {
		t.Fatal("expected error for malformed data")
	}
}

func TestValidEventType(t *testing.T) {
	for _, typ := range EventTypes {
		if !ValidEventType(typ) {
			t.Errorf("ValidEventType(%q) = false", typ)
		}
	}
	if ValidEventType("Bogus") {
		t.Error("ValidEventType(Bogus) = true")
	}
}

func TestAddressHex(t *testing.T) {
	got := AddressHex(addrA)
	want := "0xaaaa00000000000000000000000000000000aaaa"
	if got != want {
		t.Fatalf("AddressHex = %q, want %q", got, want)
	}
}
