package captable

import (
	"context"
	"math/big"
	"strings"
)

// Balance-history entry classifications.
const (
	ChangeMint     = "Mint"
	ChangeSent     = "Transfer Sent"
	ChangeReceived = "Transfer Received"
	ChangeSelf     = "Self Transfer"
)

// HistoryEntry is one balance change for a holder, with the running balance
// after the change applied.
type HistoryEntry struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"transactionHash"`
	Type        string `json:"type"`
	Change      string `json:"change"`
	Balance     string `json:"balance"`
	Timestamp   uint64 `json:"timestamp"`
}

// History replays every transfer touching address in chain order and emits
// the classified change plus the cumulative balance at each step.
func (e *Engine) History(ctx context.Context, address string) ([]HistoryEntry, error) {
	addr := strings.ToLower(address)
	transfers, err := e.store.GetTransfersByAddress(ctx, addr)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(transfers))
	running := new(big.Int)
	for _, ev := range transfers {
		v, ok := new(big.Int).SetString(ev.Amount, 10)
		if !ok {
			e.logger.Warn("history skipping transfer with malformed amount",
				"tx", ev.TxHash, "amount", ev.Amount)
			continue
		}

		kind := ChangeReceived
		change := new(big.Int).Set(v)
		switch {
		case ev.From == addr && ev.To == addr:
			kind = ChangeSelf
			change.SetInt64(0)
		case ev.From == addr:
			kind = ChangeSent
			change.Neg(change)
		case isMintSide(ev.From):
			kind = ChangeMint
		}

		running.Add(running, change)
		entries = append(entries, HistoryEntry{
			BlockNumber: ev.BlockNumber,
			TxHash:      ev.TxHash,
			Type:        kind,
			Change:      change.String(),
			Balance:     running.String(),
			Timestamp:   ev.Timestamp,
		})
	}
	return entries, nil
}
