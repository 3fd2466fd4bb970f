// Package captable reconstructs the token's ownership table from store
// state: the current snapshot from cached balances, historical snapshots at
// an arbitrary height by replaying transfers, and per-holder balance
// histories. Snapshots carry raw (pre-split) balances; consumers apply the
// split multiplier at display time.
package captable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/BiscuitNick/chainequity-sub000/log"
	"github.com/BiscuitNick/chainequity-sub000/store"
	"github.com/BiscuitNick/chainequity-sub000/token"
)

// historicalCacheSize bounds the LRU of immutable historical snapshots.
const historicalCacheSize = 128

// Holder is one cap-table entry. The lastUpdated fields are present only on
// current snapshots; historical replay cannot attribute them.
type Holder struct {
	Address             string  `json:"address"`
	Balance             string  `json:"balance"`
	BalanceFormatted    string  `json:"balanceFormatted"`
	OwnershipPercentage float64 `json:"ownershipPercentage"`
	LastUpdatedBlock    uint64  `json:"lastUpdatedBlock,omitempty"`
	LastUpdatedAt       uint64  `json:"lastUpdatedAt,omitempty"`
}

// Snapshot is the ownership table at one block height. Balances are raw;
// SplitMultiplier is the cumulative multiplier as a ratio (1 means no split).
type Snapshot struct {
	BlockNumber          uint64   `json:"blockNumber"`
	TotalSupply          string   `json:"totalSupply"`
	TotalSupplyFormatted string   `json:"totalSupplyFormatted"`
	SplitMultiplier      float64  `json:"splitMultiplier"`
	HolderCount          int      `json:"holderCount"`
	Holders              []Holder `json:"holders"`
}

// Engine builds snapshots and histories. It is read-only over the store and
// safe for concurrent use.
type Engine struct {
	store    *store.Store
	decimals func() uint8
	logger   *log.Logger

	// Snapshots at or below the sync cursor never change; cache them.
	cache *lru.Cache[uint64, *Snapshot]
}

// NewEngine wires an Engine. decimals supplies the token's unit count, read
// live so a late bootstrap is picked up.
func NewEngine(st *store.Store, decimals func() uint8, logger *log.Logger) (*Engine, error) {
	cache, err := lru.New[uint64, *Snapshot](historicalCacheSize)
	if err != nil {
		return nil, fmt.Errorf("captable: snapshot cache: %w", err)
	}
	return &Engine{
		store:    st,
		decimals: decimals,
		logger:   logger.Module("captable"),
		cache:    cache,
	}, nil
}

// Current builds the latest snapshot from cached balance rows.
func (e *Engine) Current(ctx context.Context) (*Snapshot, error) {
	balances, err := e.store.GetAllBalances(ctx, 0)
	if err != nil {
		return nil, err
	}
	last, err := e.store.GetLastSyncedBlock(ctx)
	if err != nil {
		return nil, err
	}
	multiplier, err := e.splitMultiplier(ctx)
	if err != nil {
		return nil, err
	}

	total := new(big.Int)
	raws := make([]*big.Int, len(balances))
	for i, b := range balances {
		raw, ok := new(big.Int).SetString(b.Balance, 10)
		if !ok {
			return nil, fmt.Errorf("captable: malformed stored balance %q for %s", b.Balance, b.Address)
		}
		raws[i] = raw
		total.Add(total, raw)
	}

	decimals := e.decimals()
	holders := make([]Holder, len(balances))
	for i, b := range balances {
		holders[i] = Holder{
			Address:             b.Address,
			Balance:             b.Balance,
			BalanceFormatted:    FormatUnits(raws[i], decimals),
			OwnershipPercentage: percentage(raws[i], total),
			LastUpdatedBlock:    b.LastUpdatedBlock,
			LastUpdatedAt:       b.LastUpdatedTimestamp,
		}
	}

	return &Snapshot{
		BlockNumber:          last,
		TotalSupply:          total.String(),
		TotalSupplyFormatted: FormatUnits(total, decimals),
		SplitMultiplier:      splitRatio(multiplier),
		HolderCount:          len(holders),
		Holders:              holders,
	}, nil
}

// At reconstructs the snapshot at height by replaying every transfer up to
// and including it. The prevailing multiplier is the cumulative value of the
// latest stock split at or below height. Heights at or below the sync cursor
// are immutable and served from the cache.
func (e *Engine) At(ctx context.Context, height uint64) (*Snapshot, error) {
	last, err := e.store.GetLastSyncedBlock(ctx)
	if err != nil {
		return nil, err
	}
	immutable := height <= last
	if immutable {
		if snap, ok := e.cache.Get(height); ok {
			return snap, nil
		}
	}

	events, err := e.store.GetEventsByBlockRange(ctx, 0, height)
	if err != nil {
		return nil, err
	}

	balances := make(map[string]*big.Int)
	multiplier := new(big.Int).Set(token.BasisPointsBig)
	for _, ev := range events {
		switch ev.Type {
		case token.TypeTransfer:
			v, ok := new(big.Int).SetString(ev.Amount, 10)
			if !ok {
				e.logger.Warn("replay skipping transfer with malformed amount",
					"tx", ev.TxHash, "amount", ev.Amount)
				continue
			}
			switch {
			case isMintSide(ev.From):
				credit(balances, ev.To, v)
			case isMintSide(ev.To):
				debit(balances, ev.From, v)
			default:
				debit(balances, ev.From, v)
				credit(balances, ev.To, v)
			}

		case token.TypeStockSplit:
			var payload struct {
				NewCumulativeMultiplier string `json:"newCumulativeMultiplier"`
			}
			if err := json.Unmarshal([]byte(ev.Data), &payload); err != nil {
				e.logger.Warn("replay skipping stock split with malformed data",
					"tx", ev.TxHash, "error", err)
				continue
			}
			if m, ok := new(big.Int).SetString(payload.NewCumulativeMultiplier, 10); ok && m.Sign() > 0 {
				multiplier = m
			}
		}
	}

	type entry struct {
		addr string
		raw  *big.Int
	}
	kept := make([]entry, 0, len(balances))
	total := new(big.Int)
	for addr, raw := range balances {
		if raw.Sign() <= 0 {
			continue
		}
		kept = append(kept, entry{addr, raw})
		total.Add(total, raw)
	}
	sort.Slice(kept, func(i, j int) bool {
		if c := kept[i].raw.Cmp(kept[j].raw); c != 0 {
			return c > 0
		}
		return kept[i].addr < kept[j].addr
	})

	decimals := e.decimals()
	holders := make([]Holder, len(kept))
	for i, h := range kept {
		holders[i] = Holder{
			Address:             h.addr,
			Balance:             h.raw.String(),
			BalanceFormatted:    FormatUnits(h.raw, decimals),
			OwnershipPercentage: percentage(h.raw, total),
		}
	}

	snap := &Snapshot{
		BlockNumber:          height,
		TotalSupply:          total.String(),
		TotalSupplyFormatted: FormatUnits(total, decimals),
		SplitMultiplier:      splitRatio(multiplier),
		HolderCount:          len(holders),
		Holders:              holders,
	}
	if immutable {
		e.cache.Add(height, snap)
	}
	return snap, nil
}

// splitMultiplier reads the stored cumulative multiplier, defaulting to the
// identity when absent or nonsense.
func (e *Engine) splitMultiplier(ctx context.Context) (*big.Int, error) {
	value, err := e.store.GetMetadata(ctx, store.MetaSplitMultiplier)
	if errors.Is(err, store.ErrMetadataNotFound) {
		return new(big.Int).Set(token.BasisPointsBig), nil
	}
	if err != nil {
		return nil, err
	}
	m, ok := new(big.Int).SetString(value, 10)
	if !ok || m.Sign() <= 0 {
		e.logger.Warn("stored split multiplier unusable, assuming identity", "value", value)
		return new(big.Int).Set(token.BasisPointsBig), nil
	}
	return m, nil
}

func credit(balances map[string]*big.Int, addr string, v *big.Int) {
	if cur, ok := balances[addr]; ok {
		cur.Add(cur, v)
		return
	}
	balances[addr] = new(big.Int).Set(v)
}

func debit(balances map[string]*big.Int, addr string, v *big.Int) {
	if cur, ok := balances[addr]; ok {
		cur.Sub(cur, v)
		return
	}
	balances[addr] = new(big.Int).Neg(v)
}
