package indexer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BiscuitNick/chainequity-sub000/store"
	"github.com/BiscuitNick/chainequity-sub000/token"
)

// batchItem couples an event row with the side effects that must apply only
// when the row is newly inserted. Replayed duplicates skip them.
type batchItem struct {
	event     store.Event
	action    *store.CorporateAction
	metaKey   string
	metaValue string
}

// writeBatch is the ordered output of one gather phase. Balances hold the
// final value per address; the last transfer in the range wins.
type writeBatch struct {
	items    []batchItem
	balances map[string]store.Balance
}

// syncPass ingests [from, to]: gather does all RPC up front, commit applies
// the batch and advances last_synced_block in one transaction. No store
// transaction is held across an RPC call.
func (ix *Indexer) syncPass(ctx context.Context, from, to uint64) error {
	started := time.Now()

	batch, err := ix.gather(ctx, from, to)
	if err != nil {
		ix.metrics.SyncFailures.Inc()
		return err
	}
	counts, err := ix.commit(ctx, batch, to)
	if err != nil {
		ix.metrics.SyncFailures.Inc()
		return fmt.Errorf("%w: %w", ErrCommitFailed, err)
	}

	ix.lastProcessed.Store(to)
	ix.metrics.SyncPasses.Inc()
	ix.metrics.SyncDuration.Observe(time.Since(started).Seconds())
	ix.metrics.LastSyncedBlock.Set(float64(to))
	inserted := 0
	for eventType, n := range counts {
		inserted += n
		ix.metrics.EventsIndexed.WithLabelValues(eventType).Add(float64(n))
	}
	if inserted > 0 {
		ix.logger.Info("sync pass committed",
			"from", from, "to", to, "events", inserted,
			"elapsed", time.Since(started).String())
	} else {
		ix.logger.Debug("sync pass committed", "from", from, "to", to)
	}
	return nil
}

// gather queries and decodes the range's logs and resolves everything that
// needs RPC: block timestamps, receipts, and post-transfer balances.
func (ix *Indexer) gather(ctx context.Context, from, to uint64) (*writeBatch, error) {
	logs, err := ix.chain.QueryLogs(ctx, from, to)
	if err != nil {
		return nil, err
	}
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})

	batch := &writeBatch{balances: make(map[string]store.Balance)}
	timestamps := make(map[uint64]uint64)
	receipts := make(map[common.Hash]gasFields)
	var splitMultiplier *big.Int

	for _, lg := range logs {
		ev, err := ix.decoder.Decode(lg)
		if err != nil {
			// A known topic with undecodable payload will never decode;
			// retrying forever would wedge the pipeline.
			ix.logger.Warn("skipping undecodable log",
				"block", lg.BlockNumber, "tx", lg.TxHash.Hex(), "error", err)
			continue
		}
		if ev == nil {
			continue
		}

		ts, err := ix.blockTimestamp(ctx, lg.BlockNumber, timestamps)
		if err != nil {
			return nil, err
		}
		gas := ix.fetchGas(ctx, lg.TxHash, receipts)

		data, err := ev.DataJSON()
		if err != nil {
			ix.logger.Warn("event data encoding failed", "tx", lg.TxHash.Hex(), "error", err)
		}

		item := batchItem{event: store.Event{
			BlockNumber: lg.BlockNumber,
			LogIndex:    uint32(lg.Index),
			TxHash:      lg.TxHash.Hex(),
			Type:        ev.Type,
			Data:        data,
			GasUsed:     gas.used,
			GasPrice:    gas.price,
			Timestamp:   ts,
		}}

		switch ev.Type {
		case token.TypeTransfer:
			item.event.From = token.AddressHex(ev.From)
			item.event.To = token.AddressHex(ev.To)
			item.event.Amount = ev.Amount.String()
			if splitMultiplier == nil {
				if splitMultiplier, err = ix.currentMultiplier(ctx); err != nil {
					return nil, err
				}
			}
			for _, side := range []common.Address{ev.From, ev.To} {
				if token.IsZeroAddress(side) {
					continue
				}
				if err := ix.refreshBalance(ctx, batch, side, splitMultiplier, lg.BlockNumber, ts); err != nil {
					return nil, err
				}
			}

		case token.TypeStockSplit:
			item.action = &store.CorporateAction{
				ActionType:  store.ActionStockSplit,
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash.Hex(),
				OldValue:    ev.Multiplier.String(),
				NewValue:    ev.CumulativeMultiplier.String(),
				Timestamp:   ts,
			}
			item.metaKey = store.MetaSplitMultiplier
			item.metaValue = ev.CumulativeMultiplier.String()

		case token.TypeSymbolChanged:
			item.action = &store.CorporateAction{
				ActionType:  store.ActionSymbolChange,
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash.Hex(),
				OldValue:    ev.OldValue,
				NewValue:    ev.NewValue,
				Timestamp:   ts,
			}
			item.metaKey = store.MetaTokenSymbol
			item.metaValue = ev.NewValue

		case token.TypeNameChanged:
			item.action = &store.CorporateAction{
				ActionType:  store.ActionNameChange,
				BlockNumber: lg.BlockNumber,
				TxHash:      lg.TxHash.Hex(),
				OldValue:    ev.OldValue,
				NewValue:    ev.NewValue,
				Timestamp:   ts,
			}
			item.metaKey = store.MetaTokenName
			item.metaValue = ev.NewValue

		case token.TypeWalletApproved, token.TypeWalletRevoked:
			item.event.From = token.AddressHex(ev.Wallet)

		case token.TypeTransferBlocked:
			item.event.From = token.AddressHex(ev.From)
			item.event.To = token.AddressHex(ev.To)
			item.event.Amount = ev.Amount.String()
		}

		batch.items = append(batch.items, item)
	}
	return batch, nil
}

// currentMultiplier reads the contract's cumulative split multiplier,
// falling back to the identity multiplier on nonsense values.
func (ix *Indexer) currentMultiplier(ctx context.Context) (*big.Int, error) {
	m, err := ix.chain.SplitMultiplier(ctx)
	if err != nil {
		return nil, err
	}
	if m.Sign() <= 0 {
		ix.logger.Warn("contract returned non-positive split multiplier", "value", m.String())
		return new(big.Int).Set(token.BasisPointsBig), nil
	}
	return m, nil
}

// refreshBalance reads the side's display balance and stores the
// pre-multiplier raw value: raw = onChain * BasisPoints / multiplier.
func (ix *Indexer) refreshBalance(ctx context.Context, batch *writeBatch, side common.Address, multiplier *big.Int, block, ts uint64) error {
	onChain, err := ix.chain.BalanceOf(ctx, side)
	if err != nil {
		return err
	}
	raw := new(big.Int).Mul(onChain, token.BasisPointsBig)
	raw.Quo(raw, multiplier)

	addr := token.AddressHex(side)
	batch.balances[addr] = store.Balance{
		Address:              addr,
		Balance:              raw.String(),
		LastUpdatedBlock:     block,
		LastUpdatedTimestamp: ts,
	}
	return nil
}

// blockTimestamp resolves a block's timestamp through the per-pass cache.
func (ix *Indexer) blockTimestamp(ctx context.Context, number uint64, cache map[uint64]uint64) (uint64, error) {
	if ts, ok := cache[number]; ok {
		return ts, nil
	}
	block, err := ix.chain.GetBlock(ctx, number)
	if err != nil {
		return 0, err
	}
	cache[number] = block.Timestamp
	return block.Timestamp, nil
}

type gasFields struct {
	used  string
	price string
}

// fetchGas fetches the transaction's receipt with bounded retries. A miss
// is non-fatal; the event persists with null gas fields.
func (ix *Indexer) fetchGas(ctx context.Context, hash common.Hash, cache map[common.Hash]gasFields) gasFields {
	if gas, ok := cache[hash]; ok {
		return gas
	}

	var lastErr error
	for attempt := 0; attempt < ix.cfg.ReceiptRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(ix.cfg.ReceiptBackoff):
			case <-ix.stop:
				cache[hash] = gasFields{}
				return gasFields{}
			case <-ctx.Done():
				cache[hash] = gasFields{}
				return gasFields{}
			}
		}
		receipt, err := ix.chain.GetTransactionReceipt(ctx, hash)
		if err != nil {
			lastErr = err
			continue
		}
		gas := gasFields{used: strconv.FormatUint(receipt.GasUsed, 10)}
		if receipt.EffectiveGasPrice != nil {
			gas.price = receipt.EffectiveGasPrice.String()
		}
		cache[hash] = gas
		return gas
	}

	ix.logger.Warn("receipt unavailable, persisting null gas fields",
		"tx", hash.Hex(), "error", lastErr)
	cache[hash] = gasFields{}
	return gasFields{}
}

// commit applies the batch and advances the sync cursor atomically. Side
// effects (actions, metadata) apply only for newly inserted events, so
// replaying a range is a no-op. Returns inserted-event counts by type.
func (ix *Indexer) commit(ctx context.Context, batch *writeBatch, to uint64) (map[string]int, error) {
	counts := make(map[string]int)
	err := ix.store.RunInTransaction(ctx, func(tx *store.Tx) error {
		for _, item := range batch.items {
			inserted, err := tx.InsertEvent(ctx, item.event)
			if err != nil {
				return err
			}
			if !inserted {
				continue
			}
			counts[item.event.Type]++
			if item.action != nil {
				if err := tx.InsertCorporateAction(ctx, *item.action); err != nil {
					return err
				}
			}
			if item.metaKey != "" {
				if err := tx.SetMetadata(ctx, item.metaKey, item.metaValue); err != nil {
					return err
				}
			}
		}

		addrs := make([]string, 0, len(batch.balances))
		for addr := range batch.balances {
			addrs = append(addrs, addr)
		}
		sort.Strings(addrs)
		for _, addr := range addrs {
			b := batch.balances[addr]
			if err := tx.UpsertBalance(ctx, b.Address, b.Balance, b.LastUpdatedBlock, b.LastUpdatedTimestamp); err != nil {
				return err
			}
		}

		return tx.SetLastSyncedBlock(ctx, to)
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}
