// Package indexer drives the event ingestion pipeline: it follows the chain
// head through a subscription (with a safety-net poll), debounces head
// signals, and runs sync passes that persist decoded contract events and
// refreshed balances atomically.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/BiscuitNick/chainequity-sub000/chain"
	"github.com/BiscuitNick/chainequity-sub000/log"
	"github.com/BiscuitNick/chainequity-sub000/metrics"
	"github.com/BiscuitNick/chainequity-sub000/store"
	"github.com/BiscuitNick/chainequity-sub000/token"
)

// State is the indexer lifecycle state, exported for health reporting.
type State uint32

const (
	StateStarting State = iota
	StateRunning
	StateSyncing
	StateReconnecting
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateSyncing:
		return "syncing"
	case StateReconnecting:
		return "reconnecting"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", uint32(s))
	}
}

var (
	ErrAlreadyStarted = errors.New("indexer: already started")

	// ErrCommitFailed marks a failed store commit. Continuing past one
	// would leave last_synced_block out of step with persisted events, so
	// it is fatal.
	ErrCommitFailed = errors.New("indexer: store commit failed")

	// ErrReconnectExhausted is surfaced after the reconnect budget runs out.
	ErrReconnectExhausted = errors.New("indexer: reconnect attempts exhausted")
)

// Chain is the RPC surface the indexer consumes. *chain.Client satisfies it.
type Chain interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetBlock(ctx context.Context, number uint64) (*chain.Block, error)
	GetTransactionReceipt(ctx context.Context, hash common.Hash) (*chain.Receipt, error)
	QueryLogs(ctx context.Context, from, to uint64) ([]types.Log, error)
	SubscribeNewHeads(ctx context.Context) (chain.HeadSubscription, error)
	BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error)
	SplitMultiplier(ctx context.Context) (*big.Int, error)
	TokenName(ctx context.Context) (string, error)
	TokenSymbol(ctx context.Context) (string, error)
	TokenDecimals(ctx context.Context) (uint8, error)
}

// Config holds indexer tuning. The zero value is not usable; start from
// DefaultConfig.
type Config struct {
	// DeploymentBlock enables the initial historical sync when the store
	// is empty. Zero disables it.
	DeploymentBlock uint64

	PollInterval time.Duration // safety-net head poll period
	Debounce     time.Duration // head signal settle time before a sync pass

	ReconnectBase time.Duration // first reconnect delay
	ReconnectCap  time.Duration // reconnect delay ceiling
	MaxReconnects int           // reconnect budget before giving up

	ReceiptRetries int           // receipt fetch attempts per transaction
	ReceiptBackoff time.Duration // delay between receipt attempts
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:   3 * time.Second,
		Debounce:       400 * time.Millisecond,
		ReconnectBase:  time.Second,
		ReconnectCap:   8 * time.Second,
		MaxReconnects:  10,
		ReceiptRetries: 3,
		ReceiptBackoff: 100 * time.Millisecond,
	}
}

// Indexer ingests contract events into the store. One consumer goroutine
// owns all writes; readers observe state through atomics.
type Indexer struct {
	cfg     *Config
	chain   Chain
	store   *store.Store
	decoder *token.Decoder
	logger  *log.Logger
	metrics *metrics.Metrics

	state         atomic.Uint32
	lastProcessed atomic.Uint64
	decimals      atomic.Uint32

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	fatal   chan error
}

// New wires an Indexer. cfg may be nil for defaults.
func New(cfg *Config, ch Chain, st *store.Store, logger *log.Logger, m *metrics.Metrics) (*Indexer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	decoder, err := token.NewDecoder()
	if err != nil {
		return nil, err
	}
	ix := &Indexer{
		cfg:     cfg,
		chain:   ch,
		store:   st,
		decoder: decoder,
		logger:  logger.Module("indexer"),
		metrics: m,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		fatal:   make(chan error, 1),
	}
	ix.state.Store(uint32(StateStarting))
	ix.decimals.Store(uint32(token.DefaultDecimals))
	return ix, nil
}

// Start launches the ingestion loop. It returns immediately; readiness is
// observable through State.
func (ix *Indexer) Start(ctx context.Context) error {
	if !ix.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}
	go ix.run(ctx)
	return nil
}

// Stop terminates the ingestion loop and waits for it to exit.
func (ix *Indexer) Stop() {
	if !ix.started.Load() {
		return
	}
	select {
	case <-ix.stop:
	default:
		close(ix.stop)
	}
	<-ix.done
}

// Fatal delivers at most one unrecoverable error.
func (ix *Indexer) Fatal() <-chan error {
	return ix.fatal
}

// State returns the current lifecycle state.
func (ix *Indexer) State() State {
	return State(ix.state.Load())
}

// LastProcessedBlock returns the highest block whose events are committed.
func (ix *Indexer) LastProcessedBlock() uint64 {
	return ix.lastProcessed.Load()
}

// Decimals returns the token's decimal places read at bootstrap.
func (ix *Indexer) Decimals() uint8 {
	return uint8(ix.decimals.Load())
}

func (ix *Indexer) setState(s State) {
	ix.state.Store(uint32(s))
}

func (ix *Indexer) fail(err error) {
	ix.setState(StateStopped)
	select {
	case ix.fatal <- err:
	default:
	}
}

func (ix *Indexer) stopping() bool {
	select {
	case <-ix.stop:
		return true
	default:
		return false
	}
}

func (ix *Indexer) run(ctx context.Context) {
	defer close(ix.done)

	if err := ix.bootstrap(ctx); err != nil {
		if ix.stopping() {
			ix.setState(StateStopped)
			return
		}
		ix.fail(fmt.Errorf("indexer: bootstrap: %w", err))
		return
	}

	if ix.cfg.DeploymentBlock > 0 && ix.lastProcessed.Load() == 0 {
		if err := ix.historicalSync(ctx); err != nil {
			if ix.stopping() {
				ix.setState(StateStopped)
				return
			}
			if errors.Is(err, ErrCommitFailed) {
				ix.fail(err)
				return
			}
			// Retryable: live catch-up passes resume from the last
			// committed window.
			ix.logger.Error("historical sync interrupted", "error", err)
		}
	}

	ix.live(ctx)
}

// live owns the subscription lifecycle: (re)subscribe, consume until the
// subscription dies, back off, repeat.
func (ix *Indexer) live(ctx context.Context) {
	attempt := 0
	for {
		if ix.stopping() || ctx.Err() != nil {
			ix.setState(StateStopped)
			return
		}
		sub, err := ix.chain.SubscribeNewHeads(ctx)
		if err != nil {
			ix.logger.Warn("head subscription failed", "error", err)
			ix.setState(StateReconnecting)
			if !ix.backoff(ctx, &attempt) {
				if !ix.stopping() && ctx.Err() == nil {
					ix.fail(fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempt-1, err))
				} else {
					ix.setState(StateStopped)
				}
				return
			}
			continue
		}
		attempt = 0
		ix.setState(StateRunning)

		alive := ix.consume(ctx, sub)
		sub.Unsubscribe()
		if !alive {
			return
		}

		ix.setState(StateReconnecting)
		ix.metrics.Reconnects.Inc()
		if !ix.backoff(ctx, &attempt) {
			if !ix.stopping() && ctx.Err() == nil {
				ix.fail(fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, attempt-1))
			} else {
				ix.setState(StateStopped)
			}
			return
		}
	}
}

// consume is the single event loop. It funnels subscription heads and the
// safety-net poll into the debouncer and runs sync passes when the debounce
// timer fires. Returns false when shutting down, true when the subscription
// died and a reconnect is needed.
func (ix *Indexer) consume(ctx context.Context, sub chain.HeadSubscription) bool {
	poll := time.NewTicker(ix.cfg.PollInterval)
	defer poll.Stop()

	debounce := time.NewTimer(ix.cfg.Debounce)
	stopTimer(debounce)
	defer debounce.Stop()

	var pendingHead uint64

	// Catch up immediately after (re)connecting.
	if head, err := ix.chain.BlockNumber(ctx); err == nil && head > ix.lastProcessed.Load() {
		pendingHead = head
		resetTimer(debounce, ix.cfg.Debounce)
	}

	for {
		select {
		case <-ix.stop:
			ix.setState(StateStopped)
			return false

		case <-ctx.Done():
			ix.setState(StateStopped)
			return false

		case head, ok := <-sub.Heads():
			if !ok {
				return true
			}
			if head > pendingHead {
				pendingHead = head
			}
			resetTimer(debounce, ix.cfg.Debounce)

		case err := <-sub.Err():
			if err != nil {
				ix.logger.Warn("head subscription error", "error", err)
			}
			return true

		case <-poll.C:
			head, err := ix.chain.BlockNumber(ctx)
			if err != nil {
				ix.logger.Debug("head poll failed", "error", err)
				continue
			}
			if head > ix.lastProcessed.Load() && head > pendingHead {
				pendingHead = head
				resetTimer(debounce, ix.cfg.Debounce)
			}

		case <-debounce.C:
			if pendingHead == 0 {
				continue
			}
			to := pendingHead
			pendingHead = 0
			from := ix.lastProcessed.Load() + 1
			if from > to {
				continue
			}

			ix.setState(StateSyncing)
			err := ix.syncPass(ctx, from, to)
			switch {
			case err == nil:
				ix.setState(StateRunning)
			case errors.Is(err, ErrCommitFailed):
				ix.fail(err)
				return false
			default:
				if ix.stopping() || ctx.Err() != nil {
					ix.setState(StateStopped)
					return false
				}
				ix.logger.Error("sync pass failed, re-arming",
					"from", from, "to", to, "error", err)
				pendingHead = to
				resetTimer(debounce, ix.cfg.Debounce)
				ix.setState(StateRunning)
			}
		}
	}
}

// backoff sleeps min(base*2^(attempt-1), cap) and reports whether the caller
// may retry. The sleep is interruptible by shutdown.
func (ix *Indexer) backoff(ctx context.Context, attempt *int) bool {
	*attempt++
	if *attempt > ix.cfg.MaxReconnects {
		return false
	}
	delay := ix.cfg.ReconnectBase << (*attempt - 1)
	if delay > ix.cfg.ReconnectCap || delay <= 0 {
		delay = ix.cfg.ReconnectCap
	}
	ix.logger.Info("reconnecting", "attempt", *attempt, "delay", delay.String())
	select {
	case <-time.After(delay):
		return true
	case <-ix.stop:
		return false
	case <-ctx.Done():
		return false
	}
}

// bootstrap loads the sync cursor and seeds the contract's name, symbol,
// and split multiplier when the store has none. Metadata call failures are
// non-fatal; decimals default to 18.
func (ix *Indexer) bootstrap(ctx context.Context) error {
	last, err := ix.store.GetLastSyncedBlock(ctx)
	if err != nil {
		return err
	}
	ix.lastProcessed.Store(last)

	seed := func(key string, read func(context.Context) (string, error)) {
		if _, err := ix.store.GetMetadata(ctx, key); !errors.Is(err, store.ErrMetadataNotFound) {
			return
		}
		value, err := read(ctx)
		if err != nil {
			ix.logger.Warn("token metadata read failed", "key", key, "error", err)
			return
		}
		if err := ix.store.SetMetadata(ctx, key, value); err != nil {
			ix.logger.Warn("token metadata seed failed", "key", key, "error", err)
		}
	}

	seed(store.MetaTokenName, ix.chain.TokenName)
	seed(store.MetaTokenSymbol, ix.chain.TokenSymbol)
	seed(store.MetaSplitMultiplier, func(ctx context.Context) (string, error) {
		m, err := ix.chain.SplitMultiplier(ctx)
		if err != nil {
			return "", err
		}
		return m.String(), nil
	})

	if d, err := ix.chain.TokenDecimals(ctx); err == nil {
		ix.decimals.Store(uint32(d))
	} else {
		ix.logger.Warn("decimals read failed, assuming default",
			"default", token.DefaultDecimals, "error", err)
	}

	ix.logger.Info("indexer bootstrapped",
		"last_synced_block", last, "decimals", ix.Decimals())
	return nil
}

// historicalWindow is the block span committed per historical transaction,
// so progress survives restarts.
const historicalWindow = 1000

// historicalSync walks [DeploymentBlock, head] in windows, committing each
// window in its own transaction.
func (ix *Indexer) historicalSync(ctx context.Context) error {
	head, err := ix.chain.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("indexer: historical head: %w", err)
	}
	from := ix.cfg.DeploymentBlock
	if from < 1 {
		from = 1
	}
	if from > head {
		return nil
	}

	ix.logger.Info("historical sync starting", "from", from, "to", head)
	ix.setState(StateSyncing)

	for start := from; start <= head; {
		if ix.stopping() || ctx.Err() != nil {
			return ctx.Err()
		}
		end := start + historicalWindow - 1
		if end > head {
			end = head
		}
		if err := ix.syncPass(ctx, start, end); err != nil {
			return err
		}
		start = end + 1
	}

	ix.logger.Info("historical sync complete", "head", head)
	return nil
}

// stopTimer leaves t stopped and drained so the next resetTimer arms it
// cleanly.
func stopTimer(t *time.Timer) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	stopTimer(t)
	t.Reset(d)
}
