// Package chain adapts the go-ethereum client to the narrow surface the
// indexer needs: head tracking, log queries, receipts, and read-only calls
// against a single token contract. Every outbound RPC passes a shared rate
// limiter.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"golang.org/x/time/rate"

	"github.com/BiscuitNick/chainequity-sub000/log"
	"github.com/BiscuitNick/chainequity-sub000/metrics"
)

// maxLogRange is the widest block span sent in one eth_getLogs request.
// Providers commonly reject wider filters.
const maxLogRange = 1000

// DefaultPollInterval drives the head poll fallback on transports without
// subscription support.
const DefaultPollInterval = 3 * time.Second

var (
	ErrReceiptNotFound  = errors.New("chain: receipt not found")
	ErrNotLocalEndpoint = errors.New("chain: endpoint is not a local network")
	ErrEmptyResult      = errors.New("chain: empty call result")
)

// localHosts are the endpoint hosts accepted when the localhost guard is on.
var localHosts = map[string]bool{
	"localhost": true,
	"127.0.0.1": true,
	"::1":       true,
	"hardhat":   true,
	"anvil":     true,
}

// Config configures a Client for one (endpoint, contract) pair.
type Config struct {
	URL      string
	Contract common.Address

	// RequestsPerSecond throttles all outbound RPC. Zero or negative
	// disables the limiter.
	RequestsPerSecond float64

	// PollInterval is the head poll period on transports without
	// subscription support. Zero means DefaultPollInterval.
	PollInterval time.Duration

	// LocalOnly refuses any endpoint whose host is not a loopback address
	// or a known local dev service name.
	LocalOnly bool

	Logger  *log.Logger
	Metrics *metrics.Metrics
}

// Client is the RPC adapter for the tracked token contract.
type Client struct {
	eth          *ethclient.Client
	rpc          *rpc.Client
	url          string
	contract     common.Address
	limiter      *rate.Limiter
	pollInterval time.Duration
	logger       *log.Logger
	metrics      *metrics.Metrics
}

// Dial connects to the configured endpoint. HTTP connections are lazy, so
// a bad endpoint may only surface on the first call.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("chain: empty endpoint URL")
	}
	if cfg.LocalOnly {
		if err := checkLocalEndpoint(cfg.URL); err != nil {
			return nil, err
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	rpcClient, err := rpc.DialContext(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.URL, err)
	}

	limit := rate.Inf
	burst := 1
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
		if burst = int(cfg.RequestsPerSecond); burst < 1 {
			burst = 1
		}
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}

	return &Client{
		eth:          ethclient.NewClient(rpcClient),
		rpc:          rpcClient,
		url:          cfg.URL,
		contract:     cfg.Contract,
		limiter:      rate.NewLimiter(limit, burst),
		pollInterval: pollInterval,
		logger:       logger.Module("chain"),
		metrics:      cfg.Metrics,
	}, nil
}

// checkLocalEndpoint enforces the localhost guard. IPC paths have no host
// and are local by definition.
func checkLocalEndpoint(rawURL string) error {
	if !strings.Contains(rawURL, "://") {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("chain: parse endpoint URL: %w", err)
	}
	if !localHosts[u.Hostname()] {
		return fmt.Errorf("%w: %q", ErrNotLocalEndpoint, u.Hostname())
	}
	return nil
}

// Close tears down the underlying RPC connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// Contract returns the tracked contract address.
func (c *Client) Contract() common.Address {
	return c.contract
}

// wait blocks on the rate limiter and counts the request.
func (c *Client) wait(ctx context.Context, method string) error {
	if c.metrics != nil {
		c.metrics.RPCRequests.WithLabelValues(method).Inc()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("chain: rate limit: %w", err)
	}
	return nil
}

func (c *Client) fail(method string, err error) error {
	if c.metrics != nil {
		c.metrics.RPCErrors.WithLabelValues(method).Inc()
	}
	return err
}

// BlockNumber returns the current head block number.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	if err := c.wait(ctx, "blockNumber"); err != nil {
		return 0, err
	}
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, c.fail("blockNumber", fmt.Errorf("chain: block number: %w", err))
	}
	return n, nil
}

// Block holds the header fields the indexer consumes.
type Block struct {
	Number    uint64
	Timestamp uint64
}

// GetBlock returns the header of the given block number.
func (c *Client) GetBlock(ctx context.Context, number uint64) (*Block, error) {
	if err := c.wait(ctx, "getBlock"); err != nil {
		return nil, err
	}
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return nil, c.fail("getBlock", fmt.Errorf("chain: header %d: %w", number, err))
	}
	return &Block{Number: header.Number.Uint64(), Timestamp: header.Time}, nil
}

// Receipt carries the gas fields persisted alongside events.
type Receipt struct {
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// GetTransactionReceipt returns the receipt for hash, or ErrReceiptNotFound
// while the node has not indexed the transaction yet.
func (c *Client) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	if err := c.wait(ctx, "getReceipt"); err != nil {
		return nil, err
	}
	receipt, err := c.eth.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, c.fail("getReceipt", fmt.Errorf("%w: %s", ErrReceiptNotFound, hash.Hex()))
	}
	if err != nil {
		return nil, c.fail("getReceipt", fmt.Errorf("chain: receipt %s: %w", hash.Hex(), err))
	}
	return &Receipt{GasUsed: receipt.GasUsed, EffectiveGasPrice: receipt.EffectiveGasPrice}, nil
}

// QueryLogs returns the contract's logs in [from, to], both inclusive. Wide
// ranges are split into chunks the provider accepts.
func (c *Client) QueryLogs(ctx context.Context, from, to uint64) ([]types.Log, error) {
	var out []types.Log
	for _, r := range shardRanges(from, to, maxLogRange) {
		if err := c.wait(ctx, "getLogs"); err != nil {
			return nil, err
		}
		logs, err := c.eth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(r[0]),
			ToBlock:   new(big.Int).SetUint64(r[1]),
			Addresses: []common.Address{c.contract},
		})
		if err != nil {
			return nil, c.fail("getLogs", fmt.Errorf("chain: logs [%d, %d]: %w", r[0], r[1], err))
		}
		out = append(out, logs...)
	}
	return out, nil
}

// shardRanges splits [from, to] into inclusive subranges of at most size
// blocks. from > to yields nil.
func shardRanges(from, to, size uint64) [][2]uint64 {
	if from > to || size == 0 {
		return nil
	}
	var out [][2]uint64
	start := from
	for {
		end := start + size - 1
		if end > to || end < start {
			end = to
		}
		out = append(out, [2]uint64{start, end})
		if end == to {
			return out
		}
		start = end + 1
	}
}
