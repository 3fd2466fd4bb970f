package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/BiscuitNick/chainequity-sub000/api"
	"github.com/BiscuitNick/chainequity-sub000/captable"
	"github.com/BiscuitNick/chainequity-sub000/chain"
	"github.com/BiscuitNick/chainequity-sub000/indexer"
	"github.com/BiscuitNick/chainequity-sub000/log"
	"github.com/BiscuitNick/chainequity-sub000/metrics"
	"github.com/BiscuitNick/chainequity-sub000/store"
	"github.com/BiscuitNick/chainequity-sub000/token"
)

// shutdownTimeout bounds the HTTP drain during Stop.
const shutdownTimeout = 10 * time.Second

// Node is the top-level service that manages all subsystems.
type Node struct {
	cfg     Config
	root    *log.Logger // handed to subsystems, which namespace it
	logger  *log.Logger
	metrics *metrics.Metrics

	store  *store.Store
	chain  *chain.Client
	engine *captable.Engine
	api    *api.Server
	ix     atomic.Pointer[indexer.Indexer]

	mu      sync.Mutex
	running bool
	stopped bool
	stop    chan struct{}
	fatal   chan error
}

// New validates cfg and initializes the local subsystems: logger, metrics,
// store, and the cap-table engine. Network-facing pieces connect in Start.
// A nil cfg loads the configuration from the environment.
func New(cfg *Config) (*Node, error) {
	if cfg == nil {
		loaded, err := FromEnv()
		if err != nil {
			return nil, err
		}
		cfg = &loaded
	} else if err := cfg.Validate(); err != nil {
		return nil, err
	}

	root := log.New(os.Stderr, cfg.Level(), cfg.Development())
	n := &Node{
		cfg:     *cfg,
		root:    root,
		logger:  root.Module("node"),
		metrics: metrics.New(),
		stop:    make(chan struct{}),
		fatal:   make(chan error, 1),
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	n.store = st

	engine, err := captable.NewEngine(st, n.tokenDecimals, root)
	if err != nil {
		st.Close()
		return nil, err
	}
	n.engine = engine
	return n, nil
}

// Start connects to the chain endpoint and brings up the indexer and the
// HTTP API. It returns once every subsystem is running; errors after that
// point are delivered on Fatal.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.running {
		return errors.New("node: already started")
	}
	if n.stopped {
		return errors.New("node: already stopped")
	}

	n.logger.Info("starting chainequity node",
		"endpoint", n.cfg.EndpointName(),
		"contract", n.cfg.ContractAddress,
		"database", n.cfg.DatabasePath,
		"port", n.cfg.Port)

	client, err := chain.Dial(ctx, chain.Config{
		URL:       n.cfg.EndpointURL(),
		Contract:  common.HexToAddress(n.cfg.ContractAddress),
		LocalOnly: n.cfg.UseLocalNetwork,
		Logger:    n.root,
		Metrics:   n.metrics,
	})
	if err != nil {
		return fmt.Errorf("node: dial chain: %w", err)
	}
	n.chain = client

	ixCfg := indexer.DefaultConfig()
	ixCfg.DeploymentBlock = n.cfg.DeploymentBlock
	ix, err := indexer.New(ixCfg, client, n.store, n.root, n.metrics)
	if err != nil {
		client.Close()
		n.chain = nil
		return fmt.Errorf("node: init indexer: %w", err)
	}
	n.ix.Store(ix)

	apiCfg := api.DefaultConfig()
	apiCfg.Port = n.cfg.Port
	apiCfg.CORSOrigins = n.cfg.CORSOrigins
	n.api = api.NewServer(apiCfg, n.store, n.engine, ix, n.root, n.metrics)

	if err := ix.Start(ctx); err != nil {
		client.Close()
		n.chain = nil
		return fmt.Errorf("node: start indexer: %w", err)
	}
	apiErr := n.api.Start()
	go n.watch(ix, apiErr)

	n.running = true
	n.logger.Info("node started")
	return nil
}

// Stop shuts the subsystems down in reverse start order: HTTP first so
// in-flight reads drain, then the indexer, the chain client, and the store.
// It is safe to call more than once and on a node that never started.
func (n *Node) Stop() error {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return nil
	}
	n.stopped = true
	n.running = false
	apiSrv, client, st := n.api, n.chain, n.store
	ix := n.ix.Load()
	close(n.stop)
	n.mu.Unlock()

	var firstErr error
	if apiSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := apiSrv.Shutdown(ctx); err != nil {
			firstErr = fmt.Errorf("node: stop api: %w", err)
		}
		cancel()
	}
	if ix != nil {
		ix.Stop()
	}
	if client != nil {
		client.Close()
	}
	if st != nil {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("node: close store: %w", err)
		}
	}
	n.logger.Info("node stopped")
	return firstErr
}

// Wait blocks until the node is stopped.
func (n *Node) Wait() {
	<-n.stop
}

// Fatal delivers at most one unrecoverable subsystem error. Callers should
// stop the node and exit non-zero when it fires.
func (n *Node) Fatal() <-chan error {
	return n.fatal
}

// Config returns the node configuration.
func (n *Node) Config() Config {
	return n.cfg
}

// Running reports whether the node is currently running.
func (n *Node) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.running
}

// watch forwards the first fatal subsystem error. The API error channel
// stays silent on clean shutdown, so the stop channel ends the watch.
func (n *Node) watch(ix *indexer.Indexer, apiErr <-chan error) {
	select {
	case err := <-ix.Fatal():
		n.deliverFatal(err)
	case err := <-apiErr:
		if err != nil {
			n.deliverFatal(err)
		}
	case <-n.stop:
	}
}

func (n *Node) deliverFatal(err error) {
	select {
	case n.fatal <- err:
	default:
	}
}

// tokenDecimals reports the token decimals last read from the contract, or
// the default before the indexer has bootstrapped.
func (n *Node) tokenDecimals() uint8 {
	if ix := n.ix.Load(); ix != nil {
		return ix.Decimals()
	}
	return token.DefaultDecimals
}
