package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// headBuffer sizes the head and header channels so a slow consumer does not
// immediately stall the subscription.
const headBuffer = 16

// pollHeadFailureLimit ends a poll subscription after this many consecutive
// BlockNumber failures so the consumer can rebuild the connection.
const pollHeadFailureLimit = 3

// HeadSubscription delivers new chain head numbers until unsubscribed. The
// Heads channel closes when the subscription dies; a terminal cause, if any,
// is available on Err.
type HeadSubscription interface {
	Heads() <-chan uint64
	Err() <-chan error
	Unsubscribe()
}

// SubscribeNewHeads delivers new head block numbers. Transports without
// notification support (plain HTTP) fall back to polling BlockNumber.
func (c *Client) SubscribeNewHeads(ctx context.Context) (HeadSubscription, error) {
	if supportsSubscriptions(c.url) {
		if err := c.wait(ctx, "subscribe"); err != nil {
			return nil, err
		}
		headers := make(chan *types.Header, headBuffer)
		sub, err := c.eth.SubscribeNewHead(ctx, headers)
		if err == nil {
			s := &pushSubscription{
				sub:   sub,
				heads: make(chan uint64, headBuffer),
				errs:  make(chan error, 1),
				quit:  make(chan struct{}),
			}
			go s.run(headers)
			return s, nil
		}
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return nil, c.fail("subscribe", fmt.Errorf("chain: subscribe heads: %w", err))
		}
		c.logger.Warn("endpoint rejected head subscription, polling instead", "url", c.url)
	}
	return newPollSubscription(c.BlockNumber, c.pollInterval), nil
}

// supportsSubscriptions reports whether the transport can carry push
// notifications. IPC paths have no scheme.
func supportsSubscriptions(rawURL string) bool {
	switch {
	case strings.HasPrefix(rawURL, "ws://"), strings.HasPrefix(rawURL, "wss://"):
		return true
	case !strings.Contains(rawURL, "://"):
		return true
	}
	return false
}

// pushSubscription adapts an ethclient head subscription.
type pushSubscription struct {
	sub ethereum.Subscription

	heads chan uint64
	errs  chan error
	quit  chan struct{}
}

func (s *pushSubscription) Heads() <-chan uint64 { return s.heads }
func (s *pushSubscription) Err() <-chan error    { return s.errs }

func (s *pushSubscription) Unsubscribe() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
	s.sub.Unsubscribe()
}

func (s *pushSubscription) run(headers <-chan *types.Header) {
	defer close(s.heads)
	for {
		select {
		case <-s.quit:
			return
		case err, ok := <-s.sub.Err():
			if ok && err != nil {
				select {
				case s.errs <- err:
				default:
				}
			}
			return
		case header := <-headers:
			if header == nil {
				continue
			}
			select {
			case s.heads <- header.Number.Uint64():
			case <-s.quit:
				return
			}
		}
	}
}

// pollSubscription emulates a head subscription by polling the chain head
// and emitting when it advances.
type pollSubscription struct {
	fetch    func(context.Context) (uint64, error)
	interval time.Duration

	heads chan uint64
	errs  chan error
	quit  chan struct{}
}

func newPollSubscription(fetch func(context.Context) (uint64, error), interval time.Duration) *pollSubscription {
	s := &pollSubscription{
		fetch:    fetch,
		interval: interval,
		heads:    make(chan uint64, headBuffer),
		errs:     make(chan error, 1),
		quit:     make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *pollSubscription) Heads() <-chan uint64 { return s.heads }
func (s *pollSubscription) Err() <-chan error    { return s.errs }

func (s *pollSubscription) Unsubscribe() {
	select {
	case <-s.quit:
	default:
		close(s.quit)
	}
}

func (s *pollSubscription) run() {
	defer close(s.heads)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var last uint64
	failures := 0
	for {
		select {
		case <-s.quit:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			head, err := s.fetch(ctx)
			cancel()
			if err != nil {
				if failures++; failures >= pollHeadFailureLimit {
					select {
					case s.errs <- fmt.Errorf("chain: head poll: %w", err):
					default:
					}
					return
				}
				continue
			}
			failures = 0
			if head <= last {
				continue
			}
			last = head
			select {
			case s.heads <- head:
			case <-s.quit:
				return
			}
		}
	}
}
