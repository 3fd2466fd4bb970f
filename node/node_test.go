package node

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BiscuitNick/chainequity-sub000/chain"
)

// testNodeConfig returns a valid local-mode config backed by a throwaway
// database file.
func testNodeConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.UseLocalNetwork = true
	cfg.ContractAddress = testContract
	cfg.DatabasePath = filepath.Join(t.TempDir(), "node.db")
	return cfg
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testNodeConfig(t)
	cfg.ContractAddress = ""

	if _, err := New(&cfg); err == nil || !strings.Contains(err.Error(), "config:") {
		t.Fatalf("New = %v, want a config error", err)
	}
}

func TestNewInitializesStore(t *testing.T) {
	cfg := testNodeConfig(t)
	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := os.Stat(cfg.DatabasePath); err != nil {
		t.Errorf("database file: %v", err)
	}
	if n.Running() {
		t.Error("Running() should be false before Start")
	}
	if got := n.Config().Port; got != cfg.Port {
		t.Errorf("Config().Port = %d, want %d", got, cfg.Port)
	}
	if err := n.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
	if err := n.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
}

func TestStartDialFailure(t *testing.T) {
	cfg := testNodeConfig(t)
	cfg.LocalRPCURL = "ws://127.0.0.1:1" // nothing listens here

	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := n.Start(ctx); err == nil {
		t.Fatal("Start should fail against a closed port")
	}
	if n.Running() {
		t.Error("Running() should be false after a failed Start")
	}
	if err := n.Stop(); err != nil {
		t.Errorf("Stop after failed Start: %v", err)
	}
}

func TestStartRejectsRemoteEndpointInLocalMode(t *testing.T) {
	cfg := testNodeConfig(t)
	cfg.LocalRPCURL = "ws://rpc.example.com:8545"

	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer n.Stop()

	err = n.Start(context.Background())
	if !errors.Is(err, chain.ErrNotLocalEndpoint) {
		t.Fatalf("Start = %v, want ErrNotLocalEndpoint", err)
	}
}

func TestStartAfterStop(t *testing.T) {
	cfg := testNodeConfig(t)
	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := n.Start(context.Background()); err == nil {
		t.Fatal("Start after Stop should fail")
	}
}

func TestStopUnblocksWait(t *testing.T) {
	cfg := testNodeConfig(t)
	n, err := New(&cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	done := make(chan struct{})
	go func() {
		n.Wait()
		close(done)
	}()

	if err := n.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}
