// Command chainequity runs the ChainEquity indexing service: it follows the
// token contract on the configured network, records every state-changing
// event in SQLite, and serves the cap-table HTTP API.
//
// Usage:
//
//	chainequity [flags]
//
// Configuration comes from the environment (see node.FromEnv); a .env file
// in the working directory is loaded when present.
//
// Flags:
//
//	--env      Path to an env file loaded before reading the environment
//	--version  Print version and exit
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/BiscuitNick/chainequity-sub000/node"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v1.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run is the actual entry point, returning an exit code. Accepts CLI
// arguments (without the program name) so it can be tested in isolation.
func run(args []string) int {
	fs := flag.NewFlagSet("chainequity", flag.ContinueOnError)
	envFile := fs.String("env", "", "path to an env file loaded before reading the environment")
	showVersion := fs.Bool("version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *showVersion {
		fmt.Printf("chainequity %s (commit %s)\n", version, commit)
		return 0
	}

	var files []string
	if *envFile != "" {
		files = append(files, *envFile)
	}
	cfg, err := node.FromEnv(files...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		return 1
	}

	n, err := node.New(&cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create node: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := n.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start node: %v\n", err)
		n.Stop()
		return 1
	}
	fmt.Printf("chainequity %s listening on port %d\n", version, cfg.Port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	code := 0
	select {
	case sig := <-sigCh:
		fmt.Printf("received signal %v, shutting down\n", sig)
	case err := <-n.Fatal():
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		code = 1
	}

	if err := n.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error during shutdown: %v\n", err)
		if code == 0 {
			code = 1
		}
	}
	return code
}
