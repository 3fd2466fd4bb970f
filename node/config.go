// Package node wires the ChainEquity subsystems together: configuration,
// store, chain client, indexer, cap-table engine, and the HTTP API. It owns
// startup order, fatal-error propagation, and graceful shutdown.
package node

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds the full service configuration, sourced from the environment.
type Config struct {
	// Port is the HTTP API listen port.
	Port int

	// Env is the runtime profile. "development" switches logging to the
	// pretty console writer; anything else logs JSON.
	Env string

	// UseLocalNetwork points the chain client at LocalRPCURL and refuses
	// non-loopback endpoints.
	UseLocalNetwork bool

	// LocalRPCURL is the RPC endpoint used in local mode.
	LocalRPCURL string

	// AlchemyAPIKey authenticates against the hosted WebSocket endpoint.
	// Required unless UseLocalNetwork is set.
	AlchemyAPIKey string

	// AlchemyNetwork is the network slug in the hosted endpoint URL.
	AlchemyNetwork string

	// ContractAddress is the tracked token contract, hex-encoded.
	ContractAddress string

	// DatabasePath is the SQLite database file location.
	DatabasePath string

	// CORSOrigins are the allowed origins for the HTTP API.
	CORSOrigins []string

	// DeploymentBlock is the contract deployment height, used as the
	// historical sync start when the store is empty.
	DeploymentBlock uint64

	// LogLevel is the zerolog level name.
	LogLevel string
}

// DefaultConfig returns the defaults for every optional key.
func DefaultConfig() Config {
	return Config{
		Port:           4000,
		Env:            "development",
		LocalRPCURL:    "ws://127.0.0.1:8545",
		AlchemyNetwork: "polygon-amoy",
		DatabasePath:   "data/chainequity.db",
		CORSOrigins:    []string{"*"},
		LogLevel:       "info",
	}
}

// FromEnv builds a Config from the environment. The named dotenv files are
// loaded first (".env" by default, silently skipped when missing); values
// already present in the real environment always win over file values.
func FromEnv(files ...string) (Config, error) {
	if len(files) == 0 {
		_ = godotenv.Load()
	} else if err := godotenv.Load(files...); err != nil {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}

	cfg := DefaultConfig()
	var err error
	if cfg.Port, err = envInt("PORT", cfg.Port); err != nil {
		return Config{}, err
	}
	cfg.Env = envString("NODE_ENV", cfg.Env)
	if cfg.UseLocalNetwork, err = envBool("USE_LOCAL_NETWORK", false); err != nil {
		return Config{}, err
	}
	cfg.LocalRPCURL = envString("LOCAL_RPC_URL", cfg.LocalRPCURL)
	cfg.AlchemyAPIKey = envString("ALCHEMY_API_KEY", "")
	cfg.AlchemyNetwork = envString("ALCHEMY_NETWORK", cfg.AlchemyNetwork)
	cfg.ContractAddress = envString("TOKEN_CONTRACT_ADDRESS", "")
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.CORSOrigins = splitOrigins(envString("CORS_ORIGIN", "*"))
	if cfg.DeploymentBlock, err = envUint("DEPLOYMENT_BLOCK", 0); err != nil {
		return Config{}, err
	}
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port: %d", c.Port)
	}
	if c.ContractAddress == "" {
		return errors.New("config: TOKEN_CONTRACT_ADDRESS is required")
	}
	if !common.IsHexAddress(c.ContractAddress) {
		return fmt.Errorf("config: invalid contract address %q", c.ContractAddress)
	}
	if c.UseLocalNetwork {
		if c.LocalRPCURL == "" {
			return errors.New("config: LOCAL_RPC_URL must not be empty in local mode")
		}
	} else if c.AlchemyAPIKey == "" {
		return errors.New("config: ALCHEMY_API_KEY is required unless USE_LOCAL_NETWORK is set")
	}
	if c.DatabasePath == "" {
		return errors.New("config: DATABASE_PATH must not be empty")
	}
	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil {
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

// EndpointURL returns the RPC endpoint the chain client should dial.
func (c *Config) EndpointURL() string {
	if c.UseLocalNetwork {
		return c.LocalRPCURL
	}
	return fmt.Sprintf("wss://%s.g.alchemy.com/v2/%s", c.AlchemyNetwork, c.AlchemyAPIKey)
}

// EndpointName names the endpoint for logs without exposing the API key.
func (c *Config) EndpointName() string {
	if c.UseLocalNetwork {
		return c.LocalRPCURL
	}
	return "alchemy:" + c.AlchemyNetwork
}

// Development reports whether the development profile is active.
func (c *Config) Development() bool {
	return c.Env == "development"
}

// Level returns the parsed zerolog level, defaulting to info.
func (c *Config) Level() zerolog.Level {
	level, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// envString reads key from the environment, treating empty as unset.
func envString(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid integer %q", key, raw)
	}
	return n, nil
}

func envUint(key string, def uint64) (uint64, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s: invalid block number %q", key, raw)
	}
	return n, nil
}

func envBool(key string, def bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("config: %s: invalid boolean %q", key, raw)
	}
	return v, nil
}

// splitOrigins parses the comma-separated CORS_ORIGIN value.
func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}
