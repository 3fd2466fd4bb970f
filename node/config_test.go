package node

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

const testContract = "0x1234567890abcdef1234567890abcdef12345678"

// envKeys is every variable FromEnv reads.
var envKeys = []string{
	"PORT", "NODE_ENV", "USE_LOCAL_NETWORK", "LOCAL_RPC_URL",
	"ALCHEMY_API_KEY", "ALCHEMY_NETWORK", "TOKEN_CONTRACT_ADDRESS",
	"DATABASE_PATH", "CORS_ORIGIN", "DEPLOYMENT_BLOCK", "LOG_LEVEL",
}

// clearEnv pins every config variable to empty so ambient values and any
// developer .env file cannot leak into the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		t.Setenv(key, "")
	}
}

// unsetEnv removes a variable entirely, with restore handled by t.Setenv.
func unsetEnv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestFromEnvDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("TOKEN_CONTRACT_ADDRESS", testContract)
	t.Setenv("ALCHEMY_API_KEY", "key123")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != 4000 {
		t.Errorf("Port = %d, want 4000", cfg.Port)
	}
	if cfg.Env != "development" || !cfg.Development() {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.UseLocalNetwork {
		t.Error("UseLocalNetwork should default to false")
	}
	if cfg.LocalRPCURL != "ws://127.0.0.1:8545" {
		t.Errorf("LocalRPCURL = %q", cfg.LocalRPCURL)
	}
	if cfg.AlchemyNetwork != "polygon-amoy" {
		t.Errorf("AlchemyNetwork = %q, want polygon-amoy", cfg.AlchemyNetwork)
	}
	if cfg.DatabasePath != "data/chainequity.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"*"}) {
		t.Errorf("CORSOrigins = %v, want [*]", cfg.CORSOrigins)
	}
	if cfg.DeploymentBlock != 0 {
		t.Errorf("DeploymentBlock = %d, want 0", cfg.DeploymentBlock)
	}
	if cfg.LogLevel != "info" || cfg.Level() != zerolog.InfoLevel {
		t.Errorf("LogLevel = %q (level %v), want info", cfg.LogLevel, cfg.Level())
	}
	if got := cfg.EndpointURL(); got != "wss://polygon-amoy.g.alchemy.com/v2/key123" {
		t.Errorf("EndpointURL = %q", got)
	}
	if got := cfg.EndpointName(); got != "alchemy:polygon-amoy" {
		t.Errorf("EndpointName = %q", got)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8080")
	t.Setenv("NODE_ENV", "production")
	t.Setenv("USE_LOCAL_NETWORK", "true")
	t.Setenv("LOCAL_RPC_URL", "ws://127.0.0.1:9999")
	t.Setenv("TOKEN_CONTRACT_ADDRESS", testContract)
	t.Setenv("DATABASE_PATH", "/var/lib/chainequity/eq.db")
	t.Setenv("CORS_ORIGIN", "http://a.example, http://b.example")
	t.Setenv("DEPLOYMENT_BLOCK", "12345")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.Development() {
		t.Error("Development() should be false for production")
	}
	if !cfg.UseLocalNetwork {
		t.Error("UseLocalNetwork should be true")
	}
	if got := cfg.EndpointURL(); got != "ws://127.0.0.1:9999" {
		t.Errorf("EndpointURL = %q, want the local URL", got)
	}
	want := []string{"http://a.example", "http://b.example"}
	if !reflect.DeepEqual(cfg.CORSOrigins, want) {
		t.Errorf("CORSOrigins = %v, want %v", cfg.CORSOrigins, want)
	}
	if cfg.DeploymentBlock != 12345 {
		t.Errorf("DeploymentBlock = %d, want 12345", cfg.DeploymentBlock)
	}
	if cfg.Level() != zerolog.DebugLevel {
		t.Errorf("Level = %v, want debug", cfg.Level())
	}
}

func TestFromEnvDotFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	contents := strings.Join([]string{
		"PORT=9999",
		"TOKEN_CONTRACT_ADDRESS=" + testContract,
		"ALCHEMY_API_KEY=filekey",
		"LOG_LEVEL=warn",
	}, "\n")
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(contents), 0o600); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	// These must be genuinely unset for the file values to apply.
	for _, key := range []string{"PORT", "TOKEN_CONTRACT_ADDRESS", "ALCHEMY_API_KEY", "LOG_LEVEL"} {
		unsetEnv(t, key)
	}
	// A real environment value beats the file.
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Port != 9999 {
		t.Errorf("Port = %d, want 9999 from file", cfg.Port)
	}
	if cfg.AlchemyAPIKey != "filekey" {
		t.Errorf("AlchemyAPIKey = %q, want filekey", cfg.AlchemyAPIKey)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want the environment to win", cfg.LogLevel)
	}
}

func TestFromEnvExplicitFileMissing(t *testing.T) {
	clearEnv(t)
	if _, err := FromEnv(filepath.Join(t.TempDir(), "nope.env")); err == nil {
		t.Fatal("expected error for a missing explicit env file")
	}
}

func TestFromEnvMalformedValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"PORT", "abc"},
		{"DEPLOYMENT_BLOCK", "-5"},
		{"USE_LOCAL_NETWORK", "banana"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("TOKEN_CONTRACT_ADDRESS", testContract)
			t.Setenv("ALCHEMY_API_KEY", "key")
			t.Setenv(tt.key, tt.value)

			_, err := FromEnv()
			if err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := DefaultConfig()
		cfg.ContractAddress = testContract
		cfg.AlchemyAPIKey = "key"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"local mode without api key", func(c *Config) {
			c.UseLocalNetwork = true
			c.AlchemyAPIKey = ""
		}, ""},
		{"missing contract", func(c *Config) { c.ContractAddress = "" }, "TOKEN_CONTRACT_ADDRESS"},
		{"malformed contract", func(c *Config) { c.ContractAddress = "0x123" }, "invalid contract address"},
		{"missing api key", func(c *Config) { c.AlchemyAPIKey = "" }, "ALCHEMY_API_KEY"},
		{"zero port", func(c *Config) { c.Port = 0 }, "invalid port"},
		{"huge port", func(c *Config) { c.Port = 70000 }, "invalid port"},
		{"empty database path", func(c *Config) { c.DatabasePath = "" }, "DATABASE_PATH"},
		{"unknown log level", func(c *Config) { c.LogLevel = "noisy" }, "unknown log level"},
		{"local mode empty url", func(c *Config) {
			c.UseLocalNetwork = true
			c.LocalRPCURL = ""
		}, "LOCAL_RPC_URL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.HasPrefix(err.Error(), "config:") {
				t.Errorf("error %q is not config-prefixed", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestSplitOrigins(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"*", []string{"*"}},
		{"http://a.example", []string{"http://a.example"}},
		{"http://a.example,http://b.example", []string{"http://a.example", "http://b.example"}},
		{" http://a.example , ", []string{"http://a.example"}},
		{",,", []string{"*"}},
	}
	for _, tt := range tests {
		if got := splitOrigins(tt.raw); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitOrigins(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}
