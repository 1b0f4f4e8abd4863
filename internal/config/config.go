// Package config loads the relay layer configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ZKRand-Network/relay_layer/pkg/logger"
)

// Duration is a time.Duration that accepts YAML strings like "30s" or
// "10m". Bare integers are read as seconds.
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

// Config is the top-level relayd configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server"`
	Logging  logger.LoggingConfig `yaml:"logging"`
	Database DatabaseConfig       `yaml:"database"`
	Redis    RedisConfig          `yaml:"redis"`
	Verifier VerifierConfig       `yaml:"verifier"`
	Chains   []ChainConfig        `yaml:"chains"`
	Ledger   LedgerConfig         `yaml:"ledger"`
	Relay    RelayConfig          `yaml:"relay"`
	Fees     FeesConfig           `yaml:"fees"`
}

// ServerConfig controls the HTTP front door.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig selects the persistence backend. An empty DSN selects the
// in-memory store.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

// RedisConfig enables the Redis proof registry when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// VerifierConfig points at the external proof-verification service.
type VerifierConfig struct {
	BaseURL             string   `yaml:"base_url"`
	Timeout             Duration `yaml:"timeout"`
	PollInterval        Duration `yaml:"poll_interval"`
	PollMaxInterval     Duration `yaml:"poll_max_interval"`
	VerificationTimeout Duration `yaml:"verification_timeout"`
	PollRatePerSecond   float64  `yaml:"poll_rate_per_second"`
}

// ChainConfig describes one target chain gateway.
type ChainConfig struct {
	ChainID       string   `yaml:"chain_id"`
	Family        string   `yaml:"family"` // "neo" or "evm"
	RPCURL        string   `yaml:"rpc_url"`
	WSURL         string   `yaml:"ws_url"`
	SubmitterURL  string   `yaml:"submitter_url"`
	ContractHash  string   `yaml:"contract_hash"`
	Confirmations int      `yaml:"confirmations"`
	Timeout       Duration `yaml:"timeout"`
}

// LedgerConfig controls request lifecycle policy.
type LedgerConfig struct {
	RequireUniqueSeeds bool     `yaml:"require_unique_seeds"`
	RequestTimeout     Duration `yaml:"request_timeout"`
	ExpireSchedule     string   `yaml:"expire_schedule"`
}

// RelayConfig controls the coordinator's retry budget.
type RelayConfig struct {
	MaxDeliveryAttempts int      `yaml:"max_delivery_attempts"`
	RetryBaseDelay      Duration `yaml:"retry_base_delay"`
	RetryMaxDelay       Duration `yaml:"retry_max_delay"`
	ConfirmInterval     Duration `yaml:"confirm_interval"`
	ConfirmTimeout      Duration `yaml:"confirm_timeout"`
	// BroadcastChains lists chains that receive every fulfillment in
	// addition to the requesting chain.
	BroadcastChains []string `yaml:"broadcast_chains"`
}

// FeesConfig seeds the fee policy.
type FeesConfig struct {
	InitialFee        uint64   `yaml:"initial_fee"`
	AuthorizedSetters []string `yaml:"authorized_setters"`
}

// Load reads configuration from CONFIG_PATH (default config.yaml), applies
// environment overrides and validates the result. A missing file yields the
// defaults.
func Load() (*Config, error) {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return LoadFromPath(path)
}

// LoadFromPath reads configuration from an explicit path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus env overrides are a valid configuration.
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
		Verifier: VerifierConfig{
			Timeout:             Duration(30 * time.Second),
			PollInterval:        Duration(2 * time.Second),
			PollMaxInterval:     Duration(30 * time.Second),
			VerificationTimeout: Duration(10 * time.Minute),
			PollRatePerSecond:   5,
		},
		Ledger: LedgerConfig{
			RequestTimeout: Duration(30 * time.Minute),
			ExpireSchedule: "@every 1m",
		},
		Relay: RelayConfig{
			MaxDeliveryAttempts: 5,
			RetryBaseDelay:      Duration(2 * time.Second),
			RetryMaxDelay:       Duration(time.Minute),
			ConfirmInterval:     Duration(5 * time.Second),
			ConfirmTimeout:      Duration(5 * time.Minute),
		},
		Fees: FeesConfig{InitialFee: 100},
	}
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("RELAY_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("RELAY_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("RELAY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("RELAY_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("RELAY_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("RELAY_VERIFIER_URL"); v != "" {
		cfg.Verifier.BaseURL = v
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Relay.MaxDeliveryAttempts <= 0 {
		return fmt.Errorf("relay max_delivery_attempts must be positive")
	}
	if c.Verifier.VerificationTimeout <= 0 {
		return fmt.Errorf("verifier verification_timeout must be positive")
	}

	seen := make(map[string]struct{}, len(c.Chains))
	for _, chain := range c.Chains {
		if chain.ChainID == "" {
			return fmt.Errorf("chain entry missing chain_id")
		}
		if _, dup := seen[chain.ChainID]; dup {
			return fmt.Errorf("chain %s configured twice", chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
		switch chain.Family {
		case "neo", "evm":
		default:
			return fmt.Errorf("chain %s: unsupported family %q", chain.ChainID, chain.Family)
		}
		if chain.RPCURL == "" {
			return fmt.Errorf("chain %s: rpc_url required", chain.ChainID)
		}
	}

	for _, broadcast := range c.Relay.BroadcastChains {
		if _, ok := seen[broadcast]; !ok {
			return fmt.Errorf("broadcast chain %s not configured", broadcast)
		}
	}
	return nil
}
