package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Store backends.
const (
	StoreBolt     = "bolt"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// minPollInterval is the fastest the provider may be polled.
const minPollInterval = 10 * time.Millisecond

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Wallet provider configuration
	ProviderRPCURL       string
	ProviderPollInterval time.Duration
	ReceiptPollInterval  time.Duration

	// Persistence configuration
	StoreBackend string
	StorePath    string
	DatabaseURL  string

	// NATS configuration; empty disables fan-out
	NATSURL string

	// Session behavior
	ErrorDisplayWindow time.Duration
	SettleDelay        time.Duration
	MaxSubscribers     int

	// CounterContractAddress overrides the registry address on every network.
	CounterContractAddress string
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error listing every problem found.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))

	cfg.ProviderRPCURL = os.Getenv("PROVIDER_RPC_URL")

	if d, err := parseDuration("PROVIDER_POLL_INTERVAL", "2s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.ProviderPollInterval = d
	}
	if d, err := parseDuration("RECEIPT_POLL_INTERVAL", "1s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReceiptPollInterval = d
	}

	cfg.StoreBackend = strings.ToLower(getEnvOrDefault("STORE_BACKEND", StoreBolt))
	cfg.StorePath = getEnvOrDefault("STORE_PATH", "counterwallet.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.NATSURL = os.Getenv("NATS_URL")

	if d, err := parseDuration("ERROR_DISPLAY_WINDOW", "5s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.ErrorDisplayWindow = d
	}
	if d, err := parseDuration("SETTLE_DELAY", "1s"); err != nil {
		errs = append(errs, err)
	} else {
		cfg.SettleDelay = d
	}
	if n, err := parseInt("MAX_SUBSCRIBERS", 16); err != nil {
		errs = append(errs, err)
	} else {
		cfg.MaxSubscribers = n
	}

	cfg.CounterContractAddress = os.Getenv("COUNTER_CONTRACT_ADDRESS")

	// Only range-check values that parsed
	if len(errs) == 0 {
		errs = append(errs, cfg.problems()...)
	} else {
		errs = append(errs, cfg.requiredProblems()...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	if errs := c.problems(); len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// CounterAddress returns the parsed contract override and whether one is set.
func (c *Config) CounterAddress() (common.Address, bool) {
	if c.CounterContractAddress == "" {
		return common.Address{}, false
	}
	return common.HexToAddress(c.CounterContractAddress), true
}

func (c *Config) problems() []error {
	errs := c.requiredProblems()

	if c.ProviderPollInterval < minPollInterval {
		errs = append(errs, fmt.Errorf("PROVIDER_POLL_INTERVAL must be at least %v", minPollInterval))
	}
	if c.ReceiptPollInterval < minPollInterval {
		errs = append(errs, fmt.Errorf("RECEIPT_POLL_INTERVAL must be at least %v", minPollInterval))
	}
	if c.ErrorDisplayWindow <= 0 {
		errs = append(errs, fmt.Errorf("ERROR_DISPLAY_WINDOW must be positive"))
	}
	if c.SettleDelay < 0 {
		errs = append(errs, fmt.Errorf("SETTLE_DELAY cannot be negative"))
	}
	if c.MaxSubscribers < 1 {
		errs = append(errs, fmt.Errorf("MAX_SUBSCRIBERS must be at least 1"))
	}
	return errs
}

func (c *Config) requiredProblems() []error {
	var errs []error

	if c.ProviderRPCURL == "" {
		errs = append(errs, fmt.Errorf("PROVIDER_RPC_URL is required"))
	}

	switch c.StoreBackend {
	case StoreBolt:
		if c.StorePath == "" {
			errs = append(errs, fmt.Errorf("STORE_PATH is required for the bolt store"))
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required for the postgres store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND %q is not one of %s, %s, %s", c.StoreBackend, StoreBolt, StorePostgres, StoreMemory))
	}

	if c.CounterContractAddress != "" && !common.IsHexAddress(c.CounterContractAddress) {
		errs = append(errs, fmt.Errorf("COUNTER_CONTRACT_ADDRESS %q is not a hex address", c.CounterContractAddress))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}
	return errs
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseInt parses an integer from an environment variable or uses a default.
func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}
