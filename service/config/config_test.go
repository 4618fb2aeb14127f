package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var configEnv = []string{
	"SERVER_ADDR", "LOG_LEVEL", "PROVIDER_RPC_URL", "PROVIDER_POLL_INTERVAL",
	"RECEIPT_POLL_INTERVAL", "STORE_BACKEND", "STORE_PATH", "DATABASE_URL",
	"NATS_URL", "ERROR_DISPLAY_WINDOW", "SETTLE_DELAY", "MAX_SUBSCRIBERS",
	"COUNTER_CONTRACT_ADDRESS",
}

// setEnv clears every config variable for the test, then applies vars.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, map[string]string{"PROVIDER_RPC_URL": "http://localhost:8545"})

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "http://localhost:8545", cfg.ProviderRPCURL)
	assert.Equal(t, 2*time.Second, cfg.ProviderPollInterval)
	assert.Equal(t, time.Second, cfg.ReceiptPollInterval)
	assert.Equal(t, StoreBolt, cfg.StoreBackend)
	assert.Equal(t, "counterwallet.db", cfg.StorePath)
	assert.Empty(t, cfg.NATSURL)
	assert.Equal(t, 5*time.Second, cfg.ErrorDisplayWindow)
	assert.Equal(t, time.Second, cfg.SettleDelay)
	assert.Equal(t, 16, cfg.MaxSubscribers)

	_, ok := cfg.CounterAddress()
	assert.False(t, ok)
}

func TestLoad_CustomValues(t *testing.T) {
	setEnv(t, map[string]string{
		"PROVIDER_RPC_URL":         "ws://localhost:8546",
		"SERVER_ADDR":              ":9090",
		"LOG_LEVEL":                "DEBUG",
		"STORE_BACKEND":            "postgres",
		"DATABASE_URL":             "postgres://localhost/wallet",
		"NATS_URL":                 "nats://localhost:4222",
		"PROVIDER_POLL_INTERVAL":   "500ms",
		"SETTLE_DELAY":             "0s",
		"MAX_SUBSCRIBERS":          "4",
		"COUNTER_CONTRACT_ADDRESS": "0x5FbDB2315678afecb367f032d93F642f64180aa3",
	})

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, "postgres://localhost/wallet", cfg.DatabaseURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, 500*time.Millisecond, cfg.ProviderPollInterval)
	assert.Zero(t, cfg.SettleDelay)
	assert.Equal(t, 4, cfg.MaxSubscribers)

	addr, ok := cfg.CounterAddress()
	require.True(t, ok)
	assert.Equal(t, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), addr)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing provider",
			env:  map[string]string{},
			want: "PROVIDER_RPC_URL is required",
		},
		{
			name: "postgres without database",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "STORE_BACKEND": "postgres"},
			want: "DATABASE_URL is required",
		},
		{
			name: "unknown backend",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "STORE_BACKEND": "redis"},
			want: `STORE_BACKEND "redis"`,
		},
		{
			name: "invalid duration",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "RECEIPT_POLL_INTERVAL": "soon"},
			want: "invalid duration",
		},
		{
			name: "poll interval too small",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "PROVIDER_POLL_INTERVAL": "1ms"},
			want: "PROVIDER_POLL_INTERVAL must be at least",
		},
		{
			name: "invalid integer",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "MAX_SUBSCRIBERS": "lots"},
			want: "invalid integer",
		},
		{
			name: "zero subscribers",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "MAX_SUBSCRIBERS": "0"},
			want: "MAX_SUBSCRIBERS must be at least 1",
		},
		{
			name: "bad contract address",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "COUNTER_CONTRACT_ADDRESS": "counter"},
			want: "is not a hex address",
		},
		{
			name: "bad log level",
			env:  map[string]string{"PROVIDER_RPC_URL": "http://x", "LOG_LEVEL": "verbose"},
			want: `LOG_LEVEL "verbose"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_CollectsAllErrors(t *testing.T) {
	setEnv(t, map[string]string{"STORE_BACKEND": "redis", "SETTLE_DELAY": "later"})

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PROVIDER_RPC_URL is required")
	assert.Contains(t, err.Error(), `STORE_BACKEND "redis"`)
	assert.Contains(t, err.Error(), "SETTLE_DELAY: invalid duration")
}

func TestMustLoad_Panics(t *testing.T) {
	setEnv(t, nil)
	assert.Panics(t, func() { MustLoad() })
}

func TestValidate(t *testing.T) {
	valid := Config{
		LogLevel:             "info",
		ProviderRPCURL:       "http://localhost:8545",
		ProviderPollInterval: time.Second,
		ReceiptPollInterval:  time.Second,
		StoreBackend:         StoreMemory,
		ErrorDisplayWindow:   time.Second,
		MaxSubscribers:       1,
	}
	require.NoError(t, valid.Validate())

	invalid := valid
	invalid.ErrorDisplayWindow = 0
	invalid.SettleDelay = -time.Second
	err := invalid.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR_DISPLAY_WINDOW must be positive")
	assert.Contains(t, err.Error(), "SETTLE_DELAY cannot be negative")
}
