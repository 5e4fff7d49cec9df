package config

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"SERVER_ADDR", "WALLETFEED_SERVER_URL", "LOG_LEVEL", "STORE_BACKEND", "DATABASE_URL",
	"NATS_URL", "ETH_RPC_URL", "ETH_RPC_RATE_LIMIT", "WALLET_ADDRESS", "TOKEN_CONTRACT",
	"ONE_TIME_PAYMENTS_CONTRACT", "IDENTITY_CONTRACT", "UBI_CONTRACTS", "REWARDS_CONTRACTS",
	"PROFILE_DIRECTORY_URL", "PROFILE_PUBLIC_KEY", "PROFILE_PRIVATE_KEY", "PROFILE_CACHE_TTL",
	"NOTIFY_DEBOUNCE", "TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
	"REPAIR_INTERVAL", "REPAIR_BATCH_SIZE",
}

const (
	wallet = "0x1111111111111111111111111111111111111111"
	token  = "0x2222222222222222222222222222222222222222"
	otpl   = "0x3333333333333333333333333333333333333333"
)

// setEnv clears every known key and then applies env.
func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func validEnv() map[string]string {
	return map[string]string{
		"DATABASE_URL":               "postgres://localhost/test",
		"ETH_RPC_URL":                "wss://rpc.example.org",
		"WALLET_ADDRESS":             wallet,
		"TOKEN_CONTRACT":             token,
		"ONE_TIME_PAYMENTS_CONTRACT": otpl,
	}
}

func TestLoad_ValidConfig(t *testing.T) {
	setEnv(t, validEnv())

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "postgres://localhost/test", cfg.DatabaseURL)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, StoreBackendPostgres, cfg.StoreBackend)
	assert.Equal(t, 10.0, cfg.EthRPCRateLimit)
	assert.Equal(t, 24*time.Hour, cfg.ProfileCacheTTL)
	assert.Equal(t, time.Second, cfg.NotifyDebounce)
	assert.Equal(t, 5*time.Minute, cfg.RepairInterval)
	assert.Equal(t, 50, cfg.RepairBatchSize)
	assert.Equal(t, "walletfeed-repair", cfg.TemporalTaskQueue)
}

func TestLoad_CustomValues(t *testing.T) {
	env := validEnv()
	env["SERVER_ADDR"] = ":9090"
	env["LOG_LEVEL"] = "debug"
	env["ETH_RPC_RATE_LIMIT"] = "2.5"
	env["UBI_CONTRACTS"] = "0x4444444444444444444444444444444444444444, 0x4444444444444444444444444444444444444445"
	env["REWARDS_CONTRACTS"] = "0x5555555555555555555555555555555555555555,"
	env["NOTIFY_DEBOUNCE"] = "250ms"
	env["REPAIR_BATCH_SIZE"] = "10"
	setEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2.5, cfg.EthRPCRateLimit)
	assert.Len(t, cfg.UBIContracts, 2)
	assert.Equal(t, []string{"0x5555555555555555555555555555555555555555"}, cfg.RewardsContracts)
	assert.Equal(t, 250*time.Millisecond, cfg.NotifyDebounce)
	assert.Equal(t, 10, cfg.RepairBatchSize)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(map[string]string)
		wantErr string
	}{
		{
			name:    "missing database url",
			mutate:  func(e map[string]string) { delete(e, "DATABASE_URL") },
			wantErr: "DATABASE_URL is required",
		},
		{
			name:    "missing rpc url",
			mutate:  func(e map[string]string) { delete(e, "ETH_RPC_URL") },
			wantErr: "ETH_RPC_URL is required",
		},
		{
			name:    "missing wallet",
			mutate:  func(e map[string]string) { delete(e, "WALLET_ADDRESS") },
			wantErr: "WalletAddress is required",
		},
		{
			name:    "invalid token address",
			mutate:  func(e map[string]string) { e["TOKEN_CONTRACT"] = "0x123" },
			wantErr: "TokenContract: invalid address",
		},
		{
			name:    "invalid ubi address",
			mutate:  func(e map[string]string) { e["UBI_CONTRACTS"] = "nope" },
			wantErr: "invalid contract address",
		},
		{
			name:    "unknown backend",
			mutate:  func(e map[string]string) { e["STORE_BACKEND"] = "sqlite" },
			wantErr: "STORE_BACKEND must be",
		},
		{
			name:    "invalid debounce",
			mutate:  func(e map[string]string) { e["NOTIFY_DEBOUNCE"] = "soon" },
			wantErr: "invalid duration",
		},
		{
			name:    "invalid batch size",
			mutate:  func(e map[string]string) { e["REPAIR_BATCH_SIZE"] = "lots" },
			wantErr: "invalid integer",
		},
		{
			name:    "half a key pair",
			mutate:  func(e map[string]string) { e["PROFILE_PUBLIC_KEY"] = "abc" },
			wantErr: "must be set together",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := validEnv()
			tt.mutate(env)
			setEnv(t, env)

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), "configuration validation failed")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_MemoryBackendNeedsNoDatabase(t *testing.T) {
	env := validEnv()
	delete(env, "DATABASE_URL")
	env["STORE_BACKEND"] = StoreBackendMemory
	setEnv(t, env)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
}

func TestContracts(t *testing.T) {
	cfg := &Config{
		WalletAddress:           wallet,
		TokenContract:           token,
		OneTimePaymentsContract: otpl,
		UBIContracts:            []string{"0x4444444444444444444444444444444444444444"},
	}

	c := cfg.Contracts()
	assert.Equal(t, common.HexToAddress(wallet), c.Wallet)
	assert.Equal(t, common.HexToAddress(token), c.Token)
	assert.Equal(t, common.HexToAddress(otpl), c.OneTimePayments)
	assert.Equal(t, common.Address{}, c.Identity)
	assert.Len(t, c.UBI, 1)
	assert.Empty(t, c.Rewards)
}

func TestMustLoad_PanicsOnInvalidConfig(t *testing.T) {
	setEnv(t, nil)
	assert.Panics(t, func() { MustLoad() })
}
