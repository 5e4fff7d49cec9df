package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/walletfeed/service/receipt"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Store backends.
const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server configuration
	ServerAddr string
	ServerURL  string
	LogLevel   string

	// Storage
	StoreBackend string
	DatabaseURL  string

	NATSURL string

	// Chain
	EthRPCURL       string
	EthRPCRateLimit float64

	// Wallet and contracts
	WalletAddress           string
	TokenContract           string
	OneTimePaymentsContract string
	IdentityContract        string
	UBIContracts            []string
	RewardsContracts        []string

	// Profiles and outbox
	ProfileDirectoryURL string
	ProfilePublicKey    string
	ProfilePrivateKey   string
	ProfileCacheTTL     time.Duration

	NotifyDebounce time.Duration

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Repair workflow
	RepairInterval  time.Duration
	RepairBatchSize int
}

// Load reads configuration from the environment, after loading an optional
// .env file, and validates it. All problems are reported together.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.ServerURL = getEnvOrDefault("WALLETFEED_SERVER_URL", "http://localhost:8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.StoreBackend = getEnvOrDefault("STORE_BACKEND", StoreBackendPostgres)
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	switch cfg.StoreBackend {
	case StoreBackendPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
		}
	case StoreBackendMemory:
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q",
			StoreBackendPostgres, StoreBackendMemory, cfg.StoreBackend))
	}

	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.EthRPCURL = os.Getenv("ETH_RPC_URL")
	if cfg.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("ETH_RPC_URL is required"))
	}
	rateLimit, err := parseFloat("ETH_RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.EthRPCRateLimit = rateLimit
	}

	cfg.WalletAddress = os.Getenv("WALLET_ADDRESS")
	cfg.TokenContract = os.Getenv("TOKEN_CONTRACT")
	cfg.OneTimePaymentsContract = os.Getenv("ONE_TIME_PAYMENTS_CONTRACT")
	cfg.IdentityContract = os.Getenv("IDENTITY_CONTRACT")
	cfg.UBIContracts = parseList("UBI_CONTRACTS")
	cfg.RewardsContracts = parseList("REWARDS_CONTRACTS")

	cfg.ProfileDirectoryURL = os.Getenv("PROFILE_DIRECTORY_URL")
	cfg.ProfilePublicKey = os.Getenv("PROFILE_PUBLIC_KEY")
	cfg.ProfilePrivateKey = os.Getenv("PROFILE_PRIVATE_KEY")
	ttl, err := parseDuration("PROFILE_CACHE_TTL", "24h")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ProfileCacheTTL = ttl
	}

	debounce, err := parseDuration("NOTIFY_DEBOUNCE", "1s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.NotifyDebounce = debounce
	}

	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "walletfeed-repair")

	interval, err := parseDuration("REPAIR_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RepairInterval = interval
	}
	batch, err := parseInt("REPAIR_BATCH_SIZE", 50)
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.RepairBatchSize = batch
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks the parsed values.
func (c *Config) Validate() error {
	var errs []error

	if c.StoreBackend == StoreBackendPostgres && c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}
	if c.EthRPCURL == "" {
		errs = append(errs, fmt.Errorf("EthRPCURL is required"))
	}
	if c.EthRPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("EthRPCRateLimit cannot be negative"))
	}

	required := []struct {
		name, value string
	}{
		{"WalletAddress", c.WalletAddress},
		{"TokenContract", c.TokenContract},
		{"OneTimePaymentsContract", c.OneTimePaymentsContract},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, fmt.Errorf("%s is required", r.name))
		} else if !common.IsHexAddress(r.value) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", r.name, r.value))
		}
	}
	if c.IdentityContract != "" && !common.IsHexAddress(c.IdentityContract) {
		errs = append(errs, fmt.Errorf("IdentityContract: invalid address %q", c.IdentityContract))
	}
	for _, a := range append(append([]string{}, c.UBIContracts...), c.RewardsContracts...) {
		if !common.IsHexAddress(a) {
			errs = append(errs, fmt.Errorf("invalid contract address %q", a))
		}
	}

	if (c.ProfilePublicKey == "") != (c.ProfilePrivateKey == "") {
		errs = append(errs, fmt.Errorf("ProfilePublicKey and ProfilePrivateKey must be set together"))
	}
	if c.NotifyDebounce < 0 {
		errs = append(errs, fmt.Errorf("NotifyDebounce cannot be negative"))
	}
	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}
	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}
	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}
	if c.RepairInterval < time.Second {
		errs = append(errs, fmt.Errorf("RepairInterval must be at least 1 second"))
	}
	if c.RepairBatchSize < 1 {
		errs = append(errs, fmt.Errorf("RepairBatchSize must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// Contracts returns the addresses the receipt classifier matches against.
func (c *Config) Contracts() receipt.Contracts {
	contracts := receipt.Contracts{
		Token:           common.HexToAddress(c.TokenContract),
		OneTimePayments: common.HexToAddress(c.OneTimePaymentsContract),
		Wallet:          common.HexToAddress(c.WalletAddress),
	}
	if c.IdentityContract != "" {
		contracts.Identity = common.HexToAddress(c.IdentityContract)
	}
	for _, a := range c.UBIContracts {
		contracts.UBI = append(contracts.UBI, common.HexToAddress(a))
	}
	for _, a := range c.RewardsContracts {
		contracts.Rewards = append(contracts.Rewards, common.HexToAddress(a))
	}
	return contracts
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

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma separated variable, dropping empty entries.
func parseList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
