package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Storage backends.
const (
	StorageMemory   = "memory"
	StorageFile     = "file"
	StorageRedis    = "redis"
	StoragePostgres = "postgres"
)

// Authorizers.
const (
	AuthorizerLocal    = "local"
	AuthorizerTemporal = "temporal"
)

var clusters = map[string]bool{
	"mainnet-beta": true,
	"devnet":       true,
	"testnet":      true,
	"localnet":     true,
}

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr     string
	LogLevel       string
	MetricsEnabled bool

	// Solana configuration
	SolanaRPCURL  string
	SolanaCluster string
	RPCRateLimit  float64
	RPCMaxRetries int
	DASURL        string

	// Secure storage
	StorageBackend    string
	StoragePath       string
	StoragePassphrase string
	RedisURL          string

	// Database configuration. Optional unless StorageBackend is postgres;
	// when set the authorization audit log is written there.
	DatabaseURL string

	// NATS configuration. Empty disables event publishing.
	NATSURL string

	// Authorization
	Authorizer      string
	ApprovalTimeout time.Duration
	SigningTimeout  time.Duration
	TrustedOrigins  []string
	CanopyURL       string

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Derivation scanning and hardware enumeration
	MigrationServerURL    string
	LedgerMinScanIndex    int
	LedgerMaxAccountIndex int
	LedgerAddr            string
	ScannerMaxGroups      int
	ScannerConcurrency    int
	LedgerFailFast        bool

	// Simulation fan-out across transactions in one request
	SimulatorConcurrency int

	// Account cache write buffer
	AccountCacheMaxPending int
	AccountCacheFlushDelay time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	metricsEnabled, err := parseBool("METRICS_ENABLED", true)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.MetricsEnabled = metricsEnabled

	// Solana configuration
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	if cfg.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SOLANA_RPC_URL is required"))
	}
	cfg.SolanaCluster = getEnvOrDefault("SOLANA_CLUSTER", "mainnet-beta")
	cfg.DASURL = getEnvOrDefault("DAS_URL", cfg.SolanaRPCURL)

	rateLimit, err := parseFloat("RPC_RATE_LIMIT", 10)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCRateLimit = rateLimit

	maxRetries, err := parseInt("RPC_MAX_RETRIES", 3)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.RPCMaxRetries = maxRetries

	// Secure storage
	cfg.StorageBackend = getEnvOrDefault("STORAGE_BACKEND", StorageMemory)
	cfg.StoragePath = os.Getenv("STORAGE_PATH")
	cfg.StoragePassphrase = os.Getenv("STORAGE_PASSPHRASE")
	cfg.RedisURL = os.Getenv("REDIS_URL")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	// NATS configuration
	cfg.NATSURL = os.Getenv("NATS_URL")

	// Authorization
	cfg.Authorizer = getEnvOrDefault("AUTHORIZER", AuthorizerLocal)
	cfg.TrustedOrigins = parseList("TRUSTED_ORIGINS")
	cfg.CanopyURL = os.Getenv("CANOPY_URL")

	approvalTimeout, err := parseDuration("APPROVAL_TIMEOUT", "5m")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.ApprovalTimeout = approvalTimeout

	signingTimeout, err := parseDuration("SIGNING_TIMEOUT", "2m")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.SigningTimeout = signingTimeout

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "wallet-authorization")

	// Scanning
	cfg.MigrationServerURL = getEnvOrDefault("MIGRATION_SERVER_URL", "https://migration.web.helium.io")
	cfg.LedgerAddr = os.Getenv("LEDGER_ADDR")

	for _, f := range []struct {
		key  string
		def  int
		dest *int
	}{
		{"LEDGER_MIN_SCAN_INDEX", 3, &cfg.LedgerMinScanIndex},
		{"LEDGER_MAX_ACCOUNT_INDEX", 256, &cfg.LedgerMaxAccountIndex},
		{"SCANNER_MAX_GROUPS", 10, &cfg.ScannerMaxGroups},
		{"SCANNER_CONCURRENCY", 8, &cfg.ScannerConcurrency},
		{"SIMULATOR_CONCURRENCY", 4, &cfg.SimulatorConcurrency},
		{"ACCOUNT_CACHE_MAX_PENDING", 50, &cfg.AccountCacheMaxPending},
	} {
		v, err := parseInt(f.key, f.def)
		if err != nil {
			errs = append(errs, err)
		}
		*f.dest = v
	}

	failFast, err := parseBool("LEDGER_FAIL_FAST", false)
	if err != nil {
		errs = append(errs, err)
	}
	cfg.LedgerFailFast = failFast

	flushDelay, err := parseDuration("ACCOUNT_CACHE_FLUSH_DELAY", "10s")
	if err != nil {
		errs = append(errs, err)
	}
	cfg.AccountCacheFlushDelay = flushDelay

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
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
	var errs []error

	if c.SolanaRPCURL == "" {
		errs = append(errs, fmt.Errorf("SolanaRPCURL is required"))
	}

	if !clusters[c.SolanaCluster] {
		errs = append(errs, fmt.Errorf("SolanaCluster %q is not one of mainnet-beta, devnet, testnet, localnet", c.SolanaCluster))
	}

	if c.RPCRateLimit < 0 {
		errs = append(errs, fmt.Errorf("RPCRateLimit cannot be negative"))
	}

	if c.RPCMaxRetries < 1 {
		errs = append(errs, fmt.Errorf("RPCMaxRetries must be at least 1"))
	}

	switch c.StorageBackend {
	case StorageMemory:
	case StorageFile:
		if c.StoragePath == "" {
			errs = append(errs, fmt.Errorf("StoragePath is required for file storage"))
		}
		if c.StoragePassphrase == "" {
			errs = append(errs, fmt.Errorf("StoragePassphrase is required for file storage"))
		}
	case StorageRedis:
		if c.RedisURL == "" {
			errs = append(errs, fmt.Errorf("RedisURL is required for redis storage"))
		}
	case StoragePostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, fmt.Errorf("DatabaseURL is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("StorageBackend %q is not one of memory, file, redis, postgres", c.StorageBackend))
	}

	switch c.Authorizer {
	case AuthorizerLocal:
	case AuthorizerTemporal:
		if c.TemporalHost == "" {
			errs = append(errs, fmt.Errorf("TemporalHost is required"))
		}
		if c.TemporalNamespace == "" {
			errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
		}
		if c.TemporalTaskQueue == "" {
			errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("Authorizer %q is not one of local, temporal", c.Authorizer))
	}

	if c.ApprovalTimeout < time.Second {
		errs = append(errs, fmt.Errorf("ApprovalTimeout must be at least 1 second"))
	}

	if c.SigningTimeout < time.Second {
		errs = append(errs, fmt.Errorf("SigningTimeout must be at least 1 second"))
	}

	if c.LedgerMinScanIndex < 0 {
		errs = append(errs, fmt.Errorf("LedgerMinScanIndex cannot be negative"))
	}

	if c.LedgerMaxAccountIndex < c.LedgerMinScanIndex {
		errs = append(errs, fmt.Errorf("LedgerMaxAccountIndex (%d) cannot be less than LedgerMinScanIndex (%d)",
			c.LedgerMaxAccountIndex, c.LedgerMinScanIndex))
	}

	if c.ScannerMaxGroups < 1 {
		errs = append(errs, fmt.Errorf("ScannerMaxGroups must be at least 1"))
	}

	if c.ScannerConcurrency < 1 {
		errs = append(errs, fmt.Errorf("ScannerConcurrency must be at least 1"))
	}

	if c.SimulatorConcurrency < 1 {
		errs = append(errs, fmt.Errorf("SimulatorConcurrency must be at least 1"))
	}

	if c.AccountCacheMaxPending < 1 {
		errs = append(errs, fmt.Errorf("AccountCacheMaxPending must be at least 1"))
	}

	if c.AccountCacheFlushDelay <= 0 {
		errs = append(errs, fmt.Errorf("AccountCacheFlushDelay must be positive"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
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

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
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
