package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.SolanaRPCURL)
	assert.Equal(t, "https://api.mainnet-beta.solana.com", cfg.DASURL) // Falls back to RPC
	assert.Equal(t, "mainnet-beta", cfg.SolanaCluster)
	assert.Equal(t, ":8080", cfg.ServerAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.MetricsEnabled)
	assert.Equal(t, StorageMemory, cfg.StorageBackend)
	assert.Equal(t, AuthorizerLocal, cfg.Authorizer)
	assert.Equal(t, 5*time.Minute, cfg.ApprovalTimeout)
	assert.Equal(t, 2*time.Minute, cfg.SigningTimeout)
	assert.Equal(t, 3, cfg.LedgerMinScanIndex)
	assert.Equal(t, 256, cfg.LedgerMaxAccountIndex)
	assert.Equal(t, 10, cfg.ScannerMaxGroups)
	assert.Equal(t, 8, cfg.ScannerConcurrency)
	assert.Equal(t, 4, cfg.SimulatorConcurrency)
	assert.False(t, cfg.LedgerFailFast)
	assert.Equal(t, 10*time.Second, cfg.AccountCacheFlushDelay)
	assert.Empty(t, cfg.TrustedOrigins)
	assert.Empty(t, cfg.NATSURL)
}

func TestLoad_MissingSolanaRPCURL(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "SOLANA_RPC_URL is required")
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad duration", "APPROVAL_TIMEOUT", "soon", "invalid duration"},
		{"bad integer", "LEDGER_MIN_SCAN_INDEX", "three", "invalid integer"},
		{"bad float", "RPC_RATE_LIMIT", "fast", "invalid number"},
		{"bad bool", "METRICS_ENABLED", "sometimes", "invalid boolean"},
		{"bad fail fast", "LEDGER_FAIL_FAST", "maybe", "invalid boolean"},
		{"zero simulator concurrency", "SIMULATOR_CONCURRENCY", "0", "SimulatorConcurrency must be at least 1"},
		{"unknown backend", "STORAGE_BACKEND", "floppy", "not one of memory, file, redis, postgres"},
		{"unknown cluster", "SOLANA_CLUSTER", "moonnet", "is not one of mainnet-beta"},
		{"unknown authorizer", "AUTHORIZER", "carrier-pigeon", "not one of local, temporal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cleanupEnv()
			os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
			os.Setenv(tt.key, tt.value)
			defer cleanupEnv()

			cfg, err := Load()
			require.Error(t, err)
			assert.Nil(t, cfg)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_CustomValues(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://rpc.example.com")
	os.Setenv("DAS_URL", "https://das.example.com")
	os.Setenv("SOLANA_CLUSTER", "devnet")
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("STORAGE_BACKEND", "redis")
	os.Setenv("REDIS_URL", "redis://localhost:6379/0")
	os.Setenv("AUTHORIZER", "temporal")
	os.Setenv("TEMPORAL_HOST", "temporal.example.com:7233")
	os.Setenv("TRUSTED_ORIGINS", "https://app.example.com, ,https://other.example.com")
	os.Setenv("APPROVAL_TIMEOUT", "90s")
	os.Setenv("LEDGER_MIN_SCAN_INDEX", "5")
	os.Setenv("METRICS_ENABLED", "false")
	os.Setenv("LEDGER_FAIL_FAST", "true")
	os.Setenv("SCANNER_CONCURRENCY", "2")
	os.Setenv("SIMULATOR_CONCURRENCY", "1")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "https://das.example.com", cfg.DASURL)
	assert.Equal(t, "devnet", cfg.SolanaCluster)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, StorageRedis, cfg.StorageBackend)
	assert.Equal(t, AuthorizerTemporal, cfg.Authorizer)
	assert.Equal(t, "temporal.example.com:7233", cfg.TemporalHost)
	assert.Equal(t, []string{"https://app.example.com", "https://other.example.com"}, cfg.TrustedOrigins)
	assert.Equal(t, 90*time.Second, cfg.ApprovalTimeout)
	assert.Equal(t, 5, cfg.LedgerMinScanIndex)
	assert.False(t, cfg.MetricsEnabled)
	assert.True(t, cfg.LedgerFailFast)
	assert.Equal(t, 2, cfg.ScannerConcurrency)
	assert.Equal(t, 1, cfg.SimulatorConcurrency)
}

func validConfig() *Config {
	return &Config{
		SolanaRPCURL:           "https://api.mainnet-beta.solana.com",
		SolanaCluster:          "mainnet-beta",
		RPCRateLimit:           10,
		RPCMaxRetries:          3,
		StorageBackend:         StorageMemory,
		Authorizer:             AuthorizerLocal,
		ApprovalTimeout:        5 * time.Minute,
		SigningTimeout:         2 * time.Minute,
		LedgerMinScanIndex:     3,
		LedgerMaxAccountIndex:  256,
		ScannerMaxGroups:       10,
		ScannerConcurrency:     8,
		SimulatorConcurrency:   4,
		AccountCacheMaxPending: 50,
		AccountCacheFlushDelay: 10 * time.Second,
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"file storage needs path", func(c *Config) {
			c.StorageBackend = StorageFile
			c.StoragePassphrase = "pw"
		}, "StoragePath is required"},
		{"file storage needs passphrase", func(c *Config) {
			c.StorageBackend = StorageFile
			c.StoragePath = "/tmp/wallet.json"
		}, "StoragePassphrase is required"},
		{"redis storage needs url", func(c *Config) { c.StorageBackend = StorageRedis }, "RedisURL is required"},
		{"postgres storage needs url", func(c *Config) { c.StorageBackend = StoragePostgres }, "DatabaseURL is required"},
		{"temporal needs queue", func(c *Config) {
			c.Authorizer = AuthorizerTemporal
			c.TemporalHost = "localhost:7233"
			c.TemporalNamespace = "default"
		}, "TemporalTaskQueue is required"},
		{"scan bounds", func(c *Config) { c.LedgerMaxAccountIndex = 1 }, "cannot be less than LedgerMinScanIndex"},
		{"short approval timeout", func(c *Config) { c.ApprovalTimeout = 10 * time.Millisecond }, "ApprovalTimeout must be at least 1 second"},
		{"no retries", func(c *Config) { c.RPCMaxRetries = 0 }, "RPCMaxRetries must be at least 1"},
		{"zero scanner concurrency", func(c *Config) { c.ScannerConcurrency = 0 }, "ScannerConcurrency must be at least 1"},
		{"zero flush delay", func(c *Config) { c.AccountCacheFlushDelay = 0 }, "AccountCacheFlushDelay must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMustLoad_Panics(t *testing.T) {
	cleanupEnv()
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	cleanupEnv()
	os.Setenv("SOLANA_RPC_URL", "https://api.mainnet-beta.solana.com")
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	for _, key := range []string{
		"SERVER_ADDR", "LOG_LEVEL", "METRICS_ENABLED",
		"SOLANA_RPC_URL", "SOLANA_CLUSTER", "RPC_RATE_LIMIT", "RPC_MAX_RETRIES", "DAS_URL",
		"STORAGE_BACKEND", "STORAGE_PATH", "STORAGE_PASSPHRASE", "REDIS_URL", "DATABASE_URL",
		"NATS_URL", "AUTHORIZER", "APPROVAL_TIMEOUT", "SIGNING_TIMEOUT", "TRUSTED_ORIGINS", "CANOPY_URL",
		"TEMPORAL_HOST", "TEMPORAL_NAMESPACE", "TEMPORAL_TASK_QUEUE",
		"MIGRATION_SERVER_URL", "LEDGER_ADDR", "LEDGER_MIN_SCAN_INDEX", "LEDGER_MAX_ACCOUNT_INDEX",
		"SCANNER_MAX_GROUPS", "ACCOUNT_CACHE_MAX_PENDING", "ACCOUNT_CACHE_FLUSH_DELAY",
		"SCANNER_CONCURRENCY", "SIMULATOR_CONCURRENCY", "LEDGER_FAIL_FAST",
	} {
		os.Unsetenv(key)
	}
}
