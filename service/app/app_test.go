package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/helium/wallet-app-sub004/service/config"
	"github.com/helium/wallet-app-sub004/service/hdpath"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() *config.Config {
	return &config.Config{
		SolanaRPCURL:           "http://127.0.0.1:1",
		SolanaCluster:          "devnet",
		RPCRateLimit:           10,
		RPCMaxRetries:          1,
		StorageBackend:         config.StorageMemory,
		Authorizer:             config.AuthorizerLocal,
		ApprovalTimeout:        time.Minute,
		SigningTimeout:         time.Minute,
		CanopyURL:              "http://127.0.0.1:1/blacklist",
		ScannerMaxGroups:       2,
		ScannerConcurrency:     2,
		SimulatorConcurrency:   2,
		LedgerMinScanIndex:     3,
		LedgerMaxAccountIndex:  16,
		AccountCacheMaxPending: 50,
		AccountCacheFlushDelay: time.Second,
	}
}

func TestNew_MemoryStorage(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Orchestrator)
	assert.NotNil(t, a.Signer)
	assert.NotNil(t, a.Simulator)
	assert.NotNil(t, a.Blacklist)
	assert.Nil(t, a.DB)
	assert.Nil(t, a.Publisher)
	assert.NotNil(t, a.Scanner())
}

func TestNew_FileStoragePersistsKeys(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = config.StorageFile
	cfg.StoragePath = filepath.Join(t.TempDir(), "wallet.db")
	cfg.StoragePassphrase = "correct horse battery staple"

	ctx := context.Background()
	a, err := New(ctx, cfg, nil, testLogger())
	require.NoError(t, err)
	address, err := a.Keystore.ImportMnemonic(ctx, testMnemonic, hdpath.Solana(0, nil))
	require.NoError(t, err)
	a.Close()

	reopened, err := New(ctx, cfg, nil, testLogger())
	require.NoError(t, err)
	defer reopened.Close()
	has, err := reopened.Keystore.Has(ctx, address)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestNew_PostgresStorageRequiresDatabase(t *testing.T) {
	cfg := testConfig()
	cfg.StorageBackend = config.StoragePostgres

	_, err := New(context.Background(), cfg, nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestClose_Idempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(), nil, testLogger())
	require.NoError(t, err)
	a.Close()
	a.Close()
}

// zeroBalanceRPC answers every JSON-RPC call with an empty balance.
func zeroBalanceRPC(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		assert.Equal(t, "getBalance", req.Method)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  map[string]any{"context": map[string]any{"slot": 1}, "value": 0},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLedgerAccounts_ReadsAppConfigBeforeEnumerating(t *testing.T) {
	rpc := zeroBalanceRPC(t)
	cfg := testConfig()
	cfg.SolanaRPCURL = rpc.URL

	a, err := New(context.Background(), cfg, nil, testLogger())
	require.NoError(t, err)
	defer a.Close()

	dev := ledger.NewMockDevice(ledger.Device{ID: "nano-1", Kind: ledger.TransportBluetooth}, []byte("seed"))
	a.Ledger = a.newLedgerPool(map[ledger.TransportKind]ledger.Driver{ledger.TransportBluetooth: dev})

	accounts, err := a.LedgerAccounts(context.Background(), dev.Info)
	require.NoError(t, err)

	// Root path plus indexes 0..3, stopping at the first empty account past the minimum.
	require.Len(t, accounts, 5)
	assert.Equal(t, -1, accounts[0].Index)
	assert.Equal(t, 3, accounts[4].Index)

	apdus := dev.APDUs()
	require.GreaterOrEqual(t, len(apdus), 2)
	assert.Equal(t, byte(0xD8), apdus[0][1], "dashboard open comes first")
	assert.Equal(t, byte(0x04), apdus[1][1], "app config is read before any address")
}

func TestNewLedgerPool_FailFast(t *testing.T) {
	for _, tc := range []struct {
		name     string
		failFast bool
	}{
		{"queues by default", false},
		{"fails fast when configured", true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.LedgerFailFast = tc.failFast
			a, err := New(context.Background(), cfg, nil, testLogger())
			require.NoError(t, err)
			defer a.Close()

			dev := ledger.NewMockDevice(ledger.Device{ID: "nano-1", Kind: ledger.TransportBluetooth}, []byte("seed"))
			pool := a.newLedgerPool(map[ledger.TransportKind]ledger.Driver{ledger.TransportBluetooth: dev})

			held, err := pool.Acquire(context.Background(), dev.Info)
			require.NoError(t, err)
			defer held.Release()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()
			_, err = pool.Acquire(ctx, dev.Info)
			if tc.failFast {
				assert.ErrorIs(t, err, ledger.ErrDeviceBusy)
			} else {
				assert.ErrorIs(t, err, context.DeadlineExceeded)
			}
		})
	}
}
