// Package app assembles the wallet services from configuration.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/helium/wallet-app-sub004/service/account"
	"github.com/helium/wallet-app-sub004/service/accountcache"
	"github.com/helium/wallet-app-sub004/service/authz"
	"github.com/helium/wallet-app-sub004/service/config"
	"github.com/helium/wallet-app-sub004/service/db"
	"github.com/helium/wallet-app-sub004/service/keystore"
	"github.com/helium/wallet-app-sub004/service/ledger"
	"github.com/helium/wallet-app-sub004/service/metrics"
	natspkg "github.com/helium/wallet-app-sub004/service/nats"
	"github.com/helium/wallet-app-sub004/service/scanner"
	"github.com/helium/wallet-app-sub004/service/session"
	"github.com/helium/wallet-app-sub004/service/signer"
	"github.com/helium/wallet-app-sub004/service/simulator"
	"github.com/helium/wallet-app-sub004/service/solana"
	"github.com/helium/wallet-app-sub004/service/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerDeviceID names the device behind LEDGER_ADDR.
const LedgerDeviceID = "ledger"

// App holds the wired services.
type App struct {
	Config       *config.Config
	Storage      storage.Storage
	Accounts     *account.Store
	Keystore     *keystore.Keystore
	SessionStore *session.Store
	Sessions     *session.Manager
	Chain        *solana.Client
	AccountCache *accountcache.Cache
	Simulator    *simulator.Simulator
	Blacklist    *simulator.Blacklist
	Ledger       *ledger.Pool
	Signer       *signer.Router
	Orchestrator *authz.Orchestrator

	// DB is nil unless DATABASE_URL is set.
	DB *db.Store
	// Publisher is nil unless NATS_URL is set.
	Publisher natspkg.Publisher

	metrics *metrics.Metrics
	logger  *slog.Logger
	closers []func()
}

// New connects storage and collaborators and builds the orchestrator.
// m may be nil.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, metrics: m, logger: logger}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg := a.Config

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		a.DB = db.NewStore(pool, a.metrics)
		if err := a.DB.Ping(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
		if err := a.DB.Migrate(ctx); err != nil {
			return err
		}
		a.logger.Info("connected to database")
	}

	store, err := a.openStorage()
	if err != nil {
		return err
	}
	a.Storage = store

	a.Accounts = account.NewStore(store)
	a.Keystore = keystore.New(store)
	a.SessionStore = session.NewStore(store)
	a.Sessions = session.NewManager(a.SessionStore, a.Accounts, a.metrics, a.logger)

	rpcClient := solana.NewRPCClient(cfg.SolanaRPCURL)
	opts := []solana.Option{
		solana.WithRateLimit(cfg.RPCRateLimit),
		solana.WithMaxAttempts(cfg.RPCMaxRetries),
	}
	if cfg.DASURL != "" && cfg.DASURL != cfg.SolanaRPCURL {
		opts = append(opts, solana.WithDAS(solana.NewRPCClient(cfg.DASURL)))
	}
	a.Chain = solana.NewClient(rpcClient, cfg.SolanaCluster, a.metrics, a.logger, opts...)
	a.logger.Info("initialized solana RPC client", "cluster", cfg.SolanaCluster)

	policy := accountcache.DefaultPolicy()
	policy.MaxPending = cfg.AccountCacheMaxPending
	policy.FlushDelay = cfg.AccountCacheFlushDelay
	a.AccountCache = accountcache.New(store, accountcache.DefaultStorageKey, policy, a.metrics, a.logger)
	if err := a.AccountCache.Load(ctx); err != nil {
		a.logger.Warn("failed to load account cache, starting empty", "error", err)
	}

	a.Simulator = simulator.New(a.Chain, a.metrics, a.logger,
		simulator.WithStaticAccounts(accountcache.NewReadThrough(a.AccountCache, a.Chain)),
		simulator.WithAssetSearcher(a.Chain),
		simulator.WithConcurrency(cfg.SimulatorConcurrency),
	)

	drivers := map[ledger.TransportKind]ledger.Driver{}
	if cfg.LedgerAddr != "" {
		drivers[ledger.TransportUSB] = &ledger.TCPDriver{
			Devices: map[string]string{LedgerDeviceID: cfg.LedgerAddr},
			Timeout: 10 * time.Second,
		}
	}
	a.Ledger = a.newLedgerPool(drivers)
	a.Signer = signer.NewRouter(
		signer.NewLocalBackend(a.Keystore),
		signer.NewHardwareBackend(a.Ledger, cfg.SigningTimeout, a.logger),
		a.metrics,
		a.logger,
	)

	orchOpts := []authz.Option{}
	canopy := cfg.CanopyURL
	if canopy == "" {
		canopy = simulator.DefaultCanopyURL
	}
	a.Blacklist = simulator.NewBlacklist(canopy, nil)
	orchOpts = append(orchOpts, authz.WithBlacklist(a.Blacklist))

	if a.DB != nil {
		orchOpts = append(orchOpts, authz.WithEventSink(a.DB))
	}
	if cfg.NATSURL != "" {
		pub, err := natspkg.NewPublisher(cfg.NATSURL, a.logger)
		if err != nil {
			return fmt.Errorf("failed to create NATS publisher: %w", err)
		}
		a.closers = append(a.closers, func() { pub.Close() })
		a.Publisher = pub
		orchOpts = append(orchOpts, authz.WithEventSink(natspkg.NewEventSink(pub, a.metrics)))
		a.logger.Info("connected to NATS", "url", cfg.NATSURL)
	}

	a.Orchestrator = authz.New(a.Sessions, a.Simulator, a.Signer, a.Chain, a.metrics, a.logger, orchOpts...)
	return nil
}

func (a *App) openStorage() (storage.Storage, error) {
	cfg := a.Config
	switch cfg.StorageBackend {
	case config.StorageFile:
		fs, err := storage.OpenFileStorage(cfg.StoragePath, cfg.StoragePassphrase, storage.DefaultScryptParams)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return fs, nil
	case config.StorageRedis:
		rs, err := storage.NewRedisStorage(cfg.RedisURL, "wallet:")
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { rs.Close() })
		return rs, nil
	case config.StoragePostgres:
		if a.DB == nil {
			return nil, fmt.Errorf("postgres storage requires DATABASE_URL")
		}
		return a.DB, nil
	default:
		a.logger.Warn("using in-memory storage, sessions and keys are lost on exit")
		return storage.NewMemoryStorage(), nil
	}
}

func (a *App) newLedgerPool(drivers map[ledger.TransportKind]ledger.Driver) *ledger.Pool {
	var opts []ledger.PoolOption
	if a.Config.LedgerFailFast {
		opts = append(opts, ledger.WithFailFast())
	}
	return ledger.NewPool(drivers, a.metrics, a.logger, opts...)
}

// Scanner builds a derivation scanner against the configured chain.
func (a *App) Scanner() *scanner.Scanner {
	opts := []scanner.Option{
		scanner.WithMaxGroups(a.Config.ScannerMaxGroups),
		scanner.WithConcurrency(a.Config.ScannerConcurrency),
	}
	if a.Config.MigrationServerURL != "" {
		opts = append(opts, scanner.WithMigrationChecker(
			scanner.NewHTTPMigrationChecker(a.Config.MigrationServerURL, nil, a.logger),
		))
	}
	return scanner.New(a.Chain, a.metrics, a.logger, opts...)
}

// LedgerAccounts enumerates the accounts of a connected device.
func (a *App) LedgerAccounts(ctx context.Context, device ledger.Device) ([]ledger.Account, error) {
	var accounts []ledger.Account
	err := a.Ledger.Do(ctx, device, func(app *ledger.SolanaApp) error {
		if err := app.OpenApp(ctx); err != nil {
			return err
		}
		appCfg, err := app.GetAppConfig(ctx)
		if err != nil {
			return fmt.Errorf("failed to read app config: %w", err)
		}
		a.logger.Info("ledger app ready", "device", device.ID, "version", appCfg.Version,
			"blind_signing", appCfg.BlindSigningEnabled)
		accounts, err = ledger.EnumerateAccounts(ctx, app, a.Chain, ledger.EnumerateOptions{
			MinScanIndex: a.Config.LedgerMinScanIndex,
			MaxIndex:     a.Config.LedgerMaxAccountIndex,
		})
		return err
	})
	return accounts, err
}

// Close flushes the account cache and releases connections.
func (a *App) Close() {
	if a.AccountCache != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.AccountCache.Flush(ctx); err != nil {
			a.logger.Error("failed to flush account cache", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
