// Package control wires configuration, storage, infrastructure clients and
// the custody components into one runnable service.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pressly/goose/v3"

	"github.com/qcnet/warden/internal/api"
	"github.com/qcnet/warden/internal/core/config"
	"github.com/qcnet/warden/internal/custody/auth"
	"github.com/qcnet/warden/internal/custody/health"
	"github.com/qcnet/warden/internal/custody/manager"
	"github.com/qcnet/warden/internal/custody/mint"
	"github.com/qcnet/warden/internal/custody/oracle"
	"github.com/qcnet/warden/internal/custody/redemption"
	"github.com/qcnet/warden/internal/custody/system"
	"github.com/qcnet/warden/internal/custody/watchdog"
	"github.com/qcnet/warden/internal/infra/ledger"
	redisclient "github.com/qcnet/warden/internal/infra/redis"
	"github.com/qcnet/warden/internal/infra/relay"
	"github.com/qcnet/warden/internal/infra/storage"
	"github.com/qcnet/warden/internal/infra/storage/memory"
	"github.com/qcnet/warden/internal/infra/storage/postgres"
)

// Warden is the main application struct that manages the custody service
// lifecycle.
type Warden struct {
	cfg         Config
	server      *api.Server
	scanWorker  *watchdog.Worker
	store       storage.Store
	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// Config holds the application configuration.
type Config struct {
	Port     int
	Storage  config.StorageConfig
	Database postgres.Config
	Redis    redisclient.Config
	Ledger   config.LedgerConfig
	Relay    config.RelayConfig
	Watchdog config.WatchdogConfig
	Auth     config.AuthConfig
	Params   config.ParamsConfig

	// MigrationsDir overrides the goose migrations directory. Empty means
	// "migrations" relative to the working directory.
	MigrationsDir string
}

// NewWarden creates a new Warden instance with all dependencies initialized.
func NewWarden(cfg Config) (*Warden, error) {
	ctx := context.Background()

	// 1. Initialize Storage
	var store storage.Store
	var db *postgres.DB

	if cfg.Storage.Driver == "postgres" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		// Run migrations. Goose needs the raw *sql.DB that sqlx wraps.
		migrationsDir := cfg.MigrationsDir
		if migrationsDir == "" {
			migrationsDir = "migrations"
		}
		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, migrationsDir); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		store = postgres.NewStore(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		store = memory.NewMemoryStore()
		slog.Info("Using Memory storage")
	}

	// 2. Initialize Redis (optional; the service runs without it)
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Warn("Failed to connect to Redis, scan lock disabled", "error", err)
		}
	}

	// 3. Initialize the asset ledger and settlement relay clients
	var assetLedger ledger.AssetLedger
	if cfg.Ledger.Mode == "rpc" {
		assetLedger = ledger.NewClient(cfg.Ledger.URL, cfg.Ledger.Timeout.Std())
		slog.Info("Using RPC asset ledger", "url", cfg.Ledger.URL)
	} else {
		assetLedger = ledger.NewMemoryLedger()
		slog.Info("Using in-memory asset ledger")
	}

	var verifier relay.ProofVerifier
	if cfg.Relay.Mode == "rpc" {
		verifier = relay.NewClient(relay.Config{
			URL:              cfg.Relay.URL,
			User:             cfg.Relay.User,
			Password:         cfg.Relay.Password,
			MinConfirmations: cfg.Relay.MinConfirmations,
			Timeout:          cfg.Relay.Timeout.Std(),
		})
		slog.Info("Using RPC settlement relay", "url", cfg.Relay.URL)
	} else {
		verifier = relay.NewMemoryVerifier(cfg.Relay.MinConfirmations)
		slog.Info("Using in-memory settlement relay")
	}

	// 4. Initialize Components
	authority := auth.NewStaticAuthority(cfg.Auth.Governance, cfg.Auth.Arbiters, cfg.Auth.Attesters)

	sys := system.NewService(store, authority)
	if err := sys.Seed(ctx, cfg.Params.SystemParams()); err != nil {
		return nil, fmt.Errorf("failed to seed system params: %w", err)
	}

	mgr := manager.New(store, authority, verifier)
	mintGateway := mint.NewGateway(store, authority, assetLedger)
	redemptionGateway := redemption.NewGateway(store, authority, assetLedger, verifier)
	redemptionGateway.SetDefaultHook(mgr.RevokeForDefault)
	enforcer := watchdog.NewEnforcer(store, authority, mgr)

	// 5. Initialize Health Monitor
	deps := map[string]health.Pinger{
		"ledger": assetLedger,
		"relay":  verifier,
	}
	if redisClient != nil {
		deps["redis"] = redisClient
	}
	monitor := health.NewMonitor(store, deps)

	// 6. Initialize the Watchdog scan worker
	var scanWorker *watchdog.Worker
	if cfg.Watchdog.Enabled {
		var locker watchdog.Locker
		if redisClient != nil {
			locker = redisClient
		}
		scanWorker = watchdog.NewWorker(enforcer, cfg.Watchdog.ScanInterval.Std(), cfg.Watchdog.LockTTL.Std(), locker)
	}

	// 7. Initialize API Server
	server := api.NewServer(api.Deps{
		System:     sys,
		Manager:    mgr,
		Oracle:     oracle.New(store, authority),
		Mint:       mintGateway,
		Redemption: redemptionGateway,
		Watchdog:   enforcer,
		Monitor:    monitor,
		Store:      store,
	}, cfg.Port)

	return &Warden{
		cfg:         cfg,
		server:      server,
		scanWorker:  scanWorker,
		store:       store,
		db:          db,
		redisClient: redisClient,
		log:         slog.Default(),
	}, nil
}

// Start starts the warden and all its components.
func (w *Warden) Start(ctx context.Context) error {
	go func() {
		if err := w.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.log.Error("API server failed", "error", err)
		}
	}()

	if w.scanWorker != nil {
		w.log.Info("Starting watchdog scan worker")
		go w.scanWorker.Start(ctx)
	}

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	return nil
}

// Stop stops the warden.
func (w *Warden) Stop(ctx context.Context) error {
	w.log.Info("Stopping Warden...")

	err := w.server.Stop(ctx)

	if w.redisClient != nil {
		if closeErr := w.redisClient.Close(); closeErr != nil {
			w.log.Warn("Failed to close Redis", "error", closeErr)
		}
	}

	if w.db != nil {
		if closeErr := w.db.Close(); closeErr != nil {
			w.log.Warn("Failed to close database", "error", closeErr)
		}
	}

	return err
}
