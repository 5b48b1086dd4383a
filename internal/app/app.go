// Package app wires configuration, storage, the brokerage adapter and the
// services into one process. Both the HTTP server and the admin tool build on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/api"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/cache"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/config"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/database"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/scheduler"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

// App holds everything a running process needs.
type App struct {
	Config   *config.Config
	DB       *sql.DB
	Vault    *vault.Vault
	Accounts *repository.AccountRepository
	Services api.Services

	cache *cache.Cache
}

// New opens the database and builds the services. It refuses to start without
// an encryption key. Migrations are not applied here; call Migrate.
func New(cfg *config.Config) (*App, error) {
	v, err := vault.New(cfg.Vault.EncryptionKey, cfg.Vault.PreviousKeys...)
	if err != nil {
		if errors.Is(err, apperrors.ErrKeyNotConfigured) {
			return nil, fmt.Errorf("%w: set ENCRYPTION_KEY (generate one with `admin genkey`)", err)
		}
		return nil, err
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	c, err := cache.New(cfg.Cache.MaxCost, cfg.Cache.TTL)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create dashboard cache: %w", err)
	}

	client, err := broker.NewHTTPClient(cfg.Broker.BaseURL, cfg.Broker.RequestTimeout, cfg.Broker.SessionTTL)
	if err != nil {
		c.Close()
		db.Close()
		return nil, fmt.Errorf("failed to create broker client: %w", err)
	}
	auth := broker.NewAuthenticator(client, broker.PollConfig{
		Interval:         cfg.Link.PushPollInterval,
		Timeout:          cfg.Link.PushPollTimeout,
		TransportRetries: cfg.Link.PushTransportRetries,
		RetryBackoff:     broker.DefaultPollConfig().RetryBackoff,
	})

	// Create repositories
	accountRepo := repository.NewAccountRepository(db)
	holdingRepo := repository.NewHoldingRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	locks := service.NewKeyedLocker()

	// Create services
	var dashboard *service.DashboardService
	invalidate := func(accountID string) { dashboard.Invalidate(accountID) }

	accounts := service.NewAccountService(accountRepo, holdingRepo, transactionRepo, locks, invalidate)
	dashboard = service.NewDashboardService(accounts, holdingRepo, balanceRepo, snapshotRepo, c)
	link := service.NewLinkService(db, accountRepo, client, auth, v, locks, cfg.Link.MFAChallengeTTL, invalidate)
	sync := service.NewSyncService(db, accountRepo, holdingRepo, transactionRepo, balanceRepo, snapshotRepo,
		client, auth, v, locks, service.SyncOptions{
			RetryAttempts: cfg.Sync.RetryAttempts,
			RetryBackoff:  cfg.Sync.RetryBackoff,
			Concurrency:   cfg.Sync.Concurrency,
			LeaseTTL:      cfg.Sync.LeaseTTL,
		}, invalidate)
	snapshots := service.NewSnapshotService(accountRepo, holdingRepo, balanceRepo, snapshotRepo)
	system := service.NewSystemService(db, map[string]bool{
		"push_mfa":          true,
		"scheduled_sync":    cfg.Scheduler.SyncSchedule != "",
		"daily_snapshots":   cfg.Scheduler.SnapshotSchedule != "",
		"snapshot_cleanup":  cfg.Scheduler.CleanupSchedule != "",
		"key_rotation_read": len(cfg.Vault.PreviousKeys) > 0,
	})

	return &App{
		Config:   cfg,
		DB:       db,
		Vault:    v,
		Accounts: accountRepo,
		Services: api.Services{
			System:    system,
			Link:      link,
			Accounts:  accounts,
			Sync:      sync,
			Dashboard: dashboard,
			Snapshots: snapshots,
		},
		cache: c,
	}, nil
}

// Migrate applies pending schema migrations.
func (a *App) Migrate(ctx context.Context) error {
	version, err := database.Migrate(ctx, a.DB)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	log.Printf("Database schema at version %d", version)
	return nil
}

// Scheduler builds the periodic jobs from the configured schedules.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	cfg := a.Config.Scheduler
	return scheduler.New(
		scheduler.Job{
			Name:     "sync-all",
			Schedule: cfg.SyncSchedule,
			Run: func(ctx context.Context) error {
				outcomes := a.Services.Sync.SyncAllActive(ctx)
				failed := 0
				for _, o := range outcomes {
					if o.Status == model.SyncResultFailed {
						failed++
					}
				}
				log.Printf("Scheduled sync: %d accounts, %d failed", len(outcomes), failed)
				return ctx.Err()
			},
		},
		scheduler.Job{
			Name:     "daily-snapshot",
			Schedule: cfg.SnapshotSchedule,
			Run: func(ctx context.Context) error {
				n, err := a.Services.Snapshots.TakeDailySnapshots(ctx)
				if err != nil {
					return err
				}
				log.Printf("Daily snapshot: %d accounts", n)
				return nil
			},
		},
		scheduler.Job{
			Name:     "snapshot-cleanup",
			Schedule: cfg.CleanupSchedule,
			Run: func(ctx context.Context) error {
				n, err := a.Services.Snapshots.CleanupSnapshots(ctx, cfg.SnapshotRetention)
				if err != nil {
					return err
				}
				log.Printf("Snapshot cleanup: removed %d", n)
				return nil
			},
		},
	)
}

// Close releases the cache and the database.
func (a *App) Close() error {
	a.cache.Close()
	return a.DB.Close()
}
