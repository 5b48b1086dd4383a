package testutil

import (
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/cache"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

// Services bundles every service wired against one test database and broker.
type Services struct {
	Vault     *vault.Vault
	Locks     *service.KeyedLocker
	Cache     *cache.Cache
	Link      *service.LinkService
	Sync      *service.SyncService
	Accounts  *service.AccountService
	Dashboard *service.DashboardService
	Snapshots *service.SnapshotService
	System    *service.SystemService
}

// ServiceOptions tunes NewTestServices. Zero values pick fast test defaults.
type ServiceOptions struct {
	Poll         broker.PollConfig
	ChallengeTTL time.Duration
	Sync         service.SyncOptions
}

// FastPollConfig polls every 10ms and gives up after 300ms.
func FastPollConfig() broker.PollConfig {
	return broker.PollConfig{
		Interval:         10 * time.Millisecond,
		Timeout:          300 * time.Millisecond,
		TransportRetries: 2,
		RetryBackoff:     time.Millisecond,
	}
}

// NewTestServices wires all services the way the server does, against db and client.
//
// Example usage:
//
//	db := testutil.SetupTestDB(t)
//	client := testutil.NewMockBrokerClient()
//	svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
//	outcome := svc.Link.LinkAccount(ctx, userID, creds)
func NewTestServices(t *testing.T, db *sql.DB, client broker.Client, opts ServiceOptions) *Services {
	t.Helper()

	if opts.Poll.Interval == 0 {
		opts.Poll = FastPollConfig()
	}
	if opts.Sync.RetryBackoff == 0 {
		opts.Sync.RetryBackoff = time.Millisecond
	}
	if opts.Sync.RetryAttempts == 0 {
		opts.Sync.RetryAttempts = 2
	}

	v := NewTestVault(t)
	locks := service.NewKeyedLocker()
	auth := broker.NewAuthenticator(client, opts.Poll)

	c, err := cache.New(100, time.Minute)
	if err != nil {
		t.Fatalf("Failed to create test cache: %v", err)
	}
	t.Cleanup(c.Close)

	accountRepo := repository.NewAccountRepository(db)
	holdingRepo := repository.NewHoldingRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	balanceRepo := repository.NewBalanceRepository(db)
	snapshotRepo := repository.NewSnapshotRepository(db)

	svc := &Services{Vault: v, Locks: locks, Cache: c}
	invalidate := func(accountID string) { svc.Dashboard.Invalidate(accountID) }

	svc.Accounts = service.NewAccountService(accountRepo, holdingRepo, transactionRepo, locks, invalidate)
	svc.Dashboard = service.NewDashboardService(svc.Accounts, holdingRepo, balanceRepo, snapshotRepo, c)
	svc.Link = service.NewLinkService(db, accountRepo, client, auth, v, locks, opts.ChallengeTTL, invalidate)
	svc.Sync = service.NewSyncService(db, accountRepo, holdingRepo, transactionRepo, balanceRepo, snapshotRepo,
		client, auth, v, locks, opts.Sync, invalidate)
	svc.Snapshots = service.NewSnapshotService(accountRepo, holdingRepo, balanceRepo, snapshotRepo)
	svc.System = service.NewSystemService(db, map[string]bool{"push_mfa": true})
	return svc
}

// NewTestVault creates a vault with a fresh random key.
func NewTestVault(t *testing.T) *vault.Vault {
	t.Helper()

	key, err := vault.GenerateKey()
	if err != nil {
		t.Fatalf("Failed to generate test key: %v", err)
	}
	v, err := vault.New(key)
	if err != nil {
		t.Fatalf("Failed to create test vault: %v", err)
	}
	return v
}

func NewTestSystemService(t *testing.T, db *sql.DB) *service.SystemService {
	t.Helper()

	return service.NewSystemService(db, map[string]bool{"push_mfa": true})
}

// MakeID generates a UUID string for use in tests.
//
// Example usage:
//
//	id := testutil.MakeID()
//	// Returns: "550e8400-e29b-41d4-a716-446655440000"
func MakeID() string {
	return uuid.New().String()
}

// MakeAccountNumber generates a brokerage account number for testing.
//
// Example usage:
//
//	number := testutil.MakeAccountNumber()
//	// Returns: "5QR1A2B3C4D"
func MakeAccountNumber() string {
	return "5QR" + randomAlphanumeric(8)
}

// MakeSymbol generates a stock ticker symbol for testing.
//
// Example usage:
//
//	symbol := testutil.MakeSymbol("AAPL")
//	// Returns: "AAPL1A2B"
func MakeSymbol(base string) string {
	if base == "" {
		base = "TEST"
	}
	return base + randomAlphanumeric(4)
}

// D parses a decimal literal, panicking on malformed test input.
func D(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// randomAlphanumeric generates a random alphanumeric string of specified length.
func randomAlphanumeric(length int) string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		//nolint:gosec // G404: Using math/rand for test data generation is acceptable
		result[i] = charset[rand.Intn(len(charset))]
	}
	return string(result)
}
