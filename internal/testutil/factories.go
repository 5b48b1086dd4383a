package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

// Default login used by LinkedAccountBuilder and the mock broker.
const (
	TestUsername = "trader@example.com"
	TestPassword = "correct horse battery staple"
)

// LinkedAccountBuilder provides a fluent interface for creating test linked accounts.
// Credentials and session are sealed with the given vault, so services built
// with the same vault can read them.
//
// Example usage:
//
//	// Active, verified account with a live session
//	account := testutil.NewLinkedAccount(v).Build(t, db)
//
//	// Account whose last sync failed on rejected credentials
//	account := testutil.NewLinkedAccount(v).
//	    WithUserID(userID).
//	    Failed(model.ErrorCodeAuthRejected).
//	    Build(t, db)
type LinkedAccountBuilder struct {
	vault              *vault.Vault
	ID                 string
	UserID             string
	AccountNumber      string
	AccountType        model.AccountType
	Username           string
	Password           string
	Session            *broker.Session
	MFAType            model.MFAType
	SyncStatus         model.SyncStatus
	SyncErrorCode      model.ErrorCode
	LastSyncAt         *time.Time
	IsActive           bool
	corruptCredentials bool
	corruptSession     bool
}

// NewLinkedAccount creates a LinkedAccountBuilder with sensible defaults.
func NewLinkedAccount(v *vault.Vault) *LinkedAccountBuilder {
	return &LinkedAccountBuilder{
		vault:         v,
		ID:            MakeID(),
		UserID:        MakeID(),
		AccountNumber: MakeAccountNumber(),
		AccountType:   model.AccountTypeCash,
		Username:      TestUsername,
		Password:      TestPassword,
		Session:       &broker.Session{AccessToken: "stored-" + randomAlphanumeric(8), ExpiresAt: time.Now().Add(time.Hour).UTC()},
		MFAType:       model.MFANone,
		SyncStatus:    model.SyncStatusNeverSynced,
		IsActive:      true,
	}
}

// WithID sets a custom ID.
func (b *LinkedAccountBuilder) WithID(id string) *LinkedAccountBuilder {
	b.ID = id
	return b
}

// WithUserID sets the owning user.
func (b *LinkedAccountBuilder) WithUserID(userID string) *LinkedAccountBuilder {
	b.UserID = userID
	return b
}

// WithAccountNumber sets the brokerage account number.
func (b *LinkedAccountBuilder) WithAccountNumber(number string) *LinkedAccountBuilder {
	b.AccountNumber = number
	return b
}

// WithAccountType sets the account type.
func (b *LinkedAccountBuilder) WithAccountType(accountType model.AccountType) *LinkedAccountBuilder {
	b.AccountType = accountType
	return b
}

// WithCredentials sets the stored login.
func (b *LinkedAccountBuilder) WithCredentials(username, password string) *LinkedAccountBuilder {
	b.Username = username
	b.Password = password
	return b
}

// WithSession sets the stored session.
func (b *LinkedAccountBuilder) WithSession(session broker.Session) *LinkedAccountBuilder {
	b.Session = &session
	return b
}

// WithExpiredSession stores a session that expired an hour ago.
func (b *LinkedAccountBuilder) WithExpiredSession() *LinkedAccountBuilder {
	b.Session = &broker.Session{AccessToken: "expired-" + randomAlphanumeric(8), ExpiresAt: time.Now().Add(-time.Hour).UTC()}
	return b
}

// WithoutSession stores no session at all.
func (b *LinkedAccountBuilder) WithoutSession() *LinkedAccountBuilder {
	b.Session = nil
	return b
}

// WithMFAType sets the recorded MFA type.
func (b *LinkedAccountBuilder) WithMFAType(mfaType model.MFAType) *LinkedAccountBuilder {
	b.MFAType = mfaType
	return b
}

// WithSyncStatus sets the sync status.
func (b *LinkedAccountBuilder) WithSyncStatus(status model.SyncStatus) *LinkedAccountBuilder {
	b.SyncStatus = status
	return b
}

// WithLastSyncAt sets the time of the last successful sync.
func (b *LinkedAccountBuilder) WithLastSyncAt(at time.Time) *LinkedAccountBuilder {
	at = at.UTC()
	b.LastSyncAt = &at
	return b
}

// Failed marks the account's last sync as failed with code.
func (b *LinkedAccountBuilder) Failed(code model.ErrorCode) *LinkedAccountBuilder {
	b.SyncStatus = model.SyncStatusFailed
	b.SyncErrorCode = code
	return b
}

// Inactive marks the account as unlinked.
func (b *LinkedAccountBuilder) Inactive() *LinkedAccountBuilder {
	b.IsActive = false
	return b
}

// WithCorruptCredentials stores a credentials ciphertext no key can open.
func (b *LinkedAccountBuilder) WithCorruptCredentials() *LinkedAccountBuilder {
	b.corruptCredentials = true
	return b
}

// WithCorruptSession stores a session ciphertext no key can open.
func (b *LinkedAccountBuilder) WithCorruptSession() *LinkedAccountBuilder {
	b.corruptSession = true
	return b
}

// Build creates the linked account in the database and returns it as stored.
func (b *LinkedAccountBuilder) Build(t *testing.T, db *sql.DB) model.LinkedAccount {
	t.Helper()

	credentials, err := b.vault.EncryptJSON(vault.Credentials{Username: b.Username, Password: b.Password})
	if err != nil {
		t.Fatalf("Failed to encrypt test credentials: %v", err)
	}
	if b.corruptCredentials {
		credentials = "gAAAAA-not-a-token"
	}

	now := time.Now().UTC()
	account := model.LinkedAccount{
		ID:                   b.ID,
		UserID:               b.UserID,
		AccountNumber:        b.AccountNumber,
		AccountType:          b.AccountType,
		LoginFingerprint:     b.vault.Fingerprint(b.Username),
		CredentialsEncrypted: credentials,
		MFAType:              b.MFAType,
		LastSyncAt:           b.LastSyncAt,
		SyncStatus:           b.SyncStatus,
		SyncErrorCode:        b.SyncErrorCode,
		IsActive:             b.IsActive,
		IsVerified:           true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if b.SyncErrorCode != "" {
		account.SyncError = model.MessageFor(b.SyncErrorCode)
	}

	if b.Session != nil {
		session, err := b.vault.EncryptJSON(*b.Session)
		if err != nil {
			t.Fatalf("Failed to encrypt test session: %v", err)
		}
		expires := b.Session.ExpiresAt
		account.SessionEncrypted = session
		account.SessionExpiresAt = &expires
	}
	if b.corruptSession {
		account.SessionEncrypted = "gAAAAA-not-a-token"
	}

	if err := repository.NewAccountRepository(db).InsertAccount(context.Background(), &account); err != nil {
		t.Fatalf("Failed to create test linked account: %v", err)
	}
	return account
}

// HoldingBuilder provides a fluent interface for creating test holdings.
//
// Example usage:
//
//	holding := testutil.NewHolding(account.ID).
//	    WithSymbol("AAPL").
//	    WithQuantity("10").
//	    WithPrices("150", "175").
//	    Build(t, db)
type HoldingBuilder struct {
	holding model.Holding
}

// NewHolding creates a HoldingBuilder for an active equity position.
func NewHolding(accountID string) *HoldingBuilder {
	now := time.Now().UTC()
	return &HoldingBuilder{holding: model.Holding{
		ID:            MakeID(),
		AccountID:     accountID,
		Symbol:        MakeSymbol(""),
		AssetClass:    model.AssetClassEquity,
		Name:          "Test Holding",
		Quantity:      decimal.NewFromInt(10),
		AverageCost:   decimal.NewFromInt(100),
		CurrentPrice:  decimal.NewFromInt(110),
		PreviousClose: decimal.NewFromInt(105),
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}}
}

// WithSymbol sets the symbol.
func (b *HoldingBuilder) WithSymbol(symbol string) *HoldingBuilder {
	b.holding.Symbol = symbol
	return b
}

// WithAssetClass sets the asset class.
func (b *HoldingBuilder) WithAssetClass(class model.AssetClass) *HoldingBuilder {
	b.holding.AssetClass = class
	return b
}

// WithQuantity sets the quantity.
func (b *HoldingBuilder) WithQuantity(quantity string) *HoldingBuilder {
	b.holding.Quantity = D(quantity)
	return b
}

// WithPrices sets the average cost and the current price.
func (b *HoldingBuilder) WithPrices(averageCost, currentPrice string) *HoldingBuilder {
	b.holding.AverageCost = D(averageCost)
	b.holding.CurrentPrice = D(currentPrice)
	return b
}

// WithPreviousClose sets the previous close.
func (b *HoldingBuilder) WithPreviousClose(price string) *HoldingBuilder {
	b.holding.PreviousClose = D(price)
	return b
}

// AsOption turns the holding into an option contract.
func (b *HoldingBuilder) AsOption(contractID, optionType, strike string, expiration time.Time) *HoldingBuilder {
	s := D(strike)
	exp := expiration.UTC()
	b.holding.AssetClass = model.AssetClassOption
	b.holding.ContractID = contractID
	b.holding.OptionType = optionType
	b.holding.StrikePrice = &s
	b.holding.ExpirationDate = &exp
	return b
}

// Closed marks the holding as closed at the given time.
func (b *HoldingBuilder) Closed(at time.Time) *HoldingBuilder {
	at = at.UTC()
	b.holding.IsActive = false
	b.holding.Quantity = decimal.Zero
	b.holding.ClosedAt = &at
	return b
}

// Build creates the holding in the database and returns it.
func (b *HoldingBuilder) Build(t *testing.T, db *sql.DB) model.Holding {
	t.Helper()

	if err := repository.NewHoldingRepository(db).InsertHolding(context.Background(), b.holding); err != nil {
		t.Fatalf("Failed to create test holding: %v", err)
	}
	return b.holding
}

// BalanceBuilder provides a fluent interface for creating test account balances.
type BalanceBuilder struct {
	balance model.AccountBalance
}

// NewBalance creates a BalanceBuilder with 1000 cash and no margin.
func NewBalance(accountID string) *BalanceBuilder {
	return &BalanceBuilder{balance: model.AccountBalance{
		AccountID:   accountID,
		Cash:        decimal.NewFromInt(1000),
		BuyingPower: decimal.NewFromInt(1000),
		UpdatedAt:   time.Now().UTC(),
	}}
}

// WithCash sets the cash balance.
func (b *BalanceBuilder) WithCash(cash string) *BalanceBuilder {
	b.balance.Cash = D(cash)
	return b
}

// WithMargin sets the margin limit and the unused part of it.
func (b *BalanceBuilder) WithMargin(limit, unallocated string) *BalanceBuilder {
	b.balance.MarginLimit = D(limit)
	b.balance.UnallocatedMarginCash = D(unallocated)
	return b
}

// Build creates the balance in the database and returns it.
func (b *BalanceBuilder) Build(t *testing.T, db *sql.DB) model.AccountBalance {
	t.Helper()

	if err := repository.NewBalanceRepository(db).UpsertBalance(context.Background(), b.balance); err != nil {
		t.Fatalf("Failed to create test balance: %v", err)
	}
	return b.balance
}

// SnapshotBuilder provides a fluent interface for creating test portfolio snapshots.
type SnapshotBuilder struct {
	snapshot model.PortfolioSnapshot
}

// NewSnapshot creates a SnapshotBuilder for a sync snapshot taken now.
func NewSnapshot(accountID string) *SnapshotBuilder {
	return &SnapshotBuilder{snapshot: model.PortfolioSnapshot{
		ID:           MakeID(),
		AccountID:    accountID,
		SnapshotType: model.SnapshotSync,
		TotalValue:   decimal.NewFromInt(1000),
		Cash:         decimal.Zero,
		EquityValue:  decimal.NewFromInt(1000),
		TakenAt:      time.Now().UTC(),
	}}
}

// WithType sets the snapshot type.
func (b *SnapshotBuilder) WithType(snapshotType model.SnapshotType) *SnapshotBuilder {
	b.snapshot.SnapshotType = snapshotType
	return b
}

// WithTotalValue sets the total value, all of it equity.
func (b *SnapshotBuilder) WithTotalValue(total string) *SnapshotBuilder {
	b.snapshot.TotalValue = D(total)
	b.snapshot.EquityValue = D(total)
	b.snapshot.Cash = decimal.Zero
	return b
}

// WithTakenAt sets when the snapshot was taken.
func (b *SnapshotBuilder) WithTakenAt(at time.Time) *SnapshotBuilder {
	b.snapshot.TakenAt = at.UTC()
	return b
}

// Build creates the snapshot in the database and returns it.
func (b *SnapshotBuilder) Build(t *testing.T, db *sql.DB) model.PortfolioSnapshot {
	t.Helper()

	if err := repository.NewSnapshotRepository(db).InsertSnapshot(context.Background(), b.snapshot); err != nil {
		t.Fatalf("Failed to create test snapshot: %v", err)
	}
	return b.snapshot
}

// BrokerTransactionBuilder provides a fluent interface for creating imported transactions.
type BrokerTransactionBuilder struct {
	transaction model.BrokerTransaction
}

// NewBrokerTransaction creates a BrokerTransactionBuilder for a filled buy executed now.
func NewBrokerTransaction(accountID string) *BrokerTransactionBuilder {
	now := time.Now().UTC()
	return &BrokerTransactionBuilder{transaction: model.BrokerTransaction{
		ID:         MakeID(),
		AccountID:  accountID,
		ExternalID: "ord-" + randomAlphanumeric(10),
		Symbol:     "AAPL",
		Side:       "buy",
		State:      "filled",
		Quantity:   decimal.NewFromInt(1),
		Price:      decimal.NewFromInt(100),
		Fees:       decimal.Zero,
		ExecutedAt: now,
		CreatedAt:  now,
	}}
}

// WithExternalID sets the broker's order ID.
func (b *BrokerTransactionBuilder) WithExternalID(id string) *BrokerTransactionBuilder {
	b.transaction.ExternalID = id
	return b
}

// WithSymbol sets the symbol.
func (b *BrokerTransactionBuilder) WithSymbol(symbol string) *BrokerTransactionBuilder {
	b.transaction.Symbol = symbol
	return b
}

// WithExecutedAt sets the execution time.
func (b *BrokerTransactionBuilder) WithExecutedAt(at time.Time) *BrokerTransactionBuilder {
	b.transaction.ExecutedAt = at.UTC()
	return b
}

// Build creates the transaction in the database and returns it.
func (b *BrokerTransactionBuilder) Build(t *testing.T, db *sql.DB) model.BrokerTransaction {
	t.Helper()

	if _, err := repository.NewTransactionRepository(db).UpsertTransaction(context.Background(), b.transaction); err != nil {
		t.Fatalf("Failed to create test transaction: %v", err)
	}
	return b.transaction
}

// Convenience functions

// CreateLinkedAccount creates an active account for userID with default values.
//
// Example usage:
//
//	account := testutil.CreateLinkedAccount(t, db, v, userID)
func CreateLinkedAccount(t *testing.T, db *sql.DB, v *vault.Vault, userID string) model.LinkedAccount {
	t.Helper()
	return NewLinkedAccount(v).WithUserID(userID).Build(t, db)
}

// CreateHolding creates an equity holding with the given symbol, quantity and prices.
func CreateHolding(t *testing.T, db *sql.DB, accountID, symbol, quantity, averageCost, currentPrice string) model.Holding {
	t.Helper()
	return NewHolding(accountID).
		WithSymbol(symbol).
		WithQuantity(quantity).
		WithPrices(averageCost, currentPrice).
		Build(t, db)
}
