package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/testutil"
)

// TestAccountService_Read tests the account registry's read side.
//
// WHY: Every read is made on behalf of a user. Another user's account must be
// indistinguishable from one that does not exist.
func TestAccountService_Read(t *testing.T) {
	t.Run("ListAccounts hides unlinked accounts unless asked", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		userID := testutil.MakeID()
		testutil.CreateLinkedAccount(t, db, svc.Vault, userID)
		testutil.NewLinkedAccount(svc.Vault).WithUserID(userID).Inactive().Build(t, db)
		testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		active, err := svc.Accounts.ListAccounts(context.Background(), userID, false)
		if err != nil {
			t.Fatalf("ListAccounts() returned unexpected error: %v", err)
		}
		if len(active) != 1 {
			t.Errorf("Expected 1 active account, got %d", len(active))
		}

		all, err := svc.Accounts.ListAccounts(context.Background(), userID, true)
		if err != nil {
			t.Fatalf("ListAccounts() returned unexpected error: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("Expected 2 accounts including unlinked, got %d", len(all))
		}
	})

	t.Run("ListAccounts requires a user", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})

		_, err := svc.Accounts.ListAccounts(context.Background(), "", false)
		if !errors.Is(err, apperrors.ErrInvalidUserID) {
			t.Errorf("Expected ErrInvalidUserID, got %v", err)
		}
	})

	t.Run("GetAccount of another user is not found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		if _, err := svc.Accounts.GetAccount(context.Background(), testutil.MakeID(), account.ID); !errors.Is(err, apperrors.ErrLinkedAccountNotFound) {
			t.Errorf("Expected ErrLinkedAccountNotFound, got %v", err)
		}
		if _, err := svc.Accounts.GetAccount(context.Background(), account.UserID, testutil.MakeID()); !errors.Is(err, apperrors.ErrLinkedAccountNotFound) {
			t.Errorf("Expected ErrLinkedAccountNotFound for unknown ID, got %v", err)
		}
	})

	t.Run("GetHoldings derives values and can include closed positions", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())
		testutil.CreateHolding(t, db, account.ID, "AAPL", "4", "100", "125")
		testutil.NewHolding(account.ID).WithSymbol("GME").Closed(time.Now()).Build(t, db)

		active, err := svc.Accounts.GetHoldings(context.Background(), account.UserID, account.ID, false)
		if err != nil {
			t.Fatalf("GetHoldings() returned unexpected error: %v", err)
		}
		if len(active) != 1 {
			t.Fatalf("Expected 1 active holding, got %d", len(active))
		}
		h := active[0]
		if !h.MarketValue.Equal(testutil.D("500")) || !h.CostBasis.Equal(testutil.D("400")) {
			t.Errorf("Expected value 500 and cost 400, got %s and %s", h.MarketValue, h.CostBasis)
		}
		if !h.UnrealizedPL.Equal(testutil.D("100")) || !h.UnrealizedPLPercent.Equal(testutil.D("25")) {
			t.Errorf("Expected P/L 100 (25%%), got %s (%s%%)", h.UnrealizedPL, h.UnrealizedPLPercent)
		}

		all, err := svc.Accounts.GetHoldings(context.Background(), account.UserID, account.ID, true)
		if err != nil {
			t.Fatalf("GetHoldings() returned unexpected error: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("Expected 2 holdings including closed, got %d", len(all))
		}
	})

	t.Run("GetTransactions filters by execution date", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		base := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
		testutil.NewBrokerTransaction(account.ID).WithExecutedAt(base.AddDate(0, 0, -10)).Build(t, db)
		testutil.NewBrokerTransaction(account.ID).WithExecutedAt(base).Build(t, db)
		testutil.NewBrokerTransaction(account.ID).WithExecutedAt(base.AddDate(0, 0, 10)).Build(t, db)

		txs, err := svc.Accounts.GetTransactions(context.Background(), account.UserID, account.ID,
			base.AddDate(0, 0, -1), base.AddDate(0, 0, 1))
		if err != nil {
			t.Fatalf("GetTransactions() returned unexpected error: %v", err)
		}
		if len(txs) != 1 {
			t.Errorf("Expected 1 transaction in range, got %d", len(txs))
		}

		all, err := svc.Accounts.GetTransactions(context.Background(), account.UserID, account.ID, time.Time{}, time.Time{})
		if err != nil {
			t.Fatalf("GetTransactions() returned unexpected error: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("Expected 3 transactions without bounds, got %d", len(all))
		}
		if !all[0].ExecutedAt.After(all[2].ExecutedAt) {
			t.Error("Expected newest transaction first")
		}
	})
}

// TestAccountService_UnlinkAccount tests unlinking.
//
// WHY: Unlinking stops syncs and drops the session, but the synced history
// stays. It must not interleave with a sync that is writing the same account.
func TestAccountService_UnlinkAccount(t *testing.T) {
	t.Run("unlinks and keeps history", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())
		testutil.CreateHolding(t, db, account.ID, "AAPL", "1", "100", "100")

		if err := svc.Accounts.UnlinkAccount(context.Background(), account.UserID, account.ID); err != nil {
			t.Fatalf("UnlinkAccount() returned unexpected error: %v", err)
		}

		stored := getAccount(t, db, account.ID)
		if stored.IsActive {
			t.Error("Expected account to be inactive")
		}
		if stored.SessionEncrypted != "" {
			t.Error("Expected stored session to be dropped")
		}
		testutil.AssertRowCount(t, db, "holding", 1)
	})

	t.Run("unlinking twice reports not found", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		if err := svc.Accounts.UnlinkAccount(context.Background(), account.UserID, account.ID); err != nil {
			t.Fatalf("UnlinkAccount() returned unexpected error: %v", err)
		}
		err := svc.Accounts.UnlinkAccount(context.Background(), account.UserID, account.ID)
		if !errors.Is(err, apperrors.ErrLinkedAccountNotFound) {
			t.Errorf("Expected ErrLinkedAccountNotFound, got %v", err)
		}
	})

	t.Run("other user cannot unlink", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		err := svc.Accounts.UnlinkAccount(context.Background(), testutil.MakeID(), account.ID)
		if !errors.Is(err, apperrors.ErrLinkedAccountNotFound) {
			t.Errorf("Expected ErrLinkedAccountNotFound, got %v", err)
		}
		if !getAccount(t, db, account.ID).IsActive {
			t.Error("Expected account to stay linked")
		}
	})

	t.Run("waits for a running sync", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		unlock, ok := svc.Locks.TryLock(account.ID)
		if !ok {
			t.Fatal("Expected to take the account lock")
		}

		done := make(chan error, 1)
		go func() { done <- svc.Accounts.UnlinkAccount(context.Background(), account.UserID, account.ID) }()

		select {
		case err := <-done:
			t.Fatalf("Expected unlink to wait, it returned %v", err)
		case <-time.After(50 * time.Millisecond):
		}

		unlock()
		if err := <-done; err != nil {
			t.Fatalf("UnlinkAccount() returned unexpected error: %v", err)
		}
		if getAccount(t, db, account.ID).IsActive {
			t.Error("Expected account to be inactive")
		}
	})

	t.Run("gives up when the context ends while waiting", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestServices(t, db, testutil.NewMockBrokerClient(), testutil.ServiceOptions{})
		account := testutil.CreateLinkedAccount(t, db, svc.Vault, testutil.MakeID())

		unlock, _ := svc.Locks.TryLock(account.ID)
		defer unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		if err := svc.Accounts.UnlinkAccount(ctx, account.UserID, account.ID); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("Expected context.DeadlineExceeded, got %v", err)
		}
		if !getAccount(t, db, account.ID).IsActive {
			t.Error("Expected account to stay linked")
		}
	})
}
