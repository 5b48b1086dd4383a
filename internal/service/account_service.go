package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
)

// AccountService is the account registry: it reads linked accounts and their
// synced data on behalf of a user, and unlinks them.
type AccountService struct {
	accountRepo     *repository.AccountRepository
	holdingRepo     *repository.HoldingRepository
	transactionRepo *repository.TransactionRepository
	locks           *KeyedLocker
	invalidate      func(accountID string)
}

// NewAccountService creates a new AccountService.
// invalidate is called after an account changes so cached read models can be dropped; it may be nil.
func NewAccountService(
	accountRepo *repository.AccountRepository,
	holdingRepo *repository.HoldingRepository,
	transactionRepo *repository.TransactionRepository,
	locks *KeyedLocker,
	invalidate func(accountID string),
) *AccountService {
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &AccountService{
		accountRepo:     accountRepo,
		holdingRepo:     holdingRepo,
		transactionRepo: transactionRepo,
		locks:           locks,
		invalidate:      invalidate,
	}
}

// GetAccount returns an account owned by userID. Accounts of other users are
// reported as not found.
func (s *AccountService) GetAccount(ctx context.Context, userID, accountID string) (model.LinkedAccount, error) {
	account, err := s.accountRepo.GetAccount(ctx, accountID)
	if err != nil {
		return model.LinkedAccount{}, err
	}
	if account.UserID != userID {
		return model.LinkedAccount{}, apperrors.ErrLinkedAccountNotFound
	}
	return account, nil
}

// ListAccounts returns the user's accounts, optionally including unlinked ones.
func (s *AccountService) ListAccounts(ctx context.Context, userID string, includeInactive bool) ([]model.LinkedAccount, error) {
	if userID == "" {
		return nil, apperrors.ErrInvalidUserID
	}
	return s.accountRepo.ListAccounts(ctx, userID, includeInactive)
}

// UnlinkAccount soft-deletes an account. The stored session is dropped, while
// holdings and transactions stay for history. Waits for a running sync to finish.
func (s *AccountService) UnlinkAccount(ctx context.Context, userID, accountID string) error {
	if _, err := s.GetAccount(ctx, userID, accountID); err != nil {
		return err
	}

	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		return fmt.Errorf("failed to lock account: %w", err)
	}
	defer unlock()

	if err := s.accountRepo.Deactivate(ctx, userID, accountID); err != nil {
		return err
	}
	s.invalidate(accountID)

	log.Printf("Account %s unlinked", accountID)
	return nil
}

// GetHoldings returns the account's holdings with derived figures.
func (s *AccountService) GetHoldings(ctx context.Context, userID, accountID string, includeClosed bool) ([]model.HoldingView, error) {
	if _, err := s.GetAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}

	holdings, err := s.holdingRepo.GetHoldings(ctx, accountID, includeClosed)
	if err != nil {
		return nil, err
	}

	views := make([]model.HoldingView, len(holdings))
	for i, h := range holdings {
		views[i] = h.View()
	}
	return views, nil
}

// GetTransactions returns the account's imported transactions in [startDate, endDate].
func (s *AccountService) GetTransactions(ctx context.Context, userID, accountID string, startDate, endDate time.Time) ([]model.BrokerTransaction, error) {
	if _, err := s.GetAccount(ctx, userID, accountID); err != nil {
		return nil, err
	}
	return s.transactionRepo.GetTransactions(ctx, accountID, startDate, endDate)
}

