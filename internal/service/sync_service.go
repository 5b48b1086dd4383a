package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/database"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

// SyncOptions bounds broker retries and the scheduled fan-out.
type SyncOptions struct {
	// RetryAttempts is how many times a fetch is retried after a network error.
	RetryAttempts int
	// RetryBackoff is the first retry delay; it doubles per retry.
	RetryBackoff time.Duration
	// Concurrency limits how many accounts SyncAllActive syncs at once.
	Concurrency int
	// LeaseTTL is how old a pending mark left by another process must be
	// before this one takes the account over.
	LeaseTTL time.Duration
}

// SyncService pulls positions, transactions and balances from the broker and
// reconciles them into local storage.
type SyncService struct {
	db              *sql.DB
	accountRepo     *repository.AccountRepository
	holdingRepo     *repository.HoldingRepository
	transactionRepo *repository.TransactionRepository
	balanceRepo     *repository.BalanceRepository
	snapshotRepo    *repository.SnapshotRepository
	client          broker.Client
	auth            *broker.Authenticator
	vault           *vault.Vault
	locks           *KeyedLocker
	opts            SyncOptions
	invalidate      func(accountID string)
	now             func() time.Time
}

// NewSyncService creates a new SyncService. invalidate is called whenever an
// account's stored data or status changes; it may be nil.
func NewSyncService(
	db *sql.DB,
	accountRepo *repository.AccountRepository,
	holdingRepo *repository.HoldingRepository,
	transactionRepo *repository.TransactionRepository,
	balanceRepo *repository.BalanceRepository,
	snapshotRepo *repository.SnapshotRepository,
	client broker.Client,
	auth *broker.Authenticator,
	v *vault.Vault,
	locks *KeyedLocker,
	opts SyncOptions,
	invalidate func(accountID string),
) *SyncService {
	if opts.RetryAttempts < 0 {
		opts.RetryAttempts = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 15 * time.Minute
	}
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &SyncService{
		db:              db,
		accountRepo:     accountRepo,
		holdingRepo:     holdingRepo,
		transactionRepo: transactionRepo,
		balanceRepo:     balanceRepo,
		snapshotRepo:    snapshotRepo,
		client:          client,
		auth:            auth,
		vault:           v,
		locks:           locks,
		opts:            opts,
		invalidate:      invalidate,
		now:             time.Now,
	}
}

// brokerSnapshot is everything one sync fetches.
type brokerSnapshot struct {
	positions    []broker.Position
	transactions []broker.Transaction
	balances     broker.Balances
}

// SyncAccount brings one account in line with the broker.
//
// A second sync for an account that is already syncing returns an in_progress
// outcome straight away. That holds across processes sharing the database:
// the pending mark is taken as a lease. On failure the account is marked
// failed and stored holdings are left exactly as they were.
func (s *SyncService) SyncAccount(ctx context.Context, accountID string) model.SyncOutcome {
	unlock, ok := s.locks.TryLock(accountID)
	if !ok {
		log.Printf("Sync of account %s skipped: %v", accountID, apperrors.ErrSyncInProgress)
		return syncBusyOutcome(accountID)
	}
	defer unlock()

	account, err := s.accountRepo.GetAccount(ctx, accountID)
	if err != nil {
		log.Printf("Sync of account %s failed to load account: %v", accountID, err)
		return syncFailedOutcome(accountID, errorCodeFor(err))
	}
	if !account.IsActive {
		log.Printf("Sync of account %s skipped: account is unlinked", accountID)
		return syncFailedOutcome(accountID, model.ErrorCodeInternal)
	}

	held, err := s.accountRepo.AcquireSyncLease(ctx, accountID, s.now().Add(-s.opts.LeaseTTL))
	if err != nil {
		log.Printf("Sync of account %s failed to start: %v", accountID, err)
		return syncFailedOutcome(accountID, errorCodeFor(err))
	}
	if !held {
		log.Printf("Sync of account %s skipped: pending in another process", accountID)
		return syncBusyOutcome(accountID)
	}
	defer s.invalidate(accountID)

	start := s.now()
	out, err := s.sync(ctx, account)
	if err != nil {
		code := errorCodeFor(err)
		// A cancelled request says nothing about the account.
		if ctx.Err() != nil {
			log.Printf("Sync of account %s cancelled: %v", accountID, err)
			if err := s.accountRepo.RestoreSyncStatus(context.WithoutCancel(ctx), accountID, account.SyncStatus); err != nil {
				log.Printf("Failed to restore sync status of account %s: %v", accountID, err)
			}
			return syncFailedOutcome(accountID, code)
		}

		log.Printf("Sync of account %s failed (%s): %v", accountID, code, err)
		if err := s.accountRepo.MarkSyncFailed(context.WithoutCancel(ctx), accountID, model.MessageFor(code), code); err != nil {
			log.Printf("Failed to mark account %s failed: %v", accountID, err)
		}
		return syncFailedOutcome(accountID, code)
	}

	log.Printf("Synced account %s in %s: %d created, %d updated, %d closed, %d unchanged, %d new transactions",
		accountID, s.now().Sub(start).Round(time.Millisecond), out.Created, out.Updated, out.Closed, out.Unchanged, out.Transactions)
	return out
}

// SyncAllActive syncs every active account, a bounded number at a time.
// Accounts whose last failure needs the user to re-link are skipped.
func (s *SyncService) SyncAllActive(ctx context.Context) []model.SyncOutcome {
	accounts, err := s.accountRepo.ListActiveAccounts(ctx)
	if err != nil {
		log.Printf("Scheduled sync failed to list accounts: %v", err)
		return nil
	}

	outcomes := make([]model.SyncOutcome, len(accounts))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)

	for i, a := range accounts {
		if needsRelink(a) {
			outcomes[i] = syncFailedOutcome(a.ID, a.SyncErrorCode)
			continue
		}
		g.Go(func() error {
			outcomes[i] = s.SyncAccount(ctx, a.ID)
			return nil
		})
	}
	_ = g.Wait()

	var succeeded, failed, busy int
	for _, o := range outcomes {
		switch o.Status {
		case model.SyncResultSuccess:
			succeeded++
		case model.SyncResultInProgress:
			busy++
		default:
			failed++
		}
	}
	log.Printf("Scheduled sync finished: %d accounts, %d succeeded, %d failed, %d already running",
		len(accounts), succeeded, failed, busy)
	return outcomes
}

func (s *SyncService) sync(ctx context.Context, account model.LinkedAccount) (model.SyncOutcome, error) {
	session, err := s.session(ctx, account)
	if err != nil {
		return model.SyncOutcome{}, err
	}

	snap, err := s.fetch(ctx, session)
	if broker.IsUnauthorized(err) {
		log.Printf("Session for account %s was refused, logging in again", account.ID)
		if session, err = s.relogin(ctx, account); err != nil {
			return model.SyncOutcome{}, err
		}
		snap, err = s.fetch(ctx, session)
	}
	if err != nil {
		return model.SyncOutcome{}, err
	}

	now := s.now().UTC()
	holdings, err := ParsePositions(account.ID, snap.positions, now)
	if err != nil {
		return model.SyncOutcome{}, err
	}
	transactions, err := ParseTransactions(account.ID, snap.transactions, now)
	if err != nil {
		return model.SyncOutcome{}, err
	}
	balance := model.AccountBalance{
		AccountID:             account.ID,
		Cash:                  snap.balances.Cash,
		BuyingPower:           snap.balances.BuyingPower,
		MarginLimit:           snap.balances.MarginLimit,
		UnallocatedMarginCash: snap.balances.UnallocatedMarginCash,
		OutstandingInterest:   snap.balances.OutstandingInterest,
		UpdatedAt:             now,
	}
	totals := CalculateTotals(holdings, balance.Cash)

	var diff HoldingDiff
	var imported int
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		holdingRepo := s.holdingRepo.WithTx(tx)
		stored, err := holdingRepo.GetHoldings(ctx, account.ID, true)
		if err != nil {
			return err
		}

		diff = DiffHoldings(stored, holdings)
		for _, h := range diff.Insert {
			if err := holdingRepo.InsertHolding(ctx, h); err != nil {
				return err
			}
		}
		for _, h := range diff.Update {
			if err := holdingRepo.UpdateHolding(ctx, h); err != nil {
				return err
			}
		}
		for _, h := range diff.Close {
			if err := holdingRepo.CloseHolding(ctx, h.ID, now); err != nil {
				return err
			}
		}

		transactionRepo := s.transactionRepo.WithTx(tx)
		for _, t := range transactions {
			created, err := transactionRepo.UpsertTransaction(ctx, t)
			if err != nil {
				return err
			}
			if created {
				imported++
			}
		}

		if err := s.balanceRepo.WithTx(tx).UpsertBalance(ctx, balance); err != nil {
			return err
		}

		if err := s.snapshotRepo.WithTx(tx).InsertSnapshot(ctx, model.PortfolioSnapshot{
			ID:           uuid.New().String(),
			AccountID:    account.ID,
			SnapshotType: model.SnapshotSync,
			TotalValue:   totals.TotalValue,
			Cash:         totals.Cash,
			EquityValue:  totals.EquityValue,
			TakenAt:      now,
		}); err != nil {
			return err
		}

		return s.accountRepo.WithTx(tx).MarkSyncSuccess(ctx, account.ID, now)
	})
	if err != nil {
		return model.SyncOutcome{}, fmt.Errorf("failed to store sync: %w", err)
	}

	return model.SyncOutcome{
		AccountID:    account.ID,
		Status:       model.SyncResultSuccess,
		Created:      len(diff.Insert),
		Updated:      len(diff.Update),
		Unchanged:    diff.Unchanged,
		Closed:       len(diff.Close),
		Transactions: imported,
		SyncedAt:     &now,
	}, nil
}

// session returns the stored session while it is readable and unexpired,
// otherwise logs in again with the stored credentials.
func (s *SyncService) session(ctx context.Context, account model.LinkedAccount) (broker.Session, error) {
	if account.SessionEncrypted != "" {
		var session broker.Session
		err := s.vault.DecryptJSON(account.SessionEncrypted, &session)
		switch {
		case err != nil:
			log.Printf("Stored session for account %s is unreadable, logging in again: %v", account.ID, err)
		case session.Expired(s.now()):
			log.Printf("Stored session for account %s expired, logging in again", account.ID)
		default:
			return session, nil
		}
	}
	return s.relogin(ctx, account)
}

// relogin authenticates with the stored credentials and stores the new session.
// Any MFA prompt fails the sync, as nobody is there to answer it.
func (s *SyncService) relogin(ctx context.Context, account model.LinkedAccount) (broker.Session, error) {
	var creds vault.Credentials
	if err := s.vault.DecryptJSON(account.CredentialsEncrypted, &creds); err != nil {
		return broker.Session{}, err
	}

	var res broker.AuthResult
	err := s.withRetry(ctx, "login", func(ctx context.Context) error {
		r, err := s.auth.SubmitLogin(ctx, creds.Username, creds.Password)
		res = r
		return err
	})
	if err != nil {
		return broker.Session{}, err
	}

	switch res.Status {
	case broker.StatusAuthenticated:
	case broker.StatusMFARequired:
		return broker.Session{}, fmt.Errorf("%w: broker asked for %s verification", apperrors.ErrReauthRequired, res.Challenge.Type)
	default:
		if res.Err != nil {
			return broker.Session{}, res.Err
		}
		return broker.Session{}, fmt.Errorf("%w: %s", apperrors.ErrAuthRejected, res.Reason)
	}

	encrypted, err := s.vault.EncryptJSON(res.Session)
	if err != nil {
		return broker.Session{}, fmt.Errorf("failed to encrypt session: %w", err)
	}
	if err := s.accountRepo.UpdateSession(ctx, account.ID, encrypted, res.Session.ExpiresAt); err != nil {
		return broker.Session{}, err
	}
	return res.Session, nil
}

// fetch loads positions, transactions and balances concurrently.
func (s *SyncService) fetch(ctx context.Context, session broker.Session) (brokerSnapshot, error) {
	var snap brokerSnapshot
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.withRetry(ctx, "positions", func(ctx context.Context) error {
			positions, err := s.client.Positions(ctx, session)
			snap.positions = positions
			return err
		})
	})
	g.Go(func() error {
		return s.withRetry(ctx, "transactions", func(ctx context.Context) error {
			transactions, err := s.client.Transactions(ctx, session)
			snap.transactions = transactions
			return err
		})
	})
	g.Go(func() error {
		return s.withRetry(ctx, "balances", func(ctx context.Context) error {
			balances, err := s.client.Balances(ctx, session)
			snap.balances = balances
			return err
		})
	})

	if err := g.Wait(); err != nil {
		return brokerSnapshot{}, err
	}
	return snap, nil
}

// withRetry runs fn, retrying transient network errors with exponential backoff.
func (s *SyncService) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	backoff := retry.WithMaxRetries(uint64(s.opts.RetryAttempts), retry.NewExponential(s.opts.RetryBackoff))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && errors.Is(err, apperrors.ErrTransientNetwork) {
			log.Printf("broker %s: transient error, retrying: %v", op, err)
			return retry.RetryableError(err)
		}
		return err
	})
}

// needsRelink reports whether the account's last failure can only be fixed by the user.
func needsRelink(a model.LinkedAccount) bool {
	if a.SyncStatus != model.SyncStatusFailed {
		return false
	}
	switch a.SyncErrorCode {
	case model.ErrorCodeAuthRejected, model.ErrorCodeCredentialsUnusable, model.ErrorCodeReauthRequired:
		return true
	}
	return false
}

func syncBusyOutcome(accountID string) model.SyncOutcome {
	return model.SyncOutcome{
		AccountID: accountID,
		Status:    model.SyncResultInProgress,
		Code:      model.ErrorCodeSyncInProgress,
		Message:   model.MessageFor(model.ErrorCodeSyncInProgress),
	}
}

func syncFailedOutcome(accountID string, code model.ErrorCode) model.SyncOutcome {
	return model.SyncOutcome{
		AccountID: accountID,
		Status:    model.SyncResultFailed,
		Code:      code,
		Message:   model.MessageFor(code),
	}
}
