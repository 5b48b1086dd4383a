package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/cache"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
)

// DashboardService builds the derived dashboard of an account and caches it
// until the account's data changes.
type DashboardService struct {
	accounts     *AccountService
	holdingRepo  *repository.HoldingRepository
	balanceRepo  *repository.BalanceRepository
	snapshotRepo *repository.SnapshotRepository
	cache        *cache.Cache
	now          func() time.Time
}

// NewDashboardService creates a new DashboardService. c may be nil, which disables caching.
func NewDashboardService(
	accounts *AccountService,
	holdingRepo *repository.HoldingRepository,
	balanceRepo *repository.BalanceRepository,
	snapshotRepo *repository.SnapshotRepository,
	c *cache.Cache,
) *DashboardService {
	return &DashboardService{
		accounts:     accounts,
		holdingRepo:  holdingRepo,
		balanceRepo:  balanceRepo,
		snapshotRepo: snapshotRepo,
		cache:        c,
		now:          time.Now,
	}
}

// Invalidate drops the cached dashboard of an account.
func (s *DashboardService) Invalidate(accountID string) {
	if s.cache != nil {
		s.cache.Del(accountID)
	}
}

// GetDashboard returns the dashboard of an account owned by userID.
func (s *DashboardService) GetDashboard(ctx context.Context, userID, accountID string) (model.Dashboard, error) {
	account, err := s.accounts.GetAccount(ctx, userID, accountID)
	if err != nil {
		return model.Dashboard{}, err
	}

	if s.cache != nil {
		if v, ok := s.cache.Get(accountID); ok {
			if d, ok := v.(model.Dashboard); ok {
				return d, nil
			}
		}
	}

	holdings, err := s.holdingRepo.GetHoldings(ctx, accountID, false)
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("%w: %w", apperrors.ErrFailedToBuildDashboard, err)
	}

	balance, err := s.balanceRepo.GetBalance(ctx, accountID)
	if errors.Is(err, apperrors.ErrBalanceNotFound) {
		balance = model.AccountBalance{AccountID: accountID}
	} else if err != nil {
		return model.Dashboard{}, fmt.Errorf("%w: %w", apperrors.ErrFailedToBuildDashboard, err)
	}

	now := s.now().UTC()
	baseline, err := s.ytdBaseline(ctx, accountID, now)
	if err != nil {
		return model.Dashboard{}, fmt.Errorf("%w: %w", apperrors.ErrFailedToBuildDashboard, err)
	}

	d := BuildDashboard(account, holdings, balance, baseline, now)
	if s.cache != nil {
		s.cache.Set(accountID, d)
	}
	return d, nil
}

// ytdBaseline picks the value the year started from: the last snapshot taken
// on January 1st, else the first snapshot of the year.
func (s *DashboardService) ytdBaseline(ctx context.Context, accountID string, now time.Time) (*model.PortfolioSnapshot, error) {
	yearStart := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)

	snap, err := s.snapshotRepo.GetLatestBetween(ctx, accountID, yearStart, yearStart.AddDate(0, 0, 1))
	if err == nil {
		return &snap, nil
	}
	if !errors.Is(err, apperrors.ErrSnapshotNotFound) {
		return nil, err
	}

	snap, err = s.snapshotRepo.GetEarliestSince(ctx, accountID, yearStart)
	if errors.Is(err, apperrors.ErrSnapshotNotFound) {
		log.Printf("No snapshot this year for account %s, YTD figures unavailable", accountID)
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &snap, nil
}
