package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotType records what produced a portfolio snapshot.
type SnapshotType string

const (
	SnapshotSync   SnapshotType = "sync"
	SnapshotDaily  SnapshotType = "daily"
	SnapshotManual SnapshotType = "manual"
)

// PortfolioSnapshot is a point-in-time valuation of one account.
type PortfolioSnapshot struct {
	ID           string          `json:"id"`
	AccountID    string          `json:"accountId"`
	SnapshotType SnapshotType    `json:"snapshotType"`
	TotalValue   decimal.Decimal `json:"totalValue"`
	Cash         decimal.Decimal `json:"cash"`
	EquityValue  decimal.Decimal `json:"equityValue"`
	TakenAt      time.Time       `json:"takenAt"`
}
