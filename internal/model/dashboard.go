package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dashboard is the derived view of one account, computed from its current
// holdings, balance and snapshot baselines. Nothing in it is stored.
type Dashboard struct {
	AccountID     string                         `json:"accountId"`
	AccountType   AccountType                    `json:"accountType"`
	TotalValue    decimal.Decimal                `json:"totalValue"`
	EquityValue   decimal.Decimal                `json:"equityValue"`
	Cash          decimal.Decimal                `json:"cash"`
	Leverage      LeverageMetrics                `json:"leverage"`
	Today         PLMetrics                      `json:"today"`
	YearToDate    YTDMetrics                     `json:"yearToDate"`
	TopHolding    *HoldingAllocation             `json:"topHolding,omitempty"`
	Movers        TopMovers                      `json:"movers"`
	Allocation    []HoldingAllocation            `json:"allocation"`
	ByAssetClass  map[AssetClass]decimal.Decimal `json:"byAssetClass"`
	HoldingsCount int                            `json:"holdingsCount"`
	LastSyncAt    *time.Time                     `json:"lastSyncAt"`
	GeneratedAt   time.Time                      `json:"generatedAt"`
}

// LeverageMetrics describes how much of the portfolio is funded by margin.
type LeverageMetrics struct {
	MarginInvested decimal.Decimal `json:"marginInvested"`
	CashInvested   decimal.Decimal `json:"cashInvested"`
	LeveragePct    decimal.Decimal `json:"leveragePct"`
	Message        string          `json:"message"`
}

// PLMetrics is a profit/loss figure against some reference value.
type PLMetrics struct {
	Amount  decimal.Decimal `json:"amount"`
	Percent decimal.Decimal `json:"percent"`
}

// YTDMetrics is profit/loss since the first snapshot of the year.
type YTDMetrics struct {
	PLMetrics
	BaselineValue decimal.Decimal `json:"baselineValue"`
	BaselineDate  *time.Time      `json:"baselineDate,omitempty"`
	HasBaseline   bool            `json:"hasBaseline"`
}

// HoldingAllocation is one holding's share of the portfolio.
type HoldingAllocation struct {
	Symbol      string          `json:"symbol"`
	AssetClass  AssetClass      `json:"assetClass"`
	MarketValue decimal.Decimal `json:"marketValue"`
	Percent     decimal.Decimal `json:"percent"`
}

// Mover is a holding ranked by unrealized performance.
type Mover struct {
	Symbol    string          `json:"symbol"`
	PLAmount  decimal.Decimal `json:"plAmount"`
	PLPercent decimal.Decimal `json:"plPercent"`
}

// TopMovers lists the best and worst holdings by percent and by amount.
type TopMovers struct {
	GainersByPercent []Mover `json:"gainersByPercent"`
	LosersByPercent  []Mover `json:"losersByPercent"`
	GainersByAmount  []Mover `json:"gainersByAmount"`
	LosersByAmount   []Mover `json:"losersByAmount"`
}
