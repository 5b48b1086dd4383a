package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetClass is the instrument category of a holding.
type AssetClass string

const (
	AssetClassEquity AssetClass = "equity"
	AssetClassOption AssetClass = "option"
	AssetClassCrypto AssetClass = "crypto"
)

// Valid reports whether c is a known asset class.
func (c AssetClass) Valid() bool {
	switch c {
	case AssetClassEquity, AssetClassOption, AssetClassCrypto:
		return true
	}
	return false
}

// HoldingKey identifies a position within an account. ContractID is empty
// for everything but options.
type HoldingKey struct {
	Symbol     string
	AssetClass AssetClass
	ContractID string
}

// Holding is a reconciled position. Market value, cost basis and P/L are
// derived from quantity and prices on read.
type Holding struct {
	ID             string           `json:"id"`
	AccountID      string           `json:"accountId"`
	Symbol         string           `json:"symbol"`
	AssetClass     AssetClass       `json:"assetClass"`
	ContractID     string           `json:"contractId,omitempty"`
	Name           string           `json:"name,omitempty"`
	Quantity       decimal.Decimal  `json:"quantity"`
	AverageCost    decimal.Decimal  `json:"averageCost"`
	CurrentPrice   decimal.Decimal  `json:"currentPrice"`
	PreviousClose  decimal.Decimal  `json:"previousClose"`
	OptionType     string           `json:"optionType,omitempty"`
	StrikePrice    *decimal.Decimal `json:"strikePrice,omitempty"`
	ExpirationDate *time.Time       `json:"expirationDate,omitempty"`
	IsActive       bool             `json:"isActive"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
	ClosedAt       *time.Time       `json:"closedAt,omitempty"`
}

// Key returns the identity used for reconciliation.
func (h Holding) Key() HoldingKey {
	return HoldingKey{Symbol: h.Symbol, AssetClass: h.AssetClass, ContractID: h.ContractID}
}

// Multiplier is the contract size: 100 shares per option contract, 1 otherwise.
func (h Holding) Multiplier() decimal.Decimal {
	if h.AssetClass == AssetClassOption {
		return decimal.NewFromInt(100)
	}
	return decimal.NewFromInt(1)
}

// MarketValue is quantity times current price.
func (h Holding) MarketValue() decimal.Decimal {
	return h.Quantity.Mul(h.CurrentPrice).Mul(h.Multiplier())
}

// CostBasis is quantity times average cost.
func (h Holding) CostBasis() decimal.Decimal {
	return h.Quantity.Mul(h.AverageCost).Mul(h.Multiplier())
}

// UnrealizedPL is market value minus cost basis.
func (h Holding) UnrealizedPL() decimal.Decimal {
	return h.MarketValue().Sub(h.CostBasis())
}

// UnrealizedPLPercent is the unrealized P/L relative to cost basis, 0 when there is no cost.
func (h Holding) UnrealizedPLPercent() decimal.Decimal {
	cost := h.CostBasis()
	if cost.IsZero() {
		return decimal.Zero
	}
	return h.UnrealizedPL().Div(cost).Mul(decimal.NewFromInt(100))
}

// DayChange is today's value change against the previous close. Zero when no close is known.
func (h Holding) DayChange() decimal.Decimal {
	if h.PreviousClose.IsZero() {
		return decimal.Zero
	}
	return h.Quantity.Mul(h.CurrentPrice.Sub(h.PreviousClose)).Mul(h.Multiplier())
}

// SameValues reports whether the broker-owned fields of h and other are equal.
func (h Holding) SameValues(other Holding) bool {
	return h.IsActive == other.IsActive &&
		h.Name == other.Name &&
		h.Quantity.Equal(other.Quantity) &&
		h.AverageCost.Equal(other.AverageCost) &&
		h.CurrentPrice.Equal(other.CurrentPrice) &&
		h.PreviousClose.Equal(other.PreviousClose)
}

// HoldingView is a holding with its derived figures, as served to clients.
type HoldingView struct {
	Holding
	MarketValue         decimal.Decimal `json:"marketValue"`
	CostBasis           decimal.Decimal `json:"costBasis"`
	UnrealizedPL        decimal.Decimal `json:"unrealizedPl"`
	UnrealizedPLPercent decimal.Decimal `json:"unrealizedPlPercent"`
}

// View computes the derived figures, rounded to cents.
func (h Holding) View() HoldingView {
	return HoldingView{
		Holding:             h,
		MarketValue:         h.MarketValue().Round(2),
		CostBasis:           h.CostBasis().Round(2),
		UnrealizedPL:        h.UnrealizedPL().Round(2),
		UnrealizedPLPercent: h.UnrealizedPLPercent().Round(2),
	}
}
