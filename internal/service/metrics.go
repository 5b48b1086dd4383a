package service

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// moverLimit is how many holdings each top movers list carries.
const moverLimit = 3

var (
	hundred = decimal.NewFromInt(100)
	// leverageCap is reported when the whole portfolio is funded by margin.
	leverageCap = decimal.RequireFromString("999.9")
)

// PortfolioTotals are the sums every dashboard figure is derived from.
type PortfolioTotals struct {
	EquityValue decimal.Decimal
	Cash        decimal.Decimal
	TotalValue  decimal.Decimal
}

// CalculateTotals sums the market value of active holdings and adds cash.
func CalculateTotals(holdings []model.Holding, cash decimal.Decimal) PortfolioTotals {
	equity := decimal.Zero
	for _, h := range holdings {
		if !h.IsActive {
			continue
		}
		equity = equity.Add(h.MarketValue())
	}
	return PortfolioTotals{
		EquityValue: equity,
		Cash:        cash,
		TotalValue:  equity.Add(cash),
	}
}

// CalculateLeverage splits the portfolio into cash- and margin-funded parts.
//
// Margin invested is the used part of the margin limit. Leverage is the total
// value relative to the cash-funded part, so 100 means no leverage. Cash
// accounts and accounts without a margin limit always report 100.
func CalculateLeverage(accountType model.AccountType, balance model.AccountBalance, total decimal.Decimal) model.LeverageMetrics {
	if accountType == model.AccountTypeCash || !balance.MarginLimit.IsPositive() {
		pct := hundred
		return model.LeverageMetrics{
			MarginInvested: decimal.Zero,
			CashInvested:   total.Round(2),
			LeveragePct:    pct,
			Message:        LeverageMessage(pct),
		}
	}

	marginInvested := balance.MarginLimit.Sub(balance.UnallocatedMarginCash)
	if marginInvested.IsNegative() {
		marginInvested = decimal.Zero
	}
	cashInvested := total.Sub(marginInvested)
	if cashInvested.IsNegative() {
		cashInvested = decimal.Zero
	}

	pct := leverageCap
	if cashInvested.IsPositive() {
		pct = total.Div(cashInvested).Mul(hundred).Round(1)
	}

	return model.LeverageMetrics{
		MarginInvested: marginInvested.Round(2),
		CashInvested:   cashInvested.Round(2),
		LeveragePct:    pct,
		Message:        LeverageMessage(pct),
	}
}

// LeverageMessage describes a leverage percentage in words.
func LeverageMessage(pct decimal.Decimal) string {
	switch {
	case pct.LessThanOrEqual(hundred):
		return "No leverage - cash account"
	case pct.LessThanOrEqual(decimal.NewFromInt(150)):
		return "Moderate leverage"
	case pct.LessThanOrEqual(decimal.NewFromInt(200)):
		return "High leverage"
	default:
		return "Very high leverage - increased risk"
	}
}

// CalculateTodayPL compares the current total against its value at the
// previous close. Holdings without a known close count at their current value.
func CalculateTodayPL(holdings []model.Holding, totals PortfolioTotals) model.PLMetrics {
	previous := totals.Cash
	for _, h := range holdings {
		if !h.IsActive {
			continue
		}
		if h.PreviousClose.IsPositive() {
			previous = previous.Add(h.Quantity.Mul(h.PreviousClose).Mul(h.Multiplier()))
		} else {
			previous = previous.Add(h.MarketValue())
		}
	}

	amount := totals.TotalValue.Sub(previous)
	return model.PLMetrics{
		Amount:  amount.Round(2),
		Percent: percentOf(amount, previous),
	}
}

// CalculateYTD compares the current total against the year's baseline snapshot.
// A nil baseline yields zero figures with HasBaseline unset.
func CalculateYTD(total decimal.Decimal, baseline *model.PortfolioSnapshot) model.YTDMetrics {
	if baseline == nil {
		return model.YTDMetrics{
			PLMetrics: model.PLMetrics{Amount: decimal.Zero, Percent: decimal.Zero},
		}
	}

	amount := total.Sub(baseline.TotalValue)
	takenAt := baseline.TakenAt
	return model.YTDMetrics{
		PLMetrics: model.PLMetrics{
			Amount:  amount.Round(2),
			Percent: percentOf(amount, baseline.TotalValue),
		},
		BaselineValue: baseline.TotalValue.Round(2),
		BaselineDate:  &takenAt,
		HasBaseline:   true,
	}
}

// CalculateAllocation returns each active holding's share of the total value,
// largest first.
func CalculateAllocation(holdings []model.Holding, total decimal.Decimal) []model.HoldingAllocation {
	allocation := make([]model.HoldingAllocation, 0, len(holdings))
	for _, h := range holdings {
		if !h.IsActive {
			continue
		}
		mv := h.MarketValue()
		allocation = append(allocation, model.HoldingAllocation{
			Symbol:      h.Symbol,
			AssetClass:  h.AssetClass,
			MarketValue: mv.Round(2),
			Percent:     percentOf(mv, total),
		})
	}

	slices.SortStableFunc(allocation, func(a, b model.HoldingAllocation) int {
		if c := b.MarketValue.Cmp(a.MarketValue); c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})
	return allocation
}

// CalculateAssetClassTotals sums market value per asset class.
func CalculateAssetClassTotals(holdings []model.Holding) map[model.AssetClass]decimal.Decimal {
	totals := make(map[model.AssetClass]decimal.Decimal)
	for _, h := range holdings {
		if !h.IsActive {
			continue
		}
		totals[h.AssetClass] = totals[h.AssetClass].Add(h.MarketValue())
	}
	for class, v := range totals {
		totals[class] = v.Round(2)
	}
	return totals
}

// CalculateTopMovers ranks active holdings by today's change. Holdings without
// a previous close or price are left out.
func CalculateTopMovers(holdings []model.Holding) model.TopMovers {
	movers := make([]model.Mover, 0, len(holdings))
	for _, h := range holdings {
		if !h.IsActive || !h.PreviousClose.IsPositive() || !h.CurrentPrice.IsPositive() {
			continue
		}
		change := h.CurrentPrice.Sub(h.PreviousClose)
		movers = append(movers, model.Mover{
			Symbol:    h.Symbol,
			PLAmount:  h.DayChange().Round(2),
			PLPercent: change.Div(h.PreviousClose).Mul(hundred).Round(2),
		})
	}

	byPercent := func(m model.Mover) decimal.Decimal { return m.PLPercent }
	byAmount := func(m model.Mover) decimal.Decimal { return m.PLAmount }

	return model.TopMovers{
		GainersByPercent: rankMovers(movers, byPercent, true),
		LosersByPercent:  rankMovers(movers, byPercent, false),
		GainersByAmount:  rankMovers(movers, byAmount, true),
		LosersByAmount:   rankMovers(movers, byAmount, false),
	}
}

func rankMovers(movers []model.Mover, key func(model.Mover) decimal.Decimal, gainers bool) []model.Mover {
	ranked := make([]model.Mover, 0, len(movers))
	for _, m := range movers {
		v := key(m)
		if (gainers && v.IsPositive()) || (!gainers && v.IsNegative()) {
			ranked = append(ranked, m)
		}
	}

	slices.SortStableFunc(ranked, func(a, b model.Mover) int {
		c := key(a).Cmp(key(b))
		if gainers {
			c = -c
		}
		if c != 0 {
			return c
		}
		return strings.Compare(a.Symbol, b.Symbol)
	})

	if len(ranked) > moverLimit {
		ranked = ranked[:moverLimit]
	}
	return ranked
}

// BuildDashboard assembles every derived figure for one account.
func BuildDashboard(
	account model.LinkedAccount,
	holdings []model.Holding,
	balance model.AccountBalance,
	baseline *model.PortfolioSnapshot,
	now time.Time,
) model.Dashboard {
	active := make([]model.Holding, 0, len(holdings))
	for _, h := range holdings {
		if h.IsActive {
			active = append(active, h)
		}
	}

	totals := CalculateTotals(active, balance.Cash)
	allocation := CalculateAllocation(active, totals.TotalValue)

	var top *model.HoldingAllocation
	if len(allocation) > 0 {
		first := allocation[0]
		top = &first
	}

	return model.Dashboard{
		AccountID:     account.ID,
		AccountType:   account.AccountType,
		TotalValue:    totals.TotalValue.Round(2),
		EquityValue:   totals.EquityValue.Round(2),
		Cash:          totals.Cash.Round(2),
		Leverage:      CalculateLeverage(account.AccountType, balance, totals.TotalValue),
		Today:         CalculateTodayPL(active, totals),
		YearToDate:    CalculateYTD(totals.TotalValue, baseline),
		TopHolding:    top,
		Movers:        CalculateTopMovers(active),
		Allocation:    allocation,
		ByAssetClass:  CalculateAssetClassTotals(active),
		HoldingsCount: len(active),
		LastSyncAt:    account.LastSyncAt,
		GeneratedAt:   now,
	}
}

// percentOf returns part/whole*100 rounded to 2 places, 0 when whole is not positive.
func percentOf(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(2)
}
