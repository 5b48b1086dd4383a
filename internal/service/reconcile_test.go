package service_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/testutil"
)

// TestParsePositions tests conversion of the broker's position snapshot.
//
// WHY: The broker's data is untrusted input. A single malformed position must
// reject the whole snapshot rather than produce a partial portfolio.
func TestParsePositions(t *testing.T) {
	now := time.Now().UTC()

	t.Run("normalizes symbols and asset classes", func(t *testing.T) {
		p := testutil.EquityPosition(" aapl ", "10", "150", "175")
		p.AssetClass = "Stock"

		holdings, err := service.ParsePositions("acc", []broker.Position{p}, now)
		if err != nil {
			t.Fatalf("ParsePositions() returned unexpected error: %v", err)
		}
		if len(holdings) != 1 {
			t.Fatalf("Expected 1 holding, got %d", len(holdings))
		}
		h := holdings[0]
		if h.Symbol != "AAPL" || h.AssetClass != model.AssetClassEquity {
			t.Errorf("Expected AAPL equity, got %s %s", h.Symbol, h.AssetClass)
		}
		if !h.IsActive || h.AccountID != "acc" {
			t.Errorf("Expected active holding of acc, got active=%v account=%s", h.IsActive, h.AccountID)
		}
	})

	t.Run("skips zero quantity", func(t *testing.T) {
		holdings, err := service.ParsePositions("acc", []broker.Position{
			testutil.EquityPosition("AAPL", "0", "150", "175"),
			testutil.EquityPosition("MSFT", "1", "300", "310"),
		}, now)
		if err != nil {
			t.Fatalf("ParsePositions() returned unexpected error: %v", err)
		}
		if len(holdings) != 1 || holdings[0].Symbol != "MSFT" {
			t.Errorf("Expected only MSFT, got %+v", holdings)
		}
	})

	t.Run("parses option contracts", func(t *testing.T) {
		p := testutil.OptionPosition("aapl", "c-1", "CALL", "180", "2025-01-17", "-2", "3.50", "4.25")

		holdings, err := service.ParsePositions("acc", []broker.Position{p}, now)
		if err != nil {
			t.Fatalf("ParsePositions() returned unexpected error: %v", err)
		}
		h := holdings[0]
		if h.ContractID != "c-1" || h.OptionType != "call" {
			t.Errorf("Expected call contract c-1, got %s %s", h.OptionType, h.ContractID)
		}
		if h.StrikePrice == nil || !h.StrikePrice.Equal(testutil.D("180")) {
			t.Errorf("Expected strike 180, got %v", h.StrikePrice)
		}
		if h.ExpirationDate == nil || h.ExpirationDate.Format("2006-01-02") != "2025-01-17" {
			t.Errorf("Expected expiration 2025-01-17, got %v", h.ExpirationDate)
		}
		if !h.Quantity.Equal(testutil.D("-2")) {
			t.Errorf("Expected short quantity -2, got %s", h.Quantity)
		}
	})

	invalid := []struct {
		name   string
		mutate func(p *broker.Position)
	}{
		{"missing symbol", func(p *broker.Position) { p.Symbol = " " }},
		{"unknown asset class", func(p *broker.Position) { p.AssetClass = "bond" }},
		{"negative price", func(p *broker.Position) { p.CurrentPrice = testutil.D("-1") }},
		{"negative equity quantity", func(p *broker.Position) { p.Quantity = testutil.D("-5") }},
		{"option without contract", func(p *broker.Position) { p.AssetClass = "option" }},
	}
	for _, tc := range invalid {
		t.Run("rejects "+tc.name, func(t *testing.T) {
			p := testutil.EquityPosition("AAPL", "1", "100", "100")
			tc.mutate(&p)

			_, err := service.ParsePositions("acc", []broker.Position{p}, now)
			if !errors.Is(err, apperrors.ErrInvalidPosition) {
				t.Errorf("Expected ErrInvalidPosition, got %v", err)
			}
		})
	}

	t.Run("rejects a malformed option", func(t *testing.T) {
		cases := map[string]broker.Position{
			"bad type":       testutil.OptionPosition("AAPL", "c-1", "straddle", "180", "2025-01-17", "1", "1", "1"),
			"no strike":      testutil.OptionPosition("AAPL", "c-1", "put", "0", "2025-01-17", "1", "1", "1"),
			"bad expiration": testutil.OptionPosition("AAPL", "c-1", "put", "180", "17/01/2025", "1", "1", "1"),
		}
		for name, p := range cases {
			if _, err := service.ParsePositions("acc", []broker.Position{p}, now); !errors.Is(err, apperrors.ErrInvalidPosition) {
				t.Errorf("%s: expected ErrInvalidPosition, got %v", name, err)
			}
		}
	})

	t.Run("rejects duplicate positions", func(t *testing.T) {
		_, err := service.ParsePositions("acc", []broker.Position{
			testutil.EquityPosition("AAPL", "1", "100", "100"),
			testutil.EquityPosition("aapl", "2", "100", "100"),
		}, now)
		if !errors.Is(err, apperrors.ErrInvalidPosition) {
			t.Errorf("Expected ErrInvalidPosition, got %v", err)
		}
	})
}

func TestParseTransactions(t *testing.T) {
	now := time.Now().UTC()
	executed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.FixedZone("EST", -5*3600))

	t.Run("normalizes fields", func(t *testing.T) {
		tx := testutil.FilledOrder("ord-1", "aapl", "BUY", "1", "100", executed)

		out, err := service.ParseTransactions("acc", []broker.Transaction{tx}, now)
		if err != nil {
			t.Fatalf("ParseTransactions() returned unexpected error: %v", err)
		}
		got := out[0]
		if got.ExternalID != "ord-1" || got.Symbol != "AAPL" || got.Side != "buy" {
			t.Errorf("Expected ord-1 AAPL buy, got %s %s %s", got.ExternalID, got.Symbol, got.Side)
		}
		if got.ExecutedAt.Location() != time.UTC || !got.ExecutedAt.Equal(executed) {
			t.Errorf("Expected %s in UTC, got %s", executed, got.ExecutedAt)
		}
	})

	t.Run("rejects missing id or time", func(t *testing.T) {
		noID := testutil.FilledOrder("", "AAPL", "buy", "1", "100", executed)
		noTime := testutil.FilledOrder("ord-2", "AAPL", "buy", "1", "100", time.Time{})

		for name, tx := range map[string]broker.Transaction{"id": noID, "time": noTime} {
			if _, err := service.ParseTransactions("acc", []broker.Transaction{tx}, now); !errors.Is(err, apperrors.ErrProtocolMismatch) {
				t.Errorf("missing %s: expected ErrProtocolMismatch, got %v", name, err)
			}
		}
	})
}

// TestDiffHoldings tests the reconciliation plan.
//
// WHY: The diff decides every write a sync makes. Keys must stay stable across
// syncs so a position keeps its row through sells and buy-backs.
func TestDiffHoldings(t *testing.T) {
	stored := func(symbol, qty string, active bool) model.Holding {
		h := model.Holding{
			ID:           testutil.MakeID(),
			Symbol:       symbol,
			AssetClass:   model.AssetClassEquity,
			Quantity:     testutil.D(qty),
			AverageCost:  testutil.D("100"),
			CurrentPrice: testutil.D("100"),
			IsActive:     active,
		}
		return h
	}
	fetched := func(symbol, qty string) model.Holding {
		return model.Holding{
			Symbol:       symbol,
			AssetClass:   model.AssetClassEquity,
			Quantity:     testutil.D(qty),
			AverageCost:  testutil.D("100"),
			CurrentPrice: testutil.D("100"),
			IsActive:     true,
		}
	}

	t.Run("inserts, updates, closes and leaves unchanged", func(t *testing.T) {
		aapl := stored("AAPL", "10", true)
		msft := stored("MSFT", "5", true)
		tsla := stored("TSLA", "3", true)

		diff := service.DiffHoldings(
			[]model.Holding{aapl, msft, tsla},
			[]model.Holding{fetched("AAPL", "10"), fetched("MSFT", "6"), fetched("NVDA", "1")},
		)

		if diff.Unchanged != 1 {
			t.Errorf("Expected 1 unchanged, got %d", diff.Unchanged)
		}
		if len(diff.Update) != 1 || diff.Update[0].ID != msft.ID {
			t.Errorf("Expected MSFT updated in place, got %+v", diff.Update)
		}
		if len(diff.Insert) != 1 || diff.Insert[0].Symbol != "NVDA" || diff.Insert[0].ID == "" {
			t.Errorf("Expected NVDA inserted with a new ID, got %+v", diff.Insert)
		}
		if len(diff.Close) != 1 || diff.Close[0].ID != tsla.ID {
			t.Errorf("Expected TSLA closed, got %+v", diff.Close)
		}
	})

	t.Run("reopens a closed key instead of inserting", func(t *testing.T) {
		closed := stored("TSLA", "0", false)

		diff := service.DiffHoldings([]model.Holding{closed}, []model.Holding{fetched("TSLA", "2")})

		if len(diff.Insert) != 0 {
			t.Errorf("Expected no inserts, got %d", len(diff.Insert))
		}
		if len(diff.Update) != 1 || diff.Update[0].ID != closed.ID || !diff.Update[0].IsActive {
			t.Errorf("Expected TSLA reopened under ID %s, got %+v", closed.ID, diff.Update)
		}
	})

	t.Run("does not close what is already closed", func(t *testing.T) {
		diff := service.DiffHoldings([]model.Holding{stored("GME", "0", false)}, nil)

		if len(diff.Close) != 0 {
			t.Errorf("Expected nothing to close, got %d", len(diff.Close))
		}
	})

	t.Run("option contracts are distinct keys", func(t *testing.T) {
		call := stored("AAPL", "1", true)
		call.AssetClass = model.AssetClassOption
		call.ContractID = "c-1"

		next := fetched("AAPL", "1")
		next.AssetClass = model.AssetClassOption
		next.ContractID = "c-2"

		diff := service.DiffHoldings([]model.Holding{call}, []model.Holding{next})

		if len(diff.Insert) != 1 || len(diff.Close) != 1 {
			t.Errorf("Expected one insert and one close, got %d and %d", len(diff.Insert), len(diff.Close))
		}
	})
}
