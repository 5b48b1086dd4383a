package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
)

// assetClassAliases maps the broker's instrument names onto AssetClass.
var assetClassAliases = map[string]model.AssetClass{
	"equity":         model.AssetClassEquity,
	"stock":          model.AssetClassEquity,
	"etp":            model.AssetClassEquity,
	"option":         model.AssetClassOption,
	"options":        model.AssetClassOption,
	"crypto":         model.AssetClassCrypto,
	"cryptocurrency": model.AssetClassCrypto,
}

// ParsePositions converts a full positions snapshot into holdings. Positions
// with zero quantity are skipped. The first position that fails validation
// aborts the whole conversion, so nothing is written for a broken snapshot.
func ParsePositions(accountID string, positions []broker.Position, now time.Time) ([]model.Holding, error) {
	holdings := make([]model.Holding, 0, len(positions))
	seen := make(map[model.HoldingKey]bool, len(positions))

	for i, p := range positions {
		if p.Quantity.IsZero() {
			continue
		}

		h, err := parsePosition(accountID, p, now)
		if err != nil {
			return nil, fmt.Errorf("%w: position %d of %d: %v", apperrors.ErrInvalidPosition, i+1, len(positions), err)
		}
		if seen[h.Key()] {
			return nil, fmt.Errorf("%w: position %d of %d: duplicate %s %s", apperrors.ErrInvalidPosition, i+1, len(positions), h.AssetClass, h.Symbol)
		}
		seen[h.Key()] = true
		holdings = append(holdings, h)
	}
	return holdings, nil
}

func parsePosition(accountID string, p broker.Position, now time.Time) (model.Holding, error) {
	symbol := strings.ToUpper(strings.TrimSpace(p.Symbol))
	if symbol == "" {
		return model.Holding{}, errors.New("missing symbol")
	}

	class, ok := assetClassAliases[strings.ToLower(strings.TrimSpace(p.AssetClass))]
	if !ok {
		return model.Holding{}, fmt.Errorf("%s: unknown asset class %q", symbol, p.AssetClass)
	}

	for name, v := range map[string]decimal.Decimal{
		"average cost":   p.AverageCost,
		"current price":  p.CurrentPrice,
		"previous close": p.PreviousClose,
	} {
		if v.IsNegative() {
			return model.Holding{}, fmt.Errorf("%s: negative %s", symbol, name)
		}
	}

	h := model.Holding{
		AccountID:     accountID,
		Symbol:        symbol,
		AssetClass:    class,
		Name:          strings.TrimSpace(p.Name),
		Quantity:      p.Quantity,
		AverageCost:   p.AverageCost,
		CurrentPrice:  p.CurrentPrice,
		PreviousClose: p.PreviousClose,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if class != model.AssetClassOption {
		if p.Quantity.IsNegative() {
			return model.Holding{}, fmt.Errorf("%s: negative quantity", symbol)
		}
		return h, nil
	}

	// Options are identified by their contract; short contracts carry a negative quantity.
	contractID := strings.TrimSpace(p.ContractID)
	if contractID == "" {
		return model.Holding{}, fmt.Errorf("%s: option without contract id", symbol)
	}
	optionType := strings.ToLower(strings.TrimSpace(p.OptionType))
	if optionType != "call" && optionType != "put" {
		return model.Holding{}, fmt.Errorf("%s: unknown option type %q", symbol, p.OptionType)
	}
	if !p.StrikePrice.IsPositive() {
		return model.Holding{}, fmt.Errorf("%s: option without strike price", symbol)
	}
	expiration, err := time.Parse("2006-01-02", strings.TrimSpace(p.ExpirationDate))
	if err != nil {
		return model.Holding{}, fmt.Errorf("%s: invalid expiration date %q", symbol, p.ExpirationDate)
	}

	strike := p.StrikePrice
	h.ContractID = contractID
	h.OptionType = optionType
	h.StrikePrice = &strike
	h.ExpirationDate = &expiration
	return h, nil
}

// ParseTransactions converts the broker's history into transactions.
func ParseTransactions(accountID string, txs []broker.Transaction, now time.Time) ([]model.BrokerTransaction, error) {
	out := make([]model.BrokerTransaction, 0, len(txs))
	for i, t := range txs {
		if strings.TrimSpace(t.ID) == "" {
			return nil, fmt.Errorf("%w: transaction %d of %d: missing id", apperrors.ErrProtocolMismatch, i+1, len(txs))
		}
		if t.ExecutedAt.IsZero() {
			return nil, fmt.Errorf("%w: transaction %s: missing execution time", apperrors.ErrProtocolMismatch, t.ID)
		}
		out = append(out, model.BrokerTransaction{
			ID:         uuid.New().String(),
			AccountID:  accountID,
			ExternalID: t.ID,
			Symbol:     strings.ToUpper(strings.TrimSpace(t.Symbol)),
			Side:       strings.ToLower(t.Side),
			State:      strings.ToLower(t.State),
			Quantity:   t.Quantity,
			Price:      t.Price,
			Fees:       t.Fees,
			ExecutedAt: t.ExecutedAt.UTC(),
			CreatedAt:  now,
		})
	}
	return out, nil
}

// HoldingDiff is the set of writes that brings stored holdings in line with a fetched snapshot.
type HoldingDiff struct {
	Insert    []model.Holding
	Update    []model.Holding
	Close     []model.Holding
	Unchanged int
}

// DiffHoldings compares the fetched holdings with everything stored for the
// account, closed rows included. Keys seen before are updated in place, which
// reopens a closed position; stored active keys missing from the fetch are closed.
func DiffHoldings(stored, fetched []model.Holding) HoldingDiff {
	var diff HoldingDiff

	byKey := make(map[model.HoldingKey]model.Holding, len(stored))
	for _, h := range stored {
		byKey[h.Key()] = h
	}

	present := make(map[model.HoldingKey]bool, len(fetched))
	for _, h := range fetched {
		present[h.Key()] = true

		current, ok := byKey[h.Key()]
		if !ok {
			h.ID = uuid.New().String()
			diff.Insert = append(diff.Insert, h)
			continue
		}

		h.ID = current.ID
		h.CreatedAt = current.CreatedAt
		if current.SameValues(h) {
			diff.Unchanged++
			continue
		}
		diff.Update = append(diff.Update, h)
	}

	for _, h := range stored {
		if h.IsActive && !present[h.Key()] {
			diff.Close = append(diff.Close, h)
		}
	}
	return diff
}
