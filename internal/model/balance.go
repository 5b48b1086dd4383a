package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountBalance holds the cash and margin figures from the latest sync.
type AccountBalance struct {
	AccountID             string          `json:"accountId"`
	Cash                  decimal.Decimal `json:"cash"`
	BuyingPower           decimal.Decimal `json:"buyingPower"`
	MarginLimit           decimal.Decimal `json:"marginLimit"`
	UnallocatedMarginCash decimal.Decimal `json:"unallocatedMarginCash"`
	OutstandingInterest   decimal.Decimal `json:"outstandingInterest"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}
