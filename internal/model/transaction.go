package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// BrokerTransaction is an executed order imported from the broker's history.
type BrokerTransaction struct {
	ID         string          `json:"id"`
	AccountID  string          `json:"accountId"`
	ExternalID string          `json:"externalId"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	State      string          `json:"state"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"price"`
	Fees       decimal.Decimal `json:"fees"`
	ExecutedAt time.Time       `json:"executedAt"`
	CreatedAt  time.Time       `json:"createdAt"`
}

// Amount is quantity times price.
func (t BrokerTransaction) Amount() decimal.Decimal {
	return t.Quantity.Mul(t.Price)
}
