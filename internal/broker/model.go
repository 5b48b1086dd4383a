package broker

import (
	"time"

	"github.com/shopspring/decimal"
)

// Session is the broker-issued bearer token. It is only ever persisted encrypted.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Expired reports whether the session is missing or past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return s.AccessToken == "" || (!s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt))
}

// ChallengeType is the MFA modality the broker asked for.
type ChallengeType string

const (
	ChallengeSMS  ChallengeType = "sms"
	ChallengeApp  ChallengeType = "app"
	ChallengePush ChallengeType = "push"
)

// Valid reports whether t is a known modality.
func (t ChallengeType) Valid() bool {
	switch t {
	case ChallengeSMS, ChallengeApp, ChallengePush:
		return true
	}
	return false
}

// Challenge identifies a pending MFA step.
type Challenge struct {
	Type  ChallengeType `json:"type"`
	Token string        `json:"token"`
}

// LoginStatus is the adapter-normalized answer to a login or MFA verification.
type LoginStatus string

const (
	LoginOK          LoginStatus = "ok"
	LoginMFARequired LoginStatus = "mfa_required"
	LoginDenied      LoginStatus = "denied"
	LoginExpired     LoginStatus = "expired"
)

// LoginReply is what Client.Login and Client.VerifyMFA return on a decoded answer.
type LoginReply struct {
	Status    LoginStatus
	Session   Session
	Challenge Challenge
}

// PushState is the state of an in-app approval request.
type PushState string

const (
	PushPending  PushState = "pending"
	PushApproved PushState = "approved"
	PushDenied   PushState = "denied"
	PushExpired  PushState = "expired"
)

// PushReply is one answer from the push status endpoint.
type PushReply struct {
	State   PushState
	Session Session
}

// AccountProfile identifies the brokerage account behind a session.
type AccountProfile struct {
	AccountNumber string `json:"account_number"`
	Type          string `json:"type"`
	Gold          bool   `json:"is_gold"`
}

// Position is one row of the positions snapshot.
type Position struct {
	Symbol         string          `json:"symbol"`
	AssetClass     string          `json:"asset_class"`
	ContractID     string          `json:"contract_id"`
	Name           string          `json:"name"`
	Quantity       decimal.Decimal `json:"quantity"`
	AverageCost    decimal.Decimal `json:"average_buy_price"`
	CurrentPrice   decimal.Decimal `json:"last_trade_price"`
	PreviousClose  decimal.Decimal `json:"previous_close"`
	OptionType     string          `json:"option_type"`
	StrikePrice    decimal.Decimal `json:"strike_price"`
	ExpirationDate string          `json:"expiration_date"`
}

// Transaction is one executed order from the history endpoint.
type Transaction struct {
	ID         string          `json:"id"`
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"`
	State      string          `json:"state"`
	Quantity   decimal.Decimal `json:"quantity"`
	Price      decimal.Decimal `json:"average_price"`
	Fees       decimal.Decimal `json:"fees"`
	ExecutedAt time.Time       `json:"executed_at"`
}

// Balances are the account-level cash and margin figures.
type Balances struct {
	Cash                  decimal.Decimal `json:"cash"`
	BuyingPower           decimal.Decimal `json:"buying_power"`
	MarginLimit           decimal.Decimal `json:"margin_limit"`
	UnallocatedMarginCash decimal.Decimal `json:"unallocated_margin_cash"`
	OutstandingInterest   decimal.Decimal `json:"outstanding_interest"`
}
