package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
)

// Operation names used by MockBrokerClient for call counting and queued errors.
const (
	OpLogin          = "login"
	OpVerifyMFA      = "verify_mfa"
	OpPushStatus     = "push_status"
	OpAccountProfile = "account_profile"
	OpPositions      = "positions"
	OpTransactions   = "transactions"
	OpBalances       = "balances"
)

// MockBrokerClient is a mock implementation of broker.Client for testing.
// It accepts one login, optionally asks for a second factor, and serves a
// configurable portfolio. It is safe for concurrent use.
type MockBrokerClient struct {
	mu sync.Mutex

	username string
	password string

	challengeType broker.ChallengeType
	validCode     string
	pushStates    []broker.PushState

	profile      broker.AccountProfile
	positions    []broker.Position
	transactions []broker.Transaction
	balances     broker.Balances
	sessionTTL   time.Duration

	errs          map[string][]error
	refused       map[string]bool
	delay         time.Duration
	gate          chan struct{}
	gateStarted   chan struct{}
	calls         map[string]int
	issued        int
	lastSession   broker.Session
	challengeSeen int
}

// NewMockBrokerClient creates a mock that accepts TestUsername/TestPassword
// without MFA and serves an empty cash account.
func NewMockBrokerClient() *MockBrokerClient {
	return &MockBrokerClient{
		username:   TestUsername,
		password:   TestPassword,
		profile:    broker.AccountProfile{AccountNumber: MakeAccountNumber(), Type: "cash"},
		balances:   broker.Balances{Cash: decimal.NewFromInt(1000), BuyingPower: decimal.NewFromInt(1000)},
		sessionTTL: time.Hour,
		errs:       make(map[string][]error),
		refused:    make(map[string]bool),
		calls:      make(map[string]int),
	}
}

// WithLogin sets the credentials the mock accepts.
func (m *MockBrokerClient) WithLogin(username, password string) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.username, m.password = username, password
	return m
}

// WithSMSChallenge makes every login ask for an sms code.
func (m *MockBrokerClient) WithSMSChallenge(validCode string) *MockBrokerClient {
	return m.withCodeChallenge(broker.ChallengeSMS, validCode)
}

// WithAppChallenge makes every login ask for an authenticator app code.
func (m *MockBrokerClient) WithAppChallenge(validCode string) *MockBrokerClient {
	return m.withCodeChallenge(broker.ChallengeApp, validCode)
}

func (m *MockBrokerClient) withCodeChallenge(t broker.ChallengeType, validCode string) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengeType, m.validCode = t, validCode
	return m
}

// WithPushChallenge makes every login ask for in-app approval. The push
// status endpoint answers with states in order and repeats the last one;
// with no states it stays pending forever.
func (m *MockBrokerClient) WithPushChallenge(states ...broker.PushState) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.challengeType = broker.ChallengePush
	m.pushStates = states
	return m
}

// WithProfile sets the account the session belongs to.
func (m *MockBrokerClient) WithProfile(accountNumber, accountType string, gold bool) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profile = broker.AccountProfile{AccountNumber: accountNumber, Type: accountType, Gold: gold}
	return m
}

// WithPositions replaces the positions snapshot.
func (m *MockBrokerClient) WithPositions(positions ...broker.Position) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = positions
	return m
}

// WithTransactions replaces the transaction history.
func (m *MockBrokerClient) WithTransactions(transactions ...broker.Transaction) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions = transactions
	return m
}

// WithBalances replaces the balances.
func (m *MockBrokerClient) WithBalances(balances broker.Balances) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances = balances
	return m
}

// WithSessionTTL sets how long issued sessions last. Zero issues sessions
// without an expiry.
func (m *MockBrokerClient) WithSessionTTL(ttl time.Duration) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionTTL = ttl
	return m
}

// WithErrors queues errors for an operation. Each call pops one; once the
// queue is empty the operation behaves normally again.
func (m *MockBrokerClient) WithErrors(op string, errs ...error) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[op] = append(m.errs[op], errs...)
	return m
}

// WithDelay makes every data call wait d before answering.
func (m *MockBrokerClient) WithDelay(d time.Duration) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// RefuseSession makes data calls with the given access token fail as unauthorized.
func (m *MockBrokerClient) RefuseSession(accessToken string) *MockBrokerClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refused[accessToken] = true
	return m
}

// BlockPositions makes Positions wait until release is called. started is
// closed when the first blocked call arrives.
func (m *MockBrokerClient) BlockPositions() (started <-chan struct{}, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gate = make(chan struct{})
	m.gateStarted = make(chan struct{})
	gate := m.gate
	var once sync.Once
	return m.gateStarted, func() { once.Do(func() { close(gate) }) }
}

// Calls returns how many times op was called.
func (m *MockBrokerClient) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// SessionsIssued returns how many sessions the mock handed out.
func (m *MockBrokerClient) SessionsIssued() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.issued
}

// LastSession returns the most recently issued session.
func (m *MockBrokerClient) LastSession() broker.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSession
}

// Login mocks the credential step.
func (m *MockBrokerClient) Login(_ context.Context, username, password string) (broker.LoginReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(OpLogin); err != nil {
		return broker.LoginReply{}, err
	}
	if username != m.username || password != m.password {
		return broker.LoginReply{Status: broker.LoginDenied}, nil
	}
	if m.challengeType != "" {
		m.challengeSeen++
		return broker.LoginReply{
			Status:    broker.LoginMFARequired,
			Challenge: broker.Challenge{Type: m.challengeType, Token: m.challengeTokenLocked()},
		}, nil
	}
	return broker.LoginReply{Status: broker.LoginOK, Session: m.issueLocked()}, nil
}

// VerifyMFA mocks the sms/app code step. Only the latest challenge is open.
func (m *MockBrokerClient) VerifyMFA(_ context.Context, challengeToken, code string) (broker.LoginReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(OpVerifyMFA); err != nil {
		return broker.LoginReply{}, err
	}
	if challengeToken != m.challengeTokenLocked() {
		return broker.LoginReply{Status: broker.LoginExpired}, nil
	}
	if code != m.validCode {
		return broker.LoginReply{Status: broker.LoginDenied}, nil
	}
	return broker.LoginReply{Status: broker.LoginOK, Session: m.issueLocked()}, nil
}

// PushStatus mocks the push approval endpoint.
func (m *MockBrokerClient) PushStatus(_ context.Context, challengeToken string) (broker.PushReply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(OpPushStatus); err != nil {
		return broker.PushReply{}, err
	}
	if challengeToken != m.challengeTokenLocked() {
		return broker.PushReply{State: broker.PushExpired}, nil
	}

	state := broker.PushPending
	if len(m.pushStates) > 0 {
		state = m.pushStates[0]
		if len(m.pushStates) > 1 {
			m.pushStates = m.pushStates[1:]
		}
	}
	if state == broker.PushApproved {
		return broker.PushReply{State: state, Session: m.issueLocked()}, nil
	}
	return broker.PushReply{State: state}, nil
}

// AccountProfile mocks the profile lookup.
func (m *MockBrokerClient) AccountProfile(_ context.Context, session broker.Session) (broker.AccountProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.beginLocked(OpAccountProfile); err != nil {
		return broker.AccountProfile{}, err
	}
	if err := m.authorizeLocked(OpAccountProfile, session); err != nil {
		return broker.AccountProfile{}, err
	}
	return m.profile, nil
}

// Positions mocks the positions snapshot.
func (m *MockBrokerClient) Positions(ctx context.Context, session broker.Session) ([]broker.Position, error) {
	m.mu.Lock()
	gate, started := m.gate, m.gateStarted
	if gate != nil {
		m.gate, m.gateStarted = nil, nil
	}
	m.mu.Unlock()

	if gate != nil {
		close(started)
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked(OpPositions); err != nil {
		return nil, err
	}
	if err := m.authorizeLocked(OpPositions, session); err != nil {
		return nil, err
	}
	return append([]broker.Position(nil), m.positions...), nil
}

// Transactions mocks the order history.
func (m *MockBrokerClient) Transactions(ctx context.Context, session broker.Session) ([]broker.Transaction, error) {
	if err := m.wait(ctx); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked(OpTransactions); err != nil {
		return nil, err
	}
	if err := m.authorizeLocked(OpTransactions, session); err != nil {
		return nil, err
	}
	return append([]broker.Transaction(nil), m.transactions...), nil
}

// Balances mocks the balances endpoint.
func (m *MockBrokerClient) Balances(ctx context.Context, session broker.Session) (broker.Balances, error) {
	if err := m.wait(ctx); err != nil {
		return broker.Balances{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.beginLocked(OpBalances); err != nil {
		return broker.Balances{}, err
	}
	if err := m.authorizeLocked(OpBalances, session); err != nil {
		return broker.Balances{}, err
	}
	return m.balances, nil
}

func (m *MockBrokerClient) wait(ctx context.Context) error {
	m.mu.Lock()
	d := m.delay
	m.mu.Unlock()
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// beginLocked counts the call and pops a queued error. m.mu must be held.
func (m *MockBrokerClient) beginLocked(op string) error {
	m.calls[op]++
	queue := m.errs[op]
	if len(queue) == 0 {
		return nil
	}
	m.errs[op] = queue[1:]
	return queue[0]
}

func (m *MockBrokerClient) authorizeLocked(op string, session broker.Session) error {
	if session.AccessToken == "" || m.refused[session.AccessToken] {
		return UnauthorizedError(op)
	}
	return nil
}

func (m *MockBrokerClient) challengeTokenLocked() string {
	return fmt.Sprintf("challenge-%d", m.challengeSeen)
}

func (m *MockBrokerClient) issueLocked() broker.Session {
	m.issued++
	m.lastSession = broker.Session{
		AccessToken:  fmt.Sprintf("access-%d-%s", m.issued, randomAlphanumeric(6)),
		RefreshToken: fmt.Sprintf("refresh-%d", m.issued),
	}
	if m.sessionTTL > 0 {
		m.lastSession.ExpiresAt = time.Now().Add(m.sessionTTL).UTC().Truncate(time.Second)
	}
	return m.lastSession
}

// NetworkError builds the error a Client returns when the broker cannot be reached.
func NetworkError(op string) error {
	return &broker.Error{Kind: broker.KindNetwork, Op: op, Status: 503, Err: errors.New("service unavailable")}
}

// ProtocolError builds the error a Client returns for an undecodable answer.
func ProtocolError(op string) error {
	return &broker.Error{Kind: broker.KindProtocol, Op: op, Err: errors.New("unexpected response shape")}
}

// UnauthorizedError builds the error a Client returns when a session is refused.
func UnauthorizedError(op string) error {
	return &broker.Error{Kind: broker.KindUnauthorized, Op: op, Status: 401, Err: errors.New("invalid token")}
}

// EquityPosition builds a stock position.
func EquityPosition(symbol, quantity, averageCost, currentPrice string) broker.Position {
	return broker.Position{
		Symbol:        symbol,
		AssetClass:    "equity",
		Name:          symbol + " Inc.",
		Quantity:      D(quantity),
		AverageCost:   D(averageCost),
		CurrentPrice:  D(currentPrice),
		PreviousClose: D(currentPrice),
	}
}

// OptionPosition builds an option contract position.
func OptionPosition(symbol, contractID, optionType, strike, expiration, quantity, averageCost, currentPrice string) broker.Position {
	return broker.Position{
		Symbol:         symbol,
		AssetClass:     "option",
		ContractID:     contractID,
		Quantity:       D(quantity),
		AverageCost:    D(averageCost),
		CurrentPrice:   D(currentPrice),
		PreviousClose:  D(currentPrice),
		OptionType:     optionType,
		StrikePrice:    D(strike),
		ExpirationDate: expiration,
	}
}

// FilledOrder builds a filled transaction.
func FilledOrder(id, symbol, side, quantity, price string, executedAt time.Time) broker.Transaction {
	return broker.Transaction{
		ID:         id,
		Symbol:     symbol,
		Side:       side,
		State:      "filled",
		Quantity:   D(quantity),
		Price:      D(price),
		ExecutedAt: executedAt,
	}
}
