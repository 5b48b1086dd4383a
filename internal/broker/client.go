package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client defines the wire-level operations against the brokerage.
// This interface enables dependency injection and testing with mock implementations.
type Client interface {
	Login(ctx context.Context, username, password string) (LoginReply, error)
	VerifyMFA(ctx context.Context, challengeToken, code string) (LoginReply, error)
	PushStatus(ctx context.Context, challengeToken string) (PushReply, error)
	AccountProfile(ctx context.Context, session Session) (AccountProfile, error)
	Positions(ctx context.Context, session Session) ([]Position, error)
	Transactions(ctx context.Context, session Session) ([]Transaction, error)
	Balances(ctx context.Context, session Session) (Balances, error)
}

// maxPages bounds pagination so a looping "next" link cannot spin forever.
const maxPages = 50

// HTTPClient talks to the brokerage JSON API.
type HTTPClient struct {
	baseURL    *url.URL
	httpClient *http.Client
	sessionTTL time.Duration
	now        func() time.Time
}

// NewHTTPClient creates a client for the API rooted at baseURL.
// sessionTTL is used when the broker does not report an expiry.
func NewHTTPClient(baseURL string, timeout, sessionTTL time.Duration) (*HTTPClient, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid broker base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid broker base URL: %q", baseURL)
	}
	return &HTTPClient{
		baseURL:    u,
		httpClient: &http.Client{Timeout: timeout},
		sessionTTL: sessionTTL,
		now:        time.Now,
	}, nil
}

// tokenResponse is the shape shared by the login, MFA and push endpoints.
type tokenResponse struct {
	AccessToken    string `json:"access_token"`
	RefreshToken   string `json:"refresh_token"`
	ExpiresIn      int64  `json:"expires_in"`
	MFARequired    bool   `json:"mfa_required"`
	MFAType        string `json:"mfa_type"`
	ChallengeToken string `json:"challenge_token"`
	Status         string `json:"status"`
	Detail         string `json:"detail"`
}

func (c *HTTPClient) session(tr tokenResponse) Session {
	ttl := c.sessionTTL
	if tr.ExpiresIn > 0 {
		ttl = time.Duration(tr.ExpiresIn) * time.Second
	}
	return Session{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresAt:    c.now().UTC().Add(ttl),
	}
}

// Login submits the username and password.
func (c *HTTPClient) Login(ctx context.Context, username, password string) (LoginReply, error) {
	const op = "login"
	body := map[string]string{
		"grant_type": "password",
		"username":   username,
		"password":   password,
	}

	var tr tokenResponse
	status, err := c.do(ctx, op, http.MethodPost, "oauth2/token/", "", body, &tr)
	if err != nil {
		var berr *Error
		// 400/401 on the token endpoint means wrong username or password.
		if errors.As(err, &berr) && berr.Kind == KindUnauthorized {
			return LoginReply{Status: LoginDenied}, nil
		}
		return LoginReply{}, err
	}
	return c.loginReply(op, status, tr)
}

// VerifyMFA submits an sms or authenticator code for a pending challenge.
func (c *HTTPClient) VerifyMFA(ctx context.Context, challengeToken, code string) (LoginReply, error) {
	const op = "verify_mfa"
	body := map[string]string{
		"challenge_token": challengeToken,
		"code":            code,
	}

	var tr tokenResponse
	status, err := c.do(ctx, op, http.MethodPost, "mfa/verify/", "", body, &tr)
	if err != nil {
		var berr *Error
		if errors.As(err, &berr) && berr.Kind == KindUnauthorized {
			return LoginReply{Status: LoginDenied}, nil
		}
		if berr != nil && berr.Status == http.StatusGone {
			return LoginReply{Status: LoginExpired}, nil
		}
		return LoginReply{}, err
	}
	return c.loginReply(op, status, tr)
}

func (c *HTTPClient) loginReply(op string, status int, tr tokenResponse) (LoginReply, error) {
	switch {
	case tr.AccessToken != "":
		return LoginReply{Status: LoginOK, Session: c.session(tr)}, nil
	case tr.MFARequired:
		ch := Challenge{Type: ChallengeType(tr.MFAType), Token: tr.ChallengeToken}
		if !ch.Type.Valid() || ch.Token == "" {
			return LoginReply{}, protocolError(op, status, fmt.Errorf("invalid challenge %q", tr.MFAType))
		}
		return LoginReply{Status: LoginMFARequired, Challenge: ch}, nil
	default:
		return LoginReply{}, protocolError(op, status, errors.New("response carries neither token nor challenge"))
	}
}

// PushStatus reads the state of a push approval request.
func (c *HTTPClient) PushStatus(ctx context.Context, challengeToken string) (PushReply, error) {
	const op = "push_status"

	var tr tokenResponse
	status, err := c.do(ctx, op, http.MethodGet, "push/"+url.PathEscape(challengeToken)+"/status/", "", nil, &tr)
	if err != nil {
		return PushReply{}, err
	}

	switch PushState(tr.Status) {
	case PushPending, PushDenied, PushExpired:
		return PushReply{State: PushState(tr.Status)}, nil
	case PushApproved:
		if tr.AccessToken == "" {
			return PushReply{}, protocolError(op, status, errors.New("approved without access token"))
		}
		return PushReply{State: PushApproved, Session: c.session(tr)}, nil
	default:
		return PushReply{}, protocolError(op, status, fmt.Errorf("unknown push status %q", tr.Status))
	}
}

type page[T any] struct {
	Results []T    `json:"results"`
	Next    string `json:"next"`
}

// AccountProfile returns the first brokerage account behind the session.
func (c *HTTPClient) AccountProfile(ctx context.Context, session Session) (AccountProfile, error) {
	const op = "accounts"

	var p page[AccountProfile]
	status, err := c.do(ctx, op, http.MethodGet, "accounts/", session.AccessToken, nil, &p)
	if err != nil {
		return AccountProfile{}, err
	}
	if len(p.Results) == 0 || p.Results[0].AccountNumber == "" {
		return AccountProfile{}, protocolError(op, status, errors.New("no account in response"))
	}
	return p.Results[0], nil
}

// Positions returns the full non-zero positions snapshot.
func (c *HTTPClient) Positions(ctx context.Context, session Session) ([]Position, error) {
	return fetchAll[Position](ctx, c, "positions", "positions/?nonzero=true", session)
}

// Transactions returns the executed order history.
func (c *HTTPClient) Transactions(ctx context.Context, session Session) ([]Transaction, error) {
	return fetchAll[Transaction](ctx, c, "transactions", "transactions/", session)
}

// Balances returns the account cash and margin figures.
func (c *HTTPClient) Balances(ctx context.Context, session Session) (Balances, error) {
	var b Balances
	if _, err := c.do(ctx, "balances", http.MethodGet, "balances/", session.AccessToken, nil, &b); err != nil {
		return Balances{}, err
	}
	return b, nil
}

func fetchAll[T any](ctx context.Context, c *HTTPClient, op, path string, session Session) ([]T, error) {
	var out []T
	next := path
	for i := 0; next != ""; i++ {
		if i == maxPages {
			return nil, protocolError(op, 0, fmt.Errorf("more than %d pages", maxPages))
		}
		var p page[T]
		if _, err := c.do(ctx, op, http.MethodGet, next, session.AccessToken, nil, &p); err != nil {
			return nil, err
		}
		out = append(out, p.Results...)
		next = p.Next
	}
	return out, nil
}

// do performs one request and decodes a 2xx JSON body into out.
// Non-2xx answers are classified into network, unauthorized or protocol errors.
func (c *HTTPClient) do(ctx context.Context, op, method, ref, token string, body, out any) (int, error) {
	target, err := c.baseURL.Parse(ref)
	if err != nil {
		return 0, protocolError(op, 0, fmt.Errorf("invalid path: %w", err))
	}
	// A pagination link pointing at another host is never followed with our token.
	if target.Host != c.baseURL.Host {
		return 0, protocolError(op, 0, fmt.Errorf("unexpected host %q", target.Host))
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, protocolError(op, 0, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return 0, protocolError(op, 0, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, networkError(op, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return resp.StatusCode, networkError(op, resp.StatusCode, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, networkError(op, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden ||
		(resp.StatusCode == http.StatusBadRequest && token == ""):
		return resp.StatusCode, unauthorizedError(op, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return resp.StatusCode, protocolError(op, resp.StatusCode, errors.New(http.StatusText(resp.StatusCode)))
	}

	if err := json.Unmarshal(data, out); err != nil {
		return resp.StatusCode, protocolError(op, resp.StatusCode, fmt.Errorf("failed to decode response: %w", err))
	}
	return resp.StatusCode, nil
}
