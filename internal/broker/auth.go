package broker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
)

// Status is the tag of an AuthResult.
type Status int

const (
	StatusRejected Status = iota
	StatusAuthenticated
	StatusMFARequired
)

func (s Status) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	case StatusMFARequired:
		return "mfa_required"
	default:
		return "rejected"
	}
}

// Reason explains a rejection.
type Reason string

const (
	ReasonBadCredentials Reason = "bad_credentials"
	ReasonInvalidCode    Reason = "invalid_code"
	ReasonDenied         Reason = "denied"
	ReasonTimeout        Reason = "timeout"
	ReasonExpired        Reason = "expired"
	ReasonCancelled      Reason = "cancelled"
	ReasonUnknown        Reason = "unknown"
)

// AuthResult is the normalized outcome of one handshake step.
// Session is set only when Status is StatusAuthenticated, Challenge only when
// it is StatusMFARequired, Reason only when it is StatusRejected.
type AuthResult struct {
	Status    Status
	Session   Session
	Challenge Challenge
	Reason    Reason
	// Err carries the underlying adapter error for ReasonUnknown and ReasonTimeout.
	Err error
	// Polls counts push status requests made before the result was reached.
	Polls int
}

// Authenticated builds a successful result.
func Authenticated(s Session) AuthResult {
	return AuthResult{Status: StatusAuthenticated, Session: s}
}

// MFARequired builds a challenge result.
func MFARequired(c Challenge) AuthResult {
	return AuthResult{Status: StatusMFARequired, Challenge: c}
}

// Rejected builds a rejection.
func Rejected(reason Reason) AuthResult {
	return AuthResult{Status: StatusRejected, Reason: reason}
}

// PollConfig bounds the push approval loop.
type PollConfig struct {
	Interval         time.Duration
	Timeout          time.Duration
	TransportRetries int
	RetryBackoff     time.Duration
}

// DefaultPollConfig polls every 3s for up to 90s.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:         3 * time.Second,
		Timeout:          90 * time.Second,
		TransportRetries: 3,
		RetryBackoff:     500 * time.Millisecond,
	}
}

// Authenticator drives the login handshake over a Client and normalizes every
// answer into an AuthResult. Only transient network failures are returned as
// errors; everything else becomes a result.
type Authenticator struct {
	client Client
	poll   PollConfig
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(client Client, poll PollConfig) *Authenticator {
	defaults := DefaultPollConfig()
	if poll.Interval <= 0 {
		poll.Interval = defaults.Interval
	}
	if poll.Timeout <= 0 {
		poll.Timeout = defaults.Timeout
	}
	if poll.RetryBackoff <= 0 {
		poll.RetryBackoff = max(poll.Interval/4, time.Millisecond)
	}
	return &Authenticator{client: client, poll: poll}
}

// PollConfig returns the configured push polling bounds.
func (a *Authenticator) PollConfig() PollConfig { return a.poll }

// SubmitLogin sends the credentials.
func (a *Authenticator) SubmitLogin(ctx context.Context, username, password string) (AuthResult, error) {
	reply, err := a.client.Login(ctx, username, password)
	if err != nil {
		return a.fromError("login", err)
	}
	return a.fromLoginReply("login", reply)
}

// SubmitMFACode answers an sms or authenticator-app challenge.
func (a *Authenticator) SubmitMFACode(ctx context.Context, challengeToken, code string) (AuthResult, error) {
	if !ValidCode(code) {
		return Rejected(ReasonInvalidCode), nil
	}

	reply, err := a.client.VerifyMFA(ctx, challengeToken, code)
	if err != nil {
		return a.fromError("verify_mfa", err)
	}

	switch reply.Status {
	case LoginDenied:
		return Rejected(ReasonInvalidCode), nil
	case LoginMFARequired:
		return a.protocolFailure("verify_mfa", errors.New("challenge repeated after code"))
	}
	return a.fromLoginReply("verify_mfa", reply)
}

// PollPushApproval waits for the user to approve a push challenge.
//
// The status endpoint is polled every Interval until deadline. Pending answers
// keep the loop going; a denial ends it at once. Transport failures are retried
// up to TransportRetries times per poll before the attempt is given up as a
// timeout. Cancelling ctx ends the loop with ReasonCancelled.
func (a *Authenticator) PollPushApproval(ctx context.Context, challengeToken string, deadline time.Time) AuthResult {
	parent := ctx
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	ended := func(polls int) AuthResult {
		r := Rejected(ReasonTimeout)
		if parent.Err() != nil && !errors.Is(parent.Err(), context.DeadlineExceeded) {
			r = Rejected(ReasonCancelled)
		}
		r.Polls = polls
		return r
	}

	timer := time.NewTimer(a.poll.Interval)
	defer timer.Stop()

	polls := 0
	for {
		select {
		case <-ctx.Done():
			return ended(polls)
		case <-timer.C:
		}

		polls++
		reply, err := a.pushStatus(ctx, challengeToken)
		if err != nil {
			if ctx.Err() != nil {
				return ended(polls)
			}
			switch KindOf(err) {
			case KindNetwork:
				log.Printf("push approval: giving up after repeated transport errors: %v", err)
				r := Rejected(ReasonTimeout)
				r.Err, r.Polls = err, polls
				return r
			case KindUnauthorized:
				r := Rejected(ReasonExpired)
				r.Polls = polls
				return r
			default:
				r, _ := a.protocolFailure("push_status", err)
				r.Polls = polls
				return r
			}
		}

		switch reply.State {
		case PushApproved:
			if reply.Session.AccessToken == "" {
				r, _ := a.protocolFailure("push_status", errors.New("approved without session"))
				r.Polls = polls
				return r
			}
			r := Authenticated(reply.Session)
			r.Polls = polls
			return r
		case PushDenied:
			r := Rejected(ReasonDenied)
			r.Polls = polls
			return r
		case PushExpired:
			r := Rejected(ReasonExpired)
			r.Polls = polls
			return r
		}

		timer.Reset(a.poll.Interval)
	}
}

// pushStatus makes one poll, retrying transport failures with a short constant backoff.
func (a *Authenticator) pushStatus(ctx context.Context, challengeToken string) (PushReply, error) {
	var reply PushReply
	backoff := retry.WithMaxRetries(uint64(max(a.poll.TransportRetries, 0)), retry.NewConstant(a.poll.RetryBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := a.client.PushStatus(ctx, challengeToken)
		if err != nil {
			if IsNetwork(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		reply = r
		return nil
	})
	return reply, err
}

func (a *Authenticator) fromLoginReply(op string, reply LoginReply) (AuthResult, error) {
	switch reply.Status {
	case LoginOK:
		if reply.Session.AccessToken == "" {
			return a.protocolFailure(op, errors.New("authenticated without session"))
		}
		return Authenticated(reply.Session), nil
	case LoginMFARequired:
		if !reply.Challenge.Type.Valid() || reply.Challenge.Token == "" {
			return a.protocolFailure(op, fmt.Errorf("invalid challenge type %q", reply.Challenge.Type))
		}
		return MFARequired(reply.Challenge), nil
	case LoginDenied:
		return Rejected(ReasonBadCredentials), nil
	case LoginExpired:
		return Rejected(ReasonExpired), nil
	default:
		return a.protocolFailure(op, fmt.Errorf("unknown login status %q", reply.Status))
	}
}

func (a *Authenticator) fromError(op string, err error) (AuthResult, error) {
	switch KindOf(err) {
	case KindUnauthorized:
		return Rejected(ReasonBadCredentials), nil
	case KindProtocol:
		return a.protocolFailure(op, err)
	default:
		if errors.Is(err, apperrors.ErrTransientNetwork) {
			return AuthResult{}, err
		}
		return AuthResult{}, fmt.Errorf("%w: %v", apperrors.ErrTransientNetwork, err)
	}
}

// protocolFailure logs an unexpected broker answer and surfaces it as ReasonUnknown.
func (a *Authenticator) protocolFailure(op string, err error) (AuthResult, error) {
	log.Printf("broker %s: unexpected response, adapter may need updating: %v", op, err)
	r := Rejected(ReasonUnknown)
	if errors.Is(err, apperrors.ErrProtocolMismatch) {
		r.Err = err
	} else {
		r.Err = fmt.Errorf("%w: %v", apperrors.ErrProtocolMismatch, err)
	}
	return r, nil
}

// ValidCode reports whether code is a 6 digit MFA code.
func ValidCode(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
