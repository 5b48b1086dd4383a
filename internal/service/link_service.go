package service

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/database"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

// maxCodeAttempts is how many sms/app codes one challenge accepts.
const maxCodeAttempts = 2

// profileRetries bounds re-checks of a session the broker just issued. Right
// after an approval the broker may still refuse the new token for a moment.
const profileRetries = 4

// LinkCredentials is what a user submits to link a brokerage account.
type LinkCredentials struct {
	Username string
	Password string
	// MFACode may be supplied up front when the user already has one.
	MFACode string
}

// linkAttempt is one in-memory linking attempt. Credentials live here only
// until the attempt ends and are zeroed then.
type linkAttempt struct {
	userID      string
	username    []byte
	password    []byte
	fingerprint string
	state       broker.State
	challenge   broker.Challenge
	mfaType     model.MFAType
	wrongCodes  int
	expiresAt   time.Time
}

func (a *linkAttempt) moveTo(next broker.State) {
	state, err := a.state.Transition(next)
	if err != nil {
		log.Printf("Link attempt for user %s: %v", a.userID, err)
		return
	}
	a.state = state
}

func (a *linkAttempt) discard() {
	vault.Zero(a.username)
	vault.Zero(a.password)
	a.username, a.password = nil, nil
}

// LinkService drives account linking from credential submission to a stored,
// verified LinkedAccount. Every operation returns a LinkOutcome; errors from
// lower layers are mapped, logged and never returned as-is.
type LinkService struct {
	db           *sql.DB
	accountRepo  *repository.AccountRepository
	client       broker.Client
	auth         *broker.Authenticator
	vault        *vault.Vault
	locks        *KeyedLocker
	challengeTTL time.Duration
	invalidate   func(accountID string)
	now          func() time.Time

	mu       sync.Mutex
	pending  map[string]*linkAttempt
	inFlight map[string]bool
}

// NewLinkService creates a new LinkService. challengeTTL bounds how long an
// sms/app challenge waits for its code. invalidate is called whenever a link
// stores an account; it may be nil.
func NewLinkService(
	db *sql.DB,
	accountRepo *repository.AccountRepository,
	client broker.Client,
	auth *broker.Authenticator,
	v *vault.Vault,
	locks *KeyedLocker,
	challengeTTL time.Duration,
	invalidate func(accountID string),
) *LinkService {
	if challengeTTL <= 0 {
		challengeTTL = 5 * time.Minute
	}
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &LinkService{
		db:           db,
		accountRepo:  accountRepo,
		client:       client,
		auth:         auth,
		vault:        v,
		locks:        locks,
		challengeTTL: challengeTTL,
		invalidate:   invalidate,
		now:          time.Now,
		pending:      make(map[string]*linkAttempt),
		inFlight:     make(map[string]bool),
	}
}

// LinkAccount starts a new link attempt, replacing any attempt the user left
// waiting for a code.
//
// A push challenge is polled until it resolves, which can take up to the
// configured push timeout. An sms/app challenge without a code returns an
// mfa_required outcome; the code is then sent with SubmitMFACode.
func (s *LinkService) LinkAccount(ctx context.Context, userID string, creds LinkCredentials) model.LinkOutcome {
	if userID == "" || creds.Username == "" || creds.Password == "" {
		return rejectedOutcome(broker.ReasonBadCredentials, model.ErrorCodeAuthRejected)
	}
	if !s.begin(userID) {
		return failedOutcome(model.ErrorCodeLinkInProgress)
	}
	defer s.end(userID)

	if previous := s.take(userID); previous != nil {
		previous.discard()
	}

	att := &linkAttempt{
		userID:      userID,
		username:    []byte(creds.Username),
		password:    []byte(creds.Password),
		fingerprint: s.vault.Fingerprint(creds.Username),
		state:       broker.StateNotStarted,
		mfaType:     model.MFANone,
	}
	att.moveTo(broker.StateCredentialsSubmitted)

	res, err := s.auth.SubmitLogin(ctx, creds.Username, creds.Password)
	return s.advance(ctx, att, res, err, creds.MFACode)
}

// SubmitMFACode answers the user's pending sms/app challenge.
func (s *LinkService) SubmitMFACode(ctx context.Context, userID, code string) model.LinkOutcome {
	if !s.begin(userID) {
		return failedOutcome(model.ErrorCodeLinkInProgress)
	}
	defer s.end(userID)

	att := s.take(userID)
	if att == nil {
		log.Printf("MFA code submitted for user %s: %v", userID, apperrors.ErrNoPendingChallenge)
		return rejectedOutcome(broker.ReasonExpired, model.ErrorCodeAuthRejected)
	}
	if !s.now().Before(att.expiresAt) {
		att.moveTo(broker.StateExpired)
		att.discard()
		return rejectedOutcome(broker.ReasonExpired, model.ErrorCodeAuthRejected)
	}

	return s.submitCode(ctx, att, code)
}

// HasPendingChallenge reports whether the user has an attempt waiting for a code.
func (s *LinkService) HasPendingChallenge(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()
	_, ok := s.pending[userID]
	return ok
}

func (s *LinkService) advance(ctx context.Context, att *linkAttempt, res broker.AuthResult, err error, code string) model.LinkOutcome {
	if err != nil {
		att.discard()
		log.Printf("Link attempt for user %s failed: %v", att.userID, err)
		return failedOutcome(errorCodeFor(err))
	}
	att.moveTo(broker.StateFor(res))

	switch res.Status {
	case broker.StatusAuthenticated:
		defer att.discard()
		return s.persist(ctx, att, res.Session)

	case broker.StatusMFARequired:
		att.challenge = res.Challenge
		att.mfaType = model.MFAType(res.Challenge.Type)

		if res.Challenge.Type == broker.ChallengePush {
			deadline := s.now().Add(s.auth.PollConfig().Timeout)
			log.Printf("Waiting for push approval for user %s until %s", att.userID, deadline.Format(time.RFC3339))
			return s.advance(ctx, att, s.auth.PollPushApproval(ctx, res.Challenge.Token, deadline), nil, "")
		}
		if code == "" {
			s.store(att)
			return mfaOutcome(att)
		}
		return s.submitCode(ctx, att, code)

	default:
		return s.reject(ctx, att, res)
	}
}

func (s *LinkService) submitCode(ctx context.Context, att *linkAttempt, code string) model.LinkOutcome {
	res, err := s.auth.SubmitMFACode(ctx, att.challenge.Token, code)
	if err != nil {
		// The code never reached the broker, so the challenge is still open.
		log.Printf("MFA verification for user %s failed: %v", att.userID, err)
		s.store(att)
		return failedOutcome(errorCodeFor(err))
	}

	if res.Status == broker.StatusRejected && res.Reason == broker.ReasonInvalidCode {
		att.wrongCodes++
		if att.wrongCodes < maxCodeAttempts {
			att.moveTo(broker.StateMFARequired)
			s.store(att)
			out := mfaOutcome(att)
			out.Reason = string(broker.ReasonInvalidCode)
			out.Message = model.MessageForReason(out.Reason)
			return out
		}
	}

	return s.advance(ctx, att, res, nil, "")
}

func (s *LinkService) reject(ctx context.Context, att *linkAttempt, res broker.AuthResult) model.LinkOutcome {
	defer att.discard()

	code := model.ErrorCodeAuthRejected
	if res.Reason == broker.ReasonUnknown {
		code = model.ErrorCodeProtocol
	}
	out := rejectedOutcome(res.Reason, code)

	switch {
	case res.Reason == broker.ReasonCancelled:
		return out
	case res.Err != nil && errors.Is(res.Err, apperrors.ErrTransientNetwork):
		// The broker never answered, so the login itself was not refused.
		out.Code = model.ErrorCodeNetwork
		return out
	}

	log.Printf("Link attempt for user %s rejected: %s", att.userID, res.Reason)
	s.markExistingFailed(ctx, att, out)
	return out
}

// markExistingFailed flags the user's active accounts that were linked with
// the rejected login. Their stored credentials are left untouched.
func (s *LinkService) markExistingFailed(ctx context.Context, att *linkAttempt, out model.LinkOutcome) {
	accounts, err := s.accountRepo.FindActiveByFingerprint(ctx, att.userID, att.fingerprint)
	if err != nil {
		log.Printf("Failed to look up accounts for rejected login of user %s: %v", att.userID, err)
		return
	}

	for _, a := range accounts {
		unlock, err := s.locks.Lock(ctx, a.ID)
		if err != nil {
			log.Printf("Failed to lock account %s: %v", a.ID, err)
			continue
		}
		if err := s.accountRepo.MarkSyncFailed(ctx, a.ID, out.Message, out.Code); err != nil {
			log.Printf("Failed to mark account %s failed: %v", a.ID, err)
		}
		unlock()
	}
}

// persist stores the session and credentials of an authenticated attempt,
// updating the user's existing account for the same brokerage account number.
func (s *LinkService) persist(ctx context.Context, att *linkAttempt, session broker.Session) model.LinkOutcome {
	profile, err := s.loadProfile(ctx, att.userID, session)
	if err != nil {
		log.Printf("Failed to load account profile for user %s: %v", att.userID, err)
		if broker.IsUnauthorized(err) {
			// The login itself succeeded; the broker never confirmed the new session.
			return failedOutcome(model.ErrorCodeNetwork)
		}
		return failedOutcome(errorCodeFor(err))
	}
	if profile.AccountNumber == "" {
		log.Printf("broker account_profile: unexpected response, adapter may need updating: missing account number")
		return failedOutcome(model.ErrorCodeProtocol)
	}

	sessionEncrypted, err := s.vault.EncryptJSON(session)
	if err != nil {
		log.Printf("Failed to encrypt session for user %s: %v", att.userID, err)
		return failedOutcome(model.ErrorCodeInternal)
	}
	credentialsEncrypted, err := s.vault.EncryptJSON(vault.Credentials{
		Username: string(att.username),
		Password: string(att.password),
	})
	if err != nil {
		log.Printf("Failed to encrypt credentials for user %s: %v", att.userID, err)
		return failedOutcome(model.ErrorCodeInternal)
	}

	existing, err := s.accountRepo.FindActiveByNumber(ctx, att.userID, profile.AccountNumber)
	if err != nil {
		log.Printf("Failed to look up account for user %s: %v", att.userID, err)
		return failedOutcome(model.ErrorCodeInternal)
	}
	accountID := uuid.New().String()
	if existing != nil {
		accountID = existing.ID
	}

	unlock, err := s.locks.Lock(ctx, accountID)
	if err != nil {
		log.Printf("Failed to lock account %s: %v", accountID, err)
		return failedOutcome(model.ErrorCodeInternal)
	}
	defer unlock()

	now := s.now().UTC()
	account := model.LinkedAccount{
		ID:                   accountID,
		UserID:               att.userID,
		AccountNumber:        profile.AccountNumber,
		AccountType:          model.AccountTypeFromProfile(profile.Type, profile.Gold),
		LoginFingerprint:     att.fingerprint,
		CredentialsEncrypted: credentialsEncrypted,
		SessionEncrypted:     sessionEncrypted,
		MFAType:              att.mfaType,
		SyncStatus:           model.SyncStatusNeverSynced,
		IsActive:             true,
		IsVerified:           true,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt.UTC()
		account.SessionExpiresAt = &expires
	}

	var stored model.LinkedAccount
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.accountRepo.WithTx(tx)

		current, err := repo.FindActiveByNumber(ctx, att.userID, profile.AccountNumber)
		if err != nil {
			return err
		}
		switch {
		case current == nil:
			if err := repo.InsertAccount(ctx, &account); err != nil {
				return err
			}
		case current.ID == accountID:
			if err := repo.UpdateCredentials(ctx, &account); err != nil {
				return err
			}
		default:
			return apperrors.ErrLinkInProgress
		}

		stored, err = repo.GetAccount(ctx, accountID)
		return err
	})
	if err != nil {
		log.Printf("Failed to store linked account for user %s: %v", att.userID, err)
		return failedOutcome(errorCodeFor(err))
	}

	s.invalidate(stored.ID)

	log.Printf("Account %s linked for user %s (mfa: %s)", stored.ID, att.userID, stored.MFAType)
	return model.LinkOutcome{
		Status:  model.LinkStatusLinked,
		Account: &stored,
	}
}

// loadProfile fetches the profile for a freshly issued session, retrying
// network errors and refusals with exponential backoff.
func (s *LinkService) loadProfile(ctx context.Context, userID string, session broker.Session) (broker.AccountProfile, error) {
	var profile broker.AccountProfile
	backoff := retry.WithMaxRetries(profileRetries, retry.NewExponential(s.auth.PollConfig().RetryBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		p, err := s.client.AccountProfile(ctx, session)
		if err != nil {
			if broker.IsNetwork(err) || broker.IsUnauthorized(err) {
				log.Printf("broker account_profile for user %s: retrying: %v", userID, err)
				return retry.RetryableError(err)
			}
			return err
		}
		profile = p
		return nil
	})
	return profile, err
}

func (s *LinkService) begin(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[userID] {
		return false
	}
	s.inFlight[userID] = true
	return true
}

func (s *LinkService) end(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}

func (s *LinkService) store(att *linkAttempt) {
	if att.expiresAt.IsZero() {
		att.expiresAt = s.now().Add(s.challengeTTL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.purgeExpiredLocked()
	s.pending[att.userID] = att
}

func (s *LinkService) take(userID string) *linkAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	att := s.pending[userID]
	delete(s.pending, userID)
	return att
}

// purgeExpiredLocked drops attempts whose code window has passed. s.mu must be held.
func (s *LinkService) purgeExpiredLocked() {
	now := s.now()
	for userID, att := range s.pending {
		if !now.Before(att.expiresAt) && !s.inFlight[userID] {
			att.discard()
			delete(s.pending, userID)
		}
	}
}

func mfaOutcome(att *linkAttempt) model.LinkOutcome {
	return model.LinkOutcome{
		Status:            model.LinkStatusMFARequired,
		ChallengeType:     string(att.challenge.Type),
		AttemptsRemaining: maxCodeAttempts - att.wrongCodes,
		Message:           "Enter the verification code from your brokerage.",
	}
}

func rejectedOutcome(reason broker.Reason, code model.ErrorCode) model.LinkOutcome {
	return model.LinkOutcome{
		Status:  model.LinkStatusRejected,
		Reason:  string(reason),
		Code:    code,
		Message: model.MessageForReason(string(reason)),
	}
}

func failedOutcome(code model.ErrorCode) model.LinkOutcome {
	return model.LinkOutcome{
		Status:  model.LinkStatusFailed,
		Code:    code,
		Message: model.MessageFor(code),
	}
}

// errorCodeFor maps an error onto the code shown to callers.
func errorCodeFor(err error) model.ErrorCode {
	switch {
	case errors.Is(err, apperrors.ErrTransientNetwork):
		return model.ErrorCodeNetwork
	case errors.Is(err, apperrors.ErrAuthRejected):
		return model.ErrorCodeAuthRejected
	case errors.Is(err, apperrors.ErrProtocolMismatch), errors.Is(err, apperrors.ErrInvalidPosition):
		return model.ErrorCodeProtocol
	case errors.Is(err, apperrors.ErrDecryption):
		return model.ErrorCodeCredentialsUnusable
	case errors.Is(err, apperrors.ErrReauthRequired):
		return model.ErrorCodeReauthRequired
	case errors.Is(err, apperrors.ErrSyncInProgress):
		return model.ErrorCodeSyncInProgress
	case errors.Is(err, apperrors.ErrLinkInProgress):
		return model.ErrorCodeLinkInProgress
	default:
		return model.ErrorCodeInternal
	}
}
