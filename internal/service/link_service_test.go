package service_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/broker"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/model"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/service"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/testutil"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

func validCreds() service.LinkCredentials {
	return service.LinkCredentials{Username: testutil.TestUsername, Password: testutil.TestPassword}
}

func listAccounts(t *testing.T, svc *testutil.Services, userID string) []model.LinkedAccount {
	t.Helper()
	accounts, err := svc.Accounts.ListAccounts(context.Background(), userID, true)
	if err != nil {
		t.Fatalf("ListAccounts() returned unexpected error: %v", err)
	}
	return accounts
}

// TestLinkService_LinkAccount tests linking without a second factor.
//
// WHY: A successful link is the only way credentials reach storage. The stored
// record must be active, verified and readable with the process key, and the
// outcome handed back to the caller must never carry secrets.
func TestLinkService_LinkAccount(t *testing.T) {
	t.Run("links account when broker accepts credentials", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithProfile("5QR000001", "margin", false)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		outcome := svc.Link.LinkAccount(context.Background(), userID, validCreds())

		if outcome.Status != model.LinkStatusLinked {
			t.Fatalf("Expected status linked, got %s (%s)", outcome.Status, outcome.Code)
		}
		if outcome.Account == nil {
			t.Fatal("Expected account in outcome, got nil")
		}
		if outcome.Account.AccountNumber != "5QR000001" {
			t.Errorf("Expected account number 5QR000001, got %s", outcome.Account.AccountNumber)
		}
		if outcome.Account.AccountType != model.AccountTypeMargin {
			t.Errorf("Expected account type margin, got %s", outcome.Account.AccountType)
		}
		if !outcome.Account.IsActive || !outcome.Account.IsVerified {
			t.Errorf("Expected active verified account, got active=%v verified=%v", outcome.Account.IsActive, outcome.Account.IsVerified)
		}
		if outcome.Account.MFAType != model.MFANone {
			t.Errorf("Expected mfa type none, got %s", outcome.Account.MFAType)
		}

		stored, err := repository.NewAccountRepository(db).GetAccount(context.Background(), outcome.Account.ID)
		if err != nil {
			t.Fatalf("GetAccount() returned unexpected error: %v", err)
		}
		var creds vault.Credentials
		if err := svc.Vault.DecryptJSON(stored.CredentialsEncrypted, &creds); err != nil {
			t.Fatalf("Stored credentials are not readable: %v", err)
		}
		if creds.Username != testutil.TestUsername || creds.Password != testutil.TestPassword {
			t.Errorf("Expected stored credentials to round-trip, got %q", creds.Username)
		}
		if strings.Contains(stored.CredentialsEncrypted, testutil.TestPassword) {
			t.Error("Password stored in plaintext")
		}

		var session broker.Session
		if err := svc.Vault.DecryptJSON(stored.SessionEncrypted, &session); err != nil {
			t.Fatalf("Stored session is not readable: %v", err)
		}
		if session.AccessToken != client.LastSession().AccessToken {
			t.Errorf("Expected stored session %s, got %s", client.LastSession().AccessToken, session.AccessToken)
		}
		if stored.SessionExpiresAt == nil {
			t.Error("Expected session expiry to be stored")
		}
	})

	t.Run("outcome never contains secrets", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		data, err := json.Marshal(outcome)
		if err != nil {
			t.Fatalf("Failed to marshal outcome: %v", err)
		}
		for _, secret := range []string{testutil.TestPassword, client.LastSession().AccessToken, "credentials", "session"} {
			if strings.Contains(string(data), secret) {
				t.Errorf("Expected outcome JSON to omit %q, got %s", secret, data)
			}
		}
	})

	t.Run("rejects bad credentials without storing anything", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		outcome := svc.Link.LinkAccount(context.Background(), userID, service.LinkCredentials{
			Username: testutil.TestUsername,
			Password: "wrong",
		})

		if outcome.Status != model.LinkStatusRejected {
			t.Fatalf("Expected status rejected, got %s", outcome.Status)
		}
		if outcome.Reason != model.ReasonBadCredentials {
			t.Errorf("Expected reason bad_credentials, got %s", outcome.Reason)
		}
		if outcome.Code != model.ErrorCodeAuthRejected {
			t.Errorf("Expected code auth_rejected, got %s", outcome.Code)
		}
		if outcome.Message == "" {
			t.Error("Expected a user-facing message")
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})

	t.Run("rejects empty input without calling the broker", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), service.LinkCredentials{Username: testutil.TestUsername})

		if outcome.Status != model.LinkStatusRejected {
			t.Errorf("Expected status rejected, got %s", outcome.Status)
		}
		if client.Calls(testutil.OpLogin) != 0 {
			t.Errorf("Expected no login call, got %d", client.Calls(testutil.OpLogin))
		}
	})

	t.Run("network failure fails without storing anything", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithErrors(testutil.OpLogin, testutil.NetworkError(testutil.OpLogin))
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusFailed {
			t.Fatalf("Expected status failed, got %s", outcome.Status)
		}
		if outcome.Code != model.ErrorCodeNetwork {
			t.Errorf("Expected code network, got %s", outcome.Code)
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})

	t.Run("profile without account number is a protocol failure", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithProfile("", "cash", false)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusFailed || outcome.Code != model.ErrorCodeProtocol {
			t.Errorf("Expected failed/protocol, got %s/%s", outcome.Status, outcome.Code)
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})
}

// TestLinkService_CodeChallenge tests sms and authenticator app challenges.
//
// WHY: Code challenges span two requests. Nothing may be stored until the code
// is accepted, a wrong code gets exactly one retry, and a stale challenge must
// not be answerable.
func TestLinkService_CodeChallenge(t *testing.T) {
	t.Run("sms challenge then valid code links account", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithSMSChallenge("123456")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		first := svc.Link.LinkAccount(context.Background(), userID, validCreds())
		if first.Status != model.LinkStatusMFARequired {
			t.Fatalf("Expected status mfa_required, got %s", first.Status)
		}
		if first.ChallengeType != "sms" {
			t.Errorf("Expected challenge type sms, got %s", first.ChallengeType)
		}
		if first.AttemptsRemaining != 2 {
			t.Errorf("Expected 2 attempts remaining, got %d", first.AttemptsRemaining)
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
		if !svc.Link.HasPendingChallenge(userID) {
			t.Error("Expected a pending challenge")
		}

		second := svc.Link.SubmitMFACode(context.Background(), userID, "123456")
		if second.Status != model.LinkStatusLinked {
			t.Fatalf("Expected status linked, got %s (%s)", second.Status, second.Code)
		}
		if second.Account.MFAType != model.MFASMS {
			t.Errorf("Expected mfa type sms, got %s", second.Account.MFAType)
		}
		if svc.Link.HasPendingChallenge(userID) {
			t.Error("Expected pending challenge to be consumed")
		}
		testutil.AssertRowCount(t, db, "linked_account", 1)
	})

	t.Run("code supplied up front links in one call", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithAppChallenge("654321")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		creds := validCreds()
		creds.MFACode = "654321"
		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), creds)

		if outcome.Status != model.LinkStatusLinked {
			t.Fatalf("Expected status linked, got %s", outcome.Status)
		}
		if outcome.Account.MFAType != model.MFAApp {
			t.Errorf("Expected mfa type app, got %s", outcome.Account.MFAType)
		}
	})

	t.Run("one wrong code allows a retry", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithSMSChallenge("123456")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())

		retry := svc.Link.SubmitMFACode(context.Background(), userID, "000000")
		if retry.Status != model.LinkStatusMFARequired {
			t.Fatalf("Expected status mfa_required after one wrong code, got %s", retry.Status)
		}
		if retry.AttemptsRemaining != 1 {
			t.Errorf("Expected 1 attempt remaining, got %d", retry.AttemptsRemaining)
		}
		if retry.Reason != model.ReasonInvalidCode {
			t.Errorf("Expected reason invalid_code, got %s", retry.Reason)
		}

		linked := svc.Link.SubmitMFACode(context.Background(), userID, "123456")
		if linked.Status != model.LinkStatusLinked {
			t.Errorf("Expected status linked, got %s", linked.Status)
		}
	})

	t.Run("two wrong codes reject the attempt", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithSMSChallenge("123456")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())
		svc.Link.SubmitMFACode(context.Background(), userID, "000000")
		outcome := svc.Link.SubmitMFACode(context.Background(), userID, "111111")

		if outcome.Status != model.LinkStatusRejected {
			t.Fatalf("Expected status rejected, got %s", outcome.Status)
		}
		if outcome.Reason != model.ReasonInvalidCode {
			t.Errorf("Expected reason invalid_code, got %s", outcome.Reason)
		}
		if svc.Link.HasPendingChallenge(userID) {
			t.Error("Expected no pending challenge after rejection")
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)

		// The challenge is gone, so even the right code is refused now.
		late := svc.Link.SubmitMFACode(context.Background(), userID, "123456")
		if late.Status != model.LinkStatusRejected || late.Reason != model.ReasonExpired {
			t.Errorf("Expected rejected/expired, got %s/%s", late.Status, late.Reason)
		}
	})

	t.Run("malformed code counts as a wrong code", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithSMSChallenge("123456")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())
		outcome := svc.Link.SubmitMFACode(context.Background(), userID, "12ab")

		if outcome.Status != model.LinkStatusMFARequired || outcome.AttemptsRemaining != 1 {
			t.Errorf("Expected mfa_required with 1 attempt, got %s with %d", outcome.Status, outcome.AttemptsRemaining)
		}
		if client.Calls(testutil.OpVerifyMFA) != 0 {
			t.Errorf("Expected malformed code not to reach the broker, got %d calls", client.Calls(testutil.OpVerifyMFA))
		}
	})

	t.Run("code after the window expired is rejected", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithSMSChallenge("123456")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{ChallengeTTL: 20 * time.Millisecond})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())
		time.Sleep(50 * time.Millisecond)

		outcome := svc.Link.SubmitMFACode(context.Background(), userID, "123456")

		if outcome.Status != model.LinkStatusRejected {
			t.Fatalf("Expected status rejected, got %s", outcome.Status)
		}
		if outcome.Reason != model.ReasonExpired {
			t.Errorf("Expected reason expired, got %s", outcome.Reason)
		}
		if client.Calls(testutil.OpVerifyMFA) != 0 {
			t.Errorf("Expected no verify call, got %d", client.Calls(testutil.OpVerifyMFA))
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})

	t.Run("code without pending challenge is rejected", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.SubmitMFACode(context.Background(), testutil.MakeID(), "123456")

		if outcome.Status != model.LinkStatusRejected || outcome.Reason != model.ReasonExpired {
			t.Errorf("Expected rejected/expired, got %s/%s", outcome.Status, outcome.Reason)
		}
	})

	t.Run("network failure keeps the challenge open", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().
			WithSMSChallenge("123456").
			WithErrors(testutil.OpVerifyMFA, testutil.NetworkError(testutil.OpVerifyMFA))
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())

		failed := svc.Link.SubmitMFACode(context.Background(), userID, "123456")
		if failed.Status != model.LinkStatusFailed || failed.Code != model.ErrorCodeNetwork {
			t.Fatalf("Expected failed/network, got %s/%s", failed.Status, failed.Code)
		}

		linked := svc.Link.SubmitMFACode(context.Background(), userID, "123456")
		if linked.Status != model.LinkStatusLinked {
			t.Errorf("Expected status linked on retry, got %s", linked.Status)
		}
	})

	t.Run("new link attempt replaces the pending one", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithSMSChallenge("123456")
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())
		svc.Link.LinkAccount(context.Background(), userID, validCreds())

		outcome := svc.Link.SubmitMFACode(context.Background(), userID, "123456")
		if outcome.Status != model.LinkStatusLinked {
			t.Errorf("Expected status linked, got %s (%s)", outcome.Status, outcome.Reason)
		}
		testutil.AssertRowCount(t, db, "linked_account", 1)
	})
}

// TestLinkService_PushChallenge tests in-app approval.
//
// WHY: Push approval is resolved inside one request by polling. The loop must
// end on approval, denial, its deadline or a cancelled request, and must never
// leave a half-linked account behind.
func TestLinkService_PushChallenge(t *testing.T) {
	t.Run("approval after pending polls links account", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().
			WithPushChallenge(broker.PushPending, broker.PushPending, broker.PushApproved)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusLinked {
			t.Fatalf("Expected status linked, got %s (%s)", outcome.Status, outcome.Reason)
		}
		if outcome.Account.MFAType != model.MFAPush {
			t.Errorf("Expected mfa type push, got %s", outcome.Account.MFAType)
		}
		if client.Calls(testutil.OpPushStatus) != 3 {
			t.Errorf("Expected 3 push polls, got %d", client.Calls(testutil.OpPushStatus))
		}
	})

	t.Run("denial rejects the attempt", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithPushChallenge(broker.PushPending, broker.PushDenied)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusRejected || outcome.Reason != model.ReasonDenied {
			t.Errorf("Expected rejected/denied, got %s/%s", outcome.Status, outcome.Reason)
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})

	t.Run("no answer before the deadline times out", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithPushChallenge()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		start := time.Now()
		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())
		elapsed := time.Since(start)

		if outcome.Status != model.LinkStatusRejected || outcome.Reason != model.ReasonTimeout {
			t.Errorf("Expected rejected/timeout, got %s/%s", outcome.Status, outcome.Reason)
		}
		if elapsed > 2*time.Second {
			t.Errorf("Expected polling to stop near its 300ms deadline, took %s", elapsed)
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})

	t.Run("cancelled request ends polling", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithPushChallenge()
		poll := testutil.FastPollConfig()
		poll.Timeout = 10 * time.Second
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{Poll: poll})

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		outcome := svc.Link.LinkAccount(ctx, testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusRejected || outcome.Reason != model.ReasonCancelled {
			t.Errorf("Expected rejected/cancelled, got %s/%s", outcome.Status, outcome.Reason)
		}
	})

	t.Run("transient poll errors are retried", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().
			WithPushChallenge(broker.PushApproved).
			WithErrors(testutil.OpPushStatus, testutil.NetworkError(testutil.OpPushStatus))
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusLinked {
			t.Errorf("Expected status linked, got %s (%s)", outcome.Status, outcome.Reason)
		}
	})

	t.Run("profile errors right after approval are retried", func(t *testing.T) {
		for name, err := range map[string]error{
			"network":      testutil.NetworkError(testutil.OpAccountProfile),
			"unauthorized": testutil.UnauthorizedError(testutil.OpAccountProfile),
		} {
			t.Run(name, func(t *testing.T) {
				db := testutil.SetupTestDB(t)
				client := testutil.NewMockBrokerClient().
					WithPushChallenge(broker.PushPending, broker.PushApproved).
					WithErrors(testutil.OpAccountProfile, err)
				svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

				outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

				if outcome.Status != model.LinkStatusLinked {
					t.Fatalf("Expected status linked, got %s (%s)", outcome.Status, outcome.Code)
				}
				if client.Calls(testutil.OpAccountProfile) != 2 {
					t.Errorf("Expected 2 profile calls, got %d", client.Calls(testutil.OpAccountProfile))
				}
				testutil.AssertRowCount(t, db, "linked_account", 1)
			})
		}
	})

	t.Run("session never confirmed after approval is not a rejected login", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		refusals := make([]error, 5)
		for i := range refusals {
			refusals[i] = testutil.UnauthorizedError(testutil.OpAccountProfile)
		}
		client := testutil.NewMockBrokerClient().
			WithPushChallenge(broker.PushApproved).
			WithErrors(testutil.OpAccountProfile, refusals...)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		outcome := svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		if outcome.Status != model.LinkStatusFailed || outcome.Code != model.ErrorCodeNetwork {
			t.Errorf("Expected failed/network, got %s/%s", outcome.Status, outcome.Code)
		}
		if client.Calls(testutil.OpAccountProfile) != 5 {
			t.Errorf("Expected 5 profile calls, got %d", client.Calls(testutil.OpAccountProfile))
		}
		testutil.AssertRowCount(t, db, "linked_account", 0)
	})

	t.Run("second attempt while polling is refused", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithPushChallenge()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		done := make(chan model.LinkOutcome, 1)
		go func() { done <- svc.Link.LinkAccount(context.Background(), userID, validCreds()) }()

		deadline := time.Now().Add(time.Second)
		for client.Calls(testutil.OpPushStatus) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}

		outcome := svc.Link.LinkAccount(context.Background(), userID, validCreds())
		if outcome.Status != model.LinkStatusFailed || outcome.Code != model.ErrorCodeLinkInProgress {
			t.Errorf("Expected failed/link_in_progress, got %s/%s", outcome.Status, outcome.Code)
		}

		if first := <-done; first.Reason != model.ReasonTimeout {
			t.Errorf("Expected first attempt to time out, got %s", first.Reason)
		}
	})
}

// TestLinkService_Relink tests linking an account that is already stored.
//
// WHY: Re-linking must refresh credentials in place instead of creating a
// duplicate, and a rejected login must flag the accounts it belongs to so the
// user knows to re-link them.
func TestLinkService_Relink(t *testing.T) {
	t.Run("relinking the same account updates it in place", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithProfile("5QR777", "cash", false)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		first := svc.Link.LinkAccount(context.Background(), userID, validCreds())
		second := svc.Link.LinkAccount(context.Background(), userID, validCreds())

		if first.Status != model.LinkStatusLinked || second.Status != model.LinkStatusLinked {
			t.Fatalf("Expected both links to succeed, got %s and %s", first.Status, second.Status)
		}
		if first.Account.ID != second.Account.ID {
			t.Errorf("Expected same account ID, got %s and %s", first.Account.ID, second.Account.ID)
		}
		testutil.AssertRowCount(t, db, "linked_account", 1)

		stored, err := repository.NewAccountRepository(db).GetAccount(context.Background(), first.Account.ID)
		if err != nil {
			t.Fatalf("GetAccount() returned unexpected error: %v", err)
		}
		var session broker.Session
		if err := svc.Vault.DecryptJSON(stored.SessionEncrypted, &session); err != nil {
			t.Fatalf("Stored session is not readable: %v", err)
		}
		if session.AccessToken != client.LastSession().AccessToken {
			t.Error("Expected the newest session to be stored")
		}
	})

	t.Run("relinking clears a previous failure", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithProfile("5QR778", "cash", false)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()
		existing := testutil.NewLinkedAccount(svc.Vault).
			WithUserID(userID).
			WithAccountNumber("5QR778").
			Failed(model.ErrorCodeAuthRejected).
			Build(t, db)

		outcome := svc.Link.LinkAccount(context.Background(), userID, validCreds())

		if outcome.Status != model.LinkStatusLinked {
			t.Fatalf("Expected status linked, got %s", outcome.Status)
		}
		if outcome.Account.ID != existing.ID {
			t.Errorf("Expected existing account %s to be reused, got %s", existing.ID, outcome.Account.ID)
		}
		if outcome.Account.SyncStatus == model.SyncStatusFailed {
			t.Error("Expected failure to be cleared")
		}
	})

	t.Run("relinking refreshes the cached dashboard", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithProfile("5QR781", "margin", false)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()
		existing := testutil.NewLinkedAccount(svc.Vault).
			WithUserID(userID).
			WithAccountNumber("5QR781").
			Build(t, db)

		before, err := svc.Dashboard.GetDashboard(context.Background(), userID, existing.ID)
		if err != nil {
			t.Fatalf("GetDashboard() returned unexpected error: %v", err)
		}
		if before.AccountType != model.AccountTypeCash {
			t.Fatalf("Expected cash account before relink, got %s", before.AccountType)
		}
		svc.Cache.Wait()

		if outcome := svc.Link.LinkAccount(context.Background(), userID, validCreds()); outcome.Status != model.LinkStatusLinked {
			t.Fatalf("Expected status linked, got %s", outcome.Status)
		}

		after, err := svc.Dashboard.GetDashboard(context.Background(), userID, existing.ID)
		if err != nil {
			t.Fatalf("GetDashboard() returned unexpected error: %v", err)
		}
		if after.AccountType != model.AccountTypeMargin {
			t.Errorf("Expected margin account after relink, got %s", after.AccountType)
		}
	})

	t.Run("same account number for another user is a separate account", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithProfile("5QR779", "cash", false)
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})

		svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())
		svc.Link.LinkAccount(context.Background(), testutil.MakeID(), validCreds())

		testutil.AssertRowCount(t, db, "linked_account", 2)
	})

	t.Run("rejected login marks existing accounts failed", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()
		existing := testutil.CreateLinkedAccount(t, db, svc.Vault, userID)
		other := testutil.NewLinkedAccount(svc.Vault).WithUserID(userID).WithCredentials("someone-else", "pw").Build(t, db)

		outcome := svc.Link.LinkAccount(context.Background(), userID, service.LinkCredentials{
			Username: testutil.TestUsername,
			Password: "changed-elsewhere",
		})
		if outcome.Status != model.LinkStatusRejected {
			t.Fatalf("Expected status rejected, got %s", outcome.Status)
		}

		repo := repository.NewAccountRepository(db)
		flagged, err := repo.GetAccount(context.Background(), existing.ID)
		if err != nil {
			t.Fatalf("GetAccount() returned unexpected error: %v", err)
		}
		if flagged.SyncStatus != model.SyncStatusFailed || flagged.SyncErrorCode != model.ErrorCodeAuthRejected {
			t.Errorf("Expected failed/auth_rejected, got %s/%s", flagged.SyncStatus, flagged.SyncErrorCode)
		}
		if flagged.CredentialsEncrypted != existing.CredentialsEncrypted {
			t.Error("Expected stored credentials to be left untouched")
		}
		if !flagged.IsActive {
			t.Error("Expected account to stay linked")
		}

		untouched, err := repo.GetAccount(context.Background(), other.ID)
		if err != nil {
			t.Fatalf("GetAccount() returned unexpected error: %v", err)
		}
		if untouched.SyncStatus == model.SyncStatusFailed {
			t.Error("Expected account with a different login to be left alone")
		}
	})

	t.Run("network failure does not mark existing accounts failed", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient().WithErrors(testutil.OpLogin, testutil.NetworkError(testutil.OpLogin))
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()
		existing := testutil.CreateLinkedAccount(t, db, svc.Vault, userID)

		svc.Link.LinkAccount(context.Background(), userID, validCreds())

		stored, err := repository.NewAccountRepository(db).GetAccount(context.Background(), existing.ID)
		if err != nil {
			t.Fatalf("GetAccount() returned unexpected error: %v", err)
		}
		if stored.SyncStatus != model.SyncStatusNeverSynced {
			t.Errorf("Expected status never_synced, got %s", stored.SyncStatus)
		}
	})

	t.Run("accounts of a user are listed after linking", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		client := testutil.NewMockBrokerClient()
		svc := testutil.NewTestServices(t, db, client, testutil.ServiceOptions{})
		userID := testutil.MakeID()

		svc.Link.LinkAccount(context.Background(), userID, validCreds())

		if got := len(listAccounts(t, svc, userID)); got != 1 {
			t.Errorf("Expected 1 account, got %d", got)
		}
		if got := len(listAccounts(t, svc, testutil.MakeID())); got != 0 {
			t.Errorf("Expected no accounts for another user, got %d", got)
		}
	})
}
