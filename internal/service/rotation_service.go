package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/database"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/repository"
	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/vault"
)

// RotationReport counts what a key rotation rewrote.
type RotationReport struct {
	Accounts        int
	SessionsDropped int
	Unreadable      []string
}

// KeyRotationService re-encrypts stored credentials and sessions under the
// vault's primary key.
type KeyRotationService struct {
	db          *sql.DB
	accountRepo *repository.AccountRepository
	vault       *vault.Vault
}

// NewKeyRotationService creates a new KeyRotationService.
func NewKeyRotationService(db *sql.DB, accountRepo *repository.AccountRepository, v *vault.Vault) *KeyRotationService {
	return &KeyRotationService{db: db, accountRepo: accountRepo, vault: v}
}

// Rotate rewrites every account, active or not, in one transaction. Login
// fingerprints are recomputed because they are keyed on the primary key.
// A session that no configured key can open is dropped; the next sync logs in
// again. Credentials that no key can open are left untouched and reported.
func (s *KeyRotationService) Rotate(ctx context.Context) (RotationReport, error) {
	var report RotationReport

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		repo := s.accountRepo.WithTx(tx)

		accounts, err := repo.ListAllAccounts(ctx)
		if err != nil {
			return err
		}

		for _, a := range accounts {
			var creds vault.Credentials
			if err := s.vault.DecryptJSON(a.CredentialsEncrypted, &creds); err != nil {
				if errors.Is(err, apperrors.ErrDecryption) {
					log.Printf("Key rotation: credentials of account %s are unreadable, skipping", a.ID)
					report.Unreadable = append(report.Unreadable, a.ID)
					continue
				}
				return err
			}

			credentials, err := s.vault.EncryptJSON(creds)
			fingerprint := s.vault.Fingerprint(creds.Username)
			if err != nil {
				return fmt.Errorf("failed to encrypt credentials of account %s: %w", a.ID, err)
			}

			session := ""
			if a.SessionEncrypted != "" {
				session, err = s.vault.Reencrypt(a.SessionEncrypted)
				if err != nil {
					report.SessionsDropped++
					session = ""
				}
			}

			if err := repo.UpdateEncrypted(ctx, a.ID, fingerprint, credentials, session); err != nil {
				return err
			}
			report.Accounts++
		}
		return nil
	})
	if err != nil {
		return RotationReport{}, fmt.Errorf("key rotation failed: %w", err)
	}

	log.Printf("Key rotation: %d accounts rewritten, %d sessions dropped, %d unreadable",
		report.Accounts, report.SessionsDropped, len(report.Unreadable))
	return report, nil
}
