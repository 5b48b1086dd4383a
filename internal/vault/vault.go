// Package vault encrypts brokerage credentials and session tokens at rest.
//
// Ciphertexts are Fernet tokens (AES-128-CBC with HMAC-SHA256). The first key
// passed to New encrypts; every key decrypts, which lets records written under
// a previous key stay readable until they are re-encrypted.
package vault

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fernet/fernet-go"

	"github.com/ndewijer/Portfolio-Performance-Tracker/internal/apperrors"
)

// envelopeV1 prefixes every plaintext so an empty input still yields a
// non-empty Fernet payload.
const envelopeV1 byte = 0x01

// Vault holds the process-wide encryption keys. It is safe for concurrent use
// and never mutated after construction.
type Vault struct {
	keys           []*fernet.Key
	fingerprintKey []byte
}

// New creates a Vault from a base64 encoded primary key and optional previous keys.
// Returns ErrKeyNotConfigured when the primary key is empty.
func New(primaryKey string, previousKeys ...string) (*Vault, error) {
	if strings.TrimSpace(primaryKey) == "" {
		return nil, apperrors.ErrKeyNotConfigured
	}

	encoded := append([]string{primaryKey}, previousKeys...)
	keys, err := fernet.DecodeKeys(encoded...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrKeyNotConfigured, err)
	}

	primary := *keys[0]
	mac := hmac.New(sha256.New, primary[:])
	mac.Write([]byte("linked-account-fingerprint"))

	return &Vault{
		keys:           keys,
		fingerprintKey: mac.Sum(nil),
	}, nil
}

// GenerateKey returns a new random key in the encoding New expects.
func GenerateKey() (string, error) {
	var k fernet.Key
	if err := k.Generate(); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return k.Encode(), nil
}

// Encrypt seals plaintext with the primary key.
func (v *Vault) Encrypt(plaintext []byte) (string, error) {
	buf := make([]byte, 0, len(plaintext)+1)
	buf = append(buf, envelopeV1)
	buf = append(buf, plaintext...)
	defer zero(buf)

	tok, err := fernet.EncryptAndSign(buf, v.keys[0])
	if err != nil {
		return "", fmt.Errorf("failed to encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a ciphertext produced by Encrypt under any configured key.
// Malformed, tampered, or foreign-key input returns ErrDecryption.
func (v *Vault) Decrypt(ciphertext string) ([]byte, error) {
	if ciphertext == "" {
		return nil, apperrors.ErrDecryption
	}

	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, v.keys)
	if len(msg) == 0 || msg[0] != envelopeV1 {
		return nil, apperrors.ErrDecryption
	}

	out := make([]byte, len(msg)-1)
	copy(out, msg[1:])
	zero(msg)
	return out, nil
}

// EncryptJSON marshals value and encrypts the result.
func (v *Vault) EncryptJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}
	defer zero(data)
	return v.Encrypt(data)
}

// DecryptJSON decrypts ciphertext into out.
func (v *Vault) DecryptJSON(ciphertext string, out any) error {
	data, err := v.Decrypt(ciphertext)
	if err != nil {
		return err
	}
	defer zero(data)

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid payload", apperrors.ErrDecryption)
	}
	return nil
}

// Reencrypt decrypts with any configured key and encrypts again with the primary key.
func (v *Vault) Reencrypt(ciphertext string) (string, error) {
	data, err := v.Decrypt(ciphertext)
	if err != nil {
		return "", err
	}
	defer zero(data)
	return v.Encrypt(data)
}

// Fingerprint returns a stable keyed digest of a login identifier, so records
// can be matched to a username without storing it.
func (v *Vault) Fingerprint(identifier string) string {
	mac := hmac.New(sha256.New, v.fingerprintKey)
	mac.Write([]byte(strings.ToLower(strings.TrimSpace(identifier))))
	return hex.EncodeToString(mac.Sum(nil))
}

// Credentials is the plaintext shape sealed into linked_account.credentials_encrypted.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Zero overwrites b in place.
func Zero(b []byte) { zero(b) }

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
