// Package secrets encrypts sensitive connector-config fields with the
// service secret. Adapters never touch crypto directly; they go through the
// Store interface so the scheme can change in one place.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

// TokenEncryptedKey is the marker key set on a connector config map once its
// sensitive fields have been encrypted. It keeps double-encryption out and is
// excluded from settings hashing.
const TokenEncryptedKey = "_token_encrypted"

// SensitiveConfigKeys are the config-map fields encrypted at rest.
var SensitiveConfigKeys = []string{
	"token",
	"api_key",
	"api_token",
	"bot_token",
	"personal_access_token",
	"access_token",
	"refresh_token",
	"client_secret",
	"secret_key",
	"password",
}

// ErrNotEncrypted is returned when a value lacks the expected envelope.
var ErrNotEncrypted = errors.New("value is not an encrypted field")

// Store encrypts and decrypts individual field values.
type Store interface {
	EncryptField(plaintext string) (string, error)
	DecryptField(ciphertext string) (string, error)
}

// aesStore is the AES-256-GCM implementation. The key derives from the
// service secret by SHA-256 so operators can use a passphrase of any length.
type aesStore struct {
	key [32]byte
}

// NewStore builds a Store from the service secret.
func NewStore(serviceSecret string) (Store, error) {
	if serviceSecret == "" {
		return nil, errors.New("service secret is required for credential encryption")
	}
	return &aesStore{key: sha256.Sum256([]byte(serviceSecret))}, nil
}

const envelopePrefix = "enc:v1:"

// EncryptField seals a value as enc:v1:<base64(nonce || ciphertext)>.
func (s *aesStore) EncryptField(plaintext string) (string, error) {
	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopePrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField opens a value sealed by EncryptField.
func (s *aesStore) DecryptField(ciphertext string) (string, error) {
	if len(ciphertext) <= len(envelopePrefix) || ciphertext[:len(envelopePrefix)] != envelopePrefix {
		return "", ErrNotEncrypted
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext[len(envelopePrefix):])
	if err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}

	block, err := aes.NewCipher(s.key[:])
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("init gcm: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", errors.New("envelope too short")
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt field: %w", err)
	}
	return string(plain), nil
}

// IsEncrypted reports whether a value carries the encryption envelope.
func IsEncrypted(value string) bool {
	return len(value) > len(envelopePrefix) && value[:len(envelopePrefix)] == envelopePrefix
}

// EncryptConfig encrypts the sensitive keys of a connector config map in
// place and sets the marker key. Already-encrypted values are left alone, so
// the call is idempotent.
func EncryptConfig(store Store, cfg map[string]interface{}) error {
	for _, key := range SensitiveConfigKeys {
		raw, ok := cfg[key]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || value == "" || IsEncrypted(value) {
			continue
		}
		sealed, err := store.EncryptField(value)
		if err != nil {
			return fmt.Errorf("encrypt config key %s: %w", key, err)
		}
		cfg[key] = sealed
	}
	cfg[TokenEncryptedKey] = true
	return nil
}

// DecryptConfig returns a copy of the config map with sensitive keys
// decrypted and the marker key removed. The stored map is never mutated.
func DecryptConfig(store Store, cfg map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(cfg))
	for k, v := range cfg {
		if k == TokenEncryptedKey {
			continue
		}
		out[k] = v
	}
	for _, key := range SensitiveConfigKeys {
		raw, ok := out[key]
		if !ok {
			continue
		}
		value, ok := raw.(string)
		if !ok || !IsEncrypted(value) {
			continue
		}
		plain, err := store.DecryptField(value)
		if err != nil {
			return nil, fmt.Errorf("decrypt config key %s: %w", key, err)
		}
		out[key] = plain
	}
	return out, nil
}
