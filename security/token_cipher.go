// ABOUTME: Symmetric encryption for OAuth token material at rest
// ABOUTME: AES-256-GCM keyed by a process-wide secret, random nonce per call

package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
)

var (
	// ErrCipherKeyMissing is a fatal startup condition: the process secret
	// is absent. The caller must exit, not retry.
	ErrCipherKeyMissing = errors.New("token cipher key is not configured")

	// ErrCiphertextInvalid reports ciphertext that cannot be decoded or
	// authenticated with the configured key.
	ErrCiphertextInvalid = errors.New("ciphertext is malformed or was produced with a different key")
)

const gcmNonceSize = 12

// argon2id parameters for passphrase keys, matching the interactive
// recommendation of RFC 9106.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

// kdfSalt is fixed: the derived key protects a single machine-held secret,
// not a per-user password database.
var kdfSalt = []byte("withings-sidecar/token-cipher/v1")

// TokenCipher encrypts and decrypts token strings with AES-256-GCM.
// Output is base64(nonce || ciphertext). It never logs plaintext or
// ciphertext.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher builds a cipher from the process secret. The secret is
// either a base64-encoded 32-byte key or an arbitrary passphrase, which is
// stretched with argon2id. An empty secret is a configuration error.
func NewTokenCipher(secret string) (*TokenCipher, error) {
	if secret == "" {
		return nil, ErrCipherKeyMissing
	}

	key := deriveKey(secret)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM mode: %w", err)
	}

	return &TokenCipher{aead: aead}, nil
}

// Encrypt seals the plaintext under a fresh random nonce. Safe for repeated
// calls with the same input; output differs per call.
func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, gcmNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Fails with ErrCiphertextInvalid for anything
// that was not produced by this cipher with the same key.
func (c *TokenCipher) Decrypt(encoded string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}
	if len(raw) < gcmNonceSize {
		return "", ErrCiphertextInvalid
	}

	nonce, ciphertext := raw[:gcmNonceSize], raw[gcmNonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCiphertextInvalid, err)
	}

	return string(plaintext), nil
}

// deriveKey accepts a base64-encoded 32-byte key verbatim and stretches
// anything else with argon2id.
func deriveKey(secret string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(secret); err == nil && len(decoded) == kdfKeyLen {
		return decoded
	}
	return argon2.IDKey([]byte(secret), kdfSalt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
}
