// Package crypto seals the remote API token before it is written to the
// local store. Uses AES-256-GCM with a key derived from the machine identity.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"os"

	"golang.org/x/crypto/hkdf"
)

var (
	// ErrInvalidCiphertext is returned when decryption fails.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
	// ErrEmptyToken is returned when sealing an empty token.
	ErrEmptyToken = errors.New("token cannot be empty")
)

var keySalt = []byte("stashsync:token")

// Encrypt encrypts plaintext with a 32-byte key and returns base64(nonce|ciphertext).
func Encrypt(plaintext []byte, key [32]byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := gcm.Seal(nonce, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Any tampering or key mismatch yields ErrInvalidCiphertext.
func Decrypt(ciphertext string, key [32]byte) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, ErrInvalidCiphertext
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return nil, ErrInvalidCiphertext
	}
	return plaintext, nil
}

func newGCM(key [32]byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// DeriveKey derives a consistent key from a machine-specific identifier.
func DeriveKey(machineID string) [32]byte {
	var key [32]byte
	r := hkdf.New(sha256.New, []byte(machineID), keySalt, []byte("api-token"))
	if _, err := io.ReadFull(r, key[:]); err != nil {
		// HKDF-SHA256 yields up to 8160 bytes; 32 cannot fail.
		panic(err)
	}
	return key
}

// MachineID returns configured when set, else the host name.
func MachineID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "stashsync-default"
}

// TokenBox seals and opens API tokens for one machine.
type TokenBox struct {
	key [32]byte
}

// NewTokenBox creates a TokenBox keyed on machineID.
func NewTokenBox(machineID string) *TokenBox {
	return &TokenBox{key: DeriveKey(machineID)}
}

// Seal encrypts token for storage.
func (b *TokenBox) Seal(token string) (string, error) {
	if token == "" {
		return "", ErrEmptyToken
	}
	return Encrypt([]byte(token), b.key)
}

// Open decrypts a stored token. An empty value means no token is set.
func (b *TokenBox) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	plaintext, err := Decrypt(sealed, b.key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
