// Package encryption seals PHI fields before they reach the database.
package encryption

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

const nonceSize = 12

var (
	// ErrDecrypt is returned for malformed, truncated or tampered ciphertext.
	ErrDecrypt = errors.New("encryption: unable to decrypt value")
	// ErrEmptySecret is returned when no secret key is configured.
	ErrEmptySecret = errors.New("encryption: secret key required")
)

// Cipher encrypts strings with AES-256-GCM. The key is SHA-256 of the secret.
type Cipher struct {
	aead cipher.AEAD
	rand io.Reader
}

// New derives the AES key from secret.
func New(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	key := sha256.Sum256([]byte(secret))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("encryption: new cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, nonceSize)
	if err != nil {
		return nil, fmt.Errorf("encryption: new gcm: %w", err)
	}
	return &Cipher{aead: aead, rand: rand.Reader}, nil
}

// Encrypt returns base64(nonce || ciphertext). Empty input stays empty.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	nonce := make([]byte, nonceSize, nonceSize+len(plaintext)+c.aead.Overhead())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return "", fmt.Errorf("encryption: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if encoded == "" {
		return "", nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < nonceSize+c.aead.Overhead() {
		return "", ErrDecrypt
	}
	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", ErrDecrypt
	}
	return string(plain), nil
}

// EncryptPtr is Encrypt for optional fields; nil stays nil.
func (c *Cipher) EncryptPtr(plaintext *string) (*string, error) {
	if plaintext == nil {
		return nil, nil
	}
	out, err := c.Encrypt(*plaintext)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DecryptPtr is Decrypt for optional fields; nil stays nil.
func (c *Cipher) DecryptPtr(encoded *string) (*string, error) {
	if encoded == nil {
		return nil, nil
	}
	out, err := c.Decrypt(*encoded)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
