// Package security seals provider API keys before they reach the settings
// file on disk, so the document can be synced or backed up without leaking
// credentials.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// sealedPrefix marks values that have been through Seal. Load paths use it
// to tell sealed keys from plaintext ones left by older documents.
const sealedPrefix = "enc:v1:"

// Sealer encrypts short secrets with AES-GCM, one random nonce per value.
type Sealer struct {
	gcm cipher.AEAD
}

// NewSealer builds a Sealer from a 16, 24 or 32 byte key (AES-128/192/256).
func NewSealer(key string) (*Sealer, error) {
	k := []byte(key)
	switch len(k) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("sealer key must be 16, 24, or 32 bytes; got %d", len(k))
	}
	block, err := aes.NewCipher(k)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return &Sealer{gcm: gcm}, nil
}

// Seal encrypts plain and returns "enc:v1:" + base64(nonce || ciphertext).
// Already-sealed values pass through unchanged so Seal is idempotent.
func (s *Sealer) Seal(plain string) (string, error) {
	if plain == "" || IsSealed(plain) {
		return plain, nil
	}
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	ct := s.gcm.Seal(nonce, nonce, []byte(plain), nil)
	return sealedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a sealed value. Plaintext values pass through unchanged.
func (s *Sealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return sealed, nil
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode sealed value: %w", err)
	}
	n := s.gcm.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("sealed value too short")
	}
	plain, err := s.gcm.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("open sealed value: %w", err)
	}
	return string(plain), nil
}

// IsSealed reports whether v carries the sealed marker.
func IsSealed(v string) bool { return strings.HasPrefix(v, sealedPrefix) }
