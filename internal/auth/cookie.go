// Package auth signs in administrators of the maintenance console: sealed
// session and state cookies plus an optional OIDC provider.
package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrInvalidCookie is returned for missing, tampered or expired cookies.
var ErrInvalidCookie = errors.New("invalid cookie")

// KeySize is the required secret length (AES-256).
const KeySize = 32

// sealer encrypts JSON values into cookie-safe strings with AES-256-GCM.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(key []byte) (*sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("cookie key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &sealer{aead: aead}, nil
}

func (s *sealer) seal(v any) (string, error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling cookie: %w", err)
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(s.aead.Seal(nonce, nonce, plaintext, nil)), nil
}

func (s *sealer) open(encoded string, v any) error {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	n := s.aead.NonceSize()
	if len(raw) < n {
		return fmt.Errorf("%w: too short", ErrInvalidCookie)
	}
	plaintext, err := s.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCookie, err)
	}
	return nil
}

// cookieJar writes and clears one named cookie scoped to a path.
type cookieJar struct {
	name   string
	path   string
	secure bool
}

func (c cookieJar) set(w http.ResponseWriter, value string, maxAge time.Duration) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    value,
		Path:     c.path,
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
}

func (c cookieJar) clear(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     c.name,
		Value:    "",
		Path:     c.path,
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   c.secure,
	})
}

// ConstantTimeCompare performs a constant-time comparison of two strings.
func ConstantTimeCompare(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
