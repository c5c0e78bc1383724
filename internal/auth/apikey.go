package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/petcare-market/maintenance-gate/internal/domain"
)

// APIKeyPrefix starts every generated key so it is recognisable in logs and configs.
const APIKeyPrefix = "mgk_"

// BootstrapKeyID identifies the configured bootstrap key in sessions and audit fields.
const BootstrapKeyID = "bootstrap"

// KeyStore is the part of storage used to verify API keys.
type KeyStore interface {
	CountAPIKeys(ctx context.Context) (int, error)
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id string) error
}

// GenerateAPIKey returns a new random key with its hash and display prefix.
func GenerateAPIKey() (key, hash, prefix string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", "", err
	}
	key = APIKeyPrefix + hex.EncodeToString(b)
	return key, HashAPIKey(key), key[:len(APIKeyPrefix)+8], nil
}

// HashAPIKey hashes a key for storage and lookup. Keys are high-entropy, so
// a plain SHA-256 is enough.
func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}

// VerifyAPIKey resolves a presented key to its stored record. The bootstrap
// key is accepted only while no keys exist. Unknown keys yield
// domain.ErrUnauthorized.
func VerifyAPIKey(ctx context.Context, store KeyStore, bootstrapKey, presented string) (*domain.APIKey, error) {
	if presented == "" {
		return nil, domain.ErrUnauthorized
	}

	count, err := store.CountAPIKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting API keys: %w", err)
	}
	if count == 0 && bootstrapKey != "" && ConstantTimeCompare(presented, bootstrapKey) {
		return &domain.APIKey{ID: BootstrapKeyID, Name: "Bootstrap Key"}, nil
	}

	key, err := store.GetAPIKeyByHash(ctx, HashAPIKey(presented))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, fmt.Errorf("looking up API key: %w", err)
	}

	go func() {
		if err := store.UpdateAPIKeyLastUsed(context.Background(), key.ID); err != nil {
			log.Debug("Failed to record API key use", "id", key.ID, "error", err)
		}
	}()
	return key, nil
}
