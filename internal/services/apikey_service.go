package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// APIKeyPrefix starts every issued key.
const APIKeyPrefix = "dk_live_"

const apiKeySecretLen = 32 // hex chars after the prefix

// APIKeyService issues and authenticates client API keys.
type APIKeyService struct {
	DB *gorm.DB
}

// IssuedKey is a freshly issued key. Key is only ever available here.
type IssuedKey struct {
	Key    string         `json:"key"`
	Record *domain.APIKey `json:"record"`
}

// Issue creates a key for clientID and returns its plaintext once.
func (s *APIKeyService) Issue(ctx context.Context, clientID, name string) (*IssuedKey, error) {
	tr := otel.Tracer("services/APIKeyService")
	ctx, span := tr.Start(ctx, "Issue", trace.WithAttributes(attribute.String("client.id", clientID)))
	defer span.End()

	if _, err := repo.GetClient(ctx, s.DB, clientID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrClientNotFound
		}
		return nil, err
	}
	raw, err := newAPIKey()
	if err != nil {
		return nil, err
	}
	rec, err := repo.CreateAPIKey(ctx, s.DB, clientID, strings.TrimSpace(name), raw[:len(APIKeyPrefix)+4], HashAPIKey(raw))
	if err != nil {
		return nil, err
	}
	return &IssuedKey{Key: raw, Record: rec}, nil
}

// Authenticate resolves a plaintext key. Malformed, unknown and revoked keys
// all yield ErrInvalidAPIKey.
func (s *APIKeyService) Authenticate(ctx context.Context, raw string) (*domain.APIKey, error) {
	raw = strings.TrimSpace(raw)
	if !ValidAPIKeyFormat(raw) {
		return nil, ErrInvalidAPIKey
	}
	k, err := repo.GetAPIKeyByHash(ctx, s.DB, HashAPIKey(raw))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrInvalidAPIKey
	}
	if err != nil {
		return nil, err
	}
	if err := repo.TouchAPIKey(ctx, s.DB, k.ID, time.Now().UTC()); err != nil {
		log.Warn().Err(err).Str("key_id", k.ID).Msg("touch api key")
	}
	return k, nil
}

// Revoke disables a key by id.
func (s *APIKeyService) Revoke(ctx context.Context, id string) error {
	err := repo.RevokeAPIKey(ctx, s.DB, id, time.Now().UTC())
	if errors.Is(err, repo.ErrNotFound) {
		return ErrInvalidAPIKey
	}
	return err
}

// ValidAPIKeyFormat reports whether raw is the prefix followed by 32
// lowercase hex characters.
func ValidAPIKeyFormat(raw string) bool {
	secret, ok := strings.CutPrefix(raw, APIKeyPrefix)
	if !ok || len(secret) != apiKeySecretLen {
		return false
	}
	for _, c := range secret {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// HashAPIKey returns the hex SHA-256 of raw, the stored form of a key.
func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func newAPIKey() (string, error) {
	b := make([]byte, apiKeySecretLen/2)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return APIKeyPrefix + hex.EncodeToString(b), nil
}
