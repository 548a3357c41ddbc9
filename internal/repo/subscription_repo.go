// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for Zapier REST
// hook subscriptions and API keys.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

// CreateSubscription registers targetURL for new responses of formID.
// Returns ErrDuplicate when the pair is already subscribed.
func CreateSubscription(ctx context.Context, db *gorm.DB, clientID, formID, targetURL string) (*domain.WebhookSubscription, error) {
	s := &domain.WebhookSubscription{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		FormID:    formID,
		TargetURL: targetURL,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Form").Create(s).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return s, nil
}

// DeleteSubscription removes a subscription; ErrNotFound when none matched.
func DeleteSubscription(ctx context.Context, db *gorm.DB, clientID, formID, targetURL string) error {
	res := db.WithContext(ctx).
		Where("client_id = ? AND form_id = ? AND target_url = ?", clientID, formID, targetURL).
		Delete(&domain.WebhookSubscription{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSubscriptionURLs returns the distinct target URLs subscribed to formID.
func ListSubscriptionURLs(ctx context.Context, db *gorm.DB, formID string) ([]string, error) {
	var urls []string
	err := db.WithContext(ctx).Model(&domain.WebhookSubscription{}).
		Where("form_id = ?", formID).
		Distinct().
		Order("target_url ASC").
		Pluck("target_url", &urls).Error
	return urls, err
}

// CreateAPIKey stores the hash of a newly issued key.
func CreateAPIKey(ctx context.Context, db *gorm.DB, clientID, name, prefix, hash string) (*domain.APIKey, error) {
	k := &domain.APIKey{
		ID:        uuid.NewString(),
		ClientID:  clientID,
		Name:      name,
		Prefix:    prefix,
		KeyHash:   hash,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Omit("Client").Create(k).Error; err != nil {
		if IsUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return k, nil
}

// GetAPIKeyByHash returns the non-revoked key with the given hash.
func GetAPIKeyByHash(ctx context.Context, db *gorm.DB, hash string) (*domain.APIKey, error) {
	var k domain.APIKey
	err := db.WithContext(ctx).
		Where("key_hash = ? AND revoked_at IS NULL", hash).
		First(&k).Error
	if err != nil {
		return nil, err
	}
	return &k, nil
}

// TouchAPIKey updates last_used_at. Errors are not interesting to callers
// beyond logging.
func TouchAPIKey(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	return db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ?", id).
		Update("last_used_at", now).Error
}

// RevokeAPIKey marks a key revoked; ErrNotFound when it does not exist.
func RevokeAPIKey(ctx context.Context, db *gorm.DB, id string, now time.Time) error {
	res := db.WithContext(ctx).Model(&domain.APIKey{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
