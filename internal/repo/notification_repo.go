// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file implements the notification queue: job inserts,
// candidate selection, the claim compare-and-swap and the status transitions
// used by the delivery workers.
//
// Claim semantics:
//
//	UPDATE <jobs> SET status='processing', claimed_at=now
//	 WHERE id=? AND (status='pending' OR (status='processing' AND claimed_at < cutoff))
//
// A claim succeeds only when exactly one row was affected, so two workers
// racing on the same job cannot both deliver it. A processing row whose claim
// is older than the claim TTL belongs to a crashed worker and is reclaimable.
// Completion updates are guarded by status='processing' and by the claim's
// claimed_at, which acts as a fencing token: a worker whose claim expired and
// was taken over cannot overwrite the new owner's outcome, and no late worker
// can move a job out of a terminal state.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

const claimableWhere = "(status = ? OR (status = ? AND claimed_at < ?))"

// ClaimStamp is the claimed_at value stored for a claim made at now. It is
// truncated to microseconds so it compares equal after a database round trip.
func ClaimStamp(now time.Time) time.Time {
	return now.UTC().Truncate(time.Microsecond)
}

// InsertWebhookJobs enqueues one pending webhook job per URL. Existing
// (response, url) pairs are left untouched. Returns the number inserted.
func InsertWebhookJobs(ctx context.Context, db *gorm.DB, responseID string, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	jobs := make([]domain.WebhookNotification, 0, len(urls))
	for _, u := range urls {
		jobs = append(jobs, domain.WebhookNotification{
			ID:         uuid.NewString(),
			ResponseID: responseID,
			WebhookURL: u,
			Status:     domain.StatusPending,
			CreatedAt:  now,
			UpdatedAt:  now,
		})
	}
	res := db.WithContext(ctx).
		Omit("Response").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&jobs)
	return res.RowsAffected, res.Error
}

// InsertEmailJob enqueues the pending email job of a response unless one
// already exists. Reports whether a row was inserted.
func InsertEmailJob(ctx context.Context, db *gorm.DB, responseID string) (bool, error) {
	now := time.Now().UTC()
	job := domain.EmailNotification{
		ID:         uuid.NewString(),
		ResponseID: responseID,
		Status:     domain.StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	res := db.WithContext(ctx).
		Omit("Response").
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&job)
	return res.RowsAffected == 1, res.Error
}

// ListClaimableWebhooks returns up to limit webhook jobs that are pending or
// hold a claim older than cutoff, oldest first. Selection is advisory; only a
// successful ClaimWebhook grants the right to deliver.
func ListClaimableWebhooks(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]domain.WebhookNotification, error) {
	var out []domain.WebhookNotification
	err := db.WithContext(ctx).
		Where(claimableWhere, domain.StatusPending, domain.StatusProcessing, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// ClaimWebhook atomically moves a claimable job to processing, stamping it
// with ClaimStamp(now). It returns false when another worker got there first
// or the job is no longer claimable.
func ClaimWebhook(ctx context.Context, db *gorm.DB, id string, now, cutoff time.Time) (bool, error) {
	res := db.WithContext(ctx).Model(&domain.WebhookNotification{}).
		Where("id = ?", id).
		Where(claimableWhere, domain.StatusPending, domain.StatusProcessing, cutoff).
		Updates(map[string]any{
			"status":     domain.StatusProcessing,
			"claimed_at": ClaimStamp(now),
			"updated_at": now,
		})
	return res.RowsAffected == 1, res.Error
}

// MarkWebhookSent records a successful delivery of the claim stamped
// claimedAt.
func MarkWebhookSent(ctx context.Context, db *gorm.DB, id string, claimedAt time.Time, attempts int, now time.Time) error {
	return finishClaim(ctx, db, &domain.WebhookNotification{}, id, claimedAt, map[string]any{
		"status":          domain.StatusSent,
		"attempts":        attempts,
		"sent_at":         now,
		"last_attempt_at": now,
		"error_message":   nil,
		"claimed_at":      nil,
		"updated_at":      now,
	})
}

// MarkWebhookFailed records a failed attempt. status is pending for a retry
// or failed when the job is terminal.
func MarkWebhookFailed(ctx context.Context, db *gorm.DB, id string, claimedAt time.Time, attempts int, status, msg string, now time.Time) error {
	return finishClaim(ctx, db, &domain.WebhookNotification{}, id, claimedAt, map[string]any{
		"status":          status,
		"attempts":        attempts,
		"error_message":   msg,
		"last_attempt_at": now,
		"claimed_at":      nil,
		"updated_at":      now,
	})
}

// ListPendingEmailResponses returns distinct response ids that have claimable
// email jobs, oldest first.
func ListPendingEmailResponses(ctx context.Context, db *gorm.DB, cutoff time.Time, limit int) ([]string, error) {
	var rows []struct {
		ResponseID string
	}
	err := db.WithContext(ctx).Model(&domain.EmailNotification{}).
		Select("response_id, MIN(created_at) AS first_created").
		Where(claimableWhere, domain.StatusPending, domain.StatusProcessing, cutoff).
		Group("response_id").
		Order("first_created ASC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ResponseID
	}
	return ids, nil
}

// ClaimEmailJobs claims every claimable email job of a response and returns
// the ones this caller now owns.
func ClaimEmailJobs(ctx context.Context, db *gorm.DB, responseID string, now, cutoff time.Time) ([]domain.EmailNotification, error) {
	var candidates []domain.EmailNotification
	if err := db.WithContext(ctx).
		Where("response_id = ?", responseID).
		Where(claimableWhere, domain.StatusPending, domain.StatusProcessing, cutoff).
		Find(&candidates).Error; err != nil {
		return nil, err
	}
	stamp := ClaimStamp(now)
	claimed := candidates[:0]
	for _, j := range candidates {
		res := db.WithContext(ctx).Model(&domain.EmailNotification{}).
			Where("id = ?", j.ID).
			Where(claimableWhere, domain.StatusPending, domain.StatusProcessing, cutoff).
			Updates(map[string]any{
				"status":     domain.StatusProcessing,
				"claimed_at": stamp,
				"updated_at": now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 1 {
			j.Status = domain.StatusProcessing
			j.ClaimedAt = &stamp
			claimed = append(claimed, j)
		}
	}
	return claimed, nil
}

// MarkEmailSent records a successful send with the recipients used.
func MarkEmailSent(ctx context.Context, db *gorm.DB, id string, claimedAt time.Time, recipients []string, now time.Time) error {
	return finishClaim(ctx, db, &domain.EmailNotification{}, id, claimedAt, map[string]any{
		"status":          domain.StatusSent,
		"recipients":      recipientsColumn(recipients),
		"sent_at":         now,
		"last_attempt_at": now,
		"error_message":   nil,
		"claimed_at":      nil,
		"updated_at":      now,
	})
}

// MarkEmailFailed records a failed send. status is pending for a retry or
// failed when the job is terminal.
func MarkEmailFailed(ctx context.Context, db *gorm.DB, id string, claimedAt time.Time, retryCount int, status, msg string, now time.Time) error {
	return finishClaim(ctx, db, &domain.EmailNotification{}, id, claimedAt, map[string]any{
		"status":          status,
		"retry_count":     retryCount,
		"error_message":   msg,
		"last_attempt_at": now,
		"claimed_at":      nil,
		"updated_at":      now,
	})
}

func recipientsColumn(r []string) datatypes.JSONSlice[string] {
	return datatypes.JSONSlice[string](r)
}

func finishClaim(ctx context.Context, db *gorm.DB, model any, id string, claimedAt time.Time, cols map[string]any) error {
	res := db.WithContext(ctx).Model(model).
		Where("id = ? AND status = ? AND claimed_at = ?", id, domain.StatusProcessing, ClaimStamp(claimedAt)).
		Updates(cols)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// JobFilter narrows operator job listings.
type JobFilter struct {
	Status     string
	ResponseID string
	Offset     int
	Limit      int
}

func (f JobFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.ResponseID != "" {
		q = q.Where("response_id = ?", f.ResponseID)
	}
	if f.Limit <= 0 {
		f.Limit = 50
	}
	return q.Order("created_at DESC").Offset(f.Offset).Limit(f.Limit)
}

// ListWebhookJobs lists webhook jobs for operator inspection.
func ListWebhookJobs(ctx context.Context, db *gorm.DB, f JobFilter) ([]domain.WebhookNotification, error) {
	var out []domain.WebhookNotification
	err := f.apply(db.WithContext(ctx).Model(&domain.WebhookNotification{})).Find(&out).Error
	return out, err
}

// ListEmailJobs lists email jobs for operator inspection.
func ListEmailJobs(ctx context.Context, db *gorm.DB, f JobFilter) ([]domain.EmailNotification, error) {
	var out []domain.EmailNotification
	err := f.apply(db.WithContext(ctx).Model(&domain.EmailNotification{})).Find(&out).Error
	return out, err
}
