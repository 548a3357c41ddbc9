// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for responses,
// their answers and submission issues.
//
// Responses are write-once: CreateResponse and CreateAnswers are meant to run
// inside the submission transaction, and the only mutation afterwards is
// DeleteResponse (operator action, cascades to answers and jobs).
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

// CreateResponse inserts r, assigning an id and timestamps when missing.
func CreateResponse(ctx context.Context, db *gorm.DB, r *domain.Response) error {
	now := time.Now().UTC()
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = now
	}
	r.CreatedAt = now
	return db.WithContext(ctx).Omit("Form").Create(r).Error
}

// CreateAnswers inserts all answers of a response in one statement.
func CreateAnswers(ctx context.Context, db *gorm.DB, answers []domain.ResponseAnswer) error {
	if len(answers) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range answers {
		if answers[i].ID == "" {
			answers[i].ID = uuid.NewString()
		}
		answers[i].CreatedAt = now
	}
	return db.WithContext(ctx).
		Omit("Response", "Step", "SelectedOption").
		Create(&answers).Error
}

// GetResponse fetches a response by id.
func GetResponse(ctx context.Context, db *gorm.DB, id string) (*domain.Response, error) {
	var r domain.Response
	if err := db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &r, nil
}

// ListAnswers returns a response's answers joined to their step and selected
// option, ordered by step position.
func ListAnswers(ctx context.Context, db *gorm.DB, responseID string) ([]domain.ResponseAnswer, error) {
	var out []domain.ResponseAnswer
	err := db.WithContext(ctx).
		Preload("Step").
		Preload("SelectedOption").
		Joins("JOIN form_steps ON form_steps.id = response_answers.step_id").
		Where("response_answers.response_id = ?", responseID).
		Order("form_steps.position ASC").
		Find(&out).Error
	return out, err
}

// ListRecentResponses returns up to limit responses of a form, newest first.
func ListRecentResponses(ctx context.Context, db *gorm.DB, formID string, limit int) ([]domain.Response, error) {
	var out []domain.Response
	err := db.WithContext(ctx).
		Where("form_id = ?", formID).
		Order("submitted_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// missingJobsWhere matches responses lacking a job they recorded at
// submission: the email job, or one of their webhook jobs.
const missingJobsWhere = `(responses.notify_email = ? AND NOT EXISTS (
	SELECT 1 FROM email_notifications e WHERE e.response_id = responses.id))
 OR responses.notify_webhooks > (
	SELECT COUNT(*) FROM webhook_notifications w WHERE w.response_id = responses.id)`

// ListResponsesMissingJobs returns responses submitted at or after since
// that are missing at least one recorded notification job, oldest first,
// bounded by limit. Responses whose jobs all exist are never returned, so
// a full batch of healthy rows cannot hide newer broken ones.
func ListResponsesMissingJobs(ctx context.Context, db *gorm.DB, since time.Time, limit int) ([]domain.Response, error) {
	var out []domain.Response
	err := db.WithContext(ctx).
		Where("responses.submitted_at >= ?", since).
		Where(missingJobsWhere, true).
		Order("responses.submitted_at ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// DeleteResponse removes a response with its answers, jobs and issues.
// Children are deleted explicitly so the result does not depend on the
// driver enforcing cascades.
func DeleteResponse(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range []any{
			&domain.ResponseAnswer{},
			&domain.WebhookNotification{},
			&domain.EmailNotification{},
			&domain.SubmissionIssue{},
		} {
			if err := tx.Where("response_id = ?", id).Delete(m).Error; err != nil {
				return err
			}
		}
		res := tx.Where("id = ?", id).Delete(&domain.Response{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// CreateSubmissionIssue records a partial submission failure for review.
func CreateSubmissionIssue(ctx context.Context, db *gorm.DB, responseID, stepID, kind, detail string) error {
	return db.WithContext(ctx).Omit("Response").Create(&domain.SubmissionIssue{
		ID:         uuid.NewString(),
		ResponseID: responseID,
		StepID:     stepID,
		Kind:       kind,
		Detail:     detail,
		CreatedAt:  time.Now().UTC(),
	}).Error
}

// ListOpenIssues returns unresolved submission issues, newest first.
func ListOpenIssues(ctx context.Context, db *gorm.DB, limit int) ([]domain.SubmissionIssue, error) {
	var out []domain.SubmissionIssue
	err := db.WithContext(ctx).
		Where("resolved_at IS NULL").
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}
