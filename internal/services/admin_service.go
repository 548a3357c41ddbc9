package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/repo"
)

// Operator listing bounds.
const (
	DefaultJobPageSize = 50
	MaxJobPageSize     = 200
)

// ErrInvalidStatus is returned for a job status filter outside the known set.
var ErrInvalidStatus = errors.New("invalid job status")

// AdminService backs the operator endpoints: queue inspection, response
// removal and submission issue review.
type AdminService struct {
	DB *gorm.DB
}

// JobQuery filters a job listing. Page is 1-based.
type JobQuery struct {
	Status     string
	ResponseID string
	Page       int
	PageSize   int
}

func (q JobQuery) filter() (repo.JobFilter, error) {
	switch q.Status {
	case "", domain.StatusPending, domain.StatusProcessing, domain.StatusSent, domain.StatusFailed:
	default:
		return repo.JobFilter{}, fmt.Errorf("%w: %q", ErrInvalidStatus, q.Status)
	}
	size := q.PageSize
	if size <= 0 {
		size = DefaultJobPageSize
	}
	if size > MaxJobPageSize {
		size = MaxJobPageSize
	}
	page := q.Page
	if page < 1 {
		page = 1
	}
	return repo.JobFilter{
		Status:     q.Status,
		ResponseID: q.ResponseID,
		Offset:     (page - 1) * size,
		Limit:      size,
	}, nil
}

// WebhookJobs lists webhook jobs, newest first.
func (s *AdminService) WebhookJobs(ctx context.Context, q JobQuery) ([]domain.WebhookNotification, error) {
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	return repo.ListWebhookJobs(ctx, s.DB, f)
}

// EmailJobs lists email jobs, newest first.
func (s *AdminService) EmailJobs(ctx context.Context, q JobQuery) ([]domain.EmailNotification, error) {
	f, err := q.filter()
	if err != nil {
		return nil, err
	}
	return repo.ListEmailJobs(ctx, s.DB, f)
}

// Stats returns job counts per channel and status.
func (s *AdminService) Stats(ctx context.Context) (repo.QueueStats, error) {
	return repo.NotificationStats(ctx, s.DB)
}

// DeleteResponse removes a response with its answers, jobs and issues.
func (s *AdminService) DeleteResponse(ctx context.Context, id string) error {
	tr := otel.Tracer("services/AdminService")
	ctx, span := tr.Start(ctx, "DeleteResponse", trace.WithAttributes(attribute.String("response.id", id)))
	defer span.End()

	if err := repo.DeleteResponse(ctx, s.DB, id); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrResponseNotFound
		}
		span.RecordError(err)
		return err
	}
	return nil
}

// Response returns the canonical payload of a stored response.
func (s *AdminService) Response(ctx context.Context, id string) (*ResponsePayload, error) {
	return LoadPayload(ctx, s.DB, id)
}

// OpenIssues lists unresolved submission issues, newest first.
func (s *AdminService) OpenIssues(ctx context.Context, limit int) ([]domain.SubmissionIssue, error) {
	if limit <= 0 || limit > MaxJobPageSize {
		limit = DefaultJobPageSize
	}
	return repo.ListOpenIssues(ctx, s.DB, limit)
}
