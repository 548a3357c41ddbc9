// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries over the
// notification queue, used by the operator API and the queue depth gauge.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

// QueueStats holds job counts per status for both channels.
type QueueStats struct {
	Webhook map[string]int64 `json:"webhook"`
	Email   map[string]int64 `json:"email"`
}

// NotificationStats counts webhook and email jobs grouped by status.
// Statuses with no rows are reported as 0.
func NotificationStats(ctx context.Context, db *gorm.DB) (QueueStats, error) {
	var (
		st  QueueStats
		err error
	)
	if st.Webhook, err = countByStatus(ctx, db, &domain.WebhookNotification{}); err != nil {
		return QueueStats{}, err
	}
	if st.Email, err = countByStatus(ctx, db, &domain.EmailNotification{}); err != nil {
		return QueueStats{}, err
	}
	return st, nil
}

func countByStatus(ctx context.Context, db *gorm.DB, model any) (map[string]int64, error) {
	var rows []struct {
		Status string
		N      int64
	}
	if err := db.WithContext(ctx).Model(model).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	out := map[string]int64{
		domain.StatusPending:    0,
		domain.StatusProcessing: 0,
		domain.StatusSent:       0,
		domain.StatusFailed:     0,
	}
	for _, r := range rows {
		out[r.Status] = r.N
	}
	return out, nil
}
