package repo

import (
	"context"
	"testing"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

func TestNotificationStats_EmptyQueueReportsZeros(t *testing.T) {
	db := newRepoDB(t)

	st, err := NotificationStats(context.Background(), db)
	if err != nil {
		t.Fatalf("NotificationStats: %v", err)
	}
	for _, s := range []string{domain.StatusPending, domain.StatusProcessing, domain.StatusSent, domain.StatusFailed} {
		if v, ok := st.Webhook[s]; !ok || v != 0 {
			t.Fatalf("webhook[%s]=%d,%v want 0,true", s, v, ok)
		}
		if v, ok := st.Email[s]; !ok || v != 0 {
			t.Fatalf("email[%s]=%d,%v want 0,true", s, v, ok)
		}
	}
}

func TestNotificationStats_ErrorWithoutTables(t *testing.T) {
	db := newIdemDB(t)
	if _, err := NotificationStats(context.Background(), db); err == nil {
		t.Fatalf("expected error when tables are missing")
	}
}
