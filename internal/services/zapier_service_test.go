package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
)

func newZapier(t *testing.T) (*ZapierService, *gorm.DB, string) {
	t.Helper()
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{}, emailStep("s1", 0, false))
	mustCreate(t, db, &domain.Client{ID: "c2", Name: "Other"})
	mustCreate(t, db, &domain.Form{ID: "f2", ClientID: "c2", Name: "Other form", IsActive: true})

	keys := &APIKeyService{DB: db}
	issued, err := keys.Issue(context.Background(), "c1", "zapier")
	if err != nil {
		t.Fatalf("issue key: %v", err)
	}
	return &ZapierService{DB: db, Keys: keys}, db, issued.Key
}

func TestAPIKeyService_IssueAndAuthenticate(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{})
	keys := &APIKeyService{DB: db}
	ctx := context.Background()

	issued, err := keys.Issue(ctx, "c1", " zapier ")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !ValidAPIKeyFormat(issued.Key) || !strings.HasPrefix(issued.Key, APIKeyPrefix) || len(issued.Key) != len(APIKeyPrefix)+32 {
		t.Fatalf("bad key %q", issued.Key)
	}
	if issued.Record.KeyHash != HashAPIKey(issued.Key) || issued.Record.Name != "zapier" {
		t.Fatalf("record = %+v", issued.Record)
	}
	if !strings.HasPrefix(issued.Key, issued.Record.Prefix) {
		t.Fatalf("prefix %q does not start key", issued.Record.Prefix)
	}

	k, err := keys.Authenticate(ctx, issued.Key)
	if err != nil || k.ClientID != "c1" {
		t.Fatalf("authenticate: k=%+v err=%v", k, err)
	}
	var stored domain.APIKey
	db.First(&stored, "id = ?", k.ID)
	if stored.LastUsedAt == nil {
		t.Fatalf("last_used_at not touched")
	}

	for _, bad := range []string{"", "dk_live_short", "dk_test_" + strings.Repeat("a", 32), APIKeyPrefix + strings.Repeat("A", 32), APIKeyPrefix + strings.Repeat("0", 32)} {
		if _, err := keys.Authenticate(ctx, bad); !errors.Is(err, ErrInvalidAPIKey) {
			t.Errorf("Authenticate(%q) = %v", bad, err)
		}
	}

	if err := keys.Revoke(ctx, k.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := keys.Authenticate(ctx, issued.Key); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("revoked key accepted: %v", err)
	}
	if _, err := keys.Issue(ctx, "nope", ""); !errors.Is(err, ErrClientNotFound) {
		t.Fatalf("unknown client: %v", err)
	}
}

func TestZapier_SubscribeUnsubscribe(t *testing.T) {
	z, db, key := newZapier(t)
	ctx := context.Background()

	sub, err := z.Subscribe(ctx, key, "f1", " https://hooks.zapier.com/abc ")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if sub.TargetURL != "https://hooks.zapier.com/abc" || sub.ClientID != "c1" {
		t.Fatalf("sub = %+v", sub)
	}
	if _, err := z.Subscribe(ctx, key, "f1", "https://hooks.zapier.com/abc"); !errors.Is(err, ErrSubscriptionExists) {
		t.Fatalf("duplicate: %v", err)
	}
	if _, err := z.Subscribe(ctx, key, "f1", "ftp://x"); !errors.Is(err, ErrInvalidTargetURL) {
		t.Fatalf("bad url: %v", err)
	}
	if _, err := z.Subscribe(ctx, key, "f2", "https://hooks.zapier.com/abc"); !errors.Is(err, ErrFormForbidden) {
		t.Fatalf("foreign form: %v", err)
	}
	if _, err := z.Subscribe(ctx, "dk_live_nope", "f1", "https://x.test"); !errors.Is(err, ErrInvalidAPIKey) {
		t.Fatalf("bad key: %v", err)
	}

	// New responses now fan out to the subscription.
	submitOne(t, db)
	if n := count(t, db, &domain.WebhookNotification{}, "webhook_url = ?", "https://hooks.zapier.com/abc"); n != 1 {
		t.Fatalf("subscription jobs = %d", n)
	}

	if err := z.Unsubscribe(ctx, key, "f1", "https://hooks.zapier.com/abc"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := z.Unsubscribe(ctx, key, "f1", "https://hooks.zapier.com/abc"); !errors.Is(err, ErrSubscriptionNotFound) {
		t.Fatalf("second unsubscribe: %v", err)
	}
}

func TestZapier_ListFormsAndRecentResponses(t *testing.T) {
	z, db, key := newZapier(t)
	ctx := context.Background()

	forms, err := z.ListForms(ctx, key)
	if err != nil || len(forms) != 1 || forms[0].ID != "f1" {
		t.Fatalf("forms = %+v err=%v", forms, err)
	}

	for i := 0; i < 12; i++ {
		submitOne(t, db)
	}
	got, err := z.RecentResponses(ctx, key, "f1", 0)
	if err != nil || len(got) != DefaultRecentLimit {
		t.Fatalf("default limit: n=%d err=%v", len(got), err)
	}
	if got[0].FormName != "Kitchen Quote" || len(got[0].Answers) != 1 || got[0].Answers[0].Value != "a@b.co" {
		t.Fatalf("payload = %+v", got[0])
	}
	if !got[0].SubmittedAt.After(got[len(got)-1].SubmittedAt) && !got[0].SubmittedAt.Equal(got[len(got)-1].SubmittedAt) {
		t.Fatalf("not newest first")
	}
	got, _ = z.RecentResponses(ctx, key, "f1", 3)
	if len(got) != 3 {
		t.Fatalf("limit 3: %d", len(got))
	}
	got, _ = z.RecentResponses(ctx, key, "f1", 1000)
	if len(got) != 12 {
		t.Fatalf("clamped limit: %d", len(got))
	}
	if _, err := z.RecentResponses(ctx, key, "f2", 5); !errors.Is(err, ErrFormForbidden) {
		t.Fatalf("foreign form: %v", err)
	}
}
