package services

import (
	"context"
	"testing"
	"time"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/repo"
)

// storedResponse inserts a response with its recorded channels but no jobs,
// as if the enqueue step had been lost.
func storedResponse(t *testing.T, id string, at time.Time, urls []string, email bool) *domain.Response {
	t.Helper()
	return &domain.Response{
		ID: id, FormID: "f1", SubmittedAt: at.UTC(),
		NotifyWebhookURLs: urls, NotifyWebhooks: len(urls), NotifyEmail: email,
	}
}

func TestPlan_RecordsConfiguredChannels(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{
		WebhookURL:                strp(" https://hooks.example/a "),
		ClientEmail:               strp("owner@acme.test"),
		EmailNotificationsEnabled: true,
	}, emailStep("s1", 0, false))
	mustCreate(t, db, &domain.WebhookSubscription{ID: "sub1", ClientID: "c1", FormID: "f1", TargetURL: "https://zap.example/1"})
	mustCreate(t, db, &domain.WebhookSubscription{ID: "sub2", ClientID: "c1", FormID: "f1", TargetURL: "https://hooks.example/a"})

	f, err := repo.GetForm(context.Background(), db, "f1")
	if err != nil {
		t.Fatalf("GetForm: %v", err)
	}
	var resp domain.Response
	if err := (&NotificationProducer{DB: db}).Plan(context.Background(), db, &resp, f); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if resp.NotifyWebhooks != 2 || len(resp.NotifyWebhookURLs) != 2 || resp.NotifyWebhookURLs[0] != "https://hooks.example/a" {
		t.Fatalf("webhooks = %d %v", resp.NotifyWebhooks, resp.NotifyWebhookURLs)
	}
	if !resp.NotifyEmail {
		t.Fatalf("email not recorded")
	}
}

func TestEnqueueMissing_BackfillsOnce(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{}, emailStep("s1", 0, false))
	mustCreate(t, db, storedResponse(t, "r1", time.Now(), []string{"https://hooks.example/a"}, true))

	p := &NotificationProducer{DB: db}
	got, err := p.EnqueueMissing(context.Background(), time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if got.Webhooks != 1 || got.Emails != 1 {
		t.Fatalf("backfill = %+v", got)
	}

	got, err = p.EnqueueMissing(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || got != (EnqueueResult{}) {
		t.Fatalf("second backfill should be a no-op: %+v err=%v", got, err)
	}
}

func TestEnqueueMissing_ReachesNewestPastServedResponses(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{}, emailStep("s1", 0, false))
	hook := []string{"https://hooks.example/a"}
	base := time.Now().Add(-10 * time.Minute)
	for i, id := range []string{"r0", "r1", "r2"} {
		mustCreate(t, db, storedResponse(t, id, base.Add(time.Duration(i)*time.Minute), hook, false))
	}
	ctx := context.Background()
	for _, id := range []string{"r0", "r1"} {
		if _, err := repo.InsertWebhookJobs(ctx, db, id, hook); err != nil {
			t.Fatalf("seed job: %v", err)
		}
	}

	p := &NotificationProducer{DB: db, BackfillLimit: 2}
	got, err := p.EnqueueMissing(ctx, time.Now().Add(-time.Hour))
	if err != nil || got.Webhooks != 1 {
		t.Fatalf("backfill = %+v err=%v", got, err)
	}
	if n := count(t, db, &domain.WebhookNotification{}, "response_id = ?", "r2"); n != 1 {
		t.Fatalf("jobs for newest response = %d, want 1", n)
	}
}

func TestEnqueueMissing_IgnoresConfigChangedAfterSubmit(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{}, emailStep("s1", 0, false))
	id := submitOne(t, db)
	if n := count(t, db, &domain.WebhookNotification{}) + count(t, db, &domain.EmailNotification{}); n != 0 {
		t.Fatalf("jobs after submit = %d", n)
	}

	if err := db.Model(&domain.Client{}).Where("id = ?", "c1").Updates(map[string]any{
		"webhook_url":                 "https://hooks.example/late",
		"client_email":                "owner@acme.test",
		"email_notifications_enabled": true,
	}).Error; err != nil {
		t.Fatalf("update client: %v", err)
	}

	got, err := (&NotificationProducer{DB: db}).EnqueueMissing(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || got != (EnqueueResult{}) {
		t.Fatalf("backfill = %+v err=%v", got, err)
	}
	if n := count(t, db, &domain.WebhookNotification{}, "response_id = ?", id) + count(t, db, &domain.EmailNotification{}, "response_id = ?", id); n != 0 {
		t.Fatalf("jobs after config change = %d", n)
	}
}

func TestEnqueueMissing_DoesNotReplayToNewSubscriptions(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{WebhookURL: strp("https://hooks.example/a")}, emailStep("s1", 0, false))
	submitOne(t, db)
	mustCreate(t, db, &domain.WebhookSubscription{ID: "sub1", ClientID: "c1", FormID: "f1", TargetURL: "https://zap.example/1"})

	got, err := (&NotificationProducer{DB: db}).EnqueueMissing(context.Background(), time.Now().Add(-time.Hour))
	if err != nil || got.Webhooks != 0 {
		t.Fatalf("got %+v err=%v", got, err)
	}
	if n := count(t, db, &domain.WebhookNotification{}); n != 1 {
		t.Fatalf("jobs = %d", n)
	}
}

func TestEnqueueMissing_RespectsWindow(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{}, emailStep("s1", 0, false))
	mustCreate(t, db, storedResponse(t, "old", time.Now().Add(-48*time.Hour), []string{"https://hooks.example/a"}, true))

	got, err := (&NotificationProducer{DB: db}).EnqueueMissing(context.Background(), time.Now().Add(-24*time.Hour))
	if err != nil || got != (EnqueueResult{}) {
		t.Fatalf("old response backfilled: %+v err=%v", got, err)
	}
}

func TestWantsEmail(t *testing.T) {
	cases := []struct {
		name string
		c    *domain.Client
		want bool
	}{
		{"nil", nil, false},
		{"disabled", &domain.Client{ClientEmail: strp("a@b.co")}, false},
		{"primary", &domain.Client{ClientEmail: strp("a@b.co"), EmailNotificationsEnabled: true}, true},
		{"blank primary", &domain.Client{ClientEmail: strp("  "), EmailNotificationsEnabled: true}, false},
		{"additional", &domain.Client{AdditionalEmails: []string{"x@y.co"}, EmailNotificationsEnabled: true}, true},
	}
	for _, tc := range cases {
		if got := wantsEmail(tc.c); got != tc.want {
			t.Errorf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}
