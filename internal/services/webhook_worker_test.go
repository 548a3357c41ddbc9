package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/webhook"
)

// submitOne stores one response of f1 and returns its id.
func submitOne(t *testing.T, db *gorm.DB) string {
	t.Helper()
	res, err := newSubmissionService(db).Submit(context.Background(), SubmitRequest{
		FormID:  "f1",
		Answers: map[string]form.Answer{"s1": form.TextAnswer{Value: "a@b.co"}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res.ResponseID
}

func loadWebhookJob(t *testing.T, db *gorm.DB, responseID string) domain.WebhookNotification {
	t.Helper()
	var j domain.WebhookNotification
	if err := db.First(&j, "response_id = ?", responseID).Error; err != nil {
		t.Fatalf("load job: %v", err)
	}
	return j
}

func TestWebhookWorker_RetriesThenDeadLetters(t *testing.T) {
	db := newSvcDB(t)
	hook := newHookServer(t, 500)
	seedForm(t, db, domain.Client{WebhookURL: strp(hook.URL)}, emailStep("s1", 0, false))
	id := submitOne(t, db)

	pub := &fakePublisher{}
	w := &WebhookWorker{
		DB:          db,
		Client:      webhook.New(2 * time.Second),
		Events:      pub,
		DLQTopic:    "dlq",
		MaxAttempts: 2,
	}
	before := testutil.ToFloat64(deadLetters.WithLabelValues(channelWebhook, "max_attempts"))

	rep, err := w.ProcessPending(context.Background())
	if err != nil || rep.Retried != 1 {
		t.Fatalf("first pass: rep=%+v err=%v", rep, err)
	}
	j := loadWebhookJob(t, db, id)
	if j.Status != domain.StatusPending || j.Attempts != 1 || j.ErrorMessage == nil || *j.ErrorMessage == "" {
		t.Fatalf("after first failure: %+v", j)
	}

	rep, err = w.ProcessPending(context.Background())
	if err != nil || rep.Failed != 1 {
		t.Fatalf("second pass: rep=%+v err=%v", rep, err)
	}
	j = loadWebhookJob(t, db, id)
	if j.Status != domain.StatusFailed || j.Attempts != 2 || j.SentAt != nil {
		t.Fatalf("after second failure: %+v", j)
	}

	// Terminal jobs are never picked up again.
	rep, _ = w.ProcessPending(context.Background())
	if rep.Candidates != 0 || hook.calls.Load() != 2 {
		t.Fatalf("failed job reprocessed: rep=%+v calls=%d", rep, hook.calls.Load())
	}

	dead := pub.ofType(events.TypeDeliveryDead)
	if len(dead) != 1 || pub.topics[0] != "dlq" {
		t.Fatalf("dead letters = %+v", pub.events)
	}
	raw, _ := json.Marshal(dead[0].Data)
	var dl DeadLetter
	_ = json.Unmarshal(raw, &dl)
	if dl.JobID != j.ID || dl.Channel != channelWebhook || dl.Attempts != 2 || dl.Reason != "max_attempts" {
		t.Fatalf("dead letter = %+v", dl)
	}
	if got := testutil.ToFloat64(deadLetters.WithLabelValues(channelWebhook, "max_attempts")); got != before+1 {
		t.Fatalf("dlq counter = %v", got)
	}
}

func TestWebhookWorker_RecoversAfterTransientFailure(t *testing.T) {
	db := newSvcDB(t)
	hook := newHookServer(t, 503)
	seedForm(t, db, domain.Client{WebhookURL: strp(hook.URL)}, emailStep("s1", 0, false))
	id := submitOne(t, db)
	w := &WebhookWorker{DB: db, Client: webhook.New(2 * time.Second)}

	if _, err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	hook.status.Store(204)
	if _, err := w.ProcessPending(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}
	j := loadWebhookJob(t, db, id)
	if j.Status != domain.StatusSent || j.Attempts != 2 || j.ErrorMessage != nil {
		t.Fatalf("expected sent after retry: %+v", j)
	}
}

func TestWebhookWorker_MissingFormIsTerminal(t *testing.T) {
	db := newSvcDB(t)
	hook := newHookServer(t, 200)
	seedForm(t, db, domain.Client{WebhookURL: strp(hook.URL)}, emailStep("s1", 0, false))
	id := submitOne(t, db)

	// Soft-deleting the form hides it from lookups while the job remains.
	if err := db.Delete(&domain.Form{ID: "f1"}).Error; err != nil {
		t.Fatalf("delete form: %v", err)
	}
	pub := &fakePublisher{}
	w := &WebhookWorker{DB: db, Client: webhook.New(time.Second), Events: pub, DLQTopic: "dlq"}

	rep, err := w.ProcessPending(context.Background())
	if err != nil || rep.Failed != 1 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	j := loadWebhookJob(t, db, id)
	if j.Status != domain.StatusFailed || j.ErrorMessage == nil || *j.ErrorMessage != ErrFormNotFound.Error() {
		t.Fatalf("unexpected job: %+v", j)
	}
	if hook.calls.Load() != 0 {
		t.Fatalf("nothing should be posted")
	}
	if len(pub.ofType(events.TypeDeliveryDead)) != 1 {
		t.Fatalf("missing dead letter")
	}
}

func TestWebhookWorker_ReclaimsStaleClaims(t *testing.T) {
	db := newSvcDB(t)
	hook := newHookServer(t, 200)
	seedForm(t, db, domain.Client{WebhookURL: strp(hook.URL)}, emailStep("s1", 0, false))
	id := submitOne(t, db)

	now := time.Now().UTC()
	fresh := now.Add(-time.Minute)
	db.Model(&domain.WebhookNotification{}).Where("response_id = ?", id).
		Updates(map[string]any{"status": domain.StatusProcessing, "claimed_at": fresh})

	w := &WebhookWorker{DB: db, Client: webhook.New(time.Second), ClaimTTL: 5 * time.Minute, Now: fixedClock(now)}
	rep, _ := w.ProcessPending(context.Background())
	if rep.Candidates != 0 {
		t.Fatalf("fresh claim must not be reclaimed: %+v", rep)
	}

	w.Now = fixedClock(now.Add(10 * time.Minute))
	rep, err := w.ProcessPending(context.Background())
	if err != nil || rep.Sent != 1 {
		t.Fatalf("stale claim not reclaimed: rep=%+v err=%v", rep, err)
	}
	if hook.calls.Load() != 1 {
		t.Fatalf("calls = %d", hook.calls.Load())
	}
}

func TestWebhookWorker_BatchSize(t *testing.T) {
	db := newSvcDB(t)
	hook := newHookServer(t, 200)
	seedForm(t, db, domain.Client{WebhookURL: strp(hook.URL)}, emailStep("s1", 0, false))
	for i := 0; i < 3; i++ {
		submitOne(t, db)
	}
	w := &WebhookWorker{DB: db, Client: webhook.New(time.Second), BatchSize: 2}

	rep, _ := w.ProcessPending(context.Background())
	if rep.Sent != 2 {
		t.Fatalf("first batch: %+v", rep)
	}
	rep, _ = w.ProcessPending(context.Background())
	if rep.Sent != 1 {
		t.Fatalf("second batch: %+v", rep)
	}
}

func TestWebhookWorker_ConcurrentPassesDeliverOnce(t *testing.T) {
	db := newFileSvcDB(t)
	hook := newHookServer(t, 200)
	seedForm(t, db, domain.Client{WebhookURL: strp(hook.URL)}, emailStep("s1", 0, false))
	const responses = 5
	for i := 0; i < responses; i++ {
		submitOne(t, db)
	}

	start := make(chan struct{})
	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := &WebhookWorker{DB: db, Client: webhook.New(2 * time.Second)}
			<-start
			_, err := w.ProcessPending(context.Background())
			errs <- err
		}()
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("pass: %v", err)
		}
	}

	if got := hook.calls.Load(); got != responses {
		t.Fatalf("calls = %d, want %d", got, responses)
	}
	seen := map[string]bool{}
	hook.mu.Lock()
	for _, h := range hook.headers {
		id := h.Get(DeliveryHeader)
		if seen[id] {
			t.Errorf("job %s delivered twice", id)
		}
		seen[id] = true
	}
	hook.mu.Unlock()
	if n := count(t, db, &domain.WebhookNotification{}, "status = ?", domain.StatusSent); n != responses {
		t.Fatalf("sent jobs = %d", n)
	}
}
