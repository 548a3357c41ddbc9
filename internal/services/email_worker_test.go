package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/mailer"
)

func loadEmailJob(t *testing.T, db *gorm.DB, responseID string) domain.EmailNotification {
	t.Helper()
	var j domain.EmailNotification
	if err := db.First(&j, "response_id = ?", responseID).Error; err != nil {
		t.Fatalf("load email job: %v", err)
	}
	return j
}

func newEmailWorker(db *gorm.DB, m mailer.Mailer) *EmailWorker {
	return &EmailWorker{
		DB:     db,
		Mailer: m,
		Sender: mailer.Address{Email: "noreply@forms.test", Name: "Forms"},
	}
}

func TestEmailWorker_SendFor_Success(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{
		ClientEmail:               strp("owner@acme.test"),
		AdditionalEmails:          datatypes.JSONSlice[string]{"OWNER@acme.test", "not-an-email", "sales@acme.test"},
		EmailNotificationsEnabled: true,
		PrimaryColor:              "#ff0000",
	},
		emailStep("s1", 0, false),
		domain.FormStep{ID: "s2", Kind: string(form.KindRating), Title: "Satisfaction", Position: 1, MaxValue: intp(10)},
		domain.FormStep{ID: "s3", Kind: string(form.KindLongText), Title: "Notes", Position: 2},
	)
	res, err := newSubmissionService(db).Submit(context.Background(), SubmitRequest{
		FormID: "f1",
		Answers: map[string]form.Answer{
			"s1": form.TextAnswer{Value: "ada@example.com"},
			"s2": form.ScaleAnswer{Value: intp(7)},
			"s3": form.TextAnswer{Value: "line one\nline two"},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	m := &fakeMailer{}
	if err := newEmailWorker(db, m).SendFor(context.Background(), res.ResponseID); err != nil {
		t.Fatalf("SendFor: %v", err)
	}
	if len(m.sent) != 1 {
		t.Fatalf("sent = %d", len(m.sent))
	}
	msg := m.sent[0]
	if msg.Subject != "New Response Received - Kitchen Quote" || msg.From.Email != "noreply@forms.test" {
		t.Fatalf("unexpected message header: %+v", msg)
	}
	var to []string
	for _, a := range msg.To {
		to = append(to, a.Email)
	}
	if strings.Join(to, ",") != "owner@acme.test,sales@acme.test" {
		t.Fatalf("recipients = %v", to)
	}
	for _, want := range []string{"★★★★★ (7/10)", "line one\nline two", "ada@example.com"} {
		if !strings.Contains(msg.Text, want) {
			t.Errorf("text missing %q:\n%s", want, msg.Text)
		}
	}
	if !strings.Contains(msg.HTML, "#ff0000") {
		t.Errorf("html missing brand color")
	}

	j := loadEmailJob(t, db, res.ResponseID)
	if j.Status != domain.StatusSent || j.SentAt == nil || len(j.Recipients) != 2 {
		t.Fatalf("job not sent: %+v", j)
	}

	// Nothing left to send.
	if err := newEmailWorker(db, m).SendFor(context.Background(), res.ResponseID); !errors.Is(err, ErrNoPendingEmail) {
		t.Fatalf("second SendFor: %v", err)
	}
}

func TestEmailWorker_NoValidRecipients(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{
		ClientEmail:               strp("a@b"),
		AdditionalEmails:          datatypes.JSONSlice[string]{".x@y.com", "user@-bad.com"},
		EmailNotificationsEnabled: true,
	}, emailStep("s1", 0, false))
	id := submitOne(t, db)

	pub := &fakePublisher{}
	m := &fakeMailer{}
	w := newEmailWorker(db, m)
	w.Events, w.DLQTopic = pub, "dlq"

	if err := w.SendFor(context.Background(), id); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
	j := loadEmailJob(t, db, id)
	if j.Status != domain.StatusFailed || j.RetryCount != 0 || j.SentAt != nil {
		t.Fatalf("expected terminal failure without retry: %+v", j)
	}
	if len(m.sent) != 0 {
		t.Fatalf("nothing should be sent")
	}
	if len(pub.ofType(events.TypeDeliveryDead)) != 1 {
		t.Fatalf("missing dead letter")
	}
}

func TestEmailWorker_DisabledAfterQueueing(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{ClientEmail: strp("owner@acme.test"), EmailNotificationsEnabled: true}, emailStep("s1", 0, false))
	id := submitOne(t, db)
	db.Model(&domain.Client{}).Where("id = ?", "c1").Update("email_notifications_enabled", false)

	err := newEmailWorker(db, &fakeMailer{}).SendFor(context.Background(), id)
	if !errors.Is(err, ErrNotificationsDisabled) {
		t.Fatalf("expected ErrNotificationsDisabled, got %v", err)
	}
	if j := loadEmailJob(t, db, id); j.Status != domain.StatusFailed {
		t.Fatalf("job = %+v", j)
	}
}

func TestEmailWorker_ProviderFailureRetriesThenFails(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{ClientEmail: strp("owner@acme.test"), EmailNotificationsEnabled: true}, emailStep("s1", 0, false))
	id := submitOne(t, db)

	providerErr := &mailer.ProviderError{Provider: "brevo", Status: 502, Body: "bad gateway"}
	m := &fakeMailer{err: providerErr}
	w := newEmailWorker(db, m)
	w.MaxAttempts = 2

	err := w.SendFor(context.Background(), id)
	var pe *mailer.ProviderError
	if !errors.As(err, &pe) {
		t.Fatalf("expected provider error, got %v", err)
	}
	j := loadEmailJob(t, db, id)
	if j.Status != domain.StatusPending || j.RetryCount != 1 || j.ErrorMessage == nil {
		t.Fatalf("after first failure: %+v", j)
	}

	rep, err := w.ProcessPending(context.Background())
	if err != nil || rep.Failed != 1 {
		t.Fatalf("second attempt: rep=%+v err=%v", rep, err)
	}
	j = loadEmailJob(t, db, id)
	if j.Status != domain.StatusFailed || j.RetryCount != 2 {
		t.Fatalf("after max attempts: %+v", j)
	}
}

func TestEmailWorker_ProcessPending(t *testing.T) {
	db := newSvcDB(t)
	seedForm(t, db, domain.Client{ClientEmail: strp("owner@acme.test"), EmailNotificationsEnabled: true}, emailStep("s1", 0, false))
	for i := 0; i < 3; i++ {
		submitOne(t, db)
	}
	m := &fakeMailer{}
	w := newEmailWorker(db, m)

	rep, err := w.ProcessPending(context.Background())
	if err != nil || rep.Candidates != 3 || rep.Sent != 3 {
		t.Fatalf("rep=%+v err=%v", rep, err)
	}
	if len(m.sent) != 3 {
		t.Fatalf("sent = %d", len(m.sent))
	}
	rep, _ = w.ProcessPending(context.Background())
	if rep.Candidates != 0 {
		t.Fatalf("sent jobs reprocessed: %+v", rep)
	}
}

func TestLineFromRow_ChoiceFallsBackToOptionLabel(t *testing.T) {
	row := domain.ResponseAnswer{
		Step:           &domain.FormStep{Kind: string(form.KindPictureChoice), Title: "Style"},
		SelectedOption: &domain.StepOption{Label: "Shaker", ImageURL: strp("https://img/shaker.png")},
	}
	l := lineFromRow(row)
	if l.Text != "Shaker" || l.ImageURL != "https://img/shaker.png" {
		t.Fatalf("line = %+v", l)
	}

	row.AnswerText = strp("Shaker, Slab")
	if l := lineFromRow(row); l.Text != "Shaker, Slab" {
		t.Fatalf("stored text should win: %+v", l)
	}
}
