// Package services – SubmissionService
//
// This file implements SubmissionService, which turns a respondent's answers
// into a stored response. It validates answers against the form's fields,
// uploads attached files, extracts the contact columns, and writes the
// response, its answers, the idempotency record and the notification jobs in
// a single transaction.
//
// Observability: Submit and Validate are OpenTelemetry-instrumented and
// counted in form_submissions_total.

package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/nyaruka/phonenumbers"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/events"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/repo"
	"github.com/tbourn/go-forms-backend/internal/uploads"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultIdempotencyTTL is how long a submission can be replayed by key.
const DefaultIdempotencyTTL = 24 * time.Hour

// SubmissionService validates and stores form submissions.
type SubmissionService struct {
	DB       *gorm.DB
	Uploader uploads.Uploader
	Producer *NotificationProducer

	// Events receives response.submitted after commit; nil disables it.
	Events events.Publisher
	Topic  string

	// PhoneRegion is the default region for numbers without a country code.
	PhoneRegion    string
	IdempotencyTTL time.Duration
}

// SubmitRequest is one submission. Answers and Files are keyed by step id; a
// file for a step overrides any answer given for it.
type SubmitRequest struct {
	FormID         string
	Answers        map[string]form.Answer
	Files          map[string]*form.PendingFile
	IdempotencyKey string
}

// SubmitResult identifies the stored response. Replayed is true when the
// idempotency key matched an earlier submission.
type SubmitResult struct {
	ResponseID string        `json:"response_id"`
	Replayed   bool          `json:"replayed"`
	Jobs       EnqueueResult `json:"-"`
	Issues     int           `json:"-"`
}

// FormView is a public form ready to render.
type FormView struct {
	Form   *domain.Form
	Fields []form.Rendered
}

// loadedForm is an active form with its fields in position order.
type loadedForm struct {
	form  *domain.Form
	state *form.State
}

// Describe returns the rendered fields of an active form.
func (s *SubmissionService) Describe(ctx context.Context, formID string) (*FormView, error) {
	tr := otel.Tracer("services/SubmissionService")
	ctx, span := tr.Start(ctx, "Describe", trace.WithAttributes(attribute.String("form.id", formID)))
	defer span.End()

	lf, err := s.load(ctx, formID)
	if err != nil {
		return nil, err
	}
	return &FormView{Form: lf.form, Fields: form.RenderAll(lf.state, nil)}, nil
}

// Validate checks answers without storing anything. It returns a
// *ValidationError when any field is invalid.
func (s *SubmissionService) Validate(ctx context.Context, formID string, answers map[string]form.Answer) error {
	tr := otel.Tracer("services/SubmissionService")
	ctx, span := tr.Start(ctx, "Validate", trace.WithAttributes(attribute.String("form.id", formID)))
	defer span.End()

	lf, err := s.load(ctx, formID)
	if err != nil {
		return err
	}
	return apply(lf.state, answers, nil)
}

// Submit validates and stores a submission. It returns ErrFormNotFound, a
// *ValidationError, or ErrSubmissionFailed; storage causes are logged, not
// returned. A repeated IdempotencyKey for the same form returns the original
// response id with Replayed set.
func (s *SubmissionService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	tr := otel.Tracer("services/SubmissionService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("form.id", req.FormID),
			attribute.Bool("idempotency.key", req.IdempotencyKey != ""),
		),
	)
	defer span.End()

	res, err := s.submit(ctx, req)
	switch {
	case err == nil && res.Replayed:
		submissions.WithLabelValues("replayed").Inc()
	case err == nil:
		submissions.WithLabelValues("created").Inc()
		span.SetAttributes(attribute.String("response.id", res.ResponseID))
	case errors.As(err, new(*ValidationError)), errors.Is(err, ErrFormNotFound):
		submissions.WithLabelValues("invalid").Inc()
	default:
		submissions.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "submit failed")
	}
	return res, err
}

func (s *SubmissionService) submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	key := strings.TrimSpace(req.IdempotencyKey)
	if key != "" {
		if res, ok := s.replay(ctx, req.FormID, key); ok {
			return res, nil
		}
	}

	lf, err := s.load(ctx, req.FormID)
	if err != nil {
		return nil, err
	}
	if err := apply(lf.state, req.Answers, req.Files); err != nil {
		return nil, err
	}

	responseID := uuid.NewString()
	issues := s.uploadFiles(ctx, lf, responseID)

	resp := &domain.Response{ID: responseID, FormID: lf.form.ID}
	s.extractContact(lf, resp)
	failed := make(map[string]bool, len(issues))
	for _, is := range issues {
		failed[is.stepID] = true
	}
	rows, err := buildRows(responseID, lf.state, failed)
	if err != nil {
		log.Error().Err(err).Str("form_id", lf.form.ID).Msg("build answer rows")
		return nil, ErrSubmissionFailed
	}

	var jobs EnqueueResult
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if s.Producer != nil {
			if err := s.Producer.Plan(ctx, tx, resp, lf.form); err != nil {
				return fmt.Errorf("plan notifications: %w", err)
			}
		}
		if err := repo.CreateResponse(ctx, tx, resp); err != nil {
			return fmt.Errorf("insert response: %w", err)
		}
		if err := repo.CreateAnswers(ctx, tx, rows); err != nil {
			return fmt.Errorf("insert answers: %w", err)
		}
		for _, is := range issues {
			if err := repo.CreateSubmissionIssue(ctx, tx, responseID, is.stepID, domain.IssueUploadFailed, is.detail); err != nil {
				return fmt.Errorf("insert issue: %w", err)
			}
		}
		if key != "" {
			if _, err := repo.CreateIdempotency(ctx, tx, lf.form.ID, key, responseID, http.StatusCreated, s.idempotencyTTL()); err != nil {
				return err
			}
		}
		if s.Producer != nil {
			var err error
			if jobs, err = s.Producer.Enqueue(ctx, tx, resp); err != nil {
				return fmt.Errorf("enqueue notifications: %w", err)
			}
		}
		return nil
	})
	if errors.Is(err, repo.ErrDuplicate) {
		// A concurrent request with the same key committed first.
		if res, ok := s.replay(ctx, lf.form.ID, key); ok {
			return res, nil
		}
	}
	if err != nil {
		log.Error().Err(err).Str("form_id", lf.form.ID).Msg("store submission")
		return nil, ErrSubmissionFailed
	}
	jobs.record()

	log.Info().
		Str("form_id", lf.form.ID).
		Str("response_id", responseID).
		Int("answers", len(rows)).
		Int64("webhook_jobs", jobs.Webhooks).
		Int64("email_jobs", jobs.Emails).
		Msg("response stored")

	s.publish(ctx, resp, lf.form)
	return &SubmitResult{ResponseID: responseID, Jobs: jobs, Issues: len(issues)}, nil
}

func (s *SubmissionService) replay(ctx context.Context, formID, key string) (*SubmitResult, bool) {
	rec, err := repo.GetIdempotency(ctx, s.DB, formID, key, time.Now().UTC())
	if err != nil {
		return nil, false
	}
	return &SubmitResult{ResponseID: rec.ResponseID, Replayed: true}, true
}

func (s *SubmissionService) load(ctx context.Context, formID string) (*loadedForm, error) {
	f, err := repo.GetActiveForm(ctx, s.DB, formID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFormNotFound
	}
	if err != nil {
		return nil, err
	}
	steps, opts, err := repo.ListSteps(ctx, s.DB, f.ID)
	if err != nil {
		return nil, err
	}
	return &loadedForm{form: f, state: form.NewState(FieldsFromSteps(steps, opts))}, nil
}

// apply loads answers and files into st and validates the result.
func apply(st *form.State, answers map[string]form.Answer, files map[string]*form.PendingFile) error {
	errs := map[int]string{}
	for i := 0; i < st.Len(); i++ {
		f := st.Field(i)
		a := answers[f.ID]
		if pf := files[f.ID]; pf != nil && form.TagFor(f.Kind) == form.TagFile {
			a = form.FileAnswer{Name: pf.Name, Size: pf.Size, Pending: pf}
		}
		if a == nil {
			continue
		}
		if err := st.OnChange(i, a); err != nil {
			errs[i] = form.MsgInvalidAnswer
		}
	}
	for i, msg := range st.Validate() {
		if _, ok := errs[i]; !ok {
			errs[i] = msg
		}
	}
	for i := 0; i < st.Len(); i++ {
		if _, ok := errs[i]; ok {
			continue
		}
		if msg := checkAnswer(st.Field(i), st.Answer(i)); msg != "" {
			errs[i] = msg
		}
	}
	if len(errs) == 0 {
		return nil
	}

	first, _ := form.FirstInvalid(errs)
	ve := &ValidationError{Errors: errs, FirstInvalid: first, StepIDs: map[int]string{}}
	for i := range errs {
		ve.StepIDs[i] = st.Field(i).ID
	}
	return ve
}

// checkAnswer applies the per-field constraints that do not depend on
// whether the field is required.
func checkAnswer(f form.Field, a form.Answer) string {
	switch v := a.(type) {
	case form.FileAnswer:
		if v.Pending != nil && f.MaxFileSize != nil && v.Pending.Size > *f.MaxFileSize {
			return "File must be " + humanize.IBytes(uint64(*f.MaxFileSize)) + " or smaller"
		}
	case form.OptionsAnswer:
		for _, id := range v.Values {
			if _, ok := f.OptionByID(id); !ok {
				return form.MsgInvalidAnswer
			}
		}
		if len(v.Values) > 1 && (f.Kind == form.KindDropdown || f.Kind == form.KindPictureChoice) {
			return form.MsgInvalidAnswer
		}
	case form.ScaleAnswer:
		if v.Value != nil {
			lo, hi := form.ScaleBounds(f)
			if *v.Value < lo || *v.Value > hi {
				return form.MsgInvalidAnswer
			}
		}
	}
	return ""
}

type uploadIssue struct {
	stepID string
	detail string
}

// uploadFiles replaces pending files in lf.state with their stored location.
// A failed upload leaves an empty file answer and is reported as an issue;
// the submission carries on without the file.
func (s *SubmissionService) uploadFiles(ctx context.Context, lf *loadedForm, responseID string) []uploadIssue {
	var issues []uploadIssue
	folder := lf.form.ID + "/" + responseID
	for i := 0; i < lf.state.Len(); i++ {
		fa, ok := lf.state.Answer(i).(form.FileAnswer)
		if !ok || fa.Pending == nil {
			continue
		}
		field := lf.state.Field(i)

		var stored uploads.Stored
		err := errors.New("no uploader configured")
		if s.Uploader != nil {
			stored, err = s.Uploader.Upload(ctx, folder, fa.Pending)
		}
		if err != nil {
			log.Warn().
				Err(err).
				Str("form_id", lf.form.ID).
				Str("step_id", field.ID).
				Msg("file upload failed; storing answer without file")
			issues = append(issues, uploadIssue{stepID: field.ID, detail: err.Error()})
			_ = lf.state.OnChange(i, form.FileAnswer{})
			continue
		}
		_ = lf.state.OnChange(i, form.FileAnswer{URL: stored.URL, Name: stored.Name, Size: stored.Size})
	}
	return issues
}

// extractContact fills the response contact columns from the form's explicit
// mapping, falling back to the first step of the matching kind.
func (s *SubmissionService) extractContact(lf *loadedForm, resp *domain.Response) {
	st := lf.state
	byID := map[string]form.Answer{}
	first := map[form.Kind]form.Answer{}
	for i := 0; i < st.Len(); i++ {
		f, a := st.Field(i), st.Answer(i)
		byID[f.ID] = a
		if _, ok := first[f.Kind]; !ok {
			first[f.Kind] = a
		}
	}
	pick := func(mapped *string, kind form.Kind) form.Answer {
		if mapped != nil && *mapped != "" {
			return byID[*mapped]
		}
		return first[kind]
	}

	resp.ContactName = strPtr(strings.TrimSpace(contactText(pick(lf.form.ContactNameStepID, form.KindShortText))))
	resp.ContactEmail = strPtr(strings.TrimSpace(contactText(pick(lf.form.ContactEmailStepID, form.KindEmail))))
	if phone := strings.TrimSpace(contactText(pick(lf.form.ContactPhoneStepID, form.KindPhone))); phone != "" {
		resp.ContactPhone = strPtr(NormalizePhone(phone, s.PhoneRegion))
	}

	var postcode string
	if a := pick(lf.form.ContactPostcodeStepID, form.KindAddress); a != nil {
		if addr, ok := a.(form.AddressAnswer); ok {
			postcode = addr.Postcode
		} else {
			postcode = contactText(a)
		}
	}
	resp.ContactPostcode = strPtr(strings.TrimSpace(postcode))
}

func contactText(a form.Answer) string {
	if a == nil || form.IsBlank(a) {
		return ""
	}
	return form.Display(a)
}

// NormalizePhone formats raw as E.164 when it parses as a valid number in
// region (or carries its own country code). Anything else is returned
// trimmed and unchanged.
func NormalizePhone(raw, region string) string {
	raw = strings.TrimSpace(raw)
	num, err := phonenumbers.Parse(raw, strings.ToUpper(region))
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

// buildRows projects every answered field onto a response_answers row.
// Blank answers are skipped, except the steps in failedUploads, which are
// kept with null file columns.
func buildRows(responseID string, st *form.State, failedUploads map[string]bool) ([]domain.ResponseAnswer, error) {
	var rows []domain.ResponseAnswer
	for i := 0; i < st.Len(); i++ {
		f, a := st.Field(i), st.Answer(i)
		if form.TagFor(f.Kind) == form.TagNone {
			continue
		}
		if form.IsBlank(a) && !failedUploads[f.ID] {
			continue
		}
		row := domain.ResponseAnswer{ResponseID: responseID, StepID: f.ID}
		if err := fillRow(&row, f, a); err != nil {
			return nil, fmt.Errorf("step %s: %w", f.ID, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fillRow(row *domain.ResponseAnswer, f form.Field, a form.Answer) error {
	switch v := a.(type) {
	case form.OptionsAnswer:
		labels := make([]string, 0, len(v.Values))
		for _, id := range v.Values {
			o, ok := f.OptionByID(id)
			if !ok {
				return fmt.Errorf("unknown option %q", id)
			}
			labels = append(labels, o.Label)
		}
		if len(v.Values) > 0 {
			row.SelectedOptionID = strPtr(v.Values[0])
		}
		row.AnswerText = strPtr(strings.Join(labels, ", "))
	case form.FileAnswer:
		row.FileURL = strPtr(v.URL)
		row.AnswerText = strPtr(v.URL)
		if v.URL != "" {
			row.FileName = strPtr(v.Name)
			if v.Size > 0 {
				size := v.Size
				row.FileSize = &size
			}
		}
	case form.ScaleAnswer:
		row.ScaleRating = v.Value
		row.AnswerText = strPtr(form.SerializeAnswer(v))
	case form.DimensionsAnswer:
		row.Width, row.Height, row.Depth = v.Width, v.Height, v.Depth
		row.Units = strPtr(v.Units)
		row.AnswerText = strPtr(form.SerializeAnswer(v))
	case form.FramesAnswer:
		n := len(v.Frames)
		row.FramesCount = &n
		row.FrameMeasurements = datatypes.JSONSlice[form.FrameMeasurement](v.Frames)
		row.AnswerText = strPtr(form.SerializeAnswer(v))
	default:
		row.AnswerText = strPtr(form.SerializeAnswer(a))
	}
	return nil
}

// SubmittedEvent is the data of a response.submitted event.
type SubmittedEvent struct {
	ResponseID  string    `json:"response_id"`
	FormID      string    `json:"form_id"`
	ClientID    string    `json:"client_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (s *SubmissionService) publish(ctx context.Context, resp *domain.Response, f *domain.Form) {
	if s.Events == nil || s.Topic == "" {
		return
	}
	ev := events.New(events.TypeResponseSubmitted, resp.ID, SubmittedEvent{
		ResponseID:  resp.ID,
		FormID:      f.ID,
		ClientID:    f.ClientID,
		SubmittedAt: resp.SubmittedAt,
	})
	if err := s.Events.Publish(ctx, s.Topic, ev); err != nil {
		log.Warn().Err(err).Str("response_id", resp.ID).Msg("publish response.submitted")
	}
}

func (s *SubmissionService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return DefaultIdempotencyTTL
}
