package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/form"
	"github.com/tbourn/go-forms-backend/internal/repo"
)

// PayloadEvent names the event carried by webhook payloads.
const PayloadEvent = "response.submitted"

// ContactPayload is the contact block of a response payload.
type ContactPayload struct {
	Name     *string `json:"name"`
	Email    *string `json:"email"`
	Phone    *string `json:"phone"`
	Postcode *string `json:"postcode"`
}

// FilePayload describes an uploaded file.
type FilePayload struct {
	URL  string `json:"url"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// DimensionsPayload carries a width/height/depth measurement.
type DimensionsPayload struct {
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
	Depth  *float64 `json:"depth,omitempty"`
	Units  string   `json:"units,omitempty"`
}

// AnswerPayload is one answer of a response payload. Value is the
// human-readable rendition; the typed members are set by kind.
type AnswerPayload struct {
	StepID           string                  `json:"step_id"`
	Label            string                  `json:"label"`
	Kind             string                  `json:"kind"`
	Position         int                     `json:"position"`
	Value            string                  `json:"value"`
	AnswerText       *string                 `json:"answer_text,omitempty"`
	SelectedOptionID *string                 `json:"selected_option_id,omitempty"`
	SelectedOption   *string                 `json:"selected_option,omitempty"`
	File             *FilePayload            `json:"file,omitempty"`
	Dimensions       *DimensionsPayload      `json:"dimensions,omitempty"`
	ScaleRating      *int                    `json:"scale_rating,omitempty"`
	FramesCount      *int                    `json:"frames_count,omitempty"`
	Frames           []form.FrameMeasurement `json:"frame_measurements,omitempty"`
}

// ResponsePayload is the canonical JSON representation of a response. It is
// the webhook body and the item shape of the Zapier polling endpoint.
type ResponsePayload struct {
	Event       string          `json:"event"`
	ID          string          `json:"id"`
	ResponseID  string          `json:"response_id"`
	FormID      string          `json:"form_id"`
	FormName    string          `json:"form_name"`
	ClientID    string          `json:"client_id"`
	SubmittedAt time.Time       `json:"submitted_at"`
	Contact     ContactPayload  `json:"contact"`
	Answers     []AnswerPayload `json:"answers"`
}

// LoadPayload builds the payload of a stored response. It returns
// ErrResponseNotFound or ErrFormNotFound when either row is gone.
func LoadPayload(ctx context.Context, db *gorm.DB, responseID string) (*ResponsePayload, error) {
	resp, err := repo.GetResponse(ctx, db, responseID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrResponseNotFound
		}
		return nil, err
	}
	f, err := repo.GetForm(ctx, db, resp.FormID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrFormNotFound
		}
		return nil, err
	}
	rows, err := repo.ListAnswers(ctx, db, responseID)
	if err != nil {
		return nil, err
	}
	return BuildPayload(resp, f, rows), nil
}

// BuildPayload assembles a payload from loaded rows. Answers must have their
// Step (and SelectedOption, when set) preloaded.
func BuildPayload(resp *domain.Response, f *domain.Form, rows []domain.ResponseAnswer) *ResponsePayload {
	p := &ResponsePayload{
		Event:       PayloadEvent,
		ID:          resp.ID,
		ResponseID:  resp.ID,
		FormID:      f.ID,
		FormName:    f.Name,
		ClientID:    f.ClientID,
		SubmittedAt: resp.SubmittedAt.UTC(),
		Contact: ContactPayload{
			Name:     resp.ContactName,
			Email:    resp.ContactEmail,
			Phone:    resp.ContactPhone,
			Postcode: resp.ContactPostcode,
		},
		Answers: make([]AnswerPayload, 0, len(rows)),
	}
	for _, row := range rows {
		p.Answers = append(p.Answers, answerPayload(row))
	}
	return p
}

func answerPayload(row domain.ResponseAnswer) AnswerPayload {
	ap := AnswerPayload{
		StepID:           row.StepID,
		AnswerText:       row.AnswerText,
		SelectedOptionID: row.SelectedOptionID,
		ScaleRating:      row.ScaleRating,
		FramesCount:      row.FramesCount,
	}
	var kind form.Kind
	if row.Step != nil {
		kind = form.Kind(row.Step.Kind)
		ap.Label = row.Step.Title
		ap.Kind = row.Step.Kind
		ap.Position = row.Step.Position
	}
	if row.SelectedOption != nil {
		label := row.SelectedOption.Label
		ap.SelectedOption = &label
	}
	if row.FileURL != nil {
		ap.File = &FilePayload{URL: *row.FileURL, Name: deref(row.FileName), Size: derefInt64(row.FileSize)}
	}
	if row.Width != nil || row.Height != nil || row.Depth != nil {
		ap.Dimensions = &DimensionsPayload{Width: row.Width, Height: row.Height, Depth: row.Depth, Units: deref(row.Units)}
	}
	if len(row.FrameMeasurements) > 0 {
		ap.Frames = []form.FrameMeasurement(row.FrameMeasurements)
	}
	ap.Value = form.Display(AnswerFromRow(kind, row))
	if ap.Value == "" {
		ap.Value = deref(row.AnswerText)
	}
	return ap
}
