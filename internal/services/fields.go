package services

import (
	"github.com/tbourn/go-forms-backend/internal/domain"
	"github.com/tbourn/go-forms-backend/internal/form"
)

// FieldsFromSteps converts stored steps and their options into form fields.
func FieldsFromSteps(steps []domain.FormStep, opts map[string][]domain.StepOption) []form.Field {
	out := make([]form.Field, 0, len(steps))
	for _, st := range steps {
		out = append(out, FieldFromStep(st, opts[st.ID]))
	}
	return out
}

// FieldFromStep converts one step.
func FieldFromStep(st domain.FormStep, opts []domain.StepOption) form.Field {
	f := form.Field{
		ID:          st.ID,
		Kind:        form.Kind(st.Kind),
		Label:       st.Title,
		Description: st.Description,
		Placeholder: st.Placeholder,
		Required:    st.IsRequired,
		Position:    st.Position,
		Min:         st.MinValue,
		Max:         st.MaxValue,
		MaxFileSize: st.MaxFileSize,
	}
	for _, o := range opts {
		opt := form.Option{ID: o.ID, Label: o.Label, Value: o.Value, Position: o.Position}
		if o.ImageURL != nil {
			opt.ImageURL = *o.ImageURL
		}
		f.Options = append(f.Options, opt)
	}
	if f.Kind == form.KindFileUpload && f.MaxFileSize == nil {
		sz := form.DefaultMaxFileSize
		f.MaxFileSize = &sz
	}
	return f
}

// AnswerFromRow rebuilds the typed answer of a stored row. Typed columns win
// over answer_text where they exist.
func AnswerFromRow(k form.Kind, row domain.ResponseAnswer) form.Answer {
	text := deref(row.AnswerText)
	switch form.TagFor(k) {
	case form.TagNone:
		return nil
	case form.TagFile:
		return form.FileAnswer{URL: deref(row.FileURL), Name: deref(row.FileName), Size: derefInt64(row.FileSize)}
	case form.TagScale:
		if row.ScaleRating != nil {
			v := *row.ScaleRating
			return form.ScaleAnswer{Value: &v}
		}
	case form.TagDimensions:
		return form.DimensionsAnswer{Width: row.Width, Height: row.Height, Depth: row.Depth, Units: deref(row.Units)}
	case form.TagFrames:
		return form.FramesAnswer{Frames: []form.FrameMeasurement(row.FrameMeasurements)}
	case form.TagOptions:
		if text == "" && row.SelectedOptionID != nil {
			return form.OptionsAnswer{Values: []string{*row.SelectedOptionID}}
		}
	}
	a, err := form.ParseStored(k, text)
	if err != nil {
		return form.TextAnswer{Value: text}
	}
	return a
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func derefInt64(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
