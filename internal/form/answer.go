package form

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Answer is the respondent-supplied value for one field. The concrete types
// below are the only implementations; the tag of an Answer must equal
// TagFor(field.Kind) for the field it answers.
type Answer interface {
	Tag() Tag
	isAnswer()
}

// TextAnswer answers text-like kinds (short/long text, email, phone, website).
type TextAnswer struct {
	Value string `json:"value"`
}

// OptionsAnswer holds the selected option ids of a choice field.
type OptionsAnswer struct {
	Values []string `json:"values"`
}

// NumberAnswer holds a numeric answer; nil means unanswered (0 is valid).
type NumberAnswer struct {
	Value *float64 `json:"value"`
}

// DateAnswer holds an ISO date string (YYYY-MM-DD).
type DateAnswer struct {
	Value string `json:"value"`
}

// PendingFile is a file received with the submission but not uploaded yet.
type PendingFile struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

// FileAnswer is either a pending binary or an already uploaded file.
type FileAnswer struct {
	URL     string       `json:"url,omitempty"`
	Name    string       `json:"name,omitempty"`
	Size    int64        `json:"size,omitempty"`
	Pending *PendingFile `json:"-"`
}

// BooleanAnswer answers yes/no and legal fields; nil means unanswered (false is valid).
type BooleanAnswer struct {
	Value *bool `json:"value"`
}

// ScaleAnswer answers rating, opinion scale and NPS fields.
type ScaleAnswer struct {
	Value *int `json:"value"`
}

// AddressAnswer is a structured postal address. Street and city are the
// required parts; the rest is optional.
type AddressAnswer struct {
	Street   string `json:"street"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	State    string `json:"state,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// DimensionsAnswer is a width × height × depth measurement.
type DimensionsAnswer struct {
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
	Depth  *float64 `json:"depth,omitempty"`
	Units  string   `json:"units,omitempty"`
}

// FrameMeasurement is one frame of a frames plan.
type FrameMeasurement struct {
	Label    string  `json:"label,omitempty"`
	Width    float64 `json:"width"`
	Height   float64 `json:"height"`
	Quantity int     `json:"quantity,omitempty"`
	Units    string  `json:"units,omitempty"`
}

// FramesAnswer is a list of frame measurements.
type FramesAnswer struct {
	Frames []FrameMeasurement `json:"frames"`
}

func (TextAnswer) Tag() Tag       { return TagText }
func (OptionsAnswer) Tag() Tag    { return TagOptions }
func (NumberAnswer) Tag() Tag     { return TagNumber }
func (DateAnswer) Tag() Tag       { return TagDate }
func (FileAnswer) Tag() Tag       { return TagFile }
func (BooleanAnswer) Tag() Tag    { return TagBoolean }
func (ScaleAnswer) Tag() Tag      { return TagScale }
func (AddressAnswer) Tag() Tag    { return TagAddress }
func (DimensionsAnswer) Tag() Tag { return TagDimensions }
func (FramesAnswer) Tag() Tag     { return TagFrames }

func (TextAnswer) isAnswer()       {}
func (OptionsAnswer) isAnswer()    {}
func (NumberAnswer) isAnswer()     {}
func (DateAnswer) isAnswer()       {}
func (FileAnswer) isAnswer()       {}
func (BooleanAnswer) isAnswer()    {}
func (ScaleAnswer) isAnswer()      {}
func (AddressAnswer) isAnswer()    {}
func (DimensionsAnswer) isAnswer() {}
func (FramesAnswer) isAnswer()     {}

// Empty returns the unanswered value for kind k, or nil for layout kinds.
func Empty(k Kind) Answer {
	switch TagFor(k) {
	case TagText:
		return TextAnswer{}
	case TagOptions:
		return OptionsAnswer{}
	case TagNumber:
		return NumberAnswer{}
	case TagDate:
		return DateAnswer{}
	case TagFile:
		return FileAnswer{}
	case TagBoolean:
		return BooleanAnswer{}
	case TagScale:
		return ScaleAnswer{}
	case TagAddress:
		return AddressAnswer{}
	case TagDimensions:
		return DimensionsAnswer{}
	case TagFrames:
		return FramesAnswer{}
	}
	return nil
}

// IsBlank reports whether a carries no respondent data at all. Blank answers
// are not persisted.
func IsBlank(a Answer) bool {
	switch v := a.(type) {
	case nil:
		return true
	case TextAnswer:
		return strings.TrimSpace(v.Value) == ""
	case OptionsAnswer:
		return len(v.Values) == 0
	case NumberAnswer:
		return v.Value == nil
	case DateAnswer:
		return v.Value == ""
	case FileAnswer:
		return v.Pending == nil && v.URL == ""
	case BooleanAnswer:
		return v.Value == nil
	case ScaleAnswer:
		return v.Value == nil
	case AddressAnswer:
		return v == AddressAnswer{}
	case DimensionsAnswer:
		return v.Width == nil && v.Height == nil && v.Depth == nil
	case FramesAnswer:
		return len(v.Frames) == 0
	}
	return true
}

// envelope is the JSON wire shape: a "type" discriminator next to the
// variant's own fields.
type envelope struct {
	Type Tag `json:"type"`
}

// DecodeAnswer parses a discriminated JSON answer.
func DecodeAnswer(raw []byte) (Answer, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode answer: %w", err)
	}
	var (
		a   Answer
		err error
	)
	switch env.Type {
	case TagText:
		var v TextAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagOptions:
		var v OptionsAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagNumber:
		var v NumberAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagDate:
		var v DateAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagFile:
		var v FileAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagBoolean:
		var v BooleanAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagScale:
		var v ScaleAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagAddress:
		var v AddressAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagDimensions:
		var v DimensionsAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	case TagFrames:
		var v FramesAnswer
		err = json.Unmarshal(raw, &v)
		a = v
	default:
		return nil, fmt.Errorf("decode answer: unknown type %q", env.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s answer: %w", env.Type, err)
	}
	return a, nil
}

// EncodeAnswer renders a as discriminated JSON.
func EncodeAnswer(a Answer) ([]byte, error) {
	if a == nil {
		return nil, fmt.Errorf("encode answer: nil")
	}
	body, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, err
	}
	m["type"] = a.Tag()
	return json.Marshal(m)
}
