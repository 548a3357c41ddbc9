package form

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrIndexOutOfRange = errors.New("field index out of range")
	ErrTagMismatch     = errors.New("answer type does not match field kind")
)

// Validation messages shown next to the offending field.
const (
	MsgRequired        = "This field is required"
	MsgSelectOption    = "Please select at least one option"
	MsgEnterNumber     = "Please enter a number"
	MsgChooseDate      = "Please choose a date"
	MsgChooseYesNo     = "Please choose an answer"
	MsgChooseRating    = "Please choose a rating"
	MsgUploadFile      = "Please upload a file"
	MsgAddressRequired = "Street and city are required"
	MsgInvalidAnswer   = "Invalid answer for this field"
)

// State holds the current answer of every field of one form instance, indexed
// by field position.
type State struct {
	fields  []Field
	answers []Answer
}

// NewState seeds an empty answer of the right tag for every field. Fields are
// ordered by position; the index used by OnChange and Validate is that order.
func NewState(fields []Field) *State {
	fs := make([]Field, len(fields))
	copy(fs, fields)
	SortByPosition(fs)

	answers := make([]Answer, len(fs))
	for i, f := range fs {
		answers[i] = Empty(f.Kind)
	}
	return &State{fields: fs, answers: answers}
}

// Len returns the number of fields.
func (s *State) Len() int { return len(s.fields) }

// Field returns the field at index i.
func (s *State) Field(i int) Field { return s.fields[i] }

// Answer returns the current answer at index i.
func (s *State) Answer(i int) Answer { return s.answers[i] }

// OnChange replaces the answer of field i. A nil answer resets the field.
func (s *State) OnChange(i int, a Answer) error {
	if i < 0 || i >= len(s.fields) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	f := s.fields[i]
	if a == nil {
		s.answers[i] = Empty(f.Kind)
		return nil
	}
	if want := TagFor(f.Kind); want == TagNone || a.Tag() != want {
		return fmt.Errorf("%w: %s field %q got %s", ErrTagMismatch, f.Kind, f.ID, a.Tag())
	}
	s.answers[i] = a
	return nil
}

// Validate returns field index → message for every invalid field. An empty
// map means the form can be submitted.
func (s *State) Validate() map[int]string {
	errs := make(map[int]string)
	for i, f := range s.fields {
		if msg := ValidateField(f, s.answers[i]); msg != "" {
			errs[i] = msg
		}
	}
	return errs
}

// FirstInvalid returns the lowest index in errs, the field to focus.
func FirstInvalid(errs map[int]string) (int, bool) {
	if len(errs) == 0 {
		return 0, false
	}
	idx := make([]int, 0, len(errs))
	for i := range errs {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx[0], true
}

// ValidateField checks one answer against its field and returns "" when valid.
func ValidateField(f Field, a Answer) string {
	tag := TagFor(f.Kind)
	if tag == TagNone {
		return ""
	}
	if a != nil && a.Tag() != tag {
		return MsgInvalidAnswer
	}
	if !f.Required {
		return ""
	}

	switch v := a.(type) {
	case TextAnswer:
		if strings.TrimSpace(v.Value) == "" {
			return MsgRequired
		}
	case OptionsAnswer:
		if len(v.Values) == 0 {
			return MsgSelectOption
		}
	case NumberAnswer:
		if v.Value == nil {
			return MsgEnterNumber
		}
	case DateAnswer:
		if v.Value == "" {
			return MsgChooseDate
		}
	case BooleanAnswer:
		if v.Value == nil {
			return MsgChooseYesNo
		}
	case ScaleAnswer:
		if v.Value == nil {
			return MsgChooseRating
		}
	case FileAnswer:
		if v.Pending == nil && v.URL == "" {
			return MsgUploadFile
		}
	case AddressAnswer:
		if strings.TrimSpace(v.Street) == "" || strings.TrimSpace(v.City) == "" {
			return MsgAddressRequired
		}
	case DimensionsAnswer:
		if v.Width == nil || v.Height == nil {
			return MsgRequired
		}
	case FramesAnswer:
		if len(v.Frames) == 0 {
			return MsgRequired
		}
	case nil:
		return MsgRequired
	}
	return ""
}
