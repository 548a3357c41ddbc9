package form

import (
	"errors"
	"fmt"
	"sort"
)

// Option is one entry of a choice field.
type Option struct {
	ID       string `json:"id,omitempty"`
	Label    string `json:"label"`
	Value    string `json:"value,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
	Position int    `json:"position"`
}

// Field is a typed, ordered question within a form.
type Field struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	Placeholder string   `json:"placeholder,omitempty"`
	Required    bool     `json:"is_required"`
	Position    int      `json:"position"`
	Options     []Option `json:"options,omitempty"`
	Min         *int     `json:"min,omitempty"`
	Max         *int     `json:"max,omitempty"`
	MaxFileSize *int64   `json:"max_file_size,omitempty"`
}

// OptionByID finds an option by id (or value, for answers that carry values).
func (f Field) OptionByID(id string) (Option, bool) {
	for _, o := range f.Options {
		if o.ID == id || (o.ID == "" && o.Value == id) {
			return o, true
		}
	}
	return Option{}, false
}

// ErrInvalidDefinition wraps every definition problem reported by ValidateDefinition.
var ErrInvalidDefinition = errors.New("invalid form definition")

// ValidateDefinition checks the structural invariants of a field list:
// known kinds, unique and dense positions starting at 0, and options present
// exactly when the kind needs them.
func ValidateDefinition(fields []Field) error {
	seen := make(map[int]bool, len(fields))
	for _, f := range fields {
		if !f.Kind.Known() {
			return fmt.Errorf("%w: unknown kind %q", ErrInvalidDefinition, f.Kind)
		}
		if f.Position < 0 || f.Position >= len(fields) {
			return fmt.Errorf("%w: position %d out of range", ErrInvalidDefinition, f.Position)
		}
		if seen[f.Position] {
			return fmt.Errorf("%w: duplicate position %d", ErrInvalidDefinition, f.Position)
		}
		seen[f.Position] = true

		has := len(f.Options) > 0
		if NeedsOptions(f.Kind) && !has {
			return fmt.Errorf("%w: %s field %q needs options", ErrInvalidDefinition, f.Kind, f.Label)
		}
		if !NeedsOptions(f.Kind) && has {
			return fmt.Errorf("%w: %s field %q does not take options", ErrInvalidDefinition, f.Kind, f.Label)
		}
	}
	return nil
}

// SortByPosition orders fields by ascending position in place.
func SortByPosition(fields []Field) {
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Position < fields[j].Position })
}
