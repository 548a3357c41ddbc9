package form

// RenderedOption is one option of a choice field as shown to the respondent.
type RenderedOption struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	ImageURL string `json:"image_url,omitempty"`
	Selected bool   `json:"selected"`
}

// Rendered is the view model of one field plus its current answer.
type Rendered struct {
	ID          string           `json:"id"`
	Kind        Kind             `json:"kind"`
	Category    Category         `json:"category"`
	Answer      Tag              `json:"answer_type"`
	Label       string           `json:"label"`
	Description string           `json:"description,omitempty"`
	Placeholder string           `json:"placeholder,omitempty"`
	Required    bool             `json:"is_required"`
	Options     []RenderedOption `json:"options,omitempty"`
	ScaleMin    *int             `json:"scale_min,omitempty"`
	ScaleMax    *int             `json:"scale_max,omitempty"`
	MaxFileSize *int64           `json:"max_file_size,omitempty"`
	Value       string           `json:"value,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// Render builds the view model of f with answer a (nil for a fresh field).
func Render(f Field, a Answer) Rendered {
	r := Rendered{
		ID:          f.ID,
		Kind:        f.Kind,
		Category:    CategoryOf(f.Kind),
		Answer:      TagFor(f.Kind),
		Label:       f.Label,
		Description: f.Description,
		Placeholder: f.Placeholder,
		Required:    f.Required,
		MaxFileSize: f.MaxFileSize,
	}
	if r.Answer == TagScale {
		lo, hi := ScaleBounds(f)
		r.ScaleMin, r.ScaleMax = &lo, &hi
	}

	selected := map[string]bool{}
	if oa, ok := a.(OptionsAnswer); ok {
		for _, v := range oa.Values {
			selected[v] = true
		}
	}
	for _, o := range f.Options {
		key := o.ID
		if key == "" {
			key = o.Value
		}
		r.Options = append(r.Options, RenderedOption{
			ID:       key,
			Label:    o.Label,
			ImageURL: o.ImageURL,
			Selected: selected[key],
		})
	}

	if a != nil && a.Tag() == r.Answer {
		r.Value = Display(a)
	}
	return r
}

// RenderAll renders every field of s, attaching validation messages from errs.
func RenderAll(s *State, errs map[int]string) []Rendered {
	out := make([]Rendered, s.Len())
	for i := range out {
		out[i] = Render(s.Field(i), s.Answer(i))
		out[i].Error = errs[i]
	}
	return out
}
