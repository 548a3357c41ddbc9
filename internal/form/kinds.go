// Package form defines the field catalog, the typed Answer union, and the
// single-page renderer/validator used by public forms.
//
// The kind table in this file is the single source of truth for field kinds.
// Adding a kind means one entry in catalog plus a case in the validator and
// the serializer; everything else (categories, defaults, option requirements,
// answer tags) is derived from the table.
package form

import "fmt"

// Kind identifies a field type. Values are persisted in form_steps.kind.
type Kind string

// Single-page field kinds.
const (
	KindShortText      Kind = "sp_short_text"
	KindLongText       Kind = "sp_long_text"
	KindEmail          Kind = "sp_email"
	KindPhone          Kind = "sp_phone"
	KindAddress        Kind = "sp_address"
	KindWebsite        Kind = "sp_website"
	KindMultipleChoice Kind = "sp_multiple_choice"
	KindDropdown       Kind = "sp_dropdown"
	KindPictureChoice  Kind = "sp_picture_choice"
	KindYesNo          Kind = "sp_yes_no"
	KindCheckbox       Kind = "sp_checkbox"
	KindLegal          Kind = "sp_legal"
	KindNumber         Kind = "sp_number"
	KindDate           Kind = "sp_date"
	KindFileUpload     Kind = "sp_file_upload"
	KindRating         Kind = "sp_rating"
	KindOpinionScale   Kind = "sp_opinion_scale"
	KindNPS            Kind = "sp_nps"
	KindStatement      Kind = "sp_statement"
)

// Multi-step measurement kinds. They never appear in the single-page builder
// palette but their answers flow through the same notification pipeline.
const (
	KindDimensions Kind = "dimensions"
	KindFramesPlan Kind = "frames_plan"
)

// Category groups kinds in the builder palette.
type Category string

const (
	CategoryText         Category = "Text"
	CategoryChoice       Category = "Choice"
	CategoryNumbersDates Category = "Numbers & Dates"
	CategoryFiles        Category = "Files"
	CategoryRating       Category = "Rating & Ranking"
	CategoryLayout       Category = "Layout"
	CategoryMeasurements Category = "Measurements"
)

// Tag is the answer class a kind pairs with.
type Tag string

const (
	TagNone       Tag = "none"
	TagText       Tag = "text"
	TagOptions    Tag = "options"
	TagNumber     Tag = "number"
	TagDate       Tag = "date"
	TagFile       Tag = "file"
	TagBoolean    Tag = "boolean"
	TagScale      Tag = "scale"
	TagAddress    Tag = "address"
	TagDimensions Tag = "dimensions"
	TagFrames     Tag = "frames"
)

// DefaultMaxFileSize is the upload cap given to new file fields (10 MiB).
const DefaultMaxFileSize int64 = 10 << 20

type kindSpec struct {
	label        string
	category     Category
	tag          Tag
	needsOptions bool
	scaleMin     int
	scaleMax     int
	maxFileSize  int64
}

var catalog = map[Kind]kindSpec{
	KindShortText: {label: "Short text", category: CategoryText, tag: TagText},
	KindLongText:  {label: "Long text", category: CategoryText, tag: TagText},
	KindEmail:     {label: "Email", category: CategoryText, tag: TagText},
	KindPhone:     {label: "Phone number", category: CategoryText, tag: TagText},
	KindAddress:   {label: "Address", category: CategoryText, tag: TagAddress},
	KindWebsite:   {label: "Website", category: CategoryText, tag: TagText},

	KindMultipleChoice: {label: "Multiple choice", category: CategoryChoice, tag: TagOptions, needsOptions: true},
	KindDropdown:       {label: "Dropdown", category: CategoryChoice, tag: TagOptions, needsOptions: true},
	KindPictureChoice:  {label: "Picture choice", category: CategoryChoice, tag: TagOptions, needsOptions: true},
	KindYesNo:          {label: "Yes/No", category: CategoryChoice, tag: TagBoolean},
	KindCheckbox:       {label: "Checkbox", category: CategoryChoice, tag: TagOptions, needsOptions: true},
	KindLegal:          {label: "Legal", category: CategoryChoice, tag: TagBoolean},

	KindNumber: {label: "Number", category: CategoryNumbersDates, tag: TagNumber},
	KindDate:   {label: "Date", category: CategoryNumbersDates, tag: TagDate},

	KindFileUpload: {label: "File upload", category: CategoryFiles, tag: TagFile, maxFileSize: DefaultMaxFileSize},

	KindRating:       {label: "Rating", category: CategoryRating, tag: TagScale, scaleMin: 1, scaleMax: 5},
	KindOpinionScale: {label: "Opinion scale", category: CategoryRating, tag: TagScale, scaleMin: 1, scaleMax: 10},
	KindNPS:          {label: "Net Promoter Score", category: CategoryRating, tag: TagScale, scaleMin: 0, scaleMax: 10},

	KindStatement: {label: "Statement", category: CategoryLayout, tag: TagNone},

	KindDimensions: {label: "Dimensions", category: CategoryMeasurements, tag: TagDimensions},
	KindFramesPlan: {label: "Frames plan", category: CategoryMeasurements, tag: TagFrames},
}

// paletteOrder is the builder ordering of single-page kinds.
var paletteOrder = []Kind{
	KindShortText, KindLongText, KindEmail, KindPhone, KindAddress, KindWebsite,
	KindMultipleChoice, KindDropdown, KindPictureChoice, KindYesNo, KindCheckbox, KindLegal,
	KindNumber, KindDate,
	KindFileUpload,
	KindRating, KindOpinionScale, KindNPS,
	KindStatement,
}

// Kinds returns the single-page kinds in palette order.
func Kinds() []Kind {
	out := make([]Kind, len(paletteOrder))
	copy(out, paletteOrder)
	return out
}

// Known reports whether k is in the catalog.
func (k Kind) Known() bool {
	_, ok := catalog[k]
	return ok
}

// Label is the default human label for the kind.
func (k Kind) Label() string { return catalog[k].label }

// CategoryOf returns the palette category of k, or "" for unknown kinds.
func CategoryOf(k Kind) Category { return catalog[k].category }

// TagFor returns the answer tag class paired with k. Unknown kinds map to TagNone.
func TagFor(k Kind) Tag {
	if s, ok := catalog[k]; ok {
		return s.tag
	}
	return TagNone
}

// NeedsOptions reports whether k requires a non-empty option list.
func NeedsOptions(k Kind) bool { return catalog[k].needsOptions }

// NewField returns the default instance of a field of kind k: choice kinds get
// two placeholder options, scale kinds get their default bounds and file
// uploads get the default size cap.
func NewField(k Kind) (Field, error) {
	spec, ok := catalog[k]
	if !ok {
		return Field{}, fmt.Errorf("unknown field kind %q", k)
	}
	f := Field{
		Kind:  k,
		Label: spec.label,
	}
	if spec.needsOptions {
		f.Options = []Option{
			{Label: "Option 1", Value: "option_1", Position: 0},
			{Label: "Option 2", Value: "option_2", Position: 1},
		}
	}
	if spec.tag == TagScale {
		lo, hi := spec.scaleMin, spec.scaleMax
		f.Min, f.Max = &lo, &hi
	}
	if spec.maxFileSize > 0 {
		sz := spec.maxFileSize
		f.MaxFileSize = &sz
	}
	return f, nil
}

// ScaleBounds returns the configured bounds of a scale field, falling back to
// the kind defaults.
func ScaleBounds(f Field) (lo, hi int) {
	spec := catalog[f.Kind]
	lo, hi = spec.scaleMin, spec.scaleMax
	if f.Min != nil {
		lo = *f.Min
	}
	if f.Max != nil {
		hi = *f.Max
	}
	return lo, hi
}
