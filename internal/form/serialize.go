package form

import (
	"fmt"
	"strconv"
	"strings"
)

// SerializeAnswer renders a as the answer_text column value. File answers
// serialize to their uploaded URL; a pending binary is never inlined.
func SerializeAnswer(a Answer) string {
	switch v := a.(type) {
	case TextAnswer:
		return v.Value
	case OptionsAnswer:
		return strings.Join(v.Values, ", ")
	case NumberAnswer:
		if v.Value == nil {
			return ""
		}
		return FormatNumber(*v.Value)
	case DateAnswer:
		return v.Value
	case FileAnswer:
		return v.URL
	case BooleanAnswer:
		if v.Value == nil {
			return ""
		}
		return strconv.FormatBool(*v.Value)
	case ScaleAnswer:
		if v.Value == nil {
			return ""
		}
		return strconv.Itoa(*v.Value)
	case AddressAnswer:
		return v.String()
	case DimensionsAnswer:
		return FormatDimensions(v.Width, v.Height, v.Depth, v.Units)
	case FramesAnswer:
		return SummarizeFrames(v.Frames)
	}
	return ""
}

// Display renders a for humans (emails, webhook payload "display" values).
func Display(a Answer) string {
	switch v := a.(type) {
	case BooleanAnswer:
		if v.Value == nil {
			return ""
		}
		if *v.Value {
			return "Yes"
		}
		return "No"
	case FileAnswer:
		if v.Name != "" {
			return v.Name
		}
		return v.URL
	}
	return SerializeAnswer(a)
}

// ParseStored rebuilds an answer of kind k from its answer_text. Dimensions
// and frames live in dedicated columns and cannot be parsed from text.
func ParseStored(k Kind, text string) (Answer, error) {
	if text == "" {
		return Empty(k), nil
	}
	switch TagFor(k) {
	case TagText:
		return TextAnswer{Value: text}, nil
	case TagOptions:
		return OptionsAnswer{Values: strings.Split(text, ", ")}, nil
	case TagNumber:
		n, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return nil, fmt.Errorf("parse number answer: %w", err)
		}
		return NumberAnswer{Value: &n}, nil
	case TagDate:
		return DateAnswer{Value: text}, nil
	case TagFile:
		return FileAnswer{URL: text}, nil
	case TagBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("parse boolean answer: %w", err)
		}
		return BooleanAnswer{Value: &b}, nil
	case TagScale:
		n, err := strconv.Atoi(strings.TrimSpace(text))
		if err != nil {
			return nil, fmt.Errorf("parse scale answer: %w", err)
		}
		return ScaleAnswer{Value: &n}, nil
	case TagAddress:
		return AddressAnswer{Street: text}, nil
	}
	return nil, fmt.Errorf("cannot parse stored %s answer", k)
}

// String joins the non-empty address parts.
func (a AddressAnswer) String() string {
	parts := make([]string, 0, 6)
	for _, p := range []string{a.Street, a.Line2, a.City, a.State, a.Postcode, a.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// FormatNumber prints n without trailing zeros.
func FormatNumber(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// FormatDimensions renders "W × H × D units", skipping missing sides.
func FormatDimensions(w, h, d *float64, units string) string {
	sides := make([]string, 0, 3)
	for _, v := range []*float64{w, h, d} {
		if v != nil {
			sides = append(sides, FormatNumber(*v))
		}
	}
	if len(sides) == 0 {
		return ""
	}
	out := strings.Join(sides, " × ")
	if units = strings.TrimSpace(units); units != "" {
		out += " " + units
	}
	return out
}

// SummarizeFrames aggregates a frames plan: frame and piece counts followed
// by each frame's size.
func SummarizeFrames(frames []FrameMeasurement) string {
	if len(frames) == 0 {
		return ""
	}
	pieces := 0
	sizes := make([]string, 0, len(frames))
	for _, fr := range frames {
		q := fr.Quantity
		if q <= 0 {
			q = 1
		}
		pieces += q
		w, h := fr.Width, fr.Height
		s := FormatDimensions(&w, &h, nil, fr.Units)
		if q > 1 {
			s += fmt.Sprintf(" (×%d)", q)
		}
		if fr.Label != "" {
			s = fr.Label + ": " + s
		}
		sizes = append(sizes, s)
	}
	return fmt.Sprintf("%s, %s: %s",
		plural(len(frames), "frame"), plural(pieces, "piece"), strings.Join(sizes, "; "))
}

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
