// Package notify renders the notification email sent to a client when one
// of its forms receives a response.
//
// The renderer is pure: callers resolve answers, option labels and branding
// from storage, hand over an Email, and get back an HTML body with a plain
// text fallback. Each answer is displayed according to its field kind:
//
//   - text kinds verbatim
//   - choice kinds as the selected option label, picture choices with the image
//   - files as a link plus a human-readable size
//   - dimensions as "W × H × D units"
//   - rating, opinion scale and NPS as five star glyphs
//   - frame plans as an aggregated measurements summary
package notify

import (
	"bytes"
	"fmt"
	"html/template"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/tbourn/go-forms-backend/internal/form"
)

// MaxStars is the number of glyphs in a rating display.
const MaxStars = 5

const (
	defaultPrimary   = "#1f2937"
	defaultSecondary = "#f3f4f6"
	noAnswer         = "(no answer)"
)

// Branding carries the client's visual identity.
type Branding struct {
	ClientName     string
	PrimaryColor   string
	SecondaryColor string
	LogoURL        string
}

// Contact holds the contact details extracted at submission time.
type Contact struct {
	Name     string
	Email    string
	Phone    string
	Postcode string
}

// File is an uploaded file reference.
type File struct {
	URL  string
	Name string
	Size int64
}

// Dimensions is a width/height/depth measurement.
type Dimensions struct {
	Width, Height, Depth *float64
	Units                string
}

// Line is one answered field. Only the members relevant to Kind are read.
type Line struct {
	Label      string
	Kind       form.Kind
	Text       string
	ImageURL   string
	File       *File
	Dimensions *Dimensions
	Rating     *int
	RatingMax  int
	Frames     []form.FrameMeasurement
}

// Email is everything the renderer needs for one response.
type Email struct {
	FormName    string
	ResponseID  string
	SubmittedAt time.Time
	Contact     Contact
	Lines       []Line
	Brand       Branding
}

// Body is a rendered message.
type Body struct {
	HTML string
	Text string
}

// Subject returns the notification subject for a form.
func Subject(formName string) string {
	return "New Response Received - " + formName
}

// Stars renders value as filled and empty star glyphs. The filled count is
// clamped to [0, MaxStars] whatever the field's configured maximum; the raw
// value is kept alongside as "(value/max)".
func Stars(value, max int) string {
	filled := value
	if filled < 0 {
		filled = 0
	}
	if filled > MaxStars {
		filled = MaxStars
	}
	s := strings.Repeat("★", filled) + strings.Repeat("☆", MaxStars-filled)
	if max > 0 {
		s += fmt.Sprintf(" (%d/%d)", value, max)
	}
	return s
}

// Renderer renders notification emails.
type Renderer struct {
	// Locale drives title-casing of the contact name in the heading.
	Locale language.Tag
	tmpl   *template.Template
}

// NewRenderer returns a Renderer using English casing rules.
func NewRenderer() *Renderer {
	return &Renderer{Locale: language.English, tmpl: emailTemplate}
}

// Value returns the plain-text display of a line.
func (l Line) Value() string {
	switch form.CategoryOf(l.Kind) {
	case form.CategoryFiles:
		if l.File == nil || l.File.URL == "" {
			return noAnswer
		}
		name := l.File.Name
		if name == "" {
			name = l.File.URL
		}
		if l.File.Size > 0 {
			return fmt.Sprintf("%s (%s) %s", name, humanize.Bytes(uint64(l.File.Size)), l.File.URL)
		}
		return name + " " + l.File.URL
	case form.CategoryRating:
		if l.Rating == nil {
			return noAnswer
		}
		return Stars(*l.Rating, l.RatingMax)
	}
	switch l.Kind {
	case form.KindDimensions:
		if l.Dimensions == nil {
			return noAnswer
		}
		if s := form.FormatDimensions(l.Dimensions.Width, l.Dimensions.Height, l.Dimensions.Depth, l.Dimensions.Units); s != "" {
			return s
		}
		return noAnswer
	case form.KindFramesPlan:
		if s := form.SummarizeFrames(l.Frames); s != "" {
			return s
		}
		return noAnswer
	}
	if strings.TrimSpace(l.Text) == "" {
		return noAnswer
	}
	return l.Text
}

type htmlLine struct {
	Label    string
	Value    string
	Link     string
	LinkText string
	ImageURL string
	Stars    bool
}

type htmlView struct {
	Title       string
	Heading     string
	FormName    string
	SubmittedAt string
	Primary     template.CSS
	Secondary   template.CSS
	LogoURL     string
	ClientName  string
	Contact     Contact
	Lines       []htmlLine
	ResponseID  string
}

// Render produces the HTML and text bodies for e.
func (r *Renderer) Render(e Email) (Body, error) {
	heading := "New response"
	if name := strings.TrimSpace(e.Contact.Name); name != "" {
		heading += " from " + cases.Title(r.locale()).String(name)
	}
	submitted := ""
	if !e.SubmittedAt.IsZero() {
		submitted = e.SubmittedAt.UTC().Format("2 Jan 2006 15:04 MST")
	}

	v := htmlView{
		Title:       Subject(e.FormName),
		Heading:     heading,
		FormName:    e.FormName,
		SubmittedAt: submitted,
		Primary:     template.CSS(color(e.Brand.PrimaryColor, defaultPrimary)),
		Secondary:   template.CSS(color(e.Brand.SecondaryColor, defaultSecondary)),
		LogoURL:     httpURL(e.Brand.LogoURL),
		ClientName:  e.Brand.ClientName,
		Contact:     e.Contact,
		ResponseID:  e.ResponseID,
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n", heading)
	fmt.Fprintf(&text, "Form: %s\n", e.FormName)
	if submitted != "" {
		fmt.Fprintf(&text, "Submitted: %s\n", submitted)
	}
	writeContact(&text, e.Contact)
	text.WriteString("\nAnswers\n")

	for _, l := range e.Lines {
		if l.Kind == form.KindStatement {
			continue
		}
		val := l.Value()
		fmt.Fprintf(&text, "- %s: %s\n", l.Label, val)

		hl := htmlLine{Label: l.Label, Value: val}
		switch {
		case form.CategoryOf(l.Kind) == form.CategoryFiles && l.File != nil && httpURL(l.File.URL) != "":
			hl.Link = httpURL(l.File.URL)
			hl.LinkText = l.File.Name
			if hl.LinkText == "" {
				hl.LinkText = "Download file"
			}
			hl.Value = ""
			if l.File.Size > 0 {
				hl.Value = humanize.Bytes(uint64(l.File.Size))
			}
		case form.CategoryOf(l.Kind) == form.CategoryRating && l.Rating != nil:
			hl.Stars = true
		case l.Kind == form.KindPictureChoice:
			hl.ImageURL = httpURL(l.ImageURL)
		}
		v.Lines = append(v.Lines, hl)
	}
	if e.ResponseID != "" {
		fmt.Fprintf(&text, "\nResponse ID: %s\n", e.ResponseID)
	}

	var buf bytes.Buffer
	if err := r.tmpl.Execute(&buf, v); err != nil {
		return Body{}, fmt.Errorf("render email: %w", err)
	}
	return Body{HTML: buf.String(), Text: text.String()}, nil
}

func (r *Renderer) locale() language.Tag {
	if r.Locale == language.Und {
		return language.English
	}
	return r.Locale
}

func writeContact(b *strings.Builder, c Contact) {
	if c == (Contact{}) {
		return
	}
	b.WriteString("\nContact\n")
	for _, kv := range [][2]string{{"Name", c.Name}, {"Email", c.Email}, {"Phone", c.Phone}, {"Postcode", c.Postcode}} {
		if kv[1] != "" {
			fmt.Fprintf(b, "- %s: %s\n", kv[0], kv[1])
		}
	}
}

var hexColor = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// color returns c when it is a hex color, else def.
func color(c, def string) string {
	c = strings.TrimSpace(c)
	if hexColor.MatchString(c) {
		return c
	}
	return def
}

// httpURL returns u when it is an absolute http(s) URL, else "".
func httpURL(u string) string {
	u = strings.TrimSpace(u)
	if strings.HasPrefix(u, "https://") || strings.HasPrefix(u, "http://") {
		return u
	}
	return ""
}
