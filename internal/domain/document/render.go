package document

import (
	"strings"
	"time"

	"golang.org/x/text/language"
)

type layout struct {
	tag  language.Tag
	date string
	time string
}

var layouts = []layout{
	{tag: language.BrazilianPortuguese, date: "02/01/2006", time: "15:04"},
	{tag: language.AmericanEnglish, date: "01/02/2006", time: "3:04 PM"},
}

var matcher = func() language.Matcher {
	tags := make([]language.Tag, len(layouts))
	for i, l := range layouts {
		tags[i] = l.tag
	}
	return language.NewMatcher(tags)
}()

// Renderer formats documents for display in one locale and time zone
type Renderer struct {
	layout   layout
	location *time.Location
}

// NewRenderer picks the closest supported locale; pt-BR is the default.
// A nil location means UTC.
func NewRenderer(locale string, location *time.Location) *Renderer {
	if location == nil {
		location = time.UTC
	}
	_, index := language.MatchStrings(matcher, locale)
	return &Renderer{layout: layouts[index], location: location}
}

// Locale returns the BCP 47 tag in use
func (r *Renderer) Locale() string { return r.layout.tag.String() }

// RenderedLine is a numbered document line
type RenderedLine struct {
	Number int `json:"number"`
	Line
}

// Rendered is a display-ready view of a document
type Rendered struct {
	DocumentID  string         `json:"document_id"`
	Locale      string         `json:"locale"`
	Date        string         `json:"date"`
	Time        string         `json:"time"`
	Diagnosis   string         `json:"diagnosis,omitempty"`
	Lines       []RenderedLine `json:"lines"`
	Fingerprint string         `json:"fingerprint"`
	GeneratedAt time.Time      `json:"generated_at"`
}

// Render formats a document. Dates are computed here, never stored.
func (r *Renderer) Render(doc *Document) *Rendered {
	local := doc.GeneratedAt().In(r.location)

	lines := doc.Lines()
	out := make([]RenderedLine, len(lines))
	for i, l := range lines {
		out[i] = RenderedLine{Number: i + 1, Line: l}
	}

	return &Rendered{
		DocumentID:  doc.ID(),
		Locale:      r.Locale(),
		Date:        local.Format(r.layout.date),
		Time:        local.Format(r.layout.time),
		Diagnosis:   doc.Diagnosis(),
		Lines:       out,
		Fingerprint: strings.ToUpper(doc.Fingerprint()[:16]),
		GeneratedAt: doc.GeneratedAt(),
	}
}
