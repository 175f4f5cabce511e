// Package document builds immutable prescription documents from approved review items.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/drfirst/go-rxreview/internal/domain/review"
)

// ErrEmptyApprovalSet is returned when there is nothing approved to compose
var ErrEmptyApprovalSet = errors.New("no approved items to compose")

// Line is one medication on the document
type Line struct {
	Name              string `json:"name"`
	DosageLabel       string `json:"dosage_label"`
	Quantity          string `json:"quantity"`
	UsageInstructions string `json:"usage_instructions"`
	Warning           string `json:"warning,omitempty"`
}

// Document is a read-only snapshot of the approved items. Every value is
// copied at compose time, so later session edits never reach it.
type Document struct {
	id          string
	lines       []Line
	diagnosis   string
	generatedAt time.Time
	fingerprint string
}

// Compose builds a document from the approved items. Unapproved items in the
// input are ignored.
func Compose(items []review.ReviewItem, diagnosis string, now time.Time) (*Document, error) {
	lines := make([]Line, 0, len(items))
	for _, item := range items {
		if !item.Approved {
			continue
		}
		sg := item.Suggestion
		lines = append(lines, Line{
			Name:              sg.Name,
			DosageLabel:       sg.DosageLabel,
			Quantity:          sg.Quantity,
			UsageInstructions: sg.UsageInstructions,
			Warning:           sg.Warning,
		})
	}
	if len(lines) == 0 {
		return nil, ErrEmptyApprovalSet
	}

	doc := &Document{
		id:          ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		lines:       lines,
		diagnosis:   strings.TrimSpace(diagnosis),
		generatedAt: now,
	}
	doc.fingerprint = fingerprint(doc)
	return doc, nil
}

// ID returns the document's ULID
func (d *Document) ID() string { return d.id }

// Lines returns a copy of the document lines
func (d *Document) Lines() []Line {
	out := make([]Line, len(d.lines))
	copy(out, d.lines)
	return out
}

// Len returns the number of lines
func (d *Document) Len() int { return len(d.lines) }

// Diagnosis returns the diagnosis, empty when none was given
func (d *Document) Diagnosis() string { return d.diagnosis }

// HasDiagnosis reports whether a diagnosis was recorded
func (d *Document) HasDiagnosis() bool { return d.diagnosis != "" }

// GeneratedAt returns the composition instant as given
func (d *Document) GeneratedAt() time.Time { return d.generatedAt }

// Fingerprint returns a SHA-256 over the document content
func (d *Document) Fingerprint() string { return d.fingerprint }

func fingerprint(d *Document) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	for _, l := range d.lines {
		write(l.Name)
		write(l.DosageLabel)
		write(l.Quantity)
		write(l.UsageInstructions)
		write(l.Warning)
	}
	write(d.diagnosis)
	write(d.generatedAt.UTC().Format(time.RFC3339Nano))
	return hex.EncodeToString(h.Sum(nil))
}
