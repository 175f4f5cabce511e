// Package suggestion normalizes AI prescription responses into canonical suggestions.
//
// The AI service is loose about its response shape: the list may sit under
// several top-level keys or be the bare root, and each item may spell its
// fields in a handful of ways. Normalization runs an ordered table of
// extraction rules (see Rules) so the fallback order is explicit and testable.
package suggestion

// Placeholders used when a response item omits a field
const (
	DefaultDosageLabel       = "Dose padrão"
	DefaultQuantity          = "1 unidade"
	DefaultUsageInstructions = "Conforme orientação médica."
	DefaultWarningLabel      = "Atenção"
)

// Field names reported in FieldError
const (
	FieldName         = "name"
	FieldDosage       = "dosage_label"
	FieldQuantity     = "quantity"
	FieldInstructions = "usage_instructions"
	FieldWarning      = "warning"
)

// Suggestion is one normalized medication recommendation
type Suggestion struct {
	Name              string `json:"name" yaml:"name"`
	DosageLabel       string `json:"dosage_label" yaml:"dosage_label"`
	Quantity          string `json:"quantity" yaml:"quantity"`
	UsageInstructions string `json:"usage_instructions" yaml:"usage_instructions"`
	Warning           string `json:"warning,omitempty" yaml:"warning,omitempty"`
	// SourceIndex is the item's position in the response list. It stays
	// stable when other items are dropped or removed.
	SourceIndex int `json:"source_index" yaml:"source_index"`
}

// HasWarning reports whether the source item flagged a caution
func (s Suggestion) HasWarning() bool { return s.Warning != "" }

// Result is the outcome of a successful normalization
type Result struct {
	Suggestions []Suggestion  `json:"suggestions" yaml:"suggestions"`
	Dropped     []*FieldError `json:"dropped,omitempty" yaml:"dropped,omitempty"`
	// Location names the candidate that supplied the list
	Location string `json:"location" yaml:"location"`
	Extras   Extras `json:"extras" yaml:"extras"`
}

// Extras holds the display-only sections some responses carry next to the list
type Extras struct {
	TechnicalSummary []string `json:"technical_summary,omitempty" yaml:"technical_summary,omitempty"`
	PatientGuidance  []string `json:"patient_guidance,omitempty" yaml:"patient_guidance,omitempty"`
	SafetyAlerts     []string `json:"safety_alerts,omitempty" yaml:"safety_alerts,omitempty"`
	Monitoring       []string `json:"monitoring,omitempty" yaml:"monitoring,omitempty"`
	Sources          []Source `json:"sources,omitempty" yaml:"sources,omitempty"`
	ConfidenceScore  *float64 `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
}

// Source is a reference the AI service cited
type Source struct {
	ID              string   `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	Type            string   `json:"source_type,omitempty" yaml:"source_type,omitempty"`
	Title           string   `json:"title" yaml:"title"`
	ConfidenceScore *float64 `json:"confidence_score,omitempty" yaml:"confidence_score,omitempty"`
}
