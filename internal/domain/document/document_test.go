package document

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

var composedAt = time.Date(2026, 3, 14, 17, 5, 0, 0, time.UTC)

func items() []review.ReviewItem {
	return []review.ReviewItem{
		{Approved: true, Suggestion: suggestion.Suggestion{Name: "Amoxicilina", DosageLabel: "500mg", Quantity: "21 cápsulas", UsageInstructions: "8/8h por 7 dias", SourceIndex: 0}},
		{Approved: false, Suggestion: suggestion.Suggestion{Name: "Dipirona", DosageLabel: "1g", Quantity: "10 comprimidos", UsageInstructions: "se dor", SourceIndex: 1}},
		{Approved: true, Suggestion: suggestion.Suggestion{Name: "Ibuprofeno", DosageLabel: "400mg", Quantity: "12 comprimidos", UsageInstructions: "6/6h", Warning: "Evitar em gastrite", SourceIndex: 2}},
	}
}

func TestCompose_UsesOnlyApprovedItems(t *testing.T) {
	doc, err := Compose(items(), "  Amigdalite bacteriana ", composedAt)
	require.NoError(t, err)

	require.Equal(t, 2, doc.Len())
	lines := doc.Lines()
	assert.Equal(t, "Amoxicilina", lines[0].Name)
	assert.Equal(t, "Ibuprofeno", lines[1].Name)
	assert.Equal(t, "Evitar em gastrite", lines[1].Warning)
	assert.Equal(t, "Amigdalite bacteriana", doc.Diagnosis())
	assert.True(t, doc.HasDiagnosis())
	assert.Equal(t, composedAt, doc.GeneratedAt())

	id, err := ulid.Parse(doc.ID())
	require.NoError(t, err)
	assert.Equal(t, ulid.Timestamp(composedAt), id.Time())
}

func TestCompose_EmptyApprovalSet(t *testing.T) {
	unapproved := items()
	for i := range unapproved {
		unapproved[i].Approved = false
	}

	_, err := Compose(unapproved, "", composedAt)
	assert.ErrorIs(t, err, ErrEmptyApprovalSet)

	_, err = Compose(nil, "x", composedAt)
	assert.ErrorIs(t, err, ErrEmptyApprovalSet)
}

func TestCompose_NoDiagnosis(t *testing.T) {
	doc, err := Compose(items(), "   ", composedAt)
	require.NoError(t, err)
	assert.False(t, doc.HasDiagnosis())
}

func TestDocument_IsIsolatedFromInputAndCallers(t *testing.T) {
	in := items()
	doc, err := Compose(in, "", composedAt)
	require.NoError(t, err)

	in[0].Suggestion.Name = "Changed"
	lines := doc.Lines()
	lines[1].Name = "Mutated"

	again := doc.Lines()
	assert.Equal(t, "Amoxicilina", again[0].Name)
	assert.Equal(t, "Ibuprofeno", again[1].Name)
}

func TestDocument_ReflectsSessionAtComposeTime(t *testing.T) {
	s := review.NewSession("s")
	require.NoError(t, s.Load([]suggestion.Suggestion{
		{Name: "Losartana", DosageLabel: "50mg", Quantity: "30", UsageInstructions: "1x/dia", SourceIndex: 0},
	}))
	_, err := s.ToggleApproval(0)
	require.NoError(t, err)

	doc, err := Compose(s.ApprovedView(), "", composedAt)
	require.NoError(t, err)

	require.NoError(t, s.UpdateField(0, review.FieldDosage, "100mg"))
	assert.Equal(t, "50mg", doc.Lines()[0].DosageLabel)
}

func TestDocument_Fingerprint(t *testing.T) {
	a, err := Compose(items(), "dx", composedAt)
	require.NoError(t, err)
	b, err := Compose(items(), "dx", composedAt)
	require.NoError(t, err)

	assert.Len(t, a.Fingerprint(), 64)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())

	c, err := Compose(items(), "other", composedAt)
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())

	d, err := Compose(items(), "dx", composedAt.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, a.Fingerprint(), d.Fingerprint())
}

func TestRenderer_BrazilianPortuguese(t *testing.T) {
	doc, err := Compose(items(), "", composedAt)
	require.NoError(t, err)

	saoPaulo := time.FixedZone("BRT", -3*60*60)
	r := NewRenderer("pt-BR", saoPaulo).Render(doc)

	assert.Equal(t, "pt-BR", r.Locale)
	assert.Equal(t, "14/03/2026", r.Date)
	assert.Equal(t, "14:05", r.Time)
	require.Len(t, r.Lines, 2)
	assert.Equal(t, 1, r.Lines[0].Number)
	assert.Equal(t, 2, r.Lines[1].Number)
	assert.Len(t, r.Fingerprint, 16)
	assert.Equal(t, composedAt, r.GeneratedAt)
}

func TestRenderer_LocaleMatching(t *testing.T) {
	doc, err := Compose(items(), "", composedAt)
	require.NoError(t, err)

	en := NewRenderer("en-US", nil).Render(doc)
	assert.Equal(t, "en-US", en.Locale)
	assert.Equal(t, "03/14/2026", en.Date)
	assert.Equal(t, "5:05 PM", en.Time)

	assert.Equal(t, "pt-BR", NewRenderer("", nil).Locale())
	assert.Equal(t, "pt-BR", NewRenderer("pt", nil).Locale())
}

func TestExportPayload(t *testing.T) {
	doc, err := Compose(items(), "Amigdalite", composedAt)
	require.NoError(t, err)

	body, err := json.Marshal(NewExportPayload(doc))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "Amigdalite", decoded["diagnostico"])
	assert.Equal(t, doc.Fingerprint(), decoded["hash"])

	meds, ok := decoded["medicamentos"].([]any)
	require.True(t, ok)
	require.Len(t, meds, 2)
	first := meds[0].(map[string]any)
	assert.Equal(t, "Amoxicilina", first["nome"])
	assert.Equal(t, "500mg", first["dosagem"])
	assert.Equal(t, "8/8h por 7 dias", first["uso"])
	assert.NotContains(t, first, "alerta")
	assert.Equal(t, "Evitar em gastrite", meds[1].(map[string]any)["alerta"])
}
