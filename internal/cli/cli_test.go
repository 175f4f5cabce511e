package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/drfirst/go-rxreview/internal/config"
	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

const captured = `{
  "prescricoes": [
    {"nome": "Amoxicilina 500mg", "dosagem": "500mg", "quantidade": "21 cápsulas", "posologia": "1 cápsula de 8/8h"},
    {"dosagem": "sem nome"},
    {"medicamento": {"nome": "Dipirona"}, "alerta": true}
  ],
  "alertas_seguranca": ["Verificar alergia a penicilina"],
  "confidence_score": 0.82
}`

func newTestApp(t *testing.T) (*App, *bytes.Buffer) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/response.json", []byte(captured), 0o644))
	out := &bytes.Buffer{}
	return &App{
		FS:     fs,
		Out:    out,
		Err:    &bytes.Buffer{},
		Logger: zap.NewNop(),
		Config: &config.Config{},
	}, out
}

func run(app *App, args ...string) error {
	root := NewRootCommand(app)
	root.SetArgs(args)
	return root.Execute()
}

func TestNormalize_Text(t *testing.T) {
	app, out := newTestApp(t)
	require.NoError(t, run(app, "normalize", "/data/response.json", "--extras"))

	text := out.String()
	assert.Contains(t, text, "Amoxicilina 500mg")
	assert.Contains(t, text, "Dipirona")
	assert.Contains(t, text, `2 suggestion(s) from "prescricoes", 1 dropped`)
	assert.Contains(t, text, "item 1: name")
	assert.Contains(t, text, "Verificar alergia a penicilina")
	assert.Contains(t, text, "Confidence: 0.82")
}

func TestNormalize_JSON(t *testing.T) {
	app, out := newTestApp(t)
	require.NoError(t, run(app, "normalize", "/data/response.json", "-o", "json"))

	var res suggestion.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Suggestions, 2)
	assert.Equal(t, 0, res.Suggestions[0].SourceIndex)
	assert.Equal(t, 2, res.Suggestions[1].SourceIndex)
	assert.Equal(t, suggestion.DefaultWarningLabel, res.Suggestions[1].Warning)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, 1, res.Dropped[0].Index)
}

func TestNormalize_YAMLOutputAndInput(t *testing.T) {
	app, out := newTestApp(t)
	require.NoError(t, afero.WriteFile(app.FS, "/data/response.yaml", []byte(`
medications:
  - name: Losartana
    dosage: 50mg
    quantity: 30
`), 0o644))

	require.NoError(t, run(app, "normalize", "/data/response.yaml", "-o", "yaml"))

	var res suggestion.Result
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &res))
	require.Len(t, res.Suggestions, 1)
	assert.Equal(t, "Losartana", res.Suggestions[0].Name)
	assert.Equal(t, "30", res.Suggestions[0].Quantity)
	assert.Equal(t, "medications", res.Location)
}

func TestNormalize_Strict(t *testing.T) {
	app, _ := newTestApp(t)
	err := run(app, "normalize", "/data/response.json", "--strict")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 item(s) dropped")
}

func TestNormalize_Errors(t *testing.T) {
	app, _ := newTestApp(t)
	assert.Error(t, run(app, "normalize", "/data/missing.json"))

	require.NoError(t, afero.WriteFile(app.FS, "/data/empty.json", []byte(`{"prescricoes": []}`), 0o644))
	err := run(app, "normalize", "/data/empty.json")
	assert.ErrorIs(t, err, suggestion.ErrEmptyList)

	err = run(app, "normalize", "/data/response.json", "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestAudit_RequiresDatabase(t *testing.T) {
	app, _ := newTestApp(t)
	err := run(app, "audit", "history", "sess-1")
	assert.ErrorIs(t, err, errNoDatabase)
}

func TestRenderEvents_YAMLKeepsDataReadable(t *testing.T) {
	app, out := newTestApp(t)
	app.output = FormatYAML

	event, err := review.NewEvent("sess-1", review.EventFieldUpdated, review.FieldUpdatedData{SourceIndex: 1, Field: "dosage", Value: "1g"})
	require.NoError(t, err)
	require.NoError(t, app.renderEvents([]*review.Event{event}))

	assert.Contains(t, out.String(), "event_type: FieldUpdated")
	assert.Contains(t, out.String(), `"value":"1g"`)
}

func TestWriteLag(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeLag(&buf, map[string]map[int32]int64{
		"review.audit": {1: 4, 0: 2},
	}))
	assert.Equal(t, "review.audit\t0\t2\nreview.audit\t1\t4\n", buf.String())
}
