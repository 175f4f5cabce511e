package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxreview/internal/domain/document"
	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
	"github.com/drfirst/go-rxreview/pkg/circuitbreaker"
)

func aiClient(url string, mutate func(*AIConfig)) *AIClient {
	cfg := DefaultAIConfig()
	cfg.BaseURL = url
	cfg.Timeout = 5 * time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	return NewAIClient(cfg, nil, nil)
}

func TestAIClient_SendsCaseAndDecodesNumbers(t *testing.T) {
	var gotBody map[string]string
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/prescribe", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"prescricoes":[{"nome":"Amoxicilina","quantidade":21}]}`)
	}))
	defer srv.Close()

	c := aiClient(srv.URL, func(cfg *AIConfig) {
		cfg.SymptomsField = "sintomas"
		cfg.DiagnosisField = "diagnostico"
	})
	raw, err := c.Prescribe(context.Background(), CaseRequest{Symptoms: "febre", Diagnosis: "amigdalite"}, "tok-123")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, map[string]string{"sintomas": "febre", "diagnostico": "amigdalite"}, gotBody)

	res, err := suggestion.Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, "21", res.Suggestions[0].Quantity)
}

func TestAIClient_OmitsEmptyDiagnosisAndToken(t *testing.T) {
	var gotBody map[string]string
	var hasAuth bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasAuth = r.Header["Authorization"]
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	_, err := aiClient(srv.URL, nil).Prescribe(context.Background(), CaseRequest{Symptoms: "tosse"}, "")
	require.NoError(t, err)
	assert.False(t, hasAuth)
	assert.Equal(t, map[string]string{"symptoms": "tosse"}, gotBody)
}

func TestAIClient_RedactsIdentifiers(t *testing.T) {
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = io.WriteString(w, `[]`)
	}))
	defer srv.Close()

	_, err := aiClient(srv.URL, nil).Prescribe(context.Background(), CaseRequest{
		Symptoms: "paciente CPF 123.456.789-09, contato joao@example.com, febre",
	}, "")
	require.NoError(t, err)
	assert.NotContains(t, gotBody["symptoms"], "123.456.789-09")
	assert.NotContains(t, gotBody["symptoms"], "joao@example.com")
	assert.Contains(t, gotBody["symptoms"], "febre")
}

func TestAIClient_NonSuccessStatusIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"detail":"Token expirado"}`)
	}))
	defer srv.Close()

	_, err := aiClient(srv.URL, nil).Prescribe(context.Background(), CaseRequest{Symptoms: "x"}, "old")
	require.Error(t, err)
	assert.ErrorIs(t, err, suggestion.ErrTransportFailure)

	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "Token expirado", se.Message)
	assert.Equal(t, AIServiceName, se.Service)
}

func TestAIClient_PlainTextErrorBodyIsVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := aiClient(srv.URL, nil).Prescribe(context.Background(), CaseRequest{Symptoms: "x"}, "")
	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "model overloaded", se.Message)
}

func TestAIClient_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"prescricoes": [`)
	}))
	defer srv.Close()

	_, err := aiClient(srv.URL, nil).Prescribe(context.Background(), CaseRequest{Symptoms: "x"}, "")
	assert.ErrorIs(t, err, suggestion.ErrTransportFailure)
	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusOK, se.StatusCode)
	assert.Contains(t, se.Message, "malformed")
}

func TestAIClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := aiClient(url, nil).Prescribe(context.Background(), CaseRequest{Symptoms: "x"}, "")
	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Zero(t, se.StatusCode)
}

func TestAIClient_OpenBreakerMapsTo503(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := circuitbreaker.DefaultConfig(AIServiceName)
	cfg.ConsecutiveFailures = 1
	cfg.Timeout = time.Hour
	cfg.IsSuccessful = CountsAsSuccess
	breaker, err := circuitbreaker.New(cfg, nil)
	require.NoError(t, err)

	aiCfg := DefaultAIConfig()
	aiCfg.BaseURL = srv.URL
	c := NewAIClient(aiCfg, breaker, nil)

	_, err = c.Prescribe(context.Background(), CaseRequest{Symptoms: "x"}, "")
	se, _ := AsStatusError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)

	_, err = c.Prescribe(context.Background(), CaseRequest{Symptoms: "x"}, "")
	se, _ = AsStatusError(err)
	require.NotNil(t, se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, 1, calls)
}

func TestCountsAsSuccess(t *testing.T) {
	assert.True(t, CountsAsSuccess(nil))
	assert.True(t, CountsAsSuccess(&StatusError{StatusCode: 401}))
	assert.False(t, CountsAsSuccess(&StatusError{StatusCode: 502}))
	assert.False(t, CountsAsSuccess(&StatusError{}))
	assert.False(t, CountsAsSuccess(errors.New("other")))
}

func TestRedact(t *testing.T) {
	in := "CPF 12345678909 email maria.silva@hospital.org.br tel +55 (11) 98765-4321 dor de cabeça"
	out := Redact(in)

	assert.Contains(t, out, "[CPF_REMOVIDO]")
	assert.Contains(t, out, "[EMAIL_REMOVIDO]")
	assert.Contains(t, out, "[TEL_REMOVIDO]")
	assert.NotContains(t, out, "98765")
	assert.Contains(t, out, "dor de cabeça")
	assert.Equal(t, "febre há 3 dias", Redact("febre há 3 dias"))
}

func testDocument(t *testing.T) *document.Document {
	t.Helper()
	doc, err := document.Compose([]review.ReviewItem{{
		Approved:   true,
		Suggestion: suggestion.Suggestion{Name: "Amoxicilina", DosageLabel: "500mg", Quantity: "21", UsageInstructions: "8/8h"},
	}}, "Amigdalite", time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, err)
	return doc
}

func TestExportClient_ReturnsArtifact(t *testing.T) {
	var payload document.ExportPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/receita/pdf", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.7 fake"))
	}))
	defer srv.Close()

	cfg := DefaultExportConfig()
	cfg.BaseURL = srv.URL
	doc := testDocument(t)

	art, err := NewExportClient(cfg, nil, nil).Export(context.Background(), doc, "tok")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", art.ContentType)
	assert.Equal(t, []byte("%PDF-1.7 fake"), art.Data)

	assert.Equal(t, doc.ID(), payload.DocumentID)
	require.Len(t, payload.Medications, 1)
	assert.Equal(t, "8/8h", payload.Medications[0].Posology)
}

func TestExportClient_Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"Erro ao gerar PDF"}`)
	}))
	defer srv.Close()

	cfg := DefaultExportConfig()
	cfg.BaseURL = srv.URL

	_, err := NewExportClient(cfg, nil, nil).Export(context.Background(), testDocument(t), "")
	assert.ErrorIs(t, err, suggestion.ErrTransportFailure)
	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, ExportServiceName, se.Service)
	assert.Equal(t, "Erro ao gerar PDF", se.Message)
}

func TestExportClient_SizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 64))
	}))
	defer srv.Close()

	cfg := DefaultExportConfig()
	cfg.BaseURL = srv.URL
	cfg.MaxArtifactBytes = 16

	_, err := NewExportClient(cfg, nil, nil).Export(context.Background(), testDocument(t), "")
	se, ok := AsStatusError(err)
	require.True(t, ok)
	assert.Contains(t, se.Message, "size limit")
}
