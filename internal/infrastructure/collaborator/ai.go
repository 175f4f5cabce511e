package collaborator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/pkg/circuitbreaker"
)

// AIServiceName labels errors, spans and breakers for the AI collaborator
const AIServiceName = "ai"

// AIConfig configures the AI prescription client
type AIConfig struct {
	BaseURL       string
	PrescribePath string
	// SymptomsField and DiagnosisField are the request keys the backend expects
	SymptomsField  string
	DiagnosisField string
	Timeout        time.Duration
	// Redact masks personal identifiers before the case leaves the process
	Redact bool
}

// DefaultAIConfig returns defaults matching the reference backend
func DefaultAIConfig() AIConfig {
	return AIConfig{
		BaseURL:        "http://127.0.0.1:8000",
		PrescribePath:  "/api/v1/prescribe",
		SymptomsField:  "symptoms",
		DiagnosisField: "diagnosis",
		Timeout:        60 * time.Second,
		Redact:         true,
	}
}

// CaseRequest is the clinical case submitted for suggestions
type CaseRequest struct {
	Symptoms  string `json:"symptoms"`
	Diagnosis string `json:"diagnosis,omitempty"`
}

// AIClient calls the AI prescription service
type AIClient struct {
	cfg     AIConfig
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewAIClient creates a client. breaker may be nil.
func NewAIClient(cfg AIConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *AIClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AIClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("collaborator.ai"),
	}
}

// Prescribe submits a case and returns the decoded response body. Numbers
// are decoded as json.Number. Every failure is a *StatusError.
func (c *AIClient) Prescribe(ctx context.Context, req CaseRequest, token string) (any, error) {
	ctx, span := c.tracer.Start(ctx, "ai_prescribe",
		trace.WithAttributes(attribute.Bool("has_diagnosis", req.Diagnosis != "")))
	defer span.End()

	raw, err := circuitbreaker.Do(ctx, c.breaker, func() (any, error) {
		return c.prescribe(ctx, req, token)
	})
	if err != nil {
		if circuitbreaker.IsOpenError(err) {
			err = &StatusError{Service: AIServiceName, StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "prescribe failed")
		return nil, err
	}
	return raw, nil
}

func (c *AIClient) prescribe(ctx context.Context, req CaseRequest, token string) (any, error) {
	symptoms, diagnosis := req.Symptoms, req.Diagnosis
	if c.cfg.Redact {
		symptoms, diagnosis = Redact(symptoms), Redact(diagnosis)
	}
	payload := map[string]string{c.cfg.SymptomsField: symptoms}
	if diagnosis != "" {
		payload[c.cfg.DiagnosisField] = diagnosis
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &StatusError{Service: AIServiceName, Message: fmt.Sprintf("failed to encode request: %v", err)}
	}

	resp, err := c.send(ctx, c.cfg.BaseURL+c.cfg.PrescribePath, body, token)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := statusErrorFrom(AIServiceName, resp)
		c.logger.Warn("ai service rejected request",
			zap.Int("status", se.StatusCode),
			zap.String("message", se.Message))
		return nil, se
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, &StatusError{
			Service:    AIServiceName,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("malformed response body: %v", err),
		}
	}
	return out, nil
}

func (c *AIClient) send(ctx context.Context, url string, body []byte, token string) (*http.Response, error) {
	return send(ctx, c.http, AIServiceName, url, body, token, "application/json")
}

// send posts a JSON body with an optional bearer credential
func send(ctx context.Context, client *http.Client, service, url string, body []byte, token, accept string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &StatusError{Service: service, Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", accept)
	if token = strings.TrimSpace(token); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &StatusError{Service: service, Message: err.Error()}
	}
	return resp, nil
}
