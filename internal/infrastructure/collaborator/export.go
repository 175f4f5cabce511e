package collaborator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/domain/document"
	"github.com/drfirst/go-rxreview/pkg/circuitbreaker"
)

// ExportServiceName labels errors, spans and breakers for the export collaborator
const ExportServiceName = "export"

// ExportConfig configures the export client
type ExportConfig struct {
	BaseURL string
	Path    string
	Timeout time.Duration
	// MaxArtifactBytes caps the size of the returned artifact
	MaxArtifactBytes int64
}

// DefaultExportConfig returns defaults matching the reference backend
func DefaultExportConfig() ExportConfig {
	return ExportConfig{
		BaseURL:          "http://127.0.0.1:8000",
		Path:             "/api/v1/receita/pdf",
		Timeout:          30 * time.Second,
		MaxArtifactBytes: 20 << 20,
	}
}

// Artifact is the opaque output of the export service
type Artifact struct {
	ContentType string
	Data        []byte
}

// ExportClient turns documents into printable artifacts
type ExportClient struct {
	cfg     ExportConfig
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.Logger
	tracer  trace.Tracer
}

// NewExportClient creates a client. breaker may be nil.
func NewExportClient(cfg ExportConfig, breaker *circuitbreaker.CircuitBreaker, logger *zap.Logger) *ExportClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = DefaultExportConfig().MaxArtifactBytes
	}
	return &ExportClient{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
		tracer:  otel.Tracer("collaborator.export"),
	}
}

// Export sends the document and returns the artifact bytes uninspected
func (c *ExportClient) Export(ctx context.Context, doc *document.Document, token string) (*Artifact, error) {
	ctx, span := c.tracer.Start(ctx, "export_document",
		trace.WithAttributes(
			attribute.String("document_id", doc.ID()),
			attribute.Int("lines", doc.Len()),
		))
	defer span.End()

	art, err := circuitbreaker.Do(ctx, c.breaker, func() (*Artifact, error) {
		return c.export(ctx, doc, token)
	})
	if err != nil {
		if circuitbreaker.IsOpenError(err) {
			err = &StatusError{Service: ExportServiceName, StatusCode: http.StatusServiceUnavailable, Message: err.Error()}
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "export failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("artifact_bytes", len(art.Data)))
	return art, nil
}

func (c *ExportClient) export(ctx context.Context, doc *document.Document, token string) (*Artifact, error) {
	body, err := json.Marshal(document.NewExportPayload(doc))
	if err != nil {
		return nil, &StatusError{Service: ExportServiceName, Message: fmt.Sprintf("failed to encode document: %v", err)}
	}

	resp, err := send(ctx, c.http, ExportServiceName, c.cfg.BaseURL+c.cfg.Path, body, token, "application/pdf")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		se := statusErrorFrom(ExportServiceName, resp)
		c.logger.Warn("export service rejected document",
			zap.String("document_id", doc.ID()),
			zap.Int("status", se.StatusCode),
			zap.String("message", se.Message))
		return nil, se
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxArtifactBytes+1))
	if err != nil {
		return nil, &StatusError{Service: ExportServiceName, StatusCode: resp.StatusCode, Message: fmt.Sprintf("failed to read artifact: %v", err)}
	}
	if int64(len(data)) > c.cfg.MaxArtifactBytes {
		return nil, &StatusError{Service: ExportServiceName, StatusCode: resp.StatusCode, Message: "artifact exceeds size limit"}
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Artifact{ContentType: contentType, Data: data}, nil
}
