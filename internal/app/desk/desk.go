// Package desk coordinates review sessions with the AI and export collaborators.
package desk

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/domain/document"
	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
	"github.com/drfirst/go-rxreview/internal/infrastructure/collaborator"
	"github.com/drfirst/go-rxreview/internal/observability/metrics"
)

// Prescriber submits a clinical case to the AI service
type Prescriber interface {
	Prescribe(ctx context.Context, req collaborator.CaseRequest, token string) (any, error)
}

// Exporter turns a document into a printable artifact
type Exporter interface {
	Export(ctx context.Context, doc *document.Document, token string) (*collaborator.Artifact, error)
}

// Desk is the application service behind the HTTP API
type Desk struct {
	store    *review.Store
	rules    suggestion.Rules
	ai       Prescriber
	exporter Exporter
	renderer *document.Renderer
	metrics  *metrics.Metrics
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option customizes a Desk
type Option func(*Desk)

// WithRules replaces the default normalization table
func WithRules(r suggestion.Rules) Option { return func(d *Desk) { d.rules = r } }

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option { return func(d *Desk) { d.metrics = m } }

// WithClock overrides the composition clock
func WithClock(now func() time.Time) Option { return func(d *Desk) { d.now = now } }

// New creates a desk
func New(store *review.Store, ai Prescriber, exporter Exporter, renderer *document.Renderer, logger *zap.Logger, opts ...Option) *Desk {
	if logger == nil {
		logger = zap.NewNop()
	}
	if renderer == nil {
		renderer = document.NewRenderer("pt-BR", nil)
	}
	d := &Desk{
		store:    store,
		rules:    suggestion.DefaultRules(),
		ai:       ai,
		exporter: exporter,
		renderer: renderer,
		logger:   logger,
		tracer:   otel.Tracer("desk"),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// View is a read snapshot of a session
type View struct {
	SessionID     string              `json:"session_id"`
	Items         []review.ReviewItem `json:"items"`
	Count         int                 `json:"count"`
	ApprovedCount int                 `json:"approved_count"`
	Diagnosis     string              `json:"diagnosis,omitempty"`
	LatestRequest uint64              `json:"latest_request"`
	Version       int                 `json:"version"`
}

func viewOf(s *review.Session) *View {
	return &View{
		SessionID:     s.ID(),
		Items:         s.Items(),
		Count:         s.Count(),
		ApprovedCount: s.ApprovedCount(),
		Diagnosis:     s.Diagnosis(),
		LatestRequest: s.LatestRequestID(),
		Version:       s.Version(),
	}
}

// PrescribeResult is the outcome of a successful AI submission
type PrescribeResult struct {
	View
	RequestSeq uint64                   `json:"request_seq"`
	Dropped    []*suggestion.FieldError `json:"dropped,omitempty"`
	Extras     suggestion.Extras        `json:"extras"`
}

// CreateSession starts a new empty review session
func (d *Desk) CreateSession(ctx context.Context) *View {
	id := d.store.Create()
	if d.metrics != nil {
		d.metrics.SessionsCreated.Inc()
		d.metrics.SessionsActive.Set(float64(d.store.Len()))
	}
	d.logger.Info("review session created", zap.String("session_id", id))
	return &View{SessionID: id, Items: []review.ReviewItem{}}
}

// Session returns the current state of a session
func (d *Desk) Session(ctx context.Context, id string) (*View, error) {
	var v *View
	err := d.store.Do(ctx, id, func(s *review.Session) error {
		v = viewOf(s)
		return nil
	})
	return v, err
}

// Prescribe submits a case and loads the normalized suggestions. The AI call
// runs outside the session lock; if a newer submission began meanwhile the
// response is discarded with review.ErrStaleResponse. On any failure the
// session keeps its previous items.
func (d *Desk) Prescribe(ctx context.Context, id string, req collaborator.CaseRequest, token string) (*PrescribeResult, error) {
	ctx, span := d.tracer.Start(ctx, "desk_prescribe", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	var seq uint64
	if err := d.store.Do(ctx, id, func(s *review.Session) error {
		seq = s.BeginRequest()
		return nil
	}); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("request_seq", int64(seq)))
	log := d.logger.With(zap.String("session_id", id), zap.Uint64("request_seq", seq))

	start := time.Now()
	raw, err := d.ai.Prescribe(ctx, req, token)
	if d.metrics != nil {
		d.metrics.AIRequestDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		d.countAI("transport_error")
		log.Warn("ai request failed", zap.Error(err))
		span.RecordError(err)
		return nil, err
	}

	res, err := d.rules.Normalize(raw)
	if err != nil {
		d.countAI("empty")
		log.Warn("ai response had no usable suggestions", zap.Error(err))
		return nil, err
	}
	for _, fe := range res.Dropped {
		log.Warn("response item dropped",
			zap.Int("index", fe.Index),
			zap.String("field", fe.Field),
			zap.String("reason", fe.Message))
	}
	if d.metrics != nil {
		d.metrics.SuggestionsNormalized.Add(float64(len(res.Suggestions)))
		d.metrics.SuggestionsDropped.Add(float64(len(res.Dropped)))
	}

	result := &PrescribeResult{RequestSeq: seq, Dropped: res.Dropped, Extras: res.Extras}
	err = d.store.Do(ctx, id, func(s *review.Session) error {
		if err := s.LoadResponse(seq, req.Diagnosis, res.Suggestions); err != nil {
			return err
		}
		result.View = *viewOf(s)
		return nil
	})
	if err != nil {
		if errors.Is(err, review.ErrStaleResponse) {
			d.countAI("stale")
			if d.metrics != nil {
				d.metrics.StaleResponses.Inc()
			}
			log.Info("discarded stale ai response", zap.Error(err))
		}
		return nil, err
	}

	d.countAI("ok")
	log.Info("suggestions loaded",
		zap.Int("count", len(res.Suggestions)),
		zap.Int("dropped", len(res.Dropped)),
		zap.String("location", res.Location))
	return result, nil
}

// ToggleApproval flips an item's approval; matched is false when no item has
// that identity
func (d *Desk) ToggleApproval(ctx context.Context, id string, identity int) (v *View, matched bool, err error) {
	err = d.store.Do(ctx, id, func(s *review.Session) error {
		ok, err := s.ToggleApproval(identity)
		if err != nil {
			return err
		}
		matched = ok
		v = viewOf(s)
		return nil
	})
	return v, matched, err
}

// UpdateField edits a clinician-editable field of an item
func (d *Desk) UpdateField(ctx context.Context, id string, identity int, field review.Field, value string) (*View, error) {
	var v *View
	err := d.store.Do(ctx, id, func(s *review.Session) error {
		if err := s.UpdateField(identity, field, value); err != nil {
			return err
		}
		v = viewOf(s)
		return nil
	})
	return v, err
}

// Remove deletes the item at a display position
func (d *Desk) Remove(ctx context.Context, id string, index int) (*View, error) {
	var v *View
	err := d.store.Do(ctx, id, func(s *review.Session) error {
		if err := s.Remove(index); err != nil {
			return err
		}
		v = viewOf(s)
		return nil
	})
	return v, err
}

// Compose builds and renders a document from the approved items. An empty
// diagnosis falls back to the one submitted with the loaded response.
func (d *Desk) Compose(ctx context.Context, id, diagnosis string) (*document.Document, *document.Rendered, error) {
	doc, err := d.compose(ctx, id, diagnosis)
	if err != nil {
		return nil, nil, err
	}
	return doc, d.renderer.Render(doc), nil
}

func (d *Desk) compose(ctx context.Context, id, diagnosis string) (*document.Document, error) {
	var doc *document.Document
	err := d.store.Do(ctx, id, func(s *review.Session) error {
		if diagnosis == "" {
			diagnosis = s.Diagnosis()
		}
		var err error
		doc, err = document.Compose(s.ApprovedView(), diagnosis, d.now())
		if err != nil {
			return err
		}
		return s.RecordComposition(doc.ID(), doc.Len(), doc.Fingerprint(), doc.GeneratedAt())
	})
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.DocumentsComposed.Inc()
	}
	return doc, nil
}

// Export composes a fresh document and hands it to the export service
func (d *Desk) Export(ctx context.Context, id, diagnosis, token string) (*document.Document, *collaborator.Artifact, error) {
	ctx, span := d.tracer.Start(ctx, "desk_export", trace.WithAttributes(attribute.String("session_id", id)))
	defer span.End()

	doc, err := d.compose(ctx, id, diagnosis)
	if err != nil {
		return nil, nil, err
	}

	art, err := d.exporter.Export(ctx, doc, token)
	if err != nil {
		d.countExport("error")
		span.RecordError(err)
		d.logger.Warn("document export failed",
			zap.String("session_id", id),
			zap.String("document_id", doc.ID()),
			zap.Error(err))
		return nil, nil, err
	}
	d.countExport("ok")

	err = d.store.Do(ctx, id, func(s *review.Session) error {
		return s.RecordExport(doc.ID(), art.ContentType, len(art.Data))
	})
	if err != nil && !errors.Is(err, review.ErrSessionNotFound) {
		return nil, nil, err
	}
	return doc, art, nil
}

// Events returns the session's event history
func (d *Desk) Events(ctx context.Context, id string) ([]*review.Event, error) {
	var events []*review.Event
	err := d.store.Do(ctx, id, func(s *review.Session) error {
		events = s.History()
		return nil
	})
	return events, err
}

// Sweep evicts sessions idle for longer than idle
func (d *Desk) Sweep(idle time.Duration) int {
	n := d.store.Sweep(idle)
	if d.metrics != nil {
		d.metrics.SessionsEvicted.Add(float64(n))
		d.metrics.SessionsActive.Set(float64(d.store.Len()))
	}
	return n
}

func (d *Desk) countAI(outcome string) {
	if d.metrics != nil {
		d.metrics.AIRequests.WithLabelValues(outcome).Inc()
	}
}

func (d *Desk) countExport(outcome string) {
	if d.metrics != nil {
		d.metrics.DocumentsExported.WithLabelValues(outcome).Inc()
	}
}
