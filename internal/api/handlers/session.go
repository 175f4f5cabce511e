// Package handlers provides HTTP handlers for the review API.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/api/middleware"
	"github.com/drfirst/go-rxreview/internal/app/desk"
	"github.com/drfirst/go-rxreview/internal/domain/document"
	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
	"github.com/drfirst/go-rxreview/internal/infrastructure/collaborator"
)

// SessionHandler handles review session endpoints
type SessionHandler struct {
	desk           *desk.Desk
	logger         *zap.Logger
	prescribeLimit func(http.Handler) http.Handler
}

// NewSessionHandler creates a new handler. limit guards the AI submission
// route and may be nil.
func NewSessionHandler(d *desk.Desk, limit func(http.Handler) http.Handler, logger *zap.Logger) *SessionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionHandler{desk: d, logger: logger, prescribeLimit: limit}
}

// Routes returns the handler routes
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		if h.prescribeLimit != nil {
			r.With(h.prescribeLimit).Post("/prescribe", h.Prescribe)
		} else {
			r.Post("/prescribe", h.Prescribe)
		}
		r.Post("/suggestions/{sourceIndex}/toggle", h.Toggle)
		r.Patch("/suggestions/{sourceIndex}", h.UpdateField)
		r.Delete("/items/{index}", h.Remove)
		r.Get("/document", h.Document)
		r.Post("/export", h.Export)
		r.Get("/events", h.Events)
	})
	return r
}

// PrescribeRequest is the clinical case submitted for suggestions
type PrescribeRequest struct {
	Symptoms  string `json:"symptoms"`
	Diagnosis string `json:"diagnosis,omitempty"`
}

// UpdateFieldRequest edits one field of a suggestion
type UpdateFieldRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// ToggleResponse reports whether the identity matched an item
type ToggleResponse struct {
	*desk.View
	Matched bool `json:"matched"`
}

// ExportRequest optionally overrides the document diagnosis
type ExportRequest struct {
	Diagnosis string `json:"diagnosis,omitempty"`
}

// Create handles POST /sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	v := h.desk.CreateSession(h.context(r))
	w.Header().Set("Location", "/api/v1/sessions/"+v.SessionID)
	h.jsonResponse(w, v, http.StatusCreated)
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.desk.Session(h.context(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, v, http.StatusOK)
}

// Prescribe handles POST /sessions/{id}/prescribe
func (h *SessionHandler) Prescribe(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("session-handler").Start(h.context(r), "prescribe")
	defer span.End()

	id := chi.URLParam(r, "id")
	span.SetAttributes(attribute.String("session_id", id))

	var req PrescribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Symptoms) == "" {
		h.jsonError(w, "symptoms is required", http.StatusBadRequest)
		return
	}

	res, err := h.desk.Prescribe(ctx, id, collaborator.CaseRequest{
		Symptoms:  req.Symptoms,
		Diagnosis: strings.TrimSpace(req.Diagnosis),
	}, middleware.GetBearerToken(ctx))
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, res, http.StatusOK)
}

// Toggle handles POST /sessions/{id}/suggestions/{sourceIndex}/toggle
func (h *SessionHandler) Toggle(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.intParam(w, r, "sourceIndex")
	if !ok {
		return
	}
	v, matched, err := h.desk.ToggleApproval(h.context(r), chi.URLParam(r, "id"), identity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, ToggleResponse{View: v, Matched: matched}, http.StatusOK)
}

// UpdateField handles PATCH /sessions/{id}/suggestions/{sourceIndex}
func (h *SessionHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.intParam(w, r, "sourceIndex")
	if !ok {
		return
	}
	var req UpdateFieldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	field, err := review.ParseField(req.Field)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	v, err := h.desk.UpdateField(h.context(r), chi.URLParam(r, "id"), identity, field, req.Value)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, v, http.StatusOK)
}

// Remove handles DELETE /sessions/{id}/items/{index}
func (h *SessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	index, ok := h.intParam(w, r, "index")
	if !ok {
		return
	}
	v, err := h.desk.Remove(h.context(r), chi.URLParam(r, "id"), index)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, v, http.StatusOK)
}

// Document handles GET /sessions/{id}/document
func (h *SessionHandler) Document(w http.ResponseWriter, r *http.Request) {
	_, rendered, err := h.desk.Compose(h.context(r), chi.URLParam(r, "id"), r.URL.Query().Get("diagnosis"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, rendered, http.StatusOK)
}

// Export handles POST /sessions/{id}/export
func (h *SessionHandler) Export(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("session-handler").Start(h.context(r), "export")
	defer span.End()

	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	doc, art, err := h.desk.Export(ctx, chi.URLParam(r, "id"), req.Diagnosis, middleware.GetBearerToken(ctx))
	if err != nil {
		span.RecordError(err)
		h.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("Content-Disposition", `attachment; filename="receita-`+doc.ID()+`.pdf"`)
	w.Header().Set("X-Document-ID", doc.ID())
	w.Header().Set("X-Document-Fingerprint", doc.Fingerprint())
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(art.Data)
}

// Events handles GET /sessions/{id}/events
func (h *SessionHandler) Events(w http.ResponseWriter, r *http.Request) {
	events, err := h.desk.Events(h.context(r), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]interface{}{
		"session_id": chi.URLParam(r, "id"),
		"events":     events,
	}, http.StatusOK)
}

func (h *SessionHandler) context(r *http.Request) context.Context {
	return review.WithCorrelationID(r.Context(), middleware.GetRequestID(r.Context()))
}

func (h *SessionHandler) intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	n, err := strconv.Atoi(chi.URLParam(r, name))
	if err != nil {
		h.jsonError(w, "invalid "+name, http.StatusBadRequest)
		return 0, false
	}
	return n, true
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error          string `json:"error"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	Service        string `json:"service,omitempty"`
}

// StatusFor maps domain and collaborator errors to HTTP status codes
func StatusFor(err error) int {
	if se, ok := collaborator.AsStatusError(err); ok {
		// a failed call behind a 2xx answer (malformed body, oversize
		// artifact) still reaches the client as a failure
		if se.StatusCode < 400 || se.StatusCode > 599 {
			return http.StatusBadGateway
		}
		return se.StatusCode
	}
	switch {
	case errors.Is(err, review.ErrSessionNotFound), errors.Is(err, review.ErrIndexOutOfRange):
		return http.StatusNotFound
	case errors.Is(err, review.ErrUnknownField):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrStaleResponse), errors.Is(err, document.ErrEmptyApprovalSet):
		return http.StatusConflict
	case errors.Is(err, suggestion.ErrEmptyList):
		return http.StatusUnprocessableEntity
	case errors.Is(err, suggestion.ErrTransportFailure):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *SessionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	resp := ErrorResponse{Error: err.Error()}
	if se, ok := collaborator.AsStatusError(err); ok {
		resp.Error = se.Message
		resp.UpstreamStatus = se.StatusCode
		resp.Service = se.Service
	}
	if status >= 500 {
		h.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetRequestID(r.Context())),
			zap.Error(err))
		if _, ok := collaborator.AsStatusError(err); !ok {
			resp.Error = "internal server error"
		}
	}
	h.jsonResponse(w, resp, status)
}

func (h *SessionHandler) jsonResponse(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (h *SessionHandler) jsonError(w http.ResponseWriter, message string, status int) {
	h.jsonResponse(w, ErrorResponse{Error: message}, status)
}
