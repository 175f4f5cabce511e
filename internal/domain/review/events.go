// Package review implements the review session aggregate and its audit events.
package review

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

// AggregateType is the aggregate name recorded on every event
const AggregateType = "ReviewSession"

// Topics carrying published session events
const (
	AuditTopic           = "review.audit"
	AuditDeadLetterTopic = "review.audit.dlq"
)

// EventType represents the type of session event
type EventType string

const (
	EventSuggestionsLoaded EventType = "SuggestionsLoaded"
	EventApprovalToggled   EventType = "ApprovalToggled"
	EventItemRemoved       EventType = "ItemRemoved"
	EventFieldUpdated      EventType = "FieldUpdated"
	EventDocumentComposed  EventType = "DocumentComposed"
	EventDocumentExported  EventType = "DocumentExported"
)

// Event is one recorded session transition
type Event struct {
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	AggregateType string          `json:"aggregate_type"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	Version       int             `json:"version"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// NewEvent creates a new event
func NewEvent(sessionID string, eventType EventType, data interface{}) (*Event, error) {
	eventData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		AggregateType: AggregateType,
		EventType:     eventType,
		EventData:     eventData,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// WithCorrelation tags the event with the HTTP request that caused it
func (e *Event) WithCorrelation(id string) *Event {
	e.CorrelationID = id
	return e
}

// SuggestionsLoadedData replaces the session contents
type SuggestionsLoadedData struct {
	RequestSeq  uint64                  `json:"request_seq"`
	Diagnosis   string                  `json:"diagnosis,omitempty"`
	Suggestions []suggestion.Suggestion `json:"suggestions"`
}

// ApprovalToggledData records the new approval state of one item
type ApprovalToggledData struct {
	SourceIndex int  `json:"source_index"`
	Approved    bool `json:"approved"`
}

// ItemRemovedData records a positional removal
type ItemRemovedData struct {
	Index       int    `json:"index"`
	SourceIndex int    `json:"source_index"`
	Name        string `json:"name"`
}

// FieldUpdatedData records a clinician edit
type FieldUpdatedData struct {
	SourceIndex int    `json:"source_index"`
	Field       Field  `json:"field"`
	Value       string `json:"value"`
	Previous    string `json:"previous"`
}

// DocumentComposedData records a document snapshot built from the session
type DocumentComposedData struct {
	DocumentID  string    `json:"document_id"`
	Lines       int       `json:"lines"`
	Fingerprint string    `json:"fingerprint"`
	GeneratedAt time.Time `json:"generated_at"`
}

// DocumentExportedData records a successful export
type DocumentExportedData struct {
	DocumentID  string `json:"document_id"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}
