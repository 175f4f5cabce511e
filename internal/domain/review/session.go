package review

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

// Field names a clinician-editable suggestion field
type Field string

const (
	FieldDosage       Field = "dosage"
	FieldQuantity     Field = "quantity"
	FieldInstructions Field = "instructions"
)

// ParseField validates a field name
func ParseField(s string) (Field, error) {
	switch f := Field(s); f {
	case FieldDosage, FieldQuantity, FieldInstructions:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
}

// ReviewItem pairs a suggestion with the clinician's approval
type ReviewItem struct {
	Suggestion suggestion.Suggestion `json:"suggestion" yaml:"suggestion"`
	Approved   bool                  `json:"approved" yaml:"approved"`
}

// Identity is the stable key used by ToggleApproval and UpdateField
func (i ReviewItem) Identity() int { return i.Suggestion.SourceIndex }

// Session is the review aggregate root. It is not safe for concurrent use;
// Store serializes access.
type Session struct {
	id            string
	version       int
	latestRequest uint64
	diagnosis     string
	items         []ReviewItem
	createdAt     time.Time
	updatedAt     time.Time
	correlationID string
	changes       []*Event
	history       []*Event
}

// NewSession creates an empty session
func NewSession(id string) *Session {
	now := time.Now().UTC()
	return &Session{
		id:        id,
		items:     make([]ReviewItem, 0),
		createdAt: now,
		updatedAt: now,
		changes:   make([]*Event, 0),
	}
}

// ID returns the session ID
func (s *Session) ID() string { return s.id }

// Version returns the number of applied events
func (s *Session) Version() int { return s.version }

// LatestRequestID returns the sequence number of the most recent AI submission
func (s *Session) LatestRequestID() uint64 { return s.latestRequest }

// Diagnosis returns the diagnosis submitted with the loaded response
func (s *Session) Diagnosis() string { return s.diagnosis }

// CreatedAt returns the creation time
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// UpdatedAt returns the time of the last applied event
func (s *Session) UpdatedAt() time.Time { return s.updatedAt }

// Changes returns events not yet handed to a sink
func (s *Session) Changes() []*Event { return s.changes }

// ClearChanges clears uncommitted events
func (s *Session) ClearChanges() { s.changes = make([]*Event, 0) }

// History returns every event applied to the session
func (s *Session) History() []*Event {
	out := make([]*Event, len(s.history))
	copy(out, s.history)
	return out
}

// SetCorrelation tags subsequent events with a request id
func (s *Session) SetCorrelation(id string) { s.correlationID = id }

// Items returns a copy of the items in display order
func (s *Session) Items() []ReviewItem {
	out := make([]ReviewItem, len(s.items))
	copy(out, s.items)
	return out
}

// ApprovedView returns the approved items in display order
func (s *Session) ApprovedView() []ReviewItem {
	out := make([]ReviewItem, 0, len(s.items))
	for _, item := range s.items {
		if item.Approved {
			out = append(out, item)
		}
	}
	return out
}

// Count returns the number of items
func (s *Session) Count() int { return len(s.items) }

// IsEmpty reports whether the session holds no items
func (s *Session) IsEmpty() bool { return len(s.items) == 0 }

// ApprovedCount returns the number of approved items
func (s *Session) ApprovedCount() int {
	n := 0
	for _, item := range s.items {
		if item.Approved {
			n++
		}
	}
	return n
}

// BeginRequest reserves the sequence number for a new AI submission.
// Responses carrying an older number are rejected by LoadResponse.
func (s *Session) BeginRequest() uint64 {
	s.latestRequest++
	return s.latestRequest
}

// Load replaces the session contents with unapproved items
func (s *Session) Load(suggestions []suggestion.Suggestion) error {
	return s.load(s.latestRequest, s.diagnosis, suggestions)
}

// LoadResponse loads the response to request seq unless a newer request began
func (s *Session) LoadResponse(seq uint64, diagnosis string, suggestions []suggestion.Suggestion) error {
	if seq != s.latestRequest {
		return &StaleResponseError{RequestSeq: seq, LatestSeq: s.latestRequest}
	}
	return s.load(seq, diagnosis, suggestions)
}

func (s *Session) load(seq uint64, diagnosis string, suggestions []suggestion.Suggestion) error {
	data := &SuggestionsLoadedData{
		RequestSeq:  seq,
		Diagnosis:   diagnosis,
		Suggestions: make([]suggestion.Suggestion, len(suggestions)),
	}
	copy(data.Suggestions, suggestions)
	return s.raise(EventSuggestionsLoaded, data)
}

// ToggleApproval flips the approval of the item with the given identity.
// It reports whether an item matched; no match is a no-op.
func (s *Session) ToggleApproval(identity int) (bool, error) {
	i := s.find(identity)
	if i < 0 {
		return false, nil
	}
	data := &ApprovalToggledData{
		SourceIndex: identity,
		Approved:    !s.items[i].Approved,
	}
	return true, s.raise(EventApprovalToggled, data)
}

// Remove deletes the item at a display position
func (s *Session) Remove(index int) error {
	if index < 0 || index >= len(s.items) {
		return &IndexError{Index: index, Count: len(s.items)}
	}
	item := s.items[index]
	data := &ItemRemovedData{
		Index:       index,
		SourceIndex: item.Identity(),
		Name:        item.Suggestion.Name,
	}
	return s.raise(EventItemRemoved, data)
}

// UpdateField edits one field of the item with the given identity. An
// unknown identity is a no-op.
func (s *Session) UpdateField(identity int, field Field, value string) error {
	if _, err := ParseField(string(field)); err != nil {
		return err
	}
	i := s.find(identity)
	if i < 0 {
		return nil
	}
	data := &FieldUpdatedData{
		SourceIndex: identity,
		Field:       field,
		Value:       value,
		Previous:    *fieldRef(&s.items[i].Suggestion, field),
	}
	return s.raise(EventFieldUpdated, data)
}

// RecordComposition notes that a document was built from the approved items
func (s *Session) RecordComposition(documentID string, lines int, fingerprint string, generatedAt time.Time) error {
	return s.raise(EventDocumentComposed, &DocumentComposedData{
		DocumentID:  documentID,
		Lines:       lines,
		Fingerprint: fingerprint,
		GeneratedAt: generatedAt,
	})
}

// RecordExport notes that a document was handed to the export service
func (s *Session) RecordExport(documentID, contentType string, size int) error {
	return s.raise(EventDocumentExported, &DocumentExportedData{
		DocumentID:  documentID,
		ContentType: contentType,
		Size:        size,
	})
}

// LoadFromHistory rebuilds state from events
func (s *Session) LoadFromHistory(events []*Event) error {
	for _, event := range events {
		if err := s.apply(event); err != nil {
			return fmt.Errorf("event %s (%s): %w", event.ID, event.EventType, err)
		}
		s.history = append(s.history, event)
	}
	return nil
}

func (s *Session) raise(eventType EventType, data interface{}) error {
	event, err := NewEvent(s.id, eventType, data)
	if err != nil {
		return err
	}
	event.WithCorrelation(s.correlationID)

	if err := s.apply(event); err != nil {
		return err
	}
	event.Version = s.version
	s.changes = append(s.changes, event)
	s.history = append(s.history, event)
	return nil
}

// apply applies an event to update state
func (s *Session) apply(event *Event) error {
	switch event.EventType {
	case EventSuggestionsLoaded:
		var data SuggestionsLoadedData
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
		}
		s.items = make([]ReviewItem, len(data.Suggestions))
		for i, sg := range data.Suggestions {
			s.items[i] = ReviewItem{Suggestion: sg}
		}
		s.diagnosis = data.Diagnosis
		if data.RequestSeq > s.latestRequest {
			s.latestRequest = data.RequestSeq
		}

	case EventApprovalToggled:
		var data ApprovalToggledData
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
		}
		if i := s.find(data.SourceIndex); i >= 0 {
			s.items[i].Approved = data.Approved
		}

	case EventItemRemoved:
		var data ItemRemovedData
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
		}
		if data.Index < 0 || data.Index >= len(s.items) || s.items[data.Index].Identity() != data.SourceIndex {
			return fmt.Errorf("%w: no item %d at position %d", ErrCorruptedHistory, data.SourceIndex, data.Index)
		}
		s.items = append(s.items[:data.Index:data.Index], s.items[data.Index+1:]...)

	case EventFieldUpdated:
		var data FieldUpdatedData
		if err := json.Unmarshal(event.EventData, &data); err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptedHistory, err)
		}
		if i := s.find(data.SourceIndex); i >= 0 {
			if ref := fieldRef(&s.items[i].Suggestion, data.Field); ref != nil {
				*ref = data.Value
			}
		}

	case EventDocumentComposed, EventDocumentExported:
		// audit only

	default:
		return fmt.Errorf("%w: unknown event type %q", ErrCorruptedHistory, event.EventType)
	}

	s.version++
	s.updatedAt = event.Timestamp
	return nil
}

func (s *Session) find(identity int) int {
	for i, item := range s.items {
		if item.Identity() == identity {
			return i
		}
	}
	return -1
}

func fieldRef(sg *suggestion.Suggestion, field Field) *string {
	switch field {
	case FieldDosage:
		return &sg.DosageLabel
	case FieldQuantity:
		return &sg.Quantity
	case FieldInstructions:
		return &sg.UsageInstructions
	}
	return nil
}
