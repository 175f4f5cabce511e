package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxreview/internal/domain/review"
)

// AuditStore persists session events and their outbox entries together
type AuditStore struct {
	pool   *pgxpool.Pool
	topic  string
	logger *zap.Logger
}

// NewAuditStore creates an audit store whose outbox entries target topic.
// An empty topic means review.AuditTopic.
func NewAuditStore(pool *pgxpool.Pool, topic string, logger *zap.Logger) *AuditStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if topic == "" {
		topic = review.AuditTopic
	}
	return &AuditStore{pool: pool, topic: topic, logger: logger}
}

// Append writes events and one outbox entry per event in a single transaction
func (s *AuditStore) Append(ctx context.Context, sessionID string, events []*review.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, event := range events {
		if err := insertEvent(ctx, tx, event); err != nil {
			return fmt.Errorf("insert event %s v%d: %w", event.EventType, event.Version, err)
		}
		entry, err := outboxEntryFor(event, s.topic)
		if err != nil {
			return err
		}
		if err := WriteEntry(ctx, tx, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("audit events stored",
		zap.String("session_id", sessionID),
		zap.Int("count", len(events)))
	return nil
}

func insertEvent(ctx context.Context, tx pgx.Tx, event *review.Event) error {
	query := `
		INSERT INTO review_events
		(id, session_id, aggregate_type, event_type, event_data, version, timestamp, correlation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''))
	`
	_, err := tx.Exec(ctx, query,
		event.ID,
		event.SessionID,
		event.AggregateType,
		string(event.EventType),
		event.EventData,
		event.Version,
		event.Timestamp,
		event.CorrelationID,
	)
	return err
}

// outboxEntryFor wraps an event for publication, keyed by session so a
// session's events stay ordered within one partition
func outboxEntryFor(event *review.Event, topic string) (*OutboxEntry, error) {
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return &OutboxEntry{
		AggregateID:   event.SessionID,
		AggregateType: event.AggregateType,
		EventType:     string(event.EventType),
		Payload:       payload,
		KafkaTopic:    topic,
		KafkaKey:      event.SessionID,
	}, nil
}

// History retrieves all events for a session in version order
func (s *AuditStore) History(ctx context.Context, sessionID string) ([]*review.Event, error) {
	query := `
		SELECT id, session_id, aggregate_type, event_type, event_data, version, timestamp,
		       COALESCE(correlation_id, '')
		FROM review_events
		WHERE session_id = $1
		ORDER BY version ASC
	`
	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// EventsByType retrieves the most recent events of one type
func (s *AuditStore) EventsByType(ctx context.Context, eventType review.EventType, limit int) ([]*review.Event, error) {
	query := `
		SELECT id, session_id, aggregate_type, event_type, event_data, version, timestamp,
		       COALESCE(correlation_id, '')
		FROM review_events
		WHERE event_type = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`
	rows, err := s.pool.Query(ctx, query, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	return scanEvents(rows)
}

// Replay rebuilds a session from its stored history
func (s *AuditStore) Replay(ctx context.Context, sessionID string) (*review.Session, error) {
	events, err := s.History(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("%w: %s", review.ErrSessionNotFound, sessionID)
	}
	sess := review.NewSession(sessionID)
	if err := sess.LoadFromHistory(events); err != nil {
		return nil, err
	}
	return sess, nil
}

func scanEvents(rows pgx.Rows) ([]*review.Event, error) {
	defer rows.Close()

	var events []*review.Event
	for rows.Next() {
		e := &review.Event{}
		var eventType string
		err := rows.Scan(
			&e.ID, &e.SessionID, &e.AggregateType, &eventType, &e.EventData,
			&e.Version, &e.Timestamp, &e.CorrelationID,
		)
		if err != nil {
			return nil, err
		}
		e.EventType = review.EventType(eventType)
		events = append(events, e)
	}
	return events, rows.Err()
}
