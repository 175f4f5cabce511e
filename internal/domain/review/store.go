package review

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EventSink receives session events once an operation completes
type EventSink interface {
	Append(ctx context.Context, sessionID string, events []*Event) error
}

type correlationKey struct{}

// WithCorrelationID attaches a request id that Store stamps onto events
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

type entry struct {
	mu       sync.Mutex
	session  *Session
	lastSeen time.Time
}

// Store holds ephemeral sessions in memory and serializes work per session
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	sink     EventSink
	logger   *zap.Logger
	now      func() time.Time
}

// NewStore creates a store. sink may be nil.
func NewStore(sink EventSink, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		sessions: make(map[string]*entry),
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// Create registers a new empty session and returns its id
func (s *Store) Create() string {
	id := uuid.New().String()
	sess := NewSession(id)

	s.mu.Lock()
	s.sessions[id] = &entry{session: sess, lastSeen: s.now()}
	s.mu.Unlock()

	s.logger.Debug("session created", zap.String("session_id", id))
	return id
}

// Do runs fn with exclusive access to a session. Events raised by fn are
// handed to the sink before Do returns; sink failures are logged, not returned.
func (s *Store) Do(ctx context.Context, id string, fn func(*Session) error) error {
	s.mu.RLock()
	e, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	s.mu.RLock()
	live := s.sessions[id] == e
	s.mu.RUnlock()
	if !live {
		return ErrSessionNotFound
	}

	e.session.SetCorrelation(correlationID(ctx))
	err := fn(e.session)
	e.session.SetCorrelation("")
	e.lastSeen = s.now()

	if changes := e.session.Changes(); len(changes) > 0 {
		e.session.ClearChanges()
		if s.sink != nil {
			if serr := s.sink.Append(ctx, id, changes); serr != nil {
				s.logger.Warn("failed to append session events",
					zap.String("session_id", id),
					zap.Int("events", len(changes)),
					zap.Error(serr))
			}
		}
	}
	return err
}

// Delete drops a session
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Len returns the number of live sessions
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than idle and returns how many went.
// Sessions busy in Do are skipped.
func (s *Store) Sweep(idle time.Duration) int {
	cutoff := s.now().Add(-idle)

	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.sessions {
		if !e.mu.TryLock() {
			continue
		}
		if e.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			evicted++
		}
		e.mu.Unlock()
	}
	if evicted > 0 {
		s.logger.Info("idle sessions evicted", zap.Int("count", evicted), zap.Duration("idle", idle))
	}
	return evicted
}
