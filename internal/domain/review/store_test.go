package review

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu     sync.Mutex
	events []*Event
	err    error
}

func (r *recordingSink) Append(_ context.Context, _ string, events []*Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
	return r.err
}

func (r *recordingSink) all() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Event(nil), r.events...)
}

func TestStore_DoFlushesChangesToSink(t *testing.T) {
	sink := &recordingSink{}
	store := NewStore(sink, nil)
	id := store.Create()

	ctx := WithCorrelationID(context.Background(), "req-1")
	err := store.Do(ctx, id, func(s *Session) error {
		if err := s.Load(sampleSuggestions()); err != nil {
			return err
		}
		_, err := s.ToggleApproval(0)
		return err
	})
	require.NoError(t, err)

	events := sink.all()
	require.Len(t, events, 2)
	assert.Equal(t, "req-1", events[0].CorrelationID)

	// nothing new is re-sent
	require.NoError(t, store.Do(context.Background(), id, func(*Session) error { return nil }))
	assert.Len(t, sink.all(), 2)
}

func TestStore_SinkFailureDoesNotFailOperation(t *testing.T) {
	sink := &recordingSink{err: errors.New("db down")}
	store := NewStore(sink, nil)
	id := store.Create()

	err := store.Do(context.Background(), id, func(s *Session) error {
		return s.Load(sampleSuggestions())
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, store.Do(context.Background(), id, func(s *Session) error {
		count = s.Count()
		return nil
	}))
	assert.Equal(t, 3, count)
}

func TestStore_DoReturnsOperationError(t *testing.T) {
	store := NewStore(nil, nil)
	id := store.Create()

	err := store.Do(context.Background(), id, func(s *Session) error {
		return s.Remove(0)
	})
	assert.ErrorIs(t, err, ErrIndexOutOfRange)
}

func TestStore_UnknownSession(t *testing.T) {
	store := NewStore(nil, nil)
	err := store.Do(context.Background(), "missing", func(*Session) error { return nil })
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestStore_SerializesConcurrentOperations(t *testing.T) {
	store := NewStore(nil, nil)
	id := store.Create()
	require.NoError(t, store.Do(context.Background(), id, func(s *Session) error {
		return s.Load([]suggestion.Suggestion{{Name: "A", SourceIndex: 0}})
	}))

	const toggles = 100
	var wg sync.WaitGroup
	for i := 0; i < toggles; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.Do(context.Background(), id, func(s *Session) error {
				_, err := s.ToggleApproval(0)
				return err
			})
		}()
	}
	wg.Wait()

	require.NoError(t, store.Do(context.Background(), id, func(s *Session) error {
		assert.Equal(t, toggles+1, s.Version())
		assert.Empty(t, s.ApprovedView())
		return nil
	}))
}

func TestStore_Sweep(t *testing.T) {
	store := NewStore(nil, nil)
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	stale := store.Create()
	now = now.Add(20 * time.Minute)
	fresh := store.Create()

	evicted := store.Sweep(10 * time.Minute)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, store.Len())

	assert.ErrorIs(t, store.Do(context.Background(), stale, func(*Session) error { return nil }), ErrSessionNotFound)
	assert.NoError(t, store.Do(context.Background(), fresh, func(*Session) error { return nil }))
}

func TestStore_Delete(t *testing.T) {
	store := NewStore(nil, nil)
	id := store.Create()
	assert.True(t, store.Delete(id))
	assert.False(t, store.Delete(id))
	assert.Equal(t, 0, store.Len())
}
