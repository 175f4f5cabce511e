package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestScheduler_RunsJobs(t *testing.T) {
	s := New(nil)
	var runs atomic.Int32
	require.NoError(t, s.Every(20*time.Millisecond, "sweep-sessions", func() { runs.Add(1) }))
	require.NoError(t, s.Every(time.Hour, "cleanup-outbox", func() {}))
	assert.Equal(t, []string{"cleanup-outbox", "sweep-sessions"}, s.Jobs())

	s.Start()
	defer s.Stop()

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_RejectsBadInterval(t *testing.T) {
	s := New(nil)
	assert.Error(t, s.Every(0, "never", func() {}))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_RecoversPanics(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	s := New(zap.New(core))

	var after atomic.Bool
	s.wrap("boom", func() { panic("kaboom") })()
	after.Store(true)

	assert.True(t, after.Load())
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "boom", logs.All()[0].ContextMap()["job"])
}
