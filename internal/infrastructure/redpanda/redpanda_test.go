package redpanda

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drfirst/go-rxreview/internal/domain/review"
)

func TestNewRecord_PropagatesTraceContext(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	record := newRecord(ctx, review.AuditTopic, "sess-1", []byte(`{}`))
	assert.Equal(t, "sess-1", string(record.Key))

	msg := toMessage(record)
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", msg.Headers["traceparent"])

	extracted := otel.GetTextMapPropagator().Extract(context.Background(), &headerCarrier{record: record})
	got := trace.SpanContextFromContext(extracted)
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestHeaderCarrier_SetReplaces(t *testing.T) {
	rec := &kgo.Record{}
	c := &headerCarrier{record: rec}
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "3")

	assert.Equal(t, "3", c.Get("a"))
	assert.Equal(t, "", c.Get("missing"))
	assert.Equal(t, []string{"a", "b"}, c.Keys())
}

func TestDecodeAuditEvent(t *testing.T) {
	event, err := review.NewEvent("sess-9", review.EventItemRemoved, review.ItemRemovedData{Index: 1, SourceIndex: 3, Name: "Dipirona"})
	require.NoError(t, err)
	event.Version = 2
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	got, err := DecodeAuditEvent(&ConsumedMessage{Topic: review.AuditTopic, Value: payload, Timestamp: time.Now()})
	require.NoError(t, err)
	assert.Equal(t, "sess-9", got.SessionID)
	assert.Equal(t, review.EventItemRemoved, got.EventType)
	assert.Equal(t, 2, got.Version)

	_, err = DecodeAuditEvent(&ConsumedMessage{Topic: review.AuditTopic, Value: []byte("not json")})
	assert.Error(t, err)

	_, err = DecodeAuditEvent(&ConsumedMessage{Topic: review.AuditTopic, Value: []byte(`{"id":"x"}`)})
	assert.Error(t, err)
}

func TestDefaultTopicConfigs(t *testing.T) {
	cfgs := DefaultTopicConfigs(0)
	require.Len(t, cfgs, 2)
	assert.Equal(t, "review.audit", cfgs[0].Name)
	assert.Equal(t, "review.audit.dlq", cfgs[1].Name)
	for _, c := range cfgs {
		assert.Equal(t, int16(1), c.ReplicationFactor)
		assert.NotNil(t, c.Configs["retention.ms"])
	}

	assert.Equal(t, int16(3), DefaultTopicConfigs(3)[0].ReplicationFactor)
}

func TestNewConsumer_RequiresHandler(t *testing.T) {
	_, err := NewConsumer(DefaultConsumerConfig(), nil, nil)
	assert.Error(t, err)
}
