package desk

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/drfirst/go-rxreview/internal/domain/document"
	"github.com/drfirst/go-rxreview/internal/domain/review"
	"github.com/drfirst/go-rxreview/internal/domain/suggestion"
	"github.com/drfirst/go-rxreview/internal/infrastructure/collaborator"
	"github.com/drfirst/go-rxreview/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeAI struct {
	mu    sync.Mutex
	reply func(req collaborator.CaseRequest) (any, error)
	calls []collaborator.CaseRequest
	token string
}

func (f *fakeAI) Prescribe(_ context.Context, req collaborator.CaseRequest, token string) (any, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.token = token
	reply := f.reply
	f.mu.Unlock()
	return reply(req)
}

type fakeExporter struct {
	got *document.Document
	err error
}

func (f *fakeExporter) Export(_ context.Context, doc *document.Document, _ string) (*collaborator.Artifact, error) {
	f.got = doc
	if f.err != nil {
		return nil, f.err
	}
	return &collaborator.Artifact{ContentType: "application/pdf", Data: []byte("%PDF")}, nil
}

func response(names ...string) map[string]any {
	items := make([]any, len(names))
	for i, n := range names {
		items[i] = map[string]any{"nome": n, "dosagem": "10mg"}
	}
	return map[string]any{"prescricoes": items}
}

var fixedNow = time.Date(2026, 5, 4, 12, 30, 0, 0, time.UTC)

func newDesk(ai Prescriber, exp Exporter) (*Desk, *review.Store) {
	store := review.NewStore(nil, nil)
	d := New(store, ai, exp, nil, nil,
		WithMetrics(metrics.New(prometheus.NewRegistry())),
		WithClock(func() time.Time { return fixedNow }))
	return d, store
}

func TestDesk_PrescribeLoadsSuggestions(t *testing.T) {
	ai := &fakeAI{reply: func(collaborator.CaseRequest) (any, error) {
		return response("Amoxicilina", "Dipirona"), nil
	}}
	d, _ := newDesk(ai, nil)
	id := d.CreateSession(context.Background()).SessionID

	res, err := d.Prescribe(context.Background(), id, collaborator.CaseRequest{Symptoms: "febre", Diagnosis: "amigdalite"}, "tok")
	require.NoError(t, err)

	assert.Equal(t, uint64(1), res.RequestSeq)
	assert.Equal(t, 2, res.Count)
	assert.Equal(t, 0, res.ApprovedCount)
	assert.Equal(t, "amigdalite", res.Diagnosis)
	assert.Equal(t, "tok", ai.token)
}

func TestDesk_PrescribeFailureKeepsPriorItems(t *testing.T) {
	calls := 0
	ai := &fakeAI{reply: func(collaborator.CaseRequest) (any, error) {
		calls++
		switch calls {
		case 1:
			return response("Losartana"), nil
		case 2:
			return nil, &collaborator.StatusError{Service: "ai", StatusCode: 500, Message: "boom"}
		default:
			return map[string]any{"prescricoes": []any{}}, nil
		}
	}}
	d, _ := newDesk(ai, nil)
	id := d.CreateSession(context.Background()).SessionID

	_, err := d.Prescribe(context.Background(), id, collaborator.CaseRequest{Symptoms: "a"}, "")
	require.NoError(t, err)
	_, _, err = d.ToggleApproval(context.Background(), id, 0)
	require.NoError(t, err)

	_, err = d.Prescribe(context.Background(), id, collaborator.CaseRequest{Symptoms: "b"}, "")
	assert.ErrorIs(t, err, suggestion.ErrTransportFailure)

	_, err = d.Prescribe(context.Background(), id, collaborator.CaseRequest{Symptoms: "c"}, "")
	assert.ErrorIs(t, err, suggestion.ErrEmptyList)

	v, err := d.Session(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, v.Count)
	assert.Equal(t, "Losartana", v.Items[0].Suggestion.Name)
	assert.True(t, v.Items[0].Approved)
}

func TestDesk_StaleResponseIsDiscarded(t *testing.T) {
	releaseA := make(chan struct{})
	startedA := make(chan struct{})
	ai := &fakeAI{reply: func(req collaborator.CaseRequest) (any, error) {
		if req.Symptoms == "A" {
			close(startedA)
			<-releaseA
			return response("Old"), nil
		}
		return response("New"), nil
	}}
	d, _ := newDesk(ai, nil)
	id := d.CreateSession(context.Background()).SessionID

	var errA error
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errA = d.Prescribe(context.Background(), id, collaborator.CaseRequest{Symptoms: "A"}, "")
	}()

	<-startedA
	resB, errB := d.Prescribe(context.Background(), id, collaborator.CaseRequest{Symptoms: "B"}, "")
	require.NoError(t, errB)
	assert.Equal(t, uint64(2), resB.RequestSeq)

	close(releaseA)
	wg.Wait()

	require.Error(t, errA)
	assert.ErrorIs(t, errA, review.ErrStaleResponse)

	v, err := d.Session(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, 1, v.Count)
	assert.Equal(t, "New", v.Items[0].Suggestion.Name)
	assert.Equal(t, uint64(2), v.LatestRequest)
}

func TestDesk_UnknownSession(t *testing.T) {
	d, _ := newDesk(&fakeAI{reply: func(collaborator.CaseRequest) (any, error) { return nil, nil }}, nil)

	_, err := d.Prescribe(context.Background(), "nope", collaborator.CaseRequest{}, "")
	assert.ErrorIs(t, err, review.ErrSessionNotFound)
	assert.Empty(t, d.ai.(*fakeAI).calls)

	_, err = d.Session(context.Background(), "nope")
	assert.ErrorIs(t, err, review.ErrSessionNotFound)
}

func TestDesk_EditAndCompose(t *testing.T) {
	ai := &fakeAI{reply: func(collaborator.CaseRequest) (any, error) {
		return response("Amoxicilina", "Dipirona", "Ibuprofeno"), nil
	}}
	d, _ := newDesk(ai, nil)
	ctx := context.Background()
	id := d.CreateSession(ctx).SessionID

	_, err := d.Prescribe(ctx, id, collaborator.CaseRequest{Symptoms: "dor", Diagnosis: "Otite"}, "")
	require.NoError(t, err)

	_, _, err = d.Compose(ctx, id, "")
	assert.ErrorIs(t, err, document.ErrEmptyApprovalSet)

	_, matched, err := d.ToggleApproval(ctx, id, 2)
	require.NoError(t, err)
	assert.True(t, matched)
	_, matched, err = d.ToggleApproval(ctx, id, 0)
	require.NoError(t, err)
	assert.True(t, matched)
	_, matched, err = d.ToggleApproval(ctx, id, 99)
	require.NoError(t, err)
	assert.False(t, matched)

	_, err = d.UpdateField(ctx, id, 2, review.FieldDosage, "600mg")
	require.NoError(t, err)
	_, err = d.UpdateField(ctx, id, 2, review.Field("name"), "x")
	assert.ErrorIs(t, err, review.ErrUnknownField)

	v, err := d.Remove(ctx, id, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, v.Count)
	_, err = d.Remove(ctx, id, 5)
	assert.ErrorIs(t, err, review.ErrIndexOutOfRange)

	doc, rendered, err := d.Compose(ctx, id, "")
	require.NoError(t, err)
	require.Equal(t, 2, doc.Len())
	assert.Equal(t, "Amoxicilina", doc.Lines()[0].Name)
	assert.Equal(t, "600mg", doc.Lines()[1].DosageLabel)
	assert.Equal(t, "Otite", doc.Diagnosis())
	assert.Equal(t, fixedNow, doc.GeneratedAt())
	assert.Equal(t, "04/05/2026", rendered.Date)

	doc, _, err = d.Compose(ctx, id, "Otite média aguda")
	require.NoError(t, err)
	assert.Equal(t, "Otite média aguda", doc.Diagnosis())

	events, err := d.Events(ctx, id)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, review.EventDocumentComposed, last.EventType)
}

func TestDesk_Export(t *testing.T) {
	ai := &fakeAI{reply: func(collaborator.CaseRequest) (any, error) { return response("Amoxicilina"), nil }}
	exp := &fakeExporter{}
	d, _ := newDesk(ai, exp)
	ctx := context.Background()
	id := d.CreateSession(ctx).SessionID

	_, err := d.Prescribe(ctx, id, collaborator.CaseRequest{Symptoms: "x"}, "")
	require.NoError(t, err)
	_, _, err = d.ToggleApproval(ctx, id, 0)
	require.NoError(t, err)

	doc, art, err := d.Export(ctx, id, "", "tok")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", art.ContentType)
	assert.Same(t, doc, exp.got)

	events, err := d.Events(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, review.EventDocumentExported, events[len(events)-1].EventType)
}

func TestDesk_ExportFailure(t *testing.T) {
	ai := &fakeAI{reply: func(collaborator.CaseRequest) (any, error) { return response("Amoxicilina"), nil }}
	exp := &fakeExporter{err: &collaborator.StatusError{Service: "export", StatusCode: 500, Message: "Erro ao gerar PDF"}}
	d, _ := newDesk(ai, exp)
	ctx := context.Background()
	id := d.CreateSession(ctx).SessionID

	_, err := d.Prescribe(ctx, id, collaborator.CaseRequest{Symptoms: "x"}, "")
	require.NoError(t, err)
	_, _, err = d.ToggleApproval(ctx, id, 0)
	require.NoError(t, err)

	_, _, err = d.Export(ctx, id, "", "")
	assert.True(t, errors.Is(err, suggestion.ErrTransportFailure))
}

func TestDesk_Sweep(t *testing.T) {
	d, store := newDesk(nil, nil)
	d.CreateSession(context.Background())
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, 0, d.Sweep(time.Hour))
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, d.Sweep(time.Millisecond))
	assert.Equal(t, 0, store.Len())
}
