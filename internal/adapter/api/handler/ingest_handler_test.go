package handler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/ingestion"
	"github.com/draw-your-dream/logflare/internal/registry"
	"github.com/draw-your-dream/logflare/internal/rules"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// fakeBufferRepo is a no-op domain.BufferRepository for handler tests.
type fakeBufferRepo struct{}

func (fakeBufferRepo) BufferLog(ctx context.Context, sourceToken string, event domain.LogEvent) error {
	return nil
}
func (fakeBufferRepo) ReadBatch(ctx context.Context, sourceToken, group, consumer string, count int) ([]domain.LogEvent, error) {
	return nil, nil
}
func (fakeBufferRepo) Acknowledge(ctx context.Context, sourceToken, group string, messageIDs ...string) error {
	return nil
}
func (fakeBufferRepo) MoveToDLQ(ctx context.Context, sourceToken string, events []domain.LogEvent) error {
	return nil
}

type fakeRuntime struct {
	id    int64
	token string
	clock *ingestion.MonotonicClock
	buf   *ingestion.Buffer
	cache *ingestion.Cache
	disp  *ingestion.Dispatcher
}

func (r *fakeRuntime) SourceID() int64                   { return r.id }
func (r *fakeRuntime) SourceToken() string                { return r.token }
func (r *fakeRuntime) Clock() *ingestion.MonotonicClock    { return r.clock }
func (r *fakeRuntime) CompiledDrop() rules.Matcher         { return nil }
func (r *fakeRuntime) CompiledRules() []rules.CompiledRule { return nil }
func (r *fakeRuntime) Buffer() *ingestion.Buffer           { return r.buf }
func (r *fakeRuntime) Cache() *ingestion.Cache             { return r.cache }
func (r *fakeRuntime) Dispatcher() *ingestion.Dispatcher   { return r.disp }

func newFakeRuntime(token string) *fakeRuntime {
	var bq atomic.Int64
	return &fakeRuntime{
		id:    1,
		token: token,
		clock: &ingestion.MonotonicClock{},
		buf:   ingestion.NewBuffer(token, fakeBufferRepo{}, nil, testLogger()),
		cache: ingestion.NewCache(1, token, "node-a", 8, nil, nil, nil, &bq, testLogger(), nil),
		disp:  ingestion.NewDispatcher(registry.New(), testLogger(), nil),
	}
}

type fakeResolver struct {
	runtimes map[string]ingestion.SourceRuntime
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, token string) (ingestion.SourceRuntime, error) {
	if f.err != nil {
		return nil, f.err
	}
	rt, ok := f.runtimes[token]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return rt, nil
}

func TestIngestHandler_UnknownSource(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("boom")}
	pipeline := ingestion.NewPipeline(resolver, testLogger(), nil)
	h := NewIngestHandler(pipeline, resolver, testLogger(), 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/sources/S/ingest", bytes.NewBufferString(`{"event_message":"hi"}`))
	req.SetPathValue("token", "S")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestIngestHandler_SingleJSONAccepted(t *testing.T) {
	rt := newFakeRuntime("S")
	resolver := &fakeResolver{runtimes: map[string]ingestion.SourceRuntime{"S": rt}}
	pipeline := ingestion.NewPipeline(resolver, testLogger(), nil)
	h := NewIngestHandler(pipeline, resolver, testLogger(), 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/sources/S/ingest", bytes.NewBufferString(`{"event_message":"hi"}`))
	req.SetPathValue("token", "S")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}

	list := rt.cache.List()
	found := false
	for _, e := range list {
		if e.EventMessage() == "hi" {
			found = true
		}
	}
	if !found {
		t.Error("expected ingested event to appear in the cache")
	}
}

func TestIngestHandler_NDJSON(t *testing.T) {
	rt := newFakeRuntime("S")
	resolver := &fakeResolver{runtimes: map[string]ingestion.SourceRuntime{"S": rt}}
	pipeline := ingestion.NewPipeline(resolver, testLogger(), nil)
	h := NewIngestHandler(pipeline, resolver, testLogger(), 1<<20)

	body := `{"event_message":"line1"}` + "\n" + `{"event_message":"line2"}` + "\nnot-json\n"
	req := httptest.NewRequest(http.MethodPost, "/sources/S/ingest", bytes.NewBufferString(body))
	req.SetPathValue("token", "S")
	req.Header.Set("Content-Type", "application/x-ndjson")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestIngestHandler_PayloadTooLarge(t *testing.T) {
	rt := newFakeRuntime("S")
	resolver := &fakeResolver{runtimes: map[string]ingestion.SourceRuntime{"S": rt}}
	pipeline := ingestion.NewPipeline(resolver, testLogger(), nil)
	h := NewIngestHandler(pipeline, resolver, testLogger(), 10)

	req := httptest.NewRequest(http.MethodPost, "/sources/S/ingest", bytes.NewBufferString(`{"event_message":"this payload is too big"}`))
	req.SetPathValue("token", "S")
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestIngestHandler_MissingToken(t *testing.T) {
	resolver := &fakeResolver{}
	pipeline := ingestion.NewPipeline(resolver, testLogger(), nil)
	h := NewIngestHandler(pipeline, resolver, testLogger(), 1<<20)

	req := httptest.NewRequest(http.MethodPost, "/sources//ingest", bytes.NewBufferString(`{}`))
	rr := httptest.NewRecorder()

	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
