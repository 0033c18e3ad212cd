package middleware

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/draw-your-dream/logflare/internal/domain"
)

type fakeSourceStore struct {
	sources map[string]domain.Source
}

func (f *fakeSourceStore) GetSourceByToken(ctx context.Context, token string) (*domain.Source, error) {
	src, ok := f.sources[token]
	if !ok {
		return nil, domain.ErrSourceNotFound
	}
	return &src, nil
}
func (f *fakeSourceStore) ListBackends(ctx context.Context, sourceID int64) ([]domain.SourceBackend, error) {
	return nil, nil
}
func (f *fakeSourceStore) CreateBackend(ctx context.Context, backend domain.SourceBackend) (domain.SourceBackend, error) {
	return backend, nil
}
func (f *fakeSourceStore) TouchSource(ctx context.Context, sourceID int64, at time.Time) error {
	return nil
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestSourceToken_UnknownTokenRejected(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]domain.Source{}}
	mw := SourceToken(store, testLogger())

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/sources/S/ingest", nil)
	req.SetPathValue("token", "S")
	rr := httptest.NewRecorder()

	mw(next).ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if called {
		t.Error("expected next handler not to be called for an unknown token")
	}
}

func TestSourceToken_KnownTokenPassesThrough(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]domain.Source{"S": {ID: 1, Token: "S"}}}
	mw := SourceToken(store, testLogger())

	called := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/sources/S/ingest", nil)
	req.SetPathValue("token", "S")
	rr := httptest.NewRecorder()

	mw(next).ServeHTTP(rr, req)

	if !called {
		t.Error("expected next handler to be called for a known token")
	}
}

func TestSourceToken_MissingTokenRejected(t *testing.T) {
	store := &fakeSourceStore{sources: map[string]domain.Source{}}
	mw := SourceToken(store, testLogger())

	req := httptest.NewRequest(http.MethodPost, "/sources//ingest", nil)
	rr := httptest.NewRecorder()

	mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
