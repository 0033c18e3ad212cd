package ingestion

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// flakyBufferRepo is a domain.BufferRepository whose BufferLog call can be
// made to fail on demand, to drive Buffer's WAL fallback path.
type flakyBufferRepo struct {
	mu      sync.Mutex
	events  []domain.LogEvent
	failErr error
}

func (r *flakyBufferRepo) BufferLog(ctx context.Context, sourceToken string, event domain.LogEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failErr != nil {
		return r.failErr
	}
	r.events = append(r.events, event)
	return nil
}
func (r *flakyBufferRepo) ReadBatch(ctx context.Context, sourceToken, group, consumer string, count int) ([]domain.LogEvent, error) {
	return nil, nil
}
func (r *flakyBufferRepo) Acknowledge(ctx context.Context, sourceToken, group string, messageIDs ...string) error {
	return nil
}
func (r *flakyBufferRepo) MoveToDLQ(ctx context.Context, sourceToken string, events []domain.LogEvent) error {
	return nil
}

type fakeWAL struct {
	mu        sync.Mutex
	written   []domain.LogEvent
	truncated bool
}

func (w *fakeWAL) Write(ctx context.Context, event domain.LogEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.written = append(w.written, event)
	return nil
}
func (w *fakeWAL) Replay(ctx context.Context, handler func(event domain.LogEvent) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range w.written {
		if err := handler(e); err != nil {
			return err
		}
	}
	return nil
}
func (w *fakeWAL) Truncate(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.truncated = true
	w.written = nil
	return nil
}

type fakeNetError struct{}

func (fakeNetError) Error() string   { return "connection refused" }
func (fakeNetError) Timeout() bool   { return false }
func (fakeNetError) Temporary() bool { return false }

var _ net.Error = fakeNetError{}

func TestBuffer_AddManyWritesThroughOnSuccess(t *testing.T) {
	repo := &flakyBufferRepo{}
	buf := NewBuffer("S", repo, nil, testLogger())

	events := []domain.LogEvent{{ID: "1"}, {ID: "2"}}
	if err := buf.AddMany(context.Background(), events); err != nil {
		t.Fatalf("AddMany: %v", err)
	}
	if len(repo.events) != 2 {
		t.Fatalf("expected 2 events written through, got %d", len(repo.events))
	}
}

func TestBuffer_FallsBackToWALOnTransportError(t *testing.T) {
	repo := &flakyBufferRepo{failErr: fakeNetError{}}
	wal := &fakeWAL{}
	buf := NewBuffer("S", repo, wal, testLogger())

	if err := buf.AddMany(context.Background(), []domain.LogEvent{{ID: "1"}}); err != nil {
		t.Fatalf("AddMany: %v", err)
	}
	if len(wal.written) != 1 {
		t.Fatalf("expected event written to WAL, got %d", len(wal.written))
	}
	if len(repo.events) != 0 {
		t.Fatalf("expected no events landed in the repo, got %d", len(repo.events))
	}
}

func TestBuffer_NonTransportErrorPropagates(t *testing.T) {
	repo := &flakyBufferRepo{failErr: errors.New("marshal failure")}
	buf := NewBuffer("S", repo, &fakeWAL{}, testLogger())

	err := buf.AddMany(context.Background(), []domain.LogEvent{{ID: "1"}})
	if err == nil {
		t.Fatal("expected a non-transport error to propagate rather than fall back to WAL")
	}
}

func TestBuffer_NoWALConfiguredSurfacesError(t *testing.T) {
	repo := &flakyBufferRepo{failErr: fakeNetError{}}
	buf := NewBuffer("S", repo, nil, testLogger())

	if err := buf.AddMany(context.Background(), []domain.LogEvent{{ID: "1"}}); err == nil {
		t.Fatal("expected error when transport fails and no WAL is configured")
	}
}

func TestBuffer_MarkAvailableReplaysAndTruncatesWAL(t *testing.T) {
	repo := &flakyBufferRepo{failErr: fakeNetError{}}
	wal := &fakeWAL{}
	buf := NewBuffer("S", repo, wal, testLogger())

	if err := buf.AddMany(context.Background(), []domain.LogEvent{{ID: "1"}}); err != nil {
		t.Fatalf("AddMany: %v", err)
	}
	if len(wal.written) != 1 {
		t.Fatalf("expected event buffered to WAL, got %d", len(wal.written))
	}

	repo.failErr = nil
	if err := buf.MarkAvailable(context.Background()); err != nil {
		t.Fatalf("MarkAvailable: %v", err)
	}
	if len(repo.events) != 1 {
		t.Fatalf("expected replayed event to land in repo, got %d", len(repo.events))
	}
	if !wal.truncated {
		t.Error("expected WAL to be truncated after successful replay")
	}

	// Buffer should be back to writing through directly.
	if err := buf.AddMany(context.Background(), []domain.LogEvent{{ID: "2"}}); err != nil {
		t.Fatalf("AddMany after recovery: %v", err)
	}
	if len(repo.events) != 2 {
		t.Fatalf("expected direct write-through after recovery, got %d events", len(repo.events))
	}
}
