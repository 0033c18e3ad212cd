package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/registry"
)

// fakeLock is an in-process stand-in for domain.DistributedLock: a map of
// held keys guarded by a mutex, enough to verify acquire/release pairing
// without a real Redis instance.
type fakeLock struct {
	mu           sync.Mutex
	held         map[string]bool
	acquireCalls int
	releaseCalls int
}

func newFakeLock() *fakeLock {
	return &fakeLock{held: make(map[string]bool)}
}

func (l *fakeLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.acquireCalls++
	if l.held[key] {
		return false, nil
	}
	l.held[key] = true
	return true, nil
}

func (l *fakeLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseCalls++
	delete(l.held, key)
	return nil
}

// failingLock always errors on TryAcquire, to verify Resolve surfaces lock
// errors instead of silently starting unlocked.
type failingLock struct{}

func (failingLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return false, errors.New("lock backend unavailable")
}
func (failingLock) Release(ctx context.Context, key string) error { return nil }

func newTestSupervisorWithLock(store domain.SourceStore, lock domain.DistributedLock) *Supervisor {
	return New(Deps{
		Registry:    registry.New(),
		BufferRepo:  &fakeBufferRepo{},
		SourceStore: store,
		Lock:        lock,
		NodeID:      "node-test",
		PoolSize:    8,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestResolve_AcquiresAndReleasesLockAroundStart(t *testing.T) {
	store := newFakeSourceStore()
	store.sources["S"] = domain.Source{ID: 1, Token: "S"}
	lock := newFakeLock()
	s := newTestSupervisorWithLock(store, lock)

	rt, err := s.Resolve(context.Background(), "S")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rt.SourceToken() != "S" {
		t.Fatalf("expected resolved runtime for S, got %s", rt.SourceToken())
	}
	if lock.acquireCalls != 1 || lock.releaseCalls != 1 {
		t.Fatalf("expected exactly one acquire and one release, got acquire=%d release=%d", lock.acquireCalls, lock.releaseCalls)
	}
	if lock.held["recentlogs:1"] {
		t.Error("expected lock to be released after Start returns")
	}
}

func TestResolve_AlreadyRunningLocallySkipsLock(t *testing.T) {
	store := newFakeSourceStore()
	store.sources["S"] = domain.Source{ID: 1, Token: "S"}
	lock := newFakeLock()
	s := newTestSupervisorWithLock(store, lock)

	if _, err := s.Resolve(context.Background(), "S"); err != nil {
		t.Fatalf("first resolve: %v", err)
	}

	// Second resolve finds the already-running local runtime and never
	// touches the lock at all.
	acquireCallsBefore := lock.acquireCalls
	rt, err := s.Resolve(context.Background(), "S")
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if rt.SourceToken() != "S" {
		t.Fatalf("expected S, got %s", rt.SourceToken())
	}
	if lock.acquireCalls != acquireCallsBefore {
		t.Errorf("expected no new lock acquisitions for an already-running source, got %d new", lock.acquireCalls-acquireCallsBefore)
	}
}

func TestResolve_NilLockFallsBackToUnlockedStart(t *testing.T) {
	store := newFakeSourceStore()
	store.sources["S"] = domain.Source{ID: 1, Token: "S"}
	s := newTestSupervisorWithLock(store, nil)

	rt, err := s.Resolve(context.Background(), "S")
	if err != nil {
		t.Fatalf("resolve with no lock configured: %v", err)
	}
	if rt.SourceToken() != "S" {
		t.Fatalf("expected S, got %s", rt.SourceToken())
	}
}

func TestResolve_LockErrorPropagates(t *testing.T) {
	store := newFakeSourceStore()
	store.sources["S"] = domain.Source{ID: 1, Token: "S"}
	s := newTestSupervisorWithLock(store, failingLock{})

	_, err := s.Resolve(context.Background(), "S")
	if err == nil {
		t.Fatal("expected error when the lock backend is unavailable")
	}
	if s.Started(1) {
		t.Error("expected source not to be started when the lock could not be acquired")
	}
}
