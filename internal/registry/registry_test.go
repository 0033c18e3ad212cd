package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/draw-your-dream/logflare/internal/domain"
)

func TestRegistry_RegisterUniqueness(t *testing.T) {
	r := New()
	key := domain.ProcessKey{SourceID: 1, Role: "buffer"}

	if err := r.Register(key, "handle-a"); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := r.Register(key, "handle-b")
	if !errors.Is(err, domain.ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	got, ok := r.Lookup(key)
	if !ok || got != "handle-a" {
		t.Fatalf("lookup returned %v, %v; want handle-a, true", got, ok)
	}
}

func TestRegistry_ConcurrentRegisterOneWinner(t *testing.T) {
	r := New()
	key := domain.ProcessKey{SourceID: 2, Role: "supervisor"}

	const n = 50
	var wg sync.WaitGroup
	successes := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			successes[i] = r.Register(key, i) == nil
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, ok := range successes {
		if ok {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestRegistry_UnregisterIdempotent(t *testing.T) {
	r := New()
	key := domain.ProcessKey{SourceID: 3, Role: "cache"}
	r.Unregister(key) // no-op, must not panic

	if err := r.Register(key, "h"); err != nil {
		t.Fatalf("register: %v", err)
	}
	r.Unregister(key)
	r.Unregister(key) // idempotent

	if _, ok := r.Lookup(key); ok {
		t.Fatal("expected key to be gone after unregister")
	}
}

func TestRegistry_DispatchSnapshotExcludesLateAndRemoved(t *testing.T) {
	r := New()
	sourceID := int64(4)
	role := "dispatcher"

	k1 := domain.ProcessKey{SourceID: sourceID, Role: role, BackendID: 1}
	k2 := domain.ProcessKey{SourceID: sourceID, Role: role, BackendID: 2}
	k3 := domain.ProcessKey{SourceID: sourceID, Role: role, BackendID: 3}

	mustRegister(t, r, k1, "h1")
	mustRegister(t, r, k2, "h2")

	r.Unregister(k1) // removed before dispatch: must not be visited

	var visited []any
	var mu sync.Mutex
	r.Dispatch(sourceID, role, func(handle, payload any) {
		mu.Lock()
		defer mu.Unlock()
		visited = append(visited, handle)
		// Registered during dispatch: must not be visited (snapshot semantics).
		_ = r.Register(k3, "h3")
	})

	if len(visited) != 1 || visited[0] != "h2" {
		t.Fatalf("expected only h2 visited, got %v", visited)
	}
}

func mustRegister(t *testing.T, r *Registry, key domain.ProcessKey, handle any) {
	t.Helper()
	if err := r.Register(key, handle); err != nil {
		t.Fatalf("register %+v: %v", key, err)
	}
}
