// Package registry implements the Process Registry (C1): a concurrent
// map from structured names to worker handles, plus a dispatch operator
// that fans a visitor out over every handle registered under a key.
//
// This replaces a language-runtime process-name registry with a
// concurrent map keyed by the tuple, with
// values carrying a user payload; dispatch iterates a consistent
// snapshot taken at call time.
package registry

import (
	"fmt"
	"sync"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// entry pairs a registered handle with the payload a visitor receives
// during Dispatch (e.g. an ingestion.AdaptorPayload with the adaptor's
// type tag).
type entry struct {
	handle  any
	payload any
}

// Registry is the concurrent, process-wide C1 implementation. Names are
// unique: Register on a name already present fails with
// domain.ErrAlreadyStarted.
type Registry struct {
	mu      sync.RWMutex
	byName  map[domain.ProcessKey]entry
	byGroup map[groupKey][]domain.ProcessKey // dispatcher-key -> member keys, insertion order
}

// groupKey is the subset of a ProcessKey that identifies a dispatch group
// (every (source_id, role) shares one set of dispatch members keyed by
// their full ProcessKey).
type groupKey struct {
	SourceID int64
	Role     string
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		byName:  make(map[domain.ProcessKey]entry),
		byGroup: make(map[groupKey][]domain.ProcessKey),
	}
}

// Register inserts handle under key with a nil dispatch payload.
// Returns domain.ErrAlreadyStarted if key is already registered —
// registration is optimistic name insertion with collision reporting
// (SPEC_FULL.md §5).
func (r *Registry) Register(key domain.ProcessKey, handle any) error {
	return r.RegisterWithPayload(key, handle, nil)
}

// RegisterWithPayload is Register plus a payload visible to Dispatch
// callers (C4's Table uses this to carry the adaptor's type tag next to
// its handle).
func (r *Registry) RegisterWithPayload(key domain.ProcessKey, handle, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("register %+v: %w", key, domain.ErrAlreadyStarted)
	}
	r.byName[key] = entry{handle: handle, payload: payload}

	gk := groupKey{SourceID: key.SourceID, Role: key.Role}
	r.byGroup[gk] = append(r.byGroup[gk], key)
	return nil
}

// Lookup returns the handle registered under key, or nil, false.
func (r *Registry) Lookup(key domain.ProcessKey) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[key]
	if !ok {
		return nil, false
	}
	return e.handle, true
}

// Unregister removes key. Idempotent: unregistering an absent key is a
// no-op.
func (r *Registry) Unregister(key domain.ProcessKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[key]; !ok {
		return
	}
	delete(r.byName, key)

	gk := groupKey{SourceID: key.SourceID, Role: key.Role}
	members := r.byGroup[gk]
	for i, k := range members {
		if k == key {
			r.byGroup[gk] = append(members[:i], members[i+1:]...)
			break
		}
	}
}

// Dispatch invokes visit for every handle registered under (sourceID,
// role), in registration order, against a consistent snapshot taken at
// call time — entries unregistered mid-dispatch are not visited, and
// entries registered after the snapshot is taken are not visited either.
func (r *Registry) Dispatch(sourceID int64, role string, visit func(handle, payload any)) {
	r.mu.RLock()
	gk := groupKey{SourceID: sourceID, Role: role}
	members := append([]domain.ProcessKey(nil), r.byGroup[gk]...)
	snapshot := make([]entry, 0, len(members))
	for _, k := range members {
		if e, ok := r.byName[k]; ok {
			snapshot = append(snapshot, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range snapshot {
		visit(e.handle, e.payload)
	}
}
