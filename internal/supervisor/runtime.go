// Package supervisor implements the Source Supervisor (C7): one-for-one
// per-source lifecycle management (start/stop/restart, idempotent in all
// three), wiring a concrete ingestion.SourceRuntime from the registry,
// rules, buffer, cache, and dispatcher packages.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/backend"
	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/ingestion"
	"github.com/draw-your-dream/logflare/internal/registry"
	"github.com/draw-your-dream/logflare/internal/rules"
)

// runtime is the concrete ingestion.SourceRuntime for one running source:
// its own clock, compiled matchers, buffer, cache, and dispatcher.
type runtime struct {
	id       int64
	token    string
	clock    *ingestion.MonotonicClock
	drop     rules.Matcher
	rls      []rules.CompiledRule
	buf      *ingestion.Buffer
	cache    *ingestion.Cache
	disp     *ingestion.Dispatcher
	backends []runningBackend
	cancel   context.CancelFunc
}

// runningBackend pairs a started backend handle with the process
// registry key it was registered under, so Stop can unregister it.
type runningBackend struct {
	key    domain.ProcessKey
	handle domain.BackendHandle
}

func (r *runtime) SourceID() int64                   { return r.id }
func (r *runtime) SourceToken() string                { return r.token }
func (r *runtime) Clock() *ingestion.MonotonicClock    { return r.clock }
func (r *runtime) CompiledDrop() rules.Matcher         { return r.drop }
func (r *runtime) CompiledRules() []rules.CompiledRule { return r.rls }
func (r *runtime) Buffer() *ingestion.Buffer           { return r.buf }
func (r *runtime) Cache() *ingestion.Cache             { return r.cache }
func (r *runtime) Dispatcher() *ingestion.Dispatcher   { return r.disp }

// Deps carries the shared infrastructure every source's runtime is built
// from — one Supervisor instance per node, shared across every source it
// starts.
type Deps struct {
	Registry    *registry.Registry
	BufferRepo  domain.BufferRepository
	WAL         domain.WALRepository
	Publisher   domain.Publisher
	Subscriber  ingestion.Subscriber
	SourceStore domain.SourceStore
	Sink        domain.LogSinkRepository
	Backends    *backend.Table
	Lock        domain.DistributedLock
	BQInserts   *atomic.Int64
	NodeID      string
	PoolSize    int
	Logger      *slog.Logger
	Metrics     *metrics.Metrics
}

// Supervisor is the Source Supervisor (C7): start/stop/restart one source
// at a time, one-for-one (each operation touches only that source's
// workers). It does not restart crashed workers by itself; a worker that
// exits stays down until Stop/Start or Restart is called for its source.
type Supervisor struct {
	deps Deps

	mu       sync.Mutex
	runtimes map[int64]*runtime
}

// New creates a Supervisor sharing deps across every source it manages.
func New(deps Deps) *Supervisor {
	return &Supervisor{deps: deps, runtimes: make(map[int64]*runtime)}
}

// Start boots the workers for src, registering its dispatcher key on the
// process registry. Returns domain.ErrAlreadyStarted if src is already
// running — start is idempotent by way of that error, not a silent no-op,
// matching spec.md §4.7.
func (s *Supervisor) Start(ctx context.Context, src domain.Source) (ingestion.SourceRuntime, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runtimes[src.ID]; ok {
		return nil, fmt.Errorf("start source %d: %w", src.ID, domain.ErrAlreadyStarted)
	}

	drop, compiledRules, err := rules.CompileSource(src)
	if err != nil {
		return nil, fmt.Errorf("start source %d: compile rules: %w", src.ID, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	logger := s.deps.Logger.With("source_id", src.ID, "source_token", src.Token)

	buf := ingestion.NewBuffer(src.Token, s.deps.BufferRepo, s.deps.WAL, logger)
	cache := ingestion.NewCache(src.ID, src.Token, s.deps.NodeID, s.deps.PoolSize,
		s.deps.Publisher, s.deps.Subscriber, s.deps.SourceStore, s.deps.BQInserts, logger, s.deps.Metrics)
	disp := ingestion.NewDispatcher(s.deps.Registry, logger, s.deps.Metrics)

	rt := &runtime{
		id:     src.ID,
		token:  src.Token,
		clock:  &ingestion.MonotonicClock{},
		drop:   drop,
		rls:    compiledRules,
		buf:    buf,
		cache:  cache,
		disp:   disp,
		cancel: cancel,
	}

	if s.deps.Backends != nil && s.deps.SourceStore != nil {
		rt.backends = s.startBackends(runCtx, src, logger)
	}

	cache.Run(runCtx)
	s.runtimes[src.ID] = rt
	logger.Info("source started")
	return rt, nil
}

// startBackends boots a handle for every SourceBackend row configured for
// src, skipping (and logging) any that fail to start rather than aborting
// the whole source — one backend's bad config must not block ingestion
// into every other configured sink.
func (s *Supervisor) startBackends(ctx context.Context, src domain.Source, logger *slog.Logger) []runningBackend {
	rows, err := s.deps.SourceStore.ListBackends(ctx, src.ID)
	if err != nil {
		logger.Error("failed to list source backends", "error", err)
		return nil
	}

	handles := make([]runningBackend, 0, len(rows))
	for _, row := range rows {
		handle, err := s.deps.Backends.Start(ctx, row, domain.AdaptorDeps{
			Registry:    s.deps.Registry,
			Buffer:      s.deps.BufferRepo,
			Sink:        s.deps.Sink,
			SourceStore: s.deps.SourceStore,
			SourceToken: src.Token,
		})
		if err != nil {
			logger.Error("failed to start backend", "backend_id", row.ID, "backend_type", row.Type, "error", err)
			continue
		}
		key := domain.ProcessKey{SourceID: row.SourceID, Role: "dispatcher", BackendKind: "backend", BackendID: row.ID}
		handles = append(handles, runningBackend{key: key, handle: handle})
	}
	return handles
}

// Stop halts src's workers, stopping and unregistering every backend
// adaptor started for it. Idempotent: stopping an already-stopped source
// returns domain.ErrNotStarted rather than panicking.
func (s *Supervisor) Stop(sourceID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt, ok := s.runtimes[sourceID]
	if !ok {
		return fmt.Errorf("stop source %d: %w", sourceID, domain.ErrNotStarted)
	}
	for _, rb := range rt.backends {
		rb.handle.Stop()
		s.deps.Registry.Unregister(rb.key)
	}
	rt.cancel()
	rt.cache.Stop()
	delete(s.runtimes, sourceID)
	return nil
}

// Restart stops src, then starts it fresh — the one-for-one strategy
// applied to a single source without disturbing any other source's
// workers. Returns domain.ErrNotStarted if src is not running.
func (s *Supervisor) Restart(ctx context.Context, src domain.Source) (ingestion.SourceRuntime, error) {
	if err := s.Stop(src.ID); err != nil {
		return nil, err
	}
	return s.Start(ctx, src)
}

// Started reports whether sourceID currently has running workers.
func (s *Supervisor) Started(sourceID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.runtimes[sourceID]
	return ok
}

// Lookup returns the running SourceRuntime for sourceID, if any.
func (s *Supervisor) Lookup(sourceID int64) (ingestion.SourceRuntime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.runtimes[sourceID]
	return rt, ok
}

// LookupByToken returns the running SourceRuntime for sourceToken, if
// any, without starting it — used by the cluster transport's server side,
// which must answer peer queries for whatever happens to be running
// locally rather than lazily booting sources on a peer's behalf.
func (s *Supervisor) LookupByToken(sourceToken string) (ingestion.SourceRuntime, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rt := range s.runtimes {
		if rt.token == sourceToken {
			return rt, true
		}
	}
	return nil, false
}

// List implements cluster.LocalLister: the local Recent-Logs Cache
// contents for sourceToken, or nil if the source isn't running locally.
func (s *Supervisor) List(sourceToken string) []domain.LogEvent {
	rt, ok := s.LookupByToken(sourceToken)
	if !ok {
		return nil
	}
	return rt.Cache().List()
}
