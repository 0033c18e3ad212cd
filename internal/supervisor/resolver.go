package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/ingestion"
)

// recentLogsLockTTL bounds how long a node may hold the cluster-wide lazy-
// start lock before it's assumed dead and the key expires on its own — a
// safety net against a crash between TryAcquire and Release.
const recentLogsLockTTL = 10 * time.Second

// recentLogsLockRetryDelay paces the poll loop while another node holds
// the lazy-start lock for this source.
const recentLogsLockRetryDelay = 50 * time.Millisecond

// Resolve implements ingestion.RuntimeResolver: it returns the sink's
// running SourceRuntime, starting it lazily on first use if it isn't
// already running (spec.md §3: a source's workers exist only once
// something has referenced it).
func (s *Supervisor) Resolve(ctx context.Context, sourceToken string) (ingestion.SourceRuntime, error) {
	s.mu.Lock()
	for _, rt := range s.runtimes {
		if rt.token == sourceToken {
			s.mu.Unlock()
			return rt, nil
		}
	}
	s.mu.Unlock()

	if s.deps.SourceStore == nil {
		return nil, fmt.Errorf("resolve %s: %w", sourceToken, domain.ErrSourceNotFound)
	}
	src, err := s.deps.SourceStore.GetSourceByToken(ctx, sourceToken)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", sourceToken, err)
	}

	rt, err := s.startUnderLock(ctx, *src)
	if err != nil {
		// Another goroutine raced us and started it first: look it up
		// instead of treating the race as a failure.
		if existing, ok := s.Lookup(src.ID); ok {
			return existing, nil
		}
		return nil, err
	}
	return rt, nil
}

// startUnderLock serializes the lazy child-start of src's Recent-Logs
// cache across the whole cluster, not just this process, with a
// distributed advisory lock keyed (RecentLogs, source_id) — spec.md §5/§9:
// "acquires a cluster-wide advisory lock ... the lock is released
// immediately after the child-start call returns, regardless of outcome
// (already_started is treated as success)". Without a Lock configured
// (single-node deployments, tests) this falls back to a plain local
// Start: there is no cluster to serialize against.
func (s *Supervisor) startUnderLock(ctx context.Context, src domain.Source) (ingestion.SourceRuntime, error) {
	if s.deps.Lock == nil {
		return s.Start(ctx, src)
	}

	key := fmt.Sprintf("recentlogs:%d", src.ID)
	for {
		acquired, err := s.deps.Lock.TryAcquire(ctx, key, recentLogsLockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire recentlogs lock for source %d: %w", src.ID, err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(recentLogsLockRetryDelay):
		}
	}

	rt, startErr := s.Start(ctx, src)

	releaseCtx, cancel := context.WithTimeout(context.Background(), recentLogsLockTTL)
	if releaseErr := s.deps.Lock.Release(releaseCtx, key); releaseErr != nil {
		s.deps.Logger.Warn("failed to release recentlogs lock", "source_id", src.ID, "error", releaseErr)
	}
	cancel()

	return rt, startErr
}
