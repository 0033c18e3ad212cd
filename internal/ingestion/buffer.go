package ingestion

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync/atomic"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// DefaultConsumerGroup is the group name Storage backend adaptors
// subscribe under to drain a source's Memory Buffer.
const DefaultConsumerGroup = "storage-sinks"

// Buffer is the Memory Buffer (C3): a per-source bounded queue feeding the
// pipeline, backed by a Redis Stream with WAL failover. add_many is
// non-blocking from the caller's perspective: a buffer write that fails
// against Redis falls back to the local WAL rather than blocking or
// rejecting the ingest call (this is the Open Question on overflow policy
// resolved for the "backend unreachable" case — see DESIGN.md for the
// chosen in-memory overflow policy).
type Buffer struct {
	sourceToken string
	repo        domain.BufferRepository
	wal         domain.WALRepository
	logger      *slog.Logger
	available   atomic.Bool
}

// NewBuffer creates a Buffer for one source. wal may be nil, in which case
// Redis unavailability surfaces as an error rather than a silent fallback.
func NewBuffer(sourceToken string, repo domain.BufferRepository, wal domain.WALRepository, logger *slog.Logger) *Buffer {
	b := &Buffer{sourceToken: sourceToken, repo: repo, wal: wal, logger: logger.With("component", "buffer", "source_token", sourceToken)}
	b.available.Store(true)
	return b
}

// AddMany appends events in order and stops at the first error. A
// transport failure of the stream write falls back to the WAL; an error
// is returned when the stream write fails with a non-transport error, or
// when the WAL write fails or no WAL is configured.
func (b *Buffer) AddMany(ctx context.Context, events []domain.LogEvent) error {
	for _, e := range events {
		if err := b.addOne(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (b *Buffer) addOne(ctx context.Context, event domain.LogEvent) error {
	if !b.available.Load() {
		return b.writeWAL(ctx, event)
	}

	err := b.repo.BufferLog(ctx, b.sourceToken, event)
	if err == nil {
		return nil
	}
	if isTransportError(err) {
		if b.available.CompareAndSwap(true, false) {
			b.logger.Error("buffer backend unreachable, falling back to WAL", "error", err)
		}
		return b.writeWAL(ctx, event)
	}
	return err
}

func (b *Buffer) writeWAL(ctx context.Context, event domain.LogEvent) error {
	if b.wal == nil {
		return errors.New("buffer backend unavailable and no WAL configured")
	}
	return b.wal.Write(ctx, event)
}

// MarkAvailable flips the buffer back to using the Redis-backed stream and
// replays any WAL-buffered events, mirroring the teacher's
// StartHealthCheck/ReplayWAL recovery sequence.
func (b *Buffer) MarkAvailable(ctx context.Context) error {
	if !b.available.CompareAndSwap(false, true) {
		return nil
	}
	if b.wal == nil {
		return nil
	}
	err := b.wal.Replay(ctx, func(event domain.LogEvent) error {
		return b.repo.BufferLog(ctx, b.sourceToken, event)
	})
	if err != nil {
		b.available.Store(false)
		return err
	}
	return b.wal.Truncate(ctx)
}

// MarkUnavailable flips the buffer to WAL-only mode.
func (b *Buffer) MarkUnavailable() { b.available.Store(false) }

func isTransportError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
