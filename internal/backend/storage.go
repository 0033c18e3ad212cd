package backend

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/domain"
)

const (
	storageTypeTag      = "storage"
	storageBatchSize    = 1000
	storageRetryCount   = 3
	storageRetryBackoff = 1 * time.Second
	storagePollInterval = 500 * time.Millisecond
)

// StorageAdaptor drains a source's Memory Buffer (C3) via consumer group
// and batch-writes to the durable sink, the same read-batch -> write-with-
// retry -> acknowledge loop as the teacher's ProcessLogsUseCase, adapted
// into a per-source C4 adaptor that owns its own polling goroutine instead
// of being driven by an external cmd/consumer worker pool.
type StorageAdaptor struct {
	logger    *slog.Logger
	metrics   *metrics.Metrics
	bqInserts *atomic.Int64 // shared with the source's Cache for C9
}

// NewStorageAdaptor builds a StorageAdaptor. bqInserts is shared with the
// owning source's ingestion.Cache so C9's bq_inserts counter reflects
// actual durable writes, not just buffer admission.
func NewStorageAdaptor(logger *slog.Logger, m *metrics.Metrics, bqInserts *atomic.Int64) *StorageAdaptor {
	return &StorageAdaptor{logger: logger.With("adaptor_type", storageTypeTag), metrics: m, bqInserts: bqInserts}
}

// CastConfig has nothing to coerce: the storage adaptor takes its
// dependencies from AdaptorDeps, not from per-backend config.
func (a *StorageAdaptor) CastConfig(raw map[string]string) (map[string]string, error) {
	return raw, nil
}

// ValidateConfig never fails: there's no required field.
func (a *StorageAdaptor) ValidateConfig(cfg map[string]string) domain.ConfigErrors { return nil }

// Start launches the consumer-group drain loop for b's source and returns
// its handle. Ingest is a no-op on the returned handle: the storage
// adaptor pulls from the buffer itself rather than being pushed to by the
// dispatcher, since its job is draining the durable queue, not receiving
// the dispatcher's live fan-out.
func (a *StorageAdaptor) Start(ctx context.Context, b domain.SourceBackend, deps domain.AdaptorDeps) (domain.BackendHandle, error) {
	h := &storageHandle{
		sourceToken: deps.SourceToken,
		buffer:      deps.Buffer,
		sink:        deps.Sink,
		logger:      a.logger.With("backend_id", b.ID, "source_id", b.SourceID),
		metrics:     a.metrics,
		bqInserts:   a.bqInserts,
		group:       "storage-sinks",
		consumer:    consumerName(b),
		done:        make(chan struct{}),
	}
	if gc, ok := deps.Buffer.(interface {
		EnsureConsumerGroup(ctx context.Context, sourceToken, group string) error
	}); ok {
		if err := gc.EnsureConsumerGroup(ctx, deps.SourceToken, h.group); err != nil {
			return nil, err
		}
	}
	go h.run(ctx)
	return h, nil
}

func consumerName(b domain.SourceBackend) string {
	return "storage-" + itoa64(b.ID)
}

func itoa64(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}

// storageHandle is the running drain loop for one source's storage
// backend.
type storageHandle struct {
	sourceToken string
	buffer      domain.BufferRepository
	sink        domain.LogSinkRepository
	logger      *slog.Logger
	metrics     *metrics.Metrics
	bqInserts   *atomic.Int64
	group       string
	consumer    string
	done        chan struct{}
}

// Ingest is a no-op: the storage adaptor pulls from the buffer on its own
// schedule rather than being pushed batches by the dispatcher.
func (h *storageHandle) Ingest(events []domain.LogEvent) {}

// Stop halts the drain loop.
func (h *storageHandle) Stop() { close(h.done) }

func (h *storageHandle) run(ctx context.Context) {
	ticker := time.NewTicker(storagePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case <-ticker.C:
			if err := h.processBatch(ctx); err != nil {
				h.logger.Error("storage adaptor batch failed", "error", err)
			}
		}
	}
}

func (h *storageHandle) processBatch(ctx context.Context) error {
	events, err := h.buffer.ReadBatch(ctx, h.sourceToken, h.group, h.consumer, storageBatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	if err := h.writeWithRetry(ctx, events); err != nil {
		h.logger.Warn("moving batch to DLQ after exhausted retries", "count", len(events), "error", err)
		if dlqErr := h.buffer.MoveToDLQ(ctx, h.sourceToken, events); dlqErr != nil {
			h.logger.Error("failed to move batch to DLQ", "error", dlqErr)
		}
		if h.metrics != nil {
			h.metrics.AdaptorDeliveryTotal.WithLabelValues(storageTypeTag, "dlq").Add(float64(len(events)))
		}
		return h.acknowledge(ctx, events)
	}

	if h.bqInserts != nil {
		h.bqInserts.Add(int64(len(events)))
	}
	if h.metrics != nil {
		h.metrics.AdaptorDeliveryTotal.WithLabelValues(storageTypeTag, "ok").Add(float64(len(events)))
	}
	return h.acknowledge(ctx, events)
}

func (h *storageHandle) acknowledge(ctx context.Context, events []domain.LogEvent) error {
	ids := make([]string, 0, len(events))
	for _, e := range events {
		if e.StreamMessageID != "" {
			ids = append(ids, e.StreamMessageID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return h.buffer.Acknowledge(ctx, h.sourceToken, h.group, ids...)
}

func (h *storageHandle) writeWithRetry(ctx context.Context, events []domain.LogEvent) error {
	var lastErr error
	for i := 0; i < storageRetryCount; i++ {
		err := h.sink.WriteBatch(ctx, h.sourceToken, events)
		if err == nil {
			return nil
		}
		lastErr = err
		h.logger.Warn("failed to write batch to sink, retrying", "attempt", i+1, "error", err)
		select {
		case <-time.After(storageRetryBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
