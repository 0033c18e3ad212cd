// Package ingestion implements the per-source hot path: the Memory
// Buffer (C3), Recent-Logs Cache (C2, with the C9 rate broadcaster
// folded in), the Source Dispatcher (C5), and the Ingestion Pipeline
// (C6) that ties them together.
package ingestion

import (
	"log/slog"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/domain"
)

// Dispatcher is the Source Dispatcher (C5): it looks up every backend
// handle registered under a source's dispatcher key and hands the batch
// to each. Ordering between distinct adaptors is unspecified; ordering of
// events within one adaptor call equals the caller's order (spec.md §4.5).
type Dispatcher struct {
	registry DispatchRegistry
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// DispatchRegistry is the subset of registry.Registry the dispatcher
// needs.
type DispatchRegistry interface {
	Dispatch(sourceID int64, role string, visit func(handle, payload any))
}

const dispatcherRole = "dispatcher"

// NewDispatcher builds a Dispatcher over reg.
func NewDispatcher(reg DispatchRegistry, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return &Dispatcher{registry: reg, logger: logger, metrics: m}
}

// AdaptorPayload is what each dispatcher-key entry carries: the adaptor's
// type tag, for metrics labeling.
type AdaptorPayload struct {
	AdaptorType string
}

// Dispatch fans events out to every backend registered for sourceID.
// Adaptor failures (panics) must not poison other adaptors in the same
// dispatch — each Ingest call is isolated with its own recover.
func (d *Dispatcher) Dispatch(sourceID int64, events []domain.LogEvent) {
	if len(events) == 0 {
		return
	}
	d.registry.Dispatch(sourceID, dispatcherRole, func(handle, payload any) {
		bh, ok := handle.(domain.BackendHandle)
		if !ok {
			d.logger.Warn("dispatch: registered handle is not a BackendHandle", "source_id", sourceID)
			return
		}
		adaptorType := "unknown"
		if p, ok := payload.(AdaptorPayload); ok {
			adaptorType = p.AdaptorType
		}
		defer func() {
			if r := recover(); r != nil {
				d.logger.Error("dispatch: adaptor ingest panicked, isolated from siblings",
					"source_id", sourceID, "adaptor_type", adaptorType, "panic", r)
				if d.metrics != nil {
					d.metrics.DispatchTotal.WithLabelValues(adaptorType).Inc()
					d.metrics.AdaptorDeliveryTotal.WithLabelValues(adaptorType, "panic").Inc()
				}
			}
		}()
		bh.Ingest(events)
		if d.metrics != nil {
			d.metrics.DispatchTotal.WithLabelValues(adaptorType).Inc()
		}
	})
}
