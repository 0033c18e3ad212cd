package ingestion

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/rules"
)

// SourceRuntime is everything the Ingestion Pipeline (C6) needs for one
// active source: its buffer/cache/dispatcher workers, its memoized
// matchers, and a clock issuing its monotonic ingested_at values.
type SourceRuntime interface {
	SourceID() int64
	SourceToken() string
	Clock() *MonotonicClock
	CompiledDrop() rules.Matcher
	CompiledRules() []rules.CompiledRule
	Buffer() *Buffer
	Cache() *Cache
	Dispatcher() *Dispatcher
}

// RuntimeResolver resolves a sink token to its running SourceRuntime,
// starting it lazily if needed (spec.md §3: "a source's workers are
// created on the first ingest after the source becomes active").
type RuntimeResolver interface {
	Resolve(ctx context.Context, sourceToken string) (SourceRuntime, error)
}

// Pipeline is the Ingestion Pipeline (C6): normalizes raw log parameters
// into events, applies the drop/route rules, and pushes to the buffer,
// cache, and dispatcher.
type Pipeline struct {
	resolver RuntimeResolver
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewPipeline builds a Pipeline. resolver is used only for rule routing;
// it may be nil for sources that are guaranteed to have no rules.
func NewPipeline(resolver RuntimeResolver, logger *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{resolver: resolver, logger: logger, metrics: m}
}

// Ingest normalizes raw mappings into events, applies the drop filter,
// routes matching events into sink sources one hop deep, and broadcasts
// surviving events into the buffer, cache, and dispatcher. Always returns
// nil: the pipeline never raises on malformed input (spec.md §7) and an
// empty batch is a no-op with no broadcast (scenario S1).
func (p *Pipeline) Ingest(ctx context.Context, raw []map[string]any, runtime SourceRuntime) error {
	if len(raw) == 0 {
		return nil
	}
	events := make([]domain.LogEvent, 0, len(raw))
	for _, r := range raw {
		events = append(events, p.normalize(r, runtime))
	}
	p.ingestNormalized(ctx, events, runtime, true)
	return nil
}

// normalize renames a legacy "message" key to event_message (only when
// event_message is absent), leaves non-map metadata untouched, and
// attaches id/ingested_at/source_token (scenario S2, S3, S6 of spec.md §8).
func (p *Pipeline) normalize(raw map[string]any, runtime SourceRuntime) domain.LogEvent {
	body := make(map[string]any, len(raw)+2)
	for k, v := range raw {
		body[k] = v
	}
	if _, hasEventMessage := body[domain.EventMessageKey]; !hasEventMessage {
		if msg, hasLegacy := body[domain.LegacyMessageKey]; hasLegacy {
			body[domain.EventMessageKey] = msg
			delete(body, domain.LegacyMessageKey)
		}
	}

	params := make(map[string]any, len(raw))
	for k, v := range raw {
		params[k] = v
	}

	id := uuid.NewString()
	ts := runtime.Clock().Next()
	body["id"] = id
	body["timestamp"] = ts

	return domain.LogEvent{
		ID:          id,
		SourceToken: runtime.SourceToken(),
		IngestedAt:  ts,
		Body:        body,
		Params:      params,
	}
}

// ingestNormalized applies drop, optional routing, and broadcast to
// already-normalized events belonging to runtime.
func (p *Pipeline) ingestNormalized(ctx context.Context, events []domain.LogEvent, runtime SourceRuntime, rulesEnabled bool) {
	if len(events) == 0 {
		return
	}

	drop := runtime.CompiledDrop()
	kept := events[:0:0]
	for _, e := range events {
		if drop != nil && drop.Match(e) {
			p.countOutcome("dropped", 1)
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		return
	}

	if rulesEnabled {
		p.route(ctx, kept, runtime)
	}

	if err := runtime.Buffer().AddMany(ctx, kept); err != nil {
		p.logger.Error("failed to buffer events", "source_token", runtime.SourceToken(), "error", err)
	}
	runtime.Cache().Push(kept)
	runtime.Dispatcher().Dispatch(runtime.SourceID(), kept)
	p.countOutcome("accepted", len(kept))
}

// route evaluates every compiled rule, in the source's declared order,
// against each surviving event and re-ingests matches into the rule's
// sink with rules disabled — the depth <= 1 invariant (spec.md §3, §4.6,
// scenario S6).
func (p *Pipeline) route(ctx context.Context, events []domain.LogEvent, runtime SourceRuntime) {
	compiledRules := runtime.CompiledRules()
	if len(compiledRules) == 0 || p.resolver == nil {
		return
	}
	for _, cr := range compiledRules {
		for _, e := range events {
			if !cr.Matcher.Match(e) {
				continue
			}
			sink, err := p.resolver.Resolve(ctx, cr.Rule.SinkToken)
			if err != nil {
				p.logger.Warn("failed to resolve rule sink, skipping route",
					"sink_token", cr.Rule.SinkToken, "error", err)
				continue
			}
			routed := p.rewriteForSink(e, sink)
			p.ingestNormalized(ctx, []domain.LogEvent{routed}, sink, false)
		}
	}
}

// rewriteForSink clones an event for delivery into a different source:
// fresh id and ingested_at (from the sink's own monotonic clock), sink's
// token, same body otherwise.
func (p *Pipeline) rewriteForSink(e domain.LogEvent, sink SourceRuntime) domain.LogEvent {
	id := uuid.NewString()
	ts := sink.Clock().Next()

	body := make(map[string]any, len(e.Body))
	for k, v := range e.Body {
		body[k] = v
	}
	body["id"] = id
	body["timestamp"] = ts

	return domain.LogEvent{
		ID:          id,
		SourceToken: sink.SourceToken(),
		IngestedAt:  ts,
		Body:        body,
		Params:      e.Params,
	}
}

func (p *Pipeline) countOutcome(status string, n int) {
	if p.metrics == nil || n == 0 {
		return
	}
	p.metrics.EventsIngestedTotal.WithLabelValues(status).Add(float64(n))
}
