// Package backend implements Backend Adaptors (C4): concrete Ingest
// sinks a source dispatches into, registered against a type tag in
// Table. Grounded on the teacher's notifier.Notifier pattern (one
// interface, swappable implementations) and its load-tester's
// golang.org/x/time/rate usage for outbound pacing.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/domain"
)

const webhookTypeTag = "webhook"

// WebhookAdaptor posts batches of events as a JSON array to a configured
// URL, rate-limited so a single noisy sink can't starve the process of
// outbound sockets.
type WebhookAdaptor struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	client  *http.Client
}

// NewWebhookAdaptor builds a WebhookAdaptor.
func NewWebhookAdaptor(logger *slog.Logger, m *metrics.Metrics) *WebhookAdaptor {
	return &WebhookAdaptor{
		logger:  logger.With("adaptor_type", webhookTypeTag),
		metrics: m,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// CastConfig coerces the raw string config: url (required), rps
// (optional, default 10).
func (a *WebhookAdaptor) CastConfig(raw map[string]string) (map[string]string, error) {
	cfg := make(map[string]string, len(raw))
	for k, v := range raw {
		cfg[k] = v
	}
	if _, ok := cfg["rps"]; !ok {
		cfg["rps"] = "10"
	}
	if _, err := strconv.Atoi(cfg["rps"]); err != nil {
		return nil, fmt.Errorf("cast config.rps: %w", err)
	}
	return cfg, nil
}

// ValidateConfig requires a non-empty, http(s) url.
func (a *WebhookAdaptor) ValidateConfig(cfg map[string]string) domain.ConfigErrors {
	var errs domain.ConfigErrors
	url, ok := cfg["url"]
	if !ok || url == "" {
		errs = append(errs, domain.FieldError{Field: "url", Message: "is required"})
	} else if len(url) < 8 || (url[:7] != "http://" && url[:8] != "https://") {
		errs = append(errs, domain.FieldError{Field: "url", Message: "must be an http(s) URL"})
	}
	return errs
}

// Start launches the webhook worker goroutine and returns its handle.
func (a *WebhookAdaptor) Start(ctx context.Context, b domain.SourceBackend, deps domain.AdaptorDeps) (domain.BackendHandle, error) {
	rps, _ := strconv.Atoi(b.Config["rps"])
	if rps <= 0 {
		rps = 10
	}

	h := &webhookHandle{
		url:     b.Config["url"],
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		client:  a.client,
		logger:  a.logger.With("backend_id", b.ID, "source_id", b.SourceID),
		metrics: a.metrics,
		queue:   make(chan []domain.LogEvent, 256),
		done:    make(chan struct{}),
	}
	go h.run(ctx)
	return h, nil
}

// webhookHandle is the running worker for one webhook SourceBackend.
type webhookHandle struct {
	url     string
	limiter *rate.Limiter
	client  *http.Client
	logger  *slog.Logger
	metrics *metrics.Metrics

	queue chan []domain.LogEvent
	done  chan struct{}
}

// Ingest enqueues a batch for delivery without blocking the dispatcher;
// a full queue drops the batch rather than applying backpressure to the
// ingestion hot path (§4.4: adaptor delivery failures never affect
// ingestion).
func (h *webhookHandle) Ingest(events []domain.LogEvent) {
	select {
	case h.queue <- events:
	default:
		h.logger.Warn("webhook queue full, dropping batch", "size", len(events))
		if h.metrics != nil {
			h.metrics.AdaptorDeliveryTotal.WithLabelValues(webhookTypeTag, "queue_full").Inc()
		}
	}
}

// Stop halts the worker goroutine.
func (h *webhookHandle) Stop() { close(h.done) }

func (h *webhookHandle) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case events := <-h.queue:
			h.deliver(ctx, events)
		}
	}
}

func (h *webhookHandle) deliver(ctx context.Context, events []domain.LogEvent) {
	if err := h.limiter.Wait(ctx); err != nil {
		return
	}

	bodies := make([]map[string]any, 0, len(events))
	for _, e := range events {
		bodies = append(bodies, e.Body)
	}
	payload, err := json.Marshal(bodies)
	if err != nil {
		h.logger.Error("failed to marshal webhook payload", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(payload))
	if err != nil {
		h.logger.Error("failed to build webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		h.logger.Warn("webhook delivery failed", "error", err)
	} else {
		resp.Body.Close()
		if resp.StatusCode >= 400 {
			outcome = "error"
			h.logger.Warn("webhook delivery rejected", "status", resp.StatusCode)
		}
	}
	if h.metrics != nil {
		h.metrics.AdaptorDeliveryTotal.WithLabelValues(webhookTypeTag, outcome).Inc()
	}
}
