// Package api wires the HTTP surface: a public router (ingest + live-tail
// reads) and an internal router (cluster peer RPC, admin introspection,
// metrics), split across two listen addresses the way the teacher splits
// its ingest and consumer processes into separate binaries.
package api

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/draw-your-dream/logflare/internal/adapter/api/handler"
	"github.com/draw-your-dream/logflare/internal/adapter/api/middleware"
	"github.com/draw-your-dream/logflare/internal/cluster"
	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/ingestion"
	"github.com/draw-your-dream/logflare/internal/pkg/config"
)

// NewRouter builds the public-facing router: ingest and live-tail reads,
// both scoped by source token.
func NewRouter(
	cfg *config.Config,
	logger *slog.Logger,
	store domain.SourceStore,
	pipeline *ingestion.Pipeline,
	resolver ingestion.RuntimeResolver,
	local handler.LocalLister,
	agg *cluster.Aggregator,
	counts handler.LogCountSubscriber,
) http.Handler {
	mux := http.NewServeMux()

	ingestHandler := handler.NewIngestHandler(pipeline, resolver, logger, cfg.MaxEventSize)
	tailHandler := handler.NewTailHandler(local, agg, counts, logger)

	auth := middleware.SourceToken(store, logger)

	mux.Handle("POST /sources/{token}/ingest", auth(ingestHandler))
	mux.Handle("GET /sources/{token}/logs", auth(http.HandlerFunc(tailHandler.List)))
	mux.Handle("GET /sources/{token}/logs/latest", auth(http.HandlerFunc(tailHandler.Latest)))
	mux.Handle("GET /sources/{token}/tail", auth(http.HandlerFunc(tailHandler.Tail)))

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	return middleware.Logging(logger)(mux)
}

// NewClusterRouter builds the internal router: peer RPC for
// list_for_cluster, admin introspection, and the Prometheus scrape
// endpoint — never exposed to external callers.
func NewClusterRouter(
	logger *slog.Logger,
	local cluster.LocalLister,
	adminRepo domain.StreamAdminRepository,
) http.Handler {
	mux := http.NewServeMux()
	adminHandler := handler.NewAdminHandler(adminRepo, logger)

	mux.HandleFunc("GET /internal/cluster/logs", cluster.ServerHandler(local))

	mux.HandleFunc("GET /health", adminHandler.HealthCheck)
	mux.HandleFunc("GET /admin/sources/{token}/groups", adminHandler.GetGroupInfo)
	mux.HandleFunc("GET /admin/sources/{token}/groups/{group}/consumers", adminHandler.GetConsumerInfo)
	mux.HandleFunc("GET /admin/sources/{token}/groups/{group}/pending", adminHandler.GetPendingSummary)
	mux.HandleFunc("GET /admin/sources/{token}/dlq", adminHandler.GetDLQDepth)

	mux.Handle("GET /metrics", promhttp.Handler())

	return middleware.Logging(logger)(mux)
}
