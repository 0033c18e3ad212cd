package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// LocalLister is the local half of list/latest — the running source's
// Recent-Logs Cache, addressed by token without starting anything.
type LocalLister interface {
	List(sourceToken string) []domain.LogEvent
}

// ClusterLister is list_for_cluster / latest_date (C8), used when the
// caller asks for the cluster-wide view.
type ClusterLister interface {
	ListForCluster(ctx context.Context, sourceToken string) []domain.LogEvent
	LatestDate(sourceToken string) time.Time
}

// LogCountSubscriber streams a source's cluster-wide log count updates,
// the live-tail rate signal the teacher's SSEBroker derives from its own
// internal event counter channel.
type LogCountSubscriber interface {
	SubscribeLogCount(ctx context.Context, sourceToken string) (<-chan int64, func(), error)
}

// TailHandler serves the live-tail read surface: list, latest, and an SSE
// rate stream, all scoped to one source token.
type TailHandler struct {
	local   LocalLister
	cluster ClusterLister
	counts  LogCountSubscriber
	logger  *slog.Logger
}

// NewTailHandler builds a TailHandler.
func NewTailHandler(local LocalLister, cluster ClusterLister, counts LogCountSubscriber, logger *slog.Logger) *TailHandler {
	return &TailHandler{local: local, cluster: cluster, counts: counts, logger: logger}
}

// List handles GET /sources/{token}/logs. With ?scope=cluster it fans out
// to peers via the Cluster Aggregator; otherwise it answers from the
// local Recent-Logs Cache only.
func (h *TailHandler) List(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		http.Error(w, "source token is required", http.StatusBadRequest)
		return
	}

	var events []domain.LogEvent
	if r.URL.Query().Get("scope") == "cluster" {
		events = h.cluster.ListForCluster(r.Context(), token)
	} else {
		events = h.local.List(token)
	}

	respondJSON(w, http.StatusOK, events)
}

// Latest handles GET /sources/{token}/logs/latest. Always local-only —
// latest_date never fans out to peers (spec.md §4.8).
func (h *TailHandler) Latest(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		http.Error(w, "source token is required", http.StatusBadRequest)
		return
	}
	respondJSON(w, http.StatusOK, map[string]time.Time{"latest_date": h.cluster.LatestDate(token)})
}

// Tail handles GET /sources/{token}/tail, an SSE stream of cluster-wide
// log-count updates for the source — the live-tail rate signal, in the
// same event-stream shape as the teacher's SSEBroker.
func (h *TailHandler) Tail(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if token == "" {
		http.Error(w, "source token is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	counts, cancel, err := h.counts.SubscribeLogCount(ctx, token)
	if err != nil {
		h.logger.Error("failed to subscribe to log count", "source_token", token, "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	for {
		select {
		case <-ctx.Done():
			return
		case count, ok := <-counts:
			if !ok {
				return
			}
			payload, err := json.Marshal(map[string]int64{"log_count": count})
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
		}
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
