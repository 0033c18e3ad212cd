// Package cluster implements the Cluster Aggregator (C8): a 5-second
// fan-out to peer nodes' Recent-Logs Cache, merged and capped locally.
// Transport is plain HTTP, grounded on the teacher's net/http-only stack
// (no message-bus abstraction exists in the pack for peer-to-peer RPC).
package cluster

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/pkg/config"
)

// LocalLister is the local half of C2 the aggregator falls back to and
// merges its own contribution from.
type LocalLister interface {
	List(sourceToken string) []domain.LogEvent
}

// PeerClient requests list(source_token) from one peer over the cluster
// transport.
type PeerClient interface {
	ListPeer(ctx context.Context, peerAddr, sourceToken string) ([]domain.LogEvent, error)
}

// Aggregator implements list_for_cluster (§4.8).
type Aggregator struct {
	local   LocalLister
	client  PeerClient
	peers   func() []string
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewAggregator builds an Aggregator. peers is called on every request so
// cluster membership changes are picked up without a restart.
func NewAggregator(local LocalLister, client PeerClient, peers func() []string, logger *slog.Logger, m *metrics.Metrics) *Aggregator {
	return &Aggregator{local: local, client: client, peers: peers, logger: logger.With("component", "cluster_aggregator"), metrics: m}
}

// ListForCluster fans out to every reachable peer with a 5s overall
// deadline, merges with the local list, sorts by body.timestamp ascending,
// and caps at 100. Falls back to the local list alone if every peer
// request fails or the collection step errors entirely.
func (a *Aggregator) ListForCluster(ctx context.Context, sourceToken string) []domain.LogEvent {
	start := time.Now()
	defer func() {
		if a.metrics != nil {
			a.metrics.ClusterListDuration.Observe(time.Since(start).Seconds())
		}
	}()

	peers := a.peers()
	local := a.local.List(sourceToken)
	if len(peers) == 0 {
		return capAndSort(local)
	}

	deadlineCtx, cancel := context.WithTimeout(ctx, config.ClusterListDeadline)
	defer cancel()

	results := make([][]domain.LogEvent, 0, len(peers))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, peer := range peers {
		wg.Add(1)
		go func(peerAddr string) {
			defer wg.Done()
			events, err := a.client.ListPeer(deadlineCtx, peerAddr, sourceToken)
			if err != nil {
				a.logger.Warn("peer list failed or timed out", "peer", peerAddr, "error", err)
				if a.metrics != nil {
					a.metrics.ClusterListPeerTimeouts.Inc()
				}
				return
			}
			mu.Lock()
			results = append(results, events)
			mu.Unlock()
		}(peer)
	}
	wg.Wait()

	if len(results) == 0 {
		a.logger.Warn("all peer requests failed, falling back to local list", "source_token", sourceToken)
		return capAndSort(local)
	}

	merged := append([]domain.LogEvent{}, local...)
	for _, r := range results {
		merged = append(merged, r...)
	}
	return capAndSort(merged)
}

// LatestDate is local-only: it never fans out to peers (spec.md §4.8).
// Returns the zero time if no event has been observed.
func (a *Aggregator) LatestDate(sourceToken string) time.Time {
	events := a.local.List(sourceToken)
	if len(events) == 0 {
		return time.Time{}
	}
	return events[len(events)-1].Timestamp()
}

func capAndSort(events []domain.LogEvent) []domain.LogEvent {
	sort.Slice(events, func(i, j int) bool {
		return events[i].Timestamp().Before(events[j].Timestamp())
	})
	if len(events) > 100 {
		events = events[len(events)-100:]
	}
	return events
}
