package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/draw-your-dream/logflare/internal/adapter/metrics"
	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/pkg/config"
)

// Subscriber lets the cache observe insert broadcasts from every node
// (including its own) on its source's shard, so it can compute a
// cluster-wide cached total (§4.2, §4.9 C9).
type Subscriber interface {
	SubscribeShard(ctx context.Context, shard int) (msgs <-chan domain.InsertBroadcast, cancel func(), err error)
}

// Cache is the Recent-Logs Cache (C2) with the Rate & Insert Broadcaster
// (C9) folded in, matching spec.md's "C9 runs inside C2".
type Cache struct {
	sourceID    int64
	sourceToken string
	nodeID      string
	poolSize    int
	capacity    int

	mu     sync.Mutex
	fifo   []domain.LogEvent
	latest *domain.LogEvent

	insertsSinceBoot atomic.Int64
	bqInserts        *atomic.Int64 // shared with the Storage backend adaptor

	clusterMu           sync.Mutex
	nodeCounts          map[string]domain.NodeInsertCounts
	lastPublishedNode   int64
	lastObservedTotal   int64

	publisher   domain.Publisher
	subscriber  Subscriber
	sourceStore domain.SourceStore
	logger      *slog.Logger
	metrics     *metrics.Metrics

	stop   chan struct{}
	wg     sync.WaitGroup
	jitter func() time.Duration
}

// NewCache creates the per-source cache and posts the boot-time synthetic
// event, matching spec.md §4.2 ("On boot, the cache posts a single
// synthetic event with is_system_log_event?=true").
func NewCache(sourceID int64, sourceToken, nodeID string, poolSize int, pub domain.Publisher, sub Subscriber, store domain.SourceStore, bqInserts *atomic.Int64, logger *slog.Logger, m *metrics.Metrics) *Cache {
	c := &Cache{
		sourceID:    sourceID,
		sourceToken: sourceToken,
		nodeID:      nodeID,
		poolSize:    poolSize,
		capacity:    config.RecentLogsCapacity,
		nodeCounts:  make(map[string]domain.NodeInsertCounts),
		publisher:   pub,
		subscriber:  sub,
		sourceStore: store,
		bqInserts:   bqInserts,
		logger:      logger.With("component", "recent_logs_cache", "source_token", sourceToken),
		metrics:     m,
		stop:        make(chan struct{}),
		jitter:      func() time.Duration { return time.Duration(rand.Int63n(int64(config.TouchIntervalJitterMax))) },
	}
	c.push([]domain.LogEvent{bootEvent(sourceToken, nodeID)})
	return c
}

func bootEvent(sourceToken, nodeID string) domain.LogEvent {
	return domain.LogEvent{
		ID:          fmt.Sprintf("boot-%s-%d", nodeID, time.Now().UnixNano()),
		SourceToken: sourceToken,
		IngestedAt:  time.Now().UTC(),
		Body: map[string]any{
			domain.EventMessageKey: "Initialized on node " + nodeID,
		},
		Params: map[string]any{domain.SystemMarkerKey: true},
	}
}

// Push appends events in caller order, evicting the oldest when full.
// latest is tracked even across evictions.
func (c *Cache) Push(events []domain.LogEvent) {
	if len(events) == 0 {
		return
	}
	c.push(events)
	c.insertsSinceBoot.Add(int64(len(events)))
}

func (c *Cache) push(events []domain.LogEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range events {
		c.fifo = append(c.fifo, e)
		if len(c.fifo) > c.capacity {
			c.fifo = c.fifo[len(c.fifo)-c.capacity:]
		}
		ev := e
		c.latest = &ev
	}
	if c.metrics != nil {
		c.metrics.CacheSize.WithLabelValues(c.sourceToken).Set(float64(len(c.fifo)))
	}
}

// List returns current contents in insertion order.
func (c *Cache) List() []domain.LogEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.LogEvent, len(c.fifo))
	copy(out, c.fifo)
	return out
}

// Latest returns the most recent push, or domain.ErrNoEventYet.
func (c *Cache) Latest() (domain.LogEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest == nil {
		return domain.LogEvent{}, domain.ErrNoEventYet
	}
	return *c.latest, nil
}

// Shard computes hash(source_id) mod pool_size, the sharding rule for the
// insert broadcast pub/sub topic (§4.2, §4.9).
func Shard(sourceID int64, poolSize int) int {
	if poolSize <= 0 {
		poolSize = 1
	}
	h := sourceID
	if h < 0 {
		h = -h
	}
	return int(h % int64(poolSize))
}

// Run starts the broadcast and touch timers and, if a subscriber is
// configured, the cluster-total aggregation loop, and returns at once; the
// loops run until ctx is done or Stop is called.
func (c *Cache) Run(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.broadcastLoop(ctx)
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.touchLoop(ctx)
	}()

	if c.subscriber != nil {
		msgs, cancel, err := c.subscriber.SubscribeShard(ctx, Shard(c.sourceID, c.poolSize))
		if err != nil {
			c.logger.Warn("failed to subscribe to insert broadcast shard", "error", err)
		} else {
			c.wg.Add(1)
			go func() {
				defer c.wg.Done()
				defer cancel()
				c.subscribeLoop(ctx, msgs)
			}()
		}
	}
}

// Stop halts all background timers/subscriptions and waits for them to
// exit.
func (c *Cache) Stop() {
	close(c.stop)
	c.wg.Wait()
}

func (c *Cache) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(config.BroadcastInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-ticker.C:
			c.broadcastTick(ctx)
		}
	}
}

func (c *Cache) broadcastTick(ctx context.Context) {
	current := c.insertsSinceBoot.Load()
	var bq int64
	if c.bqInserts != nil {
		bq = c.bqInserts.Load()
	}

	if current <= c.lastPublishedNode {
		return
	}
	c.lastPublishedNode = current

	if c.publisher == nil {
		return
	}
	msg := domain.InsertBroadcast{
		SourceID: c.sourceToken,
		Inserts: map[string]domain.NodeInsertCounts{
			c.nodeID: {NodeInserts: current, BQInserts: bq},
		},
	}
	if err := c.publisher.PublishInsertBroadcast(ctx, Shard(c.sourceID, c.poolSize), msg); err != nil {
		c.logger.Warn("failed to publish insert broadcast", "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.CacheBroadcastTotal.Inc()
	}

	// Own node's count also feeds the cluster total directly, in case no
	// subscriber loop is running (single-node deployments).
	c.mergeNodeCount(ctx, c.nodeID, current, bq)
}

func (c *Cache) subscribeLoop(ctx context.Context, msgs <-chan domain.InsertBroadcast) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			if msg.SourceID != c.sourceToken {
				continue
			}
			for node, counts := range msg.Inserts {
				c.mergeNodeCount(ctx, node, counts.NodeInserts, counts.BQInserts)
			}
		}
	}
}

func (c *Cache) mergeNodeCount(ctx context.Context, node string, nodeInserts, bqInserts int64) {
	c.clusterMu.Lock()
	c.nodeCounts[node] = domain.NodeInsertCounts{NodeInserts: nodeInserts, BQInserts: bqInserts}
	var total int64
	for _, v := range c.nodeCounts {
		total += v.NodeInserts
	}
	grew := total > c.lastObservedTotal
	if grew {
		c.lastObservedTotal = total
	}
	c.clusterMu.Unlock()

	if grew && c.publisher != nil {
		if err := c.publisher.PublishLogCount(ctx, c.sourceToken, total); err != nil {
			c.logger.Warn("failed to publish log_count", "error", err)
		}
	}
}

// TotalClusterInserts returns the cache's current view of cluster-wide
// inserts for this source.
func (c *Cache) TotalClusterInserts() int64 {
	c.clusterMu.Lock()
	defer c.clusterMu.Unlock()
	return c.lastObservedTotal
}

func (c *Cache) touchLoop(ctx context.Context) {
	timer := time.NewTimer(config.TouchIntervalBase + c.jitter())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case <-timer.C:
			c.touchTick(ctx)
			timer.Reset(config.TouchIntervalBase + c.jitter())
		}
	}
}

func (c *Cache) touchTick(ctx context.Context) {
	latest, err := c.newestNonSystemEvent()
	if err != nil {
		return
	}
	if time.Since(latest.IngestedAt) >= config.TouchIntervalBase {
		return
	}
	if c.sourceStore == nil {
		return
	}
	if err := c.sourceStore.TouchSource(ctx, c.sourceID, time.Now().UTC()); err != nil {
		c.logger.Warn("failed to touch source", "error", err)
	}
}

func (c *Cache) newestNonSystemEvent() (domain.LogEvent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.fifo) - 1; i >= 0; i-- {
		if !c.fifo[i].IsSystemEvent() {
			return c.fifo[i], nil
		}
	}
	return domain.LogEvent{}, domain.ErrNoEventYet
}
