package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/draw-your-dream/logflare/internal/domain"
)

func insertShardTopic(shard int) string  { return "inserts:shard-" + strconv.Itoa(shard) }
func logCountTopic(sourceToken string) string { return "log_count:" + sourceToken }

// Publisher implements domain.Publisher over Redis Pub/Sub, the sharded
// topic layout from spec.md §4.9 (C9): one "inserts:shard-<H>" channel per
// pool shard, plus a per-source "log_count" channel.
type Publisher struct {
	client *redis.Client
}

// NewPublisher wraps an existing Redis client.
func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

// PublishInsertBroadcast publishes msg on the shard's insert topic.
func (p *Publisher) PublishInsertBroadcast(ctx context.Context, shard int, msg domain.InsertBroadcast) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal insert broadcast: %w", err)
	}
	return p.client.Publish(ctx, insertShardTopic(shard), payload).Err()
}

// PublishLogCount publishes the cluster-wide total for sourceToken.
func (p *Publisher) PublishLogCount(ctx context.Context, sourceToken string, count int64) error {
	return p.client.Publish(ctx, logCountTopic(sourceToken), strconv.FormatInt(count, 10)).Err()
}

// ShardSubscriber implements ingestion.Subscriber over Redis Pub/Sub: one
// subscription per shard topic, shared by every source whose Shard()
// resolves to that shard.
type ShardSubscriber struct {
	client *redis.Client
}

// NewShardSubscriber wraps an existing Redis client.
func NewShardSubscriber(client *redis.Client) *ShardSubscriber {
	return &ShardSubscriber{client: client}
}

// SubscribeShard subscribes to a shard's insert topic and decodes each
// message into a domain.InsertBroadcast, dropping malformed payloads.
func (s *ShardSubscriber) SubscribeShard(ctx context.Context, shard int) (<-chan domain.InsertBroadcast, func(), error) {
	sub := s.client.Subscribe(ctx, insertShardTopic(shard))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to shard %d: %w", shard, err)
	}

	out := make(chan domain.InsertBroadcast)
	raw := sub.Channel()
	go func() {
		defer close(out)
		for msg := range raw {
			var decoded domain.InsertBroadcast
			if err := json.Unmarshal([]byte(msg.Payload), &decoded); err != nil {
				continue
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}

// LogCountSubscriber implements handler.LogCountSubscriber for the live-tail
// SSE endpoint: one subscription per (sourceToken) to its log_count topic.
type LogCountSubscriber struct {
	client *redis.Client
}

// NewLogCountSubscriber wraps an existing Redis client.
func NewLogCountSubscriber(client *redis.Client) *LogCountSubscriber {
	return &LogCountSubscriber{client: client}
}

// SubscribeLogCount subscribes to sourceToken's log_count topic, decoding
// each payload to an int64, dropping anything that doesn't parse.
func (s *LogCountSubscriber) SubscribeLogCount(ctx context.Context, sourceToken string) (<-chan int64, func(), error) {
	sub := s.client.Subscribe(ctx, logCountTopic(sourceToken))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe to log count for %s: %w", sourceToken, err)
	}

	out := make(chan int64)
	raw := sub.Channel()
	go func() {
		defer close(out)
		for msg := range raw {
			count, err := strconv.ParseInt(msg.Payload, 10, 64)
			if err != nil {
				continue
			}
			select {
			case out <- count:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, func() { _ = sub.Close() }, nil
}
