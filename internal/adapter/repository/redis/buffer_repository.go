// Package redis implements the Memory Buffer (C3), the insert-broadcast
// pub/sub, and stream admin introspection on top of Redis Streams and
// Redis Pub/Sub, the same way the teacher repo's redis.LogRepository and
// redis.AdminRepository do — generalized from one global log_events
// stream to one stream per source token.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draw-your-dream/logflare/internal/domain"
	"github.com/draw-your-dream/logflare/internal/pkg/config"
)

func bufferStreamKey(sourceToken string) string { return "buffer:" + sourceToken }
func dlqStreamKey(sourceToken string) string     { return "dlq:" + sourceToken }

// BufferRepository implements domain.BufferRepository: one Redis Stream
// per source token, with a dead-letter stream alongside it. Overflow
// policy is drop-oldest: every append is bounded by maxLen (approximate
// MAXLEN trimming, the same primitive the teacher's AdminRepository
// exposes as an on-demand TrimStream, applied here on every XAdd instead
// of manually) so a source that outruns its consumers evicts its oldest
// unread entries rather than growing the stream unbounded or rejecting
// new writes.
type BufferRepository struct {
	client *redis.Client
	maxLen int64
}

// NewBufferRepository wraps an existing Redis client. maxLen bounds every
// source's stream length (see DefaultBufferMaxLen); pass 0 to fall back
// to that default.
func NewBufferRepository(client *redis.Client, maxLen int64) *BufferRepository {
	if maxLen <= 0 {
		maxLen = config.DefaultBufferMaxLen
	}
	return &BufferRepository{client: client, maxLen: maxLen}
}

// EnsureConsumerGroup creates group on the source's stream if absent,
// mirroring the teacher's setupConsumerGroup. Safe to call repeatedly.
func (r *BufferRepository) EnsureConsumerGroup(ctx context.Context, sourceToken, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, bufferStreamKey(sourceToken), group, "0").Err()
	if err != nil && !isBusyGroupError(err) {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", group, sourceToken, err)
	}
	return nil
}

// BufferLog appends event to the source's stream.
func (r *BufferRepository) BufferLog(ctx context.Context, sourceToken string, event domain.LogEvent) error {
	payload, err := event.EncodeJSON()
	if err != nil {
		return fmt.Errorf("failed to marshal log event: %w", err)
	}
	args := &redis.XAddArgs{
		Stream: bufferStreamKey(sourceToken),
		MaxLen: r.maxLen,
		Approx: true,
		Values: map[string]interface{}{"payload": payload},
	}
	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to XADD to %s: %w", sourceToken, err)
	}
	return nil
}

// ReadBatch reads up to count undelivered events for (group, consumer) on
// the source's stream.
func (r *BufferRepository) ReadBatch(ctx context.Context, sourceToken, group, consumer string, count int) ([]domain.LogEvent, error) {
	args := &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{bufferStreamKey(sourceToken), ">"},
		Count:    int64(count),
		Block:    2 * time.Second,
	}

	streams, err := r.client.XReadGroup(ctx, args).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to XREADGROUP from %s: %w", sourceToken, err)
	}
	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, nil
	}

	messages := streams[0].Messages
	events := make([]domain.LogEvent, 0, len(messages))
	for _, msg := range messages {
		payload, ok := msg.Values["payload"].(string)
		if !ok {
			continue
		}
		event, err := domain.DecodeLogEventJSON([]byte(payload))
		if err != nil {
			continue
		}
		event.StreamMessageID = msg.ID
		events = append(events, event)
	}
	return events, nil
}

// Acknowledge marks messageIDs as processed for group on the source's
// stream.
func (r *BufferRepository) Acknowledge(ctx context.Context, sourceToken, group string, messageIDs ...string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	if err := r.client.XAck(ctx, bufferStreamKey(sourceToken), group, messageIDs...).Err(); err != nil {
		return fmt.Errorf("failed to XACK on %s: %w", sourceToken, err)
	}
	return nil
}

// MoveToDLQ moves events that exhausted delivery retries to the source's
// dead-letter stream, carrying provenance fields forward.
func (r *BufferRepository) MoveToDLQ(ctx context.Context, sourceToken string, events []domain.LogEvent) error {
	if len(events) == 0 {
		return nil
	}
	pipe := r.client.Pipeline()
	for _, event := range events {
		payload, err := event.EncodeJSON()
		if err != nil {
			continue
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: dlqStreamKey(sourceToken),
			Values: map[string]interface{}{
				"payload":         payload,
				"original_stream": bufferStreamKey(sourceToken),
				"original_msg_id": event.StreamMessageID,
				"failed_at":       time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to execute DLQ pipeline for %s: %w", sourceToken, err)
	}
	return nil
}

func isBusyGroupError(err error) bool {
	return err != nil && err.Error() == "BUSYGROUP Consumer Group name already exists"
}
