package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/draw-your-dream/logflare/internal/domain"
)

// AdminRepository implements domain.StreamAdminRepository, generalized
// from the teacher's single-stream AdminRepository to per-source buffer
// and DLQ streams.
type AdminRepository struct {
	client *redis.Client
}

// NewAdminRepository wraps an existing Redis client.
func NewAdminRepository(client *redis.Client) *AdminRepository {
	return &AdminRepository{client: client}
}

// GetGroupInfo retrieves consumer-group info for sourceToken's buffer
// stream.
func (r *AdminRepository) GetGroupInfo(ctx context.Context, sourceToken string) ([]domain.ConsumerGroupInfo, error) {
	groups, err := r.client.XInfoGroups(ctx, bufferStreamKey(sourceToken)).Result()
	if err != nil {
		return nil, fmt.Errorf("group info for %s: %w", sourceToken, err)
	}
	result := make([]domain.ConsumerGroupInfo, len(groups))
	for i, g := range groups {
		result[i] = domain.ConsumerGroupInfo{
			Name:            g.Name,
			Consumers:       g.Consumers,
			Pending:         g.Pending,
			LastDeliveredID: g.LastDeliveredID,
		}
	}
	return result, nil
}

// GetConsumerInfo retrieves consumer info for group on sourceToken's
// stream.
func (r *AdminRepository) GetConsumerInfo(ctx context.Context, sourceToken, group string) ([]domain.ConsumerInfo, error) {
	consumers, err := r.client.XInfoConsumers(ctx, bufferStreamKey(sourceToken), group).Result()
	if err != nil {
		return nil, fmt.Errorf("consumer info for %s/%s: %w", sourceToken, group, err)
	}
	result := make([]domain.ConsumerInfo, len(consumers))
	for i, c := range consumers {
		result[i] = domain.ConsumerInfo{
			Name:    c.Name,
			Pending: c.Pending,
			Idle:    time.Duration(c.Idle) * time.Millisecond,
		}
	}
	return result, nil
}

// GetPendingSummary retrieves a pending-message summary for group on
// sourceToken's stream.
func (r *AdminRepository) GetPendingSummary(ctx context.Context, sourceToken, group string) (*domain.PendingMessageSummary, error) {
	pending, err := r.client.XPending(ctx, bufferStreamKey(sourceToken), group).Result()
	if err != nil {
		return nil, fmt.Errorf("pending summary for %s/%s: %w", sourceToken, group, err)
	}
	return &domain.PendingMessageSummary{
		Total:          pending.Count,
		FirstMessageID: pending.Lower,
		LastMessageID:  pending.Higher,
		ConsumerTotals: pending.Consumers,
	}, nil
}

// DLQDepth reports the number of entries currently queued in sourceToken's
// dead-letter stream.
func (r *AdminRepository) DLQDepth(ctx context.Context, sourceToken string) (int64, error) {
	length, err := r.client.XLen(ctx, dlqStreamKey(sourceToken)).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq depth for %s: %w", sourceToken, err)
	}
	return length, nil
}
