package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/util"
)

const webhookEventPrefix = "webhook_event:"

// DedupeCache short-circuits duplicate webhook deliveries before they reach
// storage. The conditional update on the sale row is the source of truth;
// this cache just saves a round trip when the provider retries an event it
// already delivered.
type DedupeCache struct {
	client *client.RedisClient
	ttl    time.Duration
}

func NewDedupeCache(redisClient *client.RedisClient) *DedupeCache {
	return &DedupeCache{
		client: redisClient,
		ttl:    24 * time.Hour,
	}
}

// MarkEventSeen records a webhook event ID and reports whether this is the
// first time it was seen. A cache error is reported as first-seen so a
// Redis outage can never drop a legitimate event.
func (c *DedupeCache) MarkEventSeen(ctx context.Context, eventID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	first, err := c.client.SetNX(ctx, webhookEventPrefix+eventID, "seen", c.ttl)
	if err != nil {
		util.Error("failed to record webhook event",
			zap.String("event_id", eventID), zap.Error(err))
		return true, fmt.Errorf("failed to record webhook event: %w", err)
	}
	if !first {
		util.Debug("duplicate webhook event", zap.String("event_id", eventID))
	}
	return first, nil
}
