package events

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/util"
)

const (
	TypeSaleFinalized          = "sale.finalized"
	TypeCheckoutCreated        = "checkout.created"
	TypeNotificationRegistered = "notification.registered"
	TypeNotificationDelivered  = "notification.delivered"
)

// Event is the envelope written to the auction event stream. Payload never
// carries contact addresses, only prices, IDs and timestamps.
type Event struct {
	Type       string    `json:"type"`
	AuctionID  string    `json:"auction_id"`
	PriceCents int64     `json:"price_cents,omitempty"`
	RefID      string    `json:"ref_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher fans auction lifecycle events out to downstream consumers.
// Publishing is best effort: a failed publish is logged, never surfaced to
// the request that produced the event.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// StreamPublisher writes each event to a Kafka topic for durable consumers
// and mirrors it onto a Redis channel for live storefront subscribers.
type StreamPublisher struct {
	producer *client.KafkaProducer
	redis    *client.RedisClient
	topic    string
	channel  string
}

func NewStreamPublisher(producer *client.KafkaProducer, redisClient *client.RedisClient, topic, channel string) *StreamPublisher {
	return &StreamPublisher{
		producer: producer,
		redis:    redisClient,
		topic:    topic,
		channel:  channel,
	}
}

func (p *StreamPublisher) Publish(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to encode event", zap.String("type", event.Type), zap.Error(err))
		return
	}

	if p.producer != nil {
		if err := p.producer.ProduceMessage(ctx, p.topic, []byte(event.AuctionID), payload, map[string]string{
			"event_type": event.Type,
		}); err != nil {
			util.Error("failed to publish event to kafka",
				zap.String("type", event.Type), zap.Error(err))
		}
	}

	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.channel, payload); err != nil {
			util.Error("failed to publish event to redis",
				zap.String("type", event.Type), zap.Error(err))
		}
	}
}

// NoopPublisher discards events. Used when the event stream is disabled.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, Event) {}
