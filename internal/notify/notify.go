// Package notify publishes appointment events to subscribers. Delivery is
// fire-and-forget and at-most-once; consumers must treat each event as an
// independent snapshot, not a delta.
package notify

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	EventAppointmentCreated       = "appointment.created"
	EventAppointmentUpdated       = "appointment.updated"
	EventAppointmentStatusUpdated = "appointment.status_updated"
	EventAppointmentsBulkUpdated  = "appointments.bulk_updated"
)

// ProviderTopic is the channel carrying one provider's appointment events.
func ProviderTopic(providerID uuid.UUID) string {
	return "appointments:provider:" + providerID.String()
}

// BulkTopic carries aggregate events for batch operations.
const BulkTopic = "appointments:bulk"

// Publisher delivers an event payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

type RedisPublisher struct {
	client *redis.Client
	log    zerolog.Logger
}

func NewRedisPublisher(client *redis.Client, log zerolog.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, log: log}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("marshal notification payload")
		return
	}

	if err := p.client.Publish(ctx, topic, data).Err(); err != nil {
		p.log.Error().Err(err).Str("topic", topic).Msg("publish notification")
	}
}

// NopPublisher discards events; used in tests and tooling.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, string, any) {}
