// Package events publishes queue events to Redis pub/sub so that other
// processes (websocket gateways, bots) can follow session activity.
package events

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	zlog "github.com/rs/zerolog/log"

	"github.com/utabox/utabox/internal/app/session"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// Publisher sends queue events to a Redis channel. It implements
// session.Notifier. Publish failures are logged and swallowed: event
// delivery must never fail the mutation that produced the event.
type Publisher struct {
	client  *redis.Client
	channel string
}

// NewPublisher creates a publisher with its own Redis client.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
	}
}

// Publish serializes the event as JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, ev session.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		zlog.Error().Msgf("failed to marshal queue event: type=%s err=%v", ev.Type, err)
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		zlog.Warn().Msgf("failed to publish queue event: type=%s session_id=%s err=%v", ev.Type, ev.SessionID, err)
	}
}

// Close releases the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
