// Package events publishes cache lifecycle events on Redis Pub/Sub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// TypeSearchCached is the event type (and default channel) emitted after a
// search result set has been written to the cache.
const TypeSearchCached = "EVENT_SEARCH_CACHED"

// SearchCached is the payload of EVENT_SEARCH_CACHED.
type SearchCached struct {
	Type         string    `json:"type"`
	SearchID     string    `json:"searchId"`
	SearchKey    string    `json:"searchKey"`
	TotalResults int       `json:"totalResults"`
	UpdatedAt    time.Time `json:"updatedAt"`
	RequestID    string    `json:"requestId,omitempty"`
}

// Encode returns the JSON wire form of ev with Type filled in.
func Encode(ev SearchCached) ([]byte, error) {
	if ev.Type == "" {
		ev.Type = TypeSearchCached
	}
	return json.Marshal(ev)
}

// RedisPublisher publishes events on a single Redis channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
}

// NewRedisPublisher returns a publisher on channel (TypeSearchCached if empty).
func NewRedisPublisher(rdb *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = TypeSearchCached
	}
	return &RedisPublisher{rdb: rdb, channel: channel}
}

// Publish sends ev to the configured channel.
func (p *RedisPublisher) Publish(ctx context.Context, ev SearchCached) error {
	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encode %s: %w", TypeSearchCached, err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", p.channel, err)
	}
	return nil
}

// Nop discards events. Used when no Redis URL is configured.
type Nop struct{}

func (Nop) Publish(context.Context, SearchCached) error { return nil }
