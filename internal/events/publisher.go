// Package events publishes committed placement events on Redis pub/sub for
// the Gateway's push and email workers.
package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// publishClient is the subset of *redis.Client the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisPublisher sends raw JSON payloads on a channel.
type RedisPublisher struct {
	rdb publishClient
}

// NewRedisPublisher returns a publisher backed by rdb.
func NewRedisPublisher(rdb publishClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish sends message on channel. Having no subscriber is not an error.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, message []byte) error {
	if err := p.rdb.Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}
