package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-redis/redis/v8"
)

// DefaultRedisChannel is the pub/sub channel used when none is configured.
const DefaultRedisChannel = "hallbooking:changes"

// RedisBus publishes changes on a Redis channel so that every server process
// sharing the database refreshes its sessions. Changes received from Redis are
// delivered to local subscribers, including changes this process published.
type RedisBus struct {
	client  *redis.Client
	channel string
	local   *LocalBus
	logger  *slog.Logger
}

// NewRedisClient accepts either a redis:// URL or a host:port address.
func NewRedisClient(addr string) (*redis.Client, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if strings.Contains(addr, "://") {
		opts, err := redis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}

// NewRedisBus wraps client. An empty channel selects DefaultRedisChannel.
func NewRedisBus(client *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		client:  client,
		channel: channel,
		local:   NewLocalBus(logger),
		logger:  logger.With("component", "redis_bus", "channel", channel),
	}
}

// Publish sends change to Redis. Local subscribers receive it when it comes
// back through Run.
func (b *RedisBus) Publish(ctx context.Context, change Change) error {
	payload, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish change: %w", err)
	}
	return nil
}

// Subscribe registers a local subscriber.
func (b *RedisBus) Subscribe(buffer int) *Subscription {
	return b.local.Subscribe(buffer)
}

// Ping verifies the Redis connection.
func (b *RedisBus) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// Run relays messages from Redis to local subscribers until ctx is cancelled.
func (b *RedisBus) Run(ctx context.Context) error {
	pubsub := b.client.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", b.channel, err)
	}
	b.logger.InfoContext(ctx, "subscribed to change channel")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("redis subscription closed")
			}
			change, err := decodeChange(msg.Payload)
			if err != nil {
				b.logger.WarnContext(ctx, "discarding malformed change", "error", err)
				continue
			}
			b.local.deliver(ctx, change)
		}
	}
}

// Close releases the Redis client.
func (b *RedisBus) Close() error {
	return b.client.Close()
}

func decodeChange(payload string) (Change, error) {
	var change Change
	if err := json.Unmarshal([]byte(payload), &change); err != nil {
		return Change{}, err
	}
	if change.Kind == "" {
		return Change{}, errors.New("change kind is empty")
	}
	return change, nil
}
