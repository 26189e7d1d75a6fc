package events

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisFeed fans signals out across instances over Redis pub/sub.
type RedisFeed struct {
	client *redis.Client
	prefix string
}

// NewRedisFeed uses channels named "<prefix>:<topic>".
func NewRedisFeed(client *redis.Client, prefix string) *RedisFeed {
	return &RedisFeed{client: client, prefix: prefix}
}

func (f *RedisFeed) channel(topic Topic) string {
	if f.prefix == "" {
		return string(topic)
	}
	return f.prefix + ":" + string(topic)
}

func (f *RedisFeed) Publish(ctx context.Context, topic Topic) error {
	return f.client.Publish(ctx, f.channel(topic), uuid.NewString()).Err()
}

func (f *RedisFeed) Subscribe(ctx context.Context, topic Topic) (Subscription, error) {
	pubsub := f.client.Subscribe(ctx, f.channel(topic))
	// wait for the subscribe confirmation
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe %s: %w", topic, err)
	}

	sub := &redisSubscription{signalBox: newSignalBox(), pubsub: pubsub}
	go sub.pump()
	return sub, nil
}

// Close is a no-op; the Redis client is owned by the caller.
func (f *RedisFeed) Close() error {
	return nil
}

type redisSubscription struct {
	*signalBox
	pubsub *redis.PubSub
}

func (s *redisSubscription) pump() {
	for range s.pubsub.Channel() {
		s.notify()
	}
}

func (s *redisSubscription) Close() error {
	if !s.shut() {
		return nil
	}
	return s.pubsub.Close()
}
