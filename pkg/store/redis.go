// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AMD-AGI/Backlot/pkg/log"
	"github.com/AMD-AGI/Backlot/pkg/utils"
)

// RedisStore implements Store on a redis server.
type RedisStore struct {
	client *redis.Client
	opTime time.Duration
}

// NewRedisStore connects to redis and verifies the connection with a ping,
// retrying while the server comes up.
func NewRedisStore(cfg Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Address,
		Password:    cfg.Password,
		DB:          cfg.DB,
		PoolSize:    cfg.PoolSize,
		DialTimeout: cfg.ConnectTimeout,
	})
	opTime := cfg.OperationTimeout
	if opTime <= 0 {
		opTime = DefaultConfig().OperationTimeout
	}
	ping := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), opTime)
		defer cancel()
		return client.Ping(ctx).Err()
	}
	if err := utils.Retry(ping, 30*time.Second, 5*time.Second); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Address, err)
	}
	log.Infof("connected to redis at %s (db %d)", cfg.Address, cfg.DB)
	return &RedisStore{client: client, opTime: opTime}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return s.client.Keys(ctx, pattern).Result()
}

func (s *RedisStore) ListAppend(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(values))
	for _, v := range values {
		args = append(args, v)
	}
	return s.client.RPush(ctx, key, args...).Err()
}

func (s *RedisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) ListTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *RedisStore) ListLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

// Subscribe confirms the subscription before returning so callers never miss
// messages published after Subscribe succeeds.
func (s *RedisStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan Message, subscriberBuffer),
	}
	go sub.pump(ctx)
	return sub, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan Message
}

func (sub *redisSubscription) Messages() <-chan Message {
	return sub.messages
}

func (sub *redisSubscription) Close() error {
	return sub.pubsub.Close()
}

func (sub *redisSubscription) pump(ctx context.Context) {
	defer close(sub.messages)
	ch := sub.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			_ = sub.pubsub.Close()
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			select {
			case sub.messages <- Message{Channel: m.Channel, Payload: m.Payload}:
			default:
				log.Warnf("dropping message on channel %s: subscriber lagging", m.Channel)
			}
		}
	}
}
