// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

// Package store is the shared state store every component persists through:
// progress records, worker directory entries, the dead letter queue, and the
// progress event fan-out.
package store

import (
	"context"
	"time"
)

// Message is one pub/sub delivery.
type Message struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// Subscription is a cancellable, infinite message sequence. Messages is
// closed after Close or when the subscribing context ends.
type Subscription interface {
	Messages() <-chan Message
	Close() error
}

// Store is the shared key/value + pub/sub contract. TTL zero means no
// expiry. List operations back append-only queues such as the DLQ.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, pattern string) ([]string, error)

	ListAppend(ctx context.Context, key string, values ...string) error
	ListRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	ListTrim(ctx context.Context, key string, start, stop int64) error
	ListLen(ctx context.Context, key string) (int64, error)

	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)

	Close() error
}

// Config carries store connection settings.
type Config struct {
	Address          string
	Password         string
	DB               int
	PoolSize         int
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
}

// DefaultConfig returns settings suitable for a local development store.
func DefaultConfig() Config {
	return Config{
		Address:          "127.0.0.1:6379",
		PoolSize:         10,
		ConnectTimeout:   5 * time.Second,
		OperationTimeout: 3 * time.Second,
	}
}

// subscriberBuffer is the per-subscription channel capacity; deliveries to a
// full subscriber are dropped rather than blocking the publisher.
const subscriberBuffer = 64
