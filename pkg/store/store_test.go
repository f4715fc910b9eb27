// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := DefaultConfig()
	cfg.Address = mr.Addr()
	s, err := NewRedisStore(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return mr, s
}

func TestRedisStoreKV(t *testing.T) {
	mr, s := newTestRedis(t)
	ctx := context.Background()

	_, found, err := s.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "progress:t1", `{"p":0.5}`, time.Hour))
	val, found, err := s.Get(ctx, "progress:t1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, `{"p":0.5}`, val)

	mr.FastForward(2 * time.Hour)
	_, found, err = s.Get(ctx, "progress:t1")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.Set(ctx, "worker:w1", "alive", 0))
	require.NoError(t, s.Delete(ctx, "worker:w1"))
	_, found, err = s.Get(ctx, "worker:w1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedisStoreKeys(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "worker:a", "1", 0))
	require.NoError(t, s.Set(ctx, "worker:b", "1", 0))
	require.NoError(t, s.Set(ctx, "progress:a", "1", 0))

	keys, err := s.Keys(ctx, "worker:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker:a", "worker:b"}, keys)
}

func TestRedisStoreList(t *testing.T) {
	_, s := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, s.ListAppend(ctx, "dlq", "a", "b", "c", "d"))
	n, err := s.ListLen(ctx, "dlq")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	items, err := s.ListRange(ctx, "dlq", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, items)

	require.NoError(t, s.ListTrim(ctx, "dlq", -2, -1))
	items, err = s.ListRange(ctx, "dlq", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d"}, items)
}

func TestRedisStorePubSub(t *testing.T) {
	_, s := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sub, err := s.Subscribe(ctx, "progress.update")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, "progress.update", "hello"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "progress.update", msg.Channel)
		assert.Equal(t, "hello", msg.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestMemoryStoreKV(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "k", "v", 10*time.Millisecond))
	val, found, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v", val)

	time.Sleep(20 * time.Millisecond)
	_, found, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStoreKeysPattern(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Set(ctx, "worker:a", "1", 0))
	require.NoError(t, s.Set(ctx, "worker:b", "1", 0))
	require.NoError(t, s.Set(ctx, "other", "1", 0))

	keys, err := s.Keys(ctx, "worker:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"worker:a", "worker:b"}, keys)
}

func TestMemoryStoreListNegativeRange(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ListAppend(ctx, "l", "a", "b", "c"))

	items, err := s.ListRange(ctx, "l", -2, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, items)

	items, err = s.ListRange(ctx, "l", 5, 9)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemoryStorePubSub(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	sub, err := s.Subscribe(ctx, "events")
	require.NoError(t, err)

	require.NoError(t, s.Publish(ctx, "events", "one"))
	require.NoError(t, s.Publish(ctx, "other", "ignored"))

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, "one", msg.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	require.NoError(t, sub.Close())
	_, open := <-sub.Messages()
	assert.False(t, open)
}
