// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-node setups.
type MemoryStore struct {
	mu     sync.RWMutex
	kv     map[string]memoryEntry
	lists  map[string][]string
	subs   map[string][]*memorySubscription
	closed bool
}

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		kv:    make(map[string]memoryEntry),
		lists: make(map[string][]string),
		subs:  make(map[string][]*memorySubscription),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	entry, ok := s.kv[key]
	s.mu.RUnlock()
	if !ok || entry.expired(time.Now()) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.kv[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.kv, key)
	delete(s.lists, key)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key, entry := range s.kv {
		if entry.expired(now) {
			continue
		}
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (s *MemoryStore) ListAppend(_ context.Context, key string, values ...string) error {
	s.mu.Lock()
	s.lists[key] = append(s.lists[key], values...)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ListRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.lists[key]
	from, to, empty := normalizeRange(start, stop, int64(len(list)))
	if empty {
		return nil, nil
	}
	out := make([]string, to-from+1)
	copy(out, list[from:to+1])
	return out, nil
}

func (s *MemoryStore) ListTrim(_ context.Context, key string, start, stop int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.lists[key]
	from, to, empty := normalizeRange(start, stop, int64(len(list)))
	if empty {
		delete(s.lists, key)
		return nil
	}
	s.lists[key] = append([]string(nil), list[from:to+1]...)
	return nil
}

func (s *MemoryStore) ListLen(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.lists[key])), nil
}

func (s *MemoryStore) Publish(_ context.Context, channel, payload string) error {
	msg := Message{Channel: channel, Payload: payload}
	s.mu.RLock()
	subs := append([]*memorySubscription(nil), s.subs[channel]...)
	s.mu.RUnlock()
	for _, sub := range subs {
		sub.deliver(msg)
	}
	return nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	sub := &memorySubscription{
		store:    s,
		channel:  channel,
		messages: make(chan Message, subscriberBuffer),
	}
	s.mu.Lock()
	s.subs[channel] = append(s.subs[channel], sub)
	s.mu.Unlock()
	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			_ = sub.Close()
		}()
	}
	return sub, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var all []*memorySubscription
	for _, subs := range s.subs {
		all = append(all, subs...)
	}
	s.subs = make(map[string][]*memorySubscription)
	s.mu.Unlock()
	for _, sub := range all {
		sub.closeChan()
	}
	return nil
}

func (s *MemoryStore) unsubscribe(sub *memorySubscription) {
	s.mu.Lock()
	subs := s.subs[sub.channel]
	for i, candidate := range subs {
		if candidate == sub {
			s.subs[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
}

type memorySubscription struct {
	store    *MemoryStore
	channel  string
	messages chan Message
	mu       sync.Mutex
	closed   bool
}

func (sub *memorySubscription) Messages() <-chan Message {
	return sub.messages
}

func (sub *memorySubscription) Close() error {
	sub.store.unsubscribe(sub)
	sub.closeChan()
	return nil
}

func (sub *memorySubscription) closeChan() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if !sub.closed {
		sub.closed = true
		close(sub.messages)
	}
}

func (sub *memorySubscription) deliver(msg Message) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.closed {
		return
	}
	select {
	case sub.messages <- msg:
	default:
	}
}

// normalizeRange maps redis-style inclusive start/stop (negative counts from
// the tail) onto slice bounds.
func normalizeRange(start, stop, length int64) (from, to int64, empty bool) {
	if length == 0 {
		return 0, 0, true
	}
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length || stop < 0 {
		return 0, 0, true
	}
	return start, stop, false
}

// matchPattern supports the single trailing-star form used by callers,
// e.g. "worker:*".
func matchPattern(pattern, key string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	if n := len(pattern); pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return pattern == key
}
