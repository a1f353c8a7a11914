// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package session

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStorage keeps threads in a TTL cache with LRU eviction at capacity
type MemoryStorage struct {
	cache *ttlcache.Cache[string, *Thread]
}

// NewMemoryStorage creates an in-memory store. A zero ttl keeps threads
// until evicted; a zero maxThreads means unbounded.
func NewMemoryStorage(ttl time.Duration, maxThreads int) *MemoryStorage {
	opts := []ttlcache.Option[string, *Thread]{
		ttlcache.WithTTL[string, *Thread](ttl),
	}
	if maxThreads > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, *Thread](uint64(maxThreads)))
	}

	return &MemoryStorage{cache: ttlcache.New(opts...)}
}

// Save stores a copy of the thread
func (m *MemoryStorage) Save(_ context.Context, thread *Thread) error {
	m.cache.Set(thread.ID, thread.Clone(), ttlcache.DefaultTTL)
	return nil
}

// Load returns a copy of the stored thread
func (m *MemoryStorage) Load(_ context.Context, threadID string) (*Thread, error) {
	item := m.cache.Get(threadID)
	if item == nil {
		return nil, ErrThreadNotFound
	}
	return item.Value().Clone(), nil
}

// Delete removes a thread
func (m *MemoryStorage) Delete(_ context.Context, threadID string) error {
	m.cache.Delete(threadID)
	return nil
}

// Ping always succeeds for the in-memory store
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

// Cleanup drops expired threads
func (m *MemoryStorage) Cleanup(_ context.Context) error {
	m.cache.DeleteExpired()
	return nil
}

// Len returns the number of live threads
func (m *MemoryStorage) Len() int {
	return m.cache.Len()
}

// Close clears the cache
func (m *MemoryStorage) Close() error {
	m.cache.DeleteAll()
	return nil
}
