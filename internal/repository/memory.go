package repository

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

type MemoryKVStore struct {
	entries sync.Map
}

func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{}
}

func (r *MemoryKVStore) Get(ctx context.Context, key string) (string, error) {
	val, ok := r.entries.Load(key)
	if !ok {
		return "", nil
	}
	entry := val.(memoryEntry)
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		r.entries.Delete(key)
		return "", nil
	}
	return entry.value, nil
}

func (r *MemoryKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	r.entries.Store(key, entry)
	return nil
}

func (r *MemoryKVStore) Delete(ctx context.Context, key string) error {
	r.entries.Delete(key)
	return nil
}
