package repository

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// FailoverKVStore serves from the primary store until it errors, then
// falls back to the in-memory store and retries the primary after a
// cool-down. Credentials stored only in the fallback do not survive a
// restart, which is acceptable for a degraded mode.
type FailoverKVStore struct {
	primary   KeyValueStore
	fallback  KeyValueStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck time.Time
}

func NewFailoverKVStore(primary, fallback KeyValueStore, logger *zerolog.Logger) *FailoverKVStore {
	return &FailoverKVStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverKVStore) Get(ctx context.Context, key string) (string, error) {
	if !r.isDown.Load() {
		val, err := r.primary.Get(ctx, key)
		if err == nil {
			return val, nil
		}
		r.logger.Error().Err(err).Msg("Primary KV store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	// Try to recover after 1 minute
	if r.isDown.Load() && time.Since(r.lastCheck) > time.Minute {
		val, err := r.primary.Get(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return val, nil
		}
		r.lastCheck = time.Now()
	}

	return r.fallback.Get(ctx, key)
}

func (r *FailoverKVStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if !r.isDown.Load() {
		err := r.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary KV store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.Set(ctx, key, value, ttl)
}

func (r *FailoverKVStore) Delete(ctx context.Context, key string) error {
	if !r.isDown.Load() {
		err := r.primary.Delete(ctx, key)
		if err == nil {
			return nil
		}
		r.logger.Error().Err(err).Msg("Primary KV store failed, falling back to memory")
		r.isDown.Store(true)
		r.lastCheck = time.Now()
	}

	return r.fallback.Delete(ctx, key)
}
