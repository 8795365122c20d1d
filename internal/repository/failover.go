package repository

import (
	"context"
	"sync/atomic"
	"time"

	"carebook/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverDedupStore serves from the primary (redis) store and falls
// back to the in-memory store while the primary is down, retrying it
// after a cooldown. A fallback hit loses cross-instance dedup, which is
// acceptable: the reconciler stays idempotent without it.
type FailoverDedupStore struct {
	primary   domain.DedupStore
	fallback  domain.DedupStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64
}

func NewFailoverDedupStore(primary, fallback domain.DedupStore, logger *zerolog.Logger) *FailoverDedupStore {
	return &FailoverDedupStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverDedupStore) SeenEvent(ctx context.Context, key string) (bool, error) {
	if r.primaryUsable() {
		seen, err := r.primary.SeenEvent(ctx, key)
		if err == nil {
			r.isDown.Store(false)
			return seen, nil
		}
		r.markDown(err)
	}
	return r.fallback.SeenEvent(ctx, key)
}

func (r *FailoverDedupStore) MarkEvent(ctx context.Context, key string, ttl time.Duration) error {
	if r.primaryUsable() {
		err := r.primary.MarkEvent(ctx, key, ttl)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.MarkEvent(ctx, key, ttl)
}

// primaryUsable reports whether the primary should be tried: either it
// is believed up, or the recovery cooldown has elapsed.
func (r *FailoverDedupStore) primaryUsable() bool {
	if !r.isDown.Load() {
		return true
	}
	return time.Since(time.Unix(0, r.lastCheck.Load())) > time.Minute
}

func (r *FailoverDedupStore) markDown(err error) {
	if !r.isDown.Load() {
		r.logger.Error().Err(err).Msg("primary dedup store failed, falling back to memory")
	}
	r.isDown.Store(true)
	r.lastCheck.Store(time.Now().UnixNano())
}
