package imageproxy

import (
	"context"
	"log/slog"
	"time"
)

const releaseTimeout = 2 * time.Second

// lockValue is what a lock key holds. Ownership is only "my conditional set
// succeeded", so the value carries no meaning.
var lockValue = []byte("1")

// Lock is an advisory lock built on Store.SetIfAbsent. It keeps no client-side
// state: a held lock is released by deleting its key or by TTL expiry.
type Lock struct {
	store        Store
	ttl          time.Duration
	waitTimeout  time.Duration
	pollInterval time.Duration
	logger       *slog.Logger
}

// NewLock creates a Lock over store.
func NewLock(store Store, ttl, waitTimeout, pollInterval time.Duration, logger *slog.Logger) *Lock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Lock{
		store:        store,
		ttl:          ttl,
		waitTimeout:  waitTimeout,
		pollInterval: pollInterval,
		logger:       logger,
	}
}

// Acquire attempts to take the lock. A transport failure is returned as an
// error, never as "not acquired".
func (l *Lock) Acquire(ctx context.Context, lockKey string) (bool, error) {
	return l.store.SetIfAbsent(ctx, lockKey, lockValue, l.ttl)
}

// Release deletes the lock key. It is idempotent and never fails: an error is
// logged and the key is left to expire with its TTL.
func (l *Lock) Release(ctx context.Context, lockKey string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := l.store.Delete(ctx, lockKey); err != nil {
		l.logger.Error("[IMAGE-PROXY] lock release failed, waiting for ttl expiry",
			"lock_key", lockKey,
			"ttl", l.ttl,
			"error", err,
		)
	}
}

// AwaitArtifact polls the cache key until a value passing valid appears or
// the wait timeout elapses. Values failing valid are evicted and polling
// continues. Poll errors are ignored: the wait is a latency bound and ends on
// its own deadline. The client going away does not cut the wait short.
func (l *Lock) AwaitArtifact(ctx context.Context, cacheKey string, valid func([]byte) bool) ([]byte, bool) {
	ctx = context.WithoutCancel(ctx)
	deadline := time.Now().Add(l.waitTimeout)

	for {
		data, found, err := l.store.Get(ctx, cacheKey)
		switch {
		case err != nil:
			l.logger.Debug("[IMAGE-PROXY] poll read failed",
				"key", cacheKey,
				"error", err,
			)
		case found && valid(data):
			return data, true
		case found:
			evict(ctx, l.store, cacheKey, l.logger)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		time.Sleep(min(l.pollInterval, remaining))
	}
}

// evict deletes a cached value that failed its signature check.
func evict(ctx context.Context, store Store, cacheKey string, logger *slog.Logger) {
	logger.Warn("[IMAGE-PROXY] evicting cached value with bad signature", "key", cacheKey)
	if err := store.Delete(ctx, cacheKey); err != nil {
		logger.Error("[IMAGE-PROXY] evict failed",
			"key", cacheKey,
			"error", err,
		)
	}
}
