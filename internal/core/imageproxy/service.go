// Package imageproxy provides a cache-coalescing image transcoding proxy.
// It fetches images from allow-listed origins, transcodes them to WebP and
// serves them through a store shared by every worker, so that identical
// concurrent requests trigger at most one origin fetch and one transcode.
//
// The package implements a layered architecture:
//   - Validator: Normalizes origin URLs, enforces the allow list, resolves dimensions
//   - Store: Shared TTL key/value store (cache entries and locks)
//   - Lock: Advisory lock on Store.SetIfAbsent with a bounded wait protocol
//   - Fetcher: Streams origin bodies under a deadline and a byte cap
//   - Processor: Decodes, resizes and encodes to WebP under a pixel ceiling
//   - Service: Runs the per-request state machine over all of the above
//
// When the store is unreachable the service runs in degraded mode: no cache
// reads or writes, no locking, and responses are marked non-cacheable.
package imageproxy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// CacheStatus tells which path produced a response.
type CacheStatus string

const (
	// StatusHit is a direct cache hit.
	StatusHit CacheStatus = "HIT"
	// StatusHitWait is a hit observed while polling on another worker's lock.
	StatusHitWait CacheStatus = "HIT-WAIT"
	// StatusHitAfterWait is a hit found by the final read after the retry acquire failed.
	StatusHitAfterWait CacheStatus = "HIT-AFTER-WAIT"
	// StatusMissLock is a fresh transcode produced by the lock holder.
	StatusMissLock CacheStatus = "MISS-LOCK"
	// StatusMiss is a fresh transcode produced without coordination because
	// the store failed while locking.
	StatusMiss CacheStatus = "MISS"
	// StatusMissNoStore is a fresh transcode produced in degraded mode.
	StatusMissNoStore CacheStatus = "MISS-NO-REDIS"
	// StatusSkipNoStore marks degraded-mode responses that did not produce an image.
	StatusSkipNoStore CacheStatus = "SKIP-NO-REDIS"
)

// Result is the outcome of a proxy call. On error only Status may be set.
type Result struct {
	Data      []byte
	Status    CacheStatus
	Cacheable bool
}

// Service defines the interface for the image proxy service.
type Service interface {
	// GetImage validates the request and returns the transcoded image,
	// from cache when possible.
	GetImage(ctx context.Context, req OriginRequest) (Result, error)
}

// ImageProxyService implements Service.
type ImageProxyService struct {
	validator *Validator
	store     Store
	lock      *Lock
	fetcher   Fetcher
	processor Processor
	config    Config
	logger    *slog.Logger
	recorder  Recorder
}

// Option customizes an ImageProxyService.
type Option func(*ImageProxyService)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *ImageProxyService) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder. Defaults to NoopRecorder.
func WithRecorder(recorder Recorder) Option {
	return func(s *ImageProxyService) {
		if recorder != nil {
			s.recorder = recorder
		}
	}
}

// NewService creates a new ImageProxyService. store may be nil, in which case
// every request is served in degraded mode.
// Returns an error if fetcher or processor is nil or the config is invalid.
func NewService(store Store, fetcher Fetcher, processor Processor, config Config, opts ...Option) (*ImageProxyService, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("%w: fetcher", ErrNilDependency)
	}
	if processor == nil {
		return nil, fmt.Errorf("%w: processor", ErrNilDependency)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	validator, err := NewValidator(config.AllowList)
	if err != nil {
		return nil, err
	}

	s := &ImageProxyService{
		validator: validator,
		store:     store,
		fetcher:   fetcher,
		processor: processor,
		config:    config,
		logger:    slog.Default(),
		recorder:  NoopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if store != nil {
		s.lock = NewLock(store, config.LockTTL, config.LockWaitTimeout, config.PollInterval, s.logger)
	}
	return s, nil
}

// GetImage runs the per-request state machine:
//  1. Validate and derive the cache key
//  2. Cache check; a hit is served directly
//  3. Acquire the lock; the holder fetches, transcodes, stores and releases
//  4. Otherwise poll the cache until it is filled or the wait times out
//  5. After a timeout, try the lock once more; failing that, read the cache a
//     last time and give up with ErrLockWaitTimeout
//
// Store failures at any step switch the request to uncoordinated production.
func (s *ImageProxyService) GetImage(ctx context.Context, req OriginRequest) (Result, error) {
	target, err := s.validator.Validate(req)
	if err != nil {
		s.logger.Warn("[IMAGE-PROXY] rejected request",
			"url", req.RawURL,
			"error", err,
		)
		return Result{}, err
	}
	cacheKey := CacheKey(target)

	if s.store == nil {
		return s.produceUncoordinated(ctx, target, StatusMissNoStore, StatusSkipNoStore)
	}

	data, found, err := s.readArtifact(ctx, cacheKey)
	if err != nil {
		s.logger.Error("[IMAGE-PROXY] cache read failed, serving without cache",
			"key", cacheKey,
			"error", err,
		)
		return s.produceUncoordinated(ctx, target, StatusMissNoStore, StatusSkipNoStore)
	}
	if found {
		s.logger.Debug("[IMAGE-PROXY] cache hit", "key", cacheKey)
		return s.hit(data, StatusHit), nil
	}

	lockKey := LockKey(cacheKey)
	acquired, err := s.lock.Acquire(ctx, lockKey)
	if err != nil {
		s.logger.Error("[IMAGE-PROXY] lock acquire failed, serving without coordination",
			"key", cacheKey,
			"error", err,
		)
		return s.produceUncoordinated(ctx, target, StatusMiss, "")
	}

	if !acquired {
		s.logger.Info("[IMAGE-PROXY] waiting on lock", "key", cacheKey)
		waitStart := time.Now()
		if data, ok := s.lock.AwaitArtifact(ctx, cacheKey, IsWebP); ok {
			s.recorder.ObserveLockWait("filled", time.Since(waitStart).Seconds())
			s.logger.Info("[IMAGE-PROXY] cache filled while waiting", "key", cacheKey)
			return s.hit(data, StatusHitWait), nil
		}
		s.recorder.ObserveLockWait("timeout", time.Since(waitStart).Seconds())

		acquired, err = s.lock.Acquire(ctx, lockKey)
		if err != nil {
			s.logger.Error("[IMAGE-PROXY] lock retry failed, serving without coordination",
				"key", cacheKey,
				"error", err,
			)
			return s.produceUncoordinated(ctx, target, StatusMiss, "")
		}
		if !acquired {
			if data, found, err := s.readArtifact(ctx, cacheKey); err == nil && found {
				s.logger.Debug("[IMAGE-PROXY] cache hit after wait", "key", cacheKey)
				return s.hit(data, StatusHitAfterWait), nil
			}
			s.logger.Warn("[IMAGE-PROXY] lock wait timeout; not owner", "key", cacheKey)
			return Result{}, fmt.Errorf("%w: waited %v for %s", ErrLockWaitTimeout, s.config.LockWaitTimeout, cacheKey)
		}
	}

	return s.produceAsHolder(ctx, target, cacheKey, lockKey)
}

// produceAsHolder runs fetch and transcode while holding the lock. The lock is
// released on every path, after the artifact has been stored.
func (s *ImageProxyService) produceAsHolder(ctx context.Context, target NormalizedTarget, cacheKey, lockKey string) (Result, error) {
	defer s.lock.Release(ctx, lockKey)

	data, err := s.transcode(ctx, target)
	if err != nil {
		return Result{}, err
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := s.store.SetWithTTL(storeCtx, cacheKey, data, s.config.CacheTTL); err != nil {
		s.logger.Error("[IMAGE-PROXY] cache set failed",
			"key", cacheKey,
			"error", err,
		)
	} else {
		s.logger.Info("[IMAGE-PROXY] cache set",
			"key", cacheKey,
			"ttl", s.config.CacheTTL,
		)
	}

	s.recorder.IncCacheStatus(StatusMissLock)
	return Result{Data: data, Status: StatusMissLock, Cacheable: true}, nil
}

// produceUncoordinated fetches and transcodes without touching the store.
// errStatus is reported alongside a failure.
func (s *ImageProxyService) produceUncoordinated(ctx context.Context, target NormalizedTarget, status, errStatus CacheStatus) (Result, error) {
	data, err := s.transcode(ctx, target)
	if err != nil {
		return Result{Status: errStatus}, err
	}
	s.recorder.IncCacheStatus(status)
	return Result{Data: data, Status: status, Cacheable: false}, nil
}

// transcode streams the origin through the processor and enforces the output cap.
func (s *ImageProxyService) transcode(ctx context.Context, target NormalizedTarget) ([]byte, error) {
	origin := target.URL.String()
	s.logger.Info("[IMAGE-PROXY] cache miss, fetching", "url", origin)

	fetchStart := time.Now()
	body, err := s.fetcher.Fetch(ctx, target)
	s.recorder.ObserveFetch(fetchOutcome(err), time.Since(fetchStart).Seconds())
	if err != nil {
		s.logFailure(origin, err)
		return nil, err
	}
	defer body.Close()

	start := time.Now()
	data, err := s.processor.Process(body, Dimensions{Width: target.Width, Height: target.Height})
	if err != nil {
		err = body.Classify(err)
		s.logFailure(origin, err)
		return nil, err
	}
	s.recorder.ObserveTranscode(time.Since(start).Seconds(), len(data))

	if int64(len(data)) > s.config.MaxOutputBytes {
		err := fmt.Errorf("%w: %d > %d bytes", ErrOutputTooLarge, len(data), s.config.MaxOutputBytes)
		s.logFailure(origin, err)
		return nil, err
	}

	s.logger.Info("[IMAGE-PROXY] image processed",
		"url", origin,
		"width", target.Width,
		"height", target.Height,
		"source_bytes", body.BytesRead(),
		"size_bytes", len(data),
	)
	return data, nil
}

// readArtifact reads a cached image, evicting values that fail the signature check.
func (s *ImageProxyService) readArtifact(ctx context.Context, cacheKey string) ([]byte, bool, error) {
	data, found, err := s.store.Get(ctx, cacheKey)
	if err != nil || !found {
		return nil, false, err
	}
	if !IsWebP(data) {
		evict(ctx, s.store, cacheKey, s.logger)
		return nil, false, nil
	}
	return data, true, nil
}

func (s *ImageProxyService) hit(data []byte, status CacheStatus) Result {
	s.recorder.IncCacheStatus(status)
	return Result{Data: data, Status: status, Cacheable: true}
}

func (s *ImageProxyService) logFailure(origin string, err error) {
	switch {
	case errors.Is(err, ErrOriginTooLarge), errors.Is(err, ErrOutputTooLarge),
		errors.Is(err, ErrPixelLimitExceeded), errors.Is(err, ErrOriginTimeout):
		s.logger.Warn("[IMAGE-PROXY] origin rejected", "url", origin, "error", err)
	default:
		s.logger.Error("[IMAGE-PROXY] origin fetch error", "url", origin, "error", err)
	}
}

func fetchOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrOriginTimeout):
		return "timeout"
	case errors.Is(err, ErrOriginTooLarge):
		return "too_large"
	default:
		return "failed"
	}
}
