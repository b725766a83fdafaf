// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ratelimit gates outbound calls to external APIs with a named
// token-bucket limiter and a fair FIFO wait queue, so a burst of concurrent
// callers drains in arrival order instead of stampeding the bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config describes the token-bucket capacity for a single named upstream.
// Capacity tokens refill per second, continuously (rate.Limiter); refills
// are not aligned to wall-clock second boundaries.
type Config struct {
	Capacity int
}

// DefaultConfig is used for any name the caller never explicitly configured.
var DefaultConfig = Config{Capacity: 1}

type bucket struct {
	limiter *rate.Limiter
	mu      sync.Mutex
	waiters []chan struct{}
}

// Limiter holds one token bucket per named upstream.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	configs map[string]Config
	logger  zerolog.Logger
}

// New creates a Limiter with per-name capacities. Names absent from configs
// fall back to DefaultConfig.
func New(configs map[string]Config) *Limiter {
	if configs == nil {
		configs = map[string]Config{}
	}
	return &Limiter{
		buckets: make(map[string]*bucket),
		configs: configs,
		logger:  log.WithComponent("ratelimit"),
	}
}

func (l *Limiter) bucketFor(name string) *bucket {
	l.mu.RLock()
	b, ok := l.buckets[name]
	l.mu.RUnlock()
	if ok {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[name]; ok {
		return b
	}

	cfg, ok := l.configs[name]
	if !ok {
		cfg = DefaultConfig
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}
	b = &bucket{limiter: rate.NewLimiter(rate.Limit(capacity), capacity)}
	l.buckets[name] = b
	return b
}

// Acquire blocks until a token for name is available, or ctx is cancelled.
// Callers queue in FIFO order: a caller that arrives while the bucket is
// empty waits behind every caller that arrived before it, so a burst of
// concurrent callers drains smoothly instead of racing each other for the
// next refill. Acquire never fails except on ctx cancellation.
func (l *Limiter) Acquire(ctx context.Context, name string) error {
	b := l.bucketFor(name)

	my := make(chan struct{})
	b.mu.Lock()
	queueDepth := len(b.waiters)
	b.waiters = append(b.waiters, my)
	first := len(b.waiters) == 1
	b.mu.Unlock()
	metrics.RateLimiterWaitDepth.WithLabelValues(name).Set(float64(queueDepth + 1))

	if queueDepth > 0 {
		l.logger.Debug().Str("name", name).Int("queue_depth", queueDepth).Msg("waiting for rate limit token")
	}
	waited := queueDepth > 0

	if !first {
		// Wait for our turn: the waiter ahead of us closes our channel once
		// it has been dequeued and has taken its token.
		select {
		case <-my:
		case <-ctx.Done():
			l.dequeue(b, my)
			metrics.RateLimiterWaitDepth.WithLabelValues(name).Set(float64(len(b.waiters)))
			return ctx.Err()
		}
	}

	if err := b.limiter.Wait(ctx); err != nil {
		l.dequeue(b, my)
		metrics.RateLimiterWaitDepth.WithLabelValues(name).Set(float64(len(b.waiters)))
		return err
	}

	l.advanceQueue(b, my)
	metrics.RateLimiterWaitDepth.WithLabelValues(name).Set(float64(len(b.waiters)))
	metrics.RecordRateLimiterToken(name, waited)
	return nil
}

// dequeue removes ch from the wait list without advancing the queue; used
// when a waiter gives up due to context cancellation.
func (l *Limiter) dequeue(b *bucket, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			if i < len(b.waiters) {
				close(b.waiters[i])
			}
			return
		}
	}
}

// advanceQueue removes the head waiter (which must be ch) and wakes the next.
func (l *Limiter) advanceQueue(b *bucket, ch chan struct{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.waiters) == 0 || b.waiters[0] != ch {
		return
	}
	b.waiters = b.waiters[1:]
	if len(b.waiters) > 0 {
		close(b.waiters[0])
	}
}

// Reject records an upstream 429 for name: the bucket is zeroed out so
// subsequent callers back off immediately, and the caller is expected to
// additionally retry externally with exponential backoff (2s, 4s, 8s,
// capped at 3 retries) per the error-handling policy.
func (l *Limiter) Reject(name string) {
	b := l.bucketFor(name)
	b.limiter.ReserveN(time.Now(), b.limiter.Burst())
	l.logger.Warn().Str("name", name).Msg("upstream 429: zeroing rate limit bucket")
}

// Backoff computes the exponential backoff delay for the given retry
// attempt (1-indexed), capped at 3 retries: 2s, 4s, 8s.
func Backoff(attempt int) time.Duration {
	switch {
	case attempt <= 1:
		return 2 * time.Second
	case attempt == 2:
		return 4 * time.Second
	default:
		return 8 * time.Second
	}
}
