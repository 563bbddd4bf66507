// Package ratelimit bounds the rate of outbound provider calls.
//
// A single Limiter is shared by a whole ingestion run so the configured
// ceiling of N calls per rolling window T applies to the batch as a whole,
// matching per-account provider quotas. Acquire blocks until a call is
// allowed; calls are never dropped.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Strategy defines the rate limiter algorithm.
type Strategy string

const (
	// StrategySlidingWindow keeps a log of call timestamps (default).
	StrategySlidingWindow Strategy = "sliding_window"
	// StrategyTokenBucket uses golang.org/x/time/rate with a refill of N/T.
	StrategyTokenBucket Strategy = "token_bucket"
)

// ErrInvalidConfig is returned for a non-positive call count or window.
var ErrInvalidConfig = errors.New("ratelimit: calls and window must be positive")

// Limiter defines the interface for rate limiting strategies.
//
// Thread Safety: Implementations must be safe for concurrent use by multiple goroutines.
type Limiter interface {
	// Acquire blocks until a call slot is available or ctx is done.
	Acquire(ctx context.Context) error
	Stats() Stats
}

// Stats contains statistics about limiter usage.
type Stats struct {
	TotalAcquired int64
	TotalWaited   int64
	TotalWaitTime time.Duration
	AvgWaitTime   time.Duration
}

// Config holds the limiter ceiling.
type Config struct {
	Calls    int
	Window   time.Duration
	Strategy Strategy
	// Burst only applies to the token bucket; defaults to 1.
	Burst int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Calls <= 0 || c.Window <= 0 {
		return ErrInvalidConfig
	}
	switch c.Strategy {
	case "", StrategySlidingWindow, StrategyTokenBucket:
		return nil
	default:
		return fmt.Errorf("ratelimit: unknown strategy %q", c.Strategy)
	}
}

// Clock abstracts time so tests can run without sleeping.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Option configures a limiter.
type Option func(*options)

type options struct {
	clock  Clock
	logger *zap.Logger
}

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used to report waits.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New creates a limiter for the configured strategy.
func New(cfg Config, opts ...Option) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{clock: realClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Strategy == StrategyTokenBucket {
		return newTokenBucket(cfg, o), nil
	}
	return newSlidingWindow(cfg, o), nil
}

type counters struct {
	totalAcquired atomic.Int64
	totalWaitTime atomic.Int64 // in nanoseconds
	waitCount     atomic.Int64
}

func (c *counters) acquired(waited time.Duration) {
	c.totalAcquired.Add(1)
	if waited > 0 {
		c.totalWaitTime.Add(int64(waited))
		c.waitCount.Add(1)
	}
}

func (c *counters) stats() Stats {
	s := Stats{
		TotalAcquired: c.totalAcquired.Load(),
		TotalWaited:   c.waitCount.Load(),
		TotalWaitTime: time.Duration(c.totalWaitTime.Load()),
	}
	if s.TotalWaited > 0 {
		s.AvgWaitTime = s.TotalWaitTime / time.Duration(s.TotalWaited)
	}
	return s
}

// SlidingWindowLimiter admits at most Calls calls in any window of length Window.
//
// Thread Safety: Safe for concurrent use.
type SlidingWindowLimiter struct {
	maxCalls   int
	window     time.Duration
	timestamps []time.Time
	mu         sync.Mutex
	clock      Clock
	logger     *zap.Logger
	counters
}

func newSlidingWindow(cfg Config, o options) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		maxCalls:   cfg.Calls,
		window:     cfg.Window,
		timestamps: make([]time.Time, 0, cfg.Calls),
		clock:      o.clock,
		logger:     o.logger,
	}
}

// Acquire blocks until the oldest call in the window expires, if needed.
func (l *SlidingWindowLimiter) Acquire(ctx context.Context) error {
	start := l.clock.Now()

	for {
		wait, ok := l.reserve()
		if ok {
			l.acquired(l.clock.Now().Sub(start))
			return nil
		}

		l.logger.Debug("Rate limit reached, waiting",
			zap.Int("max_calls", l.maxCalls),
			zap.Duration("window", l.window),
			zap.Duration("wait", wait),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.clock.After(wait):
		}
	}
}

// Stats returns current statistics.
func (l *SlidingWindowLimiter) Stats() Stats {
	return l.stats()
}

// reserve records a call if the window has room, otherwise it returns how long
// until the oldest call leaves the window.
func (l *SlidingWindowLimiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	windowStart := now.Add(-l.window)

	validIdx := 0
	for _, ts := range l.timestamps {
		if ts.After(windowStart) {
			break
		}
		validIdx++
	}
	if validIdx > 0 {
		l.timestamps = l.timestamps[validIdx:]
	}

	if len(l.timestamps) < l.maxCalls {
		l.timestamps = append(l.timestamps, now)
		return 0, true
	}

	wait := l.timestamps[0].Add(l.window).Sub(now)
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait, false
}

// TokenBucketLimiter refills one token every Window/Calls.
//
// Thread Safety: Safe for concurrent use.
type TokenBucketLimiter struct {
	limiter *rate.Limiter
	clock   Clock
	logger  *zap.Logger
	counters
}

func newTokenBucket(cfg Config, o options) *TokenBucketLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	if burst > cfg.Calls {
		burst = cfg.Calls
	}
	every := cfg.Window / time.Duration(cfg.Calls)
	return &TokenBucketLimiter{
		limiter: rate.NewLimiter(rate.Every(every), burst),
		clock:   o.clock,
		logger:  o.logger,
	}
}

// Acquire reserves a token and waits for it to become available.
func (l *TokenBucketLimiter) Acquire(ctx context.Context) error {
	now := l.clock.Now()
	r := l.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("ratelimit: reservation exceeds burst")
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		l.acquired(0)
		return nil
	}

	l.logger.Debug("Rate limit reached, waiting", zap.Duration("wait", delay))

	select {
	case <-ctx.Done():
		r.CancelAt(l.clock.Now())
		return ctx.Err()
	case <-l.clock.After(delay):
		l.acquired(delay)
		return nil
	}
}

// Stats returns current statistics.
func (l *TokenBucketLimiter) Stats() Stats {
	return l.stats()
}
