// Package retry implements the bounded retry policy used around provider calls.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"go.uber.org/zap"
)

// ErrRetriesExhausted wraps the last transient error once every attempt failed.
var ErrRetriesExhausted = errors.New("retry: attempts exhausted")

// Class is the retry classification of an error
type Class int

const (
	// ClassUnknown errors are not retried and surface as unexpected failures.
	ClassUnknown Class = iota
	// ClassTransient errors (network, timeout) are retried.
	ClassTransient
	// ClassTerminal errors propagate immediately.
	ClassTerminal
)

// String returns the string representation of Class
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Classifier maps an error to a Class.
type Classifier func(err error) Class

// ClassifyIngestionError classifies by the ingestion error taxonomy.
func ClassifyIngestionError(err error) Class {
	switch category := ingestion.CategoryOf(err); {
	case category.IsTransient():
		return ClassTransient
	case category == ingestion.CategoryUnexpected:
		return ClassUnknown
	default:
		return ClassTerminal
	}
}

// Config holds the policy bounds.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultConfig returns the reference bounds: 3 attempts, 4s base, 60s cap.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		BaseDelay:   4 * time.Second,
		MaxDelay:    60 * time.Second,
	}
}

// Policy retries transient failures with capped exponential backoff.
// It is immutable after construction and safe to share.
type Policy struct {
	cfg      Config
	classify Classifier
	sleep    func(time.Duration)
	logger   *zap.Logger
}

// Option configures a Policy.
type Option func(*Policy)

// WithClassifier replaces the default classifier.
func WithClassifier(c Classifier) Option {
	return func(p *Policy) { p.classify = c }
}

// WithSleep replaces time.Sleep, mainly for tests.
func WithSleep(sleep func(time.Duration)) Option {
	return func(p *Policy) { p.sleep = sleep }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Policy) { p.logger = l }
}

// NewPolicy creates a policy. Non-positive bounds fall back to DefaultConfig values.
func NewPolicy(cfg Config, opts ...Option) *Policy {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = def.MaxDelay
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}

	p := &Policy{
		cfg:      cfg,
		classify: ClassifyIngestionError,
		sleep:    time.Sleep,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Config returns the effective bounds.
func (p *Policy) Config() Config {
	return p.cfg
}

// Classify returns the class of err.
func (p *Policy) Classify(err error) Class {
	return p.classify(err)
}

// Backoff returns the delay after the n-th failed attempt (n >= 1):
// BaseDelay * 2^(n-1), capped at MaxDelay.
func (p *Policy) Backoff(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := p.cfg.BaseDelay
	for i := 1; i < n; i++ {
		d *= 2
		if d >= p.cfg.MaxDelay {
			return p.cfg.MaxDelay
		}
	}
	return min(d, p.cfg.MaxDelay)
}

// Do runs op until it succeeds, fails with a non-transient error, or
// MaxAttempts attempts have been made. It returns the number of failed
// transient attempts. Backoff sleeps do not observe ctx; ctx is only handed
// to op.
func (p *Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) (int, error) {
	retries := 0
	for attempt := 1; ; attempt++ {
		err := op(ctx, attempt)
		if err == nil {
			return retries, nil
		}

		class := p.classify(err)
		if class != ClassTransient {
			return retries, err
		}
		retries++

		if attempt >= p.cfg.MaxAttempts {
			p.logger.Warn("Retry attempts exhausted",
				zap.Int("attempts", attempt),
				zap.Error(err),
			)
			return retries, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		delay := p.Backoff(attempt)
		p.logger.Info("Transient failure, backing off",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.MaxAttempts),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		p.sleep(delay)
	}
}
