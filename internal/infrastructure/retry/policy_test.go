package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedSleeps []time.Duration

func (r *recordedSleeps) sleep(d time.Duration) { *r = append(*r, d) }

func TestBackoff(t *testing.T) {
	p := NewPolicy(DefaultConfig())
	assert.Equal(t, 4*time.Second, p.Backoff(1))
	assert.Equal(t, 8*time.Second, p.Backoff(2))
	assert.Equal(t, 16*time.Second, p.Backoff(3))
	assert.Equal(t, 32*time.Second, p.Backoff(4))
	assert.Equal(t, 60*time.Second, p.Backoff(5))
	assert.Equal(t, 60*time.Second, p.Backoff(50))
	assert.Equal(t, 4*time.Second, p.Backoff(0))
}

func TestNewPolicyDefaults(t *testing.T) {
	p := NewPolicy(Config{})
	assert.Equal(t, DefaultConfig(), p.Config())

	p = NewPolicy(Config{MaxAttempts: 2, BaseDelay: time.Minute, MaxDelay: time.Second})
	assert.Equal(t, time.Minute, p.Config().MaxDelay)
}

func TestClassifyIngestionError(t *testing.T) {
	assert.Equal(t, ClassTransient, ClassifyIngestionError(ingestion.ErrTimeout))
	assert.Equal(t, ClassTransient, ClassifyIngestionError(fmt.Errorf("x: %w", ingestion.ErrNetwork)))
	assert.Equal(t, ClassTerminal, ClassifyIngestionError(ingestion.ErrAPIFormat))
	assert.Equal(t, ClassTerminal, ClassifyIngestionError(ingestion.ErrConversion))
	assert.Equal(t, ClassUnknown, ClassifyIngestionError(errors.New("boom")))
	assert.Equal(t, "transient", ClassTransient.String())
	assert.Equal(t, "unknown", ClassUnknown.String())
}

func TestPolicyDo(t *testing.T) {
	ctx := context.Background()

	t.Run("k transient failures then success", func(t *testing.T) {
		for k := 0; k < 3; k++ {
			var sleeps recordedSleeps
			p := NewPolicy(DefaultConfig(), WithSleep(sleeps.sleep))

			calls := 0
			retries, err := p.Do(ctx, func(_ context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= k {
					return ingestion.ErrTimeout
				}
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, k, retries)
			assert.Equal(t, k+1, calls)
			assert.Len(t, sleeps, k)
		}
	})

	t.Run("exhausted after max attempts", func(t *testing.T) {
		var sleeps recordedSleeps
		p := NewPolicy(DefaultConfig(), WithSleep(sleeps.sleep))

		calls := 0
		retries, err := p.Do(ctx, func(context.Context, int) error {
			calls++
			return fmt.Errorf("dial tcp: %w", ingestion.ErrNetwork)
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, ingestion.ErrNetwork)
		assert.Equal(t, ingestion.CategoryNetwork, ingestion.CategoryOf(err))
		assert.Equal(t, 3, retries)
		assert.Equal(t, 3, calls)
		assert.Equal(t, recordedSleeps{4 * time.Second, 8 * time.Second}, sleeps)
	})

	t.Run("terminal error is not retried", func(t *testing.T) {
		var sleeps recordedSleeps
		p := NewPolicy(DefaultConfig(), WithSleep(sleeps.sleep))

		calls := 0
		retries, err := p.Do(ctx, func(context.Context, int) error {
			calls++
			return ingestion.ErrAPIFormat
		})
		assert.ErrorIs(t, err, ingestion.ErrAPIFormat)
		assert.NotErrorIs(t, err, ErrRetriesExhausted)
		assert.Zero(t, retries)
		assert.Equal(t, 1, calls)
		assert.Empty(t, sleeps)
	})

	t.Run("unknown error is not retried", func(t *testing.T) {
		p := NewPolicy(DefaultConfig(), WithSleep(func(time.Duration) { t.Fatal("unexpected sleep") }))
		retries, err := p.Do(ctx, func(context.Context, int) error { return errors.New("boom") })
		assert.EqualError(t, err, "boom")
		assert.Zero(t, retries)
	})

	t.Run("backoff completes even when ctx is cancelled", func(t *testing.T) {
		var sleeps recordedSleeps
		p := NewPolicy(Config{MaxAttempts: 2}, WithSleep(sleeps.sleep))
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		calls := 0
		retries, err := p.Do(cctx, func(context.Context, int) error {
			calls++
			if calls == 1 {
				return ingestion.ErrTimeout
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, retries)
		assert.Len(t, sleeps, 1)
	})

	t.Run("custom classifier", func(t *testing.T) {
		errFlaky := errors.New("flaky")
		p := NewPolicy(Config{MaxAttempts: 5, BaseDelay: time.Millisecond},
			WithSleep(func(time.Duration) {}),
			WithClassifier(func(err error) Class {
				if errors.Is(err, errFlaky) {
					return ClassTransient
				}
				return ClassTerminal
			}))

		retries, err := p.Do(ctx, func(context.Context, int) error { return errFlaky })
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 5, retries)
	})
}
