package workerpool

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pairlink.org/internal/errorbehavior"
)

var flagDebugLogs = flag.Bool("debug", false, "Enable debug logs")

func TestPoolCorrectness(t *testing.T) {
	p, err := NewPool(5, Retries(1), RetryDelay(time.Millisecond), LoggerInfo(loggerIfDebugEnabled()), LoggerDebug(loggerIfDebugEnabled()))
	require.NoError(t, err)

	const submittedCount = 100
	var mu sync.Mutex
	seen := make(map[int]int, submittedCount)
	for i := 0; i < submittedCount; i++ {
		i := i
		err := p.Submit(context.Background(), func(ctx context.Context, attempt int) error {
			// fail the first attempt only
			if attempt == 0 {
				return errorbehavior.WrapRetryable(errors.New("failed"))
			}
			mu.Lock()
			seen[i]++
			mu.Unlock()
			return nil
		}, nil)
		require.NoError(t, err)
	}
	p.StopAndWait()

	require.Len(t, seen, submittedCount)
	for i, n := range seen {
		assert.Equal(t, 1, n, "job %d", i)
	}
}

func TestPoolDoesNotRetryPermanentErrors(t *testing.T) {
	p, err := NewPool(2, Retries(3), RetryDelay(time.Millisecond))
	require.NoError(t, err)

	var attempts int32
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		return errorbehavior.WrapNonRetryable(errors.New("refused"))
	}, nil))
	p.StopAndWait()
	assert.EqualValues(t, 1, attempts)
}

func TestPoolStopsRetryingCancelledJobs(t *testing.T) {
	p, err := NewPool(1, Retries(5), RetryDelay(time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var attempts int32
	require.NoError(t, p.Submit(ctx, func(ctx context.Context, attempt int) error {
		atomic.AddInt32(&attempts, 1)
		cancel()
		return errorbehavior.WrapRetryable(errors.New("connection reset"))
	}, nil))
	p.StopAndWait()
	assert.EqualValues(t, 1, attempts)
}

func TestPoolLimitsConcurrency(t *testing.T) {
	const maxWorkers = 3
	p, err := NewPool(maxWorkers)
	require.NoError(t, err)

	var running, peak int32
	for i := 0; i < 30; i++ {
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context, attempt int) error {
			n := atomic.AddInt32(&running, 1)
			for {
				old := atomic.LoadInt32(&peak)
				if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&running, -1)
			return nil
		}, nil))
	}
	p.StopAndWait()
	assert.LessOrEqual(t, peak, int32(maxWorkers))
	assert.Greater(t, peak, int32(0))
}

func TestPoolRejectsAfterStop(t *testing.T) {
	p, err := NewPool(1)
	require.NoError(t, err)
	p.StopAndWait()

	err = p.Submit(context.Background(), func(ctx context.Context, attempt int) error { return nil }, nil)
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestPoolIdleWorkersExit(t *testing.T) {
	p, err := NewPool(2, IdleTimeout(5*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context, attempt int) error { return nil }, nil))
	assert.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.workers == 0
	}, time.Second, time.Millisecond)

	var ran int32
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context, attempt int) error {
		atomic.StoreInt32(&ran, 1)
		return nil
	}, nil))
	p.StopAndWait()
	assert.EqualValues(t, 1, ran)
}

func TestNewPoolConfigErrors(t *testing.T) {
	_, err := NewPool(0)
	assert.Error(t, err)
	_, err = NewPool(1, Retries(-1))
	assert.Error(t, err)
	_, err = NewPool(1, IdleTimeout(0))
	assert.Error(t, err)
}

func loggerIfDebugEnabled() *log.Logger {
	if *flagDebugLogs {
		return log.New(os.Stdout, "[DEBUG] ", log.LstdFlags|log.Lmsgprefix)
	}
	return nil
}

func TestPoolReportsLastAttempt(t *testing.T) {
	p, err := NewPool(1, Retries(2), RetryDelay(time.Millisecond))
	require.NoError(t, err)

	var results []error
	var attempts []int
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context, attempt int) error {
		attempts = append(attempts, attempt)
		return errorbehavior.WrapRetryable(errors.New("timeout"))
	}, func(err error) {
		results = append(results, err)
	}))
	p.StopAndWait()

	assert.Equal(t, []int{0, 1, 2}, attempts)
	require.Len(t, results, 1)
	assert.True(t, errorbehavior.IsRetryable(results[0]))
}
