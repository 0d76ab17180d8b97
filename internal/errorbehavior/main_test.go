package errorbehavior

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	base := errors.New("dial failed")

	assert.False(t, IsRetryable(base))
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(WrapRetryable(base)))
	assert.True(t, IsRetryable(fmt.Errorf("open payload: %w", WrapRetryable(base))))
	assert.False(t, IsRetryable(WrapNonRetryable(WrapRetryable(base))))
	assert.ErrorIs(t, WrapRetryable(base), base)
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, WrapRetryable(nil))
	assert.Nil(t, WrapNonRetryable(nil))
}

func TestIsCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.True(t, IsCancelled(ctx.Err()))
	assert.True(t, IsCancelled(fmt.Errorf("copy: %w", ctx.Err())))
	assert.False(t, IsCancelled(context.DeadlineExceeded))
	assert.False(t, IsCancelled(errors.New("broken pipe")))
}
