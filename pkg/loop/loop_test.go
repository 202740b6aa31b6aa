package loop

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStart_CountsUntilBreak(t *testing.T) {
	got, err := Start(context.Background(), 1, func(_ context.Context, v int) (int, Next) {
		v++
		if v >= 10 {
			return v, Break(nil)
		}
		return v, Continue(0)
	})
	require.NoError(t, err)
	assert.Equal(t, 10, got)
}

func TestStart_BreakWithError(t *testing.T) {
	errStop := errors.New("stop")
	got, err := Start(context.Background(), "a", func(_ context.Context, v string) (string, Next) {
		return v + "b", Break(errStop)
	})
	assert.ErrorIs(t, err, errStop)
	assert.Equal(t, "ab", got)
}

func TestStart_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	runs := 0
	_, err := Start(ctx, 0, func(_ context.Context, v int) (int, Next) {
		runs++
		cancel()
		return v, Continue(time.Hour)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, runs)
}

func TestStart_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := Start(ctx, 7, func(_ context.Context, v int) (int, Next) {
		t.Fatal("task must not run")
		return v, Break(nil)
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 7, got)
}

func TestStart_WithTimeout(t *testing.T) {
	_, err := Start(context.Background(), 0, func(ctx context.Context, v int) (int, Next) {
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(time.Second), deadline, 500*time.Millisecond)
		return v, Break(nil)
	}, WithTimeout(time.Second))
	require.NoError(t, err)
}

func TestStart_WithRecover(t *testing.T) {
	var recovered []any
	got, err := Start(context.Background(), 0, func(_ context.Context, v int) (int, Next) {
		if v == 0 {
			panic("tick exploded")
		}
		return v, Break(nil)
	}, WithRecover(func(r any) Next {
		recovered = append(recovered, r)
		return Break(nil)
	}))
	require.NoError(t, err)
	assert.Equal(t, 0, got)
	assert.Equal(t, []any{"tick exploded"}, recovered)
}
