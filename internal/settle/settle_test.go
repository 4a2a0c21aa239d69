package settle

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUntilImmediate(t *testing.T) {
	calls := 0
	err := Until(context.Background(), 10*time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return true, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestUntilEventually(t *testing.T) {
	calls := 0
	err := Until(context.Background(), 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
		calls++
		return calls >= 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestUntilTimeoutKeepsLastError(t *testing.T) {
	errMissing := errors.New("selector missing")
	err := Until(context.Background(), 5*time.Millisecond, 30*time.Millisecond, func(context.Context) (bool, error) {
		return false, errMissing
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, errMissing)
}

func TestUntilContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Until(ctx, 5*time.Millisecond, time.Second, func(context.Context) (bool, error) {
		return false, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStable(t *testing.T) {
	values := []string{"", "Canada", "Canada", "Mexico"}
	i := 0
	got, err := Stable(context.Background(), time.Millisecond, time.Second, func(context.Context) (string, error) {
		v := values[i]
		if i < len(values)-1 {
			i++
		}
		return v, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Canada", got)
}

func TestStableBudgetExhausted(t *testing.T) {
	n := 0
	got, err := Stable(context.Background(), time.Millisecond, 10*time.Millisecond, func(context.Context) (int, error) {
		n++
		return n, nil
	})
	require.NoError(t, err)
	assert.Greater(t, got, 1)
}

func TestStableReadError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Stable(context.Background(), time.Millisecond, time.Second, func(context.Context) (int, error) {
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestSleep(t *testing.T) {
	assert.NoError(t, Sleep(context.Background(), 0))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}
