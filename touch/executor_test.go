package touch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_QueueFull(t *testing.T) {
	e := NewExecutor(1, 1, nil)
	defer e.Close()

	started := make(chan struct{})
	unblock := make(chan struct{})
	require.NoError(t, e.Submit("blocking", func(ctx context.Context) {
		close(started)
		<-unblock
	}))
	<-started

	ran := make(chan string, 2)
	require.NoError(t, e.Submit("queued", func(context.Context) { ran <- "queued" }))
	assert.ErrorIs(t, e.Submit("overflow", func(context.Context) { ran <- "overflow" }), ErrQueueFull)

	close(unblock)
	select {
	case name := <-ran:
		assert.Equal(t, "queued", name)
	case <-time.After(time.Second):
		t.Fatal("queued task did not run")
	}
}

func TestExecutor_CloseCancelsRunningTask(t *testing.T) {
	e := NewExecutor(2, 4, nil)
	started := make(chan struct{})
	cancelled := make(chan error, 1)
	require.NoError(t, e.Submit("long", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled <- ctx.Err()
	}))
	<-started

	e.Close()
	assert.ErrorIs(t, <-cancelled, context.Canceled)
	assert.ErrorIs(t, e.Submit("late", func(context.Context) {}), ErrClosed)
	e.Close()
}

func TestRetry(t *testing.T) {
	errFlaky := errors.New("flaky")
	tests := []struct {
		name     string
		retries  int
		failures int
		perm     bool
		wantErr  error
		attempts int
	}{
		{"first attempt", 3, 0, false, nil, 1},
		{"recovers", 3, 2, false, nil, 3},
		{"exhausted", 2, 5, false, errFlaky, 3},
		{"permanent", 3, 5, true, errFlaky, 1},
		{"no retries", 0, 1, false, errFlaky, 1},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			attempts := 0
			err := Retry(context.Background(), test.retries, func(attempt int) error {
				assert.Equal(t, attempts, attempt)
				attempts++
				if attempts > test.failures {
					return nil
				}
				if test.perm {
					return Permanent(errFlaky)
				}
				return errFlaky
			})
			if test.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, test.wantErr)
			}
			assert.Equal(t, test.attempts, attempts)
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, 5, func(int) error {
		attempts++
		cancel()
		return errors.New("failed")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Nil(t, Permanent(nil))
}
