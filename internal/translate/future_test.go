package translate

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFutureResolveOnce(t *testing.T) {
	fut := NewFuture()
	fut.Resolve("first")
	fut.Resolve("second")

	value, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "first", value)
}

func TestFutureWaitHonorsContext(t *testing.T) {
	fut := NewFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := fut.Wait(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// A late resolve still works for the next waiter.
	fut.Resolve("late")
	value, err := fut.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, "late", value)
}

func TestResolvedFuture(t *testing.T) {
	fut := ResolvedFuture("ready")
	select {
	case <-fut.Done():
	default:
		t.Fatal("expected a resolved future")
	}
	require.Equal(t, "ready", fut.Value())
}
