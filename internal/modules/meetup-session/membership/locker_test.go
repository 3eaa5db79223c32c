package membership

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func Test_LocalLocker_Excludes_Concurrent_Holders(t *testing.T) {
	// Arrange
	locker := NewLocalLocker()
	var inside, maxInside atomic.Int32
	var g errgroup.Group

	// Act
	for i := 0; i < 20; i++ {
		g.Go(func() error {
			lease, err := locker.Acquire(context.Background(), "session:a")
			if err != nil {
				return err
			}

			current := inside.Add(1)
			for {
				seen := maxInside.Load()
				if current <= seen || maxInside.CompareAndSwap(seen, current) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)

			return lease.Release(context.Background())
		})
	}

	// Assert
	require.NoError(t, g.Wait())
	require.EqualValues(t, 1, maxInside.Load())
	require.Zero(t, locker.keys())
}

func Test_LocalLocker_Does_Not_Block_Other_Keys(t *testing.T) {
	// Arrange
	locker := NewLocalLocker()
	held, err := locker.Acquire(context.Background(), "session:a")
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	// Act
	other, err := locker.Acquire(ctx, "session:b")

	// Assert
	require.NoError(t, err)
	require.NoError(t, other.Release(context.Background()))
}

func Test_LocalLocker_Honours_Context_While_Waiting(t *testing.T) {
	// Arrange
	locker := NewLocalLocker()
	held, err := locker.Acquire(context.Background(), "session:a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Act
	_, err = locker.Acquire(ctx, "session:a")

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, held.Release(context.Background()))
	require.Zero(t, locker.keys())
}

func Test_LocalLocker_Release_Is_Idempotent(t *testing.T) {
	locker := NewLocalLocker()
	lease, err := locker.Acquire(context.Background(), "session:a")
	require.NoError(t, err)

	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, lease.Release(context.Background()))

	again, err := locker.Acquire(context.Background(), "session:a")
	require.NoError(t, err)
	require.NoError(t, again.Release(context.Background()))
}

func Test_NoopLocker_Fails_When_Context_Done(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NoopLocker{}.Acquire(ctx, "session:a")

	require.ErrorIs(t, err, context.Canceled)
}
