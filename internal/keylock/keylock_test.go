package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLockBlocksSameKey(t *testing.T) {
	l := New()

	release, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()

	release2, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	release2()
}

func TestLockDisjointKeysIndependent(t *testing.T) {
	l := New()

	releaseA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	releaseB, err := l.Lock(ctx, "b")
	require.NoError(t, err, "lock on a different key must not block")
	releaseB()
}

func TestRLockSharedWithRLock(t *testing.T) {
	l := New()

	release1, err := l.RLock(context.Background(), "a")
	require.NoError(t, err)
	defer release1()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	release2, err := l.RLock(ctx, "a")
	require.NoError(t, err, "readers must coexist")
	release2()
}

func TestRLockBlocksLock(t *testing.T) {
	l := New()

	release, err := l.RLock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New()

	release, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	release()
	release() // second call is a no-op

	release2, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	release2()
}

func TestEntriesCleanedUp(t *testing.T) {
	l := New()

	for _, key := range []string{"a", "b", "c"} {
		release, err := l.Lock(context.Background(), key)
		require.NoError(t, err)
		release()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.items, "released keys must not leak")
}

func TestConcurrentCounterStaysConsistent(t *testing.T) {
	l := New()

	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := l.Lock(context.Background(), "counter")
			if err != nil {
				return
			}
			defer release()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counter)
}
