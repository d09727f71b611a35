package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalLocker(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()

	unlock, err := l.TryLock(ctx, "web")
	require.NoError(t, err)

	_, err = l.TryLock(ctx, "web")
	assert.ErrorIs(t, err, ErrLocked)

	// Other lineages are independent
	unlockAPI, err := l.TryLock(ctx, "api")
	require.NoError(t, err)
	unlockAPI()

	unlock()
	unlock() // releasing twice is harmless

	unlock, err = l.TryLock(ctx, "web")
	require.NoError(t, err)
	unlock()
}

func TestLocalLocker_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewLocalLocker().TryLock(ctx, "web")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLocalLocker_SingleWinner(t *testing.T) {
	l := NewLocalLocker()
	var winners int32

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock(context.Background(), "web"); err == nil {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

// Runs only against a real Redis, e.g. ROLLOUT_TEST_REDIS_ADDR=localhost:6379
func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("ROLLOUT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ROLLOUT_TEST_REDIS_ADDR not set")
	}

	a, err := NewRedisLocker(addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedisLocker(addr, "", 0, time.Minute)
	require.NoError(t, err)
	defer b.Close()

	ctx := context.Background()
	lineage := "test-" + time.Now().Format("150405.000000000")

	unlock, err := a.TryLock(ctx, lineage)
	require.NoError(t, err)

	_, err = b.TryLock(ctx, lineage)
	assert.ErrorIs(t, err, ErrLocked)

	unlock()

	unlock, err = b.TryLock(ctx, lineage)
	require.NoError(t, err)
	unlock()
}
