package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/unveilhq/guest-messenger/test/helpers"
)

func TestLease_AcquireAndRelease(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	svc := NewLeaseService(adapter, DefaultLeaseConfig())
	ctx := context.Background()

	lease, err := svc.Acquire(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, lease)
	assert.Equal(t, "42", lease.MessageID)

	// Second acquire while held fails.
	_, err = svc.Acquire(ctx, "42")
	assert.ErrorIs(t, err, ErrLockAcquireFailed)

	// After release the lock is free again.
	require.NoError(t, svc.Release(ctx, lease))
	lease2, err := svc.Acquire(ctx, "42")
	require.NoError(t, err)
	require.NotNil(t, lease2)
}

func TestLease_MarkProcessedBlocksReacquire(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	svc := NewLeaseService(adapter, DefaultLeaseConfig())
	ctx := context.Background()

	lease, err := svc.Acquire(ctx, "7")
	require.NoError(t, err)
	require.NoError(t, svc.MarkProcessed(ctx, lease))

	processed, err := svc.IsProcessed(ctx, "7")
	require.NoError(t, err)
	assert.True(t, processed)

	_, err = svc.Acquire(ctx, "7")
	assert.ErrorIs(t, err, ErrAlreadyProcessed)
}

func TestLease_LockExpires(t *testing.T) {
	mr, adapter := helpers.SetupTestRedis(t)

	cfg := DefaultLeaseConfig()
	cfg.LockTTL = 100 * time.Millisecond
	svc := NewLeaseService(adapter, cfg)
	ctx := context.Background()

	_, err := svc.Acquire(ctx, "9")
	require.NoError(t, err)

	// miniredis only expires keys when the clock is advanced explicitly.
	mr.FastForward(200 * time.Millisecond)

	lease, err := svc.Acquire(ctx, "9")
	require.NoError(t, err)
	require.NotNil(t, lease)
}

func TestLease_DifferentMessagesIndependent(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	svc := NewLeaseService(adapter, DefaultLeaseConfig())
	ctx := context.Background()

	a, err := svc.Acquire(ctx, "1")
	require.NoError(t, err)
	require.NotNil(t, a)

	b, err := svc.Acquire(ctx, "2")
	require.NoError(t, err)
	require.NotNil(t, b)
}

func TestLease_ReleaseNilIsSafe(t *testing.T) {
	_, adapter := helpers.SetupTestRedis(t)
	svc := NewLeaseService(adapter, DefaultLeaseConfig())

	assert.NoError(t, svc.Release(context.Background(), nil))
}
