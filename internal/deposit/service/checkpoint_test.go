package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tronex.com/internal/deposit/domain"
)

func TestCheckpoint_MutualExclusion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	a := NewCheckpointService(store, domain.ChainTron, time.Minute)
	b := NewCheckpointService(store, domain.ChainTron, time.Minute)
	require.NotEqual(t, a.Owner(), b.Owner())

	require.NoError(t, a.Init(ctx, 100))
	require.NoError(t, b.Init(ctx, 5), "已有进度不覆盖")
	h, err := b.CurrentHeight(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), h)

	ok, err := a.TryAcquireScan(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = b.TryAcquireScan(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a 持有租约时 b 拿不到")

	// b 不是持有者，推进和释放都不生效
	assert.ErrorIs(t, b.AdvanceTo(ctx, 101, "h101"), domain.ErrLeaseLost)
	require.NoError(t, b.ReleaseScan(ctx))
	cp, err := a.Snapshot(ctx)
	require.NoError(t, err)
	assert.True(t, cp.IsScanning)
	assert.Equal(t, a.Owner(), cp.ScanOwner)

	require.NoError(t, a.AdvanceTo(ctx, 101, "h101"))
	assert.ErrorIs(t, a.AdvanceTo(ctx, 101, "h101"), domain.ErrCheckpointRegress)
	assert.ErrorIs(t, a.AdvanceTo(ctx, 90, "h90"), domain.ErrCheckpointRegress)

	require.NoError(t, a.ReleaseScan(ctx))
	ok, err = b.TryAcquireScan(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	cp, err = b.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(101), cp.LastBlockHeight)
	assert.Equal(t, "h101", cp.LastBlockHash)
	assert.NotNil(t, cp.LastScanAt)
}

func TestCheckpoint_ExpiredLeaseTakenOver(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	crashed := NewCheckpointService(store, domain.ChainTron, time.Minute)
	next := NewCheckpointService(store, domain.ChainTron, time.Minute)
	require.NoError(t, crashed.Init(ctx, 0))

	ok, err := crashed.TryAcquireScan(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	// 持有者崩溃，没有释放

	ok, err = next.TryAcquireScan(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "租约没过期")

	base := time.Now().UTC()
	next.now = func() time.Time { return base.Add(2 * time.Minute) }
	ok, err = next.TryAcquireScan(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "过期后接手")

	require.NoError(t, next.AdvanceTo(ctx, 10, "h10"))
	assert.ErrorIs(t, crashed.AdvanceTo(ctx, 11, "h11"), domain.ErrLeaseLost, "老持有者恢复后不能再推进")
}
