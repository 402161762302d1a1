package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestStore_AllowAndCleanup(t *testing.T) {
	s := NewStore(rate.Limit(1), 2, time.Minute)

	assert.True(t, s.Allow("a"))
	assert.True(t, s.Allow("a"))
	assert.False(t, s.Allow("a"), "突发额度用完")
	assert.True(t, s.Allow("b"), "不同 key 互不影响")
	assert.Equal(t, 2, s.Len())

	s.cleanup(time.Now().Add(2 * time.Minute))
	assert.Equal(t, 0, s.Len())
}

func TestStore_WaitCanceled(t *testing.T) {
	s := NewStore(rate.Limit(0.001), 1, time.Minute)
	require.NoError(t, s.Wait(context.Background(), "node"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, s.Wait(ctx, "node"))
}

func TestIsHealthy(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"成功", nil, true},
		{"调用方取消", context.Canceled, true},
		{"块不存在", status.Error(codes.NotFound, "no block"), true},
		{"节点不可用", status.Error(codes.Unavailable, "down"), false},
		{"超时", status.Error(codes.DeadlineExceeded, "slow"), false},
		{"普通错误", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isHealthy(tt.err))
		})
	}
}

func TestBreakers_TripAfterConsecutiveFailures(t *testing.T) {
	var changed []gobreaker.State
	b := NewBreakers(Rule{TripConsecutiveFailures: 2, Timeout: time.Minute}, nil)
	b.OnStateChange(func(_ string, to gobreaker.State) { changed = append(changed, to) })

	cb := b.Get("GetNowBlock")
	assert.Same(t, cb, b.Get("GetNowBlock"))

	fail := func() (struct{}, error) { return struct{}{}, status.Error(codes.Unavailable, "down") }
	_, _ = cb.Execute(fail)
	_, _ = cb.Execute(fail)
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	_, err := cb.Execute(func() (struct{}, error) { return struct{}{}, nil })
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, changed)
}
