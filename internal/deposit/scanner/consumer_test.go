package scanner

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/xerr"
)

type fakeReconciler struct {
	mu    sync.Mutex
	fails map[string]int
	seen  []string
}

func (r *fakeReconciler) Reconcile(_ context.Context, ev *domain.CandidateEvent) (domain.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ev.UserID == "" {
		return "", xerr.New(xerr.RequestParamsError, "userId 不能为空")
	}
	if r.fails[ev.TxHash] > 0 {
		r.fails[ev.TxHash]--
		return "", errors.New("db timeout")
	}
	r.seen = append(r.seen, ev.TxHash)
	return domain.OutcomeCredited, nil
}

func newTestRedis(t *testing.T) *redis.Client {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func candidate(txHash, userID string) *domain.CandidateEvent {
	return &domain.CandidateEvent{
		Chain:       domain.ChainTron,
		TxHash:      txHash,
		Address:     "TAddr",
		UserID:      userID,
		Amount:      decimal.RequireFromString("12.5"),
		Symbol:      domain.SymbolUSDT,
		BlockNumber: 42,
	}
}

func pendingCount(t *testing.T, rdb *redis.Client) int64 {
	t.Helper()
	p, err := rdb.XPending(context.Background(), domain.StreamDepositKey, domain.GroupName).Result()
	require.NoError(t, err)
	return p.Count
}

func TestStream_EmitAndConsume(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	rec := &fakeReconciler{fails: map[string]int{"bb": 1}}
	consumer := NewStreamConsumer(rdb, rec, ConsumerConfig{Block: -1})
	require.NoError(t, consumer.EnsureGroup(ctx))
	require.NoError(t, consumer.EnsureGroup(ctx), "重复创建消费组不报错")

	sink := NewStreamSink(rdb, "")
	require.NoError(t, sink.Emit(ctx, []*domain.CandidateEvent{candidate("aa", "U"), candidate("bb", "U")}))
	require.NoError(t, sink.Emit(ctx, nil))

	n, err := rdb.XLen(ctx, domain.StreamDepositKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	acked, err := consumer.ReadOnce(ctx, "consumer-0", ">")
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Equal(t, int64(1), pendingCount(t, rdb), "失败的留在 pending")

	acked, err = consumer.ReadOnce(ctx, "consumer-0", ">")
	require.NoError(t, err)
	assert.Equal(t, 0, acked, "没有新消息")

	acked, err = consumer.ReadOnce(ctx, "consumer-0", "0")
	require.NoError(t, err)
	assert.Equal(t, 1, acked)
	assert.Equal(t, int64(0), pendingCount(t, rdb))
	assert.Equal(t, []string{"aa", "bb"}, rec.seen)
}

func TestStream_BadMessagesAcked(t *testing.T) {
	ctx := context.Background()
	rdb := newTestRedis(t)
	consumer := NewStreamConsumer(rdb, &fakeReconciler{}, ConsumerConfig{Block: -1})
	require.NoError(t, consumer.EnsureGroup(ctx))

	tests := []struct {
		name   string
		values map[string]interface{}
	}{
		{"缺少data字段", map[string]interface{}{"symbol": "USDT"}},
		{"不是JSON", map[string]interface{}{"data": "not-json"}},
		{"参数错误", map[string]interface{}{"data": `{"txHash":"cc","amount":"1"}`}},
	}
	for _, tt := range tests {
		require.NoError(t, rdb.XAdd(ctx, &redis.XAddArgs{Stream: domain.StreamDepositKey, Values: tt.values}).Err(), tt.name)
	}

	acked, err := consumer.ReadOnce(ctx, "consumer-0", ">")
	require.NoError(t, err)
	assert.Equal(t, len(tests), acked)
	assert.Equal(t, int64(0), pendingCount(t, rdb))
}

func TestDirectSink_StopsOnError(t *testing.T) {
	rec := &fakeReconciler{fails: map[string]int{"bb": 1}}
	sink := NewDirectSink(rec)
	err := sink.Emit(context.Background(), []*domain.CandidateEvent{candidate("aa", "U"), candidate("bb", "U"), candidate("cc", "U")})
	require.Error(t, err)
	assert.Equal(t, []string{"aa"}, rec.seen)
}
