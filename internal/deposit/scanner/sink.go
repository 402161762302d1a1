package scanner

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/logger"
)

// Reconciler service.Reconciler 实现
type Reconciler interface {
	Reconcile(ctx context.Context, ev *domain.CandidateEvent) (domain.Outcome, error)
}

// DirectSink 同进程直接对账，任何一条失败整轮失败，下一轮重放
type DirectSink struct {
	rec Reconciler
}

var _ Sink = (*DirectSink)(nil)

func NewDirectSink(rec Reconciler) *DirectSink {
	return &DirectSink{rec: rec}
}

func (s *DirectSink) Emit(ctx context.Context, events []*domain.CandidateEvent) error {
	for _, ev := range events {
		if _, err := s.rec.Reconcile(ctx, ev); err != nil {
			return fmt.Errorf("reconcile %s: %w", ev.TxHash, err)
		}
	}
	return nil
}

// StreamSink 写进 Redis Stream 就算交付，由 StreamConsumer 异步对账
type StreamSink struct {
	rds    *redis.Client
	stream string
}

var _ Sink = (*StreamSink)(nil)

func NewStreamSink(rds *redis.Client, stream string) *StreamSink {
	if stream == "" {
		stream = domain.StreamDepositKey
	}
	return &StreamSink{rds: rds, stream: stream}
}

func (s *StreamSink) Emit(ctx context.Context, events []*domain.CandidateEvent) error {
	if len(events) == 0 {
		return nil
	}
	pipe := s.rds.Pipeline()
	for _, ev := range events {
		data, err := json.Marshal(ev)
		if err != nil {
			logger.Error(ctx, "序列化候选事件失败", zap.Error(err), zap.String("tx_hash", ev.TxHash))
			return fmt.Errorf("marshal candidate event: %w", err)
		}
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: s.stream,
			Values: map[string]interface{}{
				"data":   string(data),
				"symbol": ev.Symbol,
			},
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline exec: %w", err)
	}
	return nil
}
