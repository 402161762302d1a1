package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/safe"
	"tronex.com/pkg/xerr"
)

type ConsumerConfig struct {
	Stream       string
	Group        string
	Name         string // 消费者名前缀，多实例部署必须不同，默认主机名
	Workers      int
	Batch        int64
	Block        time.Duration // XREADGROUP 阻塞时间
	PendingEvery time.Duration // 多久回头处理一次自己没 ack 的消息
}

// StreamConsumer 消费组对账，对账完成（任何结果）才 ack，出错的留在 pending 里重试
type StreamConsumer struct {
	rds *redis.Client
	rec Reconciler
	cfg ConsumerConfig
}

func NewStreamConsumer(rds *redis.Client, rec Reconciler, cfg ConsumerConfig) *StreamConsumer {
	if cfg.Stream == "" {
		cfg.Stream = domain.StreamDepositKey
	}
	if cfg.Group == "" {
		cfg.Group = domain.GroupName
	}
	if cfg.Name == "" {
		cfg.Name, _ = os.Hostname()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 10
	}
	if cfg.Block == 0 {
		cfg.Block = 2 * time.Second
	}
	if cfg.PendingEvery <= 0 {
		cfg.PendingEvery = 30 * time.Second
	}
	return &StreamConsumer{rds: rds, rec: rec, cfg: cfg}
}

// EnsureGroup 消费组已存在不算错
func (c *StreamConsumer) EnsureGroup(ctx context.Context) error {
	err := c.rds.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	return nil
}

// Run 启动 worker，ctx 取消后等所有 worker 退出
func (c *StreamConsumer) Run(ctx context.Context) error {
	if err := c.EnsureGroup(ctx); err != nil {
		return err
	}
	var wg sync.WaitGroup
	logger.Info(ctx, "启动对账 Worker", zap.Int("worker_count", c.cfg.Workers), zap.String("stream", c.cfg.Stream))
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		idx := i
		safe.GoCtx(ctx, func(ctx context.Context) {
			defer wg.Done()
			c.worker(ctx, idx)
		})
	}
	<-ctx.Done()
	wg.Wait()
	logger.Info(ctx, "对账 Worker 已全部退出")
	return nil
}

func (c *StreamConsumer) worker(ctx context.Context, idx int) {
	consumer := fmt.Sprintf("%s-%d", c.cfg.Name, idx)
	// 启动先处理上次没 ack 的
	lastPending := time.Time{}
	for {
		if ctx.Err() != nil {
			logger.Info(ctx, "Worker 收到停止信号，退出", zap.String("consumer", consumer))
			return
		}
		id := ">"
		if time.Since(lastPending) >= c.cfg.PendingEvery {
			id = "0"
			lastPending = time.Now()
		}
		if _, err := c.ReadOnce(ctx, consumer, id); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error(ctx, "XReadGroup 错误", zap.Error(err), zap.String("consumer", consumer))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second): // 防止日志刷屏
			}
		}
	}
}

// ReadOnce 读一批并处理，id 为 ">" 读新消息，为 "0" 重读自己的 pending；返回 ack 的条数
func (c *StreamConsumer) ReadOnce(ctx context.Context, consumer, id string) (int, error) {
	block := c.cfg.Block
	if id != ">" {
		block = -1
	}
	streams, err := c.rds.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: consumer,
		Streams:  []string{c.cfg.Stream, id},
		Count:    c.cfg.Batch,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	acked := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if !c.process(ctx, msg) {
				continue
			}
			if err := c.rds.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
				logger.Error(ctx, "Redis ACK 失败", zap.Error(err), zap.String("msg_id", msg.ID))
				continue
			}
			acked++
		}
	}
	return acked, nil
}

// process 返回是否可以 ack
func (c *StreamConsumer) process(ctx context.Context, msg redis.XMessage) bool {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		logger.Error(ctx, "消息中缺少data字段，跳过", zap.String("msg_id", msg.ID))
		return true
	}
	var ev domain.CandidateEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		logger.Error(ctx, "JSON解析失败，跳过", zap.Error(err), zap.String("msg_id", msg.ID))
		return true
	}
	outcome, err := c.rec.Reconcile(ctx, &ev)
	if err != nil {
		if isPermanent(err) {
			logger.Error(ctx, "候选事件不合法，跳过", zap.Error(err), zap.String("msg_id", msg.ID))
			return true
		}
		logger.Warn(ctx, "对账失败，消息留在 pending 等待重试",
			zap.Error(err), zap.String("msg_id", msg.ID), zap.String("tx_hash", ev.TxHash))
		return false
	}
	logger.Debug(ctx, "消息对账完成", zap.String("msg_id", msg.ID), zap.String("outcome", string(outcome)))
	return true
}

// isPermanent 参数错误重试也不会好
func isPermanent(err error) bool {
	return xerr.CodeOf(err) == xerr.RequestParamsError
}
