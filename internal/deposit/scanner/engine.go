package scanner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/metrics"
	"tronex.com/pkg/safe"
)

type Config struct {
	Chain            string
	Interval         time.Duration // 扫块间隔
	ConfirmDepth     int64         // 至少被后续多少个块覆盖才算确认
	MaxBlocksPerPass int64         // 单轮最多处理的块数，0 不限制
	PassTimeout      time.Duration // 单轮时间预算，超时放弃本轮
	StartHeight      int64         // 第一次启动从哪个块开始，0 表示从当前安全高度开始
}

// Checkpoint service.CheckpointService 实现
type Checkpoint interface {
	Owner() string
	Init(ctx context.Context, initialHeight int64) error
	TryAcquireScan(ctx context.Context) (bool, error)
	ReleaseScan(ctx context.Context) error
	AdvanceTo(ctx context.Context, height int64, hash string) error
	Snapshot(ctx context.Context) (*domain.ScanCheckpoint, error)
}

// AddressLookup 按收款地址批量查归属用户
type AddressLookup interface {
	GetAddressesByAddress(ctx context.Context, addresses []string) (map[string]*domain.UserAddress, error)
}

// Sink 命中的候选事件交给谁，返回 nil 之后才会推进进度
type Sink interface {
	Emit(ctx context.Context, events []*domain.CandidateEvent) error
}

type PassStatus string

const (
	PassSkipped PassStatus = "skipped" // 别人在扫
	PassIdle    PassStatus = "idle"    // 没有新的已确认块
	PassScanned PassStatus = "ok"
)

// PassResult 一轮扫描的结果，From/To 是本轮实际推进过的区间
type PassResult struct {
	Status PassStatus
	From   int64
	To     int64
	Events int
}

type Engine struct {
	cfg        Config
	adapter    domain.ChainAdapter
	checkpoint Checkpoint
	addresses  AddressLookup
	sink       Sink
}

func NewEngine(cfg Config, adapter domain.ChainAdapter, cp Checkpoint, addresses AddressLookup, sink Sink) *Engine {
	if cfg.Chain == "" {
		cfg.Chain = domain.ChainTron
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.PassTimeout <= 0 {
		cfg.PassTimeout = time.Minute
	}
	if cfg.ConfirmDepth < 0 {
		cfg.ConfirmDepth = 0
	}
	return &Engine{
		cfg:        cfg,
		adapter:    adapter,
		checkpoint: cp,
		addresses:  addresses,
		sink:       sink,
	}
}

// Prepare 第一次启动时建检查点，已有进度不动
func (e *Engine) Prepare(ctx context.Context) error {
	initial := e.cfg.StartHeight - 1
	if e.cfg.StartHeight <= 0 {
		tip, err := e.adapter.GetBlockHeight(ctx)
		if err != nil {
			return fmt.Errorf("get chain height: %w", err)
		}
		initial = tip - e.cfg.ConfirmDepth
	}
	if initial < 0 {
		initial = 0
	}
	if err := e.checkpoint.Init(ctx, initial); err != nil {
		return fmt.Errorf("init checkpoint: %w", err)
	}
	cp, err := e.checkpoint.Snapshot(ctx)
	if err != nil {
		return err
	}
	logger.Info(ctx, "扫块检查点就绪",
		zap.String("chain", e.cfg.Chain),
		zap.Int64("last_height", cp.LastBlockHeight),
		zap.String("owner", e.checkpoint.Owner()))
	return nil
}

// Start 定时扫块直到 ctx 取消
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Prepare(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	logger.Info(ctx, "扫块引擎启动",
		zap.String("chain", e.cfg.Chain),
		zap.Duration("interval", e.cfg.Interval),
		zap.Int64("confirm_depth", e.cfg.ConfirmDepth))
	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "扫块引擎收到停止信号，退出")
			return nil
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	defer safe.Recover(ctx, "scan pass")
	res, err := e.RunOnce(ctx)
	if err != nil {
		logger.Error(ctx, "区块扫描报错，下一轮重试",
			zap.String("chain", e.cfg.Chain),
			zap.Int64("advanced_to", res.To),
			zap.Error(err))
		return
	}
	if res.Status == PassScanned {
		logger.Debug(ctx, "本轮扫描完成",
			zap.Int64("from", res.From),
			zap.Int64("to", res.To),
			zap.Int("events", res.Events))
	}
}

// RunOnce 执行一轮扫描，拿不到租约直接返回 PassSkipped
func (e *Engine) RunOnce(ctx context.Context) (res PassResult, err error) {
	ok, err := e.checkpoint.TryAcquireScan(ctx)
	if err != nil {
		metrics.ScanPassTotal.WithLabelValues(e.cfg.Chain, "error").Inc()
		return PassResult{}, fmt.Errorf("acquire scan lease: %w", err)
	}
	if !ok {
		metrics.ScanPassTotal.WithLabelValues(e.cfg.Chain, string(PassSkipped)).Inc()
		return PassResult{Status: PassSkipped}, nil
	}

	start := time.Now()
	defer func() {
		// 本轮 ctx 可能已经取消，释放用独立的 ctx
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if rerr := e.checkpoint.ReleaseScan(relCtx); rerr != nil {
			logger.Error(ctx, "释放扫描租约失败", zap.String("chain", e.cfg.Chain), zap.Error(rerr))
		}
		metrics.ScanPassDuration.WithLabelValues(e.cfg.Chain).Observe(time.Since(start).Seconds())
		result := string(res.Status)
		if err != nil {
			result = "error"
		}
		metrics.ScanPassTotal.WithLabelValues(e.cfg.Chain, result).Inc()
	}()

	passCtx, cancel := context.WithTimeout(ctx, e.cfg.PassTimeout)
	defer cancel()
	return e.scan(passCtx)
}

func (e *Engine) scan(ctx context.Context) (PassResult, error) {
	cp, err := e.checkpoint.Snapshot(ctx)
	if err != nil {
		return PassResult{}, err
	}
	res := PassResult{Status: PassIdle, From: cp.LastBlockHeight + 1, To: cp.LastBlockHeight}

	tip, err := e.adapter.GetBlockHeight(ctx)
	if err != nil {
		return res, fmt.Errorf("get chain height: %w", err)
	}
	metrics.ChainTipHeight.WithLabelValues(e.cfg.Chain).Set(float64(tip))

	to := tip - e.cfg.ConfirmDepth
	if e.cfg.MaxBlocksPerPass > 0 && to > cp.LastBlockHeight+e.cfg.MaxBlocksPerPass {
		to = cp.LastBlockHeight + e.cfg.MaxBlocksPerPass
	}
	if to < res.From {
		return res, nil
	}

	res.Status = PassScanned
	prevHash := cp.LastBlockHash
	for h := res.From; h <= to; h++ {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("pass abandoned at %d: %w", h, err)
		}
		block, err := e.adapter.FetchBlock(ctx, h)
		if err != nil {
			return res, fmt.Errorf("fetch block %d: %w", h, err)
		}
		if prevHash != "" && block.PrevHash != "" && block.PrevHash != prevHash {
			metrics.ReorgWarnTotal.WithLabelValues(e.cfg.Chain).Inc()
			logger.Warn(ctx, "父块哈希不一致，可能发生了超过确认深度的回滚",
				zap.String("chain", e.cfg.Chain),
				zap.Int64("height", h),
				zap.String("expected_parent", prevHash),
				zap.String("actual_parent", block.PrevHash))
		}

		events, err := e.match(ctx, block)
		if err != nil {
			return res, fmt.Errorf("match block %d: %w", h, err)
		}
		if len(events) > 0 {
			if err := e.sink.Emit(ctx, events); err != nil {
				return res, fmt.Errorf("emit block %d: %w", h, err)
			}
		}
		if err := e.checkpoint.AdvanceTo(ctx, h, block.Hash); err != nil {
			if errors.Is(err, domain.ErrLeaseLost) {
				logger.Warn(ctx, "扫描租约已被接管，放弃本轮", zap.String("chain", e.cfg.Chain), zap.Int64("height", h))
			}
			return res, err
		}
		res.To = h
		res.Events += len(events)
		prevHash = block.Hash
	}
	return res, nil
}

// match 过滤出收款地址属于我们用户的转账
func (e *Engine) match(ctx context.Context, block *domain.StandardBlock) ([]*domain.CandidateEvent, error) {
	if len(block.Transactions) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(block.Transactions))
	addrs := make([]string, 0, len(block.Transactions))
	for _, tx := range block.Transactions {
		if _, ok := seen[tx.ToAddress]; ok || tx.ToAddress == "" {
			continue
		}
		seen[tx.ToAddress] = struct{}{}
		addrs = append(addrs, tx.ToAddress)
	}
	owners, err := e.addresses.GetAddressesByAddress(ctx, addrs)
	if err != nil {
		return nil, err
	}

	var events []*domain.CandidateEvent
	for _, tx := range block.Transactions {
		owner, ok := owners[tx.ToAddress]
		if !ok || !tx.Amount.IsPositive() {
			continue
		}
		events = append(events, &domain.CandidateEvent{
			Chain:       e.cfg.Chain,
			TxHash:      domain.NormalizeTxHash(tx.TxHash),
			Address:     tx.ToAddress,
			UserID:      owner.UserID,
			Amount:      tx.Amount,
			Symbol:      tx.Symbol,
			Contract:    tx.Contract,
			From:        tx.FromAddress,
			BlockNumber: block.Height,
			BlockHash:   block.Hash,
		})
	}
	return events, nil
}
