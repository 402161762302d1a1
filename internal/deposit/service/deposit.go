package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/xerr"
)

type CreateDepositInput struct {
	UserID string
	Amount decimal.Decimal
	TxHash string // 可选
	Symbol string // 默认 USDT
}

// DepositService 用户自报与后台人工处理
type DepositService struct {
	store    Store
	notifier Notifier
	now      func() time.Time
}

func NewDepositService(store Store, notifier Notifier) *DepositService {
	return &DepositService{
		store:    store,
		notifier: notifier,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func normalizeSymbol(s string) (string, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	switch s {
	case "":
		return domain.SymbolUSDT, nil
	case domain.SymbolUSDT, domain.SymbolTRX:
		return s, nil
	default:
		return "", xerr.New(xerr.RequestParamsError, "不支持的币种")
	}
}

// CreateDeposit 用户自报 "我已转账"，记录保持 pending 等扫块对账
func (s *DepositService) CreateDeposit(ctx context.Context, in CreateDepositInput) (*domain.DepositRecord, error) {
	if in.UserID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "userId 不能为空")
	}
	if !in.Amount.IsPositive() {
		return nil, xerr.New(xerr.RequestParamsError, "金额必须大于0")
	}
	symbol, err := normalizeSymbol(in.Symbol)
	if err != nil {
		return nil, err
	}
	txHash := domain.NormalizeTxHash(in.TxHash)
	if txHash != "" && !domain.IsHexHash(txHash) {
		return nil, xerr.New(xerr.RequestParamsError, "txHash 格式错误")
	}

	addr, err := s.store.GetAddressByUser(ctx, in.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, xerr.New(xerr.RequestParamsError, "请先获取充值地址")
		}
		return nil, xerr.Wrap(err, xerr.TransientError, "服务繁忙，请重试")
	}

	if txHash != "" {
		if d, err := s.existingByTxHash(ctx, in.UserID, txHash); d != nil || err != nil {
			return d, err
		}
	}

	d := &domain.DepositRecord{
		UserID:  in.UserID,
		Amount:  in.Amount,
		Status:  domain.DepositPending,
		Source:  domain.SourceSelfReport,
		Address: addr.Address,
		Symbol:  symbol,
	}
	if txHash != "" {
		d.TxHash = &txHash
	}
	if err := s.store.CreateDeposit(ctx, d); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) && txHash != "" {
			// 并发提交同一个 txHash
			if existing, err := s.existingByTxHash(ctx, in.UserID, txHash); existing != nil || err != nil {
				return existing, err
			}
		}
		return nil, xerr.Wrap(err, xerr.TransientError, "服务繁忙，请重试")
	}
	logger.Info(ctx, "self-reported deposit created",
		zap.Int64("deposit_id", d.ID),
		zap.String("user_id", d.UserID),
		zap.String("amount", d.Amount.String()),
		zap.String("tx_hash", txHash))
	return d, nil
}

// existingByTxHash 同一用户重复提交返回原记录，别人的 txHash 报冲突
func (s *DepositService) existingByTxHash(ctx context.Context, userID, txHash string) (*domain.DepositRecord, error) {
	d, err := s.store.GetDepositByTxHash(ctx, txHash)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, xerr.Wrap(err, xerr.TransientError, "服务繁忙，请重试")
	}
	if d.UserID != userID {
		return nil, xerr.New(xerr.StateConflict, "txHash 已被其他用户提交")
	}
	return d, nil
}

func (s *DepositService) GetDeposit(ctx context.Context, id int64) (*domain.DepositRecord, error) {
	d, err := s.store.GetDeposit(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, xerr.Wrap(err, xerr.RecordNotFound, "充值记录不存在")
		}
		return nil, err
	}
	return d, nil
}

func (s *DepositService) ListDeposits(ctx context.Context, f domain.DepositFilter, page, limit int) ([]*domain.DepositRecord, int64, error) {
	return s.store.ListDeposits(ctx, f, page, limit)
}

func (s *DepositService) GetBalance(ctx context.Context, userID, symbol string) (*domain.UserBalance, error) {
	if userID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "userId 不能为空")
	}
	sym, err := normalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return s.store.GetBalance(ctx, userID, sym)
}

// ManualConfirm 人工确认，和扫块入账一样：状态流转 + 加余额在一个事务里
// 记录必须带 txHash，没有就由运维补上，扫块再看到同一笔只会 duplicate-ignored
// amount 为空时优先按链上观测金额入账，没有观测才用自报金额
func (s *DepositService) ManualConfirm(ctx context.Context, id int64, operator, txHash string, amount *decimal.Decimal) (*domain.DepositRecord, error) {
	if operator == "" {
		return nil, xerr.New(xerr.RequestParamsError, "operator 不能为空")
	}
	if amount != nil && !amount.IsPositive() {
		return nil, xerr.New(xerr.RequestParamsError, "金额必须大于0")
	}
	txHash = domain.NormalizeTxHash(txHash)
	if txHash != "" && !domain.IsHexHash(txHash) {
		return nil, xerr.New(xerr.RequestParamsError, "txHash 格式错误")
	}

	var d *domain.DepositRecord
	err := s.store.Transaction(ctx, func(txCtx context.Context) error {
		var err error
		if d, err = s.store.GetDeposit(txCtx, id); err != nil {
			return err
		}
		if d.Status != domain.DepositPending {
			return domain.ErrStateConflict
		}
		if err := s.bindTxHash(txCtx, d, txHash); err != nil {
			return err
		}

		amt := d.Amount
		if d.ObservedAmount.Valid {
			amt = d.ObservedAmount.Decimal
		}
		if amount != nil {
			amt = *amount
		}
		now := s.now()
		if err := s.store.MarkConfirmed(txCtx, id, amt, operator, now); err != nil {
			return err
		}
		symbol := d.Symbol
		if symbol == "" {
			symbol = domain.SymbolUSDT
		}
		if err := s.store.AddAvailable(txCtx, d.UserID, symbol, amt); err != nil {
			return err
		}
		d.Status = domain.DepositConfirmed
		d.Amount = amt
		d.ConfirmedAt = &now
		d.ConfirmedBy = operator
		return nil
	})
	if err != nil {
		return nil, adminError(err)
	}

	logger.Info(ctx, "deposit confirmed manually",
		zap.Int64("deposit_id", d.ID),
		zap.String("user_id", d.UserID),
		zap.String("amount", d.Amount.String()),
		zap.String("operator", operator))
	if s.notifier != nil {
		if err := s.notifier.Credited(ctx, d); err != nil {
			logger.Warn(ctx, "deposit notify failed", zap.Int64("deposit_id", d.ID), zap.Error(err))
		}
	}
	return d, nil
}

// Reject pending -> failed，不动余额
func (s *DepositService) Reject(ctx context.Context, id int64, operator, reason string) (*domain.DepositRecord, error) {
	if operator == "" {
		return nil, xerr.New(xerr.RequestParamsError, "operator 不能为空")
	}
	if _, err := s.store.GetDeposit(ctx, id); err != nil {
		return nil, adminError(err)
	}
	if err := s.store.MarkFailed(ctx, id, operator, reason); err != nil {
		return nil, adminError(err)
	}
	logger.Info(ctx, "deposit rejected", zap.Int64("deposit_id", id), zap.String("operator", operator), zap.String("reason", reason))
	return s.store.GetDeposit(ctx, id)
}

// bindTxHash 记录没有 txHash 时补上传入的；已有的必须一致
func (s *DepositService) bindTxHash(ctx context.Context, d *domain.DepositRecord, txHash string) error {
	if d.TxHash != nil && *d.TxHash != "" {
		if txHash != "" && txHash != *d.TxHash {
			return xerr.New(xerr.StateConflict, "txHash 与记录不一致")
		}
		return nil
	}
	if txHash == "" {
		return xerr.New(xerr.RequestParamsError, "确认前必须提供 txHash")
	}
	other, err := s.store.GetDepositByTxHash(ctx, txHash)
	switch {
	case err == nil && other.ID != d.ID:
		return xerr.New(xerr.StateConflict, "txHash 已被其他充值记录使用")
	case err != nil && !errors.Is(err, domain.ErrNotFound):
		return err
	}
	if err := s.store.SetTxHash(ctx, d.ID, txHash); err != nil {
		return err
	}
	d.TxHash = &txHash
	return nil
}

func adminError(err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return xerr.Wrap(err, xerr.RecordNotFound, "充值记录不存在")
	case errors.Is(err, domain.ErrStateConflict):
		return xerr.Wrap(err, xerr.StateConflict, "充值记录不是待确认状态")
	case errors.Is(err, domain.ErrDuplicateKey):
		return xerr.Wrap(err, xerr.StateConflict, "txHash 已被其他充值记录使用")
	default:
		return err
	}
}
