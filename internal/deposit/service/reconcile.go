package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/metrics"
	"tronex.com/pkg/xerr"
)

// Notifier 入账/对不上时的外部通知，失败不影响账本
type Notifier interface {
	Credited(ctx context.Context, d *domain.DepositRecord) error
	Mismatch(ctx context.Context, d *domain.DepositRecord, ev *domain.CandidateEvent) error
}

type Reconciler struct {
	store     Store
	tolerance decimal.Decimal
	notifier  Notifier
	now       func() time.Time
}

// NewReconciler tolerance 是绝对值，0 表示金额必须完全一致；notifier 可为 nil
func NewReconciler(store Store, tolerance decimal.Decimal, notifier Notifier) *Reconciler {
	return &Reconciler{
		store:     store,
		tolerance: tolerance.Abs(),
		notifier:  notifier,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile 对账一条候选事件，同一个 txHash 重放多少次都只入账一次
func (r *Reconciler) Reconcile(ctx context.Context, ev *domain.CandidateEvent) (domain.Outcome, error) {
	if err := validateEvent(ev); err != nil {
		return "", err
	}
	ev.TxHash = domain.NormalizeTxHash(ev.TxHash)

	var (
		outcome domain.Outcome
		rec     *domain.DepositRecord
	)
	err := r.store.Transaction(ctx, func(txCtx context.Context) error {
		existing, err := r.store.GetDepositByTxHash(txCtx, ev.TxHash)
		switch {
		case err == nil:
			outcome, rec, err = r.reconcileExisting(txCtx, existing, ev)
		case errors.Is(err, domain.ErrNotFound):
			outcome, rec, err = r.reconcileNew(txCtx, ev)
		}
		return err
	})
	if err != nil {
		metrics.ReconcileTotal.WithLabelValues("error").Inc()
		logger.Error(ctx, "reconcile failed",
			zap.String("tx_hash", ev.TxHash),
			zap.String("user_id", ev.UserID),
			zap.Int64("block", ev.BlockNumber),
			zap.Error(err))
		return "", err
	}

	metrics.ReconcileTotal.WithLabelValues(string(outcome)).Inc()
	fields := []zap.Field{
		zap.String("outcome", string(outcome)),
		zap.String("tx_hash", ev.TxHash),
		zap.String("user_id", ev.UserID),
		zap.String("amount", ev.Amount.String()),
		zap.String("symbol", ev.Symbol),
		zap.Int64("block", ev.BlockNumber),
	}
	if rec != nil {
		fields = append(fields, zap.Int64("deposit_id", rec.ID))
	}
	if outcome == domain.OutcomeAmountMismatch {
		logger.Warn(ctx, "deposit needs manual review", fields...)
	} else {
		logger.Info(ctx, "deposit reconciled", fields...)
	}

	r.notify(ctx, outcome, rec, ev)
	return outcome, nil
}

func validateEvent(ev *domain.CandidateEvent) error {
	switch {
	case ev == nil:
		return xerr.New(xerr.RequestParamsError, "事件为空")
	case domain.NormalizeTxHash(ev.TxHash) == "":
		return xerr.New(xerr.RequestParamsError, "txHash 不能为空")
	case ev.UserID == "":
		return xerr.New(xerr.RequestParamsError, "userId 不能为空")
	case !ev.Amount.IsPositive():
		return xerr.New(xerr.RequestParamsError, "金额必须大于0")
	}
	return nil
}

// reconcileExisting 已有同 txHash 的记录
func (r *Reconciler) reconcileExisting(ctx context.Context, d *domain.DepositRecord, ev *domain.CandidateEvent) (domain.Outcome, *domain.DepositRecord, error) {
	if d.Status != domain.DepositPending {
		return domain.OutcomeDuplicateIgnored, d, nil
	}
	if d.UserID != ev.UserID {
		// 别人自报了这笔 txHash，不改归属，交给人工
		return domain.OutcomeAmountMismatch, d, nil
	}
	if err := r.attach(ctx, d, ev); err != nil {
		return "", nil, err
	}
	if !r.withinTolerance(d.Amount, ev.Amount) || (d.Symbol != "" && d.Symbol != ev.Symbol) {
		return domain.OutcomeAmountMismatch, d, nil
	}
	if err := r.confirm(ctx, d, ev); err != nil {
		return "", nil, err
	}
	return domain.OutcomeCredited, d, nil
}

// reconcileNew 没有同 txHash 的记录：先找用户的自报，找不到再新建
func (r *Reconciler) reconcileNew(ctx context.Context, ev *domain.CandidateEvent) (domain.Outcome, *domain.DepositRecord, error) {
	reports, err := r.store.FindOpenSelfReports(ctx, ev.UserID)
	if err != nil {
		return "", nil, err
	}
	var candidates []*domain.DepositRecord
	for _, d := range reports {
		if d.Symbol == "" || d.Symbol == ev.Symbol {
			candidates = append(candidates, d)
		}
	}
	for _, d := range candidates {
		if !r.withinTolerance(d.Amount, ev.Amount) {
			continue
		}
		if err := r.attach(ctx, d, ev); err != nil {
			return "", nil, err
		}
		if err := r.confirm(ctx, d, ev); err != nil {
			return "", nil, err
		}
		return domain.OutcomeCredited, d, nil
	}
	if len(candidates) > 0 {
		// 只有金额对不上的自报，挂到最早那条上等人工处理
		d := candidates[0]
		if err := r.attach(ctx, d, ev); err != nil {
			return "", nil, err
		}
		return domain.OutcomeAmountMismatch, d, nil
	}

	now := r.now()
	txHash := ev.TxHash
	block := ev.BlockNumber
	d := &domain.DepositRecord{
		UserID:         ev.UserID,
		Amount:         ev.Amount,
		ObservedAmount: decimal.NewNullDecimal(ev.Amount),
		Status:         domain.DepositConfirmed,
		Source:         domain.SourceScanner,
		TxHash:         &txHash,
		Address:        ev.Address,
		Symbol:         ev.Symbol,
		BlockNumber:    &block,
		ConfirmedAt:    &now,
		ConfirmedBy:    domain.ConfirmedByScanner,
	}
	if err := r.store.CreateDeposit(ctx, d); err != nil {
		return "", nil, err
	}
	if err := r.store.AddAvailable(ctx, d.UserID, d.Symbol, d.Amount); err != nil {
		return "", nil, err
	}
	return domain.OutcomeCredited, d, nil
}

func (r *Reconciler) attach(ctx context.Context, d *domain.DepositRecord, ev *domain.CandidateEvent) error {
	if d.BlockNumber != nil && d.ObservedAmount.Valid {
		// 重放时已经挂过了
		return nil
	}
	obs := domain.Observation{TxHash: ev.TxHash, BlockNumber: ev.BlockNumber, Amount: ev.Amount}
	if err := r.store.AttachObservation(ctx, d.ID, obs); err != nil {
		return err
	}
	txHash := ev.TxHash
	block := ev.BlockNumber
	d.TxHash = &txHash
	d.BlockNumber = &block
	d.ObservedAmount = decimal.NewNullDecimal(ev.Amount)
	return nil
}

// confirm 状态流转和加余额在同一个事务里，入账金额以链上为准
func (r *Reconciler) confirm(ctx context.Context, d *domain.DepositRecord, ev *domain.CandidateEvent) error {
	now := r.now()
	if err := r.store.MarkConfirmed(ctx, d.ID, ev.Amount, domain.ConfirmedByScanner, now); err != nil {
		return err
	}
	symbol := d.Symbol
	if symbol == "" {
		symbol = ev.Symbol
	}
	if err := r.store.AddAvailable(ctx, d.UserID, symbol, ev.Amount); err != nil {
		return err
	}
	d.Status = domain.DepositConfirmed
	d.Amount = ev.Amount
	d.ConfirmedAt = &now
	d.ConfirmedBy = domain.ConfirmedByScanner
	return nil
}

func (r *Reconciler) withinTolerance(reported, observed decimal.Decimal) bool {
	return reported.Sub(observed).Abs().LessThanOrEqual(r.tolerance)
}

func (r *Reconciler) notify(ctx context.Context, outcome domain.Outcome, rec *domain.DepositRecord, ev *domain.CandidateEvent) {
	if r.notifier == nil || rec == nil {
		return
	}
	var err error
	switch outcome {
	case domain.OutcomeCredited:
		err = r.notifier.Credited(ctx, rec)
	case domain.OutcomeAmountMismatch:
		err = r.notifier.Mismatch(ctx, rec, ev)
	default:
		return
	}
	if err != nil {
		logger.Warn(ctx, "deposit notify failed", zap.String("outcome", string(outcome)), zap.Int64("deposit_id", rec.ID), zap.Error(err))
	}
}
