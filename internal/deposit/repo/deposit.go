package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/orm"
	"tronex.com/pkg/xerr"
)

// CreateDeposit 创建充值记录
func (r *Repo) CreateDeposit(ctx context.Context, d *domain.DepositRecord) error {
	if err := translate(r.getDb(ctx).Create(d).Error); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return fmt.Errorf("create deposit: %w", err)
		}
		return xerr.Wrap(err, xerr.DbError, "create deposit failed")
	}
	return nil
}

func (r *Repo) GetDeposit(ctx context.Context, id int64) (*domain.DepositRecord, error) {
	return r.firstDeposit(r.getDb(ctx).Where("id = ?", id))
}

func (r *Repo) GetDepositByTxHash(ctx context.Context, txHash string) (*domain.DepositRecord, error) {
	return r.firstDeposit(r.getDb(ctx).Where("tx_hash = ?", txHash))
}

func (r *Repo) firstDeposit(db *gorm.DB) (*domain.DepositRecord, error) {
	var d domain.DepositRecord
	if err := db.First(&d).Error; err != nil {
		if err = translate(err); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, xerr.Wrap(err, xerr.DbError, "get deposit failed")
	}
	return &d, nil
}

func (r *Repo) FindOpenSelfReports(ctx context.Context, userID string) ([]*domain.DepositRecord, error) {
	list := make([]*domain.DepositRecord, 0)
	err := r.getDb(ctx).
		Where("user_id = ? AND status = ? AND source = ? AND tx_hash IS NULL",
			userID, domain.DepositPending, domain.SourceSelfReport).
		Order("created_at ASC, id ASC").
		Find(&list).Error
	if err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "find self reports failed")
	}
	return list, nil
}

// AttachObservation 把链上 txHash/块高/金额挂到 pending 记录上
// 记录已经挂了别的 txHash 时不覆盖，返回 ErrStateConflict
func (r *Repo) AttachObservation(ctx context.Context, id int64, obs domain.Observation) error {
	res := r.getDb(ctx).Model(&domain.DepositRecord{}).
		Where("id = ? AND status = ? AND (tx_hash IS NULL OR tx_hash = ?)", id, domain.DepositPending, obs.TxHash).
		Updates(map[string]interface{}{
			"tx_hash":         obs.TxHash,
			"block_number":    obs.BlockNumber,
			"observed_amount": decimal.NewNullDecimal(obs.Amount),
		})
	if err := translate(res.Error); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return fmt.Errorf("attach tx %s to deposit %d: %w", obs.TxHash, id, err)
		}
		return xerr.Wrap(err, xerr.DbError, "attach observation failed")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deposit %d is not pending or bound to another tx: %w", id, domain.ErrStateConflict)
	}
	return nil
}

// SetTxHash 人工确认前给没有 txHash 的 pending 记录补上，规则同 AttachObservation
func (r *Repo) SetTxHash(ctx context.Context, id int64, txHash string) error {
	res := r.getDb(ctx).Model(&domain.DepositRecord{}).
		Where("id = ? AND status = ? AND (tx_hash IS NULL OR tx_hash = ?)", id, domain.DepositPending, txHash).
		Update("tx_hash", txHash)
	if err := translate(res.Error); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return fmt.Errorf("set tx %s on deposit %d: %w", txHash, id, err)
		}
		return xerr.Wrap(err, xerr.DbError, "set tx hash failed")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deposit %d is not pending or bound to another tx: %w", id, domain.ErrStateConflict)
	}
	return nil
}

// MarkConfirmed pending -> confirmed，必须和加余额在同一个事务里
func (r *Repo) MarkConfirmed(ctx context.Context, id int64, amount decimal.Decimal, by string, at time.Time) error {
	res := r.getDb(ctx).Model(&domain.DepositRecord{}).
		Where("id = ? AND status = ?", id, domain.DepositPending). // 🔒 只能从 pending 走
		Updates(map[string]interface{}{
			"status":       domain.DepositConfirmed,
			"amount":       amount,
			"confirmed_at": at,
			"confirmed_by": by,
		})
	if res.Error != nil {
		return xerr.Wrap(res.Error, xerr.DbError, "confirm deposit failed")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deposit %d is not pending: %w", id, domain.ErrStateConflict)
	}
	return nil
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, by string, note string) error {
	res := r.getDb(ctx).Model(&domain.DepositRecord{}).
		Where("id = ? AND status = ?", id, domain.DepositPending).
		Updates(map[string]interface{}{
			"status":       domain.DepositFailed,
			"confirmed_by": by,
			"note":         note,
		})
	if res.Error != nil {
		return xerr.Wrap(res.Error, xerr.DbError, "reject deposit failed")
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("deposit %d is not pending: %w", id, domain.ErrStateConflict)
	}
	return nil
}

func (r *Repo) ListDeposits(ctx context.Context, f domain.DepositFilter, page, limit int) ([]*domain.DepositRecord, int64, error) {
	query := func() *gorm.DB {
		db := r.getDb(ctx).Model(&domain.DepositRecord{})
		if f.UserID != "" {
			db = db.Where("user_id = ?", f.UserID)
		}
		if f.Status != "" {
			db = db.Where("status = ?", f.Status)
		}
		return db
	}

	var total int64
	if err := query().Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "count deposits failed")
	}
	list := make([]*domain.DepositRecord, 0)
	err := orm.ApplyPagination(query().Order("created_at DESC, id DESC"), page, limit).Find(&list).Error
	if err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "list deposits failed")
	}
	return list, total, nil
}
