package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/xerr"
)

// EnsureCheckpoint 第一次启动时建行，已有进度不覆盖
func (r *Repo) EnsureCheckpoint(ctx context.Context, chain string, initialHeight int64) error {
	cp := domain.ScanCheckpoint{Chain: chain, LastBlockHeight: initialHeight}
	err := r.getDb(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&cp).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "ensure checkpoint failed")
	}
	return nil
}

func (r *Repo) GetCheckpoint(ctx context.Context, chain string) (*domain.ScanCheckpoint, error) {
	var cp domain.ScanCheckpoint
	if err := r.getDb(ctx).Where("chain = ?", chain).First(&cp).Error; err != nil {
		if err = translate(err); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, xerr.Wrap(err, xerr.DbError, "get checkpoint failed")
	}
	return &cp, nil
}

// TryAcquire 抢扫描租约，CAS 语义：空闲或者上一个持有者租约过期
func (r *Repo) TryAcquire(ctx context.Context, chain, owner string, now, leaseUntil time.Time) (bool, error) {
	res := r.getDb(ctx).Model(&domain.ScanCheckpoint{}).
		Where("chain = ? AND (is_scanning = ? OR lease_until IS NULL OR lease_until < ?)", chain, false, now).
		Updates(map[string]interface{}{
			"is_scanning": true,
			"scan_owner":  owner,
			"lease_until": leaseUntil,
		})
	if res.Error != nil {
		return false, xerr.Wrap(res.Error, xerr.DbError, "acquire scan lease failed")
	}
	return res.RowsAffected == 1, nil
}

// Release 只清自己的标记，租约被别人接管后不能误清
func (r *Repo) Release(ctx context.Context, chain, owner string, now time.Time) error {
	err := r.getDb(ctx).Model(&domain.ScanCheckpoint{}).
		Where("chain = ? AND scan_owner = ? AND is_scanning = ?", chain, owner, true).
		Updates(map[string]interface{}{
			"is_scanning":  false,
			"lease_until":  nil,
			"last_scan_at": now,
		}).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "release scan lease failed")
	}
	return nil
}

// Advance 高度只前进，而且必须是当前租约持有者
func (r *Repo) Advance(ctx context.Context, chain, owner string, height int64, hash string, now time.Time) error {
	res := r.getDb(ctx).Model(&domain.ScanCheckpoint{}).
		Where("chain = ? AND last_block_height < ? AND scan_owner = ? AND is_scanning = ?", chain, height, owner, true).
		Updates(map[string]interface{}{
			"last_block_height": height,
			"last_block_hash":   hash,
			"last_scan_at":      now,
		})
	if res.Error != nil {
		return xerr.Wrap(res.Error, xerr.DbError, "advance checkpoint failed")
	}
	if res.RowsAffected == 1 {
		return nil
	}

	cp, err := r.GetCheckpoint(ctx, chain)
	if err != nil {
		return err
	}
	if !cp.IsScanning || cp.ScanOwner != owner {
		return fmt.Errorf("advance %s to %d: %w", chain, height, domain.ErrLeaseLost)
	}
	return fmt.Errorf("advance %s to %d (current %d): %w", chain, height, cp.LastBlockHeight, domain.ErrCheckpointRegress)
}
