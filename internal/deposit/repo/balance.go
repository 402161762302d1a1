package repo

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/xerr"
)

// AddAvailable 原子加钱，不存在则插入
func (r *Repo) AddAvailable(ctx context.Context, userID, symbol string, amount decimal.Decimal) error {
	b := domain.UserBalance{
		UserID:    userID,
		Symbol:    symbol,
		Available: amount,
		Frozen:    decimal.Zero,
		Version:   1,
	}
	err := r.getDb(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "symbol"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"available":  gorm.Expr("user_balances.available + ?", amount), // 余额累加
			"version":    gorm.Expr("user_balances.version + 1"),
			"updated_at": time.Now(),
		}),
	}).Create(&b).Error
	if err != nil {
		return xerr.Wrap(err, xerr.DbError, "add balance failed")
	}
	return nil
}

// GetBalance 查不到返回零值
func (r *Repo) GetBalance(ctx context.Context, userID, symbol string) (*domain.UserBalance, error) {
	var b domain.UserBalance
	err := r.getDb(ctx).Where("user_id = ? AND symbol = ?", userID, symbol).First(&b).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &domain.UserBalance{UserID: userID, Symbol: symbol, Available: decimal.Zero, Frozen: decimal.Zero}, nil
		}
		return nil, xerr.Wrap(err, xerr.DbError, "get balance failed")
	}
	return &b, nil
}
