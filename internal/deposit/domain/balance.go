package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// UserBalance 用户余额，按币种一行，只由入账和人工调整修改，不从充值记录汇总
type UserBalance struct {
	UserID    string          `gorm:"primaryKey;size:64"`
	Symbol    string          `gorm:"primaryKey;size:16"`
	Available decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	Frozen    decimal.Decimal `gorm:"type:decimal(36,18);default:0"`
	Version   int64           `gorm:"default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (UserBalance) TableName() string {
	return "user_balances"
}

type BalanceRepo interface {
	// AddAvailable 可用余额累加，记录不存在则创建
	AddAvailable(ctx context.Context, userID, symbol string, amount decimal.Decimal) error
	// 没有记录时返回零值余额
	GetBalance(ctx context.Context, userID, symbol string) (*UserBalance, error)
}
