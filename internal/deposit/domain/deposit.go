package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type DepositStatus string

// 充值状态
const (
	DepositPending   DepositStatus = "pending"   // 待确认
	DepositConfirmed DepositStatus = "confirmed" // 已入账
	DepositFailed    DepositStatus = "failed"    // 驳回
)

type DepositSource string

const (
	SourceSelfReport DepositSource = "self_report" // 用户自报
	SourceScanner    DepositSource = "scanner"     // 扫块发现
	SourceManual     DepositSource = "manual"      // 人工补录
)

// DepositRecord 充值记录，TxHash 设置后全局唯一
type DepositRecord struct {
	ID             int64
	UserID         string              `gorm:"size:64;index:idx_user_status"`
	Amount         decimal.Decimal     `gorm:"type:decimal(36,18)"`
	ObservedAmount decimal.NullDecimal `gorm:"type:decimal(36,18)"` // 链上实际金额
	Status         DepositStatus       `gorm:"size:16;index:idx_user_status"`
	Source         DepositSource       `gorm:"size:16"`
	TxHash         *string             `gorm:"size:128;uniqueIndex"`
	Address        string              `gorm:"size:64;index"`
	Symbol         string              `gorm:"size:16"`
	BlockNumber    *int64
	Note           string `gorm:"size:255"`
	ConfirmedAt    *time.Time
	ConfirmedBy    string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (DepositRecord) TableName() string {
	return "deposit_records"
}

type DepositFilter struct {
	UserID string
	Status DepositStatus
}

// Observation 链上观测到的信息，挂到自报记录上
type Observation struct {
	TxHash      string
	BlockNumber int64
	Amount      decimal.Decimal
}

type DepositRepo interface {
	// txHash 冲突返回 ErrDuplicateKey
	CreateDeposit(ctx context.Context, d *DepositRecord) error
	GetDeposit(ctx context.Context, id int64) (*DepositRecord, error)
	GetDepositByTxHash(ctx context.Context, txHash string) (*DepositRecord, error)
	// 用户还没填 txHash 的 pending 自报记录，按创建时间升序
	FindOpenSelfReports(ctx context.Context, userID string) ([]*DepositRecord, error)
	// 只对 pending 且未挂其他 txHash 的记录生效，否则 ErrStateConflict
	AttachObservation(ctx context.Context, id int64, obs Observation) error
	// 人工确认时补 txHash，条件同上；txHash 已被占用返回 ErrDuplicateKey
	SetTxHash(ctx context.Context, id int64, txHash string) error
	// pending -> confirmed 的 CAS，amount 为最终入账金额
	MarkConfirmed(ctx context.Context, id int64, amount decimal.Decimal, by string, at time.Time) error
	// pending -> failed 的 CAS
	MarkFailed(ctx context.Context, id int64, by string, note string) error
	ListDeposits(ctx context.Context, f DepositFilter, page, limit int) ([]*DepositRecord, int64, error)
}
