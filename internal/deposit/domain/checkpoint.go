package domain

import (
	"context"
	"time"
)

// ScanCheckpoint 每条链一行，IsScanning 是带租约的互斥标记
type ScanCheckpoint struct {
	Chain           string `gorm:"primaryKey;size:16"`
	LastBlockHeight int64
	LastBlockHash   string `gorm:"size:128"`
	LastScanAt      *time.Time
	IsScanning      bool
	ScanOwner       string `gorm:"size:64"`
	LeaseUntil      *time.Time
	UpdatedAt       time.Time
}

func (ScanCheckpoint) TableName() string {
	return "scan_checkpoints"
}

type CheckpointRepo interface {
	// 行不存在时插入，已存在不动
	EnsureCheckpoint(ctx context.Context, chain string, initialHeight int64) error
	GetCheckpoint(ctx context.Context, chain string) (*ScanCheckpoint, error)
	// 空闲或租约过期才能抢到
	TryAcquire(ctx context.Context, chain, owner string, now, leaseUntil time.Time) (bool, error)
	// 只有持有者能释放
	Release(ctx context.Context, chain, owner string, now time.Time) error
	// 高度只能前进，ErrCheckpointRegress / ErrLeaseLost
	Advance(ctx context.Context, chain, owner string, height int64, hash string, now time.Time) error
}

// Transactor 事务放在 ctx 里往下传
type Transactor interface {
	Transaction(ctx context.Context, fn func(ctx context.Context) error) error
}
