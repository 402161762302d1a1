package domain

import (
	"context"
	"time"
)

// UserAddress 用户充值地址，一个用户一条，创建后不再修改
type UserAddress struct {
	ID              int64
	UserID          string `gorm:"size:64;uniqueIndex"`
	Address         string `gorm:"size:64;uniqueIndex"`
	DerivationIndex int64  `gorm:"uniqueIndex"`
	CreatedAt       time.Time
}

func (UserAddress) TableName() string {
	return "user_addresses"
}

type AddressRepo interface {
	// 查不到返回 ErrNotFound
	GetAddressByUser(ctx context.Context, userID string) (*UserAddress, error)
	// 批量反查，key 是地址，扫块时用
	GetAddressesByAddress(ctx context.Context, addresses []string) (map[string]*UserAddress, error)
	// 已分配最大 index + 1，没有记录时为 0
	NextDerivationIndex(ctx context.Context) (int64, error)
	// 唯一键冲突返回 ErrDuplicateKey
	CreateAddress(ctx context.Context, addr *UserAddress) error
	ListAddresses(ctx context.Context, page, limit int) ([]*UserAddress, int64, error)
}
