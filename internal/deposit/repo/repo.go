package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"tronex.com/internal/deposit/domain"
)

type Repo struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

var (
	_ domain.AddressRepo    = (*Repo)(nil)
	_ domain.DepositRepo    = (*Repo)(nil)
	_ domain.BalanceRepo    = (*Repo)(nil)
	_ domain.CheckpointRepo = (*Repo)(nil)
	_ domain.Transactor     = (*Repo)(nil)
)

type txKey struct{}

// Transaction 实现事务，tx 注入到 ctx 中
func (r *Repo) Transaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		// 已经在事务里，直接复用
		return fn(ctx)
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(context.WithValue(ctx, txKey{}, tx))
	})
}

// getDb ctx 里有事务就用事务
func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok {
		return tx.WithContext(ctx)
	}
	return r.db.WithContext(ctx)
}

// AutoMigrate 建表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.UserAddress{},
		&domain.DepositRecord{},
		&domain.UserBalance{},
		&domain.ScanCheckpoint{},
	)
}

// translate 把 gorm 的错误换成领域错误，需要 TranslateError: true
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return domain.ErrDuplicateKey
	default:
		return err
	}
}
