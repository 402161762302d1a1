package repo

import (
	"context"
	"errors"
	"fmt"

	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/orm"
	"tronex.com/pkg/xerr"
)

func (r *Repo) GetAddressByUser(ctx context.Context, userID string) (*domain.UserAddress, error) {
	var a domain.UserAddress
	err := r.getDb(ctx).Where("user_id = ?", userID).First(&a).Error
	if err != nil {
		if err = translate(err); errors.Is(err, domain.ErrNotFound) {
			return nil, err
		}
		return nil, xerr.Wrap(err, xerr.DbError, "get address failed")
	}
	return &a, nil
}

func (r *Repo) GetAddressesByAddress(ctx context.Context, addresses []string) (map[string]*domain.UserAddress, error) {
	out := make(map[string]*domain.UserAddress, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	var rows []*domain.UserAddress
	if err := r.getDb(ctx).Where("address IN ?", addresses).Find(&rows).Error; err != nil {
		return nil, xerr.Wrap(err, xerr.DbError, "lookup addresses failed")
	}
	for _, a := range rows {
		out[a.Address] = a
	}
	return out, nil
}

func (r *Repo) NextDerivationIndex(ctx context.Context) (int64, error) {
	var next int64
	err := r.getDb(ctx).Model(&domain.UserAddress{}).
		Select("COALESCE(MAX(derivation_index), -1) + 1").
		Scan(&next).Error
	if err != nil {
		return 0, xerr.Wrap(err, xerr.DbError, "next derivation index failed")
	}
	return next, nil
}

func (r *Repo) CreateAddress(ctx context.Context, addr *domain.UserAddress) error {
	if err := translate(r.getDb(ctx).Create(addr).Error); err != nil {
		if errors.Is(err, domain.ErrDuplicateKey) {
			return fmt.Errorf("create address user=%s index=%d: %w", addr.UserID, addr.DerivationIndex, err)
		}
		return xerr.Wrap(err, xerr.DbError, "create address failed")
	}
	return nil
}

func (r *Repo) ListAddresses(ctx context.Context, page, limit int) ([]*domain.UserAddress, int64, error) {
	var total int64
	if err := r.getDb(ctx).Model(&domain.UserAddress{}).Count(&total).Error; err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "count addresses failed")
	}
	list := make([]*domain.UserAddress, 0)
	db := r.getDb(ctx).Model(&domain.UserAddress{}).Order("derivation_index ASC")
	err := orm.ApplyPagination(db, page, limit).Find(&list).Error
	if err != nil {
		return nil, 0, xerr.Wrap(err, xerr.DbError, "list addresses failed")
	}
	return list, total, nil
}
