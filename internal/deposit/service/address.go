package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/singleflight"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/logger"
	"tronex.com/pkg/metrics"
	"tronex.com/pkg/xerr"
)

// assignTimeout 合并后的分配不跟随某个调用方取消，单独限时
const assignTimeout = 10 * time.Second

type RegistryOptions struct {
	MaxRetries  int           // index 冲突后的重试次数
	BaseBackoff time.Duration // 退避基数，实际等待带随机抖动
}

type AddressService struct {
	store   Store
	deriver Deriver
	opts    RegistryOptions
	sf      singleflight.Group
}

func NewAddressService(store Store, deriver Deriver, opts RegistryOptions) *AddressService {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 20 * time.Millisecond
	}
	return &AddressService{store: store, deriver: deriver, opts: opts}
}

// GetOrCreateAddress 一个用户只会分到一个地址，之后永远返回同一个
func (s *AddressService) GetOrCreateAddress(ctx context.Context, userID string) (*domain.UserAddress, error) {
	if userID == "" {
		return nil, xerr.New(xerr.RequestParamsError, "userId 不能为空")
	}
	a, err := s.store.GetAddressByUser(ctx, userID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, xerr.Wrap(err, xerr.TransientError, "地址服务繁忙，请重试")
	}

	// 同一个用户的并发首次请求合并成一次分配，调用方各自按自己的 ctx 放弃等待
	ch := s.sf.DoChan(userID, func() (interface{}, error) {
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), assignTimeout)
		defer cancel()
		return s.assign(actx, userID)
	})
	select {
	case <-ctx.Done():
		return nil, xerr.Wrap(ctx.Err(), xerr.TransientError, "地址分配已取消，请重试")
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.UserAddress), nil
	}
}

func (s *AddressService) assign(ctx context.Context, userID string) (*domain.UserAddress, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.AddressAssignRetryTotal.Inc()
			if err := s.backoff(ctx, attempt); err != nil {
				return nil, xerr.Wrap(err, xerr.TransientError, "地址分配已取消，请重试")
			}
		}

		var created *domain.UserAddress
		err := s.store.Transaction(ctx, func(txCtx context.Context) error {
			if a, err := s.store.GetAddressByUser(txCtx, userID); err == nil {
				created = a
				return nil
			} else if !errors.Is(err, domain.ErrNotFound) {
				return err
			}

			idx, err := s.store.NextDerivationIndex(txCtx)
			if err != nil {
				return err
			}
			if idx < 0 || idx > math.MaxUint32 {
				return fmt.Errorf("derivation index %d out of range", idx)
			}
			addr, err := s.deriver.DeriveAddress(uint32(idx))
			if err != nil {
				return fmt.Errorf("derive index %d: %w", idx, err)
			}
			ua := &domain.UserAddress{UserID: userID, Address: addr, DerivationIndex: idx}
			if err := s.store.CreateAddress(txCtx, ua); err != nil {
				return err
			}
			created = ua
			return nil
		})
		if err == nil {
			metrics.AddressAssignedTotal.Inc()
			logger.Info(ctx, "deposit address assigned",
				zap.String("user_id", userID),
				zap.String("address", created.Address),
				zap.Int64("derivation_index", created.DerivationIndex),
				zap.Int("attempt", attempt),
			)
			return created, nil
		}
		if !errors.Is(err, domain.ErrDuplicateKey) {
			logger.Error(ctx, "assign deposit address failed", zap.String("user_id", userID), zap.Error(err))
			return nil, xerr.Wrap(err, xerr.TransientError, "地址分配失败，请重试")
		}

		// 唯一键冲突：可能是别的实例已经给这个用户分配了，也可能只是 index 被抢
		if a, rerr := s.store.GetAddressByUser(ctx, userID); rerr == nil {
			return a, nil
		}
		logger.Warn(ctx, "derivation index conflict, retrying",
			zap.String("user_id", userID), zap.Int("attempt", attempt), zap.Error(err))
		lastErr = err
	}
	return nil, xerr.Wrap(lastErr, xerr.TransientError, "地址分配繁忙，请重试")
}

func (s *AddressService) backoff(ctx context.Context, attempt int) error {
	base := s.opts.BaseBackoff * time.Duration(attempt)
	wait := base + time.Duration(rand.Int63n(int64(base)+1))
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GetAddress 运维查询，只有地址和 index
func (s *AddressService) GetAddress(ctx context.Context, userID string) (*domain.UserAddress, error) {
	a, err := s.store.GetAddressByUser(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, xerr.Wrap(err, xerr.RecordNotFound, "用户还没有充值地址")
		}
		return nil, err
	}
	return a, nil
}

func (s *AddressService) ListAddresses(ctx context.Context, page, limit int) ([]*domain.UserAddress, int64, error) {
	return s.store.ListAddresses(ctx, page, limit)
}
