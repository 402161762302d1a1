package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"tronex.com/internal/deposit/domain"
	"tronex.com/pkg/metrics"
)

// CheckpointService 扫块进度，互斥标记是带租约的，进程崩了过期后别人能接手
type CheckpointService struct {
	store    domain.CheckpointRepo
	chain    string
	owner    string
	leaseTTL time.Duration
	now      func() time.Time
}

func NewCheckpointService(store domain.CheckpointRepo, chain string, leaseTTL time.Duration) *CheckpointService {
	if leaseTTL <= 0 {
		leaseTTL = 5 * time.Minute
	}
	return &CheckpointService{
		store:    store,
		chain:    chain,
		owner:    uuid.NewString(),
		leaseTTL: leaseTTL,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *CheckpointService) Owner() string { return s.owner }

func (s *CheckpointService) Init(ctx context.Context, initialHeight int64) error {
	return s.store.EnsureCheckpoint(ctx, s.chain, initialHeight)
}

func (s *CheckpointService) TryAcquireScan(ctx context.Context) (bool, error) {
	now := s.now()
	return s.store.TryAcquire(ctx, s.chain, s.owner, now, now.Add(s.leaseTTL))
}

func (s *CheckpointService) ReleaseScan(ctx context.Context) error {
	return s.store.Release(ctx, s.chain, s.owner, s.now())
}

// AdvanceTo height 必须大于当前高度
func (s *CheckpointService) AdvanceTo(ctx context.Context, height int64, hash string) error {
	if err := s.store.Advance(ctx, s.chain, s.owner, height, hash, s.now()); err != nil {
		return err
	}
	metrics.ScanHeight.WithLabelValues(s.chain).Set(float64(height))
	return nil
}

func (s *CheckpointService) CurrentHeight(ctx context.Context) (int64, error) {
	cp, err := s.store.GetCheckpoint(ctx, s.chain)
	if err != nil {
		return 0, err
	}
	return cp.LastBlockHeight, nil
}

func (s *CheckpointService) Snapshot(ctx context.Context) (*domain.ScanCheckpoint, error) {
	return s.store.GetCheckpoint(ctx, s.chain)
}
