package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"tronex.com/internal/deposit/domain"
	"tronex.com/internal/deposit/repo"
	"tronex.com/pkg/hdwallet"
)

const testMnemonic = "test test test test test test test test test test test junk"

func newTestStore(t *testing.T) *repo.Repo {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, repo.AutoMigrate(db))
	return repo.New(db)
}

func newTestWallet(t *testing.T) *hdwallet.HDWallet {
	t.Helper()
	w, err := hdwallet.NewTron(testMnemonic)
	require.NoError(t, err)
	return w
}

type fakeNotifier struct {
	mu       sync.Mutex
	credited []int64
	mismatch []int64
}

func (f *fakeNotifier) Credited(_ context.Context, d *domain.DepositRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.credited = append(f.credited, d.ID)
	return nil
}

func (f *fakeNotifier) Mismatch(_ context.Context, d *domain.DepositRecord, _ *domain.CandidateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mismatch = append(f.mismatch, d.ID)
	return nil
}
