package scanner

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"tronex.com/internal/deposit/domain"
	"tronex.com/internal/deposit/repo"
	"tronex.com/internal/deposit/service"
	"tronex.com/pkg/hdwallet"
)

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

// fakeChain 内存里的链，块哈希固定为 h<高度>
type fakeChain struct {
	mu     sync.Mutex
	tip    int64
	blocks map[int64]*domain.StandardBlock
	fail   map[int64]int
}

func newFakeChain(tip int64) *fakeChain {
	return &fakeChain{tip: tip, blocks: map[int64]*domain.StandardBlock{}, fail: map[int64]int{}}
}

func blockHash(h int64) string { return fmt.Sprintf("h%d", h) }

func (f *fakeChain) setTip(h int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tip = h
}

func (f *fakeChain) add(h int64, txs ...domain.ChainTransfer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range txs {
		txs[i].BlockHeight = h
	}
	f.blocks[h] = &domain.StandardBlock{Height: h, Hash: blockHash(h), PrevHash: blockHash(h - 1), Transactions: txs}
}

func (f *fakeChain) failOnce(h int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail[h]++
}

func (f *fakeChain) GetBlockHeight(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tip, nil
}

func (f *fakeChain) FetchBlock(_ context.Context, h int64) (*domain.StandardBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[h] > 0 {
		f.fail[h]--
		return nil, fmt.Errorf("node unavailable at %d", h)
	}
	if b, ok := f.blocks[h]; ok {
		return b, nil
	}
	return &domain.StandardBlock{Height: h, Hash: blockHash(h), PrevHash: blockHash(h - 1)}, nil
}

func usdt(to, txHash, amount string) domain.ChainTransfer {
	return domain.ChainTransfer{
		TxHash:      txHash,
		FromAddress: "TSenderXXXXXXXXXXXXXXXXXXXXXXXXXXX",
		ToAddress:   to,
		Contract:    "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t",
		Symbol:      domain.SymbolUSDT,
		Amount:      decimal.RequireFromString(amount),
	}
}

type fixture struct {
	store  *repo.Repo
	chain  *fakeChain
	cp     *service.CheckpointService
	addrs  *service.AddressService
	engine *Engine
}

func newFixture(t *testing.T, tip int64, cfg Config) *fixture {
	t.Helper()
	store := newTestStore(t)
	w, err := hdwallet.NewTron("test test test test test test test test test test test junk")
	require.NoError(t, err)
	if cfg.Chain == "" {
		cfg.Chain = domain.ChainTron
	}
	f := &fixture{
		store: store,
		chain: newFakeChain(tip),
		cp:    service.NewCheckpointService(store, cfg.Chain, time.Minute),
		addrs: service.NewAddressService(store, w, service.RegistryOptions{}),
	}
	rec := service.NewReconciler(store, decimal.Zero, nil)
	f.engine = NewEngine(cfg, f.chain, f.cp, store, NewDirectSink(rec))
	return f
}

func (f *fixture) address(t *testing.T, userID string) string {
	t.Helper()
	a, err := f.addrs.GetOrCreateAddress(context.Background(), userID)
	require.NoError(t, err)
	return a.Address
}

func (f *fixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), userID, domain.SymbolUSDT)
	require.NoError(t, err)
	return b.Available
}

func (f *fixture) checkpoint(t *testing.T) *domain.ScanCheckpoint {
	t.Helper()
	cp, err := f.cp.Snapshot(context.Background())
	require.NoError(t, err)
	return cp
}
