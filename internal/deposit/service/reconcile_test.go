package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tronex.com/internal/deposit/domain"
	"tronex.com/internal/deposit/repo"
	"tronex.com/pkg/xerr"
)

type reconcileFixture struct {
	store    *repo.Repo
	addrs    *AddressService
	deposits *DepositService
	rec      *Reconciler
	notifier *fakeNotifier
}

func newReconcileFixture(t *testing.T, tolerance decimal.Decimal) *reconcileFixture {
	store := newTestStore(t)
	n := &fakeNotifier{}
	return &reconcileFixture{
		store:    store,
		addrs:    NewAddressService(store, newTestWallet(t), RegistryOptions{}),
		deposits: NewDepositService(store, nil),
		rec:      NewReconciler(store, tolerance, n),
		notifier: n,
	}
}

func (f *reconcileFixture) event(t *testing.T, userID, txHash string, amount string, block int64) *domain.CandidateEvent {
	t.Helper()
	a, err := f.addrs.GetOrCreateAddress(context.Background(), userID)
	require.NoError(t, err)
	return &domain.CandidateEvent{
		Chain:       domain.ChainTron,
		TxHash:      txHash,
		Address:     a.Address,
		UserID:      userID,
		Amount:      decimal.RequireFromString(amount),
		Symbol:      domain.SymbolUSDT,
		BlockNumber: block,
	}
}

func (f *reconcileFixture) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := f.store.GetBalance(context.Background(), userID, domain.SymbolUSDT)
	require.NoError(t, err)
	return b.Available
}

func TestReconcile_NewTransferCreditedOnceUnderReplay(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	ctx := context.Background()
	ev := f.event(t, "A", "0xABC", "100", 1000)

	out, err := f.rec.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, out)

	for i := 0; i < 3; i++ {
		replay := f.event(t, "A", "abc", "100", 1000)
		out, err = f.rec.Reconcile(ctx, replay)
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeDuplicateIgnored, out)
	}

	assert.True(t, f.balance(t, "A").Equal(decimal.NewFromInt(100)))
	d, err := f.store.GetDepositByTxHash(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, domain.DepositConfirmed, d.Status)
	assert.Equal(t, domain.SourceScanner, d.Source)
	assert.Equal(t, domain.ConfirmedByScanner, d.ConfirmedBy)
	require.NotNil(t, d.BlockNumber)
	assert.Equal(t, int64(1000), *d.BlockNumber)

	list, total, err := f.store.ListDeposits(ctx, domain.DepositFilter{UserID: "A"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)
	assert.Len(t, f.notifier.credited, 1)
}

func TestReconcile_SelfReportAttached(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	ctx := context.Background()
	ev := f.event(t, "U", "0xdef", "100", 2000)

	self, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	out, err := f.rec.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, out)

	d, err := f.store.GetDeposit(ctx, self.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositConfirmed, d.Status)
	require.NotNil(t, d.TxHash)
	assert.Equal(t, "def", *d.TxHash)
	assert.Equal(t, domain.SourceSelfReport, d.Source)

	_, total, err := f.store.ListDeposits(ctx, domain.DepositFilter{UserID: "U"}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "挂到自报记录上，不新建")
	assert.True(t, f.balance(t, "U").Equal(decimal.NewFromInt(100)))

	out, err = f.rec.Reconcile(ctx, f.event(t, "U", "def", "100", 2000))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicateIgnored, out)
	assert.True(t, f.balance(t, "U").Equal(decimal.NewFromInt(100)))
}

func TestReconcile_AmountMismatch(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	ctx := context.Background()
	_, err := f.addrs.GetOrCreateAddress(ctx, "U")
	require.NoError(t, err)
	self, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		out, err := f.rec.Reconcile(ctx, f.event(t, "U", "0x01", "90", 3000))
		require.NoError(t, err)
		assert.Equal(t, domain.OutcomeAmountMismatch, out)
	}

	assert.True(t, f.balance(t, "U").IsZero())
	d, err := f.store.GetDeposit(ctx, self.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, d.Status, "留给人工处理")
	require.NotNil(t, d.TxHash)
	assert.Equal(t, "01", *d.TxHash)
	assert.True(t, d.ObservedAmount.Valid)
	assert.True(t, d.ObservedAmount.Decimal.Equal(decimal.NewFromInt(90)))
	assert.True(t, d.Amount.Equal(decimal.NewFromInt(100)), "自报金额不被覆盖")
	assert.NotEmpty(t, f.notifier.mismatch)
	assert.Empty(t, f.notifier.credited)
}

func TestReconcile_ManualConfirmThenScannerReplay(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	ctx := context.Background()
	_, err := f.addrs.GetOrCreateAddress(ctx, "U")
	require.NoError(t, err)
	self, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)
	hash := strings.Repeat("7e", 32)

	_, err = f.deposits.ManualConfirm(ctx, self.ID, "ops", "", nil)
	assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err), "没有 txHash 不能人工确认")
	assert.True(t, f.balance(t, "U").IsZero())

	got, err := f.deposits.ManualConfirm(ctx, self.ID, "ops", "0x"+hash, nil)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(decimal.NewFromInt(100)))

	// 扫块之后才看到同一笔转账
	out, err := f.rec.Reconcile(ctx, f.event(t, "U", "0x"+hash, "100", 4000))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeDuplicateIgnored, out)
	assert.True(t, f.balance(t, "U").Equal(decimal.NewFromInt(100)), "只入账一次")

	_, total, err := f.store.ListDeposits(ctx, domain.DepositFilter{UserID: "U"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total, "扫块不再新建记录")
	assert.Empty(t, f.notifier.credited)
}

func TestReconcile_MismatchManualConfirmUsesObservedAmount(t *testing.T) {
	tests := []struct {
		name     string
		override *decimal.Decimal
		want     decimal.Decimal
	}{
		{"不传金额按链上观测入账", nil, decimal.NewFromInt(90)},
		{"运维指定金额", func() *decimal.Decimal { d := decimal.NewFromInt(95); return &d }(), decimal.NewFromInt(95)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(t, decimal.Zero)
			ctx := context.Background()
			_, err := f.addrs.GetOrCreateAddress(ctx, "U")
			require.NoError(t, err)
			self, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(100)})
			require.NoError(t, err)

			out, err := f.rec.Reconcile(ctx, f.event(t, "U", strings.Repeat("5a", 32), "90", 3000))
			require.NoError(t, err)
			require.Equal(t, domain.OutcomeAmountMismatch, out)

			got, err := f.deposits.ManualConfirm(ctx, self.ID, "ops", "", tt.override)
			require.NoError(t, err)
			assert.True(t, got.Amount.Equal(tt.want), got.Amount.String())
			assert.True(t, f.balance(t, "U").Equal(tt.want), f.balance(t, "U").String())
		})
	}
}

func TestReconcile_PicksMatchingSelfReport(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	ctx := context.Background()
	ev := f.event(t, "U", "0x02", "50", 10)

	small, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(20)})
	require.NoError(t, err)
	match, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(50)})
	require.NoError(t, err)

	out, err := f.rec.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, out)

	got, err := f.store.GetDeposit(ctx, match.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositConfirmed, got.Status)
	got, err = f.store.GetDeposit(ctx, small.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, got.Status)
	assert.Nil(t, got.TxHash)
}

func TestReconcile_ExistingRecordCases(t *testing.T) {
	ctx := context.Background()
	txHash := strings.Repeat("ab", 32)

	tests := []struct {
		name        string
		prepare     func(t *testing.T, f *reconcileFixture)
		ev          func(t *testing.T, f *reconcileFixture) *domain.CandidateEvent
		want        domain.Outcome
		wantBalance string
	}{
		{
			name: "自报带txHash且金额一致",
			prepare: func(t *testing.T, f *reconcileFixture) {
				_, err := f.addrs.GetOrCreateAddress(ctx, "U")
				require.NoError(t, err)
				_, err = f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(10), TxHash: "0x" + txHash})
				require.NoError(t, err)
			},
			ev:          func(t *testing.T, f *reconcileFixture) *domain.CandidateEvent { return f.event(t, "U", txHash, "10", 5) },
			want:        domain.OutcomeCredited,
			wantBalance: "10",
		},
		{
			name: "txHash被其他用户自报",
			prepare: func(t *testing.T, f *reconcileFixture) {
				_, err := f.addrs.GetOrCreateAddress(ctx, "other")
				require.NoError(t, err)
				_, err = f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "other", Amount: decimal.NewFromInt(10), TxHash: txHash})
				require.NoError(t, err)
			},
			ev:          func(t *testing.T, f *reconcileFixture) *domain.CandidateEvent { return f.event(t, "U", txHash, "10", 5) },
			want:        domain.OutcomeAmountMismatch,
			wantBalance: "0",
		},
		{
			name: "已驳回的记录",
			prepare: func(t *testing.T, f *reconcileFixture) {
				_, err := f.addrs.GetOrCreateAddress(ctx, "U")
				require.NoError(t, err)
				d, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(10), TxHash: txHash})
				require.NoError(t, err)
				_, err = f.deposits.Reject(ctx, d.ID, "ops", "fake")
				require.NoError(t, err)
			},
			ev:          func(t *testing.T, f *reconcileFixture) *domain.CandidateEvent { return f.event(t, "U", txHash, "10", 5) },
			want:        domain.OutcomeDuplicateIgnored,
			wantBalance: "0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newReconcileFixture(t, decimal.Zero)
			tt.prepare(t, f)
			out, err := f.rec.Reconcile(ctx, tt.ev(t, f))
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			assert.True(t, f.balance(t, "U").Equal(decimal.RequireFromString(tt.wantBalance)))
		})
	}
}

func TestReconcile_Tolerance(t *testing.T) {
	f := newReconcileFixture(t, decimal.RequireFromString("0.5"))
	ctx := context.Background()
	ev := f.event(t, "U", "0x03", "99.6", 1)

	self, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	out, err := f.rec.Reconcile(ctx, ev)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, out)

	d, err := f.store.GetDeposit(ctx, self.ID)
	require.NoError(t, err)
	assert.True(t, d.Amount.Equal(decimal.RequireFromString("99.6")), "按链上金额入账")
	assert.True(t, f.balance(t, "U").Equal(decimal.RequireFromString("99.6")))
}

func TestReconcile_InvalidEvent(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	tests := []struct {
		name string
		ev   *domain.CandidateEvent
	}{
		{"空事件", nil},
		{"没有txHash", &domain.CandidateEvent{UserID: "U", Amount: decimal.NewFromInt(1)}},
		{"没有用户", &domain.CandidateEvent{TxHash: "aa", Amount: decimal.NewFromInt(1)}},
		{"金额为0", &domain.CandidateEvent{TxHash: "aa", UserID: "U"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.rec.Reconcile(context.Background(), tt.ev)
			assert.Equal(t, xerr.RequestParamsError, xerr.CodeOf(err))
		})
	}
}

// flakyBalanceStore 第一次加余额失败，验证整笔回滚
type flakyBalanceStore struct {
	*repo.Repo
	failures int
}

func (s *flakyBalanceStore) AddAvailable(ctx context.Context, userID, symbol string, amount decimal.Decimal) error {
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	return s.Repo.AddAvailable(ctx, userID, symbol, amount)
}

func TestReconcile_AtomicOnFailure(t *testing.T) {
	f := newReconcileFixture(t, decimal.Zero)
	ctx := context.Background()
	flaky := &flakyBalanceStore{Repo: f.store, failures: 1}
	rec := NewReconciler(flaky, decimal.Zero, nil)

	ev := f.event(t, "U", "0x04", "100", 7)
	self, err := f.deposits.CreateDeposit(ctx, CreateDepositInput{UserID: "U", Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	_, err = rec.Reconcile(ctx, ev)
	require.Error(t, err)

	d, err := f.store.GetDeposit(ctx, self.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DepositPending, d.Status)
	assert.Nil(t, d.TxHash, "挂载也要一起回滚")
	assert.True(t, f.balance(t, "U").IsZero())

	// 下一轮扫块重放
	out, err := rec.Reconcile(ctx, f.event(t, "U", "0x04", "100", 7))
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeCredited, out)
	assert.True(t, f.balance(t, "U").Equal(decimal.NewFromInt(100)))
}
