package engine_test

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/savelolabs/savelo/pkg/engine"
	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/plan"
	savelotesting "github.com/savelolabs/savelo/pkg/testing"
	"github.com/savelolabs/savelo/pkg/walletindex"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLedger struct {
	createPlanFunc func(context.Context, ledger.CreateParams) (*ledger.CreateResult, error)
	payTodayFunc   func(context.Context, uint64, uint64) (*ledger.PayResult, error)
	getPlanFunc    func(context.Context, uint64) (*plan.Record, error)

	getPlanCalls atomic.Int64
}

func (m *mockLedger) CreatePlan(ctx context.Context, params ledger.CreateParams) (*ledger.CreateResult, error) {
	if m.createPlanFunc != nil {
		return m.createPlanFunc(ctx, params)
	}
	return &ledger.CreateResult{PlanID: 1, Signature: "sig-create"}, nil
}

func (m *mockLedger) PayToday(ctx context.Context, planID, amount uint64) (*ledger.PayResult, error) {
	if m.payTodayFunc != nil {
		return m.payTodayFunc(ctx, planID, amount)
	}
	return &ledger.PayResult{Signature: "sig-pay"}, nil
}

func (m *mockLedger) GetPlan(ctx context.Context, planID uint64) (*plan.Record, error) {
	m.getPlanCalls.Add(1)
	if m.getPlanFunc != nil {
		return m.getPlanFunc(ctx, planID)
	}
	return &plan.Record{ID: planID, Owner: "walletA", DailyAmount: 500, TotalDays: 7, StartTime: 1, IsActive: true}, nil
}

func newEngine(t *testing.T, l ledger.Ledger, clock clockwork.Clock) (*engine.Engine, *walletindex.Store) {
	t.Helper()
	idx, err := walletindex.Open(walletindex.Config{
		Logger: savelotesting.NewLogger(),
		Path:   filepath.Join(t.TempDir(), "index.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	e, err := engine.New(engine.Config{
		Logger:       savelotesting.NewLogger(),
		Ledger:       l,
		Index:        idx,
		Clock:        clock,
		RefetchDelay: time.Second,
	})
	require.NoError(t, err)
	return e, idx
}

func TestCreatePlan_SubmitsDerivedStake(t *testing.T) {
	var got ledger.CreateParams
	ml := &mockLedger{
		createPlanFunc: func(ctx context.Context, params ledger.CreateParams) (*ledger.CreateResult, error) {
			got = params
			return &ledger.CreateResult{PlanID: 11, Signature: "sig"}, nil
		},
	}
	clock := clockwork.NewFakeClock()
	e, idx := newEngine(t, ml, clock)

	res, rec, err := e.CreatePlan(context.Background(), engine.CreateRequest{
		Wallet:      "walletA",
		LevelName:   "Sprout",
		Days:        5,
		DailyAmount: decimal.RequireFromString("5"),
	})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.EqualValues(t, 11, res.PlanID)
	assert.NotNil(t, rec, "immediate re-fetch returns the fresh record")

	// 10% of 5.00, in base units of cents.
	assert.EqualValues(t, 500, got.DailyAmount)
	assert.EqualValues(t, 50, got.PenaltyStake)
	assert.EqualValues(t, 10, got.PenaltyPercent)
	assert.EqualValues(t, 5, got.TotalDays)

	ids, err := idx.Plans(context.Background(), "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{11}, ids)
}

func TestCreatePlan_ValidationGates(t *testing.T) {
	e, _ := newEngine(t, &mockLedger{}, clockwork.NewFakeClock())

	tests := []struct {
		name  string
		req   engine.CreateRequest
		field string
	}{
		{
			name:  "unknown level",
			req:   engine.CreateRequest{Wallet: "w", LevelName: "Mythic", Days: 5, DailyAmount: decimal.NewFromInt(3)},
			field: "level",
		},
		{
			name:  "days above bound",
			req:   engine.CreateRequest{Wallet: "w", LevelName: "Sprout", Days: 8, DailyAmount: decimal.NewFromInt(3)},
			field: "days",
		},
		{
			name:  "days below bound",
			req:   engine.CreateRequest{Wallet: "w", LevelName: "Sprout", Days: 2, DailyAmount: decimal.NewFromInt(3)},
			field: "days",
		},
		{
			name:  "amount out of bounds",
			req:   engine.CreateRequest{Wallet: "w", LevelName: "Sprout", Days: 5, DailyAmount: decimal.NewFromInt(50)},
			field: "daily_amount",
		},
		{
			name:  "missing wallet",
			req:   engine.CreateRequest{LevelName: "Sprout", Days: 5, DailyAmount: decimal.NewFromInt(3)},
			field: "wallet",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := e.CreatePlan(context.Background(), tt.req)
			var verr *ledger.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestCreatePlan_SingleInFlightPerWallet(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ml := &mockLedger{
		createPlanFunc: func(ctx context.Context, params ledger.CreateParams) (*ledger.CreateResult, error) {
			close(started)
			<-release
			return &ledger.CreateResult{PlanID: 1, Signature: "sig"}, nil
		},
	}
	e, _ := newEngine(t, ml, clockwork.NewFakeClock())

	req := engine.CreateRequest{
		Wallet:      "walletA",
		LevelName:   "Sprout",
		Days:        5,
		DailyAmount: decimal.NewFromInt(3),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := e.CreatePlan(context.Background(), req)
		assert.NoError(t, err)
	}()

	<-started
	_, _, err := e.CreatePlan(context.Background(), req)
	assert.ErrorIs(t, err, engine.ErrMutationInFlight)

	close(release)
	wg.Wait()
}

func TestPayToday_HappyPath(t *testing.T) {
	var paidAmount uint64
	ml := &mockLedger{
		payTodayFunc: func(ctx context.Context, planID, amount uint64) (*ledger.PayResult, error) {
			paidAmount = amount
			return &ledger.PayResult{Signature: "sig-pay"}, nil
		},
	}
	e, _ := newEngine(t, ml, clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)))

	res, rec, err := e.PayToday(context.Background(), "walletA", 1)
	require.NoError(t, err)
	assert.Equal(t, "sig-pay", res.Signature)
	assert.NotNil(t, rec)
	assert.EqualValues(t, 500, paidAmount, "pays the record's daily amount")
}

func TestPayToday_OwnershipGuard(t *testing.T) {
	ml := &mockLedger{
		getPlanFunc: func(ctx context.Context, planID uint64) (*plan.Record, error) {
			return &plan.Record{ID: planID, Owner: "walletB", DailyAmount: 500, StartTime: 1, IsActive: true}, nil
		},
	}
	e, _ := newEngine(t, ml, clockwork.NewFakeClock())

	_, _, err := e.PayToday(context.Background(), "walletA", 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound, "foreign plans are invisible, not forbidden")
}

func TestPayToday_OwnershipIsCaseInsensitive(t *testing.T) {
	e, _ := newEngine(t, &mockLedger{}, clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)))

	_, _, err := e.PayToday(context.Background(), "WALLETA", 1)
	assert.NoError(t, err)
}

func TestPayToday_TerminalPlanRejected(t *testing.T) {
	ml := &mockLedger{
		getPlanFunc: func(ctx context.Context, planID uint64) (*plan.Record, error) {
			return &plan.Record{ID: planID, Owner: "walletA", DailyAmount: 500, IsCompleted: true}, nil
		},
	}
	e, _ := newEngine(t, ml, clockwork.NewFakeClock())

	_, _, err := e.PayToday(context.Background(), "walletA", 1)
	assert.ErrorIs(t, err, ledger.ErrNotActive)
}

func TestPayToday_SingleInFlightPerPlan(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	ml := &mockLedger{
		payTodayFunc: func(ctx context.Context, planID, amount uint64) (*ledger.PayResult, error) {
			close(started)
			<-release
			return &ledger.PayResult{Signature: "sig"}, nil
		},
	}
	e, _ := newEngine(t, ml, clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0)))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, err := e.PayToday(context.Background(), "walletA", 1)
		assert.NoError(t, err)
	}()

	<-started
	_, _, err := e.PayToday(context.Background(), "walletA", 1)
	assert.ErrorIs(t, err, engine.ErrMutationInFlight)

	close(release)
	wg.Wait()
}

func TestResolveWallet_EvictsThroughIndex(t *testing.T) {
	records := map[uint64]*plan.Record{
		7: {ID: 7, Owner: "walletB", DailyAmount: 500, StartTime: 1, IsActive: true},
		3: {ID: 3, Owner: "walletA", DailyAmount: 500, StartTime: 1, IsActive: true},
	}
	ml := &mockLedger{
		getPlanFunc: func(ctx context.Context, planID uint64) (*plan.Record, error) {
			rec, ok := records[planID]
			if !ok {
				return nil, ledger.ErrNotFound
			}
			return rec, nil
		},
	}
	e, idx := newEngine(t, ml, clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, idx.AddPlan(ctx, "walletA", 3))
	require.NoError(t, idx.AddPlan(ctx, "walletA", 7)) // most recent, wrong owner

	rec, err := e.ResolveWallet(ctx, "walletA")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.EqualValues(t, 3, rec.ID)

	ids, err := idx.Plans(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids, "mismatched id evicted from the index")
}

func TestResolveWallet_LegacyMigration(t *testing.T) {
	e, idx := newEngine(t, &mockLedger{}, clockwork.NewFakeClock())
	ctx := context.Background()

	require.NoError(t, idx.SetLegacyPlanID(ctx, 42))

	rec, err := e.ResolveWallet(ctx, "walletA")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.EqualValues(t, 42, rec.ID)

	ids, err := idx.Plans(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{42}, ids, "legacy id folded into the wallet list")

	_, ok, err := idx.LegacyPlanID(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "legacy key superseded after migration")
}

func TestResolveWallet_NoPlan(t *testing.T) {
	ml := &mockLedger{
		getPlanFunc: func(ctx context.Context, planID uint64) (*plan.Record, error) {
			return nil, ledger.ErrNotFound
		},
	}
	e, _ := newEngine(t, ml, clockwork.NewFakeClock())

	rec, err := e.ResolveWallet(context.Background(), "walletA")
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestPayToday_DelayedRefetch(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	ml := &mockLedger{}
	e, _ := newEngine(t, ml, clock)

	_, _, err := e.PayToday(context.Background(), "walletA", 1)
	require.NoError(t, err)

	// Guard fetch + immediate post-confirmation fetch.
	after := ml.getPlanCalls.Load()
	require.GreaterOrEqual(t, after, int64(2))

	// The delayed fetch fires once the configured delay elapses.
	clock.BlockUntil(1)
	clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		return ml.getPlanCalls.Load() == after+1
	}, 2*time.Second, 10*time.Millisecond)
}
