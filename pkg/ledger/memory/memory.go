// Package memory is an in-process implementation of the ledger contract,
// used in dev mode and in tests. It hosts the rules the real ledger enforces
// on-chain: elapsed-day recomputation, the 2-day grace period, per-day stake
// slashing, the community reward pool, and completion entitlements.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/plan"
)

// DefaultGraceDays is the window after the first missed day during which no
// penalty accrues.
const DefaultGraceDays = 2

type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock

	// GraceDays overrides DefaultGraceDays when > 0.
	GraceDays int

	// AmountDecimals is the token's minor-unit precision, used for
	// entitlement math. Defaults to 2.
	AmountDecimals int32
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Clock == nil {
		return errors.New("clock is required")
	}
	return nil
}

type planState struct {
	rec           plan.Record
	penaltyPerDay uint64
	stakeInitial  uint64
	stakeLeft     uint64
}

// Ledger is a thread-safe in-memory ledger. Plan ids are assigned
// monotonically starting at 1.
type Ledger struct {
	log *slog.Logger
	cfg Config

	mu         sync.Mutex
	nextID     uint64
	plans      map[uint64]*planState
	pool       uint64
	completers map[uint64]uint64 // planID -> stake at completion
	seq        uint64
}

func New(cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.GraceDays <= 0 {
		cfg.GraceDays = DefaultGraceDays
	}
	if cfg.AmountDecimals == 0 {
		cfg.AmountDecimals = 2
	}
	return &Ledger{
		log:        cfg.Logger,
		cfg:        cfg,
		nextID:     1,
		plans:      make(map[uint64]*planState),
		completers: make(map[uint64]uint64),
	}, nil
}

func (l *Ledger) CreatePlan(ctx context.Context, params ledger.CreateParams) (*ledger.CreateResult, error) {
	if params.Owner == "" {
		return nil, ledger.NewValidationError("owner", "must not be empty")
	}
	if params.DailyAmount == 0 {
		return nil, ledger.NewValidationError("daily_amount", "must be positive")
	}
	if params.TotalDays == 0 {
		return nil, ledger.NewValidationError("total_days", "must be positive")
	}
	if params.PenaltyPercent > 100 {
		return nil, ledger.NewValidationError("penalty_percent", "must be at most 100")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := l.nextID
	l.nextID++

	penaltyPerDay := params.DailyAmount * uint64(params.PenaltyPercent) / 100

	l.plans[id] = &planState{
		rec: plan.Record{
			ID:          id,
			Owner:       params.Owner,
			DailyAmount: params.DailyAmount,
			TotalDays:   params.TotalDays,
			StartTime:   l.cfg.Clock.Now().Unix(),
			IsActive:    true,
		},
		penaltyPerDay: penaltyPerDay,
		stakeInitial:  params.PenaltyStake,
		stakeLeft:     params.PenaltyStake,
	}

	l.log.Info("plan created",
		"plan_id", id,
		"owner", params.Owner,
		"daily_amount", params.DailyAmount,
		"total_days", params.TotalDays,
		"penalty_stake", params.PenaltyStake,
	)

	return &ledger.CreateResult{PlanID: id, Signature: l.signature(id)}, nil
}

func (l *Ledger) PayToday(ctx context.Context, planID uint64, amount uint64) (*ledger.PayResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, ok := l.plans[planID]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	l.assess(ps)

	if ps.rec.Terminal() || !ps.rec.IsActive {
		return nil, ledger.ErrNotActive
	}
	if amount != ps.rec.DailyAmount {
		return nil, ledger.NewValidationError("amount",
			fmt.Sprintf("expected %d, got %d", ps.rec.DailyAmount, amount))
	}

	ps.rec.CurrentDay++
	l.recountMissed(ps)

	if ps.rec.CurrentDay >= ps.rec.TotalDays {
		ps.rec.IsCompleted = true
		ps.rec.IsActive = false
		l.completers[planID] = ps.stakeLeft
		l.log.Info("plan completed", "plan_id", planID, "stake_refund", ps.stakeLeft)
	}

	return &ledger.PayResult{Signature: l.signature(planID)}, nil
}

func (l *Ledger) GetPlan(ctx context.Context, planID uint64) (*plan.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, ok := l.plans[planID]
	if !ok {
		return nil, ledger.ErrNotFound
	}

	l.assess(ps)

	rec := ps.rec
	return &rec, nil
}

// Pool returns the aggregate of penalties forfeited by failed plans, in base
// units.
func (l *Ledger) Pool() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pool
}

// Entitlement returns what a completed plan's owner may withdraw: savings,
// stake refund, the flat completion bonus, and a proportional share of the
// community pool. Base units.
func (l *Ledger) Entitlement(planID uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ps, ok := l.plans[planID]
	if !ok {
		return 0, ledger.ErrNotFound
	}
	if !ps.rec.IsCompleted {
		return 0, ledger.ErrNotActive
	}

	dec := l.cfg.AmountDecimals
	savings := plan.TotalSavings(plan.FromBaseUnits(ps.rec.DailyAmount, dec), int(ps.rec.TotalDays))
	bonus := plan.CompletionReward(savings)

	var totalCompleterStake uint64
	for _, stake := range l.completers {
		totalCompleterStake += stake
	}
	share := plan.PoolShare(
		plan.FromBaseUnits(l.pool, dec),
		plan.FromBaseUnits(l.completers[planID], dec),
		plan.FromBaseUnits(totalCompleterStake, dec),
	)

	total := savings.Add(bonus).Add(share).Add(plan.FromBaseUnits(ps.stakeLeft, dec))
	return plan.ToBaseUnits(total, dec), nil
}

// assess applies the passage of time to a plan: recounts missed days and,
// past the grace period, slashes the stake one penalty per additional missed
// day. Stake exhaustion fails the plan and forfeits the remainder to the
// pool. Callers hold l.mu.
func (l *Ledger) assess(ps *planState) {
	if ps.rec.Terminal() || ps.rec.StartTime == 0 {
		return
	}

	l.recountMissed(ps)

	missed := int(ps.rec.MissedDays)
	if missed <= l.cfg.GraceDays {
		return
	}

	owed := uint64(missed-l.cfg.GraceDays) * ps.penaltyPerDay
	if owed > ps.stakeInitial {
		owed = ps.stakeInitial
	}
	already := ps.stakeInitial - ps.stakeLeft
	if owed > already {
		slash := owed - already
		ps.stakeLeft -= slash
		l.pool += slash
		l.log.Debug("stake slashed", "plan_id", ps.rec.ID, "amount", slash, "stake_left", ps.stakeLeft)
	}

	if ps.stakeLeft == 0 && ps.stakeInitial > 0 {
		ps.rec.IsFailed = true
		ps.rec.IsActive = false
		l.log.Info("plan failed", "plan_id", ps.rec.ID, "missed_days", ps.rec.MissedDays)
	}
}

func (l *Ledger) recountMissed(ps *planState) {
	elapsed := (l.cfg.Clock.Now().Unix() - ps.rec.StartTime) / 86_400
	if elapsed < 0 {
		elapsed = 0
	}
	if uint64(elapsed) > uint64(ps.rec.CurrentDay) {
		ps.rec.MissedDays = uint32(uint64(elapsed) - uint64(ps.rec.CurrentDay))
	} else {
		ps.rec.MissedDays = 0
	}
}

func (l *Ledger) signature(planID uint64) string {
	l.seq++
	return fmt.Sprintf("mem-%d-%d", planID, l.seq)
}
