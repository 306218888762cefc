// Package engine coordinates the core against its collaborators: it gates
// mutations behind the validator, serializes them per plan, keeps the wallet
// index in step with the ledger, and re-fetches records after confirmations
// to absorb propagation lag.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/savelolabs/savelo/pkg/ledger"
	"github.com/savelolabs/savelo/pkg/metrics"
	"github.com/savelolabs/savelo/pkg/plan"
	"github.com/savelolabs/savelo/pkg/walletindex"
	"github.com/shopspring/decimal"
)

// ErrMutationInFlight means a createPlan/payToday for the same plan (or the
// same wallet's pending create) has not been confirmed yet. The caller should
// wait for the outcome rather than resubmit.
var ErrMutationInFlight = errors.New("a previous operation is still pending confirmation")

const defaultRefetchDelay = 3 * time.Second

type Config struct {
	Logger *slog.Logger
	Ledger ledger.Ledger
	Index  *walletindex.Store
	Clock  clockwork.Clock

	// RefetchDelay is how long after the immediate post-confirmation fetch
	// the engine fetches once more. Defaults to 3s.
	RefetchDelay time.Duration

	// AmountDecimals is the ledger token's minor-unit precision. Defaults
	// to 2.
	AmountDecimals int32
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Index == nil {
		return errors.New("wallet index is required")
	}
	if cfg.Clock == nil {
		return errors.New("clock is required")
	}
	return nil
}

type Engine struct {
	log *slog.Logger
	cfg Config

	mu       sync.Mutex
	inflight map[string]struct{}
}

func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.RefetchDelay <= 0 {
		cfg.RefetchDelay = defaultRefetchDelay
	}
	if cfg.AmountDecimals == 0 {
		cfg.AmountDecimals = 2
	}
	return &Engine{
		log:      cfg.Logger,
		cfg:      cfg,
		inflight: make(map[string]struct{}),
	}, nil
}

// CreateRequest is a user's proposed plan configuration.
type CreateRequest struct {
	Wallet      string
	LevelName   string
	Days        int
	DailyAmount decimal.Decimal
}

// CreatePlan validates the request against the chosen level, derives the
// penalty stake, and submits the create to the ledger. At most one create per
// wallet is in flight at a time.
func (e *Engine) CreatePlan(ctx context.Context, req CreateRequest) (*ledger.CreateResult, *plan.Record, error) {
	level, ok := plan.LevelByName(req.LevelName)
	if !ok {
		return nil, nil, ledger.NewValidationError("level", fmt.Sprintf("unknown level %q", req.LevelName))
	}
	if !level.ValidDays(req.Days) {
		return nil, nil, ledger.NewValidationError("days",
			fmt.Sprintf("must be between %d and %d for %s", level.MinDays, level.MaxDays, level.Name))
	}
	if !level.ValidDailyAmount(req.DailyAmount) {
		return nil, nil, ledger.NewValidationError("daily_amount",
			fmt.Sprintf("must be between %s and %s for %s", level.MinDailyAmount, level.MaxDailyAmount, level.Name))
	}
	if req.Wallet == "" {
		return nil, nil, ledger.NewValidationError("wallet", "must not be empty")
	}

	key := "create:" + strings.ToLower(req.Wallet)
	if !e.acquire(key) {
		return nil, nil, ErrMutationInFlight
	}
	defer e.release(key)

	stake := plan.DailyPenaltyStake(req.DailyAmount, level.PenaltyPercent)
	params := ledger.CreateParams{
		Owner:          req.Wallet,
		DailyAmount:    plan.ToBaseUnits(req.DailyAmount, e.cfg.AmountDecimals),
		TotalDays:      uint32(req.Days),
		PenaltyStake:   plan.ToBaseUnits(stake, e.cfg.AmountDecimals),
		PenaltyPercent: level.PenaltyPercent,
	}

	start := time.Now()
	res, err := e.cfg.Ledger.CreatePlan(ctx, params)
	metrics.RecordLedgerCall("createPlan", time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("plan created",
		"plan_id", res.PlanID,
		"wallet", req.Wallet,
		"level", level.Name,
		"days", req.Days,
		"signature", res.Signature,
	)

	if err := e.cfg.Index.AddPlan(ctx, req.Wallet, res.PlanID); err != nil {
		// The ledger already confirmed; reconciliation re-derives the index
		// on the next load, so log and move on.
		e.log.Error("failed to record plan in wallet index", "plan_id", res.PlanID, "error", err)
	}

	rec := e.refetch(ctx, res.PlanID)
	return res, rec, nil
}

// PayToday submits one daily payment for the plan after confirming it still
// belongs to the wallet and the ledger still reports it payable. A single
// payment per plan is in flight at a time.
func (e *Engine) PayToday(ctx context.Context, wallet string, planID uint64) (*ledger.PayResult, *plan.Record, error) {
	rec, err := e.cfg.Ledger.GetPlan(ctx, planID)
	if err != nil {
		return nil, nil, err
	}

	// Ownership guard: a mismatched plan is simply not this wallet's to see.
	if !strings.EqualFold(rec.Owner, wallet) {
		e.log.Warn("payment attempted on plan owned by another wallet",
			"plan_id", planID, "wallet", wallet)
		return nil, nil, ledger.ErrNotFound
	}

	derived := plan.Derive(rec, e.cfg.Clock.Now())
	if !derived.CanPayToday {
		return nil, nil, ledger.ErrNotActive
	}

	key := fmt.Sprintf("pay:%d", planID)
	if !e.acquire(key) {
		return nil, nil, ErrMutationInFlight
	}
	defer e.release(key)

	start := time.Now()
	res, err := e.cfg.Ledger.PayToday(ctx, planID, rec.DailyAmount)
	metrics.RecordLedgerCall("payToday", time.Since(start), err)
	if err != nil {
		return nil, nil, err
	}

	e.log.Info("daily payment confirmed", "plan_id", planID, "signature", res.Signature)

	fresh := e.refetch(ctx, planID)
	return res, fresh, nil
}

// ResolveWallet reconciles the wallet's cached plan ids against the ledger
// and returns its current plan, or nil if it has none. Stale, foreign, and
// terminal ids are evicted from the index as a side effect.
func (e *Engine) ResolveWallet(ctx context.Context, wallet string) (*plan.Record, error) {
	ids, err := e.cfg.Index.Plans(ctx, wallet)
	if err != nil {
		return nil, err
	}

	// Old installs kept a single plan id under a global key; migrate it into
	// this wallet's list and let reconciliation decide whether it holds up.
	if len(ids) == 0 {
		legacy, ok, err := e.cfg.Index.LegacyPlanID(ctx)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := e.cfg.Index.AddPlan(ctx, wallet, legacy); err != nil {
				return nil, err
			}
			if err := e.cfg.Index.ClearLegacyPlanID(ctx); err != nil {
				return nil, err
			}
			e.log.Info("migrated legacy plan id into wallet index", "plan_id", legacy, "wallet", wallet)
			ids = []uint64{legacy}
		}
	}

	res, err := walletindex.Resolve(ctx, wallet, ids, e.cfg.Ledger.GetPlan)
	if err != nil {
		return nil, err
	}

	for _, id := range res.Evicted {
		if err := e.cfg.Index.RemovePlan(ctx, wallet, id); err != nil {
			e.log.Error("failed to evict plan from wallet index", "plan_id", id, "error", err)
		} else {
			e.log.Info("evicted plan from wallet index", "plan_id", id, "wallet", wallet)
		}
	}

	outcome := "none"
	if res.Record != nil {
		outcome = "resolved"
	}
	metrics.RecordResolution(outcome, len(res.Evicted))

	return res.Record, nil
}

// GetPlan fetches a plan record directly by id.
func (e *Engine) GetPlan(ctx context.Context, planID uint64) (*plan.Record, error) {
	return e.cfg.Ledger.GetPlan(ctx, planID)
}

// Derive runs the state machine over a record at the engine's current time.
func (e *Engine) Derive(rec *plan.Record) plan.Derived {
	return plan.Derive(rec, e.cfg.Clock.Now())
}

// Decimals reports the ledger token's minor-unit precision.
func (e *Engine) Decimals() int32 {
	return e.cfg.AmountDecimals
}

// refetch reads the record back right after a confirmed mutation and once
// more after a short delay. Best effort: the ledger is eventually consistent
// and a miss here only delays the UI, so failures are logged, not returned.
func (e *Engine) refetch(ctx context.Context, planID uint64) *plan.Record {
	rec, err := e.cfg.Ledger.GetPlan(ctx, planID)
	if err != nil {
		e.log.Warn("post-confirmation fetch failed", "plan_id", planID, "error", err)
	}

	go func() {
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		select {
		case <-bg.Done():
			return
		case <-e.cfg.Clock.After(e.cfg.RefetchDelay):
		}
		if _, err := e.cfg.Ledger.GetPlan(bg, planID); err != nil {
			e.log.Warn("delayed post-confirmation fetch failed", "plan_id", planID, "error", err)
		}
	}()

	return rec
}

func (e *Engine) acquire(key string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[key]; busy {
		return false
	}
	e.inflight[key] = struct{}{}
	return true
}

func (e *Engine) release(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, key)
}
