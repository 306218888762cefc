package plan

import "time"

// Record is a plan as held by the external ledger. The core observes it
// read-only: it is created by a createPlan operation, mutated only by
// payToday operations and by time passing, and terminal once IsCompleted or
// IsFailed is set.
type Record struct {
	ID          uint64 `json:"id"`
	Owner       string `json:"owner"`
	DailyAmount uint64 `json:"daily_amount"` // token base units
	TotalDays   uint32 `json:"total_days"`
	StartTime   int64  `json:"start_time"` // epoch seconds, 0 = not started
	CurrentDay  uint32 `json:"current_day"` // days successfully paid
	MissedDays  uint32 `json:"missed_days"` // days elapsed without payment
	IsActive    bool   `json:"is_active"`
	IsCompleted bool   `json:"is_completed"`
	IsFailed    bool   `json:"is_failed"`
}

// Terminal reports whether the plan has reached a final state. Terminal
// plans accept no further payments and no operation may return them to
// Active.
func (r *Record) Terminal() bool {
	return r.IsCompleted || r.IsFailed
}

// State is the lifecycle state derived from a ledger record.
type State int

const (
	// StateUninitialized means no plan id is known.
	StateUninitialized State = iota
	// StatePendingStart means a plan id is known but the ledger record has
	// not started (or has not been fetched yet).
	StatePendingStart
	StateActive
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePendingStart:
		return "pending_start"
	case StateActive:
		return "active"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "uninitialized"
	}
}

// MarshalText implements encoding.TextMarshaler so states render as their
// names in JSON responses.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

const secondsPerDay = 86_400

// Derived is everything the state machine computes from a record and "now".
// It is a pure function of its inputs: deriving twice from an unchanged
// record yields identical values.
type Derived struct {
	State         State   `json:"state"`
	DaysElapsed   int     `json:"days_elapsed"`
	DaysBehind    int     `json:"days_behind"` // > 0 means behind schedule
	DaysRemaining int     `json:"days_remaining"`
	CanPayToday   bool    `json:"can_pay_today"`
	Progress      float64 `json:"progress"` // percent, clamped to [0, 100]
}

// Derive maps a ledger record and the current time to the plan's lifecycle
// state and display counters.
//
// The grace-period and penalty-accrual rules are enforced by the ledger, not
// recomputed here: Derive only surfaces the ledger-reported CurrentDay and
// MissedDays, it never decides to slash a stake.
func Derive(rec *Record, now time.Time) Derived {
	if rec == nil {
		return Derived{State: StateUninitialized}
	}

	d := Derived{
		Progress:      progress(rec.CurrentDay, rec.TotalDays),
		DaysRemaining: daysRemaining(rec.CurrentDay, rec.TotalDays),
	}

	switch {
	case rec.IsCompleted:
		d.State = StateCompleted
	case rec.IsFailed:
		d.State = StateFailed
	case rec.IsActive:
		d.State = StateActive
	default:
		d.State = StatePendingStart
	}

	if d.State == StateActive && rec.StartTime > 0 {
		elapsed := int((now.Unix() - rec.StartTime) / secondsPerDay)
		if elapsed < 0 {
			elapsed = 0
		}
		d.DaysElapsed = elapsed
		if behind := elapsed - int(rec.CurrentDay) + 1; behind > 0 {
			d.DaysBehind = behind
		}
	}

	// Payment is permitted only while the ledger still reports the plan
	// active.
	d.CanPayToday = d.State == StateActive

	return d
}

func progress(currentDay, totalDays uint32) float64 {
	if totalDays == 0 {
		return 0
	}
	p := float64(currentDay) / float64(totalDays) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func daysRemaining(currentDay, totalDays uint32) int {
	if currentDay >= totalDays {
		return 0
	}
	return int(totalDays - currentDay)
}
