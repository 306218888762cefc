package plan

import "github.com/shopspring/decimal"

// ValidDays reports whether the chosen duration is within the level's bounds.
func (l Level) ValidDays(days int) bool {
	return days >= l.MinDays && days <= l.MaxDays
}

// ValidDailyAmount reports whether the chosen daily amount is positive and
// within the level's bounds.
func (l Level) ValidDailyAmount(amount decimal.Decimal) bool {
	if amount.Sign() <= 0 {
		return false
	}
	return amount.GreaterThanOrEqual(l.MinDailyAmount) && amount.LessThanOrEqual(l.MaxDailyAmount)
}

// CanCreate is the create-plan gate: a level must be chosen and both the
// duration and the daily amount must satisfy its bounds. It is re-evaluated
// on every input change; the transport layer must not bypass it.
func CanCreate(level *Level, days int, amount decimal.Decimal) bool {
	if level == nil {
		return false
	}
	return level.ValidDays(days) && level.ValidDailyAmount(amount)
}
