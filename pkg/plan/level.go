// Package plan holds the saving-plan core: the level catalog, plan
// configuration validation, penalty/reward math, and the pure state
// derivation that turns a ledger record plus a point in time into
// everything a client needs to display or gate an action.
package plan

import "github.com/shopspring/decimal"

// Level is a difficulty tier: a named band of allowed (days, dailyAmount)
// combinations with an associated penalty percentage. Levels are defined at
// process start and never mutated.
type Level struct {
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	MinDays        int             `json:"min_days"`
	MaxDays        int             `json:"max_days"`
	MinDailyAmount decimal.Decimal `json:"min_daily_amount"`
	MaxDailyAmount decimal.Decimal `json:"max_daily_amount"`
	PenaltyPercent uint8           `json:"penalty_percent"` // 0-100
}

var levels = []Level{
	{
		Name:           "Sprout",
		Description:    "Tiny amounts, big habit energy. A week or less to get started.",
		MinDays:        3,
		MaxDays:        7,
		MinDailyAmount: decimal.NewFromInt(1),
		MaxDailyAmount: decimal.NewFromInt(5),
		PenaltyPercent: 10,
	},
	{
		Name:           "Steady",
		Description:    "Two weeks of consistent saving with a real stake on the line.",
		MinDays:        7,
		MaxDays:        14,
		MinDailyAmount: decimal.NewFromInt(5),
		MaxDailyAmount: decimal.NewFromInt(20),
		PenaltyPercent: 15,
	},
	{
		Name:           "Ironclad",
		Description:    "Up to a month of daily commitment. Miss days and it costs you.",
		MinDays:        14,
		MaxDays:        30,
		MinDailyAmount: decimal.NewFromInt(20),
		MaxDailyAmount: decimal.NewFromInt(100),
		PenaltyPercent: 25,
	},
}

// Levels returns the level catalog in its fixed display order. The returned
// slice is a copy; callers may not mutate the catalog.
func Levels() []Level {
	out := make([]Level, len(levels))
	copy(out, levels)
	return out
}

// LevelByName looks up a level by its exact name.
func LevelByName(name string) (Level, bool) {
	for _, l := range levels {
		if l.Name == name {
			return l, true
		}
	}
	return Level{}, false
}

// DefaultDays suggests the midpoint of the level's day range, the value
// pre-filled when a user picks the level.
func (l Level) DefaultDays() int {
	return (l.MinDays + l.MaxDays) / 2
}

// DefaultDailyAmount suggests the midpoint of the level's daily-amount range.
func (l Level) DefaultDailyAmount() decimal.Decimal {
	return l.MinDailyAmount.Add(l.MaxDailyAmount).Div(decimal.NewFromInt(2)).Floor()
}
