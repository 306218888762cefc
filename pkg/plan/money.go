package plan

import "github.com/shopspring/decimal"

// completionRewardRate is the flat completion bonus. Not tier-dependent.
var completionRewardRate = decimal.RequireFromString("0.20")

var oneHundred = decimal.NewFromInt(100)

// DailyPenaltyStake returns the stake put at risk per plan day:
// dailyAmount * penaltyPercent / 100, rounded to 2 decimal places.
// Non-positive daily amounts yield zero rather than an error; this is a
// display-safety policy, bounds checking belongs to the validator.
func DailyPenaltyStake(dailyAmount decimal.Decimal, penaltyPercent uint8) decimal.Decimal {
	if dailyAmount.Sign() <= 0 {
		return decimal.Zero
	}
	return dailyAmount.Mul(decimal.NewFromInt(int64(penaltyPercent))).Div(oneHundred).Round(2)
}

// TotalSavings returns the full amount saved over the life of a plan.
func TotalSavings(dailyAmount decimal.Decimal, totalDays int) decimal.Decimal {
	if dailyAmount.Sign() <= 0 || totalDays <= 0 {
		return decimal.Zero
	}
	return dailyAmount.Mul(decimal.NewFromInt(int64(totalDays)))
}

// CompletionReward returns the flat 20% bonus paid on top of the accumulated
// savings when a streak is kept to the end.
func CompletionReward(totalSavings decimal.Decimal) decimal.Decimal {
	if totalSavings.Sign() <= 0 {
		return decimal.Zero
	}
	return totalSavings.Mul(completionRewardRate).Round(2)
}

// PoolShare returns a completer's cut of the community reward pool,
// proportional to their stake among all completers' stakes. A zero total
// stake yields zero rather than a division error.
func PoolShare(pool, claimantStake, totalCompleterStake decimal.Decimal) decimal.Decimal {
	if pool.Sign() <= 0 || claimantStake.Sign() <= 0 || totalCompleterStake.Sign() <= 0 {
		return decimal.Zero
	}
	return pool.Mul(claimantStake).Div(totalCompleterStake).Round(2)
}

// FromBaseUnits converts an on-ledger integer amount into its display value
// given the token's decimal places.
func FromBaseUnits(amount uint64, decimals int32) decimal.Decimal {
	return decimal.New(int64(amount), -decimals)
}

// ToBaseUnits converts a display amount into on-ledger base units, truncating
// anything below the token's precision.
func ToBaseUnits(amount decimal.Decimal, decimals int32) uint64 {
	if amount.Sign() <= 0 {
		return 0
	}
	return uint64(amount.Shift(decimals).IntPart())
}
