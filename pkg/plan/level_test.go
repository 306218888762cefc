package plan_test

import (
	"testing"

	"github.com/savelolabs/savelo/pkg/plan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevels_FixedOrderNoDuplicates(t *testing.T) {
	first := plan.Levels()
	second := plan.Levels()
	require.NotEmpty(t, first)
	assert.Equal(t, first, second, "catalog order must be stable")

	seen := map[string]bool{}
	for _, l := range first {
		assert.False(t, seen[l.Name], "duplicate level name %q", l.Name)
		seen[l.Name] = true

		assert.LessOrEqual(t, l.MinDays, l.MaxDays)
		assert.True(t, l.MinDailyAmount.LessThanOrEqual(l.MaxDailyAmount))
		assert.LessOrEqual(t, l.PenaltyPercent, uint8(100))
	}

	// Mutating a returned slice must not leak into the catalog.
	first[0].Name = "mutated"
	assert.NotEqual(t, "mutated", plan.Levels()[0].Name)
}

func TestValidDays_Bounds(t *testing.T) {
	for _, l := range plan.Levels() {
		for d := l.MinDays; d <= l.MaxDays; d++ {
			assert.True(t, l.ValidDays(d), "%s: %d days should be valid", l.Name, d)
		}
		assert.False(t, l.ValidDays(l.MinDays-1), "%s: below min", l.Name)
		assert.False(t, l.ValidDays(l.MaxDays+1), "%s: above max", l.Name)
	}
}

func TestValidDailyAmount(t *testing.T) {
	l, ok := plan.LevelByName("Sprout")
	require.True(t, ok)

	assert.True(t, l.ValidDailyAmount(l.MinDailyAmount))
	assert.True(t, l.ValidDailyAmount(l.MaxDailyAmount))
	assert.False(t, l.ValidDailyAmount(l.MinDailyAmount.Sub(dec("0.01"))))
	assert.False(t, l.ValidDailyAmount(l.MaxDailyAmount.Add(dec("0.01"))))
	assert.False(t, l.ValidDailyAmount(dec("0")))
	assert.False(t, l.ValidDailyAmount(dec("-1")))
}

func TestCanCreate(t *testing.T) {
	l, ok := plan.LevelByName("Steady")
	require.True(t, ok)

	assert.True(t, plan.CanCreate(&l, l.DefaultDays(), l.DefaultDailyAmount()))
	assert.False(t, plan.CanCreate(nil, 10, dec("10")), "nil level never creates")
	assert.False(t, plan.CanCreate(&l, l.MaxDays+1, dec("10")))
	assert.False(t, plan.CanCreate(&l, 10, l.MaxDailyAmount.Add(dec("1"))))
}

func TestLevelDefaults_WithinBounds(t *testing.T) {
	for _, l := range plan.Levels() {
		assert.True(t, l.ValidDays(l.DefaultDays()), "%s default days out of bounds", l.Name)
		assert.True(t, l.ValidDailyAmount(l.DefaultDailyAmount()), "%s default amount out of bounds", l.Name)
	}
}

func TestLevelByName_Unknown(t *testing.T) {
	_, ok := plan.LevelByName("nope")
	assert.False(t, ok)
}
