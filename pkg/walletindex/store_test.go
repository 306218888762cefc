package walletindex_test

import (
	"context"
	"path/filepath"
	"testing"

	savelotesting "github.com/savelolabs/savelo/pkg/testing"
	"github.com/savelolabs/savelo/pkg/walletindex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *walletindex.Store {
	t.Helper()
	s, err := walletindex.Open(walletindex.Config{
		Logger: savelotesting.NewLogger(),
		Path:   filepath.Join(t.TempDir(), "index.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AddAndListMostRecentFirst(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPlan(ctx, "walletA", 3))
	require.NoError(t, s.AddPlan(ctx, "walletA", 7))

	ids, err := s.Plans(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{7, 3}, ids)
}

func TestStore_AddMovesExistingToFront(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPlan(ctx, "walletA", 3))
	require.NoError(t, s.AddPlan(ctx, "walletA", 7))
	require.NoError(t, s.AddPlan(ctx, "walletA", 3))

	ids, err := s.Plans(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 7}, ids, "re-adding dedupes and reorders")
}

func TestStore_WalletKeyIsNormalized(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPlan(ctx, "WalletA", 3))

	ids, err := s.Plans(ctx, "walleta")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids)
}

func TestStore_RemovePlan(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPlan(ctx, "walletA", 3))
	require.NoError(t, s.AddPlan(ctx, "walletA", 7))
	require.NoError(t, s.RemovePlan(ctx, "walletA", 7))

	ids, err := s.Plans(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids)

	// Removing an absent id is a no-op.
	require.NoError(t, s.RemovePlan(ctx, "walletA", 99))
}

func TestStore_WalletsAreIsolated(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddPlan(ctx, "walletA", 3))
	require.NoError(t, s.AddPlan(ctx, "walletB", 7))

	ids, err := s.Plans(ctx, "walletA")
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, ids)
}

func TestStore_LegacyPlanID(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, ok, err := s.LegacyPlanID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.SetLegacyPlanID(ctx, 42))

	id, ok, err := s.LegacyPlanID(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.EqualValues(t, 42, id)

	require.NoError(t, s.ClearLegacyPlanID(ctx))
	_, ok, err = s.LegacyPlanID(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
