package barrier

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/testutil"
	"github.com/roach88/firevox/internal/voxel"
)

func newSynchroniser(t *testing.T, maxGenerations int64) (*Synchroniser, *store.Store, testutil.Row) {
	t.Helper()
	s := testutil.NewStore(t)
	row := testutil.SeedRow(t, s, maxGenerations)
	sync, err := Load(context.Background(), s)
	require.NoError(t, err)
	return sync, s, row
}

func TestSynchronise_NotFinished(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	_, err := s.Publish(ctx, store.TopicVoxel, "0,0,0", 0)
	require.NoError(t, err)

	res, err := sync.Synchronise(ctx)
	assert.True(t, simerr.IsIterationNotFinished(err), "got %v", err)
	assert.Equal(t, NotFinished, res.Outcome)

	snap, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Generation)
	assert.Equal(t, int64(1), snap.ScheduledVoxels)

	st, err := s.Voxel(ctx, voxel.K(1, 0, 0))
	require.NoError(t, err)
	_, ok := st.At(1)
	assert.False(t, ok, "a failed check must not carry anything forward")
}

func TestSynchronise_CarriesForwardIdleGeneration(t *testing.T) {
	sync, s, row := newSynchroniser(t, 3)
	ctx := context.Background()

	res, err := sync.Synchronise(ctx)
	require.NoError(t, err)

	assert.Equal(t, Advanced, res.Outcome)
	assert.Equal(t, int64(0), res.Closed)
	assert.Equal(t, int64(1), res.Generation)
	assert.Equal(t, int64(3), res.CarriedForward)
	assert.Equal(t, int64(2), res.ScheduledPlanes, "every plane radiates each generation")
	assert.Equal(t, int64(1), res.Readings)

	got, err := s.Voxels(ctx, row.Keys)
	require.NoError(t, err)
	for _, k := range row.Keys {
		slot, ok := got[k].At(1)
		require.True(t, ok)
		assert.Equal(t, got[k].Temperature(0), slot.Temperature)
	}

	snap, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.CounterSnapshot{
		Generation:      1,
		MaxGenerations:  3,
		ScheduledPlanes: 2,
	}, snap)
}

func TestSynchronise_AppliesRadiation(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	// ΔT = q·Δt/(n·ρ·V·c); with ρ=2400, c=880, V=0.001:
	// source (n=2) loses 1 K per voxel, destination (n=1) gains 2 K.
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.AddFlux(ctx, 1, 2, 4224)
	}))

	res, err := sync.Synchronise(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FluxConnections)
	assert.Equal(t, int64(3), res.ScheduledVoxels)

	got, err := s.Voxels(ctx, []voxel.Key{voxel.K(0, 0, 0), voxel.K(1, 0, 0), voxel.K(2, 0, 0)})
	require.NoError(t, err)
	assert.InDelta(t, 299.0, got[voxel.K(0, 0, 0)].Temperature(1), 1e-9)
	assert.InDelta(t, 309.0, got[voxel.K(1, 0, 0)].Temperature(1), 1e-9)
	assert.InDelta(t, 322.0, got[voxel.K(2, 0, 0)].Temperature(1), 1e-9)
	assert.InDelta(t, 300.0, got[voxel.K(0, 0, 0)].Temperature(0), 1e-9, "generation 0 is untouched")

	total, err := s.TotalFlux(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)

	readings, err := s.Readings(ctx)
	require.NoError(t, err)
	require.Len(t, readings, 1)
	assert.InDelta(t, 322.0, readings[0].Temperature, 1e-9)

	snap, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.ScheduledVoxels)
	assert.Equal(t, int64(2), snap.ScheduledPlanes)
}

func TestSynchronise_AmbientOnlyCoolsSource(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.AddFlux(ctx, 2, 0, 2112)
	}))

	res, err := sync.Synchronise(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.ScheduledVoxels)

	got, err := s.Voxels(ctx, []voxel.Key{voxel.K(0, 0, 0), voxel.K(2, 0, 0)})
	require.NoError(t, err)
	assert.InDelta(t, 319.0, got[voxel.K(2, 0, 0)].Temperature(1), 1e-9)
	assert.InDelta(t, 300.0, got[voxel.K(0, 0, 0)].Temperature(1), 1e-9)
}

func TestSynchronise_BoundaryVoxelsHold(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	_, err := s.DB().Exec(`UPDATE voxels SET boundary = 1 WHERE x = 0`)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.AddFlux(ctx, 1, 2, 4224)
	}))

	res, err := sync.Synchronise(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.ScheduledVoxels, "boundary voxels are never scheduled")

	got, err := s.Voxels(ctx, []voxel.Key{voxel.K(0, 0, 0), voxel.K(1, 0, 0), voxel.K(2, 0, 0)})
	require.NoError(t, err)
	assert.InDelta(t, 300.0, got[voxel.K(0, 0, 0)].Temperature(1), 1e-9)
	// The whole loss lands on the one heated member: 4224/(1·ρ·V·c) = 2 K.
	assert.InDelta(t, 308.0, got[voxel.K(1, 0, 0)].Temperature(1), 1e-9)
	assert.InDelta(t, 322.0, got[voxel.K(2, 0, 0)].Temperature(1), 1e-9)
}

func TestSynchronise_HeatsEachMemberByItsOwnMaterial(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	_, err := s.DB().Exec(`UPDATE voxels SET material_even = ? WHERE x = 1`, testutil.Air.ID)
	require.NoError(t, err)
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.AddFlux(ctx, 1, 2, 4224)
	}))

	_, err = sync.Synchronise(ctx)
	require.NoError(t, err)

	got, err := s.Voxels(ctx, []voxel.Key{voxel.K(0, 0, 0), voxel.K(1, 0, 0)})
	require.NoError(t, err)
	volume := 0.001
	concrete := 4224 / (2 * volume * testutil.Concrete.Density * testutil.Concrete.SpecificHeatCapacity)
	air := 4224 / (2 * volume * testutil.Air.Density * testutil.Air.SpecificHeatCapacity)
	assert.InDelta(t, 300.0-concrete, got[voxel.K(0, 0, 0)].Temperature(1), 1e-9)
	assert.InDelta(t, 310.0-air, got[voxel.K(1, 0, 0)].Temperature(1), 1e-6)
}

func TestSynchronise_TerminatesAtLastGeneration(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 1)
	ctx := context.Background()

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.AddFlux(ctx, 1, 2, 4224)
	}))

	res, err := sync.Synchronise(ctx)
	require.NoError(t, err)
	assert.Equal(t, Terminated, res.Outcome)
	assert.Equal(t, int64(1), res.Generation)
	assert.Zero(t, res.ScheduledVoxels, "nothing is scheduled past the last generation")
	assert.Zero(t, res.ScheduledPlanes)

	pending, err := s.PendingMessages(ctx)
	require.NoError(t, err)
	assert.Zero(t, pending)

	again, err := sync.Synchronise(ctx)
	require.NoError(t, err)
	assert.Equal(t, Terminated, again.Outcome)
	assert.Equal(t, again.Closed, again.Generation, "a terminated simulation does not advance")
}

func TestSynchronise_AllOrNothing(t *testing.T) {
	_, s, row := newSynchroniser(t, 3)
	ctx := context.Background()

	// A catalog without the planes' material fails mid-transaction.
	broken := New(s, row.Settings, voxel.Catalog{})
	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		return tx.AddFlux(ctx, 1, 2, 4224)
	}))

	_, err := broken.Synchronise(ctx)
	require.Error(t, err)

	snap, err := s.Counters(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), snap.Generation)

	st, err := s.Voxel(ctx, voxel.K(1, 0, 0))
	require.NoError(t, err)
	_, ok := st.At(1)
	assert.False(t, ok, "carry forward must roll back")

	total, err := s.TotalFlux(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 4224.0, total, 1e-9, "flux is kept for the next attempt")
}

func TestVerifyIterationFinish(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	assert.NoError(t, sync.VerifyIterationFinish(ctx, 0))
	assert.True(t, simerr.IsIterationNotFinished(sync.VerifyIterationFinish(ctx, 1)),
		"only the current generation can be finished")

	_, err := s.Publish(ctx, store.TopicPlane, "1", 0)
	require.NoError(t, err)
	assert.True(t, simerr.IsIterationNotFinished(sync.VerifyIterationFinish(ctx, 0)))

	require.NoError(t, s.Update(ctx, func(tx *store.Tx) error {
		_, err := tx.Complete(ctx, store.TopicPlane, "1", 0, "w1")
		return err
	}))
	assert.NoError(t, sync.VerifyIterationFinish(ctx, 0))
}

func TestResetCounters_RejectsWrongGeneration(t *testing.T) {
	sync, s, _ := newSynchroniser(t, 3)
	ctx := context.Background()

	err := s.Update(ctx, func(tx *store.Tx) error {
		return sync.ResetCounters(ctx, tx, 4)
	})
	assert.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "not-finished", NotFinished.String())
	assert.Equal(t, "advanced", Advanced.String())
	assert.Equal(t, "terminated", Terminated.String())
	assert.Equal(t, "unknown", Outcome(9).String())
}
