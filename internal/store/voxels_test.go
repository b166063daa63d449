package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/firevox/internal/voxel"
)

func TestVoxel_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	keys := seedTestSimulation(t, s, 5)

	st, err := s.Voxel(ctx, keys[1])
	require.NoError(t, err)

	assert.Equal(t, keys[1], st.Key)
	slot, ok := st.At(0)
	require.True(t, ok, "generation 0 must be materialized")
	assert.Equal(t, testConcrete.ID, slot.Material)
	assert.InDelta(t, 310.0, slot.Temperature, 1e-12)

	_, ok = st.At(1)
	assert.False(t, ok, "odd slot is unwritten")
	assert.Equal(t, int64(-1), st.Slots[1].Generation)
}

func TestVoxel_NotFound(t *testing.T) {
	s := createTestStore(t)
	seedTestSimulation(t, s, 5)

	_, err := s.Voxel(context.Background(), voxel.K(9, 9, 9))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVoxels_OmitsMissingKeys(t *testing.T) {
	s := createTestStore(t)
	keys := seedTestSimulation(t, s, 5)

	got, err := s.Voxels(context.Background(), []voxel.Key{keys[0], voxel.K(5, 5, 5), keys[2]})
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Contains(t, got, keys[0])
	assert.Contains(t, got, keys[2])
	assert.NotContains(t, got, voxel.K(5, 5, 5))
}

func TestVoxels_SpansBatches(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	states := make([]voxel.State, 0, voxelBatch+50)
	keys := make([]voxel.Key, 0, voxelBatch+50)
	for i := 0; i < voxelBatch+50; i++ {
		k := voxel.K(i, 0, 0)
		keys = append(keys, k)
		states = append(states, voxel.NewState(k, 1, 300, false))
	}
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		catalog, err := voxel.NewCatalog(testConcrete)
		if err != nil {
			return err
		}
		if err := tx.PutMaterials(ctx, catalog); err != nil {
			return err
		}
		return tx.PutVoxels(ctx, states)
	}))

	got, err := s.Voxels(ctx, keys)
	require.NoError(t, err)
	assert.Len(t, got, voxelBatch+50)

	n, err := s.CountVoxels(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(voxelBatch+50), n)
}

func TestWriteSlot_UsesParity(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	keys := seedTestSimulation(t, s, 5)

	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		return tx.WriteSlot(ctx, keys[0], 1, voxel.Slot{Material: 1, Temperature: 350})
	}))

	st, err := s.Voxel(ctx, keys[0])
	require.NoError(t, err)

	next, ok := st.At(1)
	require.True(t, ok)
	assert.InDelta(t, 350.0, next.Temperature, 1e-12)

	prev, ok := st.At(0)
	require.True(t, ok, "writing generation 1 must not touch generation 0")
	assert.InDelta(t, 300.0, prev.Temperature, 1e-12)
}

func TestWriteSlot_MissingVoxel(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	seedTestSimulation(t, s, 5)

	err := s.Update(ctx, func(tx *Tx) error {
		return tx.WriteSlot(ctx, voxel.K(7, 7, 7), 1, voxel.Slot{Material: 1})
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCarryForward_CopiesUnwrittenVoxels(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	keys := seedTestSimulation(t, s, 5)

	var copied int64
	require.NoError(t, s.Update(ctx, func(tx *Tx) error {
		if err := tx.WriteSlot(ctx, keys[0], 1, voxel.Slot{Material: 1, Temperature: 400}); err != nil {
			return err
		}
		var err error
		copied, err = tx.CarryForward(ctx, 0)
		return err
	}))
	assert.Equal(t, int64(2), copied)

	got, err := s.Voxels(ctx, keys)
	require.NoError(t, err)

	written, ok := got[keys[0]].At(1)
	require.True(t, ok)
	assert.InDelta(t, 400.0, written.Temperature, 1e-12, "processed voxel keeps its new value")

	for _, k := range keys[1:] {
		slot, ok := got[k].At(1)
		require.True(t, ok, "voxel %s must materialize generation 1", k)
		assert.InDelta(t, got[k].Temperature(0), slot.Temperature, 1e-12)
	}
}

func TestVoxelKeys_Ordered(t *testing.T) {
	s := createTestStore(t)
	keys := seedTestSimulation(t, s, 5)

	got, err := s.VoxelKeys(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keys, got)
}

func TestSettings_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	ok, err := s.Initialized(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Settings(ctx)
	assert.ErrorIs(t, err, ErrNotFound)

	seedTestSimulation(t, s, 7)

	got, err := s.Settings(ctx)
	require.NoError(t, err)
	assert.Equal(t, "test-simulation", got.SimulationID)
	assert.Equal(t, voxel.Bounds{SizeX: 3, SizeY: 1, SizeZ: 1}, got.Bounds)
	assert.Equal(t, int64(7), got.MaxGenerations)
	assert.InDelta(t, 0.001, got.VoxelVolume(), 1e-15)

	err = s.Update(ctx, func(tx *Tx) error { return tx.PutSettings(ctx, got) })
	assert.Error(t, err, "a database holds one simulation")
}

func TestMaterials_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	seedTestSimulation(t, s, 5)

	catalog, err := s.Materials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, testConcrete, catalog[1])
	assert.Equal(t, testAir, catalog[2])
}
