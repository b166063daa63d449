package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/firevox/internal/voxel"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var (
	testConcrete = voxel.Material{
		ID: 1, Name: "concrete", Phase: voxel.Solid,
		Density: 2400, ThermalConductivity: 1.4, SpecificHeatCapacity: 880, Emissivity: 0.9,
	}
	testAir = voxel.Material{
		ID: 2, Name: "air", Phase: voxel.Fluid,
		Density: 1.2, ThermalConductivity: 0.026, SpecificHeatCapacity: 1005,
	}
)

// seedTestSimulation writes settings, materials, a 3x1x1 row of concrete
// voxels and counters with the given generation limit.
func seedTestSimulation(t *testing.T, s *Store, maxGenerations int64) []voxel.Key {
	t.Helper()
	ctx := context.Background()

	keys := []voxel.Key{voxel.K(0, 0, 0), voxel.K(1, 0, 0), voxel.K(2, 0, 0)}
	states := make([]voxel.State, len(keys))
	for i, k := range keys {
		states[i] = voxel.NewState(k, testConcrete.ID, 300+float64(i)*10, false)
	}
	catalog, err := voxel.NewCatalog(testConcrete, testAir)
	if err != nil {
		t.Fatalf("NewCatalog() failed: %v", err)
	}
	err = s.Update(ctx, func(tx *Tx) error {
		if err := tx.PutSettings(ctx, Settings{
			SimulationID:       "test-simulation",
			Bounds:             voxel.Bounds{SizeX: 3, SizeY: 1, SizeZ: 1},
			VoxelLength:        0.1,
			TimeStep:           1,
			AmbientTemperature: 293.15,
			MaxGenerations:     maxGenerations,
		}); err != nil {
			return err
		}
		if err := tx.PutMaterials(ctx, catalog); err != nil {
			return err
		}
		if err := tx.PutVoxels(ctx, states); err != nil {
			return err
		}
		return tx.InitCounters(ctx, maxGenerations)
	})
	if err != nil {
		t.Fatalf("seed simulation: %v", err)
	}
	return keys
}
