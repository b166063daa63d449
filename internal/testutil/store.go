package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/firevox/internal/radiation"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/voxel"
)

// Concrete and Air are the materials of the seeded fixtures.
var (
	Concrete = voxel.Material{
		ID: 1, Name: "concrete", Phase: voxel.Solid,
		Density: 2400, ThermalConductivity: 1.4, SpecificHeatCapacity: 880, Emissivity: 0.9,
	}
	Air = voxel.Material{
		ID: 2, Name: "air", Phase: voxel.Fluid,
		Density: 1.2, ThermalConductivity: 0.026, SpecificHeatCapacity: 1005,
	}
)

// NewStore opens a store in a temporary directory, closed on cleanup.
func NewStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "sim.db"))
	if err != nil {
		t.Fatalf("store.Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// Row is a seeded three-voxel simulation.
//
// Voxels (0,0,0), (1,0,0) and (2,0,0) are concrete at 300, 310 and 320 K.
// Plane 1 holds the first two voxels and plane 2 the last one; they see
// each other and the ambient surroundings. A thermometer sits on (2,0,0).
type Row struct {
	Settings store.Settings
	Catalog  voxel.Catalog
	Keys     []voxel.Key
	Planes   []*radiation.Plane
}

// SeedRow writes the Row fixture into s. Counters are initialized at
// generation 0 with no work published.
func SeedRow(t *testing.T, s *store.Store, maxGenerations int64) Row {
	t.Helper()
	ctx := context.Background()

	catalog, err := voxel.NewCatalog(Concrete, Air)
	if err != nil {
		t.Fatalf("NewCatalog() failed: %v", err)
	}
	row := Row{
		Settings: store.Settings{
			SimulationID:       "row",
			Bounds:             voxel.Bounds{SizeX: 3, SizeY: 1, SizeZ: 1},
			VoxelLength:        0.1,
			TimeStep:           1,
			AmbientTemperature: 293.15,
			MaxGenerations:     maxGenerations,
			ActivityThreshold:  1e-6,
		},
		Catalog: catalog,
		Keys:    []voxel.Key{voxel.K(0, 0, 0), voxel.K(1, 0, 0), voxel.K(2, 0, 0)},
		Planes: []*radiation.Plane{
			{
				ID: 1,
				A:  voxel.K(0, 0, 0), B: voxel.K(0, 0, 0), C: voxel.K(1, 0, 0), D: voxel.K(1, 0, 0),
				Normal:   voxel.K(0, 0, 1),
				Material: Concrete.ID,
				Members:  []voxel.Key{voxel.K(0, 0, 0), voxel.K(1, 0, 0)},
				Area:     0.02,
				Middle:   voxel.K(0, 0, 0),
				Connections: []radiation.Connection{
					{Source: 1, Destination: 2, ViewFactor: 0.25, SourceVoxels: 2, DestinationVoxels: 1},
					{Source: 1, Destination: radiation.AmbientID, ViewFactor: 0.75, SourceVoxels: 2},
				},
			},
			{
				ID: 2,
				A:  voxel.K(2, 0, 0), B: voxel.K(2, 0, 0), C: voxel.K(2, 0, 0), D: voxel.K(2, 0, 0),
				Normal:   voxel.K(0, 0, -1),
				Material: Concrete.ID,
				Members:  []voxel.Key{voxel.K(2, 0, 0)},
				Area:     0.01,
				Middle:   voxel.K(2, 0, 0),
				Connections: []radiation.Connection{
					{Source: 2, Destination: 1, ViewFactor: 0.5, SourceVoxels: 1, DestinationVoxels: 2},
					{Source: 2, Destination: radiation.AmbientID, ViewFactor: 0.5, SourceVoxels: 1},
				},
			},
		},
	}

	states := make([]voxel.State, len(row.Keys))
	for i, k := range row.Keys {
		states[i] = voxel.NewState(k, Concrete.ID, 300+float64(i)*10, false)
	}

	err = s.Update(ctx, func(tx *store.Tx) error {
		if err := tx.PutSettings(ctx, row.Settings); err != nil {
			return err
		}
		if err := tx.PutMaterials(ctx, catalog); err != nil {
			return err
		}
		if err := tx.PutVoxels(ctx, states); err != nil {
			return err
		}
		if err := tx.PutPlanes(ctx, row.Planes); err != nil {
			return err
		}
		if err := tx.PutThermometers(ctx, []voxel.Key{voxel.K(2, 0, 0)}); err != nil {
			return err
		}
		return tx.InitCounters(ctx, maxGenerations)
	})
	if err != nil {
		t.Fatalf("seed row: %v", err)
	}
	return row
}
