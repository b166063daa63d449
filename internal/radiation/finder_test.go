package radiation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/voxel"
)

func testCatalog(t *testing.T) voxel.Catalog {
	t.Helper()
	c, err := voxel.NewCatalog(
		voxel.Material{ID: 1, Name: "concrete", Phase: voxel.Solid, Density: 2400, SpecificHeatCapacity: 880},
		voxel.Material{ID: 2, Name: "brick", Phase: voxel.Solid, Density: 1900, SpecificHeatCapacity: 840},
	)
	require.NoError(t, err)
	return c
}

// roomGrid is a 12³ grid with a floor, a ceiling and one west wall, each
// 10×10 voxels.
func roomGrid() *Grid {
	g := NewGrid(voxel.Bounds{SizeX: 12, SizeY: 12, SizeZ: 12})
	g.Fill(voxel.K(1, 1, 0), voxel.K(10, 10, 0), 1)
	g.Fill(voxel.K(1, 1, 11), voxel.K(10, 10, 11), 1)
	g.Fill(voxel.K(0, 1, 1), voxel.K(0, 10, 10), 1)
	return g
}

var roomSeeds = []Seed{
	{Point: voxel.K(5, 5, 0), Normal: voxel.K(0, 0, 1)},
	{Point: voxel.K(5, 5, 11), Normal: voxel.K(0, 0, -1)},
	{Point: voxel.K(0, 5, 5), Normal: voxel.K(1, 0, 0)},
}

func destinations(p *Plane) []int64 {
	var out []int64
	for _, c := range p.Connections {
		out = append(out, c.Destination)
	}
	return out
}

func connection(t *testing.T, p *Plane, dest int64) Connection {
	t.Helper()
	for _, c := range p.Connections {
		if c.Destination == dest {
			return c
		}
	}
	t.Fatalf("plane %d has no connection to %d", p.ID, dest)
	return Connection{}
}

func TestFinder_Room(t *testing.T) {
	f := NewFinder(roomGrid(), testCatalog(t), WithVoxelLength(0.1), WithPlaneSize(10))
	planes, err := f.Extract(context.Background(), roomSeeds)
	require.NoError(t, err)
	require.Len(t, planes, 3)

	floor, ceiling, wall := planes[0], planes[1], planes[2]
	assert.Equal(t, []int64{1, 2, 3}, []int64{floor.ID, ceiling.ID, wall.ID})
	assert.InDelta(t, 1.0, floor.Area, 1e-12)

	assert.Equal(t, []int64{2, 3, AmbientID}, destinations(floor))
	assert.Equal(t, []int64{1, 3, AmbientID}, destinations(ceiling))
	assert.Equal(t, []int64{1, 2, AmbientID}, destinations(wall))

	assert.InDelta(t, 0.1998248956983868, connection(t, floor, 2).ViewFactor, 1e-9)
	assert.InDelta(t, 0.20004327607765754, connection(t, floor, 3).ViewFactor, 1e-9)
	assert.InDelta(t, 0.20004327607765754, connection(t, ceiling, 3).ViewFactor, 1e-9)

	ambient := connection(t, floor, AmbientID)
	assert.True(t, ambient.Ambient())
	assert.InDelta(t, 1-floor.ViewFactorSum(), ambient.ViewFactor, 1e-12)
	assert.Equal(t, 100, ambient.SourceVoxels)
	assert.Zero(t, ambient.DestinationVoxels)
}

func TestFinder_ReciprocityHoldsForEveryConnection(t *testing.T) {
	f := NewFinder(roomGrid(), testCatalog(t), WithPlaneSize(4))
	planes, err := f.Extract(context.Background(), roomSeeds)
	require.NoError(t, err)
	require.Greater(t, len(planes), 3)

	byID := make(map[int64]*Plane, len(planes))
	for _, p := range planes {
		byID[p.ID] = p
	}

	checked := 0
	for _, a := range planes {
		for _, c := range a.Connections {
			if c.Ambient() {
				continue
			}
			b := byID[c.Destination]
			back := connection(t, b, a.ID)
			assert.InEpsilon(t, a.Area*c.ViewFactor, b.Area*back.ViewFactor, 1e-6)
			assert.Equal(t, a.VoxelCount(), c.SourceVoxels)
			assert.Equal(t, b.VoxelCount(), c.DestinationVoxels)
			checked++
		}
		assert.LessOrEqual(t, a.ViewFactorSum(), 1+viewFactorTolerance)
	}
	assert.Positive(t, checked)
}

func TestFinder_Obstruction(t *testing.T) {
	g := roomGrid()
	g.Set(voxel.K(5, 5, 5), 2)

	f := NewFinder(g, testCatalog(t))
	planes, err := f.Extract(context.Background(), roomSeeds)
	require.NoError(t, err)

	floor := planes[0]
	assert.Equal(t, []int64{3, AmbientID}, destinations(floor))
	assert.False(t, f.Visible(planes[0], planes[1]))
	assert.True(t, f.Visible(planes[0], planes[2]))
}

func TestFinder_DeterministicAcrossWorkers(t *testing.T) {
	extract := func(workers int) []*Plane {
		f := NewFinder(roomGrid(), testCatalog(t), WithPlaneSize(3), WithWorkers(workers))
		planes, err := f.Extract(context.Background(), roomSeeds)
		require.NoError(t, err)
		return planes
	}

	serial, parallel := extract(1), extract(8)
	require.Len(t, parallel, len(serial))
	for i := range serial {
		assert.Equal(t, serial[i].Members, parallel[i].Members)
		assert.Equal(t, serial[i].Connections, parallel[i].Connections)
	}
}

func TestFinder_SkipsDuplicateSeeds(t *testing.T) {
	f := NewFinder(roomGrid(), testCatalog(t))
	seeds := append([]Seed{}, roomSeeds...)
	seeds = append(seeds, Seed{Point: voxel.K(2, 2, 0), Normal: voxel.K(0, 0, 1)})

	planes, err := f.Extract(context.Background(), seeds)
	require.NoError(t, err)
	assert.Len(t, planes, 3)
}

func TestFinder_UnknownMaterialFailsFast(t *testing.T) {
	g := roomGrid()
	g.Fill(voxel.K(1, 1, 0), voxel.K(10, 10, 0), 9)

	f := NewFinder(g, testCatalog(t))
	_, err := f.Extract(context.Background(), roomSeeds)
	assert.True(t, simerr.IsInvalidSeed(err), "got %v", err)
}

func TestFacing(t *testing.T) {
	floor := slab(t, up, 0, 1, 10, 1, 10)
	ceiling := slab(t, down, 11, 1, 10, 1, 10)
	assert.True(t, Facing(floor, ceiling))
	assert.True(t, Facing(ceiling, floor))

	inverted := slab(t, up, 11, 1, 10, 1, 10)
	assert.False(t, Facing(floor, inverted))

	beside := slab(t, up, 0, 12, 14, 1, 10)
	assert.False(t, Facing(floor, beside), "coplanar planes never face each other")
}

func TestAttachAmbient(t *testing.T) {
	tests := []struct {
		name        string
		factors     []float64
		wantAmbient float64
		wantErr     bool
	}{
		{name: "remainder", factors: []float64{0.25, 0.5}, wantAmbient: 0.25},
		{name: "no connections", wantAmbient: 1},
		{name: "rounding above one", factors: []float64{0.5, 0.5 + 5e-10}, wantAmbient: 0},
		{name: "overflow", factors: []float64{0.5, 0.5 + 2e-9}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plane{ID: 7, Members: []voxel.Key{voxel.K(0, 0, 0)}}
			for i, f := range tt.factors {
				p.Connections = append(p.Connections, Connection{Source: 7, Destination: int64(i + 8), ViewFactor: f})
			}

			err := attachAmbient(p)
			if tt.wantErr {
				assert.True(t, simerr.IsViewFactorOverflow(err), "got %v", err)
				assert.Len(t, p.Connections, len(tt.factors))
				return
			}
			require.NoError(t, err)
			last := p.Connections[len(p.Connections)-1]
			assert.True(t, last.Ambient())
			assert.InDelta(t, tt.wantAmbient, last.ViewFactor, 1e-12)
			assert.Equal(t, 1, last.SourceVoxels)
		})
	}
}
