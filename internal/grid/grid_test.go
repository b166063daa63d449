package grid

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/firevox/internal/voxel"
)

// mapReader is an in-memory VoxelReader.
type mapReader struct {
	states map[voxel.Key]voxel.State
	asked  []voxel.Key
	err    error
}

func (r *mapReader) Voxels(_ context.Context, keys []voxel.Key) (map[voxel.Key]voxel.State, error) {
	if r.err != nil {
		return nil, r.err
	}
	r.asked = append(r.asked, keys...)
	out := make(map[voxel.Key]voxel.State)
	for _, k := range keys {
		if s, ok := r.states[k]; ok {
			out[k] = s
		}
	}
	return out, nil
}

func newReader(states ...voxel.State) *mapReader {
	r := &mapReader{states: make(map[voxel.Key]voxel.State)}
	for _, s := range states {
		r.states[s.Key] = s
	}
	return r
}

func TestNeighbors_FaceOnlyInterior(t *testing.T) {
	center := voxel.K(1, 1, 1)
	var states []voxel.State
	for _, k := range voxel.FaceOnly.Neighbors(center) {
		states = append(states, voxel.NewState(k, 1, 300, false))
	}
	g := New(newReader(states...), voxel.Bounds{SizeX: 3, SizeY: 3, SizeZ: 3})

	n, err := g.Neighbors(context.Background(), center, voxel.FaceOnly, 1)
	require.NoError(t, err)

	assert.Len(t, n.Found, 6)
	assert.Empty(t, n.Missing)
	assert.Equal(t, int64(0), n.Generation)
	assert.Equal(t, []float64{300, 300, 300, 300, 300, 300}, n.Temperatures())
}

func TestNeighbors_CornerReportsOutOfBounds(t *testing.T) {
	r := newReader(
		voxel.NewState(voxel.K(1, 0, 0), 1, 300, false),
		voxel.NewState(voxel.K(0, 1, 0), 1, 300, false),
		voxel.NewState(voxel.K(0, 0, 1), 1, 300, false),
	)
	g := New(r, voxel.Bounds{SizeX: 2, SizeY: 2, SizeZ: 2})

	n, err := g.Neighbors(context.Background(), voxel.K(0, 0, 0), voxel.FaceOnly, 1)
	require.NoError(t, err)

	assert.Len(t, n.Found, 3)
	assert.ElementsMatch(t, []voxel.Key{
		voxel.K(-1, 0, 0), voxel.K(0, -1, 0), voxel.K(0, 0, -1),
	}, n.Missing)
	for _, k := range r.asked {
		assert.True(t, g.Bounds().Contains(k), "out-of-bounds key %s must not reach the store", k)
	}
}

func TestNeighbors_NeverPersisted(t *testing.T) {
	g := New(newReader(), voxel.Bounds{SizeX: 3, SizeY: 3, SizeZ: 3})

	n, err := g.Neighbors(context.Background(), voxel.K(1, 1, 1), voxel.Full, 1)
	require.NoError(t, err)

	assert.Empty(t, n.Found)
	assert.Len(t, n.Missing, 26)
}

func TestNeighbors_StampMismatchIsMissing(t *testing.T) {
	ready := voxel.NewState(voxel.K(0, 0, 1), 1, 310, false)
	ready.Slots[1] = voxel.Slot{Material: 1, Temperature: 320, Generation: 1}

	g := New(newReader(ready), voxel.Bounds{SizeX: 1, SizeY: 1, SizeZ: 3})
	center := voxel.K(0, 0, 0)

	// Generation 2 reads generation 1.
	n, err := g.Neighbors(context.Background(), center, voxel.Top, 2)
	require.NoError(t, err)
	require.Len(t, n.Found, 1)
	assert.Equal(t, []float64{320}, n.Temperatures())

	// Generation 3 reads generation 2, which nobody materialized.
	n, err = g.Neighbors(context.Background(), center, voxel.Top, 3)
	require.NoError(t, err)
	assert.Empty(t, n.Found)
	assert.Equal(t, []voxel.Key{voxel.K(0, 0, 1)}, n.Missing)
}

func TestNeighbors_BottomShape(t *testing.T) {
	below := voxel.NewState(voxel.K(0, 0, 0), 1, 280, false)
	g := New(newReader(below), voxel.Bounds{SizeX: 1, SizeY: 1, SizeZ: 2})

	n, err := g.Neighbors(context.Background(), voxel.K(0, 0, 1), voxel.Bottom, 1)
	require.NoError(t, err)
	require.Len(t, n.Found, 1)
	assert.Equal(t, below.Key, n.Found[0].Key)
}

func TestNeighbors_ReaderError(t *testing.T) {
	r := newReader()
	r.err = errors.New("disk on fire")
	g := New(r, voxel.Bounds{SizeX: 3, SizeY: 3, SizeZ: 3})

	_, err := g.Neighbors(context.Background(), voxel.K(1, 1, 1), voxel.FaceOnly, 1)
	assert.ErrorIs(t, err, r.err)
}
