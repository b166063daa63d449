// Package grid answers neighbourhood queries over the persisted voxel
// store.
//
// Voxel state is double-buffered by generation parity. A voxel computing
// generation g may only read generation g-1 of itself and its neighbours,
// so Neighbors returns states whose slot parity(g-1) is stamped g-1 and
// reports every other requested key as missing. Callers treat missing
// neighbours as boundary or default values.
package grid

import (
	"context"
	"fmt"

	"github.com/roach88/firevox/internal/voxel"
)

// VoxelReader reads persisted voxel states. Keys that were never persisted
// are absent from the result.
type VoxelReader interface {
	Voxels(ctx context.Context, keys []voxel.Key) (map[voxel.Key]voxel.State, error)
}

// Grid is a bounded view over a VoxelReader.
type Grid struct {
	reader VoxelReader
	bounds voxel.Bounds
}

// New creates a Grid over reader limited to bounds.
func New(reader VoxelReader, bounds voxel.Bounds) *Grid {
	return &Grid{reader: reader, bounds: bounds}
}

// Bounds returns the grid extent.
func (g *Grid) Bounds() voxel.Bounds {
	return g.bounds
}

// Neighborhood is the result of a neighbour query.
type Neighborhood struct {
	Center voxel.Key
	Shape  voxel.Shape

	// Generation is the generation every state in Found materializes.
	Generation int64

	// Found holds materialized neighbours in shape offset order.
	Found []voxel.State

	// Missing holds requested keys that are out of bounds, never
	// persisted, or not materialized for Generation, in shape offset order.
	Missing []voxel.Key
}

// Temperatures returns the temperature of every found neighbour.
func (n Neighborhood) Temperatures() []float64 {
	out := make([]float64, len(n.Found))
	for i, s := range n.Found {
		out[i] = s.Temperature(n.Generation)
	}
	return out
}

// Neighbors returns the neighbours of key for shape that are materialized
// for generation-1.
func (g *Grid) Neighbors(ctx context.Context, key voxel.Key, shape voxel.Shape, generation int64) (Neighborhood, error) {
	prev := generation - 1
	n := Neighborhood{
		Center:     key,
		Shape:      shape,
		Generation: prev,
		Found:      []voxel.State{},
		Missing:    []voxel.Key{},
	}

	candidates := shape.Neighbors(key)
	inBounds := make([]voxel.Key, 0, len(candidates))
	for _, k := range candidates {
		if g.bounds.Contains(k) {
			inBounds = append(inBounds, k)
		}
	}

	states, err := g.reader.Voxels(ctx, inBounds)
	if err != nil {
		return Neighborhood{}, fmt.Errorf("neighbours of %s: %w", key, err)
	}

	for _, k := range candidates {
		st, ok := states[k]
		if !ok {
			n.Missing = append(n.Missing, k)
			continue
		}
		if _, materialized := st.At(prev); !materialized {
			n.Missing = append(n.Missing, k)
			continue
		}
		n.Found = append(n.Found, st)
	}
	return n, nil
}
