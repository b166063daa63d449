package radiation

import (
	"github.com/ctessum/sparse"

	"github.com/roach88/firevox/internal/voxel"
)

// Grid is the static material-occupancy matrix used for plane extraction
// and line-of-sight tests. A cell value of voxel.Empty is transparent.
//
// Cells are stored row-major (x, then y, then z) in a dense integer array,
// so Offset doubles as an index into per-cell bitmaps.
type Grid struct {
	cells  *sparse.DenseArrayInt
	bounds voxel.Bounds
}

// NewGrid allocates an empty grid covering bounds.
func NewGrid(bounds voxel.Bounds) *Grid {
	return &Grid{
		cells:  sparse.ZerosDenseInt(bounds.SizeX, bounds.SizeY, bounds.SizeZ),
		bounds: bounds,
	}
}

// Bounds returns the grid extent.
func (g *Grid) Bounds() voxel.Bounds {
	return g.bounds
}

// InBounds reports whether k addresses a cell of the grid.
func (g *Grid) InBounds(k voxel.Key) bool {
	return g.bounds.Contains(k)
}

// Offset returns the flattened row-major index of k. k must be in bounds.
func (g *Grid) Offset(k voxel.Key) int {
	return (k.X*g.bounds.SizeY+k.Y)*g.bounds.SizeZ + k.Z
}

// Material returns the material id at k, or voxel.Empty outside the grid.
func (g *Grid) Material(k voxel.Key) int {
	if !g.InBounds(k) {
		return voxel.Empty
	}
	return g.cells.Elements[g.Offset(k)]
}

// Occupied reports whether k is inside the grid and not empty.
func (g *Grid) Occupied(k voxel.Key) bool {
	return g.Material(k) != voxel.Empty
}

// Set assigns a material id to k. Keys outside the grid are ignored.
func (g *Grid) Set(k voxel.Key, material int) {
	if !g.InBounds(k) {
		return
	}
	if material == voxel.Empty {
		// DenseArrayInt.Set skips zero values.
		g.cells.Elements[g.Offset(k)] = voxel.Empty
		return
	}
	g.cells.Set(material, k.X, k.Y, k.Z)
}

// Fill assigns material to every cell of the inclusive box [from, to].
func (g *Grid) Fill(from, to voxel.Key, material int) {
	for x := from.X; x <= to.X; x++ {
		for y := from.Y; y <= to.Y; y++ {
			for z := from.Z; z <= to.Z; z++ {
				g.Set(voxel.K(x, y, z), material)
			}
		}
	}
}
