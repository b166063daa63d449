package radiation

import (
	"fmt"
	"sort"

	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/voxel"
)

// AmbientID is the destination id of a plane's connection to the
// surroundings.
const AmbientID int64 = 0

// Plane is a rectangular radiating patch of coplanar same-material voxel
// faces. Planes are built once from the initial geometry.
type Plane struct {
	ID int64

	// A, B, C, D are the corners: (u0,v0), (u0,v1), (u1,v0), (u1,v1) over
	// the two in-plane axes in ascending axis order.
	A, B, C, D voxel.Key

	// Normal is the outward axis-aligned unit normal.
	Normal voxel.Key

	Material int
	Members  []voxel.Key

	// Area is in m².
	Area float64

	// Middle is the integer average of the four corners.
	Middle voxel.Key

	Connections []Connection

	members map[voxel.Key]struct{}
	surface map[voxel.Key]struct{}
}

// Connection is a directed radiative link from Source to Destination.
type Connection struct {
	Source      int64
	Destination int64
	ViewFactor  float64

	// QNet accumulates net flux (W) until the barrier applies it.
	QNet float64

	SourceVoxels      int
	DestinationVoxels int
}

// Ambient reports whether the connection leads to the surroundings.
func (c Connection) Ambient() bool {
	return c.Destination == AmbientID
}

// VoxelCount returns the number of member voxels.
func (p *Plane) VoxelCount() int {
	return len(p.Members)
}

// Contains reports whether k is a member of the plane.
func (p *Plane) Contains(k voxel.Key) bool {
	if p.members == nil {
		for _, m := range p.Members {
			if m == k {
				return true
			}
		}
		return false
	}
	_, ok := p.members[k]
	return ok
}

// index builds the member lookup set. Not safe for concurrent use.
func (p *Plane) index() {
	if p.members == nil {
		p.members = keySet(p.Members)
	}
}

// onSurface reports whether k belongs to the full surface the plane was cut
// from. Planes loaded from storage only know their own members.
func (p *Plane) onSurface(k voxel.Key) bool {
	if p.surface == nil {
		return p.Contains(k)
	}
	_, ok := p.surface[k]
	return ok
}

// ViewFactorSum returns the summed view factor of the non-ambient
// connections.
func (p *Plane) ViewFactorSum() float64 {
	var sum float64
	for _, c := range p.Connections {
		if !c.Ambient() {
			sum += c.ViewFactor
		}
	}
	return sum
}

func (p *Plane) normalAxis() int {
	return p.Normal.NormalAxis()
}

// facePosition is the coordinate, along the normal axis, of the radiating
// face: the far side of the voxel layer for positive normals.
func (p *Plane) facePosition() float64 {
	a := p.normalAxis()
	pos := float64(p.A.Axis(a))
	if p.Normal.Axis(a) > 0 {
		pos++
	}
	return pos
}

// span returns the [lo, hi] extent of the plane along axis, in voxel units.
func (p *Plane) span(axis int) (float64, float64) {
	if axis == p.normalAxis() {
		f := p.facePosition()
		return f, f
	}
	lo, hi := p.A.Axis(axis), p.A.Axis(axis)
	for _, c := range []voxel.Key{p.B, p.C, p.D} {
		lo = min(lo, c.Axis(axis))
		hi = max(hi, c.Axis(axis))
	}
	return float64(lo), float64(hi + 1)
}

// inPlaneAxes returns the two axes orthogonal to the normal axis.
func inPlaneAxes(normalAxis int) (int, int) {
	switch normalAxis {
	case 0:
		return 1, 2
	case 1:
		return 0, 2
	default:
		return 0, 1
	}
}

// Seed names a surface to extract: a voxel on it and its outward normal.
type Seed struct {
	Point  voxel.Key `yaml:"point" json:"point"`
	Normal voxel.Key `yaml:"normal" json:"normal"`
}

func (s Seed) String() string {
	return fmt.Sprintf("%s->%s", s.Point, s.Normal)
}

// FullPlane flood-fills the surface containing seed.Point across the 2D
// sub-lattice orthogonal to seed.Normal. A neighbour joins the surface iff
// it is in bounds and carries the seed's material; with exposedOnly it must
// also have empty space in front of it along the normal.
//
// The result is sorted by key.
func FullPlane(grid *Grid, seed Seed, exposedOnly bool) ([]voxel.Key, error) {
	if !seed.Normal.IsUnitNormal() {
		return nil, simerr.NewInvalidSeed(seed.String(), "normal is not an axis-aligned unit vector")
	}
	if !grid.InBounds(seed.Point) {
		return nil, simerr.NewInvalidSeed(seed.String(), "point outside the grid")
	}
	material := grid.Material(seed.Point)
	if material == voxel.Empty {
		return nil, simerr.NewInvalidSeed(seed.String(), "point is empty")
	}

	accept := func(k voxel.Key) bool {
		if !grid.InBounds(k) || grid.Material(k) != material {
			return false
		}
		return !exposedOnly || !grid.Occupied(k.Add(seed.Normal))
	}
	if !accept(seed.Point) {
		return nil, simerr.NewInvalidSeed(seed.String(), "face is covered along the normal")
	}

	u, v := inPlaneAxes(seed.Normal.NormalAxis())
	var steps [4]voxel.Key
	steps[0] = voxel.Key{}.WithAxis(u, 1)
	steps[1] = voxel.Key{}.WithAxis(u, -1)
	steps[2] = voxel.Key{}.WithAxis(v, 1)
	steps[3] = voxel.Key{}.WithAxis(v, -1)

	visited := make([]bool, grid.Bounds().Volume())
	visited[grid.Offset(seed.Point)] = true
	stack := []voxel.Key{seed.Point}
	var out []voxel.Key

	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, k)

		for _, s := range steps {
			n := k.Add(s)
			if !grid.InBounds(n) || visited[grid.Offset(n)] {
				continue
			}
			visited[grid.Offset(n)] = true
			if accept(n) {
				stack = append(stack, n)
			}
		}
	}

	sortKeys(out)
	return out, nil
}

// DivideIntoPlanes cuts a surface into squareSize × squareSize tiles along
// its in-plane axes. Each non-empty tile becomes a plane whose corners are
// the bounding box of the tile's members; with strict, a tile whose corner
// positions are not all members is rejected.
//
// Planes come out ordered by tile (u, then v) and carry ID 0.
func DivideIntoPlanes(surface []voxel.Key, normal voxel.Key, material, squareSize int, voxelLength float64, strict bool) ([]*Plane, error) {
	if len(surface) == 0 {
		return nil, nil
	}
	if squareSize < 1 {
		return nil, fmt.Errorf("divide into planes: square size %d must be positive", squareSize)
	}
	na := normal.NormalAxis()
	if na < 0 {
		return nil, fmt.Errorf("divide into planes: normal %s is not axis-aligned", normal)
	}
	u, v := inPlaneAxes(na)

	minU, maxU := surface[0].Axis(u), surface[0].Axis(u)
	minV, maxV := surface[0].Axis(v), surface[0].Axis(v)
	for _, k := range surface[1:] {
		minU, maxU = min(minU, k.Axis(u)), max(maxU, k.Axis(u))
		minV, maxV = min(minV, k.Axis(v)), max(maxV, k.Axis(v))
	}

	type tile struct{ iu, iv int }
	tiles := make(map[tile][]voxel.Key)
	for _, k := range surface {
		t := tile{(k.Axis(u) - minU) / squareSize, (k.Axis(v) - minV) / squareSize}
		tiles[t] = append(tiles[t], k)
	}

	surfaceSet := keySet(surface)
	var planes []*Plane
	for iu := 0; minU+iu*squareSize <= maxU; iu++ {
		for iv := 0; minV+iv*squareSize <= maxV; iv++ {
			members := tiles[tile{iu, iv}]
			if len(members) == 0 {
				continue
			}
			p, err := buildPlane(members, normal, material, u, v, voxelLength, strict)
			if err != nil {
				return nil, err
			}
			p.surface = surfaceSet
			planes = append(planes, p)
		}
	}
	return planes, nil
}

func buildPlane(members []voxel.Key, normal voxel.Key, material, u, v int, voxelLength float64, strict bool) (*Plane, error) {
	sortKeys(members)
	first := members[0]
	u0, u1 := first.Axis(u), first.Axis(u)
	v0, v1 := first.Axis(v), first.Axis(v)
	for _, k := range members[1:] {
		u0, u1 = min(u0, k.Axis(u)), max(u1, k.Axis(u))
		v0, v1 = min(v0, k.Axis(v)), max(v1, k.Axis(v))
	}

	corner := func(cu, cv int) voxel.Key {
		return first.WithAxis(u, cu).WithAxis(v, cv)
	}
	p := &Plane{
		A:        corner(u0, v0),
		B:        corner(u0, v1),
		C:        corner(u1, v0),
		D:        corner(u1, v1),
		Normal:   normal,
		Material: material,
		Members:  members,
		members:  keySet(members),
	}

	if strict {
		for _, c := range []voxel.Key{p.A, p.B, p.C, p.D} {
			if !p.Contains(c) {
				return nil, simerr.NewIrregularTile(c.String())
			}
		}
	}

	p.Area = float64((u1-u0+1)*(v1-v0+1)) * voxelLength * voxelLength
	sum := p.A.Add(p.B).Add(p.C).Add(p.D)
	p.Middle = voxel.K(sum.X/4, sum.Y/4, sum.Z/4)
	return p, nil
}

func keySet(keys []voxel.Key) map[voxel.Key]struct{} {
	m := make(map[voxel.Key]struct{}, len(keys))
	for _, k := range keys {
		m[k] = struct{}{}
	}
	return m
}

func sortKeys(keys []voxel.Key) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
}
