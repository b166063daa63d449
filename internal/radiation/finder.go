package radiation

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/alitto/pond/v2"

	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/voxel"
)

// viewFactorTolerance absorbs rounding when checking that a plane's view
// factors do not exceed 1. Sums above 1+1e-9 are an overflow.
const viewFactorTolerance = 1e-9

// Finder extracts radiation planes and their visibility graph from a
// static material grid.
type Finder struct {
	grid        *Grid
	catalog     voxel.Catalog
	voxelLength float64
	planeSize   int
	exposedOnly bool
	strict      bool
	workers     int
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithVoxelLength sets the voxel edge length in metres. Default: 0.01.
func WithVoxelLength(l float64) FinderOption {
	return func(f *Finder) { f.voxelLength = l }
}

// WithPlaneSize sets the tile edge, in voxels. Default: 10.
func WithPlaneSize(n int) FinderOption {
	return func(f *Finder) { f.planeSize = n }
}

// WithExposedFacesOnly restricts surfaces to faces with empty space in
// front of them.
func WithExposedFacesOnly(on bool) FinderOption {
	return func(f *Finder) { f.exposedOnly = on }
}

// WithStrictTiles rejects tiles that are not full rectangles.
func WithStrictTiles(on bool) FinderOption {
	return func(f *Finder) { f.strict = on }
}

// WithWorkers bounds the parallelism of FindRelationships.
// Default: runtime.NumCPU().
func WithWorkers(n int) FinderOption {
	return func(f *Finder) { f.workers = n }
}

// NewFinder creates a Finder over grid. catalog is used to reject seeds
// naming unknown materials.
func NewFinder(grid *Grid, catalog voxel.Catalog, opts ...FinderOption) *Finder {
	f := &Finder{
		grid:        grid,
		catalog:     catalog,
		voxelLength: 0.01,
		planeSize:   10,
		workers:     runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.workers < 1 {
		f.workers = 1
	}
	return f
}

// Extract runs the full pipeline: a surface per seed, tiles per surface,
// then relationships between all tiles. Plane ids are assigned from 1 in
// seed order. A seed whose point lies on an already extracted surface with
// the same normal is skipped.
func (f *Finder) Extract(ctx context.Context, seeds []Seed) ([]*Plane, error) {
	type surfaceKey struct {
		key    voxel.Key
		normal voxel.Key
	}
	seen := make(map[surfaceKey]bool)

	var planes []*Plane
	for _, seed := range seeds {
		if seen[surfaceKey{seed.Point, seed.Normal}] {
			slog.Debug("seed on extracted surface, skipping", "seed", seed.String())
			continue
		}

		material := f.grid.Material(seed.Point)
		if _, ok := f.catalog.Lookup(material); !ok && material != voxel.Empty {
			return nil, simerr.NewInvalidSeed(seed.String(), fmt.Sprintf("material %d is not in the catalog", material))
		}

		surface, err := FullPlane(f.grid, seed, f.exposedOnly)
		if err != nil {
			return nil, err
		}
		for _, k := range surface {
			seen[surfaceKey{k, seed.Normal}] = true
		}

		tiles, err := DivideIntoPlanes(surface, seed.Normal, material, f.planeSize, f.voxelLength, f.strict)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", seed, err)
		}
		for _, p := range tiles {
			p.ID = int64(len(planes) + 1)
			planes = append(planes, p)
		}
		slog.Debug("surface extracted", "seed", seed.String(), "voxels", len(surface), "planes", len(tiles))
	}

	if err := f.FindRelationships(ctx, planes); err != nil {
		return nil, err
	}
	return planes, nil
}

type link struct {
	to       int
	forward  float64
	backward float64
}

// FindRelationships connects every pair of planes that face each other
// with an unobstructed line of sight between their middles. F(a→b) comes
// from the analytic formula for the pair's orientation; F(b→a) follows by
// reciprocity. Every plane then receives an ambient connection carrying
// the remainder 1-ΣF.
//
// Pairs are evaluated on a worker pool; connection lists are ordered by
// destination id regardless of scheduling.
func (f *Finder) FindRelationships(ctx context.Context, planes []*Plane) error {
	for _, p := range planes {
		p.index()
		p.Connections = nil
	}

	rows := make([][]link, len(planes))
	pool := pond.NewPool(f.workers, pond.WithContext(ctx))
	defer pool.StopAndWait()

	group := pool.NewGroup()
	for i := range planes {
		i := i
		group.Submit(func() {
			a := planes[i]
			for j := i + 1; j < len(planes); j++ {
				b := planes[j]
				if !Facing(a, b) || !f.Visible(a, b) {
					continue
				}
				fab := ViewFactor(a, b)
				rows[i] = append(rows[i], link{to: j, forward: fab, backward: Reciprocal(a, b, fab)})
			}
		})
	}
	if err := group.Wait(); err != nil {
		return fmt.Errorf("find relationships: %w", err)
	}

	for i, a := range planes {
		for _, l := range rows[i] {
			b := planes[l.to]
			a.Connections = append(a.Connections, connect(a, b, l.forward))
			b.Connections = append(b.Connections, connect(b, a, l.backward))
		}
	}

	for _, p := range planes {
		if err := attachAmbient(p); err != nil {
			return err
		}
	}
	return nil
}

// attachAmbient appends the ambient connection carrying whatever the
// plane's view factors leave of 1.
func attachAmbient(p *Plane) error {
	sum := p.ViewFactorSum()
	if sum > 1+viewFactorTolerance {
		return simerr.NewViewFactorOverflow(p.ID, sum)
	}
	p.Connections = append(p.Connections, Connection{
		Source:       p.ID,
		Destination:  AmbientID,
		ViewFactor:   max(0, 1-sum),
		SourceVoxels: p.VoxelCount(),
	})
	return nil
}

func connect(from, to *Plane, viewFactor float64) Connection {
	return Connection{
		Source:            from.ID,
		Destination:       to.ID,
		ViewFactor:        viewFactor,
		SourceVoxels:      from.VoxelCount(),
		DestinationVoxels: to.VoxelCount(),
	}
}

// Facing reports whether a and b face each other: b's middle lies in front
// of a and a's middle lies in front of b.
func Facing(a, b *Plane) bool {
	delta := b.Middle.Sub(a.Middle)
	return delta.Dot(a.Normal) > 0 && delta.Dot(b.Normal) < 0
}

// Visible walks from a's middle to b's middle. Empty cells and a's own
// members are passed through; reaching b's middle or one of b's members
// means visible; other voxels of b's surface are passed through; leaving
// the grid or meeting any other occupied voxel means obstructed.
func (f *Finder) Visible(a, b *Plane) bool {
	w := NewDDA(a.Middle, b.Middle)
	for k, ok := w.Next(); ok; k, ok = w.Next() {
		if k == b.Middle {
			return true
		}
		if !f.grid.InBounds(k) {
			return false
		}
		if !f.grid.Occupied(k) || a.Contains(k) {
			continue
		}
		if b.Contains(k) {
			return true
		}
		if b.onSurface(k) {
			continue
		}
		return false
	}
	return true
}
