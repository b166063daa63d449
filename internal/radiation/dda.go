package radiation

import (
	"math"

	"github.com/roach88/firevox/internal/voxel"
)

// DDA walks the voxels crossed by the segment from start to end.
//
// The walk is lazy and single-use: each call to Next yields the next voxel
// until end has been produced. start itself is never yielded, end always is
// (unless start == end, which yields nothing). At every step the axis with
// the smallest accumulated ray length advances; ties go to x, then y, then
// z. Axes with no displacement never advance.
//
// The walk is not direction-symmetric: DDA(b, a) visits the point
// reflection of DDA(a, b), not its reverse.
type DDA struct {
	cur  voxel.Key
	end  voxel.Key
	sign [3]int
	unit [3]float64
	ray  [3]float64
}

// NewDDA prepares a walk from start to end.
func NewDDA(start, end voxel.Key) *DDA {
	d := end.Sub(start)
	delta := [3]float64{float64(d.X), float64(d.Y), float64(d.Z)}

	w := &DDA{cur: start, end: end}
	for a := 0; a < 3; a++ {
		b, c := (a+1)%3, (a+2)%3
		switch {
		case delta[a] > 0:
			w.sign[a] = 1
		case delta[a] < 0:
			w.sign[a] = -1
		default:
			continue
		}
		w.unit[a] = math.Sqrt(1 + (delta[b]*delta[b]+delta[c]*delta[c])/(delta[a]*delta[a]))
	}
	return w
}

// Next returns the next voxel on the walk, or false once end was reached.
func (w *DDA) Next() (voxel.Key, bool) {
	if w.cur == w.end {
		return voxel.Key{}, false
	}

	best := -1
	for a := 0; a < 3; a++ {
		if w.sign[a] == 0 || w.cur.Axis(a) == w.end.Axis(a) {
			continue
		}
		if best == -1 || w.ray[a] < w.ray[best] {
			best = a
		}
	}

	w.cur = w.cur.WithAxis(best, w.cur.Axis(best)+w.sign[best])
	w.ray[best] += w.unit[best]
	return w.cur, true
}

// Walk collects the full DDA sequence from start to end.
func Walk(start, end voxel.Key) []voxel.Key {
	w := NewDDA(start, end)
	var out []voxel.Key
	for k, ok := w.Next(); ok; k, ok = w.Next() {
		out = append(out, k)
	}
	return out
}
