package radiation

import "math"

// epsilon replaces zero arguments of atan and log terms. Touching or
// edge-sharing patches are legitimate geometry.
const epsilon = 1e-9

// ParallelViewFactor returns F(a→b) for two axis-aligned rectangles with
// parallel normals, separated along the shared normal axis.
func ParallelViewFactor(a, b *Plane) float64 {
	na := a.normalAxis()
	if na != b.normalAxis() {
		return 0
	}
	u, v := inPlaneAxes(na)

	var x, y, e, n [2]float64
	x[0], x[1] = a.span(u)
	y[0], y[1] = a.span(v)
	e[0], e[1] = b.span(u)
	n[0], n[1] = b.span(v)
	z := math.Abs(a.facePosition() - b.facePosition())

	area := (x[1] - x[0]) * (y[1] - y[0])
	if area <= 0 {
		return 0
	}

	var sum float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				for l := 0; l < 2; l++ {
					sum += sign(i+j+k+l) * parallelTerm(x[i], y[j], n[k], e[l], z)
				}
			}
		}
	}
	return sum / (2 * math.Pi * area)
}

func parallelTerm(x, y, n, e, z float64) float64 {
	u := x - e
	v := y - n
	p := math.Max(math.Hypot(u, z), epsilon)
	q := math.Max(math.Hypot(v, z), epsilon)
	s := math.Max(u*u+v*v+z*z, epsilon)
	return v*p*math.Atan(v/p) + u*q*math.Atan(u/q) - 0.5*z*z*math.Log(s)
}

// PerpendicularViewFactor returns F(a→b) for two axis-aligned rectangles
// with orthogonal normals. The common axis is the one neither normal lies
// on; distances are measured from each rectangle to the other's face.
func PerpendicularViewFactor(a, b *Plane) float64 {
	na, nb := a.normalAxis(), b.normalAxis()
	if na == nb {
		return 0
	}
	common := 3 - na - nb

	var x, y, e, n [2]float64
	x = distances(a, nb, b.facePosition())
	y[0], y[1] = a.span(common)
	e = distances(b, na, a.facePosition())
	n[0], n[1] = b.span(common)

	area := (x[1] - x[0]) * (y[1] - y[0])
	if area <= 0 {
		return 0
	}

	var sum float64
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			for k := 0; k < 2; k++ {
				for l := 0; l < 2; l++ {
					sum += sign(i+j+k+l) * perpendicularTerm(x[i], y[j], n[k], e[l])
				}
			}
		}
	}
	return sum / (2 * math.Pi * area)
}

// distances returns the sorted distances of p's extent along axis from
// the face position of the other rectangle.
func distances(p *Plane, axis int, face float64) [2]float64 {
	lo, hi := p.span(axis)
	d0, d1 := math.Abs(lo-face), math.Abs(hi-face)
	if d0 > d1 {
		d0, d1 = d1, d0
	}
	return [2]float64{d0, d1}
}

func perpendicularTerm(x, y, n, e float64) float64 {
	c := math.Hypot(x, e)
	if c == 0 {
		c = 1e-5
	}
	d := (y - n) / c
	arg := math.Max(c*c*(1+d*d), epsilon)
	return (y-n)*c*math.Atan(d) - 0.25*c*c*(1-d*d)*math.Log(arg)
}

func sign(exp int) float64 {
	if exp%2 == 0 {
		return 1
	}
	return -1
}

// ViewFactor dispatches on the relative orientation of the normals.
func ViewFactor(a, b *Plane) float64 {
	if a.Normal.Dot(b.Normal) == 0 {
		return PerpendicularViewFactor(a, b)
	}
	return ParallelViewFactor(a, b)
}

// Reciprocal derives F(b→a) from F(a→b) by A_a·F(a→b) = A_b·F(b→a).
func Reciprocal(a, b *Plane, fab float64) float64 {
	if b.Area == 0 {
		return 0
	}
	return a.Area * fab / b.Area
}
