package voxel

// Shape is a named neighbourhood: a fixed set of offsets around a voxel.
type Shape int

const (
	// FaceOnly is the 6-neighbourhood (±x, ±y, ±z).
	FaceOnly Shape = iota
	// FaceEdge adds the 12 edge neighbours to FaceOnly.
	FaceEdge
	// Full is the 26-neighbourhood.
	Full
	// Top is the single voxel above (+z).
	Top
	// Bottom is the single voxel below (-z).
	Bottom
)

func (s Shape) String() string {
	switch s {
	case FaceOnly:
		return "face"
	case FaceEdge:
		return "face-edge"
	case Full:
		return "full"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	default:
		return "unknown"
	}
}

var offsets = buildOffsets()

func buildOffsets() map[Shape][]Key {
	m := map[Shape][]Key{
		Top:    {{0, 0, 1}},
		Bottom: {{0, 0, -1}},
	}
	for dx := -1; dx <= 1; dx++ {
		for dy := -1; dy <= 1; dy++ {
			for dz := -1; dz <= 1; dz++ {
				nonZero := abs(dx) + abs(dy) + abs(dz)
				if nonZero == 0 {
					continue
				}
				off := Key{dx, dy, dz}
				m[Full] = append(m[Full], off)
				if nonZero <= 2 {
					m[FaceEdge] = append(m[FaceEdge], off)
				}
				if nonZero == 1 {
					m[FaceOnly] = append(m[FaceOnly], off)
				}
			}
		}
	}
	return m
}

// Offsets returns the relative offsets of the shape. The slice is shared;
// callers must not modify it.
func (s Shape) Offsets() []Key {
	return offsets[s]
}

// Neighbors returns the keys around k for the shape, without bounds
// filtering.
func (s Shape) Neighbors(k Key) []Key {
	offs := s.Offsets()
	out := make([]Key, len(offs))
	for i, o := range offs {
		out[i] = k.Add(o)
	}
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
