package voxel

import (
	"fmt"
	"strconv"
	"strings"
)

// Key addresses a single voxel by its integer grid coordinates.
//
// Keys are comparable and are used directly as map keys. Normal vectors
// of radiation planes reuse the same type with exactly one non-zero
// component of magnitude 1.
type Key struct {
	X, Y, Z int
}

// K is a shorthand constructor used heavily in tests and scene builders.
func K(x, y, z int) Key {
	return Key{X: x, Y: y, Z: z}
}

// Add returns k+o component-wise.
func (k Key) Add(o Key) Key {
	return Key{k.X + o.X, k.Y + o.Y, k.Z + o.Z}
}

// Sub returns k-o component-wise.
func (k Key) Sub(o Key) Key {
	return Key{k.X - o.X, k.Y - o.Y, k.Z - o.Z}
}

// Neg returns the opposite vector.
func (k Key) Neg() Key {
	return Key{-k.X, -k.Y, -k.Z}
}

// Dot returns the dot product of k and o.
func (k Key) Dot(o Key) int {
	return k.X*o.X + k.Y*o.Y + k.Z*o.Z
}

// Axis returns the coordinate along axis a (0=x, 1=y, 2=z).
func (k Key) Axis(a int) int {
	switch a {
	case 0:
		return k.X
	case 1:
		return k.Y
	default:
		return k.Z
	}
}

// WithAxis returns a copy of k with axis a set to v.
func (k Key) WithAxis(a, v int) Key {
	switch a {
	case 0:
		k.X = v
	case 1:
		k.Y = v
	default:
		k.Z = v
	}
	return k
}

// NormalAxis returns the index of the single non-zero component of an
// axis-aligned normal, or -1 if k is not axis-aligned.
func (k Key) NormalAxis() int {
	axis := -1
	for a := 0; a < 3; a++ {
		if k.Axis(a) == 0 {
			continue
		}
		if axis != -1 {
			return -1
		}
		axis = a
	}
	return axis
}

// IsUnitNormal reports whether k is one of the six axis-aligned unit vectors.
func (k Key) IsUnitNormal() bool {
	a := k.NormalAxis()
	if a < 0 {
		return false
	}
	v := k.Axis(a)
	return v == 1 || v == -1
}

// String renders the key as "x,y,z". This is also the wire form used on
// the message bus.
func (k Key) String() string {
	return fmt.Sprintf("%d,%d,%d", k.X, k.Y, k.Z)
}

// ParseKey parses the "x,y,z" form produced by String.
func ParseKey(s string) (Key, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return Key{}, fmt.Errorf("parse key %q: want 3 components, got %d", s, len(parts))
	}
	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return Key{}, fmt.Errorf("parse key %q: %w", s, err)
		}
		vals[i] = v
	}
	return Key{vals[0], vals[1], vals[2]}, nil
}

// Less orders keys by x, then y, then z.
func (k Key) Less(o Key) bool {
	if k.X != o.X {
		return k.X < o.X
	}
	if k.Y != o.Y {
		return k.Y < o.Y
	}
	return k.Z < o.Z
}

// Bounds is the extent of the simulated grid. Valid keys satisfy
// 0 <= X < SizeX and likewise for Y and Z.
type Bounds struct {
	SizeX int `yaml:"x" json:"x"`
	SizeY int `yaml:"y" json:"y"`
	SizeZ int `yaml:"z" json:"z"`
}

// Contains reports whether k lies inside the bounds.
func (b Bounds) Contains(k Key) bool {
	return k.X >= 0 && k.X < b.SizeX &&
		k.Y >= 0 && k.Y < b.SizeY &&
		k.Z >= 0 && k.Z < b.SizeZ
}

// Volume is the number of cells in the bounds.
func (b Bounds) Volume() int {
	return b.SizeX * b.SizeY * b.SizeZ
}

// Valid reports whether every dimension is positive.
func (b Bounds) Valid() bool {
	return b.SizeX > 0 && b.SizeY > 0 && b.SizeZ > 0
}
