package scene

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/roach88/firevox/internal/radiation"
	"github.com/roach88/firevox/internal/voxel"
)

// Point is a grid coordinate written as a YAML sequence [x, y, z].
type Point [3]int

// Key converts p to a voxel key.
func (p Point) Key() voxel.Key {
	return voxel.K(p[0], p[1], p[2])
}

// Scene is the on-disk description of a model: its extent, the materials it
// uses, the boxes of material filling it, the radiation seeds and the
// thermometer probes.
type Scene struct {
	// Name identifies the scene in logs and status output.
	Name string `yaml:"name"`

	// Bounds is the grid extent in voxels.
	Bounds voxel.Bounds `yaml:"bounds"`

	// Temperature is the initial temperature of voxels whose box does not
	// set one. Optional; callers supply a fallback.
	Temperature *float64 `yaml:"temperature,omitempty"`

	// Fill names a material occupying every cell no box covers, usually
	// air. Optional; uncovered cells are empty space otherwise.
	Fill string `yaml:"fill,omitempty"`

	// Materials lists the physical materials. Ids are assigned in order
	// when omitted.
	Materials []voxel.Material `yaml:"materials"`

	// Boxes are applied in order; later boxes overwrite earlier ones.
	Boxes []Box `yaml:"boxes"`

	// Seeds name the surfaces radiation planes are extracted from.
	Seeds []Seed `yaml:"seeds,omitempty"`

	// Thermometers are voxels sampled once per generation.
	Thermometers []Point `yaml:"thermometers,omitempty"`
}

// Box fills the inclusive cuboid [From, To] with a material.
type Box struct {
	Material    string   `yaml:"material"`
	From        Point    `yaml:"from"`
	To          Point    `yaml:"to"`
	Temperature *float64 `yaml:"temperature,omitempty"`
	// Boundary voxels hold their temperature for the whole run.
	Boundary bool `yaml:"boundary,omitempty"`
}

// Seed is a radiation seed: a voxel on a surface and its outward normal.
type Seed struct {
	Point  Point `yaml:"point"`
	Normal Point `yaml:"normal"`
}

// Model is a scene resolved to voxel states.
type Model struct {
	Name         string
	Bounds       voxel.Bounds
	Catalog      voxel.Catalog
	Voxels       []voxel.State // ordered by key
	Seeds        []radiation.Seed
	Thermometers []voxel.Key
}

// Load reads and validates a scene file. Unknown fields are rejected.
func Load(path string) (*Scene, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scene file: %w", err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Parse decodes and validates a scene document.
func Parse(data []byte) (*Scene, error) {
	var s Scene
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	for i := range s.Materials {
		s.Materials[i].Name = normalizeName(s.Materials[i].Name)
		if s.Materials[i].ID == voxel.Empty {
			s.Materials[i].ID = i + 1
		}
	}
	s.Fill = normalizeName(s.Fill)
	for i := range s.Boxes {
		s.Boxes[i].Material = normalizeName(s.Boxes[i].Material)
	}

	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("invalid scene: %w", err)
	}
	return &s, nil
}

// normalizeName makes material names comparable regardless of how the
// scene author's editor composed accented characters.
func normalizeName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

func (s *Scene) validate() error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !s.Bounds.Valid() {
		return fmt.Errorf("bounds must be positive in every dimension, got %dx%dx%d",
			s.Bounds.SizeX, s.Bounds.SizeY, s.Bounds.SizeZ)
	}
	if len(s.Materials) == 0 {
		return fmt.Errorf("materials list is required and must be non-empty")
	}

	names := make(map[string]bool, len(s.Materials))
	for i, m := range s.Materials {
		if m.Name == "" {
			return fmt.Errorf("materials[%d]: name is required", i)
		}
		if names[m.Name] {
			return fmt.Errorf("materials[%d]: duplicate name %q", i, m.Name)
		}
		names[m.Name] = true
	}
	if _, err := voxel.NewCatalog(s.Materials...); err != nil {
		return err
	}

	if s.Fill != "" && !names[s.Fill] {
		return fmt.Errorf("fill: unknown material %q", s.Fill)
	}
	if len(s.Boxes) == 0 && s.Fill == "" {
		return fmt.Errorf("boxes list is required when no fill material is set")
	}
	for i, b := range s.Boxes {
		if !names[b.Material] {
			return fmt.Errorf("boxes[%d]: unknown material %q", i, b.Material)
		}
		if !s.Bounds.Contains(b.From.Key()) || !s.Bounds.Contains(b.To.Key()) {
			return fmt.Errorf("boxes[%d]: %v..%v lies outside the bounds", i, b.From, b.To)
		}
		for axis := 0; axis < 3; axis++ {
			if b.From[axis] > b.To[axis] {
				return fmt.Errorf("boxes[%d]: from must not exceed to on axis %d", i, axis)
			}
		}
	}

	for i, seed := range s.Seeds {
		if !s.Bounds.Contains(seed.Point.Key()) {
			return fmt.Errorf("seeds[%d]: point %v lies outside the bounds", i, seed.Point)
		}
		if !seed.Normal.Key().IsUnitNormal() {
			return fmt.Errorf("seeds[%d]: normal %v must be an axis-aligned unit vector", i, seed.Normal)
		}
	}
	for i, p := range s.Thermometers {
		if !s.Bounds.Contains(p.Key()) {
			return fmt.Errorf("thermometers[%d]: %v lies outside the bounds", i, p)
		}
	}
	return nil
}

// Build resolves the scene into initial voxel states. Cells left empty are
// not part of the model. defaultTemperature applies when neither the box
// nor the scene sets a temperature.
func (s *Scene) Build(defaultTemperature float64) (*Model, error) {
	catalog, err := voxel.NewCatalog(s.Materials...)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]int, len(s.Materials))
	for _, m := range s.Materials {
		ids[m.Name] = m.ID
	}

	base := defaultTemperature
	if s.Temperature != nil {
		base = *s.Temperature
	}

	cells := make(map[voxel.Key]voxel.State)
	if s.Fill != "" {
		fill := ids[s.Fill]
		for x := 0; x < s.Bounds.SizeX; x++ {
			for y := 0; y < s.Bounds.SizeY; y++ {
				for z := 0; z < s.Bounds.SizeZ; z++ {
					k := voxel.K(x, y, z)
					cells[k] = voxel.NewState(k, fill, base, false)
				}
			}
		}
	}
	for _, b := range s.Boxes {
		t := base
		if b.Temperature != nil {
			t = *b.Temperature
		}
		material := ids[b.Material]
		from, to := b.From.Key(), b.To.Key()
		for x := from.X; x <= to.X; x++ {
			for y := from.Y; y <= to.Y; y++ {
				for z := from.Z; z <= to.Z; z++ {
					k := voxel.K(x, y, z)
					cells[k] = voxel.NewState(k, material, t, b.Boundary)
				}
			}
		}
	}

	m := &Model{
		Name:    s.Name,
		Bounds:  s.Bounds,
		Catalog: catalog,
		Voxels:  make([]voxel.State, 0, len(cells)),
	}
	for _, st := range cells {
		m.Voxels = append(m.Voxels, st)
	}
	sort.Slice(m.Voxels, func(i, j int) bool { return m.Voxels[i].Key.Less(m.Voxels[j].Key) })

	for _, seed := range s.Seeds {
		m.Seeds = append(m.Seeds, radiation.Seed{Point: seed.Point.Key(), Normal: seed.Normal.Key()})
	}
	for _, p := range s.Thermometers {
		m.Thermometers = append(m.Thermometers, p.Key())
	}
	return m, nil
}

// RadiationGrid returns the occupancy grid radiation sees: solid voxels
// block and emit, fluids are transparent.
func (m *Model) RadiationGrid() *radiation.Grid {
	g := radiation.NewGrid(m.Bounds)
	for _, st := range m.Voxels {
		material, _ := m.Catalog.Lookup(st.Material(0))
		if material.Phase == voxel.Solid {
			g.Set(st.Key, material.ID)
		}
	}
	return g
}
