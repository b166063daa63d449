package voxel

import (
	"fmt"
	"sort"
)

// Empty is the material id of unoccupied space.
const Empty = 0

// Phase groups materials for heat conduction. Heat only conducts between
// voxels of the same phase.
type Phase string

const (
	Solid Phase = "solid"
	Fluid Phase = "fluid"
)

// Material is immutable physical reference data shared by many voxels.
// Units are SI: kg/m³, W/(m·K), W/(m²·K), J/(kg·K), K, s, J/kg.
type Material struct {
	ID                        int     `yaml:"id" json:"id"`
	Name                      string  `yaml:"name" json:"name"`
	Phase                     Phase   `yaml:"phase" json:"phase"`
	Density                   float64 `yaml:"density" json:"density"`
	ThermalConductivity       float64 `yaml:"thermal_conductivity" json:"thermal_conductivity"`
	ConvectionCoefficient     float64 `yaml:"convection_coefficient" json:"convection_coefficient"`
	SpecificHeatCapacity      float64 `yaml:"specific_heat_capacity" json:"specific_heat_capacity"`
	IgnitionTemperature       float64 `yaml:"ignition_temperature" json:"ignition_temperature"`
	AutoignitionTemperature   float64 `yaml:"autoignition_temperature" json:"autoignition_temperature"`
	BurningTime               float64 `yaml:"burning_time" json:"burning_time"`
	EffectiveHeatOfCombustion float64 `yaml:"effective_heat_of_combustion" json:"effective_heat_of_combustion"`
	SmokeEmissionPerSecond    float64 `yaml:"smoke_emission_per_second" json:"smoke_emission_per_second"`
	Emissivity                float64 `yaml:"emissivity" json:"emissivity"`
}

// Validate checks the fields a simulation divides by.
func (m Material) Validate() error {
	if m.ID == Empty {
		return fmt.Errorf("material %q: id 0 is reserved for empty space", m.Name)
	}
	if m.Density <= 0 {
		return fmt.Errorf("material %q: density must be positive", m.Name)
	}
	if m.SpecificHeatCapacity <= 0 {
		return fmt.Errorf("material %q: specific heat capacity must be positive", m.Name)
	}
	switch m.Phase {
	case Solid, Fluid:
	default:
		return fmt.Errorf("material %q: unknown phase %q", m.Name, m.Phase)
	}
	return nil
}

// Catalog maps material ids to materials.
type Catalog map[int]Material

// NewCatalog builds a catalog, rejecting duplicate or invalid entries.
func NewCatalog(materials ...Material) (Catalog, error) {
	c := make(Catalog, len(materials))
	for _, m := range materials {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c[m.ID]; dup {
			return nil, fmt.Errorf("duplicate material id %d", m.ID)
		}
		c[m.ID] = m
	}
	return c, nil
}

// Lookup returns the material with the given id.
func (c Catalog) Lookup(id int) (Material, bool) {
	m, ok := c[id]
	return m, ok
}

// Sorted returns the materials ordered by id.
func (c Catalog) Sorted() []Material {
	out := make([]Material, 0, len(c))
	for _, m := range c {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
