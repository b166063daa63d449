// Package physics holds the per-voxel update rules.
//
// A Rule is a pure function of a voxel's previous-generation state and the
// previous-generation states of its materialized neighbours. It never
// touches storage; the worker persists its Result.
package physics

import (
	"fmt"
	"math"

	"github.com/roach88/firevox/internal/voxel"
)

// Result is the next-generation value of one voxel.
type Result struct {
	Material    int
	Temperature float64
	Smoke       float64

	// Active is set when the voxel changed enough that it and its
	// neighbours should be scheduled again.
	Active bool
}

// Slot converts the result into a storage slot.
func (r Result) Slot() voxel.Slot {
	return voxel.Slot{Material: r.Material, Temperature: r.Temperature, Smoke: r.Smoke}
}

// Rule computes generation g of a voxel from generation g-1.
type Rule interface {
	// Shape names the neighbourhood the rule reads.
	Shape() voxel.Shape

	Step(current voxel.State, neighbors []voxel.State, timeStep float64, generation int64) (Result, error)
}

// Conduction exchanges heat between face neighbours of the same phase.
//
// For a voxel of side L, density ρ and heat capacity c:
//
//	ΔT = Δt/(ρ·L²·c) · Σ (Tn − T)·(k + kn)/2
//
// Boundary voxels hold their temperature. Material and smoke carry over
// unchanged.
type Conduction struct {
	Catalog           voxel.Catalog
	VoxelLength       float64
	ActivityThreshold float64
}

// NewConduction creates a conduction rule.
func NewConduction(catalog voxel.Catalog, voxelLength, activityThreshold float64) *Conduction {
	return &Conduction{
		Catalog:           catalog,
		VoxelLength:       voxelLength,
		ActivityThreshold: activityThreshold,
	}
}

// Shape implements Rule.
func (c *Conduction) Shape() voxel.Shape {
	return voxel.FaceOnly
}

// Step implements Rule.
func (c *Conduction) Step(current voxel.State, neighbors []voxel.State, timeStep float64, generation int64) (Result, error) {
	prev := generation - 1
	slot, ok := current.At(prev)
	if !ok {
		return Result{}, fmt.Errorf("voxel %s: generation %d not materialized", current.Key, prev)
	}
	out := Result{Material: slot.Material, Temperature: slot.Temperature, Smoke: slot.Smoke}
	if current.Boundary || slot.Material == voxel.Empty {
		return out, nil
	}

	self, ok := c.Catalog.Lookup(slot.Material)
	if !ok {
		return Result{}, fmt.Errorf("voxel %s: unknown material %d", current.Key, slot.Material)
	}

	var sum float64
	for _, n := range neighbors {
		ns, ok := n.At(prev)
		if !ok || ns.Material == voxel.Empty {
			continue
		}
		other, ok := c.Catalog.Lookup(ns.Material)
		if !ok {
			return Result{}, fmt.Errorf("voxel %s: unknown material %d", n.Key, ns.Material)
		}
		if other.Phase != self.Phase {
			continue
		}
		sum += (ns.Temperature - slot.Temperature) * (self.ThermalConductivity + other.ThermalConductivity) / 2
	}

	delta := timeStep / (self.Density * c.VoxelLength * c.VoxelLength * self.SpecificHeatCapacity) * sum
	out.Temperature += delta
	out.Active = math.Abs(delta) > c.ActivityThreshold
	return out, nil
}
