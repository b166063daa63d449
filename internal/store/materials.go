package store

import (
	"context"
	"fmt"

	"github.com/roach88/firevox/internal/voxel"
)

// PutMaterials inserts the material catalog. Existing ids are left
// untouched.
func (t *Tx) PutMaterials(ctx context.Context, catalog voxel.Catalog) error {
	stmt, err := t.tx.PrepareContext(ctx, `
		INSERT INTO materials
		(id, name, phase, density, thermal_conductivity, convection_coefficient,
		 specific_heat_capacity, ignition_temperature, autoignition_temperature,
		 burning_time, effective_heat_of_combustion, smoke_emission_per_second, emissivity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("write materials: %w", err)
	}
	defer stmt.Close()

	for _, m := range catalog.Sorted() {
		_, err := stmt.ExecContext(ctx,
			m.ID, m.Name, string(m.Phase), m.Density, m.ThermalConductivity, m.ConvectionCoefficient,
			m.SpecificHeatCapacity, m.IgnitionTemperature, m.AutoignitionTemperature,
			m.BurningTime, m.EffectiveHeatOfCombustion, m.SmokeEmissionPerSecond, m.Emissivity,
		)
		if err != nil {
			return fmt.Errorf("write material %d: %w", m.ID, err)
		}
	}
	return nil
}

// Materials reads the material catalog.
func (s *Store) Materials(ctx context.Context) (voxel.Catalog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, phase, density, thermal_conductivity, convection_coefficient,
		       specific_heat_capacity, ignition_temperature, autoignition_temperature,
		       burning_time, effective_heat_of_combustion, smoke_emission_per_second, emissivity
		FROM materials
		ORDER BY id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query materials: %w", err)
	}
	defer rows.Close()

	catalog := make(voxel.Catalog)
	for rows.Next() {
		var (
			m     voxel.Material
			phase string
		)
		if err := rows.Scan(
			&m.ID, &m.Name, &phase, &m.Density, &m.ThermalConductivity, &m.ConvectionCoefficient,
			&m.SpecificHeatCapacity, &m.IgnitionTemperature, &m.AutoignitionTemperature,
			&m.BurningTime, &m.EffectiveHeatOfCombustion, &m.SmokeEmissionPerSecond, &m.Emissivity,
		); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		m.Phase = voxel.Phase(phase)
		catalog[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate materials: %w", err)
	}
	return catalog, nil
}
