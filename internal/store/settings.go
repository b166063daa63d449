package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/roach88/firevox/internal/voxel"
)

// Settings are the simulation-wide constants fixed at pre-processing.
// Every worker reads them from the store so that all processes agree.
type Settings struct {
	SimulationID       string
	Bounds             voxel.Bounds
	VoxelLength        float64
	TimeStep           float64
	AmbientTemperature float64
	MaxGenerations     int64
	ActivityThreshold  float64
}

// VoxelVolume returns the volume of one voxel in m³.
func (s Settings) VoxelVolume() float64 {
	return s.VoxelLength * s.VoxelLength * s.VoxelLength
}

func (s Settings) pairs() [][2]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'g', -1, 64) }
	return [][2]string{
		{"simulation_id", s.SimulationID},
		{"size_x", strconv.Itoa(s.Bounds.SizeX)},
		{"size_y", strconv.Itoa(s.Bounds.SizeY)},
		{"size_z", strconv.Itoa(s.Bounds.SizeZ)},
		{"voxel_length", f(s.VoxelLength)},
		{"time_step", f(s.TimeStep)},
		{"ambient_temperature", f(s.AmbientTemperature)},
		{"max_generations", strconv.FormatInt(s.MaxGenerations, 10)},
		{"activity_threshold", f(s.ActivityThreshold)},
	}
}

// PutSettings stores the simulation settings. Fails if settings already
// exist: a database holds exactly one simulation.
func (t *Tx) PutSettings(ctx context.Context, s Settings) error {
	var existing int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM settings`).Scan(&existing); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("write settings: database already holds a simulation")
	}

	for _, kv := range s.pairs() {
		if _, err := t.tx.ExecContext(ctx, `INSERT INTO settings (name, value) VALUES (?, ?)`, kv[0], kv[1]); err != nil {
			return fmt.Errorf("write settings: %w", err)
		}
	}
	return nil
}

// Settings reads the simulation settings. Returns ErrNotFound if the
// database was never pre-processed.
func (s *Store) Settings(ctx context.Context) (Settings, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, value FROM settings`)
	if err != nil {
		return Settings{}, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Settings{}, fmt.Errorf("scan settings: %w", err)
		}
		values[name] = value
	}
	if err := rows.Err(); err != nil {
		return Settings{}, fmt.Errorf("iterate settings: %w", err)
	}
	if len(values) == 0 {
		return Settings{}, fmt.Errorf("settings: %w", ErrNotFound)
	}

	var (
		out   Settings
		perr  error
		float = func(name string) float64 {
			v, err := strconv.ParseFloat(values[name], 64)
			if err != nil && perr == nil {
				perr = fmt.Errorf("setting %s: %w", name, err)
			}
			return v
		}
		integer = func(name string) int64 {
			v, err := strconv.ParseInt(values[name], 10, 64)
			if err != nil && perr == nil {
				perr = fmt.Errorf("setting %s: %w", name, err)
			}
			return v
		}
	)
	out.SimulationID = values["simulation_id"]
	out.Bounds = voxel.Bounds{
		SizeX: int(integer("size_x")),
		SizeY: int(integer("size_y")),
		SizeZ: int(integer("size_z")),
	}
	out.VoxelLength = float("voxel_length")
	out.TimeStep = float("time_step")
	out.AmbientTemperature = float("ambient_temperature")
	out.MaxGenerations = integer("max_generations")
	out.ActivityThreshold = float("activity_threshold")
	if perr != nil {
		return Settings{}, perr
	}
	return out, nil
}

// Initialized reports whether the database holds a simulation.
func (s *Store) Initialized(ctx context.Context) (bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM settings LIMIT 1`).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query settings: %w", err)
	}
	return true, nil
}
