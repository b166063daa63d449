// Package simulation pre-processes scenes into a runnable database and
// reports on simulations in progress.
//
// Pre-processing runs once per database: plane extraction and view factor
// computation happen here, so workers only ever read the results.
package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/firevox/internal/config"
	"github.com/roach88/firevox/internal/radiation"
	"github.com/roach88/firevox/internal/scene"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/voxel"
	"github.com/roach88/firevox/internal/worker"
)

// ErrAlreadyCreated is returned when the database already holds a
// simulation.
var ErrAlreadyCreated = errors.New("database already holds a simulation")

// Summary describes a freshly created simulation.
type Summary struct {
	SimulationID    string `json:"simulation_id"`
	Scene           string `json:"scene"`
	Voxels          int    `json:"voxels"`
	BoundaryVoxels  int    `json:"boundary_voxels"`
	EmptyVoxels     int    `json:"empty_voxels"`
	Planes          int    `json:"planes"`
	Connections     int    `json:"connections"`
	Thermometers    int    `json:"thermometers"`
	ScheduledVoxels int64  `json:"scheduled_voxels"`
	ScheduledPlanes int64  `json:"scheduled_planes"`
	MaxGenerations  int64  `json:"max_generations"`
}

// countIdle tallies st when it never needs a voxel work item and reports
// whether it did.
func (s *Summary) countIdle(st voxel.State) bool {
	switch {
	case st.Material(0) == voxel.Empty:
		s.EmptyVoxels++
	case st.Boundary:
		s.BoundaryVoxels++
	default:
		return false
	}
	return true
}

type options struct {
	ids worker.IDGenerator
}

// Option configures Create.
type Option func(*options)

// WithIDGenerator sets the source of the simulation id. Default: UUIDv7.
func WithIDGenerator(gen worker.IDGenerator) Option {
	return func(o *options) { o.ids = gen }
}

// Create pre-processes sc into s: it extracts radiation planes and their
// relationships, persists settings, materials, voxels, planes and
// thermometers, records the generation 0 readings and schedules every
// non-boundary voxel and every plane at generation 0.
//
// Everything is written in one transaction; a failure leaves s untouched.
func Create(ctx context.Context, s *store.Store, sc *scene.Scene, cfg config.Config, opts ...Option) (Summary, error) {
	o := options{ids: worker.UUIDv7Generator{}}
	for _, opt := range opts {
		opt(&o)
	}

	initialized, err := s.Initialized(ctx)
	if err != nil {
		return Summary{}, err
	}
	if initialized {
		return Summary{}, ErrAlreadyCreated
	}

	model, err := sc.Build(cfg.AmbientTemperature)
	if err != nil {
		return Summary{}, fmt.Errorf("build scene %s: %w", sc.Name, err)
	}

	finder := radiation.NewFinder(model.RadiationGrid(), model.Catalog, cfg.FinderOptions()...)
	planes, err := finder.Extract(ctx, model.Seeds)
	if err != nil {
		return Summary{}, fmt.Errorf("extract planes: %w", err)
	}

	settings := store.Settings{
		SimulationID:       o.ids.Generate(),
		Bounds:             model.Bounds,
		VoxelLength:        cfg.VoxelLength,
		TimeStep:           cfg.TimeStep,
		AmbientTemperature: cfg.AmbientTemperature,
		MaxGenerations:     cfg.MaxGenerations,
		ActivityThreshold:  cfg.ActivityThreshold,
	}
	summary := Summary{
		SimulationID:   settings.SimulationID,
		Scene:          model.Name,
		Voxels:         len(model.Voxels),
		Planes:         len(planes),
		Thermometers:   len(model.Thermometers),
		MaxGenerations: settings.MaxGenerations,
	}
	for _, p := range planes {
		summary.Connections += len(p.Connections)
	}

	err = s.Update(ctx, func(tx *store.Tx) error {
		if err := tx.PutSettings(ctx, settings); err != nil {
			return err
		}
		if err := tx.PutMaterials(ctx, model.Catalog); err != nil {
			return err
		}
		if err := tx.PutVoxels(ctx, model.Voxels); err != nil {
			return err
		}
		if err := tx.PutPlanes(ctx, planes); err != nil {
			return err
		}
		if err := tx.PutThermometers(ctx, model.Thermometers); err != nil {
			return err
		}
		if err := tx.InitCounters(ctx, settings.MaxGenerations); err != nil {
			return err
		}
		if _, err := tx.RecordReadings(ctx, 0); err != nil {
			return err
		}

		for _, st := range model.Voxels {
			if summary.countIdle(st) {
				continue
			}
			inserted, err := tx.Publish(ctx, store.TopicVoxel, st.Key.String(), 0)
			if err != nil {
				return err
			}
			if inserted {
				summary.ScheduledVoxels++
			}
		}
		n, err := tx.PublishPlanes(ctx, 0)
		if err != nil {
			return err
		}
		summary.ScheduledPlanes = n
		return nil
	})
	if err != nil {
		return Summary{}, fmt.Errorf("create simulation: %w", err)
	}

	slog.Info("simulation created",
		"simulation", summary.SimulationID,
		"scene", summary.Scene,
		"voxels", summary.Voxels,
		"planes", summary.Planes,
		"connections", summary.Connections,
		"max_generations", summary.MaxGenerations,
	)
	return summary, nil
}
