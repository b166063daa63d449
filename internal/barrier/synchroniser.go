// Package barrier closes generations.
//
// Workers never wait on each other. Instead every work item bumps a
// processed counter in the same transaction as its effects, and the
// barrier polls the counters. Once a generation is drained the
// Synchroniser applies the accumulated radiative flux, schedules the next
// generation and advances current_iteration, all in one transaction.
package barrier

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/firevox/internal/radiation"
	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/voxel"
)

// Outcome is what a synchronisation attempt achieved.
type Outcome int

const (
	// NotFinished means the current generation still has work in flight.
	NotFinished Outcome = iota
	// Advanced means a generation was closed.
	Advanced
	// Terminated means the last generation has been reached.
	Terminated
)

func (o Outcome) String() string {
	switch o {
	case NotFinished:
		return "not-finished"
	case Advanced:
		return "advanced"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// MarshalText renders the outcome by name in JSON progress events.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result describes one synchronisation attempt.
type Result struct {
	Outcome Outcome `json:"outcome"`

	// Closed is the generation that was drained.
	Closed int64 `json:"closed"`

	// Generation is current_iteration after the attempt.
	Generation int64 `json:"generation"`

	CarriedForward  int64 `json:"carried_forward"`
	FluxConnections int   `json:"flux_connections"`
	ScheduledVoxels int64 `json:"scheduled_voxels"`
	ScheduledPlanes int64 `json:"scheduled_planes"`
	Readings        int64 `json:"readings"`
}

// Synchroniser closes generations against a store.
type Synchroniser struct {
	store    *store.Store
	settings store.Settings
	catalog  voxel.Catalog
}

// New creates a Synchroniser with preloaded simulation constants.
func New(s *store.Store, settings store.Settings, catalog voxel.Catalog) *Synchroniser {
	return &Synchroniser{store: s, settings: settings, catalog: catalog}
}

// Load creates a Synchroniser reading settings and materials from s.
func Load(ctx context.Context, s *store.Store) (*Synchroniser, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	catalog, err := s.Materials(ctx)
	if err != nil {
		return nil, err
	}
	return New(s, settings, catalog), nil
}

// VerifyIterationFinish returns ErrIterationNotFinished unless g is the
// current generation and all of its scheduled work has been processed.
func (s *Synchroniser) VerifyIterationFinish(ctx context.Context, g int64) error {
	snap, err := s.store.Counters(ctx)
	if err != nil {
		return err
	}
	return verify(snap, g)
}

func verify(snap store.CounterSnapshot, g int64) error {
	if snap.Generation != g || !snap.Drained() {
		return simerr.NewIterationNotFinished(
			g, snap.ProcessedVoxels, snap.ScheduledVoxels, snap.ProcessedPlanes, snap.ScheduledPlanes)
	}
	return nil
}

// SynchroniseRadiationResults applies every connection's accumulated flux
// to generation g+1 of its endpoints and zeroes the accumulators. The
// energy of a connection is shared evenly by the non-boundary members of a
// plane, each heated according to its own material. Touched voxels are
// scheduled for g+1 unless g+1 is the last generation. Returns the number
// of connections applied and voxels scheduled.
func (s *Synchroniser) SynchroniseRadiationResults(ctx context.Context, tx *store.Tx, g int64) (int, int64, error) {
	entries, err := tx.PendingFlux(ctx)
	if err != nil {
		return 0, 0, err
	}

	next := g + 1
	schedule := next < s.settings.MaxGenerations

	var scheduled int64
	apply := func(planeID int64, qNet float64) error {
		if err := s.heat(ctx, tx, planeID, next, qNet); err != nil {
			return err
		}
		if !schedule {
			return nil
		}
		n, err := tx.PublishPlaneMembers(ctx, planeID, next)
		scheduled += n
		return err
	}

	for _, e := range entries {
		if err := apply(e.Source, -e.QNet); err != nil {
			return 0, 0, err
		}
		if e.Ambient() {
			continue
		}
		if err := apply(e.Destination, e.QNet); err != nil {
			return 0, 0, err
		}
	}

	if err := tx.ResetFlux(ctx); err != nil {
		return 0, 0, err
	}
	return len(entries), scheduled, nil
}

// heat spreads qNet watts over the heated members of a plane for one time
// step, writing generation g.
func (s *Synchroniser) heat(ctx context.Context, tx *store.Tx, planeID, g int64, qNet float64) error {
	members, err := tx.HeatedMembers(ctx, planeID, g)
	if err != nil {
		return err
	}
	volume := s.settings.VoxelVolume()
	for _, m := range members {
		mat, ok := s.catalog.Lookup(m.Material)
		if !ok {
			return fmt.Errorf("plane %d: voxel %s has unknown material %d", planeID, m.Key, m.Material)
		}
		delta := radiation.TemperatureDelta(qNet, s.settings.TimeStep, len(members), mat.Density, mat.SpecificHeatCapacity, volume)
		if err := tx.ShiftTemperature(ctx, m.Key, g, delta); err != nil {
			return err
		}
	}
	return nil
}

// ResetCounters moves the counters past generation g.
func (s *Synchroniser) ResetCounters(ctx context.Context, tx *store.Tx, g int64) error {
	snap, err := tx.Counters(ctx)
	if err != nil {
		return err
	}
	if snap.Generation != g {
		return fmt.Errorf("reset counters for generation %d: current generation is %d", g, snap.Generation)
	}
	return tx.ResetCounters(ctx)
}

// Synchronise closes the current generation if it is drained. The whole
// close runs in one transaction: on any error nothing is applied.
//
// Returns Result{Outcome: NotFinished} together with an
// ErrIterationNotFinished error when work is still in flight.
func (s *Synchroniser) Synchronise(ctx context.Context) (Result, error) {
	var res Result
	err := s.store.Update(ctx, func(tx *store.Tx) error {
		snap, err := tx.Counters(ctx)
		if err != nil {
			return err
		}
		g := snap.Generation
		res = Result{Closed: g, Generation: g}

		if snap.Terminated() {
			res.Outcome = Terminated
			return nil
		}
		if err := verify(snap, g); err != nil {
			res.Outcome = NotFinished
			return err
		}

		if res.CarriedForward, err = tx.CarryForward(ctx, g); err != nil {
			return err
		}
		if res.FluxConnections, res.ScheduledVoxels, err = s.SynchroniseRadiationResults(ctx, tx, g); err != nil {
			return err
		}

		next := g + 1
		if next < snap.MaxGenerations {
			if res.ScheduledPlanes, err = tx.PublishPlanes(ctx, next); err != nil {
				return err
			}
		}
		if res.Readings, err = tx.RecordReadings(ctx, next); err != nil {
			return err
		}
		if err := s.ResetCounters(ctx, tx, g); err != nil {
			return err
		}
		if err := tx.Prune(ctx, g); err != nil {
			return err
		}

		res.Generation = next
		res.Outcome = Advanced
		if next >= snap.MaxGenerations {
			res.Outcome = Terminated
		}
		return nil
	})
	if err != nil {
		return res, err
	}

	if res.Closed != res.Generation {
		slog.Info("generation closed",
			"generation", res.Closed,
			"carried_forward", res.CarriedForward,
			"flux_connections", res.FluxConnections,
			"scheduled_voxels", res.ScheduledVoxels,
			"scheduled_planes", res.ScheduledPlanes,
			"outcome", res.Outcome.String())
	}
	return res, nil
}
