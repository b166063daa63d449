package simulation

import (
	"context"

	"github.com/roach88/firevox/internal/store"
)

// State names where a simulation is in its lifecycle.
type State string

const (
	StateRunning    State = "running"
	StateDraining   State = "draining" // current generation processed, barrier pending
	StateTerminated State = "terminated"
)

// Status is a point-in-time view of a simulation.
type Status struct {
	SimulationID    string                `json:"simulation_id"`
	State           State                 `json:"state"`
	Counters        store.CounterSnapshot `json:"counters"`
	PendingMessages int64                 `json:"pending_messages"`
	Voxels          int64                 `json:"voxels"`
	Planes          int                   `json:"planes"`
	PendingFlux     float64               `json:"pending_flux"`
	Readings        []store.Reading       `json:"readings,omitempty"`
	Settings        store.Settings        `json:"-"`
}

// GetStatus reads the status of the simulation held by s.
func GetStatus(ctx context.Context, s *store.Store) (Status, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return Status{}, err
	}
	counters, err := s.Counters(ctx)
	if err != nil {
		return Status{}, err
	}
	pending, err := s.PendingMessages(ctx)
	if err != nil {
		return Status{}, err
	}
	voxels, err := s.CountVoxels(ctx)
	if err != nil {
		return Status{}, err
	}
	planes, err := s.PlaneIDs(ctx)
	if err != nil {
		return Status{}, err
	}
	flux, err := s.TotalFlux(ctx)
	if err != nil {
		return Status{}, err
	}
	readings, err := s.Readings(ctx)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		SimulationID:    settings.SimulationID,
		Counters:        counters,
		PendingMessages: pending,
		Voxels:          voxels,
		Planes:          len(planes),
		PendingFlux:     flux,
		Readings:        readings,
		Settings:        settings,
	}
	switch {
	case counters.Terminated():
		st.State = StateTerminated
	case counters.Drained():
		st.State = StateDraining
	default:
		st.State = StateRunning
	}
	return st, nil
}
