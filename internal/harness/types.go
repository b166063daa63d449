package harness

import (
	"fmt"

	"github.com/roach88/firevox/internal/barrier"
	"github.com/roach88/firevox/internal/store"
)

// TraceEvent records one closed generation.
type TraceEvent struct {
	Closed          int64          `json:"closed"`
	Generation      int64          `json:"generation"`
	Outcome         string         `json:"outcome"`
	CarriedForward  int64          `json:"carried_forward"`
	FluxConnections int            `json:"flux_connections"`
	ScheduledVoxels int64          `json:"scheduled_voxels"`
	ScheduledPlanes int64          `json:"scheduled_planes"`
	Readings        []TraceReading `json:"readings,omitempty"`
}

// TraceReading is a thermometer sample rounded for stable golden output.
type TraceReading struct {
	Key         string `json:"key"`
	Temperature string `json:"temperature"`
}

func newTraceEvent(res barrier.Result, readings []store.Reading) TraceEvent {
	ev := TraceEvent{
		Closed:          res.Closed,
		Generation:      res.Generation,
		Outcome:         res.Outcome.String(),
		CarriedForward:  res.CarriedForward,
		FluxConnections: res.FluxConnections,
		ScheduledVoxels: res.ScheduledVoxels,
		ScheduledPlanes: res.ScheduledPlanes,
	}
	for _, r := range readings {
		if r.Generation == res.Generation {
			ev.Readings = append(ev.Readings, TraceReading{
				Key:         r.Key.String(),
				Temperature: fmt.Sprintf("%.4f", r.Temperature),
			})
		}
	}
	return ev
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass indicates overall success: every assertion held.
	Pass bool `json:"pass"`

	// SimulationID identifies the simulation the run created.
	SimulationID string `json:"simulation_id"`

	// Generation is current_iteration when the run ended.
	Generation int64 `json:"generation"`

	// Trace holds one event per closed generation, in order.
	Trace []TraceEvent `json:"trace"`

	// Readings holds every thermometer sample ordered by key then
	// generation.
	Readings []store.Reading `json:"readings,omitempty"`

	// Errors contains assertion failure messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
