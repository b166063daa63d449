package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/firevox/internal/barrier"
	"github.com/roach88/firevox/internal/config"
	"github.com/roach88/firevox/internal/scene"
	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/simulation"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/testutil"
	"github.com/roach88/firevox/internal/worker"
)

// maxStalls bounds how many lease expiries a generation may need to
// drain before the run is declared stuck.
const maxStalls = 3

// epoch is the start of the manual clock. Leases are measured against it.
var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness drives a simulation to termination inside one process, with
// deterministic ids and a manual lease clock.
type Harness struct {
	store     *store.Store
	syncer    *barrier.Synchroniser
	consumers []*worker.Consumer
	clock     *testutil.ManualClock
	lease     time.Duration
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
//  1. Create fresh in-memory database
//  2. Load the scene and pre-process it
//  3. Alternate draining the bus and closing the generation until the
//     simulation terminates
//  4. Evaluate assertions and return result with pass/fail, trace and errors
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	cfg, err := scenarioConfig(scenario)
	if err != nil {
		return nil, err
	}
	sc, err := scene.Load(scenario.Scene)
	if err != nil {
		return nil, err
	}
	summary, err := simulation.Create(ctx, st, sc, cfg,
		simulation.WithIDGenerator(testutil.NewFixedIDGenerator(scenario.Name)))
	if err != nil {
		return nil, fmt.Errorf("failed to create simulation: %w", err)
	}

	h, err := newHarness(ctx, st, cfg, scenario.Workers)
	if err != nil {
		return nil, err
	}
	defer h.close()

	result := NewResult()
	result.SimulationID = summary.SimulationID
	if err := h.execute(ctx, result); err != nil {
		return nil, err
	}

	actx := &AssertionContext{Store: st, Ctx: ctx}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// scenarioConfig applies the scenario's overrides to the defaults through
// the configuration schema, so scenarios are validated like config files.
func scenarioConfig(scenario *Scenario) (config.Config, error) {
	if len(scenario.Config) == 0 {
		return config.Default(), nil
	}
	data, err := json.Marshal(scenario.Config)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario %s config: %w", scenario.Name, err)
	}
	cfg, err := config.Parse(scenario.Name+".config", data)
	if err != nil {
		return config.Config{}, fmt.Errorf("scenario %s config: %w", scenario.Name, err)
	}
	return cfg, nil
}

func newHarness(ctx context.Context, st *store.Store, cfg config.Config, workers int) (*Harness, error) {
	if workers <= 0 {
		workers = 1
	}
	syncer, err := barrier.Load(ctx, st)
	if err != nil {
		return nil, err
	}

	h := &Harness{
		store:  st,
		syncer: syncer,
		clock:  testutil.NewManualClock(epoch),
		lease:  cfg.Worker.Lease,
	}
	ids := testutil.NewFixedIDGenerator("worker")
	for i := 0; i < workers; i++ {
		c, err := worker.Load(ctx, st,
			worker.WithIDGenerator(ids),
			worker.WithClock(h.clock),
			worker.WithConcurrency(1),
			worker.WithBatchSize(cfg.Worker.BatchSize),
			worker.WithLease(cfg.Worker.Lease),
		)
		if err != nil {
			h.close()
			return nil, err
		}
		h.consumers = append(h.consumers, c)
	}
	return h, nil
}

func (h *Harness) close() {
	for _, c := range h.consumers {
		c.Close()
	}
}

// execute runs generations until the barrier reports termination.
func (h *Harness) execute(ctx context.Context, result *Result) error {
	stalls := 0
	for {
		if err := h.drain(ctx); err != nil {
			return err
		}

		res, err := h.syncer.Synchronise(ctx)
		switch {
		case simerr.IsIterationNotFinished(err):
			// Leased but unacknowledged work comes back once its lease
			// expires.
			stalls++
			if stalls > maxStalls {
				return fmt.Errorf("generation %d did not drain: %w", res.Closed, err)
			}
			h.clock.Advance(h.lease)
			continue
		case err != nil:
			return err
		}
		stalls = 0

		if res.Closed != res.Generation {
			readings, err := h.store.Readings(ctx)
			if err != nil {
				return err
			}
			result.Trace = append(result.Trace, newTraceEvent(res, readings))
		}
		result.Generation = res.Generation
		if res.Outcome == barrier.Terminated {
			break
		}
	}

	readings, err := h.store.Readings(ctx)
	if err != nil {
		return err
	}
	result.Readings = readings
	slog.Debug("scenario finished", "generation", result.Generation, "events", len(result.Trace))
	return nil
}

// drain polls every consumer until none of them claims anything.
func (h *Harness) drain(ctx context.Context) error {
	for {
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			claimed int
			first   error
		)
		for _, c := range h.consumers {
			c := c
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := c.Poll(ctx)
				mu.Lock()
				defer mu.Unlock()
				claimed += n
				if err != nil && first == nil {
					first = err
				}
			}()
		}
		wg.Wait()

		if first != nil {
			return first
		}
		if claimed == 0 {
			return nil
		}
	}
}
