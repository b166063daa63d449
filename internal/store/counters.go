package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/firevox/internal/simerr"
)

// Counter names a durable coordination counter.
type Counter string

const (
	CurrentIteration Counter = "current_iteration"
	MaxIterations    Counter = "max_iterations"
	ProcessedVoxels  Counter = "processed_voxel_count"
	CurrentVoxels    Counter = "current_iteration_voxels_to_process_count"
	NextVoxels       Counter = "next_iteration_voxels_to_process_count"
	ProcessedPlanes  Counter = "processed_radiation_planes_count"
	CurrentPlanes    Counter = "current_iteration_radiation_planes_to_process_count"
	NextPlanes       Counter = "next_iteration_radiation_planes_to_process_count"
)

var allCounters = []Counter{
	CurrentIteration, MaxIterations,
	ProcessedVoxels, CurrentVoxels, NextVoxels,
	ProcessedPlanes, CurrentPlanes, NextPlanes,
}

// CounterSnapshot is a consistent read of every counter.
type CounterSnapshot struct {
	Generation      int64 `json:"generation"`
	MaxGenerations  int64 `json:"max_generations"`
	ProcessedVoxels int64 `json:"processed_voxels"`
	ScheduledVoxels int64 `json:"scheduled_voxels"`
	NextVoxels      int64 `json:"next_voxels"`
	ProcessedPlanes int64 `json:"processed_planes"`
	ScheduledPlanes int64 `json:"scheduled_planes"`
	NextPlanes      int64 `json:"next_planes"`
}

// Drained reports whether every scheduled item of the current generation
// has been processed.
func (c CounterSnapshot) Drained() bool {
	return c.ProcessedVoxels >= c.ScheduledVoxels && c.ProcessedPlanes >= c.ScheduledPlanes
}

// Terminated reports whether the simulation reached its last generation.
func (c CounterSnapshot) Terminated() bool {
	return c.Generation >= c.MaxGenerations
}

// InitCounters creates every counter at zero and sets max_iterations.
func (t *Tx) InitCounters(ctx context.Context, maxGenerations int64) error {
	for _, name := range allCounters {
		value := int64(0)
		if name == MaxIterations {
			value = maxGenerations
		}
		if _, err := t.tx.ExecContext(ctx, `
			INSERT INTO counters (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value
		`, string(name), value); err != nil {
			return fmt.Errorf("init counter %s: %w", name, err)
		}
	}
	return nil
}

// Counters reads every counter outside a transaction.
func (s *Store) Counters(ctx context.Context) (CounterSnapshot, error) {
	return readCounters(ctx, s.db)
}

// Counters reads every counter inside the transaction.
func (t *Tx) Counters(ctx context.Context) (CounterSnapshot, error) {
	return readCounters(ctx, t.tx)
}

// Counter reads one counter.
func (t *Tx) Counter(ctx context.Context, name Counter) (int64, error) {
	var v int64
	err := t.tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = ?`, string(name)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("counter %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("read counter %s: %w", name, err)
	}
	return v, nil
}

// Add increments a counter by n. Counters only grow between barriers, so
// n must be positive.
func (t *Tx) Add(ctx context.Context, name Counter, n int64) error {
	if n <= 0 {
		return simerr.NewCounterMisuse(string(name), n)
	}
	res, err := t.tx.ExecContext(ctx, `UPDATE counters SET value = value + ? WHERE name = ?`, n, string(name))
	if err != nil {
		return fmt.Errorf("add to counter %s: %w", name, err)
	}
	if rows, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("add to counter %s: %w", name, err)
	} else if rows == 0 {
		return fmt.Errorf("counter %s: %w", name, ErrNotFound)
	}
	return nil
}

// ResetCounters advances the counters past a closed generation: next
// becomes current, next and processed restart from zero, and
// current_iteration moves on by one.
func (t *Tx) ResetCounters(ctx context.Context) error {
	stmts := []string{
		`UPDATE counters SET value = (SELECT value FROM counters WHERE name = 'next_iteration_voxels_to_process_count')
		 WHERE name = 'current_iteration_voxels_to_process_count'`,
		`UPDATE counters SET value = (SELECT value FROM counters WHERE name = 'next_iteration_radiation_planes_to_process_count')
		 WHERE name = 'current_iteration_radiation_planes_to_process_count'`,
		`UPDATE counters SET value = 0 WHERE name IN (
			'next_iteration_voxels_to_process_count',
			'next_iteration_radiation_planes_to_process_count',
			'processed_voxel_count',
			'processed_radiation_planes_count')`,
		`UPDATE counters SET value = value + 1 WHERE name = 'current_iteration'`,
	}
	for _, stmt := range stmts {
		if _, err := t.tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("reset counters: %w", err)
		}
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func readCounters(ctx context.Context, q queryer) (CounterSnapshot, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, value FROM counters`)
	if err != nil {
		return CounterSnapshot{}, fmt.Errorf("query counters: %w", err)
	}
	defer rows.Close()

	values := make(map[Counter]int64, len(allCounters))
	for rows.Next() {
		var (
			name  string
			value int64
		)
		if err := rows.Scan(&name, &value); err != nil {
			return CounterSnapshot{}, fmt.Errorf("scan counter: %w", err)
		}
		values[Counter(name)] = value
	}
	if err := rows.Err(); err != nil {
		return CounterSnapshot{}, fmt.Errorf("iterate counters: %w", err)
	}
	if len(values) == 0 {
		return CounterSnapshot{}, fmt.Errorf("counters: %w", ErrNotFound)
	}

	return CounterSnapshot{
		Generation:      values[CurrentIteration],
		MaxGenerations:  values[MaxIterations],
		ProcessedVoxels: values[ProcessedVoxels],
		ScheduledVoxels: values[CurrentVoxels],
		NextVoxels:      values[NextVoxels],
		ProcessedPlanes: values[ProcessedPlanes],
		ScheduledPlanes: values[CurrentPlanes],
		NextPlanes:      values[NextPlanes],
	}, nil
}
