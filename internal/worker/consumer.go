// Package worker consumes the message bus.
//
// A Consumer claims a batch of leased messages, runs them on a worker pool
// and commits each item in one transaction: the completion record, the
// next-generation state or flux, follow-up publications and the ack.
// Completion records make redelivered messages no-ops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/roach88/firevox/internal/grid"
	"github.com/roach88/firevox/internal/physics"
	"github.com/roach88/firevox/internal/radiation"
	"github.com/roach88/firevox/internal/simerr"
	"github.com/roach88/firevox/internal/store"
	"github.com/roach88/firevox/internal/voxel"
)

// Defaults for Consumer options.
const (
	DefaultBatchSize    = 64
	DefaultLease        = 30 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
)

// Consumer processes voxel and plane messages for one worker process.
type Consumer struct {
	store    *store.Store
	settings store.Settings
	grid     *grid.Grid
	rule     physics.Rule

	id    string
	clock Clock

	concurrency  int
	batchSize    int
	lease        time.Duration
	pollInterval time.Duration

	pool   pond.Pool
	planes sync.Map // int64 -> *radiation.Plane
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithIDGenerator names the consumer with the next id from gen.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Consumer) {
		c.id = gen.Generate()
	}
}

// WithClock sets the clock used for leases.
func WithClock(clock Clock) Option {
	return func(c *Consumer) {
		c.clock = clock
	}
}

// WithConcurrency bounds the number of messages processed at once.
func WithConcurrency(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// WithBatchSize sets how many messages are claimed per poll.
func WithBatchSize(n int) Option {
	return func(c *Consumer) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLease sets how long a claimed message stays hidden from others.
func WithLease(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.lease = d
		}
	}
}

// WithPollInterval sets the idle wait between empty polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Consumer) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithRule replaces the per-voxel physics rule.
func WithRule(rule physics.Rule) Option {
	return func(c *Consumer) {
		c.rule = rule
	}
}

// New creates a Consumer. The default rule is conduction.
func New(s *store.Store, settings store.Settings, catalog voxel.Catalog, opts ...Option) *Consumer {
	c := &Consumer{
		store:        s,
		settings:     settings,
		grid:         grid.New(s, settings.Bounds),
		rule:         physics.NewConduction(catalog, settings.VoxelLength, settings.ActivityThreshold),
		clock:        systemClock{},
		concurrency:  runtime.NumCPU(),
		batchSize:    DefaultBatchSize,
		lease:        DefaultLease,
		pollInterval: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.id == "" {
		c.id = UUIDv7Generator{}.Generate()
	}
	c.pool = pond.NewPool(c.concurrency)
	return c
}

// Load creates a Consumer reading settings and materials from s.
func Load(ctx context.Context, s *store.Store, opts ...Option) (*Consumer, error) {
	settings, err := s.Settings(ctx)
	if err != nil {
		return nil, err
	}
	catalog, err := s.Materials(ctx)
	if err != nil {
		return nil, err
	}
	return New(s, settings, catalog, opts...), nil
}

// ID returns the worker id recorded on completions.
func (c *Consumer) ID() string {
	return c.id
}

// Close stops the worker pool after in-flight messages finish.
func (c *Consumer) Close() {
	c.pool.StopAndWait()
}

// Run polls until ctx is cancelled or the simulation terminates.
// Returns nil on termination and ctx.Err() on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	slog.Info("worker starting", "worker", c.id, "concurrency", c.concurrency, "batch_size", c.batchSize)
	for {
		n, err := c.Poll(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("poll failed", "worker", c.id, "error", err)
		}
		if n > 0 {
			continue
		}

		snap, err := c.store.Counters(ctx)
		if err == nil && snap.Terminated() {
			slog.Info("worker stopping: simulation terminated", "worker", c.id, "generation", snap.Generation)
			return nil
		}

		select {
		case <-ctx.Done():
			slog.Info("worker stopping: context cancelled", "worker", c.id)
			return ctx.Err()
		case <-time.After(c.pollInterval):
		}
	}
}

// Poll claims one batch and processes it. Returns the number of messages
// claimed. Failed messages are logged: an InvalidSimulationState message
// keeps its lease and is redelivered after it expires, any other failure
// releases the message for immediate retry.
func (c *Consumer) Poll(ctx context.Context) (int, error) {
	msgs, err := c.store.Claim(ctx, c.id, c.batchSize, c.clock.Now(), c.lease)
	if err != nil {
		return 0, fmt.Errorf("claim: %w", err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	errs := make([]error, len(msgs))
	group := c.pool.NewGroup()
	for i, m := range msgs {
		i, m := i, m
		group.Submit(func() {
			errs[i] = c.Handle(ctx, m)
		})
	}
	if err := group.Wait(); err != nil {
		return len(msgs), fmt.Errorf("process batch: %w", err)
	}

	for i, err := range errs {
		if err == nil {
			continue
		}
		m := msgs[i]
		if simerr.IsInvalidSimulationState(err) {
			slog.Error("work item references missing state",
				"worker", c.id, "message", m.String(), "error", err)
			continue
		}
		slog.Error("work item failed",
			"worker", c.id, "message", m.String(), "error", err)
		if err := c.store.Release(ctx, m.ID, c.id); err != nil {
			slog.Error("release failed", "worker", c.id, "message", m.String(), "error", err)
		}
	}
	return len(msgs), nil
}

// Handle processes one message.
func (c *Consumer) Handle(ctx context.Context, m store.Message) error {
	switch m.Topic {
	case store.TopicVoxel:
		return c.handleVoxel(ctx, m)
	case store.TopicPlane:
		return c.handlePlane(ctx, m)
	default:
		return fmt.Errorf("message %d: unknown topic %q", m.ID, m.Topic)
	}
}

// errStale aborts a transaction whose message belongs to a closed
// generation.
var errStale = errors.New("stale message")

// commit runs fn for message m inside one transaction. Stale and
// already-completed messages are acknowledged without running fn.
func (c *Consumer) commit(ctx context.Context, m store.Message, fn func(tx *store.Tx) error) error {
	err := c.store.Update(ctx, func(tx *store.Tx) error {
		current, err := tx.Counter(ctx, store.CurrentIteration)
		if err != nil {
			return err
		}
		if m.Generation < current {
			return errStale
		}

		inserted, err := tx.Complete(ctx, m.Topic, m.Key, m.Generation, c.id)
		if err != nil {
			return err
		}
		if inserted {
			if err := fn(tx); err != nil {
				return err
			}
		} else {
			slog.Debug("duplicate delivery", "worker", c.id, "message", m.String())
		}
		return tx.Ack(ctx, m.ID)
	})
	if errors.Is(err, errStale) {
		return c.dropStale(ctx, m)
	}
	return err
}

// stale reports whether m belongs to a generation the barrier already
// closed. Stale messages are acknowledged and dropped.
func (c *Consumer) stale(ctx context.Context, m store.Message) (bool, error) {
	snap, err := c.store.Counters(ctx)
	if err != nil {
		return false, err
	}
	if m.Generation >= snap.Generation {
		return false, nil
	}
	return true, c.dropStale(ctx, m)
}

func (c *Consumer) dropStale(ctx context.Context, m store.Message) error {
	slog.Debug("dropping stale message", "worker", c.id, "message", m.String())
	return c.store.Ack(ctx, m.ID)
}

func (c *Consumer) handleVoxel(ctx context.Context, m store.Message) error {
	key, err := voxel.ParseKey(m.Key)
	if err != nil {
		return fmt.Errorf("message %d: %w", m.ID, err)
	}
	g := m.Generation
	if stale, err := c.stale(ctx, m); stale || err != nil {
		return err
	}

	st, err := c.store.Voxel(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return simerr.NewInvalidSimulationState(string(m.Topic), m.Key, g)
	}
	if err != nil {
		return err
	}
	if _, ok := st.At(g); !ok {
		return simerr.NewInvalidSimulationState(string(m.Topic), m.Key, g)
	}

	nb, err := c.grid.Neighbors(ctx, key, c.rule.Shape(), g+1)
	if err != nil {
		return err
	}
	res, err := c.rule.Step(st, nb.Found, c.settings.TimeStep, g+1)
	if err != nil {
		return err
	}

	return c.commit(ctx, m, func(tx *store.Tx) error {
		if err := tx.WriteSlot(ctx, key, g+1, res.Slot()); err != nil {
			return err
		}
		if !res.Active || g+1 >= c.settings.MaxGenerations {
			return nil
		}
		if _, err := tx.Publish(ctx, store.TopicVoxel, key.String(), g+1); err != nil {
			return err
		}
		for _, n := range nb.Found {
			if n.Boundary {
				continue
			}
			if _, err := tx.Publish(ctx, store.TopicVoxel, n.Key.String(), g+1); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Consumer) handlePlane(ctx context.Context, m store.Message) error {
	id, err := strconv.ParseInt(m.Key, 10, 64)
	if err != nil {
		return fmt.Errorf("message %d: parse plane id: %w", m.ID, err)
	}
	g := m.Generation
	if stale, err := c.stale(ctx, m); stale || err != nil {
		return err
	}

	plane, err := c.plane(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return simerr.NewInvalidSimulationState(string(m.Topic), m.Key, g)
	}
	if err != nil {
		return err
	}

	ids := []int64{plane.ID}
	for _, conn := range plane.Connections {
		if !conn.Ambient() {
			ids = append(ids, conn.Destination)
		}
	}
	temps, err := c.store.MemberTemperatures(ctx, ids, g)
	if err != nil {
		return err
	}

	type flux struct {
		destination int64
		q           float64
	}
	var fluxes []flux
	if ts, ok := radiation.MeanTemperature(temps[plane.ID]); ok {
		for _, conn := range plane.Connections {
			td := c.settings.AmbientTemperature
			if !conn.Ambient() {
				if td, ok = radiation.MeanTemperature(temps[conn.Destination]); !ok {
					continue
				}
			}
			if q := radiation.NetFlux(conn.ViewFactor, plane.Area, ts, td); q > 0 {
				fluxes = append(fluxes, flux{destination: conn.Destination, q: q})
			}
		}
	}

	return c.commit(ctx, m, func(tx *store.Tx) error {
		for _, f := range fluxes {
			if err := tx.AddFlux(ctx, plane.ID, f.destination, f.q); err != nil {
				return err
			}
		}
		return nil
	})
}

// plane returns a plane from the cache, loading it on first use. Planes
// never change after pre-processing.
func (c *Consumer) plane(ctx context.Context, id int64) (*radiation.Plane, error) {
	if p, ok := c.planes.Load(id); ok {
		return p.(*radiation.Plane), nil
	}
	p, err := c.store.Plane(ctx, id)
	if err != nil {
		return nil, err
	}
	c.planes.Store(id, p)
	return p, nil
}
