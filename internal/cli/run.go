package cli

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alitto/pond/v2"
	"github.com/spf13/cobra"

	"github.com/roach88/firevox/internal/barrier"
	"github.com/roach88/firevox/internal/config"
	"github.com/roach88/firevox/internal/progress"
	"github.com/roach88/firevox/internal/simulation"
	"github.com/roach88/firevox/internal/worker"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database     string
	Config       string
	ProgressAddr string

	// IDGenerator allows overriding the worker id generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDGenerator worker.IDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the barrier and a worker until the simulation terminates",
		Long: `Run a pre-processed simulation in a single process: the barrier trigger
closes generations on its interval while a worker drains the message bus.
The command returns once the last generation is reached.

With --progress-addr, every closed generation is streamed as JSON to
WebSocket clients connected to /progress.

Example:
  firevox run --db ./room.db
  firevox run --db ./room.db --config ./run.cue --progress-addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulation(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to configuration file (CUE or JSON)")
	cmd.Flags().StringVar(&opts.ProgressAddr, "progress-addr", "", "listen address of the progress WebSocket (overrides progress.addr)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSimulation(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	if opts.ProgressAddr != "" {
		cfg.Progress.Addr = opts.ProgressAddr
	}

	st, err := openStore(cmd, opts.Database, true)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	syncer, err := barrier.Load(ctx, st)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load barrier", err)
	}
	consumer, err := worker.Load(ctx, st, workerOptions(cfg, opts.IDGenerator)...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load worker", err)
	}
	defer consumer.Close()

	var triggerOpts []barrier.TriggerOption
	serveErr := make(chan error, 1)
	if cfg.Progress.Addr != "" {
		status, err := simulation.GetStatus(ctx, st)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read simulation", err)
		}
		hub := progress.NewHub()
		defer hub.Close()
		triggerOpts = append(triggerOpts, barrier.WithOnAdvance(hub.Publisher(ctx, st, status.SimulationID)))

		serveCtx, stopServe := context.WithCancel(ctx)
		defer stopServe()
		go func() {
			serveErr <- progress.Serve(serveCtx, cfg.Progress.Addr, hub, nil)
		}()
	}
	trigger := barrier.NewTrigger(syncer, cfg.Barrier.Interval, triggerOpts...)

	slog.Info("simulation starting", "db", opts.Database, "interval", cfg.Barrier.Interval, "worker", consumer.ID())
	if err := runUntilTerminated(ctx, trigger, consumer); err != nil {
		if errors.Is(err, context.Canceled) {
			slog.Info("simulation interrupted")
		} else {
			return WrapExitError(ExitFailure, "simulation failed", err)
		}
	}

	select {
	case err := <-serveErr:
		if err != nil {
			return WrapExitError(ExitFailure, "progress server failed", err)
		}
	default:
	}

	status, err := simulation.GetStatus(context.WithoutCancel(ctx), st)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read simulation", err)
	}
	return opts.formatter(cmd).Success(statusView(status))
}

// runUntilTerminated runs the trigger and the consumer side by side. The
// first failure cancels the other.
func runUntilTerminated(ctx context.Context, trigger *barrier.Trigger, consumer *worker.Consumer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool := pond.NewPool(2)
	defer pool.StopAndWait()

	group := pool.NewGroup()
	group.SubmitErr(
		func() error {
			err := trigger.Run(ctx)
			if err != nil {
				cancel()
			}
			return err
		},
		func() error {
			err := consumer.Run(ctx)
			if err != nil {
				cancel()
			}
			return err
		},
	)
	return group.Wait()
}

// signalContext derives a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

func workerOptions(cfg config.Config, ids worker.IDGenerator) []worker.Option {
	opts := []worker.Option{
		worker.WithConcurrency(cfg.Worker.Concurrency),
		worker.WithBatchSize(cfg.Worker.BatchSize),
		worker.WithLease(cfg.Worker.Lease),
		worker.WithPollInterval(cfg.Worker.PollInterval),
	}
	if ids != nil {
		opts = append(opts, worker.WithIDGenerator(ids))
	}
	return opts
}
