package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/firevox/internal/barrier"
	"github.com/roach88/firevox/internal/progress"
	"github.com/roach88/firevox/internal/simulation"
	"github.com/roach88/firevox/internal/worker"
)

// ProcessOptions holds flags shared by the worker and barrier commands.
type ProcessOptions struct {
	*RootOptions
	Database     string
	Config       string
	ProgressAddr string

	// IDGenerator allows overriding the worker id generator (for testing).
	IDGenerator worker.IDGenerator
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume voxel and plane work until the simulation terminates",
		Long: `Start a worker process that claims messages from the simulation's bus,
updates voxels and accumulates radiation flux. Any number of workers may
share one database; a barrier process must run alongside them.

Example:
  firevox worker --db ./room.db
  firevox worker --db ./room.db --config ./run.cue --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorker(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to configuration file (CUE or JSON)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runWorker(opts *ProcessOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	st, err := openStore(cmd, opts.Database, true)
	if err != nil {
		return err
	}
	defer closeStore(st)

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	consumer, err := worker.Load(ctx, st, workerOptions(cfg, opts.IDGenerator)...)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to load worker", err)
	}
	defer consumer.Close()

	if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "worker failed", err)
	}
	slog.Info("worker stopped", "worker", consumer.ID())
	return nil
}

// NewBarrierCommand creates the barrier command.
func NewBarrierCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ProcessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "barrier",
		Short: "Close generations on a fixed interval",
		Long: `Start the barrier process. On every tick it checks whether the current
generation is fully processed and, if so, applies radiation results,
carries unscheduled voxels forward and opens the next generation.

Run exactly one barrier per database.

Example:
  firevox barrier --db ./room.db
  firevox barrier --db ./room.db --progress-addr :8080`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBarrier(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to configuration file (CUE or JSON)")
	cmd.Flags().StringVar(&opts.ProgressAddr, "progress-addr", "", "listen address of the progress WebSocket (overrides progress.addr)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runBarrier(opts *ProcessOptions, cmd *cobra.Command) error {
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

	var triggerOpts []barrier.TriggerOption
	if cfg.Progress.Addr != "" {
		status, err := simulation.GetStatus(ctx, st)
		if err != nil {
			return WrapExitError(ExitFailure, "failed to read simulation", err)
		}
		hub := progress.NewHub()
		defer hub.Close()
		triggerOpts = append(triggerOpts, barrier.WithOnAdvance(hub.Publisher(ctx, st, status.SimulationID)))
		go func() {
			if err := progress.Serve(ctx, cfg.Progress.Addr, hub, nil); err != nil {
				slog.Error("progress server failed", "error", err)
			}
		}()
	}

	trigger := barrier.NewTrigger(syncer, cfg.Barrier.Interval, triggerOpts...)
	if err := trigger.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "barrier failed", err)
	}

	status, err := simulation.GetStatus(context.WithoutCancel(ctx), st)
	if err != nil {
		return WrapExitError(ExitFailure, "failed to read simulation", err)
	}
	return opts.formatter(cmd).Success(statusView(status))
}
