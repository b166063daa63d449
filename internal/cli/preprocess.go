package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/firevox/internal/scene"
	"github.com/roach88/firevox/internal/simulation"
)

// PreprocessOptions holds flags for the preprocess command.
type PreprocessOptions struct {
	*RootOptions
	Database string
	Scene    string
	Config   string
}

// summaryView renders a simulation.Summary as text.
type summaryView simulation.Summary

func (s summaryView) RenderText(w io.Writer) error {
	_, err := fmt.Fprintf(w, `Simulation %s created from scene %q
  voxels:        %d (%d boundary, %d empty)
  planes:        %d (%d connections)
  thermometers:  %d
  scheduled:     %d voxels, %d planes
  generations:   %d
`,
		s.SimulationID, s.Scene,
		s.Voxels, s.BoundaryVoxels, s.EmptyVoxels,
		s.Planes, s.Connections,
		s.Thermometers,
		s.ScheduledVoxels, s.ScheduledPlanes,
		s.MaxGenerations)
	return err
}

// NewPreprocessCommand creates the preprocess command.
func NewPreprocessCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PreprocessOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "preprocess",
		Short: "Pre-process a scene into a simulation database",
		Long: `Load a scene, extract its radiation planes, compute view factors and
write everything to a new simulation database with generation 0 scheduled.

A database holds exactly one simulation; pre-processing an initialized
database fails.

Example:
  firevox preprocess --db ./room.db --scene ./room.yaml
  firevox preprocess --db ./room.db --scene ./room.yaml --config ./run.cue`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPreprocess(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Scene, "scene", "", "path to scene YAML file (required)")
	cmd.Flags().StringVar(&opts.Config, "config", "", "path to configuration file (CUE or JSON)")
	_ = cmd.MarkFlagRequired("db")
	_ = cmd.MarkFlagRequired("scene")

	return cmd
}

func runPreprocess(opts *PreprocessOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return err
	}
	sc, err := scene.Load(opts.Scene)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scene", err)
	}

	st, err := openStore(cmd, opts.Database, false)
	if err != nil {
		return err
	}
	defer closeStore(st)

	slog.Info("pre-processing scene", "scene", sc.Name, "db", opts.Database)
	summary, err := simulation.Create(cmd.Context(), st, sc, cfg)
	if errors.Is(err, simulation.ErrAlreadyCreated) {
		return WrapExitError(ExitCommandError, "cannot pre-process", err)
	}
	if err != nil {
		return WrapExitError(ExitFailure, "pre-processing failed", err)
	}
	return opts.formatter(cmd).Success(summaryView(summary))
}
