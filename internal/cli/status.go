package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/firevox/internal/simulation"
)

// DatabaseOptions holds flags for commands that only read a database.
type DatabaseOptions struct {
	*RootOptions
	Database string
}

// statusView renders a simulation.Status as text.
type statusView simulation.Status

func (s statusView) RenderText(w io.Writer) error {
	c := s.Counters
	fmt.Fprintf(w, "Simulation %s: %s\n", s.SimulationID, s.State)
	fmt.Fprintf(w, "  generation:    %d of %d\n", c.Generation, c.MaxGenerations)
	fmt.Fprintf(w, "  voxels:        %d/%d processed, %d scheduled next\n", c.ProcessedVoxels, c.ScheduledVoxels, c.NextVoxels)
	fmt.Fprintf(w, "  planes:        %d/%d processed, %d scheduled next\n", c.ProcessedPlanes, c.ScheduledPlanes, c.NextPlanes)
	fmt.Fprintf(w, "  pending:       %d messages, %.6g W flux\n", s.PendingMessages, s.PendingFlux)
	fmt.Fprintf(w, "  scene:         %d voxels, %d planes\n", s.Voxels, s.Planes)
	if len(s.Readings) == 0 {
		return nil
	}

	fmt.Fprintln(w, "\nThermometers:")
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  KEY\tGENERATION\tTEMPERATURE")
	for _, r := range s.Readings {
		fmt.Fprintf(tw, "  %s\t%d\t%.4f\n", r.Key, r.Generation, r.Temperature)
	}
	return tw.Flush()
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DatabaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a simulation",
		Long: `Show the generation counters, pending work and thermometer readings of
the simulation held in a database.

Example:
  firevox status --db ./room.db
  firevox status --db ./room.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, opts.Database, true)
			if err != nil {
				return err
			}
			defer closeStore(st)

			status, err := simulation.GetStatus(cmd.Context(), st)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read simulation", err)
			}
			return opts.formatter(cmd).Success(statusView(status))
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
