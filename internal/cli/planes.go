package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/firevox/internal/radiation"
)

// PlaneView is the listing form of a radiation plane.
type PlaneView struct {
	ID          int64            `json:"id"`
	Corners     [4]string        `json:"corners"`
	Normal      string           `json:"normal"`
	Material    int              `json:"material"`
	Voxels      int              `json:"voxels"`
	Area        float64          `json:"area"`
	Connections []ConnectionView `json:"connections"`
}

// ConnectionView is the listing form of a connection. Destination 0 is the
// ambient surroundings.
type ConnectionView struct {
	Destination int64   `json:"destination"`
	ViewFactor  float64 `json:"view_factor"`
	QNet        float64 `json:"q_net"`
}

type planesView []PlaneView

func (p planesView) RenderText(w io.Writer) error {
	if len(p) == 0 {
		_, err := fmt.Fprintln(w, "No radiation planes.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNORMAL\tMATERIAL\tVOXELS\tAREA\tCONNECTIONS")
	for _, pl := range p {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%.4g\t", pl.ID, pl.Normal, pl.Material, pl.Voxels, pl.Area)
		for i, c := range pl.Connections {
			if i > 0 {
				fmt.Fprint(tw, " ")
			}
			dest := fmt.Sprint(c.Destination)
			if c.Destination == radiation.AmbientID {
				dest = "ambient"
			}
			fmt.Fprintf(tw, "%s:%.4f", dest, c.ViewFactor)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}

func newPlaneView(p *radiation.Plane) PlaneView {
	v := PlaneView{
		ID:          p.ID,
		Corners:     [4]string{p.A.String(), p.B.String(), p.C.String(), p.D.String()},
		Normal:      p.Normal.String(),
		Material:    p.Material,
		Voxels:      p.VoxelCount(),
		Area:        p.Area,
		Connections: make([]ConnectionView, 0, len(p.Connections)),
	}
	for _, c := range p.Connections {
		v.Connections = append(v.Connections, ConnectionView{
			Destination: c.Destination,
			ViewFactor:  c.ViewFactor,
			QNet:        c.QNet,
		})
	}
	return v
}

// NewPlanesCommand creates the planes command.
func NewPlanesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DatabaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "planes",
		Short: "List the radiation planes of a simulation",
		Long: `List every radiation plane extracted at pre-processing with its
orientation, size and view factors to the planes it sees.

Example:
  firevox planes --db ./room.db
  firevox planes --db ./room.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd, opts.Database, true)
			if err != nil {
				return err
			}
			defer closeStore(st)

			planes, err := st.Planes(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read planes", err)
			}
			views := make(planesView, 0, len(planes))
			for _, p := range planes {
				views = append(views, newPlaneView(p))
			}
			return opts.formatter(cmd).Success(views)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}
