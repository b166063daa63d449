// Command firevox pre-processes and runs voxel fire simulations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/firevox/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
	os.Exit(cli.ExitSuccess)
}
