// Command mux-link attaches to a running mux-spawn's sockets, replays
// catch-up output (honoring a resume-offset checkpoint file), forwards
// live output to its own stdout/stderr, and exits with the remote
// command's status.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/linker"
)

func main() {
	var resumePath string

	root := &cobra.Command{
		Use:          "mux-link DIR",
		Short:        "Attach to a mux-spawn socket directory",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			resume := linker.Resume{Path: resumePath}
			code, err := linker.Run(args[0], resume, unix.Stdout, unix.Stderr)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
			}
			os.Exit(code)
			return nil
		},
	}
	root.Flags().StringVarP(&resumePath, "resume-file", "w", "", "checkpoint file recording forwarded byte offsets")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
