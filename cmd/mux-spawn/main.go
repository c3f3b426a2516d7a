// Command mux-spawn runs a single command behind a directory of
// Unix-domain sockets that mux-link instances can attach to for catch-up
// and live output, plus the eventual exit status.
package main

import (
	"fmt"
	"os"

	"github.com/docker/go-units"
	"github.com/moby/sys/reexec"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/moby/boxsup/internal/muxspawn"
)

func main() {
	if reexec.Init() {
		return
	}

	var ringSize string

	root := &cobra.Command{
		Use:                "mux-spawn DIR COMMAND [ARG...]",
		Short:              "Run a command behind catch-up/live-attach sockets",
		Args:               cobra.MinimumNArgs(2),
		SilenceUsage:       true,
		FParseErrWhitelist: pflag.ParseErrorsWhitelist{UnknownFlags: false},
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := units.RAMInBytes(ringSize)
			if err != nil {
				return fmt.Errorf("invalid --ring-size %q: %w", ringSize, err)
			}
			return muxspawn.Spawn(args[0], args[1:], int(size))
		},
	}
	root.Flags().SetInterspersed(false)
	root.Flags().StringVar(&ringSize, "ring-size", "65535", "ring buffer capacity per stream")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
