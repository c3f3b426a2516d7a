// Command supervisor runs as PID 1 of a fresh set of Linux namespaces and
// serves session requests (argv, rlimits, user, TTY-or-pipe stdio) over a
// Unix-domain socket. See internal/supervisor for the bootstrap/clone/
// continuation staging this entails.
package main

import (
	"fmt"
	"os"

	"github.com/moby/sys/reexec"
	"github.com/spf13/cobra"

	"github.com/moby/boxsup/internal/supervisor"
)

func main() {
	// The clone stage's self-exec into its continuation passes
	// "--continue <fd>" as a literal argv, bypassing reexec and cobra
	// entirely — it must run before either touches os.Args.
	if len(os.Args) >= 3 && os.Args[1] == "--continue" {
		if err := supervisor.RunContinuation(os.Args[2]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	if reexec.Init() {
		return
	}

	var opts supervisor.Options

	root := &cobra.Command{
		Use:          "supervisor",
		Short:        "Run the namespaced session supervisor",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return supervisor.Bootstrap(opts)
		},
	}
	root.Flags().StringVar(&opts.RunPath, "run", "run", "directory where the session socket is placed")
	root.Flags().StringVar(&opts.LibPath, "lib", "lib", "directory containing hook scripts")
	root.Flags().StringVar(&opts.RootPath, "root", "root", "directory that becomes / in the new mount namespace")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
