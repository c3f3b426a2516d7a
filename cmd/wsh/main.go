// Command wsh attaches to a running supervisor, runs a command (or an
// interactive shell) inside its namespaces, and forwards stdio.
package main

import (
	"fmt"
	"os"

	"github.com/moby/boxsup/internal/wsh"
)

func main() {
	opts, err := wsh.ParseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	code, err := wsh.Run(opts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}
