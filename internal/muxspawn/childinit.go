package muxspawn

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/moby/sys/reexec"
	"golang.org/x/sys/unix"
)

const childInitName = "mux-spawn-child-init"

func init() {
	reexec.Register(childInitName, childInitMain)
}

// reexecCommand builds the command that will, once started, block on its
// inherited barrier fd (3) before execve-ing into argv. Grounded on
// original_source/warden/src/iomux/child.c's fork/wait-on-barrier/execvp
// sequence, adapted to Go's fork+exec-only process model via a self-reexec
// stub (the same substitution used by internal/supervisor's clone stage).
func reexecCommand(argv []string) *exec.Cmd {
	return reexec.Command(append([]string{childInitName}, argv...)...)
}

// childInitMain is the reexec entrypoint: it reads one byte off fd 3 (the
// inherited barrier pipe), then execve's into the real argv, preserving the
// reexec'd process's pid exactly like the C original's execvp after fork.
func childInitMain() {
	barrier := os.NewFile(3, "barrier")

	var buf [1]byte
	n, err := barrier.Read(buf[:])
	barrier.Close()
	if err != nil || n == 0 {
		os.Exit(1)
	}

	argv := os.Args[1:]
	if len(argv) == 0 {
		fmt.Fprintln(os.Stderr, "mux-spawn-child-init: missing argv")
		os.Exit(1)
	}

	path, err := exec.LookPath(argv[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := unix.Exec(path, argv, os.Environ()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
