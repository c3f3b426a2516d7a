package supervisor

import (
	"fmt"
	"net"
	"os"

	"github.com/moby/sys/mount"
	"golang.org/x/sys/unix"
)

// continueFlag is the argv[1] the clone stage's self-exec passes to mark
// "resume as the continuation", recognised by cmd/supervisor before any
// flag parsing happens.
const continueFlag = "--continue"

// RunContinuation re-attaches the handoff memfd named by fdArg, finishes
// what the original wshd.c's child_run did after the pivot (mount
// cleanup, setsid, signalling the child barrier), and enters the session
// accept loop. It never returns on success — the accept loop runs until
// the process is killed.
func RunContinuation(fdArg string) error {
	memfd, err := parseFD(fdArg)
	if err != nil {
		return err
	}

	state, err := loadHandoff(memfd)
	if err != nil {
		return err
	}

	if err := mount.Unmount("/mnt"); err != nil {
		return fmt.Errorf("supervisor: unmount /mnt: %w", err)
	}

	if _, err := unix.Setsid(); err != nil {
		return fmt.Errorf("supervisor: setsid: %w", err)
	}

	listenerFile := os.NewFile(uintptr(state.ListenFD), "supervisor-socket")
	ln, err := net.FileListener(listenerFile)
	if err != nil {
		return fmt.Errorf("supervisor: re-attach listener: %w", err)
	}
	listenerFile.Close()

	if err := Signaler(state.ChildBarrierWFD).Signal(); err != nil {
		return fmt.Errorf("supervisor: signal child barrier: %w", err)
	}

	srv := newServer(Options{RunPath: state.RunPath, LibPath: state.LibPath, RootPath: state.RootPath})
	return srv.acceptLoop(ln.(*net.UnixListener))
}

func parseFD(s string) (int, error) {
	var fd int
	if _, err := fmt.Sscanf(s, "%d", &fd); err != nil {
		return 0, fmt.Errorf("supervisor: invalid handoff fd %q: %w", s, err)
	}
	return fd, nil
}
