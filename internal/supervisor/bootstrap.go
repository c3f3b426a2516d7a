package supervisor

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/unixsock"
)

// Bootstrap is parent_run's Go analogue: binds the session socket,
// unshares the mount namespace so the pre-clone hook can mount freely,
// runs the pre-clone hook, starts the clone stage in new namespaces, runs
// the post-clone hook, then releases the clone stage and blocks until its
// continuation signals that the accept loop is ready. Grounded on
// original_source/warden/src/wsh/wshd.c's parent_run.
func Bootstrap(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	listener, err := unixsock.ListenBacklog(opts.SocketPath(), 0700, 5)
	if err != nil {
		return err
	}

	listenerFile, err := listener.File()
	if err != nil {
		listener.Close()
		return fmt.Errorf("supervisor: listener fd: %w", err)
	}
	listener.Close()

	barrierParent, err := NewPipeBarrier()
	if err != nil {
		return err
	}
	barrierChild, err := NewPipeBarrier()
	if err != nil {
		return err
	}

	if err := unix.Unshare(unix.CLONE_NEWNS); err != nil {
		return fmt.Errorf("supervisor: unshare mount namespace: %w", err)
	}

	if err := runHook(opts.LibPath, "hook-parent-before-clone.sh"); err != nil {
		return err
	}

	cmd, err := startCloneStage(opts, listenerFile, barrierParent, barrierChild)
	if err != nil {
		return err
	}
	listenerFile.Close()

	os.Setenv("PID", fmt.Sprint(cmd.Process.Pid))

	if err := runHook(opts.LibPath, "hook-parent-after-clone.sh"); err != nil {
		return err
	}

	if err := barrierParent.Signal(); err != nil {
		return fmt.Errorf("supervisor: wake clone stage: %w", err)
	}

	if err := barrierChild.Wait(); err != nil {
		return fmt.Errorf("supervisor: wait for continuation: %w", err)
	}

	logrus.WithField("pid", cmd.Process.Pid).Info("supervisor: namespaces ready, accept loop running")
	return nil
}
