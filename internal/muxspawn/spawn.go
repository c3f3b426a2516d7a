// Package muxspawn implements mux-spawn: run a single child command behind
// three Unix-domain sockets (stdout, stderr, status) that any number of
// mux-link peers can attach to, with ring-buffer catch-up and deferred
// status delivery.
//
// Grounded on original_source/warden/src/iomux/iomux-spawn.c and child.c.
package muxspawn

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/ioutil"
	"github.com/moby/boxsup/internal/muxer"
	"github.com/moby/boxsup/internal/unixsock"
)

const backlog = 10

const (
	stdoutSock = "stdout.sock"
	stderrSock = "stderr.sock"
	statusSock = "status.sock"
)

// Spawn creates the three listeners under dir, forks argv behind a release
// barrier, waits for a client to attach to all three sockets before
// releasing the child, then runs until the child exits and every muxer has
// drained. It prints "child_pid=<pid>\n" followed by "child active\n" to
// stdout once the child has been released.
func Spawn(dir string, argv []string, ringSize int) error {
	if len(argv) == 0 {
		return fmt.Errorf("muxspawn: empty argv")
	}

	runID := uuid.New().String()
	log := logrus.WithField("run", runID).WithField("dir", dir)

	paths := map[string]string{
		stdoutSock: filepath.Join(dir, stdoutSock),
		stderrSock: filepath.Join(dir, stderrSock),
		statusSock: filepath.Join(dir, statusSock),
	}

	stdoutL, err := unixsock.ListenBacklog(paths[stdoutSock], 0o666, backlog)
	if err != nil {
		return fmt.Errorf("muxspawn: %w", err)
	}
	stderrL, err := unixsock.ListenBacklog(paths[stderrSock], 0o666, backlog)
	if err != nil {
		return fmt.Errorf("muxspawn: %w", err)
	}
	statusL, err := unixsock.ListenBacklog(paths[statusSock], 0o666, backlog)
	if err != nil {
		return fmt.Errorf("muxspawn: %w", err)
	}
	defer func() {
		for _, p := range paths {
			os.Remove(p)
		}
	}()

	if err := unix.Setsid(); err != nil && !errors.Is(err, unix.EPERM) {
		log.WithError(err).Warn("setsid failed")
	}

	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("muxspawn: stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("muxspawn: stderr pipe: %w", err)
	}
	barrierR, barrierW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("muxspawn: barrier pipe: %w", err)
	}

	cmd, err := startChild(argv, stdoutW, stderrW, barrierR)
	stdoutW.Close()
	stderrW.Close()
	barrierR.Close()
	if err != nil {
		stdoutR.Close()
		stderrR.Close()
		barrierW.Close()
		return fmt.Errorf("muxspawn: start child: %w", err)
	}

	stdoutMux, err := muxer.New("stdout", int(stdoutR.Fd()), stdoutL, ringSize)
	if err != nil {
		return fmt.Errorf("muxspawn: %w", err)
	}
	stderrMux, err := muxer.New("stderr", int(stderrR.Fd()), stderrL, ringSize)
	if err != nil {
		return fmt.Errorf("muxspawn: %w", err)
	}
	var statusBarrier ioutil.Barrier
	statusWriter := muxer.NewStatusWriter(statusL, &statusBarrier)

	var muxWG sync.WaitGroup
	muxWG.Add(3)
	go func() { defer muxWG.Done(); stdoutMux.Run() }()
	go func() { defer muxWG.Done(); stderrMux.Run() }()
	go func() { defer muxWG.Done(); statusWriter.Run() }()

	var g errgroup.Group
	g.Go(func() error { stdoutMux.WaitForClient(); return nil })
	g.Go(func() error { stderrMux.WaitForClient(); return nil })
	g.Go(func() error { statusBarrier.Wait(); return nil })
	g.Wait()

	if _, err := barrierW.Write([]byte("X")); err != nil {
		log.WithError(err).Warn("release write failed")
	}
	barrierW.Close()

	fmt.Printf("child_pid=%d\n", cmd.Process.Pid)
	fmt.Println("child active")

	waitErr := cmd.Wait()

	statusWriter.Finish(rawWaitStatus(waitErr))
	stdoutMux.Stop()
	stderrMux.Stop()
	muxWG.Wait()

	stdoutR.Close()
	stderrR.Close()

	return nil
}

func startChild(argv []string, stdoutW, stderrW, barrierR *os.File) (*exec.Cmd, error) {
	cmd := reexecCommand(argv)
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	cmd.ExtraFiles = []*os.File{barrierR}
	cmd.SysProcAttr = &syscall.SysProcAttr{Pdeathsig: syscall.SIGKILL}

	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd, nil
}
