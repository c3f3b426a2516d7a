package wsh

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/moby/term"
	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/protocol"
	"github.com/moby/boxsup/internal/unixsock"
)

// Run connects to opts.SocketPath, sends a session request built from
// opts plus the process's own tty-ness/rlimits/LANG, and pumps stdio
// until the remote command exits. It returns the exit status to report
// (255 on any failure before a status is read, matching spec's EOF-
// without-status rule).
func Run(opts Options) (int, error) {
	conn, err := net.Dial("unix", opts.SocketPath)
	if err != nil {
		return 255, fmt.Errorf("wsh: connect %s: %w", opts.SocketPath, err)
	}
	defer conn.Close()
	uc := conn.(*net.UnixConn)

	isTTY := term.IsTerminal(os.Stdin.Fd())

	limits, err := importRlimits()
	if err != nil {
		return 255, err
	}

	req := protocol.SessionRequest{
		Version: protocol.Version,
		TTY:     isTTY,
		Argv:    opts.Argv,
		Rlimits: limits,
		User:    opts.User,
		Lang:    os.Getenv("LANG"),
	}

	data, err := req.Marshal()
	if err != nil {
		return 255, err
	}
	if _, err := uc.Write(data); err != nil {
		return 255, fmt.Errorf("wsh: send session request: %w", err)
	}

	if isTTY {
		return runInteractive(uc)
	}
	return runPipe(uc)
}

// runInteractive handles the TTY session_response: one master pty fd and
// one status fd. Local stdin goes raw for the duration and is restored on
// exit; SIGWINCH is forwarded to the remote pty.
func runInteractive(uc *net.UnixConn) (int, error) {
	hdr := make([]byte, protocol.ResponseHeaderSize)
	_, fds, err := unixsock.RecvFDs(uc, hdr, 2)
	if err != nil || len(fds) != 2 {
		return 255, fmt.Errorf("wsh: receive tty response: %w", err)
	}
	master := os.NewFile(uintptr(fds[0]), "remote-pty")
	statusFD := fds[1]
	defer master.Close()
	defer unix.Close(statusFD)

	state, err := term.SetRawTerminal(os.Stdin.Fd())
	if err == nil {
		defer term.RestoreTerminal(os.Stdin.Fd(), state)
	}

	forwardWinsize(master.Fd())
	stopWinch := watchWinsize(master.Fd())
	defer stopWinch()

	go io.Copy(master, os.Stdin)

	var out sync.WaitGroup
	out.Add(1)
	go func() {
		defer out.Done()
		io.Copy(os.Stdout, master)
	}()

	code, err := readStatus(statusFD)
	// One more drain pass: the remote side may still have output sitting
	// in the pty buffer when the status word arrives, same as the
	// original's pump_loop doing a final splice before exit(status).
	out.Wait()
	return code, err
}

// runPipe handles the non-TTY session_response: stdin-write, stdout-read,
// stderr-read, and status fds.
func runPipe(uc *net.UnixConn) (int, error) {
	hdr := make([]byte, protocol.ResponseHeaderSize)
	_, fds, err := unixsock.RecvFDs(uc, hdr, 4)
	if err != nil || len(fds) != 4 {
		return 255, fmt.Errorf("wsh: receive pipe response: %w", err)
	}
	stdinW := os.NewFile(uintptr(fds[0]), "remote-stdin")
	stdoutR := os.NewFile(uintptr(fds[1]), "remote-stdout")
	stderrR := os.NewFile(uintptr(fds[2]), "remote-stderr")
	statusFD := fds[3]
	defer stdinW.Close()
	defer stdoutR.Close()
	defer stderrR.Close()
	defer unix.Close(statusFD)

	go io.Copy(stdinW, os.Stdin)

	var out sync.WaitGroup
	out.Add(2)
	go func() {
		defer out.Done()
		io.Copy(os.Stdout, stdoutR)
	}()
	go func() {
		defer out.Done()
		io.Copy(os.Stderr, stderrR)
	}()

	code, err := readStatus(statusFD)
	// Drain whatever's left in the stdout/stderr pipes before reporting
	// the exit code, so kernel-buffered trailing output isn't truncated.
	out.Wait()
	return code, err
}

// readStatus reads the raw wait(2) status word (big-endian, matching
// this repo's wire-format convention) and decodes it the way the
// stdlib's own WIFEXITED/WEXITSTATUS would. EOF before a full word
// arrives means the process died without reporting — spec's "255 on
// EOF-without-status".
func readStatus(fd int) (int, error) {
	var buf [4]byte
	n, err := unixReadFull(fd, buf[:])
	if n < len(buf) {
		return 255, err
	}

	ws := syscall.WaitStatus(binary.BigEndian.Uint32(buf[:]))
	if ws.Exited() {
		return ws.ExitStatus(), nil
	}
	return 255, nil
}

func unixReadFull(fd int, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := unix.Read(fd, buf[total:])
		if n > 0 {
			total += n
		}
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

func forwardWinsize(remoteFD uintptr) {
	ws, err := term.GetWinsize(os.Stdin.Fd())
	if err != nil {
		return
	}
	term.SetWinsize(remoteFD, ws)
}

// watchWinsize forwards local SIGWINCH to the remote pty for the life of
// the session; the returned func stops the forwarder.
func watchWinsize(remoteFD uintptr) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGWINCH)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ch:
				forwardWinsize(remoteFD)
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
