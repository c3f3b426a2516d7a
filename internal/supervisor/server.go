package supervisor

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// server holds the accept loop's state: the configured paths and the
// pid → exit-status-write-fd map the reaper consults. Grounded on
// wshd.c's child_loop/child_accept, generalised from a hardcoded
// "/bin/sh, three pipes" session to the full session_request protocol.
type server struct {
	opts Options

	mu       sync.Mutex
	children map[int]int // pid -> status write fd
}

func newServer(opts Options) *server {
	return &server{
		opts:     opts,
		children: make(map[int]int),
	}
}

// acceptLoop starts the SIGCHLD reaper and serves session requests until
// the listener is closed.
func (s *server) acceptLoop(ln *net.UnixListener) error {
	go s.reapChildren()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return fmt.Errorf("supervisor: accept: %w", err)
		}

		uc := conn.(*net.UnixConn)
		go func() {
			if err := s.handleSession(uc); err != nil {
				logrus.WithError(err).Warn("supervisor: session failed")
			}
		}()
	}
}

// reapChildren is the Go-idiomatic substitute for the original's
// signalfd-in-a-select loop: os/signal.Notify delivers SIGCHLD to a
// channel, and each notification drains every reapable child with a
// non-blocking wait4, since one SIGCHLD can coalesce several exits.
func (s *server) reapChildren() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, unix.SIGCHLD)

	for range sigCh {
		for {
			var ws unix.WaitStatus
			pid, err := unix.Wait4(-1, &ws, unix.WNOHANG, nil)
			if err != nil || pid <= 0 {
				break
			}
			s.reportExit(pid, uint32(ws))
		}
	}
}

func (s *server) reportExit(pid int, rawStatus uint32) {
	s.mu.Lock()
	fd, ok := s.children[pid]
	delete(s.children, pid)
	s.mu.Unlock()

	if !ok {
		return
	}

	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], rawStatus)
	unix.Write(fd, buf[:])
	unix.Close(fd)
}

func (s *server) registerChild(pid, statusWriteFD int) {
	s.mu.Lock()
	s.children[pid] = statusWriteFD
	s.mu.Unlock()
}
