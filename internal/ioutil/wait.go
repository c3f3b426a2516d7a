package ioutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

func fdSet(set *unix.FdSet, fd int) {
	SetFD(set, fd)
}

func fdIsSet(set *unix.FdSet, fd int) bool {
	return FDIsSet(set, fd)
}

// SetFD adds fd to set. golang.org/x/sys/unix's FdSet has no Set/IsSet
// methods (unlike some other platforms' bindings), so callers that need to
// select(2) over more than the two fds WaitReadableOrStop covers build
// their own unix.FdSet with these helpers.
func SetFD(set *unix.FdSet, fd int) {
	set.Bits[fd/64] |= 1 << (uint(fd) % 64)
}

// FDIsSet reports whether fd is set in set.
func FDIsSet(set *unix.FdSet, fd int) bool {
	return set.Bits[fd/64]&(1<<(uint(fd)%64)) != 0
}

// WaitReadableOrStop blocks until readFD is readable, stopFD is readable
// (the universal thread/goroutine shutdown signal), or both. EINTR is
// retried transparently.
func WaitReadableOrStop(readFD, stopFD int) (readable, stop bool, err error) {
	for {
		var set unix.FdSet
		fdSet(&set, readFD)
		fdSet(&set, stopFD)

		maxFD := readFD
		if stopFD > maxFD {
			maxFD = stopFD
		}

		n, serr := unix.Select(maxFD+1, &set, nil, nil, nil)
		if serr != nil {
			if errors.Is(serr, unix.EINTR) {
				continue
			}
			return false, false, serr
		}
		if n == 0 {
			continue
		}

		return fdIsSet(&set, readFD), fdIsSet(&set, stopFD), nil
	}
}

// NewStopPipe creates a one-shot, level-triggered self-pipe: Stop writes a
// byte (idempotent enough for single-shot use — callers stop at most once),
// and the read end participates in select via WaitReadableOrStop.
type StopPipe struct {
	readFD  int
	writeFD int
}

func NewStopPipe() (*StopPipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC); err != nil {
		return nil, err
	}
	return &StopPipe{readFD: fds[0], writeFD: fds[1]}, nil
}

func (s *StopPipe) ReadFD() int { return s.readFD }

// Stop signals all current and future waiters on ReadFD.
func (s *StopPipe) Stop() error {
	_, _, err := AtomicWrite(s.writeFD, []byte{'x'})
	return err
}

func (s *StopPipe) Close() error {
	err1 := unix.Close(s.readFD)
	err2 := unix.Close(s.writeFD)
	if err1 != nil {
		return err1
	}
	return err2
}
