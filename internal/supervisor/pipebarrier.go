package supervisor

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// PipeBarrier is a single-shot cross-process latch built on a pipe: the
// waiter blocks on a read of the read end, the signaller closes (or
// writes to) the write end. Unlike internal/ioutil.Barrier (an in-process
// channel closed once), this one has to work across an exec boundary, where no
// memory is shared — only fds survive. Grounded on
// original_source/warden/src/wsh/barrier.c.
type PipeBarrier struct {
	readFD, writeFD int
}

// NewPipeBarrier opens a fresh pipe-backed barrier.
func NewPipeBarrier() (*PipeBarrier, error) {
	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		return nil, fmt.Errorf("supervisor: pipe: %w", err)
	}
	return &PipeBarrier{readFD: fds[0], writeFD: fds[1]}, nil
}

// ReadFD and WriteFD expose the raw fds so a caller can pass them across
// fork/exec (as ExtraFiles, or by clearing FD_CLOEXEC and recording the
// number in handoff state).
func (b *PipeBarrier) ReadFD() int  { return b.readFD }
func (b *PipeBarrier) WriteFD() int { return b.writeFD }

// Waiter wraps a read end received from another process (e.g. via
// ExtraFiles) so only Wait is meaningful on it.
func Waiter(readFD int) *PipeBarrier { return &PipeBarrier{readFD: readFD, writeFD: -1} }

// Signaler wraps a write end received from another process so only
// Signal is meaningful on it.
func Signaler(writeFD int) *PipeBarrier { return &PipeBarrier{readFD: -1, writeFD: writeFD} }

// Wait closes the write end if this side holds a copy of it (it has no
// use for it), blocks until Signal is called on the other end, then
// closes the read end. Mirrors barrier_wait's close-the-end-you-don't-use
// ordering.
func (b *PipeBarrier) Wait() error {
	b.closeWrite()
	defer b.closeRead()
	var buf [1]byte
	for {
		_, err := unix.Read(b.readFD, buf[:])
		if err == unix.EINTR {
			continue
		}
		return err
	}
}

// Signal closes the read end if this side holds a copy of it, wakes any
// waiter, then closes the write end. Mirrors barrier_signal.
func (b *PipeBarrier) Signal() error {
	b.closeRead()
	defer b.closeWrite()
	_, err := unix.Write(b.writeFD, []byte{0})
	return err
}

func (b *PipeBarrier) closeRead() {
	if b.readFD >= 0 {
		unix.Close(b.readFD)
		b.readFD = -1
	}
}

func (b *PipeBarrier) closeWrite() {
	if b.writeFD >= 0 {
		unix.Close(b.writeFD)
		b.writeFD = -1
	}
}

// ClearCloseOnExec strips FD_CLOEXEC from fd so it survives an
// execve — the Go runtime sets every fd it creates CLOEXEC by default,
// so fds that must be inherited across the clone stage's self-exec need
// this explicitly. Mirrors barrier_mix_cloexec's fcntl dance.
func ClearCloseOnExec(fd int) error {
	_, err := unix.FcntlInt(uintptr(fd), unix.F_SETFD, 0)
	return err
}
