package linker

import (
	"encoding/binary"
	"syscall"

	"github.com/moby/boxsup/internal/ioutil"
)

// StatusReader reads the 4-byte big-endian exit status delivered on a
// mux-spawn status connection. Grounded on
// original_source/warden/src/iomux/status_reader.c.
type StatusReader struct {
	fd     int
	buf    [4]byte
	off    int
	Status int32
}

// NewStatusReader creates a StatusReader over fd.
func NewStatusReader(fd int) *StatusReader {
	return &StatusReader{fd: fd, Status: -1}
}

// Run reads whatever is available and reports done once all 4 bytes have
// arrived or the connection hangs up.
func (r *StatusReader) Run() (done, hup bool, err error) {
	n, rHup, err := ioutil.AtomicRead(r.fd, r.buf[r.off:])
	if err != nil {
		return false, false, err
	}
	r.off += n

	if r.off >= len(r.buf) {
		r.Status = int32(binary.BigEndian.Uint32(r.buf[:]))
		return true, rHup, nil
	}

	return rHup, rHup, nil
}

// ExitCode interprets the accumulated status word the way WIFEXITED /
// WEXITSTATUS would: 0–254 if the child exited normally, 255 (the
// internal-error sentinel) for anything else — including a HUP before the
// status word was ever completed, in which case r.Status stays at its -1
// initial value and syscall.WaitStatus(0xffffffff).Exited() is false.
func (r *StatusReader) ExitCode() int {
	ws := syscall.WaitStatus(uint32(r.Status))
	if ws.Exited() {
		return ws.ExitStatus()
	}
	return InternalErrorStatus
}
