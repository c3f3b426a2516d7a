// Package ioutil provides the small set of fd-level primitives the stream
// multiplexer, attacher, and supervisor all build on: loop-until-moved-or-hup
// read/write, an in-process one-shot barrier, and a select-based readiness
// wait with a stop pipe.
package ioutil

import (
	"errors"

	"golang.org/x/sys/unix"
)

// AtomicRead loops read(2) on fd until buf is full, the fd would block (in
// which case it returns what has been read so far as a "short success"),
// or the peer hangs up (EPIPE/ECONNRESET/zero-byte read), in which case hup
// is true. EINTR is retried transparently; any other error is returned.
func AtomicRead(fd int, buf []byte) (n int, hup bool, err error) {
	for n < len(buf) {
		nr, rerr := unix.Read(fd, buf[n:])
		switch {
		case rerr == nil && nr == 0:
			return n, true, nil
		case rerr == nil:
			n += nr
		case errors.Is(rerr, unix.EINTR):
			continue
		case errors.Is(rerr, unix.EAGAIN):
			return n, false, nil
		case errors.Is(rerr, unix.EPIPE), errors.Is(rerr, unix.ECONNRESET):
			return n, true, nil
		default:
			return n, false, rerr
		}
	}
	return n, false, nil
}

// AtomicWrite loops write(2) on fd until all of buf has been written, the fd
// would block (short success), or the peer hangs up. Semantics mirror
// AtomicRead.
func AtomicWrite(fd int, buf []byte) (n int, hup bool, err error) {
	for n < len(buf) {
		nw, werr := unix.Write(fd, buf[n:])
		switch {
		case werr == nil:
			n += nw
		case errors.Is(werr, unix.EINTR):
			continue
		case errors.Is(werr, unix.EAGAIN):
			return n, false, nil
		case errors.Is(werr, unix.EPIPE), errors.Is(werr, unix.ECONNRESET):
			return n, true, nil
		default:
			return n, false, werr
		}
	}
	return n, false, nil
}
