package linker

import (
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/ioutil"
)

// InternalErrorStatus is the sentinel exit code for any internal failure
// (bad argv, failed connect, short status read).
const InternalErrorStatus = 255

const (
	stdoutSock = "stdout.sock"
	stderrSock = "stderr.sock"
	statusSock = "status.sock"
)

// Run connects to the three mux-spawn sockets under dir, replays catch-up
// output honoring resume's persisted offsets, forwards live output to
// localStdout/localStderr (ordinarily unix.Stdout/unix.Stderr — parameterized
// so tests can point pumps at pipes instead), and returns the exit status
// to report. Grounded on
// original_source/warden/src/iomux/iomux-link.c's main loop.
func Run(dir string, resume Resume, localStdout, localStderr int) (int, error) {
	stdoutPos, stderrPos, err := resume.Load()
	if err != nil {
		return InternalErrorStatus, err
	}

	stdoutFD, err := dialFD(filepath.Join(dir, stdoutSock))
	if err != nil {
		return InternalErrorStatus, fmt.Errorf("linker: connect stdout: %w", err)
	}
	stderrFD, err := dialFD(filepath.Join(dir, stderrSock))
	if err != nil {
		return InternalErrorStatus, fmt.Errorf("linker: connect stderr: %w", err)
	}
	statusFD, err := dialFD(filepath.Join(dir, statusSock))
	if err != nil {
		return InternalErrorStatus, fmt.Errorf("linker: connect status: %w", err)
	}

	stdoutPump := NewPump(stdoutFD, localStdout, stdoutPos)
	stderrPump := NewPump(stderrFD, localStderr, stderrPos)
	statusReader := NewStatusReader(statusFD)

	live := map[int]bool{stdoutFD: true, stderrFD: true, statusFD: true}

	save := func() {
		resume.Save(stdoutPump.Pos(), stderrPump.Pos())
	}
	stop := installSignalHandler(save)
	defer stop()

	for live[stdoutFD] || live[stderrFD] || live[statusFD] {
		var set unix.FdSet
		maxFD := 0
		for fd, ok := range live {
			if !ok {
				continue
			}
			ioutil.SetFD(&set, fd)
			if fd > maxFD {
				maxFD = fd
			}
		}

		n, err := unix.Select(maxFD+1, &set, nil, nil, nil)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			save()
			return InternalErrorStatus, fmt.Errorf("linker: select: %w", err)
		}
		if n == 0 {
			continue
		}

		if live[stdoutFD] && ioutil.FDIsSet(&set, stdoutFD) {
			hup, err := stdoutPump.Run()
			if err != nil || hup {
				unix.Close(stdoutFD)
				live[stdoutFD] = false
			}
		}

		if live[stderrFD] && ioutil.FDIsSet(&set, stderrFD) {
			hup, err := stderrPump.Run()
			if err != nil || hup {
				unix.Close(stderrFD)
				live[stderrFD] = false
			}
		}

		if live[statusFD] && ioutil.FDIsSet(&set, statusFD) {
			done, _, err := statusReader.Run()
			if err != nil || done {
				unix.Close(statusFD)
				live[statusFD] = false
			}
		}
	}

	save()

	return statusReader.ExitCode(), nil
}

// dialFD connects to a Unix-domain socket at path and returns a raw,
// non-blocking fd this package can drive directly with AtomicRead/AtomicWrite
// and unix.Select, rather than through net.Conn's io.Reader/io.Writer
// interface. The fd is detached from the *os.File that produced it (its
// finalizer is cleared) so ownership passes cleanly to the caller, who
// must unix.Close it.
func dialFD(path string) (int, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return -1, err
	}
	uc := conn.(*net.UnixConn)

	f, err := uc.File()
	uc.Close()
	if err != nil {
		return -1, err
	}

	fd := int(f.Fd())
	runtime.SetFinalizer(f, nil)

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}
