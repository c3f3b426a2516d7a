// Package unixsock wraps the bits of net.UnixConn/net.UnixListener this
// repo leans on repeatedly: removing a stale socket file before binding,
// chmod'ing the result, and passing file descriptors over SCM_RIGHTS.
package unixsock

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// Listen binds a Unix-domain listening socket at path, removing any stale
// socket file first, and chmods it to mode.
func Listen(path string, mode os.FileMode) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unixsock: remove stale socket %s: %w", path, err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("unixsock: listen on %s: %w", path, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		l.Close()
		return nil, fmt.Errorf("unixsock: chmod %s: %w", path, err)
	}

	return l.(*net.UnixListener), nil
}

// ListenBacklog is like Listen but lets the caller pick the listen(2)
// backlog exactly, which net.Listen does not expose. It builds the socket
// with raw syscalls and hands the fd to net.FileListener, so the returned
// listener behaves like any other *net.UnixListener.
func ListenBacklog(path string, mode os.FileMode, backlog int) (*net.UnixListener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("unixsock: remove stale socket %s: %w", path, err)
	}

	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("unixsock: socket: %w", err)
	}

	sa := &unix.SockaddrUnix{Name: path}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unixsock: bind %s: %w", path, err)
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unixsock: listen %s: %w", path, err)
	}

	if err := os.Chmod(path, mode); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("unixsock: chmod %s: %w", path, err)
	}

	f := os.NewFile(uintptr(fd), path)
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("unixsock: file listener %s: %w", path, err)
	}

	return l.(*net.UnixListener), nil
}

// maxFDSpace bounds how many fds a single SendFDs/RecvFDs call will handle;
// the session protocol never passes more than 4.
const maxFDSpace = 8

// SendFDs writes data plus an SCM_RIGHTS control message carrying fds to
// conn. Grounded on the nydus-snapshotter pkg/supervisor send() helper and
// on the original warden un_send_fds.
func SendFDs(conn *net.UnixConn, data []byte, fds []int) error {
	oob := unix.UnixRights(fds...)

	for len(data) > 0 || len(oob) > 0 {
		n, oobn, err := conn.WriteMsgUnix(data, oob, nil)
		if err != nil {
			return fmt.Errorf("unixsock: sendmsg: %w", err)
		}
		data = data[n:]
		oob = oob[oobn:]
	}

	return nil
}

// RecvFDs reads data into dataBuf and returns any fds delivered alongside
// it via SCM_RIGHTS (at most maxFDs). Grounded on the nydus-snapshotter
// pkg/supervisor recv() helper and on the original warden un_recv_fds.
func RecvFDs(conn *net.UnixConn, dataBuf []byte, maxFDs int) (n int, fds []int, err error) {
	if maxFDs > maxFDSpace {
		maxFDs = maxFDSpace
	}
	oob := make([]byte, unix.CmsgSpace(4)*maxFDs)

	n, oobn, _, _, err := conn.ReadMsgUnix(dataBuf, oob)
	if err != nil {
		return 0, nil, fmt.Errorf("unixsock: recvmsg: %w", err)
	}

	if oobn == 0 {
		return n, nil, nil
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, nil, fmt.Errorf("unixsock: parse control message: %w", err)
	}

	for _, scm := range scms {
		rights, err := unix.ParseUnixRights(&scm)
		if err != nil {
			return n, nil, fmt.Errorf("unixsock: parse unix rights: %w", err)
		}
		fds = append(fds, rights...)
	}

	return n, fds, nil
}
