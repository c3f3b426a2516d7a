package unixsock

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/v3/assert"
)

func TestListenChmodsAndRemovesStale(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.sock")

	assert.NilError(t, os.WriteFile(path, []byte("stale"), 0o644))

	l, err := Listen(path, 0o666)
	assert.NilError(t, err)
	defer l.Close()

	info, err := os.Stat(path)
	assert.NilError(t, err)
	assert.Equal(t, info.Mode().Perm(), os.FileMode(0o666))
}

func TestSendRecvFDs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fd.sock")

	l, err := Listen(path, 0o700)
	assert.NilError(t, err)
	defer l.Close()

	serverDone := make(chan error, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			serverDone <- err
			return
		}
		defer conn.Close()

		r, w, err := os.Pipe()
		if err != nil {
			serverDone <- err
			return
		}
		defer r.Close()
		defer w.Close()

		serverDone <- SendFDs(conn.(*net.UnixConn), []byte("hi"), []int{int(w.Fd())})
	}()

	conn, err := net.Dial("unix", path)
	assert.NilError(t, err)
	defer conn.Close()

	buf := make([]byte, 16)
	n, fds, err := RecvFDs(conn.(*net.UnixConn), buf, 1)
	assert.NilError(t, err)
	assert.Equal(t, string(buf[:n]), "hi")
	assert.Equal(t, len(fds), 1)

	f := os.NewFile(uintptr(fds[0]), "received")
	defer f.Close()

	_, err = f.WriteString("ping")
	assert.NilError(t, err)

	assert.NilError(t, <-serverDone)
}
