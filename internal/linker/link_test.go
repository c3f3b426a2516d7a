package linker

import (
	"encoding/binary"
	"net"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/moby/boxsup/internal/unixsock"
)

// serveFakeMuxer mimics just enough of mux-spawn's wire contract for Run to
// exercise: a catch-up header followed by body bytes on stdout/stderr, and
// a 4-byte status word.
func serveFakeMuxer(t *testing.T, dir string) {
	t.Helper()

	stdoutL, err := unixsock.Listen(filepath.Join(dir, stdoutSock), 0o666)
	assert.NilError(t, err)
	stderrL, err := unixsock.Listen(filepath.Join(dir, stderrSock), 0o666)
	assert.NilError(t, err)
	statusL, err := unixsock.Listen(filepath.Join(dir, statusSock), 0o666)
	assert.NilError(t, err)

	serve := func(l net.Listener, payload []byte) {
		conn, err := l.Accept()
		assert.NilError(t, err)
		defer conn.Close()
		var hdr [4]byte
		conn.Write(hdr[:])
		conn.Write(payload)
	}

	go serve(stdoutL, []byte("out-data"))
	go serve(stderrL, []byte("err-data"))
	go func() {
		conn, err := statusL.Accept()
		assert.NilError(t, err)
		defer conn.Close()
		var status [4]byte
		binary.BigEndian.PutUint32(status[:], 0)
		conn.Write(status[:])
	}()
}

func TestRunForwardsAndReturnsStatus(t *testing.T) {
	dir := t.TempDir()
	serveFakeMuxer(t, dir)

	stdoutR, stdoutW, err := os.Pipe()
	assert.NilError(t, err)
	defer stdoutR.Close()
	stderrR, stderrW, err := os.Pipe()
	assert.NilError(t, err)
	defer stderrR.Close()

	code, err := Run(dir, Resume{}, int(stdoutW.Fd()), int(stderrW.Fd()))
	assert.NilError(t, err)
	assert.Equal(t, code, 0)

	stdoutW.Close()
	stderrW.Close()

	outBuf := make([]byte, 8)
	_, err = stdoutR.Read(outBuf)
	assert.NilError(t, err)
	assert.Equal(t, string(outBuf), "out-data")

	errBuf := make([]byte, 8)
	_, err = stderrR.Read(errBuf)
	assert.NilError(t, err)
	assert.Equal(t, string(errBuf), "err-data")
}

func TestRunFailsOnBadDir(t *testing.T) {
	_, err := Run(t.TempDir(), Resume{}, unix.Stdout, unix.Stderr)
	assert.ErrorContains(t, err, "connect stdout")
}
