package wsh

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/moby/boxsup/internal/protocol"
	"github.com/moby/boxsup/internal/unixsock"
)

// TestRunPipeDrainsTrailingOutputBeforeReturning confirms runPipe waits for
// the stdout/stderr copy goroutines to observe EOF before it reports the
// exit code, even when the status word arrives first and trailing output
// shows up in the pipe afterward.
func TestRunPipeDrainsTrailingOutputBeforeReturning(t *testing.T) {
	stdinR, stdinW, err := os.Pipe()
	assert.NilError(t, err)
	defer stdinR.Close()

	stdoutR, stdoutW, err := os.Pipe()
	assert.NilError(t, err)

	stderrR, stderrW, err := os.Pipe()
	assert.NilError(t, err)
	stderrW.Close() // nothing written to stderr in this test; EOF immediately

	statusR, statusW, err := os.Pipe()
	assert.NilError(t, err)

	sp, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	assert.NilError(t, err)
	clientFile := os.NewFile(uintptr(sp[0]), "client")
	serverFile := os.NewFile(uintptr(sp[1]), "server")
	clientConn, err := net.FileConn(clientFile)
	assert.NilError(t, err)
	serverConn, err := net.FileConn(serverFile)
	assert.NilError(t, err)
	clientFile.Close()
	serverFile.Close()
	defer clientConn.Close()
	defer serverConn.Close()

	hdr := protocol.MarshalResponseHeader(protocol.Version)
	err = unixsock.SendFDs(serverConn.(*net.UnixConn), hdr, []int{
		int(stdinW.Fd()), int(stdoutR.Fd()), int(stderrR.Fd()), int(statusR.Fd()),
	})
	assert.NilError(t, err)
	stdinW.Close()
	stdoutR.Close()
	stderrR.Close()
	statusR.Close()

	capturedR, capturedW, err := os.Pipe()
	assert.NilError(t, err)
	realStdout := os.Stdout
	os.Stdout = capturedW

	var captured bytes.Buffer
	captureDone := make(chan struct{})
	go func() {
		io.Copy(&captured, capturedR)
		close(captureDone)
	}()

	go func() {
		var word [4]byte
		binary.BigEndian.PutUint32(word[:], uint32(7<<8)) // exit code 7
		statusW.Write(word[:])
		statusW.Close()

		// Arrives after the status word: runPipe must still wait for it.
		time.Sleep(50 * time.Millisecond)
		stdoutW.Write([]byte("trailing output"))
		stdoutW.Close()
	}()

	code, err := runPipe(clientConn.(*net.UnixConn))
	assert.NilError(t, err)
	assert.Equal(t, code, 7)

	os.Stdout = realStdout
	capturedW.Close()
	<-captureDone

	assert.Equal(t, captured.String(), "trailing output")
}
