package linker

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestStatusReaderDecodesExitCode(t *testing.T) {
	var fds [2]int
	assert.NilError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])

	var raw [4]byte
	binary.BigEndian.PutUint32(raw[:], uint32(7)<<8) // WIFEXITED, exit code 7
	_, err := unix.Write(fds[1], raw[:])
	assert.NilError(t, err)
	unix.Close(fds[1])

	r := NewStatusReader(fds[0])
	done, _, err := r.Run()
	assert.NilError(t, err)
	assert.Assert(t, done)
	assert.Equal(t, r.ExitCode(), 7)
}

func TestStatusReaderHupBeforeCompleteIsInternalError(t *testing.T) {
	var fds [2]int
	assert.NilError(t, unix.Pipe(fds[:]))
	defer unix.Close(fds[0])

	_, err := unix.Write(fds[1], []byte{0, 0})
	assert.NilError(t, err)
	unix.Close(fds[1])

	r := NewStatusReader(fds[0])
	done, hup, err := r.Run()
	assert.NilError(t, err)
	assert.Assert(t, done)
	assert.Assert(t, hup)
	assert.Equal(t, r.ExitCode(), InternalErrorStatus)
}
