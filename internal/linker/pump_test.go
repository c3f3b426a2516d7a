package linker

import (
	"encoding/binary"
	"testing"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"
)

func TestPumpFreshAttachForwardsEverything(t *testing.T) {
	var src, dst [2]int
	assert.NilError(t, unix.Pipe(src[:]))
	assert.NilError(t, unix.Pipe(dst[:]))
	defer unix.Close(src[0])
	defer unix.Close(src[1])
	defer unix.Close(dst[0])
	defer unix.Close(dst[1])

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 0)
	_, err := unix.Write(src[1], append(hdr[:], []byte("hello")...))
	assert.NilError(t, err)
	assert.NilError(t, unix.SetNonblock(src[0], true))

	p := NewPump(src[0], dst[1], 0)
	_, err = p.Run()
	assert.NilError(t, err)

	buf := make([]byte, 5)
	_, err = unix.Read(dst[0], buf)
	assert.NilError(t, err)
	assert.Equal(t, string(buf), "hello")
	assert.Equal(t, p.Pos(), uint32(5))
}

func TestPumpResumeDiscardsAlreadySeenBytes(t *testing.T) {
	var src, dst [2]int
	assert.NilError(t, unix.Pipe(src[:]))
	assert.NilError(t, unix.Pipe(dst[:]))
	defer unix.Close(src[0])
	defer unix.Close(src[1])
	defer unix.Close(dst[0])
	defer unix.Close(dst[1])

	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 0)
	_, err := unix.Write(src[1], append(hdr[:], []byte("helloworld")...))
	assert.NilError(t, err)
	assert.NilError(t, unix.SetNonblock(src[0], true))

	p := NewPump(src[0], dst[1], 5)
	_, err = p.Run()
	assert.NilError(t, err)

	buf := make([]byte, 5)
	_, err = unix.Read(dst[0], buf)
	assert.NilError(t, err)
	assert.Equal(t, string(buf), "world")
	assert.Equal(t, p.Pos(), uint32(10))
}

func TestPumpHupOnSourceClose(t *testing.T) {
	var src, dst [2]int
	assert.NilError(t, unix.Pipe(src[:]))
	assert.NilError(t, unix.Pipe(dst[:]))
	defer unix.Close(dst[0])
	defer unix.Close(dst[1])

	unix.Close(src[1])

	p := NewPump(src[0], dst[1], 0)
	hup, err := p.Run()
	assert.NilError(t, err)
	assert.Assert(t, hup)

	unix.Close(src[0])
}
