package muxer

import (
	"encoding/binary"
	"net"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/moby/boxsup/internal/ioutil"
	"github.com/moby/boxsup/internal/unixsock"
)

func TestStatusWriterDeliversStatus(t *testing.T) {
	dir := t.TempDir()
	l, err := unixsock.Listen(filepath.Join(dir, "status.sock"), 0o666)
	assert.NilError(t, err)

	var barrier ioutil.Barrier
	sw := NewStatusWriter(l, &barrier)

	done := make(chan struct{})
	go func() {
		sw.Run()
		close(done)
	}()

	conn, err := net.Dial("unix", filepath.Join(dir, "status.sock"))
	assert.NilError(t, err)
	defer conn.Close()

	barrierDone := make(chan struct{})
	go func() {
		barrier.Wait()
		close(barrierDone)
	}()
	select {
	case <-barrierDone:
	case <-time.After(time.Second):
		t.Fatal("barrier was not lifted on sink attach")
	}

	sw.Finish(42)

	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	assert.NilError(t, err)
	assert.Equal(t, binary.BigEndian.Uint32(buf), uint32(42))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Finish")
	}
}

func TestStatusWriterRawWaitStatus(t *testing.T) {
	dir := t.TempDir()
	l, err := unixsock.Listen(filepath.Join(dir, "status.sock"), 0o666)
	assert.NilError(t, err)

	sw := NewStatusWriter(l, nil)

	done := make(chan struct{})
	go func() {
		sw.Run()
		close(done)
	}()

	conn, err := net.Dial("unix", filepath.Join(dir, "status.sock"))
	assert.NilError(t, err)
	defer conn.Close()

	time.Sleep(10 * time.Millisecond)
	sw.Finish(0xFFFFFFFF)

	buf := make([]byte, 4)
	_, err = conn.Read(buf)
	assert.NilError(t, err)
	assert.Equal(t, binary.BigEndian.Uint32(buf), uint32(0xFFFFFFFF))

	<-done
}
