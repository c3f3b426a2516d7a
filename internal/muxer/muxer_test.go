package muxer

import (
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/sys/unix"
	"gotest.tools/v3/assert"

	"github.com/moby/boxsup/internal/unixsock"
)

func TestMuxerCatchUpAndLive(t *testing.T) {
	var pfds [2]int
	assert.NilError(t, unix.Pipe(pfds[:]))
	srcRead, srcWrite := pfds[0], pfds[1]

	dir := t.TempDir()
	l, err := unixsock.Listen(filepath.Join(dir, "stdout.sock"), 0o666)
	assert.NilError(t, err)

	m, err := New("stdout", srcRead, l, 1024)
	assert.NilError(t, err)

	done := make(chan struct{})
	go func() {
		m.Run()
		close(done)
	}()

	_, err = unix.Write(srcWrite, []byte("hello "))
	assert.NilError(t, err)
	time.Sleep(20 * time.Millisecond)

	conn, err := net.Dial("unix", filepath.Join(dir, "stdout.sock"))
	assert.NilError(t, err)
	defer conn.Close()

	hdr := make([]byte, 4)
	_, err = io.ReadFull(conn, hdr)
	assert.NilError(t, err)
	assert.Equal(t, binary.BigEndian.Uint32(hdr), uint32(0))

	body := make([]byte, 6)
	_, err = io.ReadFull(conn, body)
	assert.NilError(t, err)
	assert.Equal(t, string(body), "hello ")

	_, err = unix.Write(srcWrite, []byte("world"))
	assert.NilError(t, err)

	live := make([]byte, 5)
	_, err = io.ReadFull(conn, live)
	assert.NilError(t, err)
	assert.Equal(t, string(live), "world")

	assert.NilError(t, unix.Close(srcWrite))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after source hangup")
	}

	assert.NilError(t, unix.Close(srcRead))
}

func TestMuxerStop(t *testing.T) {
	var pfds [2]int
	assert.NilError(t, unix.Pipe(pfds[:]))
	srcRead, srcWrite := pfds[0], pfds[1]
	defer unix.Close(srcWrite)

	dir := t.TempDir()
	l, err := unixsock.Listen(filepath.Join(dir, "stderr.sock"), 0o666)
	assert.NilError(t, err)

	m, err := New("stderr", srcRead, l, 1024)
	assert.NilError(t, err)

	done := make(chan struct{})
	go func() {
		m.Run()
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	m.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	unix.Close(srcRead)
}

func TestMuxerWaitForClient(t *testing.T) {
	var pfds [2]int
	assert.NilError(t, unix.Pipe(pfds[:]))
	srcRead, srcWrite := pfds[0], pfds[1]
	defer unix.Close(srcWrite)

	dir := t.TempDir()
	l, err := unixsock.Listen(filepath.Join(dir, "stdout.sock"), 0o666)
	assert.NilError(t, err)

	m, err := New("stdout", srcRead, l, 1024)
	assert.NilError(t, err)

	go m.Run()

	waited := make(chan struct{})
	go func() {
		m.WaitForClient()
		close(waited)
	}()

	select {
	case <-waited:
		t.Fatal("WaitForClient returned before any sink attached")
	case <-time.After(20 * time.Millisecond):
	}

	conn, err := net.Dial("unix", filepath.Join(dir, "stdout.sock"))
	assert.NilError(t, err)
	defer conn.Close()

	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("WaitForClient did not return after a sink attached")
	}

	m.Stop()
	unix.Close(srcRead)
}
