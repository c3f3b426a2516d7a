package ptyutil

import (
	"os"
	"testing"

	"github.com/creack/pty"
	"gotest.tools/v3/assert"
)

func TestOpenProducesUsableMasterSlavePair(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx in this environment")
	}

	p, err := Open()
	assert.NilError(t, err)
	defer p.Close()

	assert.Assert(t, p.Name != "")

	msg := []byte("hello\n")
	_, err = p.Master.Write(msg)
	assert.NilError(t, err)

	buf := make([]byte, len(msg))
	_, err = p.Slave.Read(buf)
	assert.NilError(t, err)
	assert.Equal(t, string(buf), string(msg))
}

// TestWinsizeInteropWithReferencePty confirms a master opened through our
// own TIOCGPTN/TIOCSPTLCK path behaves like any other pty master as far as
// the rest of the ecosystem is concerned, using creack/pty (the library
// this repo's production code deliberately avoids) purely as a known-good
// reference for winsize plumbing.
func TestWinsizeInteropWithReferencePty(t *testing.T) {
	if _, err := os.Stat("/dev/ptmx"); err != nil {
		t.Skip("no /dev/ptmx in this environment")
	}

	p, err := Open()
	assert.NilError(t, err)
	defer p.Close()

	want := &pty.Winsize{Rows: 24, Cols: 80}
	assert.NilError(t, pty.Setsize(p.Master, want))

	got, err := pty.GetsizeFull(p.Master)
	assert.NilError(t, err)
	assert.Equal(t, got.Rows, want.Rows)
	assert.Equal(t, got.Cols, want.Cols)
}
