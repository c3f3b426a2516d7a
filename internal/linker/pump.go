// Package linker implements mux-link: connect to a mux-spawn instance's
// three sockets, replay catch-up output honoring a persisted resume offset,
// and exit with the child's exit code.
//
// Grounded on original_source/warden/src/iomux/iomux-link.c, pump.c, and
// status_reader.c.
package linker

import (
	"encoding/binary"

	"github.com/moby/boxsup/internal/ioutil"
)

const pumpChunk = 4096

type pumpState int

const (
	// ReadingHeader is consuming the 4-byte big-endian catch-up offset
	// that precedes a stream's bytes.
	ReadingHeader pumpState = iota
	// Discarding skips bytes already delivered on a prior run, per a
	// resumed offset.
	Discarding
	// Forwarding copies bytes straight from src to dst.
	Forwarding
)

// Pump copies one muxer stream (stdout or stderr) from a connected socket
// to a local fd (this process's own stdout/stderr), skipping bytes the
// caller has already seen per a resume offset.
type Pump struct {
	state  pumpState
	srcFD  int
	dstFD  int
	oldPos uint32
	pos    uint32

	hdr    [4]byte
	hdrLen int
}

// NewPump creates a Pump reading srcFD and writing dstFD, resuming at
// oldPos (0 for a fresh attach).
func NewPump(srcFD, dstFD int, oldPos uint32) *Pump {
	return &Pump{state: ReadingHeader, srcFD: srcFD, dstFD: dstFD, oldPos: oldPos}
}

// Pos returns the logical stream offset reached so far — the checkpoint
// value to persist for Resume.
func (p *Pump) Pos() uint32 { return p.pos }

// Run reads whatever is available from srcFD and processes it through the
// header/discard/forward state machine, writing forwarded bytes to dstFD.
// It returns true once either side has hung up.
func (p *Pump) Run() (hup bool, err error) {
	buf := make([]byte, pumpChunk)
	n, rHup, err := ioutil.AtomicRead(p.srcFD, buf)
	if err != nil {
		return false, err
	}

	b := buf[:n]
	var wHup bool

	for len(b) > 0 && !wHup {
		switch p.state {
		case ReadingHeader:
			consumed := copy(p.hdr[p.hdrLen:], b)
			p.hdrLen += consumed
			b = b[consumed:]

			if p.hdrLen == len(p.hdr) {
				p.pos = binary.BigEndian.Uint32(p.hdr[:])
				p.state = Discarding
			}

		case Discarding:
			if p.pos >= p.oldPos {
				p.state = Forwarding
				continue
			}
			discard := p.oldPos - p.pos
			if discard > uint32(len(b)) {
				discard = uint32(len(b))
			}
			b = b[discard:]
			p.pos += discard

		case Forwarding:
			var n int
			n, wHup, err = ioutil.AtomicWrite(p.dstFD, b)
			if err != nil {
				return false, err
			}
			p.pos += uint32(n)
			b = b[n:]
		}
	}

	return wHup || rHup, nil
}
