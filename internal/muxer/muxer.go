// Package muxer implements the stream multiplexer side of mux-spawn: one
// Muxer fans a single source fd (a child's stdout or stderr) out to any
// number of attached Unix-domain clients, ring-buffering recent output so
// late attachers catch up, plus a StatusWriter that delivers the child's
// final exit status to every connected status client exactly once.
//
// Grounded on original_source/warden/src/iomux/muxer.c and status_writer.c.
package muxer

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/ioutil"
	"github.com/moby/boxsup/internal/ringbuf"
)

const readChunk = 4096

type state int

const (
	stateCreated state = iota
	stateStarted
	stateStopped
)

// Muxer fans out a single stream (stdout or stderr of the spawned child) to
// every attached sink, with ring-buffer catch-up for late attachers.
type Muxer struct {
	name string
	log  *logrus.Entry

	mu         sync.Mutex
	buf        *ringbuf.Ring
	sourcePos  uint32
	sinks      map[*net.UnixConn]struct{}
	state      state
	sourceFD   int
	listener   *net.UnixListener
	rwStop     *ioutil.StopPipe
	clientWait ioutil.Barrier

	wg sync.WaitGroup
}

// New creates a Muxer reading from sourceFD (already open, owned by the
// caller) and accepting sinks on listener. name is used only for logging
// ("stdout"/"stderr"). sourceFD is switched to non-blocking mode so each
// pump reads only what is available.
func New(name string, sourceFD int, listener *net.UnixListener, ringCapacity int) (*Muxer, error) {
	if err := unix.SetNonblock(sourceFD, true); err != nil {
		return nil, fmt.Errorf("muxer: set source non-blocking: %w", err)
	}

	stop, err := ioutil.NewStopPipe()
	if err != nil {
		return nil, fmt.Errorf("muxer: new stop pipe: %w", err)
	}

	return &Muxer{
		name:     name,
		log:      logrus.WithField("stream", name),
		buf:      ringbuf.New(ringCapacity),
		sinks:    make(map[*net.UnixConn]struct{}),
		sourceFD: sourceFD,
		listener: listener,
		rwStop:   stop,
	}, nil
}

// WaitForClient blocks until at least one sink has attached.
func (m *Muxer) WaitForClient() {
	m.clientWait.Wait()
}

// Run starts the acceptor and reader/writer loops and blocks until the
// source hangs up or Stop is called. It must not be called twice.
func (m *Muxer) Run() {
	m.mu.Lock()
	if m.state != stateCreated {
		m.mu.Unlock()
		panic("muxer: Run called twice")
	}
	m.state = stateStarted
	m.mu.Unlock()

	m.wg.Add(1)
	go m.acceptLoop()

	m.pumpLoop()

	m.listener.Close()
	m.wg.Wait()
	m.rwStop.Close()

	m.mu.Lock()
	for c := range m.sinks {
		c.Close()
	}
	m.sinks = nil
	m.mu.Unlock()
}

// Stop transitions the muxer to stateStopped and wakes the pump loop. It
// must be called after Run and must not be called twice.
func (m *Muxer) Stop() {
	m.mu.Lock()
	if m.state != stateStarted {
		m.mu.Unlock()
		panic("muxer: Stop called before Run or twice")
	}
	m.state = stateStopped
	m.mu.Unlock()

	m.rwStop.Stop()
}

func (m *Muxer) acceptLoop() {
	defer m.wg.Done()
	defer m.listener.Close()

	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		uc := conn.(*net.UnixConn)

		m.mu.Lock()
		if err := m.catchUpSink(uc); err != nil {
			m.log.WithError(err).Debug("sink hung up during catch-up")
			uc.Close()
			m.mu.Unlock()
			continue
		}
		m.sinks[uc] = struct{}{}
		m.mu.Unlock()

		m.clientWait.Lift()
	}
}

// catchUpSink must be called with m.mu held. It writes the 4-byte
// big-endian offset header followed by the current ring contents.
func (m *Muxer) catchUpSink(c *net.UnixConn) error {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], m.sourcePos-uint32(m.buf.Size()))

	if _, err := c.Write(hdr[:]); err != nil {
		return err
	}

	if data := m.buf.Dup(); len(data) > 0 {
		if _, err := c.Write(data); err != nil {
			return err
		}
	}

	return nil
}

func (m *Muxer) pumpLoop() {
	buf := make([]byte, readChunk)
	for {
		readable, stop, err := ioutil.WaitReadableOrStop(m.sourceFD, m.rwStop.ReadFD())
		if err != nil {
			m.log.WithError(err).Error("select on source fd failed")
			return
		}

		if readable {
			if m.pump(buf) {
				return
			}
		}

		if stop {
			return
		}
	}
}

// pump reads what's available from the source and broadcasts it to every
// sink, holding the lock across the whole operation so a brand-new sink's
// catch-up can never race with new source bytes. Returns true on hangup.
func (m *Muxer) pump(buf []byte) bool {
	n, hup, err := ioutil.AtomicRead(m.sourceFD, buf)
	if err != nil {
		m.log.WithError(err).Error("read from source failed")
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if n > 0 {
		chunk := buf[:n]
		m.buf.Append(chunk)
		m.sourcePos += uint32(n)
		m.writeToSinks(chunk)
	}

	return hup
}

// writeToSinks must be called with m.mu held.
func (m *Muxer) writeToSinks(data []byte) {
	for c := range m.sinks {
		if _, err := c.Write(data); err != nil {
			m.log.WithError(err).Debug("sink hung up")
			c.Close()
			delete(m.sinks, c)
		}
	}
}
