package muxer

import (
	"encoding/binary"
	"net"
	"sync"

	"github.com/moby/boxsup/internal/ioutil"
)

// StatusWriter accepts connections on a listener and, once Finish is
// called, writes the child's 4-byte big-endian exit status to every
// connected sink and closes it. Grounded on
// original_source/warden/src/iomux/status_writer.c.
type StatusWriter struct {
	listener *net.UnixListener
	barrier  *ioutil.Barrier

	mu     sync.Mutex
	state  state
	status uint32
	sinks  []*net.UnixConn
}

// NewStatusWriter creates a StatusWriter accepting on listener. If barrier
// is non-nil, it is lifted the first time (and every time) a sink attaches.
func NewStatusWriter(listener *net.UnixListener, barrier *ioutil.Barrier) *StatusWriter {
	return &StatusWriter{listener: listener, barrier: barrier}
}

// Run accepts sinks until Finish closes the listener, then delivers the
// final status to each and returns. It must not be called twice.
func (sw *StatusWriter) Run() {
	sw.mu.Lock()
	if sw.state != stateCreated {
		sw.mu.Unlock()
		panic("status writer: Run called twice")
	}
	sw.state = stateStarted
	sw.mu.Unlock()

	for {
		conn, err := sw.listener.Accept()
		if err != nil {
			break
		}
		uc := conn.(*net.UnixConn)

		sw.mu.Lock()
		sw.sinks = append(sw.sinks, uc)
		sw.mu.Unlock()

		if sw.barrier != nil {
			sw.barrier.Lift()
		}
	}

	sw.mu.Lock()
	status := sw.status
	sinks := sw.sinks
	sw.sinks = nil
	sw.mu.Unlock()

	var out [4]byte
	binary.BigEndian.PutUint32(out[:], status)
	for _, c := range sinks {
		c.Write(out[:])
		c.Close()
	}
}

// Finish records the final status word (the raw kernel wait(2) status, per
// the wire contract mux-link decodes) and stops Run's accept loop. It must
// be called exactly once, after Run has started.
func (sw *StatusWriter) Finish(status uint32) {
	sw.mu.Lock()
	if sw.state != stateStarted {
		sw.mu.Unlock()
		panic("status writer: Finish called before Run or twice")
	}
	sw.state = stateStopped
	sw.status = status
	sw.mu.Unlock()

	sw.listener.Close()
}
