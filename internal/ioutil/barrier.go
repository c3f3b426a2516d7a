package ioutil

import "sync"

// Barrier is a single-shot latch for goroutines inside one process: Wait
// blocks until Lift is observed, and Lift is idempotent. Safe to call Wait
// from multiple goroutines, before or after Lift.
//
// The cross-process form of this same latch (parent/child sharing a pipe
// across a fork/exec boundary) lives in internal/supervisor as
// PipeBarrier, not here — it additionally has to close the pipe end it
// isn't using on each side before using its own, matching
// original_source/warden/src/wsh/barrier.c exactly, which this in-process,
// channel-backed Barrier has no equivalent need for.
type Barrier struct {
	once sync.Once
	ch   chan struct{}
	init sync.Once
}

func (b *Barrier) lazyInit() {
	b.init.Do(func() {
		b.ch = make(chan struct{})
	})
}

// Lift releases every past and future Wait call. Safe to call more than
// once.
func (b *Barrier) Lift() {
	b.lazyInit()
	b.once.Do(func() {
		close(b.ch)
	})
}

// Wait blocks until Lift has been called.
func (b *Barrier) Wait() {
	b.lazyInit()
	<-b.ch
}
