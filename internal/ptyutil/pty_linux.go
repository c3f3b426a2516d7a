// Package ptyutil allocates PTYs by hand against /dev/ptmx rather than
// through glibc's openpty, which calls grantpt and thereby loads
// nsswitch — a library the container's libc and the supervisor's may
// disagree on the ABI of. Grounded on
// original_source/warden/src/wsh/pty.c's openpty.
package ptyutil

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Pty is an allocated master/slave pair.
type Pty struct {
	Master *os.File
	Slave  *os.File
	Name   string
}

// Open allocates a new PTY: opens /dev/ptmx, reads the assigned pty
// number via TIOCGPTN, unlocks the slave via TIOCSPTLCK, then opens
// /dev/pts/<n> directly — never through the system openpty/grantpt path.
func Open() (*Pty, error) {
	masterFD, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("ptyutil: open /dev/ptmx: %w", err)
	}
	master := os.NewFile(uintptr(masterFD), "/dev/ptmx")

	n, err := unix.IoctlGetInt(masterFD, unix.TIOCGPTN)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("ptyutil: TIOCGPTN: %w", err)
	}
	name := fmt.Sprintf("/dev/pts/%d", n)

	if err := unix.IoctlSetPointerInt(masterFD, unix.TIOCSPTLCK, 0); err != nil {
		master.Close()
		return nil, fmt.Errorf("ptyutil: TIOCSPTLCK: %w", err)
	}

	slaveFD, err := unix.Open(name, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		master.Close()
		return nil, fmt.Errorf("ptyutil: open %s: %w", name, err)
	}

	return &Pty{
		Master: master,
		Slave:  os.NewFile(uintptr(slaveFD), name),
		Name:   name,
	}, nil
}

// Close closes both ends.
func (p *Pty) Close() error {
	err1 := p.Master.Close()
	err2 := p.Slave.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
