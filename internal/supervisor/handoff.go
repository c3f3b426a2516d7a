package supervisor

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// saveHandoff serialises state into a freshly created anonymous memfd and
// returns its fd, with FD_CLOEXEC cleared so the clone stage's exec keeps
// it open. This is spec's named substitution for the original's SysV
// shared-memory segment ("Reimplement as a POD serialised to an anonymous
// memfd").
func saveHandoff(state handoffState) (fd int, err error) {
	memfd, err := unix.MemfdCreate("boxsup-supervisor-handoff", 0)
	if err != nil {
		return -1, fmt.Errorf("supervisor: memfd_create: %w", err)
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(state); err != nil {
		unix.Close(memfd)
		return -1, fmt.Errorf("supervisor: encode handoff state: %w", err)
	}

	if _, err := unix.Write(memfd, buf.Bytes()); err != nil {
		unix.Close(memfd)
		return -1, fmt.Errorf("supervisor: write handoff state: %w", err)
	}

	if err := ClearCloseOnExec(memfd); err != nil {
		unix.Close(memfd)
		return -1, err
	}

	return memfd, nil
}

// loadHandoff re-attaches a memfd by fd number (inherited across exec),
// reads its contents back, and removes it from the caller's fd table —
// the memfd itself disappears once its last reference closes.
func loadHandoff(fd int) (handoffState, error) {
	f := os.NewFile(uintptr(fd), "boxsup-supervisor-handoff")
	defer f.Close()

	if _, err := f.Seek(0, 0); err != nil {
		return handoffState{}, fmt.Errorf("supervisor: seek handoff memfd: %w", err)
	}

	var state handoffState
	if err := gob.NewDecoder(f).Decode(&state); err != nil {
		return handoffState{}, fmt.Errorf("supervisor: decode handoff state: %w", err)
	}

	return state, nil
}
