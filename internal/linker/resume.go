package linker

import (
	"encoding/binary"
	"fmt"
	"os"
)

// Resume persists the stdout/stderr pump positions to an 8-byte file (two
// big-endian uint32s) so a later mux-link invocation against the same
// socket directory can skip bytes it has already delivered. Grounded on
// original_source/warden/src/iomux/iomux-link.c's read_saved_posns /
// write_posns.
type Resume struct {
	Path string
}

// Load reads the persisted {stdoutPos, stderrPos} pair, returning zeros if
// the file does not exist (a fresh attach). Any other read error is fatal
// per spec: a corrupt or unreadable resume file means mux-link cannot
// establish a safe replay point.
func (r Resume) Load() (stdoutPos, stderrPos uint32, err error) {
	if r.Path == "" {
		return 0, 0, nil
	}

	data, err := os.ReadFile(r.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("linker: read resume file %s: %w", r.Path, err)
	}

	if len(data) != 8 {
		return 0, 0, fmt.Errorf("linker: resume file %s: expected 8 bytes, got %d", r.Path, len(data))
	}

	return binary.BigEndian.Uint32(data[0:4]), binary.BigEndian.Uint32(data[4:8]), nil
}

// Save writes the current pump positions. Failures are swallowed (best
// effort per spec: a resume write failure during shutdown must not turn
// into a nonzero exit).
func (r Resume) Save(stdoutPos, stderrPos uint32) {
	if r.Path == "" {
		return
	}

	var data [8]byte
	binary.BigEndian.PutUint32(data[0:4], stdoutPos)
	binary.BigEndian.PutUint32(data[4:8], stderrPos)

	_ = os.WriteFile(r.Path, data[:], 0o644)
}
