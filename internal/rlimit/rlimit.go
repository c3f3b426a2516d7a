// Package rlimit maps POSIX resource-limit names to their RLIMIT_*
// ids and applies a table of them to the calling process.
//
// The wire and in-process shapes borrow the field names OCI runtime-spec
// uses for POSIXRlimit (Type/Soft/Hard) rather than inventing new ones.
package rlimit

import (
	"fmt"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"golang.org/x/sys/unix"
)

// Limit is one resource limit, named the way runtime-spec's
// specs.POSIXRlimit names its fields.
type Limit struct {
	Type string
	Soft uint64
	Hard uint64
}

// FromOCI converts an OCI runtime-spec POSIXRlimit into a Limit. wsh's
// env-var importer builds its list through this type so the process
// boundary between "what a container runtime hands us" and "what this
// repo applies" is the same shape the rest of the ecosystem already uses.
func FromOCI(r specs.POSIXRlimit) Limit {
	return Limit{Type: r.Type, Soft: r.Soft, Hard: r.Hard}
}

// ToOCI is the reverse of FromOCI.
func (l Limit) ToOCI() specs.POSIXRlimit {
	return specs.POSIXRlimit{Type: l.Type, Soft: l.Soft, Hard: l.Hard}
}

// byName holds every RLIMIT_* this platform defines that wsh is allowed
// to import and the supervisor is allowed to apply. Names match the
// POSIX/glibc RLIMIT_* spelling so env-var lookups (RLIMIT_NOFILE=...)
// and setrlimit(2) names agree.
var byName = map[string]int{
	"RLIMIT_AS":         unix.RLIMIT_AS,
	"RLIMIT_CORE":       unix.RLIMIT_CORE,
	"RLIMIT_CPU":        unix.RLIMIT_CPU,
	"RLIMIT_DATA":       unix.RLIMIT_DATA,
	"RLIMIT_FSIZE":      unix.RLIMIT_FSIZE,
	"RLIMIT_LOCKS":      unix.RLIMIT_LOCKS,
	"RLIMIT_MEMLOCK":    unix.RLIMIT_MEMLOCK,
	"RLIMIT_MSGQUEUE":   unix.RLIMIT_MSGQUEUE,
	"RLIMIT_NICE":       unix.RLIMIT_NICE,
	"RLIMIT_NOFILE":     unix.RLIMIT_NOFILE,
	"RLIMIT_NPROC":      unix.RLIMIT_NPROC,
	"RLIMIT_RSS":        unix.RLIMIT_RSS,
	"RLIMIT_RTPRIO":     unix.RLIMIT_RTPRIO,
	"RLIMIT_SIGPENDING": unix.RLIMIT_SIGPENDING,
	"RLIMIT_STACK":      unix.RLIMIT_STACK,
}

// Names returns every recognised rlimit name, for wsh's env-var import
// loop to range over.
func Names() []string {
	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	return names
}

// id looks up the RLIMIT_* id for a recognised name.
func id(name string) (int, bool) {
	id, ok := byName[name]
	return id, ok
}

// IDOf exposes the name→id lookup to other packages (internal/protocol
// encodes the wire form by numeric id, not name).
func IDOf(name string) (int32, bool) {
	id, ok := byName[name]
	return int32(id), ok
}

// NameOf is the reverse of IDOf, used when decoding a wire envelope back
// into named Limits.
func NameOf(rlimitID int32) (string, bool) {
	for name, id := range byName {
		if int32(id) == rlimitID {
			return name, true
		}
	}
	return "", false
}

// Apply setrlimit(2)s every entry in limits, in order, stopping at the
// first failure. Grounded on spec's "apply rlimits from the request via
// setrlimit for each entry" child post-fork step.
func Apply(limits []Limit) error {
	for _, l := range limits {
		resource, ok := id(l.Type)
		if !ok {
			return fmt.Errorf("rlimit: unrecognised limit %q", l.Type)
		}
		rl := unix.Rlimit{Cur: l.Soft, Max: l.Hard}
		if err := unix.Setrlimit(resource, &rl); err != nil {
			return fmt.Errorf("rlimit: setrlimit %s: %w", l.Type, err)
		}
	}
	return nil
}
