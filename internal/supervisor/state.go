package supervisor

// handoffState is everything the clone stage needs to pass to the
// continuation across its self-exec: the now-pivoted paths, and the raw
// fd numbers of the fds that survive the exec (listening socket, the
// child barrier's write end). Serialised with encoding/gob into an
// anonymous memfd — spec's named substitution for the original's SysV
// shared-memory segment.
type handoffState struct {
	RunPath  string
	LibPath  string
	RootPath string

	ListenFD        int
	ChildBarrierWFD int
}
