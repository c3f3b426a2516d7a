// Package protocol implements the fixed binary envelope exchanged between
// wsh and the supervisor over the supervisor's Unix-domain socket.
//
// Grounded on spec's "Session envelope (binary)" wire definition:
//
//	{version:i32, tty:i32, arg:{count:i32, buf[8192]},
//	 rlim:{count:i32, rlim[N]{id:i32, soft:u64, hard:u64}},
//	 user:char[32], lang:char[1024]}
//
// in native byte order, since both ends are the same process ABI on one
// host. encoding/binary with a fixed-size intermediate struct gives a
// predictable, reflection-free layout without pulling in a general
// serialisation format for what is really a single ABI-shared record.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/moby/boxsup/internal/rlimit"
)

const (
	// Version is the only envelope version this repo speaks.
	Version = 1

	// MaxArgvBytes bounds the packed, NUL-separated argv buffer.
	MaxArgvBytes = 8192

	// MaxRlimits bounds how many rlimit entries a request may carry.
	// Comfortably above rlimit.Names()'s current count.
	MaxRlimits = 32

	// MaxUserBytes bounds the NUL-terminated user name.
	MaxUserBytes = 32

	// MaxLangBytes bounds the NUL-terminated LANG value.
	MaxLangBytes = 1024
)

// wireRlimit is the on-the-wire shape of one rlimit table entry.
type wireRlimit struct {
	ID   int32
	_    [4]byte // padding to keep Soft/Hard 8-byte aligned
	Soft uint64
	Hard uint64
}

// wireRequest is the fixed-size layout Marshal/Unmarshal read and write
// directly with encoding/binary — no variable-length fields, so the
// struct's size on the wire is constant regardless of how much of it is
// logically in use.
type wireRequest struct {
	Version   int32
	TTY       int32
	ArgCount  int32
	ArgBuf    [MaxArgvBytes]byte
	RlimCount int32
	Rlim      [MaxRlimits]wireRlimit
	User      [MaxUserBytes]byte
	Lang      [MaxLangBytes]byte
}

// SessionRequest is the decoded, Go-native form of the envelope: argv as
// a string slice, rlimits named rather than numbered, user/lang as plain
// strings.
type SessionRequest struct {
	Version int32
	TTY     bool
	Argv    []string
	Rlimits []rlimit.Limit
	User    string
	Lang    string
}

// Marshal encodes req into the fixed wire envelope. It fails if argv,
// the rlimit table, the user name, or LANG overflow their fixed fields.
func (req SessionRequest) Marshal() ([]byte, error) {
	var w wireRequest
	w.Version = req.Version

	if req.TTY {
		w.TTY = 1
	}

	argBuf, err := packArgv(req.Argv)
	if err != nil {
		return nil, err
	}
	w.ArgCount = int32(len(req.Argv))
	if len(argBuf) > len(w.ArgBuf) {
		return nil, fmt.Errorf("protocol: argv buffer %d bytes exceeds %d", len(argBuf), len(w.ArgBuf))
	}
	copy(w.ArgBuf[:], argBuf)

	if len(req.Rlimits) > len(w.Rlim) {
		return nil, fmt.Errorf("protocol: %d rlimits exceeds max %d", len(req.Rlimits), len(w.Rlim))
	}
	w.RlimCount = int32(len(req.Rlimits))
	for i, l := range req.Rlimits {
		id, ok := rlimit.IDOf(l.Type)
		if !ok {
			return nil, fmt.Errorf("protocol: unrecognised rlimit %q", l.Type)
		}
		w.Rlim[i] = wireRlimit{ID: id, Soft: l.Soft, Hard: l.Hard}
	}

	if err := putCString(w.User[:], req.User); err != nil {
		return nil, fmt.Errorf("protocol: user: %w", err)
	}
	if err := putCString(w.Lang[:], req.Lang); err != nil {
		return nil, fmt.Errorf("protocol: lang: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.NativeEndian, &w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a wire envelope previously produced by Marshal.
func Unmarshal(data []byte) (SessionRequest, error) {
	var w wireRequest
	if err := binary.Read(bytes.NewReader(data), binary.NativeEndian, &w); err != nil {
		return SessionRequest{}, fmt.Errorf("protocol: short envelope: %w", err)
	}

	if w.Version != Version {
		return SessionRequest{}, fmt.Errorf("protocol: unsupported version %d", w.Version)
	}

	if int(w.ArgCount) < 0 || int(w.ArgCount) > len(w.ArgBuf) {
		return SessionRequest{}, fmt.Errorf("protocol: invalid arg count %d", w.ArgCount)
	}
	argv, err := unpackArgv(w.ArgBuf[:], int(w.ArgCount))
	if err != nil {
		return SessionRequest{}, err
	}

	if int(w.RlimCount) < 0 || int(w.RlimCount) > len(w.Rlim) {
		return SessionRequest{}, fmt.Errorf("protocol: invalid rlimit count %d", w.RlimCount)
	}
	limits := make([]rlimit.Limit, 0, w.RlimCount)
	for i := 0; i < int(w.RlimCount); i++ {
		e := w.Rlim[i]
		name, ok := rlimit.NameOf(e.ID)
		if !ok {
			return SessionRequest{}, fmt.Errorf("protocol: unrecognised rlimit id %d", e.ID)
		}
		limits = append(limits, rlimit.Limit{Type: name, Soft: e.Soft, Hard: e.Hard})
	}

	return SessionRequest{
		Version: w.Version,
		TTY:     w.TTY != 0,
		Argv:    argv,
		Rlimits: limits,
		User:    getCString(w.User[:]),
		Lang:    getCString(w.Lang[:]),
	}, nil
}

// Size is the constant on-wire size of a session_request envelope.
func Size() int {
	return binary.Size(wireRequest{})
}

// ResponseHeaderSize is the size of the small fixed header sent alongside
// a session_response's SCM_RIGHTS fds, carrying the version the supervisor
// actually answered with.
const ResponseHeaderSize = 4

// MarshalResponseHeader encodes a session_response's version field. The
// fds themselves travel out-of-band via SCM_RIGHTS ancillary data, never
// through this buffer.
func MarshalResponseHeader(version int32) []byte {
	buf := make([]byte, ResponseHeaderSize)
	binary.NativeEndian.PutUint32(buf, uint32(version))
	return buf
}

// UnmarshalResponseHeader decodes a session_response header.
func UnmarshalResponseHeader(data []byte) (int32, error) {
	if len(data) < ResponseHeaderSize {
		return 0, fmt.Errorf("protocol: short response header")
	}
	return int32(binary.NativeEndian.Uint32(data)), nil
}

// packArgv joins argv with NUL separators, matching the original wire
// convention of a packed argv buffer rather than a length-prefixed array.
func packArgv(argv []string) ([]byte, error) {
	var buf bytes.Buffer
	for _, a := range argv {
		if bytes.IndexByte([]byte(a), 0) >= 0 {
			return nil, fmt.Errorf("protocol: argv entry contains NUL")
		}
		buf.WriteString(a)
		buf.WriteByte(0)
	}
	return buf.Bytes(), nil
}

// unpackArgv splits a packed NUL-separated argv buffer back into count
// strings.
func unpackArgv(buf []byte, count int) ([]string, error) {
	argv := make([]string, 0, count)
	start := 0
	for i := 0; i < len(buf) && len(argv) < count; i++ {
		if buf[i] == 0 {
			argv = append(argv, string(buf[start:i]))
			start = i + 1
		}
	}
	if len(argv) != count {
		return nil, fmt.Errorf("protocol: argv buffer held %d entries, want %d", len(argv), count)
	}
	return argv, nil
}

// putCString copies s into dst as a NUL-terminated string, failing if s
// (plus its terminator) doesn't fit.
func putCString(dst []byte, s string) error {
	if len(s)+1 > len(dst) {
		return fmt.Errorf("value %q exceeds field size %d", s, len(dst))
	}
	for i := range dst {
		dst[i] = 0
	}
	copy(dst, s)
	return nil
}

// getCString reads a NUL-terminated string out of a fixed-size field.
func getCString(src []byte) string {
	if i := bytes.IndexByte(src, 0); i >= 0 {
		return string(src[:i])
	}
	return string(src)
}
