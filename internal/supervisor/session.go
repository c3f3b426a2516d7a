package supervisor

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/moby/sys/reexec"
	"golang.org/x/sys/unix"

	"github.com/moby/boxsup/internal/passwd"
	"github.com/moby/boxsup/internal/protocol"
	"github.com/moby/boxsup/internal/ptyutil"
	"github.com/moby/boxsup/internal/rlimit"
	"github.com/moby/boxsup/internal/unixsock"
)

const sessionInitName = "boxsup-supervisor-session-init"

func init() {
	reexec.Register(sessionInitName, sessionInitMain)
}

// sessionParams is everything the post-fork child needs that can't be
// expressed through os/exec's SysProcAttr: rlimits, the resolved
// uid/gid, a minimal environment, and argv. Passed as gob over a pipe on
// the child's fd 3 — the same fd-3 pipe handoff internal/muxspawn uses for
// its child-init, except that muxspawn's pipe carries only a single
// release byte.
type sessionParams struct {
	Argv    []string
	Rlimits []rlimit.Limit
	UID     int
	GID     int
	Home    string
	Env     []string
	TTY     bool
}

// sessionInitMain is the reexec'd session child: it never returns on
// success — it ends in execve. Grounded on spec's "Child post-fork" list.
func sessionInitMain() {
	paramsFile := os.NewFile(3, "session-params")
	var params sessionParams
	if err := gob.NewDecoder(paramsFile).Decode(&params); err != nil {
		os.Exit(255)
	}
	paramsFile.Close()

	if _, err := unix.Setsid(); err != nil {
		os.Exit(255)
	}

	if params.TTY {
		if err := unix.IoctlSetInt(0, unix.TIOCSCTTY, 0); err != nil {
			os.Exit(255)
		}
	}

	if err := rlimit.Apply(params.Rlimits); err != nil {
		os.Exit(255)
	}

	if err := unix.Setgid(params.GID); err != nil {
		os.Exit(255)
	}
	if err := unix.Setuid(params.UID); err != nil {
		os.Exit(255)
	}

	if err := os.Chdir(params.Home); err != nil {
		os.Exit(255)
	}

	argv := params.Argv
	if len(argv) == 0 {
		argv = []string{"/bin/sh"}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		os.Exit(255)
	}

	if err := unix.Exec(path, argv, params.Env); err != nil {
		os.Exit(255)
	}
}

// startSessionChild reexecs into sessionInitMain with stdin/stdout/stderr
// already wired to the session's fds, and streams params across an
// ExtraFiles pipe before releasing the child to run.
func startSessionChild(stdin, stdout, stderr *os.File, params sessionParams) (*exec.Cmd, error) {
	cmd := reexec.Command(sessionInitName)
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	paramsR, paramsW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("supervisor: params pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{paramsR}

	if err := cmd.Start(); err != nil {
		paramsR.Close()
		paramsW.Close()
		return nil, fmt.Errorf("supervisor: start session child: %w", err)
	}
	paramsR.Close()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(params); err != nil {
		paramsW.Close()
		return cmd, fmt.Errorf("supervisor: encode session params: %w", err)
	}
	_, err = paramsW.Write(buf.Bytes())
	paramsW.Close()
	if err != nil {
		return cmd, fmt.Errorf("supervisor: send session params: %w", err)
	}

	return cmd, nil
}

// handleSession services one client connection end to end: decode the
// envelope, resolve the user, provision either a PTY or three pipes,
// send the corresponding fds back, fork the child, and register it with
// the reaper.
func (s *server) handleSession(conn *net.UnixConn) error {
	defer conn.Close()

	buf := make([]byte, protocol.Size())
	if _, err := readFull(conn, buf); err != nil {
		return fmt.Errorf("read session request: %w", err)
	}

	req, err := protocol.Unmarshal(buf)
	if err != nil {
		return err
	}
	if req.Version != protocol.Version {
		return fmt.Errorf("unsupported version %d", req.Version)
	}

	pw, err := passwd.Lookup(filepath.Join("/etc", "passwd"), req.User)
	if err != nil {
		return err
	}

	env := buildEnv(pw, req.Lang)

	if req.TTY {
		return s.handleTTYSession(conn, req, pw, env)
	}
	return s.handlePipeSession(conn, req, pw, env)
}

func (s *server) handleTTYSession(conn *net.UnixConn, req protocol.SessionRequest, pw passwd.Entry, env []string) error {
	pty, err := ptyutil.Open()
	if err != nil {
		return fmt.Errorf("open pty: %w", err)
	}

	statusR, statusW, err := os.Pipe()
	if err != nil {
		pty.Close()
		return fmt.Errorf("status pipe: %w", err)
	}

	masterFD := int(pty.Master.Fd())
	statusRFD := int(statusR.Fd())
	if err := unixsock.SendFDs(conn, protocol.MarshalResponseHeader(protocol.Version), []int{masterFD, statusRFD}); err != nil {
		pty.Close()
		statusR.Close()
		statusW.Close()
		return fmt.Errorf("send tty fds: %w", err)
	}

	cmd, err := startSessionChild(pty.Slave, pty.Slave, pty.Slave, sessionParams{
		Argv:    req.Argv,
		Rlimits: req.Rlimits,
		UID:     pw.UID,
		GID:     pw.GID,
		Home:    pw.Home,
		Env:     env,
		TTY:     true,
	})
	pty.Master.Close()
	pty.Slave.Close()
	statusR.Close()
	if err != nil {
		statusW.Close()
		return err
	}

	s.registerChild(cmd.Process.Pid, int(statusW.Fd()))
	return nil
}

func (s *server) handlePipeSession(conn *net.UnixConn, req protocol.SessionRequest, pw passwd.Entry, env []string) error {
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		return fmt.Errorf("stderr pipe: %w", err)
	}
	statusR, statusW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		return fmt.Errorf("status pipe: %w", err)
	}

	fds := []int{int(stdinW.Fd()), int(stdoutR.Fd()), int(stderrR.Fd()), int(statusR.Fd())}
	if err := unixsock.SendFDs(conn, protocol.MarshalResponseHeader(protocol.Version), fds); err != nil {
		stdinR.Close()
		stdinW.Close()
		stdoutR.Close()
		stdoutW.Close()
		stderrR.Close()
		stderrW.Close()
		statusR.Close()
		statusW.Close()
		return fmt.Errorf("send pipe fds: %w", err)
	}

	cmd, err := startSessionChild(stdinR, stdoutW, stderrW, sessionParams{
		Argv:    req.Argv,
		Rlimits: req.Rlimits,
		UID:     pw.UID,
		GID:     pw.GID,
		Home:    pw.Home,
		Env:     env,
		TTY:     false,
	})
	stdinR.Close()
	stdinW.Close()
	stdoutR.Close()
	stdoutW.Close()
	stderrR.Close()
	stderrW.Close()
	statusR.Close()
	if err != nil {
		statusW.Close()
		return err
	}

	s.registerChild(cmd.Process.Pid, int(statusW.Fd()))
	return nil
}

// buildEnv constructs the minimal environment spec's "Child post-fork"
// step specifies: HOME/USER/PATH always, LANG only if the request
// supplied one.
func buildEnv(pw passwd.Entry, lang string) []string {
	path := "/bin:/usr/bin"
	if pw.UID == 0 {
		path = "/sbin:/bin:/usr/sbin:/usr/bin"
	}

	env := []string{
		"HOME=" + pw.Home,
		"USER=" + pw.Name,
		"PATH=" + path,
	}
	if lang != "" {
		env = append(env, "LANG="+lang)
	}
	return env
}

func readFull(conn *net.UnixConn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
