package supervisor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"syscall"

	"github.com/moby/sys/reexec"
	"golang.org/x/sys/unix"
)

const cloneStageName = "boxsup-supervisor-clone-stage"

func init() {
	reexec.Register(cloneStageName, cloneStageMain)
}

// cloneFDs is the fixed ExtraFiles layout the bootstrap and clone stages
// agree on: fd 3 is the session listener, fd 4 is barrier_parent's read
// end, fd 5 is barrier_child's write end.
const (
	cloneFDListener          = 3
	cloneFDBarrierParentRead = 4
	cloneFDBarrierChildWrite = 5
)

// startCloneStage launches the clone stage in new namespaces. Go cannot
// itself issue a bare clone(2) and resume executing arbitrary Go code in
// the new child the way the original's clone(child_run, ...) does — the
// scheduler assumes fork is immediately followed by exec (or by nothing
// but exit). The idiomatic substitution every real Go container runtime
// uses is SysProcAttr.Cloneflags plus a self-reexec: a genuine new
// process is forked into the new namespaces, then immediately execs back
// into this same binary under a registered reexec name.
func startCloneStage(opts Options, listener *os.File, barrierParent, barrierChild *PipeBarrier) (*exec.Cmd, error) {
	cmd := reexec.Command(cloneStageName)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"BOXSUP_RUN_PATH="+opts.RunPath,
		"BOXSUP_LIB_PATH="+opts.LibPath,
		"BOXSUP_ROOT_PATH="+opts.RootPath,
	)
	// These wrap fds this process's own PipeBarrier values still own and
	// will use later (Signal/Wait); detach the *os.File's finalizer so a
	// GC of this short-lived wrapper can't close the fd out from under us.
	barrierParentFile := os.NewFile(uintptr(barrierParent.ReadFD()), "barrier-parent-read")
	runtime.SetFinalizer(barrierParentFile, nil)
	barrierChildFile := os.NewFile(uintptr(barrierChild.WriteFD()), "barrier-child-write")
	runtime.SetFinalizer(barrierChildFile, nil)

	cmd.ExtraFiles = []*os.File{listener, barrierParentFile, barrierChildFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWIPC | unix.CLONE_NEWNET | unix.CLONE_NEWNS |
			unix.CLONE_NEWPID | unix.CLONE_NEWUTS,
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("supervisor: start clone stage: %w", err)
	}
	return cmd, nil
}

// cloneStageMain is child_run's Go analogue: wait for the parent's
// go-ahead, run the pre-pivot hook, pivot the mount namespace's root,
// run the post-pivot hook, then hand off to the continuation via memfd
// and a real execve (never another reexec.Command — this process is
// PID 1 of its namespaces and must keep that pid across the handoff).
func cloneStageMain() {
	opts := Options{
		RunPath:  os.Getenv("BOXSUP_RUN_PATH"),
		LibPath:  os.Getenv("BOXSUP_LIB_PATH"),
		RootPath: os.Getenv("BOXSUP_ROOT_PATH"),
	}

	if err := Waiter(cloneFDBarrierParentRead).Wait(); err != nil {
		fatalf("wait for parent barrier: %v", err)
	}

	if err := runHook(opts.LibPath, "hook-child-before-pivot.sh"); err != nil {
		fatalf("%v", err)
	}

	pivotedLibPath, err := pivotRoot(opts.RootPath, opts.LibPath)
	if err != nil {
		fatalf("pivot root: %v", err)
	}

	if err := runHook(pivotedLibPath, "hook-child-after-pivot.sh"); err != nil {
		fatalf("%v", err)
	}

	state := handoffState{
		RunPath:         opts.RunPath,
		LibPath:         pivotedLibPath,
		RootPath:        opts.RootPath,
		ListenFD:        cloneFDListener,
		ChildBarrierWFD: cloneFDBarrierChildWrite,
	}

	memfd, err := saveHandoff(state)
	if err != nil {
		fatalf("%v", err)
	}

	self, err := os.Executable()
	if err != nil {
		fatalf("resolve self path: %v", err)
	}

	argv := []string{self, continueFlag, strconv.Itoa(memfd)}
	if err := unix.Exec(self, argv, os.Environ()); err != nil {
		fatalf("exec continuation: %v", err)
	}
}

// pivotRoot makes rootPath / in a fresh mount point and returns libPath's
// location as seen from inside the pivoted root (it lives under /mnt,
// the old root, until the continuation unmounts that too). Grounded on
// original_source/warden/src/wsh/wshd.c's child_run pivot sequence.
func pivotRoot(rootPath, libPath string) (pivotedLibPath string, err error) {
	absLib, err := filepath.Abs(libPath)
	if err != nil {
		return "", err
	}
	pivotedLibPath = filepath.Join("/mnt", absLib)

	if err := os.Chdir(rootPath); err != nil {
		return "", fmt.Errorf("chdir %s: %w", rootPath, err)
	}

	if err := os.Mkdir("mnt", 0700); err != nil && !os.IsExist(err) {
		return "", fmt.Errorf("mkdir mnt: %w", err)
	}

	if err := unix.PivotRoot(".", "mnt"); err != nil {
		return "", fmt.Errorf("pivot_root: %w", err)
	}

	if err := os.Chdir("/"); err != nil {
		return "", fmt.Errorf("chdir /: %w", err)
	}

	return pivotedLibPath, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
