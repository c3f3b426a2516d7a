package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
)

// Options are the three directories wshd.c's --run/--lib/--root flags
// name: where the socket lives, where the hook scripts live, and what
// becomes / in the new mount namespace.
type Options struct {
	RunPath  string
	LibPath  string
	RootPath string
}

func assertDirectory(path string) error {
	st, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("supervisor: stat %s: %w", path, err)
	}
	if !st.IsDir() {
		return fmt.Errorf("supervisor: %s is not a directory", path)
	}
	return nil
}

// Validate checks that all three configured paths exist and are
// directories, matching wshd.c's startup assert_directory calls.
func (o Options) Validate() error {
	for _, p := range []string{o.RunPath, o.LibPath, o.RootPath} {
		if err := assertDirectory(p); err != nil {
			return err
		}
	}
	return nil
}

// SocketPath is where the session-request listener binds.
func (o Options) SocketPath() string {
	return filepath.Join(o.RunPath, "supervisor.sock")
}
