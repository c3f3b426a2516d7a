package supervisor

import (
	"fmt"
	"os/exec"
	"path/filepath"
)

// runHook runs dir/name to completion and fails if it exits non-zero.
// Grounded on original_source/warden/src/wsh/util.c's run(); the original
// forks and execvp's directly, which os/exec.Command already does the
// idiomatic Go way.
func runHook(dir, name string) error {
	path := filepath.Join(dir, name)
	cmd := exec.Command(path)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("supervisor: hook %s: %w", path, err)
	}
	return nil
}
