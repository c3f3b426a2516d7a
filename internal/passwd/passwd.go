// Package passwd resolves user names against an in-container /etc/passwd
// file directly, rather than going through the host's NSS stack — the
// container's libc and the supervisor's don't necessarily agree on an
// nsswitch ABI, so the supervisor must never call the system resolver on
// a path that crosses that boundary.
package passwd

import (
	"fmt"

	"github.com/moby/sys/user"
)

// Entry is the subset of a passwd(5) record a session needs to drop
// privileges and build the child's environment.
type Entry struct {
	Name  string
	UID   int
	GID   int
	Home  string
	Shell string
}

// Lookup reads path (ordinarily the container's /etc/passwd) and returns
// the entry for name.
func Lookup(path, name string) (Entry, error) {
	entries, err := user.ParsePasswdFileFilter(path, func(u user.User) bool {
		return u.Name == name
	})
	if err != nil {
		return Entry{}, fmt.Errorf("passwd: parse %s: %w", path, err)
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("passwd: no such user %q in %s", name, path)
	}

	u := entries[0]
	return Entry{
		Name:  u.Name,
		UID:   u.Uid,
		GID:   u.Gid,
		Home:  u.Home,
		Shell: u.Shell,
	}, nil
}
