// Package wsh implements the client side of a session: connect to the
// supervisor socket, send a session request, and pump stdio until the
// remote command exits. Grounded on
// original_source/warden/src/wsh/wsh.c/console.c.
package wsh

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options are the resolved command-line inputs Run needs.
type Options struct {
	SocketPath string
	User       string
	Argv       []string
}

// ParseArgs parses the conventional --socket/--user flags with pflag, the
// same library cmd/supervisor, cmd/mux-spawn, and cmd/mux-link use. The one
// piece pflag can't express is the rsh(1)-compatible invocation form
// ("--rsh [-46dn] [-l user] [-t timeout] host [command...]"): single-dash
// multi-letter bundles feeding into a positional host that gets discarded,
// not a pflag-shaped grammar. So a literal "--rsh" marker is located by a
// manual scan first, *before* pflag ever sees the argument list, and
// everything after it is parsed by hand in parseRSH — pflag only ever
// parses the conventional prefix in front of that marker (or the whole
// argument list, when there is no "--rsh").
func ParseArgs(argv []string) (Options, error) {
	prefix, rshArgs, hasRSH := splitRSH(argv)

	fs := pflag.NewFlagSet("wsh", pflag.ContinueOnError)
	fs.SetInterspersed(false)
	fs.Usage = func() {}

	var opts Options
	fs.StringVar(&opts.SocketPath, "socket", "run/supervisor.sock", "supervisor socket path")
	fs.StringVar(&opts.User, "user", "", "user to run the session as")

	if err := fs.Parse(prefix); err != nil {
		return Options{}, fmt.Errorf("wsh: invalid option -- %w", err)
	}

	if hasRSH {
		i, err := parseRSH(rshArgs, 0, &opts)
		if err != nil {
			return Options{}, err
		}
		opts.Argv = rshArgs[i:]
		return opts, nil
	}

	opts.Argv = fs.Args()
	return opts, nil
}

// splitRSH scans argv for a literal "--rsh" marker appearing before the
// first positional argument, splitting the list around it. Done ahead of
// the pflag pass so pflag never has to parse the irregular rsh flags that
// follow the marker.
func splitRSH(argv []string) (prefix, rshArgs []string, hasRSH bool) {
	for i, a := range argv {
		if a == "--rsh" {
			return argv[:i], argv[i+1:], true
		}
		if len(a) == 0 || a[0] != '-' {
			break
		}
	}
	return argv, nil, false
}

// parseRSH consumes "[-46dn] [-l user] [-t timeout] host" starting at
// index i, discarding everything except -l's value, and returns the
// index just past the host name.
func parseRSH(argv []string, i int, opts *Options) (int, error) {
	for i < len(argv) && len(argv[i]) > 0 && argv[i][0] == '-' {
		flag := argv[i]
		switch {
		case len(flag) == 2 && isRSHNoArgFlag(flag[1]):
			i++
		case len(flag) == 2 && flag[1] == 'l' && i+1 < len(argv):
			opts.User = argv[i+1]
			i += 2
		case len(flag) == 2 && flag[1] == 't' && i+1 < len(argv):
			i += 2
		default:
			if len(flag) < 2 {
				return 0, fmt.Errorf("wsh: invalid rsh option -- %s", flag)
			}
			for j := 1; j < len(flag); j++ {
				if !isRSHNoArgFlag(flag[j]) {
					return 0, fmt.Errorf("wsh: invalid rsh option -- %s", flag)
				}
			}
			i++
		}
	}

	if i >= len(argv) {
		return 0, fmt.Errorf("wsh: --rsh requires a host argument")
	}
	return i + 1, nil // skip over host
}

func isRSHNoArgFlag(b byte) bool {
	switch b {
	case '4', '6', 'd', 'n':
		return true
	default:
		return false
	}
}
