package wsh

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/moby/boxsup/internal/rlimit"
)

// importRlimits scans the environment for every recognised RLIMIT_* name
// and parses its value as "<soft> <hard>" or a bare "<val>" (soft=hard).
// Grounded on wsh.c's msg_rlimit_import.
func importRlimits() ([]rlimit.Limit, error) {
	var limits []rlimit.Limit
	for _, name := range rlimit.Names() {
		val, ok := os.LookupEnv(name)
		if !ok {
			continue
		}

		soft, hard, err := parseRlimitValue(val)
		if err != nil {
			return nil, fmt.Errorf("wsh: %s=%q: %w", name, val, err)
		}
		limits = append(limits, rlimit.FromOCI(specs.POSIXRlimit{Type: name, Soft: soft, Hard: hard}))
	}
	return limits, nil
}

func parseRlimitValue(val string) (soft, hard uint64, err error) {
	fields := strings.Fields(val)
	switch len(fields) {
	case 1:
		v, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return v, v, nil
	case 2:
		s, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		h, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return 0, 0, err
		}
		return s, h, nil
	default:
		return 0, 0, fmt.Errorf("expected \"<soft> <hard>\" or \"<val>\"")
	}
}
