package supervisor

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moby/boxsup/internal/passwd"
)

func TestBuildEnvRootGetsSbinPath(t *testing.T) {
	env := buildEnv(passwd.Entry{Name: "root", UID: 0, Home: "/root"}, "")
	assert.Assert(t, contains(env, "PATH=/sbin:/bin:/usr/sbin:/usr/bin"))
	assert.Assert(t, contains(env, "HOME=/root"))
	assert.Assert(t, contains(env, "USER=root"))
}

func TestBuildEnvNonRootGetsRestrictedPath(t *testing.T) {
	env := buildEnv(passwd.Entry{Name: "vcap", UID: 1000, Home: "/home/vcap"}, "")
	assert.Assert(t, contains(env, "PATH=/bin:/usr/bin"))
}

func TestBuildEnvIncludesLangWhenSet(t *testing.T) {
	env := buildEnv(passwd.Entry{Name: "vcap", UID: 1000, Home: "/home/vcap"}, "en_US.UTF-8")
	assert.Assert(t, contains(env, "LANG=en_US.UTF-8"))
}

func TestBuildEnvOmitsLangWhenEmpty(t *testing.T) {
	env := buildEnv(passwd.Entry{Name: "vcap", UID: 1000, Home: "/home/vcap"}, "")
	for _, e := range env {
		assert.Assert(t, len(e) < 5 || e[:5] != "LANG=")
	}
}

func contains(items []string, want string) bool {
	for _, i := range items {
		if i == want {
			return true
		}
	}
	return false
}
