package protocol

import (
	"testing"

	"gotest.tools/v3/assert"

	"github.com/moby/boxsup/internal/rlimit"
)

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	req := SessionRequest{
		Version: Version,
		TTY:     true,
		Argv:    []string{"/bin/sh", "-c", "echo hi"},
		Rlimits: []rlimit.Limit{{Type: "RLIMIT_NOFILE", Soft: 64, Hard: 64}},
		User:    "vcap",
		Lang:    "en_US.UTF-8",
	}

	data, err := req.Marshal()
	assert.NilError(t, err)
	assert.Equal(t, len(data), Size())

	got, err := Unmarshal(data)
	assert.NilError(t, err)
	assert.Equal(t, got.Version, req.Version)
	assert.Equal(t, got.TTY, req.TTY)
	assert.DeepEqual(t, got.Argv, req.Argv)
	assert.DeepEqual(t, got.Rlimits, req.Rlimits)
	assert.Equal(t, got.User, req.User)
	assert.Equal(t, got.Lang, req.Lang)
}

func TestMarshalRejectsUnrecognisedRlimit(t *testing.T) {
	req := SessionRequest{
		Version: Version,
		Rlimits: []rlimit.Limit{{Type: "RLIMIT_NOPE", Soft: 1, Hard: 1}},
	}
	_, err := req.Marshal()
	assert.ErrorContains(t, err, "unrecognised rlimit")
}

func TestMarshalRejectsOversizedUser(t *testing.T) {
	long := make([]byte, MaxUserBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	req := SessionRequest{Version: Version, User: string(long)}
	_, err := req.Marshal()
	assert.ErrorContains(t, err, "exceeds field size")
}

func TestUnmarshalRejectsWrongVersion(t *testing.T) {
	req := SessionRequest{Version: Version + 1}
	data, err := req.Marshal()
	assert.NilError(t, err)
	_, err = Unmarshal(data)
	assert.ErrorContains(t, err, "unsupported version")
}

func TestResponseHeaderRoundTrip(t *testing.T) {
	data := MarshalResponseHeader(Version)
	got, err := UnmarshalResponseHeader(data)
	assert.NilError(t, err)
	assert.Equal(t, got, int32(Version))
}
