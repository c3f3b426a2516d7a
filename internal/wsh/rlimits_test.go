package wsh

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestParseRlimitValueSingle(t *testing.T) {
	soft, hard, err := parseRlimitValue("64")
	assert.NilError(t, err)
	assert.Equal(t, soft, uint64(64))
	assert.Equal(t, hard, uint64(64))
}

func TestParseRlimitValuePair(t *testing.T) {
	soft, hard, err := parseRlimitValue("64 128")
	assert.NilError(t, err)
	assert.Equal(t, soft, uint64(64))
	assert.Equal(t, hard, uint64(128))
}

func TestParseRlimitValueInvalid(t *testing.T) {
	_, _, err := parseRlimitValue("a b c")
	assert.ErrorContains(t, err, "expected")
}

func TestImportRlimitsReadsRecognisedEnvVars(t *testing.T) {
	t.Setenv("RLIMIT_NOFILE", "64 64")

	limits, err := importRlimits()
	assert.NilError(t, err)

	found := false
	for _, l := range limits {
		if l.Type == "RLIMIT_NOFILE" {
			found = true
			assert.Equal(t, l.Soft, uint64(64))
			assert.Equal(t, l.Hard, uint64(64))
		}
	}
	assert.Assert(t, found)
}
