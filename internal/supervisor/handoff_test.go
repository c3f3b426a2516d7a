package supervisor

import (
	"testing"

	"gotest.tools/v3/assert"
)

func TestSaveLoadHandoffRoundTrip(t *testing.T) {
	state := handoffState{
		RunPath:         "/run",
		LibPath:         "/mnt/lib",
		RootPath:        "/root",
		ListenFD:        3,
		ChildBarrierWFD: 5,
	}

	fd, err := saveHandoff(state)
	assert.NilError(t, err)

	got, err := loadHandoff(fd)
	assert.NilError(t, err)
	assert.DeepEqual(t, got, state)
}
