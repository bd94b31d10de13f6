package experiment

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	assert.NoError(t, valid.Validate())

	noProcs := DefaultConfig()
	noProcs.Procs = 0
	assert.Error(t, noProcs.Validate())

	noFrames := DefaultConfig()
	noFrames.FramesPerProc = 0
	assert.Error(t, noFrames.Validate())

	noCycles := DefaultConfig()
	noCycles.Cycles = -1
	assert.Error(t, noCycles.Validate())

	badRecurrence := DefaultConfig()
	badRecurrence.Recurrence = 0
	assert.Error(t, badRecurrence.Validate())

	unevenRecurrence := DefaultConfig()
	unevenRecurrence.FramesPerProc = 10
	unevenRecurrence.Recurrence = 3
	assert.Error(t, unevenRecurrence.Validate())
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`procs: 4
frames_per_proc: 32
channels: [dirt_cleaned, performance]
seed: 7
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err)

	// Explicit keys override the defaults
	assert.Equal(t, 4, config.Procs)
	assert.Equal(t, 32, config.FramesPerProc)
	assert.Equal(t, []string{"dirt_cleaned", "performance"}, config.Channels)
	assert.Equal(t, uint64(7), config.Seed)

	// Unset keys keep the defaults
	assert.Equal(t, 100, config.Cycles)
	assert.Equal(t, 0.99, config.Discount)
	assert.Equal(t, 0.95, config.GAELambda)
	assert.Equal(t, []int{64, 64}, config.Hidden)
}

func TestLoadConfigRejectsIllegalFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("procs: -3\n"), 0o644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
