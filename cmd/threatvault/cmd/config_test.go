package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigCmd_InitWritesTemplate(t *testing.T) {
	// Given a target path with no config
	path := filepath.Join(t.TempDir(), "config.yaml")

	// When initializing
	out, err := runCommand(t, "--config", path, "config", "init")

	// Then the annotated template lands at the path
	require.NoError(t, err)
	assert.Contains(t, out, path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "data_dir:")
	assert.Contains(t, string(data), "seed_defaults:")

	// And a second init without --force refuses to overwrite
	_, err = runCommand(t, "--config", path, "config", "init")
	require.Error(t, err)

	_, err = runCommand(t, "--config", path, "config", "init", "--force")
	require.NoError(t, err)
}

func TestConfigCmd_ShowMergesFileAndDefaults(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCommand(t, "--config", cfg, "config", "show")

	require.NoError(t, err)
	// File value
	assert.Contains(t, out, "provider: none")
	// Defaulted value the file does not set
	assert.Contains(t, out, "max_concurrency: 4")
}
