package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetCmd_EmptyStoreStillWrites(t *testing.T) {
	// Given an empty store
	cfg := writeTestConfig(t)
	out := filepath.Join(t.TempDir(), "dataset.jsonl")

	// When exporting a dataset
	stdout, err := runCommand(t, "--config", cfg, "dataset", "--out", out)

	// Then the export succeeds with a manifest-only file
	require.NoError(t, err)
	assert.Contains(t, stdout, out)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], `"manifest"`)
}

func TestDatasetCmd_RejectsBadConfidence(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCommand(t, "--config", cfg, "dataset", "--min-confidence", "2.0")

	require.Error(t, err)
}
