package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeedsCmd_AddListDisable(t *testing.T) {
	cfg := writeTestConfig(t)

	// Given a newly registered source
	out, err := runCommand(t, "--config", cfg, "feeds", "add", "myfeed",
		"--endpoint", "http://feeds.invalid/iocs.json", "--format", "json",
		"--header", "Authorization=Bearer token")
	require.NoError(t, err)
	assert.Contains(t, out, `registered feed source "myfeed"`)

	// When listing sources
	out, err = runCommand(t, "--config", cfg, "feeds", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "myfeed")
	assert.Contains(t, out, "active")

	// Then disabling it is reflected in the listing
	_, err = runCommand(t, "--config", cfg, "feeds", "disable", "myfeed")
	require.NoError(t, err)
	out, err = runCommand(t, "--config", cfg, "feeds", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "disabled")
}

func TestFeedsCmd_AddRejectsBadFormat(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCommand(t, "--config", cfg, "feeds", "add", "broken",
		"--endpoint", "http://feeds.invalid/data", "--format", "avro")

	require.Error(t, err)
}

func TestFeedsCmd_EnableUnknownSourceFails(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCommand(t, "--config", cfg, "feeds", "enable", "missing")

	require.Error(t, err)
}

func TestFeedsCmd_AddRejectsMalformedHeader(t *testing.T) {
	cfg := writeTestConfig(t)

	_, err := runCommand(t, "--config", cfg, "feeds", "add", "broken",
		"--endpoint", "http://feeds.invalid/data", "--header", "notapair")

	require.Error(t, err)
}
