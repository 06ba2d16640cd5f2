package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/secstack/threatvault/pkg/version"
)

func TestVersionCmd_Short(t *testing.T) {
	out, err := runCommand(t, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := runCommand(t, "version", "--json")

	require.NoError(t, err)
	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
}

func TestVersionCmd_Default(t *testing.T) {
	out, err := runCommand(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "threatvault")
	assert.Contains(t, out, version.Version)
}
