package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeTestConfig creates a hermetic config file: temp data dir, temp log
// file, no external backends.
func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`version: 1
data_dir: %s
logging:
  level: error
  file: %s
embeddings:
  provider: none
classifier:
  provider: heuristic
feeds:
  seed_defaults: false
`, filepath.Join(dir, "data"), filepath.Join(dir, "logs", "threatvault.log"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCommand executes the CLI with args and returns its stdout.
func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestExecute_UnknownCommandFails(t *testing.T) {
	_, err := runCommand(t, "no-such-command")

	require.Error(t, err)
}

func TestRootCmd_ShowsHelp(t *testing.T) {
	out, err := runCommand(t, "--help")

	require.NoError(t, err)
	require.Contains(t, out, "threatvault")
	require.Contains(t, out, "ingest")
	require.Contains(t, out, "search")
	require.Contains(t, out, "dataset")
}

func TestStatsCmd_EmptyStore(t *testing.T) {
	cfg := writeTestConfig(t)

	out, err := runCommand(t, "--config", cfg, "stats")

	require.NoError(t, err)
	require.Contains(t, out, "indicators: 0")
}
