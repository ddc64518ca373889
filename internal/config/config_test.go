package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "recorder.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, "recorder:\n  output:\n    container: chunklog\n")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 100, cfg.Recorder.BufferSize)
	require.Equal(t, int64(256), cfg.Recorder.Output.ResourceLimits.SafetyMargin)
	require.True(t, cfg.Recorder.RecordTypes)
	require.Equal(t, "STOPPED", cfg.Recorder.InitialState)
}

func TestValidateRejectsUnknownContainer(t *testing.T) {
	path := writeConfig(t, "recorder:\n  output:\n    container: bogus\n")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsMismatchedRelstoreLimits(t *testing.T) {
	path := writeConfig(t, `
recorder:
  output:
    container: relstore
    resource-limits:
      max-file-size: 100
      max-size: 200
`)
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateRejectsNegativeSizes(t *testing.T) {
	path := writeConfig(t, `
recorder:
  output:
    container: chunklog
    resource-limits:
      max-file-size: -1
`)
	_, err := Load(path)
	require.Error(t, err)
}
