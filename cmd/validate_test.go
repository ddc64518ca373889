package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/otusdds/recorder/internal/config"
)

func TestRunValidateAcceptsWellFormedConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "recorder.yaml")
	body := "recorder:\n  output:\n    container: chunklog\n    path: " + dir + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, "chunklog", cfg.Recorder.Output.Container)
}
