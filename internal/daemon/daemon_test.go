package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/otusdds/recorder/internal/ingress/fake"
)

func writeConfig(t *testing.T, tmpDir string) string {
	t.Helper()
	path := filepath.Join(tmpDir, "recorder.yaml")
	body := `
dds:
  domain: 0
recorder:
  buffer-size: 4
  initial-state: STOPPED
  output:
    container: chunklog
    path: ` + tmpDir + `
    filename: test-recording
log:
  level: debug
  format: text
metrics:
  enable: false
remote-controller:
  enable: false
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDaemonStartStop(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := writeConfig(t, tmpDir)
	socketPath := filepath.Join(tmpDir, "recorder.sock")
	pidFile := filepath.Join(tmpDir, "recorder.pid")

	in := fake.NewIngress(4)
	reg := fake.NewTypeRegistry()

	d, err := New(configPath, socketPath, pidFile, in, reg)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	_, err = os.Stat(pidFile)
	require.NoError(t, err)
	_, err = os.Stat(socketPath)
	require.NoError(t, err)

	d.Stop()

	_, err = os.Stat(pidFile)
	require.True(t, os.IsNotExist(err))
}

func TestDaemonBootstrapsRunningState(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "recorder.yaml")
	body := `
recorder:
  initial-state: RUNNING
  output:
    container: chunklog
    path: ` + tmpDir + `
    filename: test-recording
`
	require.NoError(t, os.WriteFile(configPath, []byte(body), 0o644))

	socketPath := filepath.Join(tmpDir, "recorder.sock")
	d, err := New(configPath, socketPath, "", fake.NewIngress(1), fake.NewTypeRegistry())
	require.NoError(t, err)
	require.NoError(t, d.Start())
	defer d.Stop()

	require.Eventually(t, func() bool {
		return d.h.State().String() == "RUNNING"
	}, time.Second, 10*time.Millisecond)
}
