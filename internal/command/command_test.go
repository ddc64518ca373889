package command

import (
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/otusdds/recorder/internal/model"
)

type fakeDispatcher struct {
	calls []Request
	err   error
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, raw string, args map[string]any) error {
	f.calls = append(f.calls, Request{Command: raw, Args: args})
	return f.err
}

type fakeStats struct {
	state   model.State
	written int64
}

func (f fakeStats) State() model.State    { return f.state }
func (f fakeStats) BytesWritten() int64 { return f.written }

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestUDSServerDispatchesCommand(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "recorder.sock")
	disp := &fakeDispatcher{}
	stats := fakeStats{state: model.StateRunning, written: 42}

	srv := NewUDSServer(sockPath, disp, stats, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	conn, err := dialWithRetry(sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(Request{Command: "pause"}))
	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.True(t, resp.OK)
	require.Len(t, disp.calls, 1)
	require.Equal(t, "pause", disp.calls[0].Command)
}

func TestUDSServerStatusVerb(t *testing.T) {
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "recorder.sock")
	disp := &fakeDispatcher{}
	stats := fakeStats{state: model.StatePaused, written: 7}

	srv := NewUDSServer(sockPath, disp, stats, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, srv.Start(ctx))
	defer srv.Stop()

	conn, err := dialWithRetry(sockPath)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, json.NewEncoder(conn).Encode(Request{Command: "status"}))
	var out map[string]any
	require.NoError(t, json.NewDecoder(conn).Decode(&out))
	require.Equal(t, "PAUSED", out["state"])
	require.Empty(t, disp.calls)
}

func dialWithRetry(path string) (net.Conn, error) {
	var lastErr error
	for i := 0; i < 20; i++ {
		conn, err := net.Dial("unix", path)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		time.Sleep(5 * time.Millisecond)
	}
	return nil, lastErr
}
