package controller

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/otusdds/recorder/internal/handler"
	"github.com/otusdds/recorder/internal/model"
	"github.com/otusdds/recorder/internal/writer"
	"github.com/otusdds/recorder/internal/writer/chunklog"
)

type recordingPublisher struct {
	statuses []Status
}

func (p *recordingPublisher) Publish(s Status) {
	p.statuses = append(p.statuses, s)
}

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func newTestController(t *testing.T) (*Controller, *recordingPublisher) {
	t.Helper()
	dir := t.TempDir()
	w := chunklog.New(chunklog.Config{Dir: dir, Limits: writer.ResourceLimits{FlushPeriod: 1}})
	h := handler.New(handler.Config{BufferSize: 10, FileBaseName: filepath.Join(dir, "run")}, w, testLogger())
	pub := &recordingPublisher{}
	return New(h, pub, testLogger()), pub
}

func TestStartThenStopPublishesStatus(t *testing.T) {
	c, pub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, "start", nil))
	require.NoError(t, c.Dispatch(ctx, "stop", nil))

	require.Len(t, pub.statuses, 2)
	require.Equal(t, "RUNNING", pub.statuses[0].Current)
	require.Equal(t, "STOPPED", pub.statuses[0].Previous)
	require.Equal(t, "STOPPED", pub.statuses[1].Current)
	require.Equal(t, "RUNNING", pub.statuses[1].Previous)
}

func TestIllegalCommandIsRejected(t *testing.T) {
	c, pub := newTestController(t)
	ctx := context.Background()

	// pause is illegal from STOPPED
	require.Error(t, c.Dispatch(ctx, "pause", nil))
	require.Empty(t, pub.statuses)
}

func TestUnknownCommandIsRejected(t *testing.T) {
	c, _ := newTestController(t)
	require.Error(t, c.Dispatch(context.Background(), "frobnicate", nil))
}

func TestEventIllegalOutsidePaused(t *testing.T) {
	c, _ := newTestController(t)
	ctx := context.Background()
	require.NoError(t, c.Dispatch(ctx, "start", nil))
	require.Error(t, c.Dispatch(ctx, "event", nil))
}

func TestCloseIsTerminal(t *testing.T) {
	c, pub := newTestController(t)
	ctx := context.Background()

	require.NoError(t, c.Dispatch(ctx, "start", nil))
	require.NoError(t, c.Dispatch(ctx, "close", nil))
	require.Error(t, c.Dispatch(ctx, "start", nil))

	last := pub.statuses[len(pub.statuses)-1]
	require.Equal(t, "CLOSED", last.Current)
}

func TestBootstrapRunning(t *testing.T) {
	c, pub := newTestController(t)
	require.NoError(t, c.Bootstrap(context.Background(), model.StateRunning))
	require.Len(t, pub.statuses, 1)
	require.Equal(t, "RUNNING", pub.statuses[0].Current)
}
