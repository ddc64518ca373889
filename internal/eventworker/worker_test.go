package eventworker

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerRunsFlush(t *testing.T) {
	w := New(time.Hour) // cleanup never fires within the test
	var flushes int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx, func() {}, func() { atomic.AddInt32(&flushes, 1) })

	w.Trigger()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&flushes) == 1
	}, time.Second, time.Millisecond)

	w.Stop()
}

func TestCleanupRunsOnTimeout(t *testing.T) {
	w := New(10 * time.Millisecond)
	var cleanups int32

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx, func() { atomic.AddInt32(&cleanups, 1) }, func() {})

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&cleanups) >= 2
	}, time.Second, time.Millisecond)

	w.Stop()
}

func TestWaitUntilIdleBlocksDuringFlush(t *testing.T) {
	w := New(time.Hour)
	started := make(chan struct{})
	release := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	w.Start(ctx, func() {}, func() {
		close(started)
		<-release
	})

	w.Trigger()
	<-started

	idleDone := make(chan struct{})
	go func() {
		w.WaitUntilIdle(context.Background())
		close(idleDone)
	}()

	select {
	case <-idleDone:
		t.Fatal("WaitUntilIdle returned while flush still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	<-idleDone

	w.Stop()
}

func TestStopSetsStoppedFlagWithOngoingLoop(t *testing.T) {
	w := New(5 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx, func() {}, func() {})
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	assert.Equal(t, Stopped, w.flag)
}
