package log

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMultiWriterFansOut(t *testing.T) {
	var a, b bytes.Buffer
	mw := NewMultiWriter().Add(&a).Add(&b)

	n, err := mw.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", a.String())
	require.Equal(t, "hello", b.String())
}

func TestMultiWriterContinuesPastFailingSink(t *testing.T) {
	var good bytes.Buffer
	mw := NewMultiWriter().Add(failingWriter{}).Add(&good)

	_, err := mw.Write([]byte("x"))
	require.Error(t, err)
	require.Equal(t, "x", good.String())
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, assertErr
}

var assertErr = errWrite{}

type errWrite struct{}

func (errWrite) Error() string { return "write failed" }
