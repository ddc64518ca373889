package idgen

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewRunIDIsUnique(t *testing.T) {
	a := NewRunID()
	b := NewRunID()
	require.NotEmpty(t, a)
	require.NotEqual(t, a, b)
}
