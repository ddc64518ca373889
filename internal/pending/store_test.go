package pending

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otusdds/recorder/internal/model"
)

func sampleWithSeq(seq uint64) *model.Sample {
	return &model.Sample{Sequence: seq}
}

func TestPushAndDrainPreservesOrder(t *testing.T) {
	s := New(-1, nil)
	for i := uint64(0); i < 5; i++ {
		s.Push("my.Type", sampleWithSeq(i))
	}
	drained := s.Drain("my.Type")
	require.Len(t, drained, 5)
	for i, sample := range drained {
		assert.Equal(t, uint64(i), sample.Sequence)
	}
	assert.Empty(t, s.Drain("my.Type"), "drain again must be empty")
}

func TestDisabledStoreDropsEverything(t *testing.T) {
	s := New(0, nil)
	s.Push("my.Type", sampleWithSeq(0))
	assert.Equal(t, 0, s.Len("my.Type"))
}

func TestCapacityEvictsOldest(t *testing.T) {
	var evicted []*model.Sample
	s := New(2, func(typeName string, sample *model.Sample) {
		evicted = append(evicted, sample)
	})
	s.Push("t", sampleWithSeq(0))
	s.Push("t", sampleWithSeq(1))
	s.Push("t", sampleWithSeq(2)) // evicts seq 0

	require.Len(t, evicted, 1)
	assert.Equal(t, uint64(0), evicted[0].Sequence)

	remaining := s.Drain("t")
	require.Len(t, remaining, 2)
	assert.Equal(t, uint64(1), remaining[0].Sequence)
	assert.Equal(t, uint64(2), remaining[1].Sequence)
}

func TestDrainAllAndReset(t *testing.T) {
	s := New(-1, nil)
	s.Push("a", sampleWithSeq(0))
	s.Push("b", sampleWithSeq(1))

	all := s.DrainAll()
	assert.Len(t, all, 2)
	assert.Empty(t, s.DrainAll())

	s.Push("a", sampleWithSeq(2))
	s.Reset()
	assert.Equal(t, 0, s.Len("a"))
}
