package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSampleValid(t *testing.T) {
	pool := NewPool()

	empty := &Sample{Payload: pool.Acquire(nil)}
	assert.False(t, empty.Valid(), "empty payload must be rejected")

	nonEmpty := &Sample{Payload: pool.Acquire([]byte("hello"))}
	assert.True(t, nonEmpty.Valid())
}

func TestBlankSchema(t *testing.T) {
	blank := BlankSchema("my.Type")
	assert.True(t, blank.IsBlank())
	assert.Equal(t, "my.Type", blank.TypeName)

	real := Schema{TypeName: "my.Type", EncodedText: "struct my.Type {}"}
	assert.False(t, real.IsBlank())
}

func TestDemangleROS2(t *testing.T) {
	cases := []struct {
		topic, typ     string
		wantT, wantTyp string
	}{
		{"rt/chatter", "std_msgs::msg::dds_::String_", "chatter", "std_msgs/msg/String"},
		{"rq/add_two_ints/_request", "example::srv::dds_::AddTwoInts_Request_", "add_two_ints/_request", "example/srv/AddTwoInts_Request"},
		{"/already/plain", "already.Plain", "/already/plain", "already.Plain"},
	}
	for _, c := range cases {
		gotT, gotTyp := DemangleROS2(c.topic, c.typ)
		assert.Equal(t, c.wantT, gotT)
		assert.Equal(t, c.wantTyp, gotTyp)
	}
}

func TestPoolRefcounting(t *testing.T) {
	pool := NewPool()
	ref := pool.Acquire([]byte("payload"))
	require.Equal(t, "payload", string(ref.Bytes()))

	ref2 := ref.Retain()
	ref.Release()
	// Still alive via the second reference.
	assert.Equal(t, "payload", string(ref2.Bytes()))

	ref2.Release()
}

func TestNilPayloadRef(t *testing.T) {
	var ref *PayloadRef
	assert.Equal(t, 0, ref.Len())
	assert.Nil(t, ref.Bytes())
	ref.Release() // must not panic
}
