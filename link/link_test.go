package link

import (
	"testing"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	src, _ := addr.NewMAC("AA:AA:AA:AA:AA:AA")
	dst, _ := addr.NewMAC("BB:BB:BB:BB:BB:BB")
	f := Frame{SrcMAC: src, DstMAC: dst, Payload: []byte("packet bytes")}

	buf := Serialize(f)
	got, ok := Deserialize(buf)
	require.True(t, ok)
	assert.Equal(t, f.SrcMAC, got.SrcMAC)
	assert.Equal(t, f.DstMAC, got.DstMAC)
	assert.Equal(t, f.Payload, got.Payload)
}

func TestDeserializeRejectsCorruptedFrame(t *testing.T) {
	src, _ := addr.NewMAC("AA:AA:AA:AA:AA:AA")
	dst, _ := addr.NewMAC("BB:BB:BB:BB:BB:BB")
	buf := Serialize(Frame{SrcMAC: src, DstMAC: dst, Payload: []byte("packet bytes")})

	buf[len(buf)/2] ^= 0xFF // flip every bit of a byte inside the destination MAC

	_, ok := Deserialize(buf)
	assert.False(t, ok)
}

func TestDeserializeRejectsTruncatedFrame(t *testing.T) {
	_, ok := Deserialize([]byte{1, 2, 3})
	assert.False(t, ok)
}
