package segment

import (
	"testing"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	testCases := []struct {
		name string
		seg  Segment
	}{
		{
			name: "syn with no payload",
			seg: Segment{
				SrcVIP: "HOST_A", DstVIP: "HOST_S",
				SrcPort: 10000, DstPort: 10002,
				Flags: FlagSYN,
			},
		},
		{
			name: "data fragment with more flag set",
			seg: Segment{
				SrcVIP: "HOST_A", DstVIP: "HOST_S",
				SrcPort: 10000, DstPort: 10002,
				Seq: 1, More: true,
				Payload: []byte("hello, world"),
			},
		},
		{
			name: "fin ack",
			seg: Segment{
				SrcVIP: "HOST_S", DstVIP: "HOST_A",
				SrcPort: 10002, DstPort: 10000,
				Flags: FlagFIN | FlagACK,
			},
		},
		{
			name: "empty payload byte slice vs nil",
			seg: Segment{
				SrcVIP: "HOST_R", DstVIP: "HOST_B",
				SrcPort: 1, DstPort: 65535,
				Payload: []byte{},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := Encode(tc.seg)
			require.NoError(t, err)

			got, err := Decode(buf)
			require.NoError(t, err)

			assert.Equal(t, tc.seg.SrcVIP, got.SrcVIP)
			assert.Equal(t, tc.seg.DstVIP, got.DstVIP)
			assert.Equal(t, tc.seg.SrcPort, got.SrcPort)
			assert.Equal(t, tc.seg.DstPort, got.DstPort)
			assert.Equal(t, tc.seg.Flags, got.Flags)
			assert.Equal(t, tc.seg.Seq, got.Seq)
			assert.Equal(t, tc.seg.More, got.More)
			if len(tc.seg.Payload) == 0 {
				assert.Empty(t, got.Payload)
			} else {
				assert.Equal(t, tc.seg.Payload, got.Payload)
			}
		})
	}
}

func TestDecodeBadFormat(t *testing.T) {
	testCases := []struct {
		name string
		buf  []byte
	}{
		{"empty buffer", []byte{}},
		{"src vip length overruns buffer", []byte{5, 'a'}},
		{"truncated after src vip", []byte{1, 'a'}},
		{"trailing garbage", func() []byte {
			b, _ := Encode(Segment{SrcVIP: "A", DstVIP: "B", SrcPort: 1, DstPort: 2})
			return append(b, 0xFF)
		}()},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode(tc.buf)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrBadFormat)
		})
	}
}

func TestEncodeRejectsOversizedVIP(t *testing.T) {
	longVIP := addr.VIP(make([]byte, 256))
	_, err := Encode(Segment{SrcVIP: longVIP, DstVIP: "B", SrcPort: 1, DstPort: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBadFormat)
}
