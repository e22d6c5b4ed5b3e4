// Package segment defines the transport-layer protocol data unit and its
// deterministic binary wire codec.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/netlab-course/pseudonet/addr"
)

// Flag bits, mirroring the teacher's SYNFlag/ACKFlag/FINFlag layout in
// lib/constant.go but sized down to what this protocol needs.
const (
	FlagSYN uint8 = 1 << 0
	FlagACK uint8 = 1 << 1
	FlagFIN uint8 = 1 << 2
)

// ErrBadFormat is returned by Decode when the buffer is short, truncated,
// or otherwise cannot be a well-formed Segment.
var ErrBadFormat = errors.New("segment: bad format")

// Segment is the reliable-transport protocol data unit: one stop-and-wait
// data/control unit exchanged between two connection endpoints.
type Segment struct {
	SrcVIP  addr.VIP
	DstVIP  addr.VIP
	SrcPort addr.Port
	DstPort addr.Port

	Flags uint8 // FlagSYN | FlagACK | FlagFIN, combinable
	Seq   uint8 // alternating sequence bit, 0 or 1
	More  bool  // true if more fragments follow this one

	Payload []byte
}

func (s Segment) IsSYN() bool { return s.Flags&FlagSYN != 0 }
func (s Segment) IsACK() bool { return s.Flags&FlagACK != 0 }
func (s Segment) IsFIN() bool { return s.Flags&FlagFIN != 0 }

// Encode serializes s into a fresh byte slice using the fixed-header,
// length-prefixed-VIP, length-prefixed-payload layout described in
// SPEC_FULL.md §5.2.
func Encode(s Segment) ([]byte, error) {
	if len(s.SrcVIP) > 255 || len(s.DstVIP) > 255 {
		return nil, fmt.Errorf("%w: VIP label longer than 255 bytes", ErrBadFormat)
	}
	if len(s.Payload) > 0xFFFF {
		return nil, fmt.Errorf("%w: payload longer than 65535 bytes", ErrBadFormat)
	}

	size := 1 + len(s.SrcVIP) + 1 + len(s.DstVIP) + 2 + 2 + 1 + 1 + 2 + len(s.Payload)
	buf := make([]byte, size)
	i := 0

	buf[i] = byte(len(s.SrcVIP))
	i++
	i += copy(buf[i:], s.SrcVIP)

	buf[i] = byte(len(s.DstVIP))
	i++
	i += copy(buf[i:], s.DstVIP)

	binary.BigEndian.PutUint16(buf[i:], uint16(s.SrcPort))
	i += 2
	binary.BigEndian.PutUint16(buf[i:], uint16(s.DstPort))
	i += 2

	buf[i] = s.Flags
	i++

	seqAndMore := s.Seq & 0x01
	if s.More {
		seqAndMore |= 0x02
	}
	buf[i] = seqAndMore
	i++

	binary.BigEndian.PutUint16(buf[i:], uint16(len(s.Payload)))
	i += 2
	copy(buf[i:], s.Payload)

	return buf, nil
}

// Decode parses buf into a Segment. It never panics: any short or
// malformed input yields ErrBadFormat.
func Decode(buf []byte) (Segment, error) {
	var s Segment
	i := 0

	if len(buf) < i+1 {
		return s, fmt.Errorf("%w: truncated before src VIP length", ErrBadFormat)
	}
	srcLen := int(buf[i])
	i++
	if len(buf) < i+srcLen {
		return s, fmt.Errorf("%w: truncated src VIP", ErrBadFormat)
	}
	srcVIP, err := addr.NewVIP(string(buf[i : i+srcLen]))
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	i += srcLen

	if len(buf) < i+1 {
		return s, fmt.Errorf("%w: truncated before dst VIP length", ErrBadFormat)
	}
	dstLen := int(buf[i])
	i++
	if len(buf) < i+dstLen {
		return s, fmt.Errorf("%w: truncated dst VIP", ErrBadFormat)
	}
	dstVIP, err := addr.NewVIP(string(buf[i : i+dstLen]))
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrBadFormat, err)
	}
	i += dstLen

	if len(buf) < i+6 {
		return s, fmt.Errorf("%w: truncated fixed header", ErrBadFormat)
	}
	srcPort := binary.BigEndian.Uint16(buf[i:])
	i += 2
	dstPort := binary.BigEndian.Uint16(buf[i:])
	i += 2
	flags := buf[i]
	i++
	seqAndMore := buf[i]
	i++

	if len(buf) < i+2 {
		return s, fmt.Errorf("%w: truncated before payload length", ErrBadFormat)
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	if len(buf) < i+payloadLen {
		return s, fmt.Errorf("%w: truncated payload", ErrBadFormat)
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[i:i+payloadLen])
	i += payloadLen

	if i != len(buf) {
		return s, fmt.Errorf("%w: trailing bytes after payload", ErrBadFormat)
	}

	s = Segment{
		SrcVIP:  srcVIP,
		DstVIP:  dstVIP,
		SrcPort: addr.Port(srcPort),
		DstPort: addr.Port(dstPort),
		Flags:   flags,
		Seq:     seqAndMore & 0x01,
		More:    seqAndMore&0x02 != 0,
		Payload: payload,
	}
	return s, nil
}
