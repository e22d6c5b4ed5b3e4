// Package link implements the frame layer: CRC-checked framing over the
// physical layer and static-ARP MAC resolution, grounded on
// original_source's stack/link/impl/simple.py.
package link

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"log"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/physical"
)

// Frame is the link-layer protocol data unit: a source/destination MAC
// pair wrapping an opaque network-layer payload, trailed by a CRC32.
//
// No third-party CRC implementation appears anywhere in the retrieved
// corpus, so this is the one deliberately stdlib-only concern in the
// stack; hash/crc32 is used directly rather than inventing a dependency.
type Frame struct {
	SrcMAC  addr.MAC
	DstMAC  addr.MAC
	Payload []byte
}

// Serialize encodes f with an appended CRC32 trailer over the MAC pair and
// payload.
func Serialize(f Frame) []byte {
	return encodeFrame(f)
}

func encodeFrame(f Frame) []byte {
	src := []byte(f.SrcMAC)
	dst := []byte(f.DstMAC)
	buf := make([]byte, 1+len(src)+1+len(dst)+2+len(f.Payload)+4)
	i := 0
	buf[i] = byte(len(src))
	i++
	i += copy(buf[i:], src)
	buf[i] = byte(len(dst))
	i++
	i += copy(buf[i:], dst)
	binary.BigEndian.PutUint16(buf[i:], uint16(len(f.Payload)))
	i += 2
	i += copy(buf[i:], f.Payload)

	crc := crc32.ChecksumIEEE(buf[:i])
	binary.BigEndian.PutUint32(buf[i:], crc)
	return buf
}

// Deserialize decodes buf and verifies its CRC trailer. It returns
// (frame, false) on any structural or CRC failure — the caller must treat
// that as a silent drop, matching the link layer's contract.
func Deserialize(buf []byte) (Frame, bool) {
	var f Frame
	if len(buf) < 1 {
		return f, false
	}
	i := 0
	srcLen := int(buf[i])
	i++
	if len(buf) < i+srcLen+1 {
		return f, false
	}
	src := string(buf[i : i+srcLen])
	i += srcLen

	dstLen := int(buf[i])
	i++
	if len(buf) < i+dstLen+2 {
		return f, false
	}
	dst := string(buf[i : i+dstLen])
	i += dstLen

	if len(buf) < i+2 {
		return f, false
	}
	payloadLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	if len(buf) < i+payloadLen+4 {
		return f, false
	}
	payload := buf[i : i+payloadLen]
	i += payloadLen

	gotCRC := binary.BigEndian.Uint32(buf[i:])
	wantCRC := crc32.ChecksumIEEE(buf[:i])
	if gotCRC != wantCRC {
		return f, false
	}

	srcMAC, err := addr.NewMAC(src)
	if err != nil {
		return f, false
	}
	dstMAC, err := addr.NewMAC(dst)
	if err != nil {
		return f, false
	}

	payloadCopy := make([]byte, len(payload))
	copy(payloadCopy, payload)

	return Frame{SrcMAC: srcMAC, DstMAC: dstMAC, Payload: payloadCopy}, true
}

// ARPTable is a static VIP-independent MAC-to-socket table: it says where
// on the physical layer a given MAC address can be reached.
type ARPTable map[addr.MAC]addr.Socket

// Link binds a local MAC and ARP table to a physical channel.
type Link struct {
	LocalMAC addr.MAC
	ARP      ARPTable
	Phys     *physical.Channel
}

// New constructs a Link.
func New(localMAC addr.MAC, arp ARPTable, phys *physical.Channel) *Link {
	return &Link{LocalMAC: localMAC, ARP: arp, Phys: phys}
}

// Close releases the underlying physical channel, unblocking any goroutine
// currently blocked in Receive.
func (l *Link) Close() error {
	return l.Phys.Close()
}

// Send resolves dstMAC via ARP and transmits payload framed and CRC'd.
func (l *Link) Send(dstMAC addr.MAC, payload []byte) error {
	sock, ok := l.ARP[dstMAC]
	if !ok {
		return fmt.Errorf("link: no ARP entry for %s", dstMAC)
	}
	frame := Frame{SrcMAC: l.LocalMAC, DstMAC: dstMAC, Payload: payload}
	return l.Phys.SendTo(sock, encodeFrame(frame))
}

// Receive blocks for the next frame from the physical layer, deframes and
// CRC-checks it, and returns its payload. It returns (nil, nil) when a
// frame is dropped (bad CRC or malformed) so callers can loop and retry
// rather than treating a drop as a fatal error.
func (l *Link) Receive() ([]byte, error) {
	raw, _, err := l.Phys.Receive()
	if err != nil {
		return nil, err
	}
	f, ok := Deserialize(raw)
	if !ok {
		log.Println("link: dropped frame failing CRC/format check")
		return nil, nil
	}
	if f.DstMAC != l.LocalMAC {
		return nil, nil
	}
	return f.Payload, nil
}
