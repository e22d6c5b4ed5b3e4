package segment

import (
	"fmt"

	rp "github.com/Clouded-Sabre/ringpool/lib"
)

// MaxPayload is the largest byte slice a pooled buffer can hold; it must
// cover the largest fragment a connection ever hands to the codec (MSS).
const MaxPayload = 4096

// PoolSize bounds how many payload buffers are kept ready for reuse.
const PoolSize = 512

var emptyBuf = make([]byte, MaxPayload)

// payloadBuf is the ring-pool element type for pooled payload buffers,
// following the teacher's Payload/DataInterface split so a fragment's
// bytes are borrowed rather than freshly allocated on every send/receive.
//
// lib/pool.go's Payload carries SetContent/Reset/PrintContent/Copy/
// GetSlice, but lib/packet.go is the only caller of any of them, and it
// always reaches the concrete type first via a type assertion
// (p.chunk.Data.(*Payload).GetSlice()) rather than calling through
// rp.DataInterface directly — nowhere in the teacher does application
// code invoke one of these methods on a bare rp.DataInterface value.
// payloadBuf implements the two methods rp.DataInterface requires, Reset
// and PrintContent; Copy/GetSlice are domain methods reached by the same
// type-assert-back pattern (see Borrow below).
type payloadBuf struct {
	bytes  []byte
	length int
}

// newPayloadBuf is the constructor ring-pool calls to mint pool elements.
func newPayloadBuf(params ...interface{}) rp.DataInterface {
	return &payloadBuf{bytes: make([]byte, MaxPayload)}
}

func (p *payloadBuf) Reset() {
	copy(p.bytes, emptyBuf)
	p.length = 0
}

func (p *payloadBuf) Copy(src []byte) error {
	if len(src) > len(p.bytes) {
		return fmt.Errorf("segment: payload of %d bytes exceeds pool buffer of %d bytes", len(src), len(p.bytes))
	}
	copy(p.bytes, src)
	p.length = len(src)
	return nil
}

func (p *payloadBuf) GetSlice() []byte { return p.bytes[:p.length] }

func (p *payloadBuf) PrintContent() {
	fmt.Println("Content:", p.bytes[:p.length])
}

// Pool is the shared ring pool of payload buffers used by connections
// holding outgoing data pending acknowledgment. Encode and Decode do not
// use it; they allocate their own buffers.
var Pool = rp.NewRingPool("segment: ", PoolSize, newPayloadBuf, MaxPayload)

// Borrow takes a pooled buffer, copies src into it and returns both the
// buffer's stable byte slice and a release function. Callers must call
// release once the bytes are no longer needed.
func Borrow(src []byte) (buf []byte, release func(), err error) {
	el := Pool.GetElement()
	pb := el.Data.(*payloadBuf)
	if err := pb.Copy(src); err != nil {
		Pool.ReturnElement(el)
		return nil, nil, err
	}
	return pb.GetSlice(), func() { Pool.ReturnElement(el) }, nil
}
