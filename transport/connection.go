package transport

import (
	"sync"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/segment"
)

// ConnectionKey identifies a connection the way SPEC_FULL.md §5 requires:
// remote VIP, remote port and local port. The local VIP is implicit (a
// Multiplexer only ever serves one local VIP).
type ConnectionKey struct {
	RemoteVIP  addr.VIP
	RemotePort addr.Port
	LocalPort  addr.Port
}

type connState int

const (
	stateSynSent connState = iota
	stateSynReceived
	stateEstablished
	stateFinWait
	stateCloseWait
	stateClosed
)

const queueDepth = 8

// Connection is a reliable, connection-oriented, stop-and-wait channel
// between two transport endpoints. Its dispatch loop is grounded on
// lib/client/connection.go and lib/server/connection.go's flag-classified
// handleIncomingPackets, generalized to spec.md's four segregated queues.
type Connection struct {
	key      ConnectionKey
	localVIP addr.VIP
	mux      *Multiplexer

	mu    sync.Mutex
	state connState

	sendSeq uint8
	recvSeq uint8

	ackQueue    chan segment.Segment
	synAckQueue chan segment.Segment
	finQueue    chan segment.Segment
	dataQueue   chan segment.Segment

	sendMu sync.Mutex // serializes Send calls: one outstanding chunk at a time

	peerFinAcked chan struct{}
	finOnce      sync.Once

	established     chan struct{}
	establishedOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once
	closeErr  error
}

func newConnection(mux *Multiplexer, key ConnectionKey, st connState) *Connection {
	c := &Connection{
		key:          key,
		localVIP:     mux.localVIP,
		mux:          mux,
		state:        st,
		ackQueue:     make(chan segment.Segment, queueDepth),
		synAckQueue:  make(chan segment.Segment, queueDepth),
		finQueue:     make(chan segment.Segment, queueDepth),
		dataQueue:    make(chan segment.Segment, queueDepth),
		peerFinAcked: make(chan struct{}),
		established:  make(chan struct{}),
		done:         make(chan struct{}),
	}
	go c.finWatcher()
	return c
}

// closeDone signals every background watcher goroutine (finWatcher,
// synAckLoop) to stop, exactly once.
func (c *Connection) closeDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

// dispatch routes an inbound segment already known to belong to this
// connection into the appropriate queue.
func (c *Connection) dispatch(seg segment.Segment) {
	switch {
	case seg.IsSYN() && seg.IsACK():
		select {
		case c.synAckQueue <- seg:
		default:
		}
	case seg.IsFIN():
		select {
		case c.finQueue <- seg:
		default:
		}
	case seg.IsACK():
		select {
		case c.ackQueue <- seg:
		default:
		}
	default:
		select {
		case c.dataQueue <- seg:
		default:
		}
	}
}

func (c *Connection) setState(s connState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remote returns the endpoint this connection is talking to.
func (c *Connection) Remote() addr.Endpoint {
	return addr.Endpoint{VIP: c.key.RemoteVIP, Port: c.key.RemotePort}
}

func (c *Connection) makeSegment(flags uint8, seq uint8, more bool, payload []byte) segment.Segment {
	return segment.Segment{
		SrcVIP:  c.localVIP,
		DstVIP:  c.key.RemoteVIP,
		SrcPort: c.key.LocalPort,
		DstPort: c.key.RemotePort,
		Flags:   flags,
		Seq:     seq,
		More:    more,
		Payload: payload,
	}
}

// finWatcher acknowledges every reception of the peer's FIN — not just the
// first — per spec.md §4.2/§9: "FIN always triggers an immediate ACK
// emission at the connection", so a closer whose ack was lost gets
// re-acked on each retransmit instead of stalling until this side
// eventually forgets the connection. peerFinAcked is still only signaled
// once, the first time.
func (c *Connection) finWatcher() {
	for {
		select {
		case seg, ok := <-c.finQueue:
			if !ok {
				return
			}
			ack := c.makeSegment(segment.FlagACK, seg.Seq, false, nil)
			c.mux.sendSegment(ack)
			c.setState(stateCloseWait)
			c.finOnce.Do(func() { close(c.peerFinAcked) })
		case <-c.done:
			return
		}
	}
}

// synAckLoop owns synAckQueue for the lifetime of an actively-opened
// connection (started by Multiplexer.Connect). It acks every SYN+ACK it
// sees and signals established the first time. Per spec.md §4.2/§8's S4
// "lost final ACK" edge case, the passive side keeps retransmitting
// SYN+ACK until its own ack arrives; this loop keeps draining and
// re-emitting the ACK for as long as the connection lives, not just
// during the initial handshake, so a lost final ACK cannot wedge the
// passive side's accept loop forever.
func (c *Connection) synAckLoop() {
	for {
		select {
		case seg, ok := <-c.synAckQueue:
			if !ok {
				return
			}
			ack := c.makeSegment(segment.FlagACK, seg.Seq, false, nil)
			c.mux.sendSegment(ack)
			c.establishedOnce.Do(func() {
				c.setState(stateEstablished)
				close(c.established)
			})
		case <-c.done:
			return
		}
	}
}

// peerClosed reports whether the peer's FIN has already been observed.
func (c *Connection) peerClosed() bool {
	select {
	case <-c.peerFinAcked:
		return true
	default:
		return false
	}
}

// Send fragments data into MSS-sized chunks (spec.md §4.2) and transmits
// each with the standard stop-and-wait retransmit-until-acked loop,
// grounded on original_source's ReliableConnection._send_chunk.
func (c *Connection) Send(data []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.getState() != stateEstablished && c.getState() != stateCloseWait {
		return ErrNotConnected
	}

	mss := c.mux.cfg.MSS
	if len(data) == 0 {
		return c.sendChunk(nil, false)
	}
	for offset := 0; offset < len(data); offset += mss {
		end := offset + mss
		if end > len(data) {
			end = len(data)
		}
		more := end < len(data)
		if err := c.sendChunk(data[offset:end], more); err != nil {
			return err
		}
	}
	return nil
}

// sendChunk borrows a pool buffer for chunk so the in-flight payload lives
// independently of the caller's slice while it may be retransmitted, and
// returns it once the peer's ack for this sequence bit arrives.
func (c *Connection) sendChunk(chunk []byte, more bool) error {
	seq := c.sendSeq

	var payload []byte
	release := func() {}
	if len(chunk) > 0 {
		buf, rel, err := segment.Borrow(chunk)
		if err != nil {
			return err
		}
		payload, release = buf, rel
	}
	defer release()

	seg := c.makeSegment(0, seq, more, payload)

	retries := 0
	for {
		c.mux.sendSegment(seg)
		select {
		case ack := <-c.ackQueue:
			if ack.Seq == seq {
				c.sendSeq ^= 1
				return nil
			}
			// stale ack for the previous chunk, keep waiting for ours
		case <-time.After(c.mux.cfg.Timeout):
			retries++
			if c.mux.cfg.RetryLimit > 0 && retries >= c.mux.cfg.RetryLimit {
				return ErrHandshakeFailed
			}
		}
	}
}

// Receive blocks for the next complete message: it reassembles fragments
// until a segment with More=false arrives, matching the original's
// receive()/_receive_chunk duplicate-ack-of-previous-seq defense. It
// returns (nil, nil) once the peer has closed (the PeerClosed sentinel).
func (c *Connection) Receive() ([]byte, error) {
	out := []byte{} // distinct from the nil the peer-closed sentinel returns
	for {
		select {
		case seg := <-c.dataQueue:
			if seg.Seq == c.recvSeq {
				out = append(out, seg.Payload...)
				ack := c.makeSegment(segment.FlagACK, c.recvSeq, false, nil)
				c.mux.sendSegment(ack)
				more := seg.More
				c.recvSeq ^= 1
				if !more {
					return out, nil
				}
			} else {
				// duplicate: re-ack the previously accepted sequence bit
				dupAck := c.makeSegment(segment.FlagACK, c.recvSeq^1, false, nil)
				c.mux.sendSegment(dupAck)
			}
		case <-c.peerFinAcked:
			return nil, nil
		}
	}
}

// Close performs the four-way graceful teardown (spec.md §4.2): send our
// FIN and retransmit until acked, then wait for the peer's FIN (which
// finWatcher acknowledges on our behalf), converging regardless of which
// side closes first. Idempotent and safe to call concurrently — only the
// first call runs the teardown; every other caller blocks on it and gets
// the same result, rather than racing it through a second unbounded FIN
// retransmit loop against an already-forgotten key.
func (c *Connection) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.doClose() })
	return c.closeErr
}

func (c *Connection) doClose() error {
	c.sendMu.Lock()
	finSeq := c.sendSeq
	fin := c.makeSegment(segment.FlagFIN, finSeq, false, nil)
	c.setState(stateFinWait)

	retries := 0
	acked := false
	for !acked {
		c.mux.sendSegment(fin)
		select {
		case ack := <-c.ackQueue:
			if ack.Seq == finSeq {
				acked = true
			}
		case <-time.After(c.mux.cfg.Timeout):
			retries++
			if c.mux.cfg.RetryLimit > 0 && retries >= c.mux.cfg.RetryLimit {
				acked = true // give up retransmitting, still proceed to teardown
			}
		}
	}
	c.sendMu.Unlock()

	<-c.peerFinAcked // wait for the peer's own FIN, acked by finWatcher
	c.setState(stateClosed)
	c.mux.forget(c.key)
	c.mux.releasePort(c.key.LocalPort)
	c.closeDone()
	return nil
}
