// Package transport implements the reliable connection-oriented layer:
// the Connection state machine (connection.go) and the Multiplexer that
// demultiplexes inbound segments to connections and accepts new inbound
// ones, grounded on lib/server/pcp.go's PcpProtocolConnection and
// lib/client/pconn.go's pcpProtocolConnection reader/dispatch loops.
package transport

import (
	"log"
	"sync"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/netlayer"
	"github.com/netlab-course/pseudonet/segment"
)

const (
	ephemeralPortLow  = 32768
	ephemeralPortHigh = 60999
)

// Multiplexer owns one node's network-layer host binding, its live
// connections and its listeners, plus the background reader goroutine
// that demultiplexes inbound segments.
type Multiplexer struct {
	host     *netlayer.Host
	localVIP addr.VIP
	cfg      Config

	mu        sync.Mutex
	conns     map[ConnectionKey]*Connection
	listeners map[addr.Port]*Listener

	ports *portPool

	closeSignal chan struct{}
	wg          sync.WaitGroup
}

// NewMultiplexer starts a Multiplexer's background reader over host.
func NewMultiplexer(host *netlayer.Host, cfg Config) *Multiplexer {
	m := &Multiplexer{
		host:        host,
		localVIP:    host.LocalVIP,
		cfg:         cfg,
		conns:       make(map[ConnectionKey]*Connection),
		listeners:   make(map[addr.Port]*Listener),
		ports:       newPortPool(ephemeralPortLow, ephemeralPortHigh),
		closeSignal: make(chan struct{}),
	}
	m.wg.Add(1)
	go m.readLoop()
	return m
}

// Listener accepts newly established inbound connections on a bound port,
// grounded on lib/server/service.go's Service/Accept split.
type Listener struct {
	mux    *Multiplexer
	port   addr.Port
	accept chan *Connection
}

// Listen reserves localPort for accepting inbound connections.
func (m *Multiplexer) Listen(localPort addr.Port) *Listener {
	l := &Listener{mux: m, port: localPort, accept: make(chan *Connection, queueDepth)}
	m.mu.Lock()
	m.listeners[localPort] = l
	m.mu.Unlock()
	return l
}

// Accept blocks until an inbound connection completes its handshake.
func (l *Listener) Accept() (*Connection, error) {
	conn, ok := <-l.accept
	if !ok {
		return nil, ErrChannelClosed
	}
	return conn, nil
}

// Close stops accepting new connections on this listener.
func (l *Listener) Close() {
	l.mux.mu.Lock()
	delete(l.mux.listeners, l.port)
	l.mux.mu.Unlock()
}

func (m *Multiplexer) register(key ConnectionKey, c *Connection) {
	m.mu.Lock()
	m.conns[key] = c
	m.mu.Unlock()
}

func (m *Multiplexer) forget(key ConnectionKey) {
	m.mu.Lock()
	delete(m.conns, key)
	m.mu.Unlock()
}

// releasePort returns an ephemeral port allocated by Connect back to the
// pool; ports handed to a Listener are never in the pool and are ignored.
func (m *Multiplexer) releasePort(port addr.Port) {
	m.ports.release(port)
}

func (m *Multiplexer) lookup(key ConnectionKey) (*Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[key]
	return c, ok
}

func (m *Multiplexer) listenerFor(port addr.Port) (*Listener, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.listeners[port]
	return l, ok
}

func (m *Multiplexer) sendSegment(seg segment.Segment) {
	buf, err := segment.Encode(seg)
	if err != nil {
		log.Printf("transport: failed to encode outgoing segment: %v", err)
		return
	}
	if err := m.host.Send(seg.DstVIP, buf); err != nil {
		log.Printf("transport: send to %s failed: %v", seg.DstVIP, err)
	}
}

// Connect performs the active open (three-way handshake) against remote,
// grounded on lib/client/pconn.go's dial(). synAckLoop, not this loop,
// owns synAckQueue for the connection's whole lifetime, so a duplicate
// SYN+ACK the passive side retransmits after we've already reached
// ESTABLISHED (spec.md §8 scenario S4, our first ACK lost in transit)
// still gets re-acked instead of being silently dropped once buffered.
func (m *Multiplexer) Connect(remote addr.Endpoint) (*Connection, error) {
	localPort, err := m.ports.allocate()
	if err != nil {
		return nil, err
	}
	key := ConnectionKey{RemoteVIP: remote.VIP, RemotePort: remote.Port, LocalPort: localPort}

	if _, exists := m.lookup(key); exists {
		return nil, ErrDuplicateConnection
	}

	conn := newConnection(m, key, stateSynSent)
	m.register(key, conn)
	go conn.synAckLoop()

	syn := conn.makeSegment(segment.FlagSYN, 0, false, nil)
	m.sendSegment(syn)

	retries := 0
	for {
		select {
		case <-conn.established:
			return conn, nil
		case <-time.After(m.cfg.Timeout):
			retries++
			if m.cfg.RetryLimit > 0 && retries >= m.cfg.RetryLimit {
				m.forget(key)
				m.ports.release(localPort)
				conn.closeDone()
				return nil, ErrHandshakeFailed
			}
			m.sendSegment(syn)
		}
	}
}

// handleInboundSYN completes the passive open for a bare SYN with no
// matching connection, grounded on lib/server/service.go's
// handleSynPacket + Handle3WayHandshake.
func (m *Multiplexer) handleInboundSYN(srcVIP addr.VIP, seg segment.Segment) {
	l, ok := m.listenerFor(seg.DstPort)
	if !ok {
		log.Printf("transport: SYN to unbound port %s from %s dropped", seg.DstPort, srcVIP)
		return
	}

	key := ConnectionKey{RemoteVIP: srcVIP, RemotePort: seg.SrcPort, LocalPort: seg.DstPort}
	if _, exists := m.lookup(key); exists {
		return // retransmitted SYN for a handshake already in flight
	}

	conn := newConnection(m, key, stateSynReceived)
	m.register(key, conn)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		synAck := conn.makeSegment(segment.FlagSYN|segment.FlagACK, 0, false, nil)
		retries := 0
		for {
			m.sendSegment(synAck)
			select {
			case <-conn.ackQueue:
				conn.setState(stateEstablished)
				select {
				case l.accept <- conn:
				case <-m.closeSignal:
				}
				return
			case <-time.After(m.cfg.Timeout):
				retries++
				if m.cfg.RetryLimit > 0 && retries >= m.cfg.RetryLimit {
					m.forget(key)
					conn.closeDone()
					return
				}
			case <-m.closeSignal:
				m.forget(key)
				conn.closeDone()
				return
			}
		}
	}()
}

// readLoop is the Multiplexer's single reader goroutine: it demultiplexes
// every inbound segment to its connection, or handles it at the
// multiplexer level if none exists yet (new SYN, or a defensive ACK for a
// FIN whose connection this side has already forgotten — grounded on
// original_source's ReliableTransport._route).
func (m *Multiplexer) readLoop() {
	defer m.wg.Done()
	for {
		srcVIP, payload, err := m.host.Receive()
		if err != nil {
			select {
			case <-m.closeSignal:
				return
			default:
				log.Printf("transport: read loop error: %v", err)
				return
			}
		}

		seg, err := segment.Decode(payload)
		if err != nil {
			log.Printf("transport: dropped undecodable segment from %s: %v", srcVIP, err)
			continue
		}

		key := ConnectionKey{RemoteVIP: srcVIP, RemotePort: seg.SrcPort, LocalPort: seg.DstPort}
		if conn, ok := m.lookup(key); ok {
			conn.dispatch(seg)
			continue
		}

		switch {
		case seg.IsSYN() && !seg.IsACK():
			m.handleInboundSYN(srcVIP, seg)
		case seg.IsFIN():
			// The peer's FIN outlived our record of the connection (we
			// already tore it down); ack it defensively so the peer's
			// own retransmit loop can terminate.
			ack := segment.Segment{
				SrcVIP: m.localVIP, DstVIP: srcVIP,
				SrcPort: seg.DstPort, DstPort: seg.SrcPort,
				Flags: segment.FlagACK, Seq: seg.Seq,
			}
			m.sendSegment(ack)
		default:
			// stray ACK/data for an unknown connection: silently dropped
		}
	}
}

// Close tears down the multiplexer's background goroutines. It does not
// close individual connections. Closing the packet service is what
// actually unblocks readLoop and any in-flight handshake goroutine — per
// spec.md §4.3, shutdown must "stop the reader ... and release the packet
// service", and closing closeSignal alone cannot interrupt a goroutine
// parked in a blocking UDP read.
func (m *Multiplexer) Close() {
	close(m.closeSignal)
	if err := m.host.Close(); err != nil {
		log.Printf("transport: closing packet service: %v", err)
	}
	m.wg.Wait()
}
