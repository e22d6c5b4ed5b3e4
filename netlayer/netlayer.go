// Package netlayer implements the network layer: VIP-addressed packets
// with a hop budget, static routing, and the host/router split, grounded
// on original_source's stack/network/impl/host.py and router.py.
package netlayer

import (
	"encoding/binary"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/link"
)

// DefaultHopBudget is the hop count new packets start with.
const DefaultHopBudget = 4

// Packet is the network-layer protocol data unit.
type Packet struct {
	SrcVIP  addr.VIP
	DstVIP  addr.VIP
	Hops    uint8
	Payload []byte
}

func encodePacket(p Packet) []byte {
	src := []byte(p.SrcVIP)
	dst := []byte(p.DstVIP)
	buf := make([]byte, 1+len(src)+1+len(dst)+1+2+len(p.Payload))
	i := 0
	buf[i] = byte(len(src))
	i++
	i += copy(buf[i:], src)
	buf[i] = byte(len(dst))
	i++
	i += copy(buf[i:], dst)
	buf[i] = p.Hops
	i++
	binary.BigEndian.PutUint16(buf[i:], uint16(len(p.Payload)))
	i += 2
	copy(buf[i:], p.Payload)
	return buf
}

func decodePacket(buf []byte) (Packet, bool) {
	var p Packet
	if len(buf) < 1 {
		return p, false
	}
	i := 0
	srcLen := int(buf[i])
	i++
	if len(buf) < i+srcLen+1 {
		return p, false
	}
	src := string(buf[i : i+srcLen])
	i += srcLen

	dstLen := int(buf[i])
	i++
	if len(buf) < i+dstLen+3 {
		return p, false
	}
	dst := string(buf[i : i+dstLen])
	i += dstLen

	hops := buf[i]
	i++
	payloadLen := int(binary.BigEndian.Uint16(buf[i:]))
	i += 2
	if len(buf) < i+payloadLen {
		return p, false
	}
	payload := make([]byte, payloadLen)
	copy(payload, buf[i:i+payloadLen])

	srcVIP, err := addr.NewVIP(src)
	if err != nil {
		return p, false
	}
	dstVIP, err := addr.NewVIP(dst)
	if err != nil {
		return p, false
	}

	return Packet{SrcVIP: srcVIP, DstVIP: dstVIP, Hops: hops, Payload: payload}, true
}

// RoutingTable maps a destination VIP to the MAC of the next hop.
type RoutingTable map[addr.VIP]addr.MAC

// Host is a network-layer endpoint that both sends its own traffic and
// delivers matching inbound traffic to the layer above; it never forwards.
type Host struct {
	LocalVIP addr.VIP
	Routes   RoutingTable
	Link     *link.Link
}

// NewHost constructs a Host.
func NewHost(localVIP addr.VIP, routes RoutingTable, l *link.Link) *Host {
	return &Host{LocalVIP: localVIP, Routes: routes, Link: l}
}

// Close releases the packet service backing this host, unblocking any
// goroutine currently blocked in Receive.
func (h *Host) Close() error {
	return h.Link.Close()
}

// Send routes payload to destination via the configured next hop.
func (h *Host) Send(destination addr.VIP, payload []byte) error {
	nextHop, ok := h.Routes[destination]
	if !ok {
		return fmt.Errorf("netlayer: no route to %s", destination)
	}
	pkt := Packet{SrcVIP: h.LocalVIP, DstVIP: destination, Hops: DefaultHopBudget, Payload: payload}
	return h.Link.Send(nextHop, encodePacket(pkt))
}

// Receive blocks for the next packet addressed to this host, discarding
// (and logging) anything addressed elsewhere. Returns the sender VIP and
// the transport-layer payload.
func (h *Host) Receive() (addr.VIP, []byte, error) {
	for {
		raw, err := h.Link.Receive()
		if err != nil {
			return "", nil, err
		}
		if raw == nil {
			continue // link-layer drop, keep listening
		}
		pkt, ok := decodePacket(raw)
		if !ok {
			log.Println("netlayer: dropped malformed packet")
			continue
		}
		if pkt.DstVIP != h.LocalVIP {
			log.Printf("netlayer: dropped packet addressed to %s, not us", pkt.DstVIP)
			continue
		}
		return pkt.SrcVIP, pkt.Payload, nil
	}
}

// RouterStats tallies a Router's forwarding outcomes, supplementing the
// spec from original_source's RouterStats. The counters are written by
// Run's forwarding goroutine and typically read from elsewhere (a signal
// handler printing a shutdown summary), so they're atomic rather than
// plain uint64 fields.
type RouterStats struct {
	Forwarded      atomic.Uint64
	DroppedTTL     atomic.Uint64
	DroppedUnknown atomic.Uint64
}

// Total is the number of packets the router has looked at.
func (s *RouterStats) Total() uint64 {
	return s.Forwarded.Load() + s.DroppedTTL.Load() + s.DroppedUnknown.Load()
}

// Router forwards packets between hosts by decrementing the hop budget and
// consulting a static routing table; it never delivers to an application.
type Router struct {
	Routes RoutingTable
	Link   *link.Link
	Stats  RouterStats
}

// NewRouter constructs a Router.
func NewRouter(routes RoutingTable, l *link.Link) *Router {
	return &Router{Routes: routes, Link: l}
}

// Run forwards packets forever until Receive returns an error (link
// closed), matching original_source's Router.run() loop.
func (r *Router) Run() error {
	for {
		if err := r.forwardOne(); err != nil {
			return err
		}
	}
}

func (r *Router) forwardOne() error {
	raw, err := r.Link.Receive()
	if err != nil {
		return err
	}
	if raw == nil {
		return nil // link-layer drop
	}
	pkt, ok := decodePacket(raw)
	if !ok {
		log.Println("netlayer: router dropped malformed packet")
		return nil
	}
	if pkt.Hops == 0 {
		r.Stats.DroppedTTL.Add(1)
		log.Printf("netlayer: router dropped packet from %s to %s, hop budget exhausted", pkt.SrcVIP, pkt.DstVIP)
		return nil
	}
	pkt.Hops--

	nextHop, ok := r.Routes[pkt.DstVIP]
	if !ok {
		r.Stats.DroppedUnknown.Add(1)
		log.Printf("netlayer: router dropped packet to %s, no route", pkt.DstVIP)
		return nil
	}

	if err := r.Link.Send(nextHop, encodePacket(pkt)); err != nil {
		log.Printf("netlayer: router forward error: %v", err)
		return nil
	}
	r.Stats.Forwarded.Add(1)
	return nil
}
