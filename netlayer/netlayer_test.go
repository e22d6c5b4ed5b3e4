package netlayer

import (
	"testing"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/link"
	"github.com/netlab-course/pseudonet/physical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := Packet{SrcVIP: "HOST_A", DstVIP: "HOST_S", Hops: DefaultHopBudget, Payload: []byte("segment bytes")}
	buf := encodePacket(p)
	got, ok := decodePacket(buf)
	require.True(t, ok)
	assert.Equal(t, p, got)
}

func TestDecodePacketRejectsTruncated(t *testing.T) {
	_, ok := decodePacket([]byte{9, 1, 2})
	assert.False(t, ok)
}

// nodeLinks wires three loopback sockets/MACs/links for a host, a router
// and a second host, matching S6's "router forwards or drops on TTL"
// scenario from spec.md §8.
func nodeLinks(t *testing.T) (hostA *link.Link, router *link.Link, hostB *link.Link, macA, macR, macB addr.MAC) {
	t.Helper()
	macA, _ = addr.NewMAC("AA:AA:AA:AA:AA:AA")
	macR, _ = addr.NewMAC("DD:DD:DD:DD:DD:DD")
	macB, _ = addr.NewMAC("BB:BB:BB:BB:BB:BB")

	ip, _ := addr.NewIP("127.0.0.1")
	portA, _ := addr.NewPort(22001)
	portR, _ := addr.NewPort(22002)
	portB, _ := addr.NewPort(22003)
	sockA := addr.Socket{IP: ip, Port: portA}
	sockR := addr.Socket{IP: ip, Port: portR}
	sockB := addr.Socket{IP: ip, Port: portB}

	physA, err := physical.Listen(sockA, physical.Noise{})
	require.NoError(t, err)
	physR, err := physical.Listen(sockR, physical.Noise{})
	require.NoError(t, err)
	physB, err := physical.Listen(sockB, physical.Noise{})
	require.NoError(t, err)
	t.Cleanup(func() { physA.Close(); physR.Close(); physB.Close() })

	hostA = link.New(macA, link.ARPTable{macR: sockR}, physA)
	router = link.New(macR, link.ARPTable{macA: sockA, macB: sockB}, physR)
	hostB = link.New(macB, link.ARPTable{macR: sockR}, physB)
	return
}

func TestRouterForwardsWithinHopBudget(t *testing.T) {
	hostALink, routerLink, hostBLink, _, macR, macB := nodeLinks(t)

	hostA := NewHost("HOST_A", RoutingTable{"HOST_B": macR}, hostALink)
	router := NewRouter(RoutingTable{"HOST_B": macB}, routerLink)
	hostB := NewHost("HOST_B", RoutingTable{}, hostBLink)

	done := make(chan struct{})
	go func() {
		router.forwardOne()
		close(done)
	}()

	require.NoError(t, hostA.Send("HOST_B", []byte("hi")))
	<-done

	_, payload, err := hostB.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), payload)
	assert.Equal(t, uint64(1), router.Stats.Forwarded.Load())
}

func TestRouterDropsOnHopBudgetExhausted(t *testing.T) {
	hostALink, routerLink, _, _, macR, macB := nodeLinks(t)
	router := NewRouter(RoutingTable{"HOST_B": macB}, routerLink)

	// Send a frame straight to the router carrying a packet whose hop
	// budget is already exhausted, bypassing Host.Send (which always
	// starts a fresh packet at DefaultHopBudget) so forwardOne sees the
	// zero-hop case it must drop.
	pkt := Packet{SrcVIP: "HOST_A", DstVIP: "HOST_B", Hops: 0, Payload: []byte("dead")}
	require.NoError(t, hostALink.Send(macR, encodePacket(pkt)))

	require.NoError(t, router.forwardOne())

	assert.Equal(t, uint64(1), router.Stats.DroppedTTL.Load())
	assert.Equal(t, uint64(0), router.Stats.Forwarded.Load())
}

func TestRouterStatsTotal(t *testing.T) {
	var s RouterStats
	s.Forwarded.Store(3)
	s.DroppedTTL.Store(1)
	s.DroppedUnknown.Store(2)
	assert.Equal(t, uint64(6), s.Total())
}
