package transport

import (
	"testing"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/link"
	"github.com/netlab-course/pseudonet/netlayer"
	"github.com/netlab-course/pseudonet/physical"
	"github.com/netlab-course/pseudonet/segment"
	"github.com/stretchr/testify/require"
)

// pair wires two Multiplexers directly to each other over loopback UDP
// physical channels with an in-process link/ARP table, matching the S1
// "lossless exchange" topology of spec.md §8 without a router hop.
type pair struct {
	a, b *Multiplexer
}

func newDirectPair(t *testing.T, cfg Config) *pair {
	t.Helper()
	return newDirectPairNoisy(t, cfg, physical.Noise{}, physical.Noise{})
}

// newDirectPairNoisy is newDirectPair with an impairment profile applied
// to each side's outgoing traffic, for exercising spec.md §8's S3 "lossy
// channel" scenario end to end.
func newDirectPairNoisy(t *testing.T, cfg Config, noiseA, noiseB physical.Noise) *pair {
	t.Helper()

	vipA, vipB := addr.VIP("HOST_A"), addr.VIP("HOST_B")
	macA, err := addr.NewMAC("AA:AA:AA:AA:AA:AA")
	require.NoError(t, err)
	macB, err := addr.NewMAC("BB:BB:BB:BB:BB:BB")
	require.NoError(t, err)

	ipA, err := addr.NewIP("127.0.0.1")
	require.NoError(t, err)
	portA, err := addr.NewPort(21001)
	require.NoError(t, err)
	portB, err := addr.NewPort(21002)
	require.NoError(t, err)
	sockA := addr.Socket{IP: ipA, Port: portA}
	sockB := addr.Socket{IP: ipA, Port: portB}

	physA, err := physical.Listen(sockA, noiseA)
	require.NoError(t, err)
	physB, err := physical.Listen(sockB, noiseB)
	require.NoError(t, err)
	t.Cleanup(func() { physA.Close(); physB.Close() })

	arpA := link.ARPTable{macB: sockB}
	arpB := link.ARPTable{macA: sockA}

	linkA := link.New(macA, arpA, physA)
	linkB := link.New(macB, arpB, physB)

	routesA := netlayer.RoutingTable{vipB: macB}
	routesB := netlayer.RoutingTable{vipA: macA}

	hostA := netlayer.NewHost(vipA, routesA, linkA)
	hostB := netlayer.NewHost(vipB, routesB, linkB)

	muxA := NewMultiplexer(hostA, cfg)
	muxB := NewMultiplexer(hostB, cfg)
	t.Cleanup(func() { muxA.Close(); muxB.Close() })

	return &pair{a: muxA, b: muxB}
}

func fastConfig() Config {
	return Config{MSS: 16, Timeout: 100 * time.Millisecond, RetryLimit: 0}
}

func TestConnectSendReceiveClose(t *testing.T) {
	p := newDirectPair(t, fastConfig())

	listener := p.b.Listen(9000)

	type result struct {
		conn *Connection
		err  error
	}
	connected := make(chan result, 1)
	go func() {
		c, err := p.a.Connect(addr.Endpoint{VIP: "HOST_B", Port: 9000})
		connected <- result{c, err}
	}()

	server, err := listener.Accept()
	require.NoError(t, err)

	res := <-connected
	require.NoError(t, res.err)
	client := res.conn

	// Send returns only once the peer's Receive has acked the last
	// fragment, so it runs on its own goroutine.
	sent := make(chan error, 1)
	go func() { sent <- client.Send([]byte("hello there")) }()
	got, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, "hello there", string(got))
	require.NoError(t, <-sent)

	go func() { sent <- server.Send([]byte("hi back")) }()
	got, err = client.Receive()
	require.NoError(t, err)
	require.Equal(t, "hi back", string(got))
	require.NoError(t, <-sent)

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()

	got, err = server.Receive()
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, server.Close())
	require.NoError(t, <-closeDone)
}

func TestSendFragmentsLargerThanMSS(t *testing.T) {
	p := newDirectPair(t, fastConfig())
	listener := p.b.Listen(9001)

	connected := make(chan *Connection, 1)
	go func() {
		c, err := p.a.Connect(addr.Endpoint{VIP: "HOST_B", Port: 9001})
		require.NoError(t, err)
		connected <- c
	}()
	server, err := listener.Accept()
	require.NoError(t, err)
	client := <-connected

	payload := make([]byte, 40) // MSS is 16, so this is 3 fragments
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}

	sent := make(chan error, 1)
	go func() { sent <- client.Send(payload) }()
	got, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, payload, got)
	require.NoError(t, <-sent)

	// Close waits for the peer's FIN, so both ends close concurrently.
	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()
	require.NoError(t, server.Close())
	require.NoError(t, <-closeDone)
}

// TestConnectSendReceiveCloseOverLossyChannel is spec.md §8's S3: a
// noticeably lossy and corrupting channel in both directions still
// converges to a correct exchange and a clean four-way close, given
// unbounded retries (RetryLimit 0) and a short retransmit timeout.
func TestConnectSendReceiveCloseOverLossyChannel(t *testing.T) {
	cfg := Config{MSS: 32, Timeout: 20 * time.Millisecond, RetryLimit: 0}
	noise := physical.Noise{LossProbability: 0.3, CorruptionProbability: 0.1}
	p := newDirectPairNoisy(t, cfg, noise, noise)

	listener := p.b.Listen(9010)

	type result struct {
		conn *Connection
		err  error
	}
	connected := make(chan result, 1)
	go func() {
		c, err := p.a.Connect(addr.Endpoint{VIP: "HOST_B", Port: 9010})
		connected <- result{c, err}
	}()

	server, err := listener.Accept()
	require.NoError(t, err)
	res := <-connected
	require.NoError(t, res.err)
	client := res.conn

	// Send runs on its own goroutine and is checked only after the second
	// Receive: if the ack of the last fragment is lost, that Receive is
	// what re-acks the retransmitted duplicate.
	payload := []byte("delivered despite loss and corruption")
	sent := make(chan error, 1)
	go func() { sent <- client.Send(payload) }()
	got, err := server.Receive()
	require.NoError(t, err)
	require.Equal(t, payload, got)

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()

	got, err = server.Receive()
	require.NoError(t, err)
	require.Nil(t, got)
	require.NoError(t, <-sent)

	require.NoError(t, server.Close())
	require.NoError(t, <-closeDone)
}

// TestActiveSideReAcksDuplicateSynAck is spec.md §8's S4: the active
// side's final ACK of the SYN+ACK is lost, so the passive side
// retransmits SYN+ACK after the active side has already reached
// ESTABLISHED. Before the synAckLoop fix, nothing drained synAckQueue
// past the first read inside Connect, so this duplicate would sit
// unacknowledged and a real passive-side retry loop would spin forever.
func TestActiveSideReAcksDuplicateSynAck(t *testing.T) {
	p := newDirectPair(t, fastConfig())
	listener := p.b.Listen(9011)

	connected := make(chan *Connection, 1)
	go func() {
		c, err := p.a.Connect(addr.Endpoint{VIP: "HOST_B", Port: 9011})
		require.NoError(t, err)
		connected <- c
	}()
	server, err := listener.Accept()
	require.NoError(t, err)
	client := <-connected

	// Simulate the passive side re-sending SYN+ACK because it never saw
	// our first ACK: dispatch a duplicate straight into the already-
	// established client connection, bypassing the network so the test
	// doesn't depend on real packet loss.
	dup := server.makeSegment(segment.FlagSYN|segment.FlagACK, 0, false, nil)
	client.dispatch(dup)

	select {
	case ack := <-client.ackQueue:
		t.Fatalf("unexpected ack observed on client's own ackQueue: %+v", ack)
	case <-time.After(20 * time.Millisecond):
	}

	// The re-emitted ACK travels back over the real wire to the server's
	// connection and lands in its ackQueue, exactly like the original
	// handshake ACK would have.
	select {
	case ack := <-server.ackQueue:
		require.True(t, ack.IsACK())
		require.False(t, ack.IsSYN())
	case <-time.After(500 * time.Millisecond):
		t.Fatal("server never received a re-emitted ACK for the duplicate SYN+ACK")
	}

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()
	require.NoError(t, server.Close())
	require.NoError(t, <-closeDone)
}

// TestFinWatcherReAcksDuplicateFin is spec.md §8's S5 teardown edge case:
// the closer's own ACK-of-FIN was lost, so it retransmits FIN. finWatcher
// must re-ack every reception, not just the first, or the closer stalls
// until this side happens to forget the connection some other way.
func TestFinWatcherReAcksDuplicateFin(t *testing.T) {
	p := newDirectPair(t, fastConfig())
	listener := p.b.Listen(9012)

	connected := make(chan *Connection, 1)
	go func() {
		c, err := p.a.Connect(addr.Endpoint{VIP: "HOST_B", Port: 9012})
		require.NoError(t, err)
		connected <- c
	}()
	server, err := listener.Accept()
	require.NoError(t, err)
	client := <-connected

	fin := client.makeSegment(segment.FlagFIN, client.sendSeq, false, nil)
	p.a.sendSegment(fin)

	select {
	case ack := <-client.ackQueue:
		require.Equal(t, fin.Seq, ack.Seq)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("server's finWatcher never acked the first FIN")
	}

	// Retransmit the identical FIN, as the closer would after its ack
	// went missing; the server must ack again rather than staying silent.
	p.a.sendSegment(fin)

	select {
	case ack := <-client.ackQueue:
		require.Equal(t, fin.Seq, ack.Seq)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("server's finWatcher did not re-ack the duplicate FIN")
	}

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()

	got, err := server.Receive()
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, server.Close())
	require.NoError(t, <-closeDone)
}

// TestSendReceiveRoundTripsAcrossFragmentSizes is a codec-round-trip
// property (spec.md's testable property 5) exercised at the transport
// boundary rather than the raw segment codec: whatever bytes go into
// Send come back out of Receive unchanged, for payloads that land
// exactly on, just under and just over an MSS boundary.
func TestSendReceiveRoundTripsAcrossFragmentSizes(t *testing.T) {
	p := newDirectPair(t, fastConfig()) // MSS 16
	listener := p.b.Listen(9013)

	connected := make(chan *Connection, 1)
	go func() {
		c, err := p.a.Connect(addr.Endpoint{VIP: "HOST_B", Port: 9013})
		require.NoError(t, err)
		connected <- c
	}()
	server, err := listener.Accept()
	require.NoError(t, err)
	client := <-connected

	sent := make(chan error, 1)
	for _, size := range []int{0, 1, 15, 16, 17, 33} {
		payload := make([]byte, size)
		for i := range payload {
			payload[i] = byte(i % 256)
		}
		go func() { sent <- client.Send(payload) }()
		got, err := server.Receive()
		require.NoError(t, err)
		require.Equal(t, payload, got, "size %d", size)
		require.NoError(t, <-sent)
	}

	closeDone := make(chan error, 1)
	go func() { closeDone <- client.Close() }()
	require.NoError(t, server.Close())
	require.NoError(t, <-closeDone)
}
