package chatapp

import (
	"testing"
	"time"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/link"
	"github.com/netlab-course/pseudonet/netlayer"
	"github.com/netlab-course/pseudonet/physical"
	"github.com/netlab-course/pseudonet/transport"
	"github.com/stretchr/testify/require"
)

// buildMux wires a Multiplexer straight onto a loopback UDP socket paired
// with the other participants' ARP/routing entries, mirroring
// transport_test.go's harness for a three-node star (two clients, one
// server) with no router hop.
func buildMux(t *testing.T, vip addr.VIP, mac addr.MAC, port addr.Port, peers map[addr.VIP]struct {
	mac  addr.MAC
	port addr.Port
}) *transport.Multiplexer {
	t.Helper()
	ip, _ := addr.NewIP("127.0.0.1")
	phys, err := physical.Listen(addr.Socket{IP: ip, Port: port}, physical.Noise{})
	require.NoError(t, err)
	t.Cleanup(func() { phys.Close() })

	arp := link.ARPTable{}
	routes := netlayer.RoutingTable{}
	for peerVIP, p := range peers {
		arp[p.mac] = addr.Socket{IP: ip, Port: p.port}
		routes[peerVIP] = p.mac
	}

	l := link.New(mac, arp, phys)
	host := netlayer.NewHost(vip, routes, l)
	cfg := transport.Config{MSS: 512, Timeout: 100 * time.Millisecond, RetryLimit: 0}
	mux := transport.NewMultiplexer(host, cfg)
	t.Cleanup(mux.Close)
	return mux
}

func TestServerRoutesMessageBetweenTwoClients(t *testing.T) {
	aliceMAC, _ := addr.NewMAC("AA:AA:AA:AA:AA:AA")
	bobMAC, _ := addr.NewMAC("BB:BB:BB:BB:BB:BB")
	serverMAC, _ := addr.NewMAC("CC:CC:CC:CC:CC:CC")
	alicePort, _ := addr.NewPort(23001)
	bobPort, _ := addr.NewPort(23002)
	serverPort, _ := addr.NewPort(23003)

	type peer = struct {
		mac  addr.MAC
		port addr.Port
	}

	aliceMux := buildMux(t, "HOST_A", aliceMAC, alicePort, map[addr.VIP]peer{"HOST_S": {serverMAC, serverPort}})
	bobMux := buildMux(t, "HOST_B", bobMAC, bobPort, map[addr.VIP]peer{"HOST_S": {serverMAC, serverPort}})
	serverMux := buildMux(t, "HOST_S", serverMAC, serverPort, map[addr.VIP]peer{
		"HOST_A": {aliceMAC, alicePort},
		"HOST_B": {bobMAC, bobPort},
	})

	listener := serverMux.Listen(9000)
	names := map[addr.VIP]string{"HOST_A": "Alice", "HOST_B": "Bob"}
	srv := NewServer(listener, func(v addr.VIP) string { return names[v] })
	go srv.Run(func(c *transport.Connection) addr.VIP { return c.Remote().VIP })

	aliceConn, err := aliceMux.Connect(addr.Endpoint{VIP: "HOST_S", Port: 9000})
	require.NoError(t, err)
	bobConn, err := bobMux.Connect(addr.Endpoint{VIP: "HOST_S", Port: 9000})
	require.NoError(t, err)

	// Both clients receive a userlist announcement on connect; drain it.
	_, err = aliceConn.Receive()
	require.NoError(t, err)
	_, err = bobConn.Receive()
	require.NoError(t, err)
	// The server accepts clients one at a time, so Alice, accepted first,
	// is then sent Bob's join notice; drain it, since the server's Send
	// blocks until it is received. Bob was not yet listed when Alice
	// joined, but the loop below still skips any non-text message.
	_, err = aliceConn.Receive()
	require.NoError(t, err)

	raw, err := Encode(NewText("Alice", "Bob", "hi bob", 0))
	require.NoError(t, err)
	require.NoError(t, aliceConn.Send(raw))

	var got Message
	for i := 0; i < 3; i++ {
		raw, err = bobConn.Receive()
		require.NoError(t, err)
		got, err = Decode(raw)
		require.NoError(t, err)
		if got.Type == TypeText {
			break
		}
	}
	require.Equal(t, TypeText, got.Type)
	require.Equal(t, "hi bob", got.Content)

	require.NoError(t, aliceConn.Close())
	// Alice leaving is broadcast to Bob; drain that notice so the server's
	// handler for Bob is free to complete Bob's close.
	_, err = bobConn.Receive()
	require.NoError(t, err)
	require.NoError(t, bobConn.Close())
}
