// Package physical implements the lossy, corrupting, delaying datagram
// substrate every higher layer runs over, grounded on the teacher's
// net.PacketConn-based connections (lib/connection.go, lib/client/pconn.go)
// and on test/droptestgw/dropgw.go's copyAndDrop loss-injection idiom.
package physical

import (
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/netlab-course/pseudonet/addr"
)

const bufSize = 65507

// Noise configures the impairments a Channel injects on send.
type Noise struct {
	LossProbability       float64 // 0..1, chance a datagram is silently dropped
	CorruptionProbability float64 // 0..1, chance a delivered datagram has a bit flipped
	MinLatency            time.Duration
	MaxLatency            time.Duration
}

// Channel is one node's binding onto the simulated physical network: a
// UDP socket on loopback plus the noise profile applied to outgoing
// datagrams, matching original_source's udp_simulated.py in shape.
type Channel struct {
	conn  *net.UDPConn
	noise Noise
	rng   *rand.Rand
}

// Listen binds a Channel on the given local socket.
func Listen(local addr.Socket, noise Noise) (*Channel, error) {
	udpAddr, err := net.ResolveUDPAddr("udp4", local.String())
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Channel{
		conn:  conn,
		noise: noise,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// LocalAddr returns the bound UDP address.
func (c *Channel) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// SendTo transmits data to dst, applying the channel's loss, corruption and
// latency profile. A dropped datagram returns nil (send_over_noisy_channel
// in original_source has the same silent-success-on-drop contract; the
// sender cannot distinguish a lost datagram from a delivered one).
func (c *Channel) SendTo(dst addr.Socket, data []byte) error {
	if c.noise.LossProbability > 0 && c.rng.Float64() < c.noise.LossProbability {
		log.Printf("physical: dropped datagram to %s (simulated loss)", dst)
		return nil
	}

	out := data
	if c.noise.CorruptionProbability > 0 && c.rng.Float64() < c.noise.CorruptionProbability && len(data) > 0 {
		out = make([]byte, len(data))
		copy(out, data)
		idx := c.rng.Intn(len(out))
		out[idx] ^= 1 << uint(c.rng.Intn(8))
		log.Printf("physical: corrupted datagram to %s (simulated bit flip)", dst)
	}

	if c.noise.MaxLatency > 0 {
		lat := c.noise.MinLatency
		if c.noise.MaxLatency > c.noise.MinLatency {
			lat += time.Duration(c.rng.Int63n(int64(c.noise.MaxLatency - c.noise.MinLatency)))
		}
		time.Sleep(lat)
	}

	udpAddr, err := net.ResolveUDPAddr("udp4", dst.String())
	if err != nil {
		return err
	}
	_, err = c.conn.WriteTo(out, udpAddr)
	return err
}

// Receive blocks for the next datagram and returns its payload and the
// sender's socket.
func (c *Channel) Receive() ([]byte, addr.Socket, error) {
	buf := make([]byte, bufSize)
	n, from, err := c.conn.ReadFrom(buf)
	if err != nil {
		return nil, addr.Socket{}, err
	}
	udpFrom, ok := from.(*net.UDPAddr)
	var sock addr.Socket
	if ok {
		ip, ipErr := addr.NewIP(udpFrom.IP.String())
		port, portErr := addr.NewPort(udpFrom.Port)
		if ipErr == nil && portErr == nil {
			sock = addr.Socket{IP: ip, Port: port}
		}
	}
	return buf[:n], sock, nil
}

// Close releases the underlying socket.
func (c *Channel) Close() error { return c.conn.Close() }
