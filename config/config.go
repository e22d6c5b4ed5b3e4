// Package config carries process configuration and the static topology
// tables (ARP, routing, node sockets), loaded from YAML the way
// test/droptestgw/dropgw.go loads its PcpCoreConfig/ConnectionConfig, and
// falling back to the built-in four-node topology of SPEC_FULL.md §7
// (grounded on original_source's factory.py) when no file is given.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/netlab-course/pseudonet/addr"
	"github.com/netlab-course/pseudonet/link"
	"github.com/netlab-course/pseudonet/netlayer"
	"github.com/netlab-course/pseudonet/physical"
	"github.com/netlab-course/pseudonet/transport"
)

// Node describes one topology participant's static identity. Port is the
// physical-layer UDP socket the node's simulated network card binds to;
// TransportPort is the separate transport-layer port (Alice 10000, Bob
// 10001, Server 10002 — none of them the physical ports 20000-20003).
// The server listens on its TransportPort and the clients dial it; a
// client's own local port is drawn from Multiplexer.Connect's ephemeral
// range, so Alice's and Bob's TransportPort values are not used.
type Node struct {
	Name          string    `yaml:"name"`
	VIP           addr.VIP  `yaml:"vip"`
	MAC           addr.MAC  `yaml:"mac"`
	IP            addr.IP   `yaml:"ip"`
	Port          addr.Port `yaml:"port"`
	TransportPort addr.Port `yaml:"transport_port"`
}

func (n Node) Socket() addr.Socket { return addr.Socket{IP: n.IP, Port: n.Port} }

// Topology is the static ARP/routing configuration for the whole network,
// data rather than behaviour per the teacher's constructor-injected-table
// idiom (lib/pcpcore.go's NewPcpCore takes its config as an argument).
type Topology struct {
	Alice  Node `yaml:"alice"`
	Bob    Node `yaml:"bob"`
	Server Node `yaml:"server"`
	Router Node `yaml:"router"`
}

// AppConfig is the full process configuration loaded from YAML.
type AppConfig struct {
	Topology Topology `yaml:"topology"`

	MSS               int           `yaml:"mss"`
	RetransmitTimeout time.Duration `yaml:"retransmit_timeout"`
	RetryLimit        int           `yaml:"retry_limit"`

	LossProbability       float64       `yaml:"loss_probability"`
	CorruptionProbability float64       `yaml:"corruption_probability"`
	MinLatency            time.Duration `yaml:"min_latency"`
	MaxLatency            time.Duration `yaml:"max_latency"`

	DownloadsDir string `yaml:"downloads_dir"`
}

// Default is the built-in four-node topology (Alice, Bob, Server and the
// router) matching
// original_source/factory.py's literal addresses, used when no --config
// file is supplied.
func Default() AppConfig {
	mustMAC := func(s string) addr.MAC { m, _ := addr.NewMAC(s); return m }
	mustIP := func(s string) addr.IP { ip, _ := addr.NewIP(s); return ip }

	return AppConfig{
		Topology: Topology{
			Alice: Node{Name: "Alice", VIP: "HOST_A", MAC: mustMAC("AA:AA:AA:AA:AA:AA"), IP: mustIP("127.0.0.1"), Port: 20001, TransportPort: 10000},
			Bob:   Node{Name: "Bob", VIP: "HOST_B", MAC: mustMAC("BB:BB:BB:BB:BB:BB"), IP: mustIP("127.0.0.1"), Port: 20002, TransportPort: 10001},
			Server: Node{
				Name: "Servidor", VIP: "HOST_S", MAC: mustMAC("CC:CC:CC:CC:CC:CC"), IP: mustIP("127.0.0.1"), Port: 20003, TransportPort: 10002,
			},
			Router: Node{Name: "Roteador", VIP: "HOST_R", MAC: mustMAC("DD:DD:DD:DD:DD:DD"), IP: mustIP("127.0.0.1"), Port: 20000},
		},
		MSS:               4096,
		RetransmitTimeout: 1500 * time.Millisecond,
		RetryLimit:        0,
		LossProbability:   0,
		DownloadsDir:      "downloads",
	}
}

// LoadConfig reads and parses a YAML config file, matching
// test/droptestgw/dropgw.go's config.LoadConfig pattern. Unset numeric
// fields fall back to Default()'s values.
func LoadConfig(path string) (AppConfig, error) {
	cfg := Default()
	raw, err := os.ReadFile(path)
	if err != nil {
		return AppConfig{}, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// TransportConfig maps AppConfig's tuning knobs onto transport.Config.
func (c AppConfig) TransportConfig() transport.Config {
	return transport.Config{MSS: c.MSS, Timeout: c.RetransmitTimeout, RetryLimit: c.RetryLimit}
}

// Noise maps AppConfig's impairment knobs onto physical.Noise.
func (c AppConfig) Noise() physical.Noise {
	return physical.Noise{
		LossProbability:       c.LossProbability,
		CorruptionProbability: c.CorruptionProbability,
		MinLatency:            c.MinLatency,
		MaxLatency:            c.MaxLatency,
	}
}

// arpTable builds the ARP table every node shares: everyone's MAC resolves
// to their bound physical socket. In this topology every node is one
// physical hop from every other (loopback UDP stands in for the LAN).
func (c AppConfig) arpTable() link.ARPTable {
	t := c.Topology
	return link.ARPTable{
		t.Alice.MAC:  t.Alice.Socket(),
		t.Bob.MAC:    t.Bob.Socket(),
		t.Server.MAC: t.Server.Socket(),
		t.Router.MAC: t.Router.Socket(),
	}
}

// routesViaRouter builds a routing table that sends everything except
// selfVIP to the router's MAC, matching S1/S2's scenario of Alice/Bob/
// Server all reaching each other only via the router.
func (c AppConfig) routesViaRouter(selfVIP addr.VIP) netlayer.RoutingTable {
	t := c.Topology
	rt := netlayer.RoutingTable{}
	for _, n := range []Node{t.Alice, t.Bob, t.Server} {
		if n.VIP != selfVIP {
			rt[n.VIP] = t.Router.MAC
		}
	}
	return rt
}

// RouterRoutes builds the router's direct-adjacency routing table: it can
// reach every host directly, one hop from itself.
func (c AppConfig) RouterRoutes() netlayer.RoutingTable {
	t := c.Topology
	return netlayer.RoutingTable{
		t.Alice.VIP:  t.Alice.MAC,
		t.Bob.VIP:    t.Bob.MAC,
		t.Server.VIP: t.Server.MAC,
	}
}

// BuildHost wires up the physical/link/network layers for a non-router
// node and returns a ready netlayer.Host.
func (c AppConfig) BuildHost(node Node) (*netlayer.Host, *physical.Channel, error) {
	phys, err := physical.Listen(node.Socket(), c.Noise())
	if err != nil {
		return nil, nil, err
	}
	l := link.New(node.MAC, c.arpTable(), phys)
	host := netlayer.NewHost(node.VIP, c.routesViaRouter(node.VIP), l)
	return host, phys, nil
}

// BuildRouter wires up the physical/link/network layers for the router
// node and returns a ready netlayer.Router.
func (c AppConfig) BuildRouter() (*netlayer.Router, *physical.Channel, error) {
	node := c.Topology.Router
	phys, err := physical.Listen(node.Socket(), c.Noise())
	if err != nil {
		return nil, nil, err
	}
	l := link.New(node.MAC, c.arpTable(), phys)
	router := netlayer.NewRouter(c.RouterRoutes(), l)
	return router, phys, nil
}
