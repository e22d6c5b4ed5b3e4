// Package addr defines the address value types shared by every layer of
// the stack: physical sockets, link MACs, network VIPs and transport ports.
package addr

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Port is a transport-layer port number, valid in the range 1..65535.
type Port uint16

// NewPort validates v and returns it as a Port.
func NewPort(v int) (Port, error) {
	if v < 1 || v > 65535 {
		return 0, fmt.Errorf("addr: port %d out of range 1..65535", v)
	}
	return Port(v), nil
}

func (p Port) String() string { return strconv.Itoa(int(p)) }

// IP is a dotted-quad IPv4 address used by the physical layer.
type IP string

var octetRe = regexp.MustCompile(`^(0|[1-9][0-9]{0,2})$`)

// NewIP validates s as a dotted-quad address with no leading zeros.
func NewIP(s string) (IP, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return "", fmt.Errorf("addr: %q is not a dotted-quad IP", s)
	}
	for _, p := range parts {
		if !octetRe.MatchString(p) {
			return "", fmt.Errorf("addr: %q is not a dotted-quad IP", s)
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 255 {
			return "", fmt.Errorf("addr: %q is not a dotted-quad IP", s)
		}
	}
	return IP(s), nil
}

func (ip IP) String() string { return string(ip) }

// VIP is a symbolic virtual IP label, e.g. "HOST_A". It carries no format
// constraint beyond being non-empty.
type VIP string

// NewVIP validates s as a non-empty label.
func NewVIP(s string) (VIP, error) {
	if s == "" {
		return "", fmt.Errorf("addr: empty VIP label")
	}
	return VIP(s), nil
}

func (v VIP) String() string { return string(v) }

// MAC is a six-octet colon-hex MAC address.
type MAC string

var macRe = regexp.MustCompile(`^([0-9A-Fa-f]{2}:){5}[0-9A-Fa-f]{2}$`)

// NewMAC validates s, normalizing dashes to colons and case to upper.
func NewMAC(s string) (MAC, error) {
	norm := strings.ToUpper(strings.ReplaceAll(s, "-", ":"))
	if !macRe.MatchString(norm) {
		return "", fmt.Errorf("addr: %q is not a valid MAC address", s)
	}
	return MAC(norm), nil
}

func (m MAC) String() string { return string(m) }

// Socket identifies a physical-layer endpoint: an IP and a UDP port.
type Socket struct {
	IP   IP
	Port Port
}

func (s Socket) String() string { return fmt.Sprintf("%s:%s", s.IP, s.Port) }

// Endpoint identifies a network/transport-layer endpoint: a VIP and a port.
type Endpoint struct {
	VIP  VIP
	Port Port
}

func (e Endpoint) String() string { return fmt.Sprintf("%s:%s", e.VIP, e.Port) }
