package ice

import (
	"fmt"
	"net"
)

// Proto is the transport protocol of a candidate. UDP is the only
// transport this agent drives; the type exists so callers and log lines
// read the same way the rest of the ICE literature does.
type Proto byte

// Supported protocols.
const (
	ProtoUDP Proto = iota
	protoUnknown
)

func (p Proto) String() string {
	switch p {
	case ProtoUDP:
		return "udp"
	default:
		return "unknown"
	}
}

// Addr is a transport address: an IP and port pair for a given protocol.
// The zero Port means "unbound" and is only ever seen on half-built
// candidates during gathering.
type Addr struct {
	IP    net.IP
	Port  int
	Proto Proto
}

// Equal reports whether a and b denote the same transport address.
func (a Addr) Equal(b Addr) bool {
	if a.Proto != b.Proto {
		return false
	}
	if a.Port != b.Port {
		return false
	}
	return a.IP.Equal(b.IP)
}

func (a Addr) String() string {
	return fmt.Sprintf("%s:%d/%s", a.IP, a.Port, a.Proto)
}

// UDPAddr returns the net.UDPAddr view of a, for use with net.PacketConn.
func (a Addr) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP, Port: a.Port}
}

func sameFamily(a, b net.IP) bool {
	return (a.To4() != nil) == (b.To4() != nil)
}

// HostAddr wraps a local interface IP with the local-preference value
// used in the candidate priority formula. Grounded in gortc/ice's
// host.go HostAddr / HostAddresses: when a host has several addresses of
// the same family, each needs a distinct local preference so their
// candidate priorities differ.
type HostAddr struct {
	IP              net.IP
	LocalPreference int
}

const singleIPAddrPreference = 65535

// IsHostIPValid reports whether ip is usable as a host candidate address.
// Ported from gortc/ice's host.go, which follows RFC 8445 Section 5.1.1.1.
func IsHostIPValid(ip net.IP, ipv6Only bool) bool {
	v4 := ip.To4() != nil
	v6 := !v4
	if v6 && ip.To16() == nil {
		return false
	}
	if v4 && ipv6Only {
		return false
	}
	if ip.IsLoopback() {
		return false
	}
	if siteLocalIPv6.Contains(ip) {
		return false
	}
	if ip.IsLinkLocalUnicast() && v6 {
		return false
	}
	return true
}

var siteLocalIPv6 = mustParseNet("fec0::/10")

func mustParseNet(cidr string) *net.IPNet {
	_, n, err := net.ParseCIDR(cidr)
	if err != nil {
		panic(err)
	}
	return n
}

func isV6Only(addrs []net.IP) bool {
	for _, ip := range addrs {
		if ip.To4() != nil {
			return false
		}
	}
	return true
}

func filterValid(gathered []net.IP) []net.IP {
	valid := make([]net.IP, 0, len(gathered))
	v6Only := isV6Only(gathered)
	for _, ip := range gathered {
		if IsHostIPValid(ip, v6Only) {
			valid = append(valid, ip)
		}
	}
	return valid
}

// HostAddresses derives usable host addresses with calculated local
// preference from the raw interface IPs gathered from the OS. It follows
// gortc/ice's host.go HostAddresses / RFC 8421 dual-stack preference
// assignment, supplemented (per SPEC_FULL.md §10.3, grounded in
// original_source/agent/agent.c's nice_interfaces_* helpers) by skipping
// interfaces that are down at the net.Interface level — handled by the
// caller (AddressSet.Discover) before this function ever sees the IPs.
func HostAddresses(gathered []net.IP) []HostAddr {
	valid := filterValid(gathered)
	if len(valid) == 0 {
		return nil
	}
	if len(valid) == 1 {
		return []HostAddr{{IP: valid[0], LocalPreference: singleIPAddrPreference}}
	}
	var v4, v6 []net.IP
	for _, ip := range valid {
		if ip.To4() == nil {
			v6 = append(v6, ip)
		} else {
			v4 = append(v4, ip)
		}
	}
	if len(v4) == 0 || len(v6) == 0 {
		hostAddrs := make([]HostAddr, 0, len(valid))
		for i, ip := range valid {
			hostAddrs = append(hostAddrs, HostAddr{IP: ip, LocalPreference: len(valid) - i})
		}
		return hostAddrs
	}
	return processDualStack(valid, v4, v6)
}

// processDualStack interleaves v4/v6 addresses by preference as RFC 8421
// recommends, proportional to how many of each family are present.
// Ported from gortc/ice's host.go.
func processDualStack(all, v4, v6 []net.IP) []HostAddr {
	var v6InARow int
	nHi := (len(v6) + len(v4)) / len(v4)
	hostAddrs := make([]HostAddr, 0, len(all))
	for i := 0; i < len(all); i++ {
		useV6 := true
		if v6InARow >= nHi {
			v6InARow = 0
			useV6 = false
		}
		pref := len(all) - i
		if useV6 && len(v6) > 0 {
			v6InARow++
			hostAddrs = append(hostAddrs, HostAddr{IP: v6[0], LocalPreference: pref})
			v6 = v6[1:]
		} else if len(v4) > 0 {
			hostAddrs = append(hostAddrs, HostAddr{IP: v4[0], LocalPreference: pref})
			v4 = v4[1:]
		}
	}
	return hostAddrs
}

// AddressSet discovers and holds the set of local interface addresses
// an agent may bind host candidates to. Grounded in gortc/ice's gather.go
// defaultGatherer, generalized from a package-level singleton to an
// instance so tests can substitute a fixed address list.
type AddressSet struct {
	Interfaces func() ([]net.Interface, error)
}

// NewAddressSet returns an AddressSet backed by net.Interfaces.
func NewAddressSet() *AddressSet {
	return &AddressSet{Interfaces: net.Interfaces}
}

// Discover enumerates local interface IPs, skipping interfaces that are
// administratively down (SPEC_FULL.md §10.3). Loopback addresses are
// still returned here; HostAddresses drops them via IsHostIPValid.
func (s *AddressSet) Discover() ([]net.IP, error) {
	ifaces, err := s.Interfaces()
	if err != nil {
		return nil, err
	}
	var ips []net.IP
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ip, _, err := net.ParseCIDR(a.String())
			if err != nil {
				continue
			}
			ips = append(ips, ip)
		}
	}
	return ips, nil
}
