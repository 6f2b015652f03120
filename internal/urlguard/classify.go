package urlguard

import (
	"fmt"
	"net/netip"

	"whisperd/internal/services"
)

// Class is the safety classification of one concrete address.
type Class int

const (
	Public Class = iota
	Loopback
	LinkLocal
	Private
	Multicast
	Unspecified
	Broadcast
)

func (c Class) String() string {
	switch c {
	case Public:
		return "public"
	case Loopback:
		return "loopback"
	case LinkLocal:
		return "link-local"
	case Private:
		return "private"
	case Multicast:
		return "multicast"
	case Unspecified:
		return "unspecified"
	case Broadcast:
		return "broadcast"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// Kind maps the class to its rejection kind. Public has no kind.
func (c Class) Kind() services.Kind {
	switch c {
	case Loopback:
		return services.KindLoopback
	case LinkLocal:
		return services.KindLinkLocal
	case Private:
		return services.KindPrivate
	case Multicast:
		return services.KindMulticast
	case Unspecified:
		return services.KindUnspecified
	case Broadcast:
		return services.KindBroadcast
	default:
		return ""
	}
}

var (
	loopbackV4  = netip.MustParsePrefix("127.0.0.0/8")
	linkLocalV4 = netip.MustParsePrefix("169.254.0.0/16")
	multicastV4 = netip.MustParsePrefix("224.0.0.0/4")
	linkLocalV6 = netip.MustParsePrefix("fe80::/10")
	multicastV6 = netip.MustParsePrefix("ff00::/8")
	broadcastV4 = netip.MustParseAddr("255.255.255.255")

	nat64Prefix = netip.MustParsePrefix("64:ff9b::/96")
	sixToFour   = netip.MustParsePrefix("2002::/16")
)

// privateV4 and privateV6 hold the IANA special-purpose ranges that are not
// globally reachable and have no more specific class above.
var privateV4 = mustPrefixes(
	"0.0.0.0/8",
	"10.0.0.0/8",
	"100.64.0.0/10",
	"172.16.0.0/12",
	"192.0.0.0/24",
	"192.0.2.0/24",
	"192.88.99.0/24",
	"192.168.0.0/16",
	"198.18.0.0/15",
	"198.51.100.0/24",
	"203.0.113.0/24",
	"240.0.0.0/4",
)

var privateV6 = mustPrefixes(
	"::/96",
	"64:ff9b:1::/48",
	"100::/64",
	"2001::/23",
	"2001:db8::/32",
	"fc00::/7",
	"fec0::/10",
)

func mustPrefixes(values ...string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		out = append(out, netip.MustParsePrefix(v))
	}
	return out
}

// Classify returns the class of addr. IPv6 forms that embed an IPv4 address
// (IPv4-mapped, NAT64 well-known prefix, 6to4) are classified by the embedded
// address.
func Classify(addr netip.Addr) Class {
	addr = unwrap(addr.WithZone(""))

	switch {
	case !addr.IsValid():
		return Unspecified
	case addr.IsUnspecified():
		return Unspecified
	case addr == broadcastV4:
		return Broadcast
	}

	if addr.Is4() {
		switch {
		case loopbackV4.Contains(addr):
			return Loopback
		case linkLocalV4.Contains(addr):
			return LinkLocal
		case multicastV4.Contains(addr):
			return Multicast
		case containsAny(privateV4, addr):
			return Private
		}
		return Public
	}

	switch {
	case addr.IsLoopback():
		return Loopback
	case linkLocalV6.Contains(addr):
		return LinkLocal
	case multicastV6.Contains(addr):
		return Multicast
	case containsAny(privateV6, addr):
		return Private
	}
	return Public
}

// CheckAddr returns nil for a public address and a typed error naming the
// class otherwise.
func CheckAddr(addr netip.Addr) error {
	class := Classify(addr)
	if class == Public {
		return nil
	}
	return services.Newf(class.Kind(), "check address", "%s address not allowed: %s", class, addr.WithZone(""))
}

func unwrap(addr netip.Addr) netip.Addr {
	for addr.Is6() {
		switch {
		case addr.Is4In6():
			addr = addr.Unmap()
		case nat64Prefix.Contains(addr):
			b := addr.As16()
			addr = netip.AddrFrom4([4]byte{b[12], b[13], b[14], b[15]})
		case sixToFour.Contains(addr):
			b := addr.As16()
			addr = netip.AddrFrom4([4]byte{b[2], b[3], b[4], b[5]})
		default:
			return addr
		}
	}
	return addr
}

func containsAny(prefixes []netip.Prefix, addr netip.Addr) bool {
	for _, p := range prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
