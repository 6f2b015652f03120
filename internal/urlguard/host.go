package urlguard

import (
	"errors"
	"net/netip"
	"strconv"
	"strings"

	"golang.org/x/net/idna"
)

var errNotIPv4 = errors.New("not a numeric IPv4 host")

// parseHost turns a URL hostname into either a literal address or a
// normalized ASCII domain name. bracketed reports an [IPv6] authority.
func parseHost(hostname string, bracketed bool) (netip.Addr, string, error) {
	if bracketed {
		addr, err := netip.ParseAddr(hostname)
		if err != nil || !addr.Is6() {
			return netip.Addr{}, "", errors.New("invalid IPv6 literal")
		}
		return addr, "", nil
	}

	host := strings.TrimSuffix(strings.ToLower(hostname), ".")
	if host == "" {
		return netip.Addr{}, "", errors.New("missing hostname")
	}
	if endsInNumber(host) {
		addr, err := parseIPv4(host)
		if err != nil {
			return netip.Addr{}, "", err
		}
		return addr, "", nil
	}
	if strings.Contains(host, ":") {
		return netip.Addr{}, "", errors.New("unbracketed IPv6 literal")
	}

	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return netip.Addr{}, "", err
	}
	ascii = strings.TrimSuffix(ascii, ".")
	// the IDNA mapping can itself produce a numeric host (fullwidth digits)
	if endsInNumber(ascii) {
		addr, err := parseIPv4(ascii)
		if err != nil {
			return netip.Addr{}, "", err
		}
		return addr, "", nil
	}
	return netip.Addr{}, ascii, nil
}

// endsInNumber reports whether the final label is numeric, in which case the
// host must be an IPv4 address in one of the inet_aton spellings.
func endsInNumber(host string) bool {
	label := host
	if idx := strings.LastIndexByte(host, '.'); idx >= 0 {
		label = host[idx+1:]
	}
	if label == "" {
		return false
	}
	if isDigits(label) {
		return true
	}
	if len(label) >= 2 && label[0] == '0' && (label[1] == 'x' || label[1] == 'X') {
		return isHexDigits(label[2:])
	}
	return false
}

// parseIPv4 decodes dotted IPv4 the way inet_aton does: one to four parts,
// each decimal, 0x-prefixed hex or 0-prefixed octal, with the last part
// filling all remaining bytes.
func parseIPv4(host string) (netip.Addr, error) {
	parts := strings.Split(host, ".")
	if len(parts) > 4 {
		return netip.Addr{}, errNotIPv4
	}
	values := make([]uint64, len(parts))
	for i, part := range parts {
		v, err := parseIPv4Part(part)
		if err != nil {
			return netip.Addr{}, err
		}
		values[i] = v
	}

	last := len(values) - 1
	for _, v := range values[:last] {
		if v > 0xff {
			return netip.Addr{}, errNotIPv4
		}
	}
	remaining := uint(4 - last)
	if values[last] >= 1<<(8*remaining) {
		return netip.Addr{}, errNotIPv4
	}

	var ip uint32
	for i, v := range values[:last] {
		ip |= uint32(v) << (8 * uint(3-i))
	}
	ip |= uint32(values[last])
	return netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}), nil
}

func parseIPv4Part(part string) (uint64, error) {
	if part == "" {
		return 0, errNotIPv4
	}
	base := 10
	digits := part
	switch {
	case len(part) >= 2 && part[0] == '0' && (part[1] == 'x' || part[1] == 'X'):
		base = 16
		digits = part[2:]
		if digits == "" {
			return 0, nil
		}
	case len(part) > 1 && part[0] == '0':
		base = 8
		digits = part[1:]
	}
	v, err := strconv.ParseUint(digits, base, 64)
	if err != nil || v > 0xffffffff {
		return 0, errNotIPv4
	}
	return v, nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return s != ""
}

func isHexDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// normalizeDomain lowercases an allowlist entry and converts it to ASCII.
func normalizeDomain(domain string) string {
	d := strings.Trim(strings.ToLower(strings.TrimSpace(domain)), ".")
	if d == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(d); err == nil {
		d = ascii
	}
	return d
}
