package ssdp

import (
	"context"
	"net"
	"net/url"
	"strings"
)

// Resolver resolves Location host names. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// HasInvalidLocation reports whether Location is missing, is not an http
// URL, or names a host that does not resolve to the datagram source.
// ByeBye and pinned messages are never invalid.
func (m *Message) HasInvalidLocation(ctx context.Context, resolver Resolver) bool {
	if m.IsByeBye() || m.IsPinned() {
		return false
	}
	if m.Location == "" {
		return true
	}
	u, err := url.Parse(m.Location)
	if err != nil || !strings.EqualFold(u.Scheme, "http") || u.Hostname() == "" {
		return true
	}

	host := u.Hostname()
	if ip := net.ParseIP(stripZone(host)); ip != nil {
		return !ip.Equal(m.Source.IP)
	}

	if resolver == nil {
		resolver = net.DefaultResolver
	}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return true
	}
	for _, a := range addrs {
		if a.IP.Equal(m.Source.IP) {
			return false
		}
	}
	return true
}

func stripZone(host string) string {
	if i := strings.IndexByte(host, '%'); i >= 0 {
		return host[:i]
	}
	return host
}

// InSameSegment reports whether an IPv4 source lies in the subnet of the
// receiving interface. IPv6 sources, pinned messages and messages without a
// known local address are always accepted.
func (m *Message) InSameSegment() bool {
	if m.Source == nil || m.Local == nil {
		return true
	}
	src := m.Source.IP.To4()
	local := m.Local.IP.To4()
	if src == nil || local == nil {
		return true
	}
	mask := m.Local.Mask
	if len(mask) == net.IPv6len {
		mask = mask[12:]
	}
	return src.Mask(mask).Equal(local.Mask(mask))
}

// MatchesFamily reports whether the source family matches a socket bound
// for IPv6 (v6 true) or IPv4.
func (m *Message) MatchesFamily(v6 bool) bool {
	if m.Source == nil {
		return true
	}
	return m.IsIPv6() == v6
}

// vendorQuirk identifies devices whose advertisements must be ignored,
// either by a header they always send or by a SERVER substring. Sony
// "Telepathy" boxes advertise services whose description fetches never
// complete.
type vendorQuirk struct {
	header string // present header, matched case-insensitively
	server string // lower-case SERVER substring
}

var vendorQuirks = []vendorQuirk{
	{header: "X-TelepathyAddress.sony.com"},
	{server: "telepathy"},
}

// HasVendorQuirk reports a device on the fixed quirk list.
func (m *Message) HasVendorQuirk() bool {
	server := strings.ToLower(m.Server())
	for _, q := range vendorQuirks {
		if q.header != "" {
			if _, ok := m.HTTP.Header.Lookup(q.header); ok {
				return true
			}
		}
		if q.server != "" && strings.Contains(server, q.server) {
			return true
		}
	}
	return false
}
