package ssdp

import (
	"net"
	"time"
)

// Multicast groups and ports
const (
	Port      = 1900
	EventPort = 7900
)

var (
	// GroupV4 is the IPv4 SSDP multicast group.
	GroupV4 = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 250), Port: Port}
	// GroupV6 is the IPv6 link-local SSDP multicast group.
	GroupV6 = &net.UDPAddr{IP: net.ParseIP("ff02::c"), Port: Port}
	// EventGroupV4 carries multicast GENA events.
	EventGroupV4 = &net.UDPAddr{IP: net.IPv4(239, 255, 255, 246), Port: EventPort}
	// EventGroupV6 carries multicast GENA events over IPv6.
	EventGroupV6 = &net.UDPAddr{IP: net.ParseIP("ff02::130"), Port: EventPort}
)

// Search targets
const (
	All        = "ssdp:all"
	RootDevice = "upnp:rootdevice"
)

// NTS values
const (
	NTSAlive  = "ssdp:alive"
	NTSByeBye = "ssdp:byebye"
	NTSUpdate = "ssdp:update"
	Discover  = `"ssdp:discover"`
)

// Methods
const (
	MethodSearch = "M-SEARCH"
	MethodNotify = "NOTIFY"
)

// DefaultMaxAge is used when Cache-Control carries no usable max-age.
const DefaultMaxAge = 1800

// Forever is the expiry of pinned messages and devices.
var Forever = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Group returns the SSDP group for the address family.
func Group(v6 bool) *net.UDPAddr {
	if v6 {
		return GroupV6
	}
	return GroupV4
}

// EventGroup returns the multicast event group for the address family.
func EventGroup(v6 bool) *net.UDPAddr {
	if v6 {
		return EventGroupV6
	}
	return EventGroupV4
}

// hostHeader formats a group as a HOST header value.
func hostHeader(addr *net.UDPAddr) string {
	if addr.IP.To4() == nil {
		// Literal spelling from the UPnP device architecture.
		if addr.IP.Equal(GroupV6.IP) {
			return "[FF02::C]:1900"
		}
	}
	return addr.String()
}
