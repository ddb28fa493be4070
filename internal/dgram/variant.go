package dgram

import (
	"fmt"
	"net"

	"github.com/muurk/upnpcp/internal/ssdp"
)

// Role selects what a datagram server is for.
type Role int

const (
	// RoleSearch sends M-SEARCH from an ephemeral port and receives the
	// unicast responses. It joins no group.
	RoleSearch Role = iota
	// RoleNotify listens on 1900 in the SSDP group for advertisements.
	RoleNotify
	// RoleEvent listens on 7900 in the GENA multicast event group.
	RoleEvent
)

func (r Role) String() string {
	switch r {
	case RoleSearch:
		return "search"
	case RoleNotify:
		return "notify"
	case RoleEvent:
		return "event"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Variant is the configuration that distinguishes otherwise identical
// servers: the role and the address family.
type Variant struct {
	Role Role
	V6   bool
}

// Group returns the multicast group the variant sends to and, for
// listening roles, joins.
func (v Variant) Group() *net.UDPAddr {
	if v.Role == RoleEvent {
		return ssdp.EventGroup(v.V6)
	}
	return ssdp.Group(v.V6)
}

// Port returns the local port to bind. Zero picks an ephemeral port.
func (v Variant) Port() int {
	switch v.Role {
	case RoleNotify:
		return ssdp.Port
	case RoleEvent:
		return ssdp.EventPort
	default:
		return 0
	}
}

// Joins reports whether the server joins its group.
func (v Variant) Joins() bool { return v.Role != RoleSearch }

// Network returns "udp4" or "udp6".
func (v Variant) Network() string {
	if v.V6 {
		return "udp6"
	}
	return "udp4"
}

func (v Variant) String() string {
	family := "v4"
	if v.V6 {
		family = "v6"
	}
	return v.Role.String() + "/" + family
}
