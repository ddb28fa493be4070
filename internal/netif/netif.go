// Package netif enumerates the network interfaces SSDP runs on.
package netif

import (
	"fmt"
	"net"
	"strings"
)

// Protocol selects the address families used for discovery.
type Protocol int

const (
	IPv4 Protocol = iota
	IPv6
	Dual
)

// ParseProtocol accepts "ipv4", "ipv6" or "dual".
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ipv4", "v4", "":
		return IPv4, nil
	case "ipv6", "v6":
		return IPv6, nil
	case "dual", "both":
		return Dual, nil
	default:
		return IPv4, fmt.Errorf("unknown IP protocol %q", s)
	}
}

func (p Protocol) String() string {
	switch p {
	case IPv4:
		return "ipv4"
	case IPv6:
		return "ipv6"
	case Dual:
		return "dual"
	default:
		return fmt.Sprintf("Protocol(%d)", int(p))
	}
}

// AllowsV4 reports whether IPv4 sockets should be opened.
func (p Protocol) AllowsV4() bool { return p == IPv4 || p == Dual }

// AllowsV6 reports whether IPv6 sockets should be opened.
func (p Protocol) AllowsV6() bool { return p == IPv6 || p == Dual }

// Interface is an up, multicast-capable interface with the addresses SSDP
// can use on it.
type Interface struct {
	Name         string
	Index        int
	HardwareAddr net.HardwareAddr
	V4           []*net.IPNet
	V6LinkLocal  []*net.IPNet
}

// HasFamily reports whether the interface has an address of the family.
func (i Interface) HasFamily(v6 bool) bool {
	if v6 {
		return len(i.V6LinkLocal) > 0
	}
	return len(i.V4) > 0
}

// Addr returns the first address of the family, or nil.
func (i Interface) Addr(v6 bool) *net.IPNet {
	if v6 {
		if len(i.V6LinkLocal) > 0 {
			return i.V6LinkLocal[0]
		}
		return nil
	}
	if len(i.V4) > 0 {
		return i.V4[0]
	}
	return nil
}

// Zone returns the IPv6 zone identifier of the interface.
func (i Interface) Zone() string { return i.Name }

// Net returns the stdlib interface for socket options.
func (i Interface) Net() *net.Interface {
	return &net.Interface{Index: i.Index, Name: i.Name, HardwareAddr: i.HardwareAddr, Flags: net.FlagUp | net.FlagMulticast}
}

func (i Interface) String() string {
	return fmt.Sprintf("%s(#%d)", i.Name, i.Index)
}

// Options restricts List.
type Options struct {
	Names           []string // Only these interfaces when non-empty
	IncludeLoopback bool
}

// List returns the usable interfaces in system order.
func List(opts Options) ([]Interface, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("failed to list interfaces: %w", err)
	}

	var out []Interface
	for _, ni := range ifs {
		if !usable(ni, opts) {
			continue
		}
		addrs, err := ni.Addrs()
		if err != nil {
			continue
		}
		ifc := fromAddrs(ni, addrs)
		if ifc.HasFamily(false) || ifc.HasFamily(true) {
			out = append(out, ifc)
		}
	}

	if len(opts.Names) > 0 && len(out) == 0 {
		return nil, fmt.Errorf("none of the interfaces %v is up and multicast capable", opts.Names)
	}
	return out, nil
}

func usable(ni net.Interface, opts Options) bool {
	if ni.Flags&net.FlagUp == 0 || ni.Flags&net.FlagMulticast == 0 {
		return false
	}
	if ni.Flags&net.FlagLoopback != 0 && !opts.IncludeLoopback {
		return false
	}
	if len(opts.Names) == 0 {
		return true
	}
	for _, name := range opts.Names {
		if name == ni.Name {
			return true
		}
	}
	return false
}

func fromAddrs(ni net.Interface, addrs []net.Addr) Interface {
	ifc := Interface{Name: ni.Name, Index: ni.Index, HardwareAddr: ni.HardwareAddr}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil {
			ifc.V4 = append(ifc.V4, &net.IPNet{IP: ip4, Mask: ipn.Mask})
			continue
		}
		if ipn.IP.IsLinkLocalUnicast() {
			ifc.V6LinkLocal = append(ifc.V6LinkLocal, ipn)
		}
	}
	return ifc
}
