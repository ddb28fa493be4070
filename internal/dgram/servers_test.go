package dgram

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/netif"
)

func TestNewServersSkipsMissingFamilies(t *testing.T) {
	v4only := netif.Interface{Name: "eth0", Index: 2, V4: []*net.IPNet{{IP: net.IPv4(192, 0, 2, 10).To4(), Mask: net.CIDRMask(24, 32)}}}
	dual := netif.Interface{
		Name:        "eth1",
		Index:       3,
		V4:          []*net.IPNet{{IP: net.IPv4(198, 51, 100, 10).To4(), Mask: net.CIDRMask(24, 32)}},
		V6LinkLocal: []*net.IPNet{{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}},
	}
	roles := []Role{RoleSearch, RoleNotify}

	tests := []struct {
		name     string
		protocol netif.Protocol
		want     int
	}{
		{"ipv4", netif.IPv4, 4},
		{"ipv6", netif.IPv6, 2},
		{"dual", netif.Dual, 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := NewServers([]netif.Interface{v4only, dual}, tt.protocol, roles, func(Packet) {}, Options{})
			assert.Equal(t, tt.want, set.Len())
		})
	}
}

func TestServersStartEmpty(t *testing.T) {
	set := NewServers(nil, netif.Dual, []Role{RoleSearch}, func(Packet) {}, Options{})
	assert.Error(t, set.Start())
}

func TestServersStartStop(t *testing.T) {
	set := NewServers([]netif.Interface{loopback(t)}, netif.IPv4, []Role{RoleSearch}, func(Packet) {}, Options{})
	require.NoError(t, set.Start())
	require.Equal(t, 1, set.Len())

	err := set.SendMulticast(RoleEvent, func(bool) []byte { return []byte("x") })
	assert.Error(t, err, "no event server in the set")

	set.Stop()
	assert.NoError(t, set.Wait())
}
