package netif

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProtocol(t *testing.T) {
	tests := []struct {
		in      string
		want    Protocol
		wantErr bool
	}{
		{"ipv4", IPv4, false},
		{"IPv6", IPv6, false},
		{"dual", Dual, false},
		{"", IPv4, false},
		{"appletalk", IPv4, true},
	}
	for _, tt := range tests {
		got, err := ParseProtocol(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestProtocolFamilies(t *testing.T) {
	assert.True(t, IPv4.AllowsV4())
	assert.False(t, IPv4.AllowsV6())
	assert.True(t, Dual.AllowsV4())
	assert.True(t, Dual.AllowsV6())
	assert.False(t, IPv6.AllowsV4())
	assert.Equal(t, "dual", Dual.String())
}

func TestFromAddrs(t *testing.T) {
	_, v4, _ := net.ParseCIDR("192.0.2.10/24")
	v4.IP = net.ParseIP("192.0.2.10")
	ll := &net.IPNet{IP: net.ParseIP("fe80::1"), Mask: net.CIDRMask(64, 128)}
	global := &net.IPNet{IP: net.ParseIP("2001:db8::1"), Mask: net.CIDRMask(64, 128)}

	ifc := fromAddrs(net.Interface{Name: "eth0", Index: 2}, []net.Addr{v4, ll, global})

	assert.True(t, ifc.HasFamily(false))
	assert.True(t, ifc.HasFamily(true))
	require.Len(t, ifc.V6LinkLocal, 1, "global IPv6 addresses are not used")
	assert.Len(t, ifc.Addr(false).IP, net.IPv4len)
	assert.Equal(t, "eth0", ifc.Zone())
	assert.Equal(t, "eth0(#2)", ifc.String())

	empty := fromAddrs(net.Interface{Name: "tun0"}, nil)
	assert.Nil(t, empty.Addr(true))
	assert.Nil(t, empty.Addr(false))
}

func TestUsable(t *testing.T) {
	up := net.Interface{Name: "eth0", Flags: net.FlagUp | net.FlagMulticast}
	lo := net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagMulticast | net.FlagLoopback}
	down := net.Interface{Name: "eth1", Flags: net.FlagMulticast}

	assert.True(t, usable(up, Options{}))
	assert.False(t, usable(lo, Options{}))
	assert.True(t, usable(lo, Options{IncludeLoopback: true}))
	assert.False(t, usable(down, Options{}))
	assert.False(t, usable(up, Options{Names: []string{"wlan0"}}))
	assert.True(t, usable(up, Options{Names: []string{"wlan0", "eth0"}}))
}
