package main

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/config"
	"github.com/muurk/upnpcp/internal/dgram"
	"github.com/muurk/upnpcp/internal/gena"
	"github.com/muurk/upnpcp/internal/metrics"
	"github.com/muurk/upnpcp/internal/ssdp"
)

func replayed(data []byte, role dgram.Role) dgram.Packet {
	return dgram.Packet{
		Data:   data,
		Source: &net.UDPAddr{IP: net.ParseIP("192.0.2.2"), Port: 1900},
		Role:   role,
	}
}

func TestDescribePacket(t *testing.T) {
	alive := ssdp.NewNotify(ssdp.RootDevice, ssdp.NTSAlive, "uuid:r1::upnp:rootdevice", "http://192.0.2.2/d.xml", 1800, false).Encode()
	line, reason := describePacket(replayed(alive, dgram.RoleNotify))
	assert.Empty(t, reason)
	assert.Contains(t, line, "ssdp:alive")
	assert.Contains(t, line, "uuid:r1::upnp:rootdevice")
	assert.Contains(t, line, "http://192.0.2.2/d.xml")

	search := ssdp.NewSearch(ssdp.All, false).Encode()
	_, reason = describePacket(replayed(search, dgram.RoleNotify))
	assert.Equal(t, metrics.DropEcho, reason)

	_, reason = describePacket(replayed([]byte("junk"), dgram.RoleNotify))
	assert.Equal(t, metrics.DropParse, reason)
}

func TestDescribeMulticastEvent(t *testing.T) {
	msg := gena.NewMulticastNotify("uuid:r1::urn:schemas-upnp-org:service:RenderingControl:1",
		"urn:upnp-org:serviceId:RenderingControl", gena.LevelInfo, 2,
		[]gena.Property{{Name: "Volume", Value: "7"}}, false)

	line, reason := describePacket(replayed(msg.Encode(), dgram.RoleEvent))
	assert.Empty(t, reason)
	assert.Contains(t, line, "uuid:r1")
	assert.Contains(t, line, "seq=2")

	_, reason = describePacket(replayed([]byte("NOTIFY * HTTP/1.1\r\n\r\n"), dgram.RoleEvent))
	assert.Equal(t, "bad_event", reason)
}

func TestLoadConfigFromFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := config.NewConfig()
	cfg.Network.SearchTarget = ssdp.RootDevice
	require.NoError(t, cfg.Save(path))

	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	loaded, err := loadConfig()
	require.NoError(t, err)
	assert.Equal(t, ssdp.RootDevice, loaded.Network.SearchTarget)
}
