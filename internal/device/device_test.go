package device

import (
	"encoding/xml"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/huin/goupnp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func renderer() *Builder {
	return NewBuilder().
		UDN("uuid:root-1").
		DeviceType("urn:schemas-upnp-org:device:MediaRenderer:1").
		FriendlyName("Living Room").
		Service(Service{ServiceType: "urn:schemas-upnp-org:service:RenderingControl:1", ServiceID: "urn:upnp-org:serviceId:RenderingControl"}).
		Embedded(NewBuilder().
			UDN("uuid: child- 1\n").
			DeviceType("urn:schemas-upnp-org:device:Embedded:1").
			Service(Service{ServiceType: "urn:schemas-upnp-org:service:AVTransport:1", ServiceID: "urn:upnp-org:serviceId:AVTransport"}).
			Embedded(NewBuilder().UDN("uuid:grandchild-1").DeviceType("urn:x:device:Leaf:1"))).
		Location("http://192.0.2.2:12345/device.xml")
}

func TestBuild(t *testing.T) {
	root, err := renderer().Build()
	require.NoError(t, err)

	assert.True(t, root.IsRoot())
	assert.Equal(t, []string{"child-1", "grandchild-1", "root-1"}, root.UDNs())
	require.Len(t, root.Embedded, 1)

	child := root.Embedded[0]
	assert.Equal(t, "uuid:child-1", child.UDN, "whitespace inside embedded UDNs is removed")
	assert.Same(t, root, child.Parent())
	assert.Same(t, root, child.Embedded[0].Root())
	assert.True(t, child.Contains("uuid:grandchild-1"))
	assert.False(t, child.Contains("root-1"))
	assert.True(t, root.Contains("grandchild-1"))

	svc := root.FindService("urn:upnp-org:serviceId:AVTransport")
	require.NotNil(t, svc)
	assert.Same(t, child, svc.Device())
	assert.Nil(t, root.FindService("urn:upnp-org:serviceId:Missing"))
	assert.Len(t, root.AllServices(), 2)

	assert.Equal(t, "http://192.0.2.2:12345/device.xml", child.Embedded[0].Location())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name      string
		builder   *Builder
		wantPath  string
		wantField string
	}{
		{"root without UDN", NewBuilder().DeviceType("urn:x:device:A:1"), "root", "UDN"},
		{"root without type", NewBuilder().UDN("uuid:a"), "root", "deviceType"},
		{
			"embedded without UDN",
			NewBuilder().UDN("uuid:a").DeviceType("urn:x:device:A:1").
				Embedded(NewBuilder().UDN("uuid:b").DeviceType("urn:x:device:B:1")).
				Embedded(NewBuilder().UDN("  ").DeviceType("urn:x:device:C:1")),
			"root/device[1]", "UDN",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev, err := tt.builder.Build()
			assert.Nil(t, dev)
			var be *BuildError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.wantPath, be.Path)
			assert.Equal(t, tt.wantField, be.Field)
		})
	}
}

func TestRefreshPropagates(t *testing.T) {
	root, err := renderer().Build()
	require.NoError(t, err)

	expire := time.Date(2026, 1, 1, 0, 30, 0, 0, time.UTC)
	assert.False(t, root.Refresh("http://192.0.2.2:12345/device.xml", expire), "same location")
	assert.True(t, root.Refresh("http://192.0.2.2:5000/device.xml", expire))

	root.Visit(func(d *Device) {
		assert.Equal(t, "http://192.0.2.2:5000/device.xml", d.Location())
		assert.Equal(t, expire, d.ExpireTime())
	})
	assert.True(t, root.Expired(expire.Add(time.Second)))
	assert.False(t, root.Expired(expire))

	root.SetOrigin(net.ParseIP("192.0.2.2"), net.ParseIP("192.0.2.10"), true)
	leaf := root.Embedded[0].Embedded[0]
	assert.True(t, leaf.Pinned())
	assert.Equal(t, "192.0.2.10", leaf.LocalAddr().String())
	assert.Equal(t, "192.0.2.2", leaf.Source().String())
}

const description = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Kitchen</friendlyName>
    <manufacturer>Acme</manufacturer>
    <modelName>R1</modelName>
    <UDN>uuid:4d696e69-444c-164e-9d41-b827eb2cd5a1</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
        <SCPDURL>/rc.xml</SCPDURL>
        <controlURL>rc/control</controlURL>
        <eventSubURL>/rc/event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

func TestFromRoot(t *testing.T) {
	var root goupnp.RootDevice
	require.NoError(t, xml.Unmarshal([]byte(description), &root))

	dev, err := FromRoot(&root, "http://192.0.2.2:12345/device.xml")
	require.NoError(t, err)

	assert.Equal(t, "Kitchen", dev.FriendlyName)
	assert.Equal(t, "Acme", dev.Manufacturer)
	require.Len(t, dev.Services, 1)
	svc := dev.Services[0]
	assert.Equal(t, "http://192.0.2.2:12345/rc/event", svc.EventSubURL)
	assert.Equal(t, "http://192.0.2.2:12345/rc/control", svc.ControlURL)
	assert.Equal(t, "http://192.0.2.2:12345/rc.xml", svc.SCPDURL)
	assert.Equal(t, "http://192.0.2.2:12345/device.xml", dev.Location())
}

func TestFromRootMissingUDN(t *testing.T) {
	var root goupnp.RootDevice
	require.NoError(t, xml.Unmarshal([]byte(`<root><device><deviceType>urn:x:device:A:1</deviceType></device></root>`), &root))
	_, err := FromRoot(&root, "http://192.0.2.2/d.xml")
	var be *BuildError
	assert.ErrorAs(t, err, &be)
}

func TestNormalizeUDN(t *testing.T) {
	assert.Equal(t, "abc", NormalizeUDN("uuid:abc"))
	assert.Equal(t, "abc", NormalizeUDN(" UUID:abc "))
	assert.Equal(t, "abc", NormalizeUDN("abc"))
}
