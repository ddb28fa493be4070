package ui

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/gena"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	os.Exit(m.Run())
}

func renderer(t *testing.T, udn, name string) *device.Device {
	t.Helper()
	dev, err := device.NewBuilder().
		UDN(udn).
		DeviceType("urn:schemas-upnp-org:device:MediaRenderer:1").
		FriendlyName(name).
		Manufacturer("Acme").
		Service(device.Service{
			ServiceType: "urn:schemas-upnp-org:service:RenderingControl:1",
			ServiceID:   "urn:upnp-org:serviceId:RenderingControl",
		}).
		Embedded(device.NewBuilder().
			UDN(udn+"-sub").
			DeviceType("urn:schemas-upnp-org:device:Tuner:1").
			Service(device.Service{
				ServiceType: "urn:schemas-upnp-org:service:AVTransport:1",
				ServiceID:   "urn:upnp-org:serviceId:AVTransport",
			})).
		Location("http://192.0.2.2:8080/desc.xml").
		Build()
	require.NoError(t, err)
	return dev
}

func TestShortType(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"urn:schemas-upnp-org:device:MediaRenderer:1", "MediaRenderer:1"},
		{"urn:schemas-upnp-org:service:AVTransport:2", "AVTransport:2"},
		{"upnp:rootdevice", "upnp:rootdevice"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ShortType(tt.in), tt.in)
	}
}

func TestRenderDevice(t *testing.T) {
	out := RenderDevice(renderer(t, "uuid:r1", "Kitchen"), 100)
	for _, want := range []string{"Kitchen", "uuid:r1", "Acme", "http://192.0.2.2:8080/desc.xml", "RenderingControl:1", "Tuner:1", "AVTransport:1"} {
		assert.Contains(t, out, want)
	}
}

func TestRenderDeviceTable(t *testing.T) {
	out := RenderDeviceTable([]*device.Device{
		renderer(t, "uuid:b", "Kitchen"),
		renderer(t, "uuid:a", "Bedroom"),
	})
	assert.Contains(t, out, "NAME")
	bedroom := strings.Index(out, "Bedroom")
	kitchen := strings.Index(out, "Kitchen")
	require.True(t, bedroom > 0 && kitchen > 0)
	assert.Less(t, bedroom, kitchen)
	assert.Contains(t, out, "MediaRenderer:1")
}

func TestRenderDeviceTableEmpty(t *testing.T) {
	assert.Contains(t, RenderDeviceTable(nil), "NAME")
}

func TestRenderDeviceChange(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 11, 12, 0, time.UTC)
	dev := renderer(t, "uuid:r1", "Kitchen")

	assert.Contains(t, RenderDeviceChange(ChangeAdded, dev, at), "10:11:12 + Kitchen uuid:r1 http://192.0.2.2:8080/desc.xml")
	assert.Contains(t, RenderDeviceChange(ChangeRemoved, dev, at), " - Kitchen")
	assert.Contains(t, RenderDeviceChange(ChangeUpdated, dev, at), " ~ Kitchen")
}

func TestRenderEvent(t *testing.T) {
	dev := renderer(t, "uuid:r1", "Kitchen")
	out := RenderEvent(controlpoint.Event{
		Service: dev.Services[0],
		SID:     "uuid:sub-1",
		Seq:     4,
		Props:   []gena.Property{{Name: "Volume", Value: "10"}, {Name: "Mute", Value: "0"}},
	}, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC))

	assert.Contains(t, out, "Kitchen RenderingControl:1 sid=uuid:sub-1 seq=4")
	assert.Contains(t, out, "Volume = 10")
	assert.Contains(t, out, "Mute = 0")
}

func TestRenderMulticastEvent(t *testing.T) {
	dev := renderer(t, "uuid:r1", "Kitchen")
	out := RenderEvent(controlpoint.Event{
		Service:   dev.Services[0],
		Level:     gena.LevelInfo,
		Multicast: true,
		Seq:       1,
	}, time.Now())
	assert.Contains(t, out, "multicast level="+gena.LevelInfo)
}

func TestHeaderKeepsParamOrder(t *testing.T) {
	out := NewHeader("Discovery", "upnp-cp discover",
		Param{Key: "Target", Value: "ssdp:all"},
		Param{Key: "Timeout", Value: "5s"},
	).SetWidth(80).Render()

	assert.Contains(t, out, "DISCOVERY")
	assert.Contains(t, out, "upnp-cp discover")
	assert.Less(t, strings.Index(out, "ssdp:all"), strings.Index(out, "5s"))
}

func TestResult(t *testing.T) {
	out := NewSuccessResult("Discovery complete", Param{Key: "Devices", Value: "3"}).SetWidth(80).Render()
	assert.Contains(t, out, "SUCCESS")
	assert.Contains(t, out, "Devices:")

	out = NewFailureResult("Discovery failed", errors.New("no interfaces"), "Check network.interfaces").SetWidth(80).Render()
	assert.Contains(t, out, "FAILED")
	assert.Contains(t, out, "no interfaces")
	assert.Contains(t, out, "Check network.interfaces")
}
