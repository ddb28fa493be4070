package bridge

import (
	"time"

	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/device"
)

// Event types
const (
	TypeDeviceAdded     = "device_added"
	TypeDeviceUpdated   = "device_updated"
	TypeDeviceRemoved   = "device_removed"
	TypePropertyChanged = "property_changed"
)

// Event is the JSON document sent to every websocket client.
type Event struct {
	Type   string    `json:"type"`
	Time   time.Time `json:"time"`
	Device *Device   `json:"device,omitempty"`

	SID        string            `json:"sid,omitempty"`
	ServiceID  string            `json:"service_id,omitempty"`
	Seq        uint32            `json:"seq"`
	Level      string            `json:"level,omitempty"`
	Multicast  bool              `json:"multicast,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Device is the JSON summary of a device.
type Device struct {
	UDN          string   `json:"udn"`
	DeviceType   string   `json:"device_type"`
	FriendlyName string   `json:"friendly_name,omitempty"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	ModelName    string   `json:"model_name,omitempty"`
	Location     string   `json:"location,omitempty"`
	Services     []string `json:"services,omitempty"`
}

// DeviceSummary converts dev for publishing.
func DeviceSummary(dev *device.Device) *Device {
	if dev == nil {
		return nil
	}
	out := &Device{
		UDN:          dev.UDN,
		DeviceType:   dev.DeviceType,
		FriendlyName: dev.FriendlyName,
		Manufacturer: dev.Manufacturer,
		ModelName:    dev.ModelName,
		Location:     dev.Location(),
	}
	for _, svc := range dev.AllServices() {
		out.Services = append(out.Services, svc.ServiceID)
	}
	return out
}

// NewDeviceEvent builds a device lifecycle event.
func NewDeviceEvent(typ string, dev *device.Device, at time.Time) Event {
	return Event{Type: typ, Time: at, Device: DeviceSummary(dev)}
}

// NewPropertyEvent builds a property change event. Later values of a
// repeated variable win.
func NewPropertyEvent(ev controlpoint.Event, at time.Time) Event {
	out := Event{
		Type:       TypePropertyChanged,
		Time:       at,
		SID:        ev.SID,
		Seq:        ev.Seq,
		Level:      ev.Level,
		Multicast:  ev.Multicast,
		Properties: make(map[string]string, len(ev.Props)),
	}
	if ev.Service != nil {
		out.ServiceID = ev.Service.ServiceID
		out.Device = DeviceSummary(ev.Service.Device())
	}
	for _, p := range ev.Props {
		out.Properties[p.Name] = p.Value
	}
	return out
}
