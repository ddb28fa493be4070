package controlpoint

import (
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/gena"
)

// Event is a batch of evented state variables.
type Event struct {
	// Service is the service the event is for. It is nil only for
	// multicast events whose device is unknown, which are never reported.
	Service *device.Service

	// SID is the subscription ID; empty for multicast events
	SID string

	// UUID and Level are set for multicast events
	UUID  string
	Level string

	Seq       uint32
	Props     []gena.Property
	Multicast bool
}

// Listener receives device and property changes on the callback executor.
type Listener interface {
	DeviceAdded(dev *device.Device)
	DeviceUpdated(dev *device.Device)
	DeviceRemoved(dev *device.Device)
	PropertyChanged(ev Event)
}

// Listeners fans every call out to each listener in order.
type Listeners []Listener

func (ls Listeners) DeviceAdded(dev *device.Device) {
	for _, l := range ls {
		l.DeviceAdded(dev)
	}
}

func (ls Listeners) DeviceUpdated(dev *device.Device) {
	for _, l := range ls {
		l.DeviceUpdated(dev)
	}
}

func (ls Listeners) DeviceRemoved(dev *device.Device) {
	for _, l := range ls {
		l.DeviceRemoved(dev)
	}
}

func (ls Listeners) PropertyChanged(ev Event) {
	for _, l := range ls {
		l.PropertyChanged(ev)
	}
}
