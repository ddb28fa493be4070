package device

import (
	"fmt"
	"net"
	"sort"
	"sync"
	"time"
)

// Service is a service advertised in a device description. URLs are
// absolute, resolved against the description location.
type Service struct {
	ServiceType string
	ServiceID   string
	SCPDURL     string
	ControlURL  string
	EventSubURL string

	device *Device
}

// Device returns the device that carries the service.
func (s *Service) Device() *Device { return s.device }

func (s *Service) String() string {
	return fmt.Sprintf("%s (%s)", s.ServiceID, s.ServiceType)
}

// Device is a discovered root or embedded device. The description fields
// never change after Build; location, expiry and origin are updated in
// place when the device re-advertises.
type Device struct {
	UDN             string
	DeviceType      string
	FriendlyName    string
	Manufacturer    string
	ModelName       string
	SerialNumber    string
	PresentationURL string
	Services        []*Service
	Embedded        []*Device

	parent *Device
	udns   map[string]struct{}

	mu        sync.RWMutex
	location  string
	expire    time.Time
	source    net.IP
	localAddr net.IP
	pinned    bool
}

// Parent returns the enclosing device, or nil for a root device.
func (d *Device) Parent() *Device { return d.parent }

// Root returns the root of the device tree.
func (d *Device) Root() *Device {
	for d.parent != nil {
		d = d.parent
	}
	return d
}

// IsRoot reports whether d has no parent.
func (d *Device) IsRoot() bool { return d.parent == nil }

// UDNs returns the UDNs of d and every embedded device, sorted.
func (d *Device) UDNs() []string {
	out := make([]string, 0, len(d.udns))
	for udn := range d.udns {
		out = append(out, udn)
	}
	sort.Strings(out)
	return out
}

// Contains reports whether udn names d or one of its embedded devices.
// A "uuid:" prefix is ignored.
func (d *Device) Contains(udn string) bool {
	_, ok := d.udns[NormalizeUDN(udn)]
	return ok
}

// Visit calls fn for d and then each embedded device, depth first.
func (d *Device) Visit(fn func(*Device)) {
	fn(d)
	for _, child := range d.Embedded {
		child.Visit(fn)
	}
}

// AllServices returns the services of d and every embedded device.
func (d *Device) AllServices() []*Service {
	var out []*Service
	d.Visit(func(dev *Device) {
		out = append(out, dev.Services...)
	})
	return out
}

// FindService returns the first service with serviceID in the tree.
func (d *Device) FindService(serviceID string) *Service {
	var found *Service
	d.Visit(func(dev *Device) {
		if found != nil {
			return
		}
		for _, svc := range dev.Services {
			if svc.ServiceID == serviceID {
				found = svc
				return
			}
		}
	})
	return found
}

// Location returns the description URL last advertised.
func (d *Device) Location() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.location
}

// ExpireTime returns when the advertisement lapses.
func (d *Device) ExpireTime() time.Time {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.expire
}

// Expired reports whether the expiry time lies before now.
func (d *Device) Expired(now time.Time) bool {
	return d.ExpireTime().Before(now)
}

// Source returns the address the advertisement came from.
func (d *Device) Source() net.IP {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.source
}

// LocalAddr returns the local address used to download the description.
// Event callback URLs are built from it.
func (d *Device) LocalAddr() net.IP {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.localAddr
}

// Pinned reports a device registered by location that never expires.
func (d *Device) Pinned() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pinned
}

// Refresh updates location and expiry of d and every embedded device.
// It reports whether the location changed.
func (d *Device) Refresh(location string, expire time.Time) bool {
	changed := false
	d.Visit(func(dev *Device) {
		dev.mu.Lock()
		if location != "" && dev.location != location {
			dev.location = location
			changed = true
		}
		dev.expire = expire
		dev.mu.Unlock()
	})
	return changed
}

// SetOrigin records where the device was learned from, for the whole tree.
func (d *Device) SetOrigin(source, localAddr net.IP, pinned bool) {
	d.Visit(func(dev *Device) {
		dev.mu.Lock()
		dev.source = source
		dev.localAddr = localAddr
		dev.pinned = pinned
		dev.mu.Unlock()
	})
}

func (d *Device) String() string {
	name := d.FriendlyName
	if name == "" {
		name = d.DeviceType
	}
	return fmt.Sprintf("%s [%s]", name, d.UDN)
}
