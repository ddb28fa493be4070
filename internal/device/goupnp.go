package device

import (
	"fmt"
	"net/url"

	"github.com/huin/goupnp"
)

// FromRoot converts a parsed description into a device tree. Relative
// URLs are resolved against URLBase when present, else location.
func FromRoot(root *goupnp.RootDevice, location string) (*Device, error) {
	base, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("invalid description location %q: %w", location, err)
	}
	if root.URLBaseStr != "" {
		if u, err := url.Parse(root.URLBaseStr); err == nil && u.Host != "" {
			base = u
		}
	}
	root.SetURLBase(base)

	b := fromGoupnp(&root.Device)
	b.Location(location)
	return b.Build()
}

func fromGoupnp(d *goupnp.Device) *Builder {
	b := NewBuilder().
		UDN(d.UDN).
		DeviceType(d.DeviceType).
		FriendlyName(d.FriendlyName).
		Manufacturer(d.Manufacturer).
		ModelName(d.ModelName).
		SerialNumber(d.SerialNumber).
		PresentationURL(urlString(&d.PresentationURL))

	for i := range d.Services {
		s := &d.Services[i]
		b.Service(Service{
			ServiceType: s.ServiceType,
			ServiceID:   s.ServiceId,
			SCPDURL:     urlString(&s.SCPDURL),
			ControlURL:  urlString(&s.ControlURL),
			EventSubURL: urlString(&s.EventSubURL),
		})
	}
	for i := range d.Devices {
		b.Embedded(fromGoupnp(&d.Devices[i]))
	}
	return b
}

func urlString(f *goupnp.URLField) string {
	if f.Ok {
		return f.URL.String()
	}
	return f.Str
}
