package device

import (
	"fmt"
	"strings"
	"unicode"
)

// BuildError reports a required field missing from a description.
type BuildError struct {
	Path  string // position in the tree, "root" or "root/device[1]"
	Field string
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("device description %s: missing %s", e.Path, e.Field)
}

// Builder collects description fields. Build validates them once and
// returns the finished tree.
type Builder struct {
	udn             string
	deviceType      string
	friendlyName    string
	manufacturer    string
	modelName       string
	serialNumber    string
	presentationURL string
	location        string
	services        []Service
	embedded        []*Builder
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) UDN(v string) *Builder             { b.udn = v; return b }
func (b *Builder) DeviceType(v string) *Builder      { b.deviceType = v; return b }
func (b *Builder) FriendlyName(v string) *Builder    { b.friendlyName = v; return b }
func (b *Builder) Manufacturer(v string) *Builder    { b.manufacturer = v; return b }
func (b *Builder) ModelName(v string) *Builder       { b.modelName = v; return b }
func (b *Builder) SerialNumber(v string) *Builder    { b.serialNumber = v; return b }
func (b *Builder) PresentationURL(v string) *Builder { b.presentationURL = v; return b }

// Location sets the description URL of the tree. Only the root's value is
// used.
func (b *Builder) Location(v string) *Builder { b.location = v; return b }

// Service adds a service. The back reference is set by Build.
func (b *Builder) Service(svc Service) *Builder {
	b.services = append(b.services, svc)
	return b
}

// Embedded adds an embedded device.
func (b *Builder) Embedded(child *Builder) *Builder {
	b.embedded = append(b.embedded, child)
	return b
}

// Build validates the tree and returns the root device. A missing UDN or
// device type anywhere in the tree yields a *BuildError.
func (b *Builder) Build() (*Device, error) {
	root, err := b.build(nil, "root")
	if err != nil {
		return nil, err
	}
	root.udns = make(map[string]struct{})
	root.Visit(func(d *Device) {
		root.udns[NormalizeUDN(d.UDN)] = struct{}{}
		if d != root {
			d.udns = make(map[string]struct{})
			d.Visit(func(sub *Device) { d.udns[NormalizeUDN(sub.UDN)] = struct{}{} })
		}
		d.location = b.location
	})
	return root, nil
}

func (b *Builder) build(parent *Device, path string) (*Device, error) {
	udn := strings.TrimSpace(b.udn)
	if parent != nil {
		udn = repairUDN(udn)
	}
	if udn == "" {
		return nil, &BuildError{Path: path, Field: "UDN"}
	}
	if strings.TrimSpace(b.deviceType) == "" {
		return nil, &BuildError{Path: path, Field: "deviceType"}
	}

	d := &Device{
		UDN:             udn,
		DeviceType:      strings.TrimSpace(b.deviceType),
		FriendlyName:    b.friendlyName,
		Manufacturer:    b.manufacturer,
		ModelName:       b.modelName,
		SerialNumber:    b.serialNumber,
		PresentationURL: b.presentationURL,
		parent:          parent,
	}
	for _, svc := range b.services {
		s := svc
		s.device = d
		d.Services = append(d.Services, &s)
	}
	for i, child := range b.embedded {
		c, err := child.build(d, fmt.Sprintf("%s/device[%d]", path, i))
		if err != nil {
			return nil, err
		}
		d.Embedded = append(d.Embedded, c)
	}
	return d, nil
}

// repairUDN removes whitespace some devices put inside embedded UDNs.
func repairUDN(udn string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, udn)
}

// NormalizeUDN strips the "uuid:" prefix so UDNs compare with SSDP UUIDs.
func NormalizeUDN(udn string) string {
	udn = strings.TrimSpace(udn)
	if len(udn) >= 5 && strings.EqualFold(udn[:5], "uuid:") {
		return udn[5:]
	}
	return udn
}
