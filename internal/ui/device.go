package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/device"
)

// Device change kinds for RenderDeviceChange
const (
	ChangeAdded   = "added"
	ChangeUpdated = "updated"
	ChangeRemoved = "removed"
)

// ShortType strips the URN prefix of a device or service type:
// "urn:schemas-upnp-org:device:MediaRenderer:1" becomes "MediaRenderer:1".
func ShortType(t string) string {
	parts := strings.Split(t, ":")
	if len(parts) >= 5 && parts[0] == "urn" {
		return strings.Join(parts[3:], ":")
	}
	return t
}

func displayName(dev *device.Device) string {
	if dev.FriendlyName != "" {
		return dev.FriendlyName
	}
	return ShortType(dev.DeviceType)
}

// RenderDevice renders a device card with its embedded devices and
// services.
func RenderDevice(dev *device.Device, width int) string {
	width = max(width, MinTerminalWidth)

	var lines []string
	lines = append(lines, DeviceNameStyle.Render(displayName(dev)))

	field := func(key, value string) {
		if value != "" {
			lines = append(lines, DeviceKeyStyle.Render(key)+DeviceValueStyle.Render(value))
		}
	}
	field("UDN", dev.UDN)
	field("Type", dev.DeviceType)
	field("Manufacturer", dev.Manufacturer)
	field("Model", dev.ModelName)
	field("Location", dev.Location())
	if ip := dev.Source(); ip != nil {
		field("Source", ip.String())
	}
	if dev.Pinned() {
		field("Pinned", "yes")
	} else if exp := dev.ExpireTime(); !exp.IsZero() {
		field("Expires", exp.Format(time.RFC3339))
	}

	dev.Visit(func(d *device.Device) {
		indent := strings.Repeat("  ", depth(d))
		if d != dev {
			lines = append(lines, indent+DeviceNameStyle.Render(displayName(d))+" "+TimestampStyle.Render(d.UDN))
		}
		for _, svc := range d.Services {
			lines = append(lines, indent+"  "+PropertyStyle.Render(EventMarker)+" "+ShortType(svc.ServiceType)+
				" "+TimestampStyle.Render(svc.ServiceID))
		}
	})

	return DeviceBoxStyle(width).Render(strings.Join(lines, "\n"))
}

func depth(d *device.Device) int {
	n := 0
	for p := d.Parent(); p != nil; p = p.Parent() {
		n++
	}
	return n
}

// RenderDeviceTable renders one row per device, sorted by name then UDN.
func RenderDeviceTable(devs []*device.Device) string {
	sorted := append([]*device.Device(nil), devs...)
	sort.Slice(sorted, func(i, j int) bool {
		ni, nj := displayName(sorted[i]), displayName(sorted[j])
		if ni != nj {
			return ni < nj
		}
		return sorted[i].UDN < sorted[j].UDN
	})

	rows := make([][]string, 0, len(sorted))
	for _, d := range sorted {
		rows = append(rows, []string{
			displayName(d),
			ShortType(d.DeviceType),
			d.UDN,
			d.Location(),
			strconv.Itoa(len(d.AllServices())),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(MutedColor)).
		Headers("NAME", "TYPE", "UDN", "LOCATION", "SERVICES").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return TableHeaderStyle
			}
			return TableCellStyle
		})
	return t.Render()
}

// RenderDeviceChange renders one line for a device lifecycle change.
func RenderDeviceChange(kind string, dev *device.Device, at time.Time) string {
	var marker string
	var style lipgloss.Style
	switch kind {
	case ChangeAdded:
		marker, style = AddedMarker, lipgloss.NewStyle().Foreground(SuccessColor)
	case ChangeRemoved:
		marker, style = RemovedMarker, lipgloss.NewStyle().Foreground(ErrorColor)
	default:
		marker, style = UpdatedMarker, lipgloss.NewStyle().Foreground(WarningColor)
	}
	return fmt.Sprintf("%s %s %s %s %s",
		TimestampStyle.Render(at.Format("15:04:05")),
		style.Render(marker),
		DeviceNameStyle.Render(displayName(dev)),
		TimestampStyle.Render(dev.UDN),
		dev.Location())
}

// RenderEvent renders a property change as a header line followed by one
// line per variable.
func RenderEvent(ev controlpoint.Event, at time.Time) string {
	var b strings.Builder
	b.WriteString(TimestampStyle.Render(at.Format("15:04:05")))
	b.WriteString(" ")
	b.WriteString(PropertyStyle.Render(EventMarker))
	b.WriteString(" ")

	if ev.Service != nil {
		if dev := ev.Service.Device(); dev != nil {
			b.WriteString(DeviceNameStyle.Render(displayName(dev)))
			b.WriteString(" ")
		}
		b.WriteString(ShortType(ev.Service.ServiceType))
	}
	if ev.Multicast {
		fmt.Fprintf(&b, " multicast level=%s", ev.Level)
	} else {
		fmt.Fprintf(&b, " sid=%s", ev.SID)
	}
	fmt.Fprintf(&b, " seq=%d", ev.Seq)

	for _, p := range ev.Props {
		b.WriteString("\n    ")
		b.WriteString(PropertyStyle.Render(p.Name))
		b.WriteString(" = ")
		b.WriteString(p.Value)
	}
	return b.String()
}
