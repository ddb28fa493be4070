package ssdp

import (
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/muurk/upnpcp/internal/httpmsg"
)

var maxAgePattern = regexp.MustCompile(`(?i)max-age\s*=\s*(\d+)`)

// Message is a decoded SSDP datagram. The derived fields are computed once
// by Parse and never change.
type Message struct {
	HTTP      *httpmsg.Message
	Source    *net.UDPAddr // nil for pinned messages
	Local     *net.IPNet   // address of the receiving interface, if known
	Interface string

	UUID       string
	Type       string
	MaxAge     int
	ExpireTime time.Time
	ScopeID    string
	Location   string
}

// Parse decodes a datagram received from src on the interface iface whose
// address is local.
func Parse(data []byte, src *net.UDPAddr, local *net.IPNet, iface string, now time.Time) (*Message, error) {
	msg, err := httpmsg.ReadDatagram(data)
	if err != nil {
		return nil, err
	}
	return newMessage(msg, src, local, iface, now), nil
}

// NewPinned builds the synthetic alive message that stands for a device
// registered by location. It never expires and skips address validation.
func NewPinned(location, usn string, now time.Time) *Message {
	req := httpmsg.NewRequest(MethodNotify, "*")
	req.Header.Add("NT", RootDevice)
	req.Header.Add("NTS", NTSAlive)
	req.Header.Add("USN", usn)
	req.Header.Add("LOCATION", location)
	return newMessage(req, nil, nil, "", now)
}

func newMessage(msg *httpmsg.Message, src *net.UDPAddr, local *net.IPNet, iface string, now time.Time) *Message {
	m := &Message{
		HTTP:      msg,
		Source:    src,
		Local:     local,
		Interface: iface,
		Location:  strings.TrimSpace(msg.Header.Get("LOCATION")),
	}
	m.UUID, m.Type = ParseUSN(msg.Header.Get("USN"))
	m.MaxAge = ParseMaxAge(msg.Header.Get("CACHE-CONTROL"))
	if src == nil {
		m.ExpireTime = Forever
	} else {
		m.ExpireTime = now.Add(time.Duration(m.MaxAge) * time.Second)
		m.ScopeID = scopeID(src, iface)
	}
	return m
}

// ParseUSN splits "uuid:<UUID>[::<type>]". Anything else yields empty strings.
func ParseUSN(usn string) (uuid, typ string) {
	usn = strings.TrimSpace(usn)
	if len(usn) < 5 || !strings.EqualFold(usn[:5], "uuid:") {
		return "", ""
	}
	uuid, typ, _ = strings.Cut(usn[5:], "::")
	return uuid, typ
}

// ParseMaxAge extracts max-age=N from a Cache-Control value.
func ParseMaxAge(cacheControl string) int {
	match := maxAgePattern.FindStringSubmatch(cacheControl)
	if match == nil {
		return DefaultMaxAge
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return DefaultMaxAge
	}
	return n
}

func scopeID(src *net.UDPAddr, iface string) string {
	if src.IP.To4() != nil {
		return ""
	}
	if src.Zone != "" {
		return src.Zone
	}
	if src.IP.IsLinkLocalUnicast() {
		return iface
	}
	return ""
}

// Kind reports whether the datagram was a request or a search response.
func (m *Message) Kind() httpmsg.Kind { return m.HTTP.Kind }

// NT returns the notification type header.
func (m *Message) NT() string { return m.HTTP.Header.Get("NT") }

// NTS returns the notification sub type header.
func (m *Message) NTS() string { return m.HTTP.Header.Get("NTS") }

// ST returns the search target header.
func (m *Message) ST() string { return m.HTTP.Header.Get("ST") }

// USN returns the unique service name header.
func (m *Message) USN() string { return m.HTTP.Header.Get("USN") }

// Server returns the SERVER header.
func (m *Message) Server() string { return m.HTTP.Header.Get("SERVER") }

// IsNotify reports whether this is a NOTIFY request.
func (m *Message) IsNotify() bool {
	return m.HTTP.Kind == httpmsg.KindRequest && strings.EqualFold(m.HTTP.Method, MethodNotify)
}

// IsSearch reports whether this is an M-SEARCH request.
func (m *Message) IsSearch() bool {
	return m.HTTP.Kind == httpmsg.KindRequest && strings.EqualFold(m.HTTP.Method, MethodSearch)
}

// IsResponse reports whether this is a search response.
func (m *Message) IsResponse() bool { return m.HTTP.Kind == httpmsg.KindResponse }

// IsAlive reports an ssdp:alive or ssdp:update notification.
func (m *Message) IsAlive() bool {
	if !m.IsNotify() {
		return false
	}
	nts := m.NTS()
	return strings.EqualFold(nts, NTSAlive) || strings.EqualFold(nts, NTSUpdate)
}

// IsByeBye reports an ssdp:byebye notification.
func (m *Message) IsByeBye() bool {
	return m.IsNotify() && strings.EqualFold(m.NTS(), NTSByeBye)
}

// IsPinned reports a synthetic message with no source address.
func (m *Message) IsPinned() bool { return m.Source == nil }

// IsIPv6 reports whether the message came from an IPv6 source.
func (m *Message) IsIPv6() bool {
	return m.Source != nil && m.Source.IP.To4() == nil
}

// Expired reports whether the advertisement lifetime has elapsed.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpireTime.Before(now)
}
