package gena

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/muurk/upnpcp/internal/httpmsg"
	"github.com/muurk/upnpcp/internal/ssdp"
	"github.com/muurk/upnpcp/internal/upnperr"
)

// GENA header values
const (
	NTEvent       = "upnp:event"
	NTSPropChange = "upnp:propchange"
	EventNS       = "urn:schemas-upnp-org:event-1-0"
)

// Multicast event levels
const (
	LevelEmergency = "upnp:/emergency"
	LevelFault     = "upnp:/fault"
	LevelWarning   = "upnp:/warning"
	LevelInfo      = "upnp:/info"
	LevelDebug     = "upnp:/debug"
	LevelGeneral   = "upnp:/general"
)

// ErrEmptyPropertySet is returned for a property set without properties.
var ErrEmptyPropertySet = errors.New("property set has no properties")

// Property is one evented state variable.
type Property struct {
	Name  string
	Value string
}

func (p Property) String() string { return p.Name + "=" + p.Value }

// ParsePropertySet decodes a <propertyset> body. Element names are matched
// by local name so any namespace prefix is accepted. Each <property> holds
// one variable element; extra elements in a property are kept in order.
func ParsePropertySet(body []byte) ([]Property, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))

	root, err := nextStart(dec)
	if err != nil {
		return nil, upnperr.NewParseError("failed to parse property set", err)
	}
	if root.Name.Local != "propertyset" {
		return nil, upnperr.NewParseError(fmt.Sprintf("unexpected root element <%s>", root.Name.Local), nil)
	}

	var props []Property
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, upnperr.NewParseError("failed to parse property set", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local != "property" {
				if err := dec.Skip(); err != nil {
					return nil, upnperr.NewParseError("failed to parse property set", err)
				}
				continue
			}
			vars, err := readProperty(dec)
			if err != nil {
				return nil, upnperr.NewParseError("failed to parse property", err)
			}
			props = append(props, vars...)
		case xml.EndElement:
			if len(props) == 0 {
				return nil, upnperr.NewParseError("failed to parse property set", ErrEmptyPropertySet)
			}
			return props, nil
		}
	}
}

func nextStart(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return xml.StartElement{}, io.ErrUnexpectedEOF
			}
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}

// readProperty reads the variable elements up to </property>.
func readProperty(dec *xml.Decoder) ([]Property, error) {
	var out []Property
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			var v struct {
				Text string `xml:",chardata"`
			}
			if err := dec.DecodeElement(&v, &t); err != nil {
				return nil, err
			}
			out = append(out, Property{Name: t.Name.Local, Value: v.Text})
		case xml.EndElement:
			return out, nil
		}
	}
}

// EncodePropertySet renders props as a <propertyset> document, one
// variable per <property>.
func EncodePropertySet(props []Property) []byte {
	var b bytes.Buffer
	b.WriteString(xml.Header)
	b.WriteString(`<e:propertyset xmlns:e="` + EventNS + `">`)
	for _, p := range props {
		b.WriteString("<e:property><")
		b.WriteString(p.Name)
		b.WriteString(">")
		_ = xml.EscapeText(&b, []byte(p.Value))
		b.WriteString("</")
		b.WriteString(p.Name)
		b.WriteString("></e:property>")
	}
	b.WriteString("</e:propertyset>")
	return b.Bytes()
}

// NewNotify builds the unicast event NOTIFY a device sends to a callback.
func NewNotify(uri, sid string, seq uint32, props []Property) *httpmsg.Message {
	if uri == "" {
		uri = "/"
	}
	req := httpmsg.NewRequest("NOTIFY", uri)
	req.Header.Add("CONTENT-TYPE", `text/xml; charset="utf-8"`)
	req.Header.Add("NT", NTEvent)
	req.Header.Add("NTS", NTSPropChange)
	req.Header.Add("SID", sid)
	req.Header.Add("SEQ", strconv.FormatUint(uint64(seq), 10))
	req.SetBody(EncodePropertySet(props))
	return req
}

// NewMulticastNotify builds a multicast event datagram for the service
// svcID of the device named by usn.
func NewMulticastNotify(usn, svcID, level string, seq uint32, props []Property, v6 bool) *httpmsg.Message {
	group := ssdp.EventGroup(v6)
	req := httpmsg.NewRequest("NOTIFY", "*")
	req.Header.Add("HOST", group.String())
	req.Header.Add("CONTENT-TYPE", `text/xml; charset="utf-8"`)
	req.Header.Add("USN", usn)
	req.Header.Add("SVCID", svcID)
	req.Header.Add("NT", NTEvent)
	req.Header.Add("NTS", NTSPropChange)
	req.Header.Add("SEQ", strconv.FormatUint(uint64(seq), 10))
	req.Header.Add("LVL", level)
	req.Header.Add("BOOTID.UPNP.ORG", "1")
	req.SetBody(EncodePropertySet(props))
	return req
}
