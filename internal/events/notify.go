package events

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/muurk/upnpcp/internal/gena"
	"github.com/muurk/upnpcp/internal/httpmsg"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/ssdp"
)

// Dispatcher delivers parsed events. Both methods report whether the event
// was addressed to something the dispatcher knows.
type Dispatcher interface {
	DispatchEvent(sid string, seq uint32, props []gena.Property) bool
	DispatchMulticast(uuid, serviceID, level string, seq uint32, props []gena.Property) bool
}

// Notify is a parsed unicast event.
type Notify struct {
	SID   string
	Seq   uint32
	Props []gena.Property
}

// MulticastNotify is a parsed multicast event.
type MulticastNotify struct {
	UUID      string
	ServiceID string
	Level     string
	Seq       uint32
	Props     []gena.Property
}

var (
	errMissingHeader = errors.New("missing required header")
	errBadHeader     = errors.New("unexpected header value")
)

// checkEventHeaders validates NT and NTS. A missing header and a wrong
// value are distinguished because they map to different status codes.
func checkEventHeaders(msg *httpmsg.Message) error {
	nt, okNT := msg.Header.Lookup("NT")
	nts, okNTS := msg.Header.Lookup("NTS")
	if !okNT || !okNTS {
		return errMissingHeader
	}
	if strings.TrimSpace(nt) != gena.NTEvent || strings.TrimSpace(nts) != gena.NTSPropChange {
		return fmt.Errorf("%w: NT %q NTS %q", errBadHeader, nt, nts)
	}
	return nil
}

// parseSeq reads SEQ; absent means 0.
func parseSeq(msg *httpmsg.Message, required bool) (uint32, error) {
	v, ok := msg.Header.Lookup("SEQ")
	if !ok {
		if required {
			return 0, fmt.Errorf("%w: SEQ", errMissingHeader)
		}
		return 0, nil
	}
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: SEQ %q", errBadHeader, v)
	}
	return uint32(n), nil
}

// ParseNotify validates a unicast NOTIFY and returns the event, or the
// status code to answer with.
func ParseNotify(msg *httpmsg.Message) (*Notify, int) {
	if !msg.IsRequest() || !strings.EqualFold(msg.Method, "NOTIFY") {
		return nil, http.StatusMethodNotAllowed
	}
	if err := checkEventHeaders(msg); err != nil {
		if errors.Is(err, errMissingHeader) {
			return nil, http.StatusBadRequest
		}
		return nil, http.StatusPreconditionFailed
	}
	sid := strings.TrimSpace(msg.Header.Get("SID"))
	if sid == "" {
		return nil, http.StatusPreconditionFailed
	}
	seq, err := parseSeq(msg, false)
	if err != nil {
		return nil, http.StatusPreconditionFailed
	}
	props, err := gena.ParsePropertySet(msg.Body)
	if err != nil {
		logging.Debug("Rejecting event with bad property set: " + err.Error())
		return nil, http.StatusPreconditionFailed
	}
	return &Notify{SID: sid, Seq: seq, Props: props}, http.StatusOK
}

// ParseMulticastNotify validates a multicast event datagram.
func ParseMulticastNotify(data []byte) (*MulticastNotify, error) {
	msg, err := httpmsg.ReadDatagram(data)
	if err != nil {
		return nil, err
	}
	if !msg.IsRequest() || !strings.EqualFold(msg.Method, "NOTIFY") {
		return nil, fmt.Errorf("%w: method %q", errBadHeader, msg.Method)
	}
	if err := checkEventHeaders(msg); err != nil {
		return nil, err
	}
	svcID := strings.TrimSpace(msg.Header.Get("SVCID"))
	level := strings.TrimSpace(msg.Header.Get("LVL"))
	if svcID == "" || level == "" {
		return nil, fmt.Errorf("%w: SVCID or LVL", errMissingHeader)
	}
	seq, err := parseSeq(msg, true)
	if err != nil {
		return nil, err
	}
	uuid, _ := ssdp.ParseUSN(msg.Header.Get("USN"))
	if uuid == "" {
		return nil, fmt.Errorf("%w: USN", errMissingHeader)
	}
	props, err := gena.ParsePropertySet(msg.Body)
	if err != nil {
		return nil, err
	}
	return &MulticastNotify{UUID: uuid, ServiceID: svcID, Level: level, Seq: seq, Props: props}, nil
}

// WriteResponse writes the bodiless reply to an event NOTIFY.
func WriteResponse(w io.Writer, status int) error {
	resp := httpmsg.NewResponse(status, "")
	resp.Header.Add("Content-Length", "0")
	resp.Header.Add("Connection", "close")
	if err := resp.Write(w); err != nil {
		return fmt.Errorf("failed to write %d response: %w", status, err)
	}
	return nil
}
