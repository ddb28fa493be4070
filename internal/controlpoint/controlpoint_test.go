package controlpoint

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/config"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/gena"
	"github.com/muurk/upnpcp/internal/httpmsg"
	"github.com/muurk/upnpcp/internal/netif"
	"github.com/muurk/upnpcp/internal/subscription"
)

const rendererXML = `<?xml version="1.0"?>
<root xmlns="urn:schemas-upnp-org:device-1-0">
  <specVersion><major>1</major><minor>0</minor></specVersion>
  <device>
    <deviceType>urn:schemas-upnp-org:device:MediaRenderer:1</deviceType>
    <friendlyName>Kitchen</friendlyName>
    <UDN>uuid:renderer-1</UDN>
    <serviceList>
      <service>
        <serviceType>urn:schemas-upnp-org:service:RenderingControl:1</serviceType>
        <serviceId>urn:upnp-org:serviceId:RenderingControl</serviceId>
        <SCPDURL>/rc.xml</SCPDURL>
        <controlURL>/rc/control</controlURL>
        <eventSubURL>/rc/event</eventSubURL>
      </service>
    </serviceList>
  </device>
</root>`

type recorder struct {
	mu      sync.Mutex
	added   []*device.Device
	removed []*device.Device
	events  []Event
}

func (r *recorder) DeviceAdded(dev *device.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.added = append(r.added, dev)
}

func (r *recorder) DeviceUpdated(*device.Device) {}

func (r *recorder) DeviceRemoved(dev *device.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, dev)
}

func (r *recorder) PropertyChanged(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) eventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// fakeRenderer serves the description and accepts subscriptions.
type fakeRenderer struct {
	mu       sync.Mutex
	callback string
	methods  []string
}

func (f *fakeRenderer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/device.xml":
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(rendererXML))
	case r.URL.Path == "/rc/event":
		f.mu.Lock()
		f.methods = append(f.methods, r.Method)
		if cb := r.Header.Get("Callback"); cb != "" {
			f.callback = strings.Trim(cb, "<>")
		}
		f.mu.Unlock()
		w.Header().Set("SID", "uuid:sub-42")
		w.Header().Set("TIMEOUT", "Second-600")
	default:
		http.NotFound(w, r)
	}
}

func loopback() netif.Interface {
	return netif.Interface{
		Name:  "lo",
		Index: 1,
		V4:    []*net.IPNet{{IP: net.IPv4(127, 0, 0, 1).To4(), Mask: net.CIDRMask(8, 32)}},
	}
}

func newControlPoint(t *testing.T, rec *recorder) *ControlPoint {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Events.Host = "127.0.0.1"
	cp, err := New(cfg, Options{Listener: rec, Interfaces: []netif.Interface{loopback()}})
	require.NoError(t, err)
	return cp
}

func TestSubscribeAndReceiveEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("opens sockets")
	}
	renderer := &fakeRenderer{}
	srv := httptest.NewServer(renderer)
	defer srv.Close()

	rec := &recorder{}
	cp := newControlPoint(t, rec)
	require.NoError(t, cp.Start(context.Background()))
	defer func() {
		cp.Stop()
		_ = cp.Wait()
	}()

	require.NoError(t, cp.AddPinned(context.Background(), srv.URL+"/device.xml"))
	dev := cp.Device("uuid:renderer-1")
	require.NotNil(t, dev)
	require.Len(t, cp.Devices(), 1)
	svc := dev.FindService("urn:upnp-org:serviceId:RenderingControl")
	require.NotNil(t, svc)
	assert.Equal(t, srv.URL+"/rc/event", svc.EventSubURL)

	sid, err := cp.Subscribe(context.Background(), svc, true)
	require.NoError(t, err)
	assert.Equal(t, "uuid:sub-42", sid)

	subs := cp.Subscriptions()
	require.Len(t, subs, 1)
	assert.Equal(t, 600*time.Second, subs[0].Timeout)

	// Deliver an event to the callback the device was given.
	renderer.mu.Lock()
	callback := renderer.callback
	renderer.mu.Unlock()
	u, err := url.Parse(callback)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", u.Hostname())

	conn, err := net.Dial("tcp", u.Host)
	require.NoError(t, err)
	defer conn.Close()
	notify := gena.NewNotify(u.Path, sid, 0, []gena.Property{{Name: "Volume", Value: "10"}})
	_, err = conn.Write(notify.Encode())
	require.NoError(t, err)
	resp, err := httpmsg.Read(bufio.NewReader(conn))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	ev := rec.events[0]
	rec.mu.Unlock()
	assert.Equal(t, svc, ev.Service)
	assert.Equal(t, []gena.Property{{Name: "Volume", Value: "10"}}, ev.Props)

	require.NoError(t, cp.Renew(context.Background(), sid))
	require.NoError(t, cp.Unsubscribe(context.Background(), sid))
	assert.ErrorIs(t, cp.Unsubscribe(context.Background(), sid), subscription.ErrUnknownSubscription)

	renderer.mu.Lock()
	assert.Equal(t, []string{"SUBSCRIBE", "SUBSCRIBE", "UNSUBSCRIBE"}, renderer.methods)
	renderer.mu.Unlock()
}

func TestDispatchMulticastFindsService(t *testing.T) {
	srv := httptest.NewServer(&fakeRenderer{})
	defer srv.Close()

	rec := &recorder{}
	cp := newControlPoint(t, rec)
	cp.exec.Start()
	defer func() { cp.exec.Terminate(); cp.exec.Wait() }()

	require.NoError(t, cp.engine.AddPinned(context.Background(), srv.URL+"/device.xml"))

	props := []gena.Property{{Name: "Mute", Value: "0"}}
	assert.True(t, cp.DispatchMulticast("renderer-1", "urn:upnp-org:serviceId:RenderingControl", gena.LevelInfo, 3, props))
	assert.False(t, cp.DispatchMulticast("renderer-1", "urn:upnp-org:serviceId:Missing", gena.LevelInfo, 3, props))
	assert.False(t, cp.DispatchMulticast("someone-else", "urn:upnp-org:serviceId:RenderingControl", gena.LevelInfo, 3, props))
	assert.False(t, cp.DispatchEvent("uuid:unknown", 1, props))

	require.Eventually(t, func() bool { return rec.eventCount() == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	assert.True(t, rec.events[0].Multicast)
	assert.Equal(t, uint32(3), rec.events[0].Seq)
	rec.mu.Unlock()
}

func TestSubscribeBeforeStart(t *testing.T) {
	cp := newControlPoint(t, &recorder{})
	_, err := cp.Subscribe(context.Background(), &device.Service{EventSubURL: "http://192.0.2.2/evt"}, true)
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Network.Protocol = "ipx"
	_, err := New(cfg, Options{})
	assert.Error(t, err)
}

func TestListenersFanOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ls := Listeners{a, b}
	ls.PropertyChanged(Event{SID: "uuid:x"})
	assert.Equal(t, 1, a.eventCount())
	assert.Equal(t, 1, b.eventCount())
}

func TestStopReturnsWithOpenEventConnection(t *testing.T) {
	if testing.Short() {
		t.Skip("opens sockets")
	}
	cp := newControlPoint(t, &recorder{})
	require.NoError(t, cp.Start(context.Background()))

	// An idle connection keeps its handler in Read until the read timeout.
	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(cp.events.Port())))
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return cp.events.ActiveConnections() == 1 }, time.Second, 5*time.Millisecond)

	start := time.Now()
	cp.Stop()
	assert.Less(t, time.Since(start), time.Second)

	done := make(chan error, 1)
	go func() { done <- cp.Wait() }()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}
