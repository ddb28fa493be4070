package description

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/upnperr"
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

func fastFetcher() *Fetcher {
	f := NewFetcher(2 * time.Second)
	f.RetryDelay = time.Millisecond
	return f
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "UPnP/1.1")
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(rendererXML))
	}))
	defer srv.Close()

	res, err := fastFetcher().Fetch(context.Background(), srv.URL+"/device.xml")
	require.NoError(t, err)

	assert.Equal(t, "uuid:renderer-1", res.Device.UDN)
	assert.Equal(t, srv.URL+"/rc/event", res.Device.Services[0].EventSubURL)
	require.NotNil(t, res.LocalAddr)
	assert.True(t, res.LocalAddr.IsLoopback())
	assert.Equal(t, rendererXML, string(res.Raw))
}

func TestFetchHTTPErrorRetriesOnlyServerErrors(t *testing.T) {
	tests := []struct {
		status    int
		wantCalls int32
	}{
		{http.StatusNotFound, 1},
		{http.StatusServiceUnavailable, 2},
	}
	for _, tt := range tests {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tt.status)
		}))

		_, err := fastFetcher().Fetch(context.Background(), srv.URL+"/device.xml")
		srv.Close()

		assert.True(t, upnperr.IsHTTPError(err))
		assert.Equal(t, tt.status, upnperr.StatusCode(err))
		assert.Equal(t, tt.wantCalls, calls.Load(), "status %d", tt.status)
	}
}

func TestFetchParseErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not xml", "<<<"},
		{"missing UDN", `<root><device><deviceType>urn:x:device:A:1</deviceType></device></root>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := fastFetcher().Fetch(context.Background(), srv.URL)
			assert.True(t, upnperr.IsParseError(err), "got %v", err)
		})
	}

	_, err := Parse([]byte(`<root><device><deviceType>urn:x:device:A:1</deviceType></device></root>`), "http://192.0.2.2/")
	var be *device.BuildError
	assert.True(t, errors.As(err, &be))
}

func TestFetchUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	f := fastFetcher()
	f.MaxRetries = 0
	_, err := f.Fetch(context.Background(), url)
	assert.True(t, upnperr.IsNetworkError(err), "got %v", err)
}
