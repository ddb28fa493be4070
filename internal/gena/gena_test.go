package gena

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/httpmsg"
	"github.com/muurk/upnpcp/internal/upnperr"
)

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"Second-1800", 1800 * time.Second, false},
		{"second-30", 30 * time.Second, false},
		{" Second-infinite ", Infinite, false},
		{"Second-0", 0, true},
		{"Second-", 0, true},
		{"Minute-5", 0, true},
		{"1800", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeout(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatTimeout(t *testing.T) {
	assert.Equal(t, "Second-1800", FormatTimeout(30*time.Minute))
	assert.Equal(t, "Second-2", FormatTimeout(1500*time.Millisecond))
	assert.Equal(t, "Second-1", FormatTimeout(0))
	assert.Equal(t, "Second-infinite", FormatTimeout(Infinite))
}

const volumeEvent = `<?xml version="1.0"?>
<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0">
  <e:property><Volume>10</Volume></e:property>
  <e:property><LastChange>&lt;Event&gt;x&lt;/Event&gt;</LastChange></e:property>
</e:propertyset>`

func TestParsePropertySet(t *testing.T) {
	props, err := ParsePropertySet([]byte(volumeEvent))
	require.NoError(t, err)
	assert.Equal(t, []Property{
		{Name: "Volume", Value: "10"},
		{Name: "LastChange", Value: "<Event>x</Event>"},
	}, props)
}

func TestParsePropertySetWithoutPrefix(t *testing.T) {
	body := `<propertyset><property><Mute>1</Mute></property></propertyset>`
	props, err := ParsePropertySet([]byte(body))
	require.NoError(t, err)
	assert.Equal(t, []Property{{Name: "Mute", Value: "1"}}, props)
}

func TestParsePropertySetErrors(t *testing.T) {
	tests := map[string]string{
		"empty":        "",
		"no props":     `<e:propertyset xmlns:e="urn:schemas-upnp-org:event-1-0"></e:propertyset>`,
		"self closing": `<propertyset/>`,
		"wrong root":   `<root><property><A>1</A></property></root>`,
		"truncated":    `<propertyset><property><A>1</A>`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParsePropertySet([]byte(body))
			require.Error(t, err)
			assert.True(t, upnperr.IsParseError(err))
		})
	}

	_, err := ParsePropertySet([]byte(`<propertyset></propertyset>`))
	assert.True(t, errors.Is(err, ErrEmptyPropertySet))
}

func TestEncodePropertySetRoundTrip(t *testing.T) {
	in := []Property{{Name: "Volume", Value: "10"}, {Name: "Title", Value: "Tom & Jerry <live>"}}
	out, err := ParsePropertySet(EncodePropertySet(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestNewNotify(t *testing.T) {
	msg := NewNotify("", "uuid-123", 5, []Property{{Name: "Volume", Value: "10"}})
	raw := string(msg.Encode())
	assert.True(t, strings.HasPrefix(raw, "NOTIFY / HTTP/1.1\r\n"))

	parsed, err := httpmsg.ReadDatagram(msg.Encode())
	require.NoError(t, err)
	assert.Equal(t, "uuid-123", parsed.Header.Get("SID"))
	assert.Equal(t, "5", parsed.Header.Get("SEQ"))
	assert.Equal(t, NTEvent, parsed.Header.Get("NT"))
	props, err := ParsePropertySet(parsed.Body)
	require.NoError(t, err)
	assert.Equal(t, []Property{{Name: "Volume", Value: "10"}}, props)
}

func TestNewMulticastNotify(t *testing.T) {
	msg := NewMulticastNotify("uuid:dev-1", "urn:upnp-org:serviceId:RenderingControl", LevelInfo, 7, nil, false)
	assert.Equal(t, "239.255.255.246:7900", msg.Header.Get("HOST"))
	assert.Equal(t, "7", msg.Header.Get("SEQ"))
	assert.Equal(t, LevelInfo, msg.Header.Get("LVL"))
}

func TestClientSubscribe(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(context.Background())
		w.Header().Set("SID", "uuid:sub-1")
		w.Header().Set("TIMEOUT", "Second-300")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(time.Second)
	sid, granted, err := client.Subscribe(context.Background(), srv.URL+"/evt", "http://192.0.2.3:4004/", 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "uuid:sub-1", sid)
	assert.Equal(t, 300*time.Second, granted)

	require.NotNil(t, got)
	assert.Equal(t, "SUBSCRIBE", got.Method)
	assert.Equal(t, "/evt", got.URL.Path)
	assert.Equal(t, "<http://192.0.2.3:4004/>", got.Header.Get("Callback"))
	assert.Equal(t, "upnp:event", got.Header.Get("Nt"))
	assert.Equal(t, "Second-1800", got.Header.Get("Timeout"))
	assert.Contains(t, got.Header.Get("User-Agent"), "UPnP/1.1")
}

func TestClientSubscribeWithoutSID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	_, _, err := NewClient(time.Second).Subscribe(context.Background(), srv.URL, "http://192.0.2.3/", 0)
	require.Error(t, err)
	assert.True(t, upnperr.IsProtocolError(err))
}

func TestClientRenewAndUnsubscribe(t *testing.T) {
	var methods []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method+" "+r.Header.Get("Sid"))
		if r.Method == "SUBSCRIBE" {
			assert.Empty(t, r.Header.Get("Callback"))
			assert.Empty(t, r.Header.Get("Nt"))
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewClient(time.Second)
	granted, err := client.Renew(context.Background(), srv.URL, "uuid:sub-1", 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, granted, "requested timeout used when TIMEOUT is absent")

	require.NoError(t, client.Unsubscribe(context.Background(), srv.URL, "uuid:sub-1"))
	assert.Equal(t, []string{"SUBSCRIBE uuid:sub-1", "UNSUBSCRIBE uuid:sub-1"}, methods)
}

func TestClientErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPreconditionFailed)
	}))
	defer srv.Close()

	client := NewClient(time.Second)
	_, err := client.Renew(context.Background(), srv.URL, "uuid:gone", time.Minute)
	require.Error(t, err)
	assert.True(t, upnperr.IsHTTPError(err))
	assert.Equal(t, http.StatusPreconditionFailed, upnperr.StatusCode(err))
	assert.False(t, upnperr.IsRetryable(err))

	_, err = client.Renew(context.Background(), srv.URL, "", time.Minute)
	assert.True(t, upnperr.IsStateError(err))
	assert.True(t, upnperr.IsStateError(client.Unsubscribe(context.Background(), srv.URL, "")))
}
