package devices

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/device"
)

func newDevice(t *testing.T, udn string, expire time.Time) *device.Device {
	t.Helper()
	dev, err := device.NewBuilder().
		UDN(udn).
		DeviceType("urn:schemas-upnp-org:device:MediaServer:1").
		Embedded(device.NewBuilder().UDN(udn + "-sub").DeviceType("urn:x:device:Sub:1")).
		Location("http://192.0.2.2/d.xml").
		Build()
	require.NoError(t, err)
	dev.Refresh("", expire)
	return dev
}

// advanceUntil moves the mock clock forward in steps until cond holds.
func advanceUntil(t *testing.T, mock *clock.Mock, step time.Duration, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		if cond() {
			return true
		}
		mock.Add(step)
		return cond()
	}, 5*time.Second, 5*time.Millisecond)
}

func TestExpiryFiresOnce(t *testing.T) {
	mock := clock.NewMock()
	var fired atomic.Int32
	var mu sync.Mutex
	var got []string

	reg := New(Options{Clock: mock, OnExpired: func(d *device.Device) {
		fired.Add(1)
		mu.Lock()
		got = append(got, d.UDN)
		mu.Unlock()
	}})
	reg.Start()
	defer func() { reg.Stop(); reg.Wait() }()

	reg.Add(newDevice(t, "uuid:short", mock.Now().Add(100*time.Millisecond)))
	reg.Add(newDevice(t, "uuid:long", mock.Now().Add(time.Hour)))

	advanceUntil(t, mock, time.Second, func() bool { return fired.Load() == 1 })

	assert.Nil(t, reg.Get("uuid:short"))
	assert.NotNil(t, reg.Get("uuid:long"))

	// Further time within the long lifetime must not fire again.
	for i := 0; i < 20; i++ {
		mock.Add(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.EqualValues(t, 1, fired.Load())
	mu.Lock()
	assert.Equal(t, []string{"uuid:short"}, got)
	mu.Unlock()
}

func TestNotEvictedBeforeExpiry(t *testing.T) {
	mock := clock.NewMock()
	var fired atomic.Int32
	reg := New(Options{Clock: mock, OnExpired: func(*device.Device) { fired.Add(1) }})
	reg.Start()
	defer func() { reg.Stop(); reg.Wait() }()

	reg.Add(newDevice(t, "uuid:a", mock.Now().Add(30*time.Second)))
	for i := 0; i < 25; i++ {
		mock.Add(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.Equal(t, 1, reg.Len())
}

func TestRefreshExtendsLifetime(t *testing.T) {
	mock := clock.NewMock()
	var fired atomic.Int32
	reg := New(Options{Clock: mock, OnExpired: func(*device.Device) { fired.Add(1) }})
	reg.Start()
	defer func() { reg.Stop(); reg.Wait() }()

	reg.Add(newDevice(t, "uuid:a", mock.Now().Add(5*time.Second)))

	dev, changed := reg.Refresh("uuid:a-sub", "http://192.0.2.2:8080/d.xml", mock.Now().Add(time.Hour))
	require.NotNil(t, dev, "embedded UDN resolves to the root")
	assert.True(t, changed)
	assert.Equal(t, "http://192.0.2.2:8080/d.xml", dev.Embedded[0].Location())

	for i := 0; i < 30; i++ {
		mock.Add(time.Second)
	}
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, fired.Load())

	unknown, _ := reg.Refresh("uuid:nobody", "", mock.Now())
	assert.Nil(t, unknown)
}

func TestRemoveClearAndLookup(t *testing.T) {
	reg := New(Options{Clock: clock.NewMock()})
	far := time.Now().Add(time.Hour)

	assert.False(t, reg.Add(newDevice(t, "uuid:b", far)))
	assert.True(t, reg.Add(newDevice(t, "uuid:b", far)), "same UDN replaces")
	reg.Add(newDevice(t, "uuid:a", far))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "uuid:a", list[0].UDN)

	assert.Equal(t, "uuid:b", reg.FindByAnyUDN("b-sub").UDN)
	assert.Equal(t, "uuid:b", reg.Get("b").UDN, "uuid prefix is optional")
	assert.Nil(t, reg.FindByAnyUDN("uuid:c"))

	assert.NotNil(t, reg.Remove("uuid:a"))
	assert.Nil(t, reg.Remove("uuid:a"))
	assert.Len(t, reg.Clear(), 1)
	assert.Zero(t, reg.Len())
}

func TestStopBeforeStartAndWait(t *testing.T) {
	reg := New(Options{})
	reg.Stop()
	reg.Wait() // never started, must not block

	reg2 := New(Options{Clock: clock.NewMock()})
	reg2.Start()
	reg2.Stop()
	done := make(chan struct{})
	go func() { reg2.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait did not return after Stop")
	}
}
