package subscription

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/upnpcp/internal/device"
)

type fakeRenewer struct {
	mu           sync.Mutex
	renewErr     error
	granted      time.Duration
	renews       []string
	unsubscribed []string
}

func (f *fakeRenewer) Renew(_ context.Context, sub Subscription) (time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.renews = append(f.renews, sub.SID)
	return f.granted, f.renewErr
}

func (f *fakeRenewer) Unsubscribe(_ context.Context, sub Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unsubscribed = append(f.unsubscribed, sub.SID)
	return nil
}

func (f *fakeRenewer) counts() (renews, unsubscribes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.renews), len(f.unsubscribed)
}

type removal struct {
	sid    string
	reason RemovalReason
}

type removals struct {
	mu  sync.Mutex
	got []removal
}

func (r *removals) add(sub Subscription, reason RemovalReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, removal{sub.SID, reason})
}

func (r *removals) list() []removal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]removal(nil), r.got...)
}

func newService(t *testing.T, udn string) *device.Service {
	t.Helper()
	dev, err := device.NewBuilder().
		UDN(udn).
		DeviceType("urn:schemas-upnp-org:device:MediaRenderer:1").
		Service(device.Service{
			ServiceType: "urn:schemas-upnp-org:service:RenderingControl:1",
			ServiceID:   "urn:upnp-org:serviceId:RenderingControl",
			EventSubURL: "http://192.0.2.2/evt",
		}).
		Build()
	require.NoError(t, err)
	svc := dev.FindService("urn:upnp-org:serviceId:RenderingControl")
	require.NotNil(t, svc)
	return svc
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

func newRegistry(t *testing.T, renewer Renewer) (*Registry, *clock.Mock, *removals) {
	t.Helper()
	mock := clock.NewMock()
	rm := &removals{}
	reg := New(renewer, Options{Clock: mock, OnRemoved: rm.add})
	reg.Start()
	t.Cleanup(func() {
		reg.Stop()
		reg.Wait()
	})
	return reg, mock, rm
}

func TestNextRenewal(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		timeout time.Duration
		fails   int
		want    time.Duration
	}{
		{"first renewal pulled ahead by margin", 1800 * time.Second, 0, 890 * time.Second},
		{"after one failure", 1800 * time.Second, 1, 1790 * time.Second},
		{"short interval renews halfway", 30 * time.Second, 0, 7500 * time.Millisecond},
		{"short interval after failure", 30 * time.Second, 1, 15 * time.Second},
		{"boundary uses margin", 40 * time.Second, 0, 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := Subscription{Start: start, Timeout: tt.timeout, FailCount: tt.fails}
			assert.Equal(t, start.Add(tt.want), NextRenewal(sub, DefaultMargin))
		})
	}
}

func TestNextRenewalBacksOff(t *testing.T) {
	start := time.Unix(0, 0)
	for _, timeout := range []time.Duration{5 * time.Second, 30 * time.Second, 300 * time.Second, 1800 * time.Second} {
		first := NextRenewal(Subscription{Start: start, Timeout: timeout}, DefaultMargin)
		retry := NextRenewal(Subscription{Start: start, Timeout: timeout, FailCount: 1}, DefaultMargin)
		assert.True(t, retry.After(first), "timeout %s", timeout)
		assert.False(t, retry.After(start.Add(timeout)), "retry before expiry for %s", timeout)
	}
}

func TestAddRequiresSID(t *testing.T) {
	reg := New(&fakeRenewer{}, Options{Clock: clock.NewMock()})
	assert.ErrorIs(t, reg.Add("", nil, time.Minute, true), ErrEmptySID)
	assert.ErrorIs(t, reg.Renew("uuid:nope", time.Minute), ErrUnknownSubscription)
	assert.ErrorIs(t, reg.SetKeepRenew("uuid:nope", true), ErrUnknownSubscription)
	assert.Zero(t, reg.Len())
}

func TestRenewSucceeds(t *testing.T) {
	renewer := &fakeRenewer{granted: 120 * time.Second}
	reg, mock, rm := newRegistry(t, renewer)
	require.NoError(t, reg.Add("uuid:s1", newService(t, "uuid:dev"), 100*time.Second, true))

	advanceUntil(t, mock, time.Second, func() bool { r, _ := renewer.counts(); return r >= 1 })

	require.Eventually(t, func() bool {
		sub, ok := reg.Get("uuid:s1")
		return ok && sub.Timeout == 120*time.Second
	}, time.Second, 5*time.Millisecond)
	sub, _ := reg.Get("uuid:s1")
	assert.Zero(t, sub.FailCount)
	assert.Empty(t, rm.list())
}

func TestRenewFailuresDropWithoutUnsubscribe(t *testing.T) {
	renewer := &fakeRenewer{renewErr: errors.New("connection refused")}
	reg, mock, rm := newRegistry(t, renewer)
	require.NoError(t, reg.Add("uuid:s1", newService(t, "uuid:dev"), 100*time.Second, true))
	start := mock.Now()

	advanceUntil(t, mock, time.Second, func() bool { return reg.Len() == 0 })

	renews, unsubscribes := renewer.counts()
	assert.Equal(t, RetryCount, renews)
	assert.Zero(t, unsubscribes)
	assert.Equal(t, []removal{{"uuid:s1", RenewFailed}}, rm.list())
	assert.True(t, mock.Now().Before(start.Add(100*time.Second)), "dropped before the subscription lapsed")
}

func TestExpiredSubscriptionIsCancelled(t *testing.T) {
	renewer := &fakeRenewer{}
	reg, mock, rm := newRegistry(t, renewer)
	require.NoError(t, reg.Add("uuid:s1", newService(t, "uuid:dev"), 30*time.Second, false))

	advanceUntil(t, mock, time.Second, func() bool { return reg.Len() == 0 })

	renews, unsubscribes := renewer.counts()
	assert.Zero(t, renews)
	assert.Equal(t, 1, unsubscribes)
	assert.Equal(t, []removal{{"uuid:s1", Expired}}, rm.list())
}

func TestSetKeepRenewWakesWaiter(t *testing.T) {
	renewer := &fakeRenewer{granted: time.Hour}
	reg, mock, _ := newRegistry(t, renewer)
	require.NoError(t, reg.Add("uuid:s1", newService(t, "uuid:dev"), 100*time.Second, false))

	mock.Add(45 * time.Second)
	require.NoError(t, reg.SetKeepRenew("uuid:s1", true))
	advanceUntil(t, mock, time.Second, func() bool { r, _ := renewer.counts(); return r == 1 })

	sub, ok := reg.Get("uuid:s1")
	require.True(t, ok)
	assert.True(t, sub.KeepRenew)
}

func TestExternalRenewResetsStart(t *testing.T) {
	reg := New(&fakeRenewer{}, Options{Clock: clock.NewMock()})
	require.NoError(t, reg.Add("uuid:s1", nil, time.Minute, true))
	mock := reg.clock.(*clock.Mock)
	mock.Add(30 * time.Second)

	require.NoError(t, reg.Renew("uuid:s1", 2*time.Minute))
	sub, _ := reg.Get("uuid:s1")
	assert.Equal(t, mock.Now(), sub.Start)
	assert.Equal(t, 2*time.Minute, sub.Timeout)
	assert.Equal(t, mock.Now().Add(2*time.Minute), sub.ExpiresAt())
}

func TestRemoveDevice(t *testing.T) {
	reg, _, rm := newRegistry(t, &fakeRenewer{})
	require.NoError(t, reg.Add("uuid:a", newService(t, "uuid:dev-1"), time.Hour, true))
	require.NoError(t, reg.Add("uuid:b", newService(t, "uuid:dev-2"), time.Hour, true))

	removed := reg.RemoveDevice("dev-1")
	require.Len(t, removed, 1)
	assert.Equal(t, "uuid:a", removed[0].SID)
	assert.Equal(t, []removal{{"uuid:a", DeviceLost}}, rm.list())

	subs := reg.List()
	require.Len(t, subs, 1)
	assert.Equal(t, "uuid:b", subs[0].SID)

	_, ok := reg.Remove("uuid:b")
	assert.True(t, ok)
	assert.Zero(t, reg.Len())
}

func TestRemovalReasonString(t *testing.T) {
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "renew failed", RenewFailed.String())
	assert.Equal(t, "device lost", DeviceLost.String())
}
