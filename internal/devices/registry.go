// Package devices keeps the discovered device trees and expires them when
// their advertisement lifetime runs out.
package devices

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/logging"
)

// Default timings
const (
	DefaultMargin   = 10 * time.Second
	DefaultMinSleep = time.Second
)

// Options configures a Registry.
type Options struct {
	Clock     clock.Clock
	Margin    time.Duration // slack added after the earliest expiry
	MinSleep  time.Duration // floor of the waiter sleep
	OnExpired func(*device.Device)
}

// Registry is a monitor over UDN to root device. A background waiter
// evicts devices whose expiry time has passed and reports each one to
// OnExpired on the waiter goroutine, so the callback must be quick.
type Registry struct {
	clock clock.Clock
	opts  Options
	log   *zap.Logger

	mu      sync.Mutex
	devices map[string]*device.Device

	wake     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a registry. Start launches the waiter.
func New(opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	if opts.MinSleep <= 0 {
		opts.MinSleep = DefaultMinSleep
	}
	return &Registry{
		clock:   opts.Clock,
		opts:    opts,
		log:     logging.Named("devices"),
		devices: make(map[string]*device.Device),
		wake:    make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func key(udn string) string { return device.NormalizeUDN(udn) }

func (r *Registry) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Add inserts or replaces a root device and wakes the waiter. It reports
// whether a device with the same UDN was replaced.
func (r *Registry) Add(dev *device.Device) bool {
	r.mu.Lock()
	_, replaced := r.devices[key(dev.UDN)]
	r.devices[key(dev.UDN)] = dev
	r.mu.Unlock()
	r.signal()
	return replaced
}

// Get returns the root device with udn.
func (r *Registry) Get(udn string) *device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.devices[key(udn)]
}

// FindByAnyUDN returns the root device whose tree contains udn.
func (r *Registry) FindByAnyUDN(udn string) *device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	if dev, ok := r.devices[key(udn)]; ok {
		return dev
	}
	for _, dev := range r.devices {
		if dev.Contains(udn) {
			return dev
		}
	}
	return nil
}

// Refresh updates location and expiry of the tree containing udn in place.
// It returns the root, or nil when unknown, and whether the location changed.
func (r *Registry) Refresh(udn, location string, expire time.Time) (*device.Device, bool) {
	r.mu.Lock()
	var dev *device.Device
	if d, ok := r.devices[key(udn)]; ok {
		dev = d
	} else {
		for _, d := range r.devices {
			if d.Contains(udn) {
				dev = d
				break
			}
		}
	}
	var changed bool
	if dev != nil {
		// Under the registry lock so updates for one UDN apply in receipt order.
		changed = dev.Refresh(location, expire)
	}
	r.mu.Unlock()

	if dev != nil {
		r.signal()
	}
	return dev, changed
}

// Remove deletes the root device with udn and returns it.
func (r *Registry) Remove(udn string) *device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[key(udn)]
	if !ok {
		return nil
	}
	delete(r.devices, key(udn))
	return dev
}

// Clear removes every device and returns them.
func (r *Registry) Clear() []*device.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*device.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	r.devices = make(map[string]*device.Device)
	return out
}

// List returns the root devices ordered by UDN.
func (r *Registry) List() []*device.Device {
	r.mu.Lock()
	out := make([]*device.Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out = append(out, dev)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UDN < out[j].UDN })
	return out
}

// Len returns the number of root devices.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Start launches the expiry waiter.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run()
}

// Stop asks the waiter to exit and returns at once.
func (r *Registry) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Wait blocks until the waiter has exited.
func (r *Registry) Wait() {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if started {
		<-r.done
	}
}

func (r *Registry) run() {
	defer close(r.done)
	for {
		next, ok := r.expire()
		if !ok {
			// Empty: block until something is added.
			select {
			case <-r.wake:
				continue
			case <-r.stop:
				return
			}
		}

		sleep := next.Add(r.opts.Margin).Sub(r.clock.Now())
		if sleep < r.opts.MinSleep {
			sleep = r.opts.MinSleep
		}
		timer := r.clock.Timer(sleep)
		select {
		case <-timer.C:
		case <-r.wake:
			timer.Stop()
		case <-r.stop:
			timer.Stop()
			return
		}
	}
}

// expire evicts lapsed devices, reports them, and returns the earliest
// remaining expiry. ok is false when the registry is empty.
func (r *Registry) expire() (next time.Time, ok bool) {
	now := r.clock.Now()

	r.mu.Lock()
	var expired []*device.Device
	for k, dev := range r.devices {
		exp := dev.ExpireTime()
		if exp.Before(now) {
			delete(r.devices, k)
			expired = append(expired, dev)
			continue
		}
		if !ok || exp.Before(next) {
			next, ok = exp, true
		}
	}
	r.mu.Unlock()

	for _, dev := range expired {
		r.log.Info("Device expired", zap.String("udn", dev.UDN), zap.String("location", dev.Location()))
		if r.opts.OnExpired != nil {
			r.opts.OnExpired(dev)
		}
	}
	return next, ok
}
