package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/muurk/upnpcp/internal/description"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/devices"
	"github.com/muurk/upnpcp/internal/dgram"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/metrics"
	"github.com/muurk/upnpcp/internal/ssdp"
	"github.com/muurk/upnpcp/internal/workers"
)

const (
	// DefaultFailedLocationTTL is how long a failed LOCATION is not retried
	DefaultFailedLocationTTL = time.Minute

	// DefaultSearchRate is the number of M-SEARCH bursts allowed per second
	DefaultSearchRate = 1.0

	failedLocationCacheSize = 512
	resolveTimeout          = 2 * time.Second
)

// ErrSearchRateLimited is returned by Search when called faster than the
// configured rate.
var ErrSearchRateLimited = errors.New("search rate limited")

var (
	// ErrStopped is returned after Stop.
	ErrStopped = errors.New("discovery stopped")
	// ErrBusy is returned by Search when no I/O slot is free.
	ErrBusy = errors.New("I/O pool busy")
)

// Listener receives device lifecycle changes.
type Listener interface {
	DeviceAdded(dev *device.Device)
	DeviceUpdated(dev *device.Device)
	DeviceRemoved(dev *device.Device)
}

// Searcher sends M-SEARCH requests. *dgram.Servers satisfies it.
type Searcher interface {
	Search(target string) error
}

// Fetcher downloads a device description. *description.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (*description.Result, error)
}

// Options wires an Engine to its collaborators.
type Options struct {
	Servers   Searcher
	Registry  *devices.Registry // created when nil
	Fetcher   Fetcher
	Executors *workers.Executors
	Listener  Listener
	Resolver  ssdp.Resolver
	Metrics   *metrics.Metrics
	Clock     clock.Clock

	// SegmentFilter drops IPv4 sources outside the interface subnet
	SegmentFilter bool

	// SearchRate bounds Search calls per second; zero selects the default
	// and a negative rate disables the limit
	SearchRate float64

	// FailedLocationTTL is how long a failed LOCATION is not fetched again
	FailedLocationTTL time.Duration
}

// Engine is the discovery state machine.
type Engine struct {
	opts     Options
	clock    clock.Clock
	registry *devices.Registry
	exec     *workers.Executors
	log      *zap.Logger

	limiter *rate.Limiter
	failed  *expirable.LRU[string, struct{}]

	mu       sync.Mutex
	inflight map[string]struct{}
	stopped  bool
}

// New creates an engine. When opts.Registry is nil the engine creates one
// whose expiries it reports itself; an external registry must forward its
// expiries to HandleExpired.
func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.FailedLocationTTL <= 0 {
		opts.FailedLocationTTL = DefaultFailedLocationTTL
	}
	if opts.SearchRate == 0 {
		opts.SearchRate = DefaultSearchRate
	}
	if opts.Fetcher == nil {
		opts.Fetcher = description.NewFetcher(0)
	}

	limit := rate.Limit(opts.SearchRate)
	if opts.SearchRate < 0 {
		limit = rate.Inf
	}

	e := &Engine{
		opts:     opts,
		clock:    opts.Clock,
		exec:     opts.Executors,
		log:      logging.Named("discovery"),
		limiter:  rate.NewLimiter(limit, 1),
		failed:   expirable.NewLRU[string, struct{}](failedLocationCacheSize, nil, opts.FailedLocationTTL),
		inflight: make(map[string]struct{}),
	}
	if e.exec == nil {
		e.exec = workers.New(workers.Config{})
		e.exec.Start()
	}
	e.registry = opts.Registry
	if e.registry == nil {
		e.registry = devices.New(devices.Options{Clock: opts.Clock, OnExpired: e.HandleExpired})
	}
	return e
}

// Registry returns the device registry the engine maintains.
func (e *Engine) Registry() *devices.Registry { return e.registry }

// Start launches the registry expiry waiter.
func (e *Engine) Start() {
	e.registry.Start()
}

// Stop stops dispatching and asks the registry waiter to exit. Downloads
// already running finish without reporting.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	e.mu.Unlock()
	e.registry.Stop()
}

// Wait blocks until the registry waiter has exited.
func (e *Engine) Wait() {
	e.registry.Wait()
}

func (e *Engine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// Search multicasts an M-SEARCH for target on every search server. It
// returns at once; the send runs on the I/O pool.
func (e *Engine) Search(target string) error {
	if e.isStopped() {
		return ErrStopped
	}
	if target == "" {
		target = ssdp.All
	}
	if !e.limiter.AllowN(e.clock.Now(), 1) {
		return ErrSearchRateLimited
	}
	if e.opts.Servers == nil {
		return errors.New("no datagram servers configured")
	}

	ok := e.exec.TryGo(func(context.Context) {
		if err := e.opts.Servers.Search(target); err != nil {
			e.log.Warn("M-SEARCH failed", zap.String("target", target), zap.Error(err))
			return
		}
		e.log.Debug("M-SEARCH sent", zap.String("target", target))
	})
	if !ok {
		return ErrBusy
	}
	return nil
}

// HandlePacket runs a received datagram through the filtering pipeline.
// It never blocks on the network: messages whose LOCATION needs a name
// lookup are validated on the I/O pool.
func (e *Engine) HandlePacket(pkt dgram.Packet) {
	if pkt.Role == dgram.RoleEvent || e.isStopped() {
		return
	}
	e.opts.Metrics.DatagramReceived(pkt.Role.String())

	msg, reason, err := Screen(pkt, e.opts.SegmentFilter, e.clock.Now())
	if reason != "" {
		fields := []zap.Field{zap.Error(err)}
		if msg != nil {
			fields = append(fields, zap.String("usn", msg.USN()), zap.String("nts", msg.NTS()), zap.String("server", msg.Server()))
		}
		e.drop(reason, pkt, fields...)
		return
	}

	if msg.IsByeBye() || literalLocation(msg.Location) {
		e.validateAndDispatch(context.Background(), msg)
		return
	}
	if !e.exec.TryGo(func(ctx context.Context) { e.validateAndDispatch(ctx, msg) }) {
		e.log.Debug("I/O pool busy, dropping message", zap.String("usn", msg.USN()))
	}
}

// Screen runs the stateless filters on pkt. It returns the parsed message
// and an empty reason when the message may be dispatched, or the drop
// reason otherwise; err is set only for parse failures. LOCATION
// validation is not included since it may need a name lookup.
func Screen(pkt dgram.Packet, segmentFilter bool, now time.Time) (*ssdp.Message, string, error) {
	msg, err := ssdp.Parse(pkt.Data, pkt.Source, pkt.Local, pkt.Interface.Name, now)
	switch {
	case err != nil:
		return nil, metrics.DropParse, err
	case !msg.MatchesFamily(pkt.V6):
		return msg, metrics.DropFamily, nil
	case segmentFilter && !msg.InSameSegment():
		return msg, metrics.DropSegment, nil
	case msg.IsSearch():
		return msg, metrics.DropEcho, nil
	case msg.HasVendorQuirk():
		return msg, metrics.DropVendorQuirk, nil
	case !(msg.IsAlive() || msg.IsByeBye() || msg.IsResponse()):
		return msg, metrics.DropUnknownKind, nil
	case msg.IsResponse() && msg.HTTP.StatusCode != http.StatusOK:
		return msg, metrics.DropStatus, nil
	case msg.UUID == "":
		return msg, metrics.DropNoUUID, nil
	}
	return msg, "", nil
}

func (e *Engine) drop(reason string, pkt dgram.Packet, fields ...zap.Field) {
	e.opts.Metrics.DatagramDropped(reason)
	if ce := e.log.Check(zap.DebugLevel, "Dropping datagram"); ce != nil {
		ce.Write(append(fields,
			zap.String("reason", reason),
			zap.String("iface", pkt.Interface.Name),
			zap.Stringer("remote_addr", pkt.Source))...)
	}
}

// literalLocation reports whether validating location needs no lookup.
func literalLocation(location string) bool {
	u, err := url.Parse(location)
	if err != nil || u.Hostname() == "" {
		return true
	}
	host, _, _ := strings.Cut(u.Hostname(), "%")
	return net.ParseIP(host) != nil
}

func (e *Engine) validateAndDispatch(ctx context.Context, msg *ssdp.Message) {
	ctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	invalid := msg.HasInvalidLocation(ctx, e.opts.Resolver)
	cancel()
	if invalid {
		e.opts.Metrics.DatagramDropped(metrics.DropLocation)
		e.log.Debug("Dropping message with invalid location",
			zap.String("usn", msg.USN()),
			zap.String("location", msg.Location),
			zap.Stringer("remote_addr", msg.Source))
		return
	}
	e.dispatch(msg)
}

func (e *Engine) dispatch(msg *ssdp.Message) {
	if msg.IsByeBye() {
		e.byebye(msg)
		return
	}

	if dev := e.registry.FindByAnyUDN(msg.UUID); dev != nil {
		if dev.Pinned() && !msg.IsPinned() {
			return
		}
		dev, changed := e.registry.Refresh(msg.UUID, msg.Location, msg.ExpireTime)
		if dev != nil {
			if changed {
				e.log.Info("Device moved", zap.String("udn", dev.UDN), zap.String("location", msg.Location))
				e.notify(func(l Listener) { l.DeviceUpdated(dev) })
			}
			return
		}
	}
	e.download(msg)
}

// byebye removes the root device named by the message UUID. ByeBye for an
// embedded device or a service leaves the tree in place.
func (e *Engine) byebye(msg *ssdp.Message) {
	dev := e.registry.Get(msg.UUID)
	if dev == nil || device.NormalizeUDN(dev.UDN) != device.NormalizeUDN(msg.UUID) {
		return
	}
	if e.registry.Remove(dev.UDN) == nil {
		return
	}
	e.log.Info("Device said goodbye", zap.String("udn", dev.UDN))
	e.opts.Metrics.SetDevices(e.registry.Len())
	e.notify(func(l Listener) { l.DeviceRemoved(dev) })
}

// download describes an unknown device on the I/O pool.
func (e *Engine) download(msg *ssdp.Message) {
	if msg.Location == "" {
		return
	}
	if e.failed.Contains(msg.Location) {
		e.log.Debug("Skipping recently failed location", zap.String("location", msg.Location))
		return
	}

	key := device.NormalizeUDN(msg.UUID)
	e.mu.Lock()
	if _, busy := e.inflight[key]; busy || e.stopped {
		e.mu.Unlock()
		return
	}
	e.inflight[key] = struct{}{}
	e.mu.Unlock()

	ok := e.exec.TryGo(func(ctx context.Context) {
		defer e.finish(key)
		res, err := e.opts.Fetcher.Fetch(ctx, msg.Location)
		e.opts.Metrics.DescriptionFetched(err == nil)
		if err != nil {
			e.failed.Add(msg.Location, struct{}{})
			e.log.Warn("Failed to describe device",
				zap.String("udn", msg.UUID),
				zap.String("location", msg.Location),
				zap.Error(err))
			return
		}
		e.register(msg, res)
	})
	if !ok {
		e.finish(key)
		e.log.Debug("I/O pool busy, deferring download", zap.String("udn", msg.UUID))
	}
}

func (e *Engine) finish(key string) {
	e.mu.Lock()
	delete(e.inflight, key)
	e.mu.Unlock()
}

// register adds a freshly described device and reports it.
func (e *Engine) register(msg *ssdp.Message, res *description.Result) {
	if e.isStopped() {
		return
	}
	dev := res.Device
	var source net.IP
	if msg.Source != nil {
		source = msg.Source.IP
	}
	dev.Refresh(msg.Location, msg.ExpireTime)
	dev.SetOrigin(source, res.LocalAddr, msg.IsPinned())

	replaced := e.registry.Add(dev)
	e.opts.Metrics.SetDevices(e.registry.Len())
	if replaced {
		e.log.Info("Device description replaced", zap.String("udn", dev.UDN))
		e.notify(func(l Listener) { l.DeviceUpdated(dev) })
		return
	}
	e.log.Info("Device added",
		zap.String("udn", dev.UDN),
		zap.String("name", dev.FriendlyName),
		zap.String("location", msg.Location))
	e.notify(func(l Listener) { l.DeviceAdded(dev) })
}

// AddPinned describes the device at location and keeps it until removed.
// Pinned devices never expire and are not validated against a source.
func (e *Engine) AddPinned(ctx context.Context, location string) error {
	if e.isStopped() {
		return ErrStopped
	}
	res, err := e.opts.Fetcher.Fetch(ctx, location)
	e.opts.Metrics.DescriptionFetched(err == nil)
	if err != nil {
		return err
	}
	msg := ssdp.NewPinned(location, res.Device.UDN+"::"+ssdp.RootDevice, e.clock.Now())
	e.register(msg, res)
	return nil
}

// HandleExpired reports a device evicted by the registry.
func (e *Engine) HandleExpired(dev *device.Device) {
	e.opts.Metrics.SetDevices(e.registry.Len())
	e.notify(func(l Listener) { l.DeviceRemoved(dev) })
}

func (e *Engine) notify(fn func(Listener)) {
	if e.opts.Listener == nil {
		return
	}
	l := e.opts.Listener
	e.exec.Callback(func() { fn(l) })
}
