// Package controlpoint assembles the discovery and eventing components
// into a UPnP control point driven by a config.Config.
package controlpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/config"
	"github.com/muurk/upnpcp/internal/description"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/dgram"
	"github.com/muurk/upnpcp/internal/discovery"
	"github.com/muurk/upnpcp/internal/events"
	"github.com/muurk/upnpcp/internal/gena"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/metrics"
	"github.com/muurk/upnpcp/internal/netif"
	"github.com/muurk/upnpcp/internal/ssdp"
	"github.com/muurk/upnpcp/internal/subscription"
	"github.com/muurk/upnpcp/internal/upnperr"
	"github.com/muurk/upnpcp/internal/workers"
)

// shutdownTimeout bounds waiting for event connections when Start fails.
const shutdownTimeout = 5 * time.Second

var (
	// ErrNotStarted is returned by operations that need the network.
	ErrNotStarted = errors.New("control point not started")
	// ErrNoCallbackAddress is returned by Subscribe when the local address
	// facing the device is unknown.
	ErrNoCallbackAddress = errors.New("no local address known for device")
)

// Options carries collaborators that are not part of the configuration.
type Options struct {
	Listener Listener
	Metrics  *metrics.Metrics
	Clock    clock.Clock

	// Interfaces overrides interface enumeration.
	Interfaces []netif.Interface

	// Resolver resolves LOCATION host names; net.DefaultResolver when nil.
	Resolver ssdp.Resolver
}

// ControlPoint discovers devices and manages event subscriptions.
type ControlPoint struct {
	cfg      *config.Config
	opts     Options
	protocol netif.Protocol
	log      *zap.Logger

	exec      *workers.Executors
	engine    *discovery.Engine
	subs      *subscription.Registry
	client    *gena.Client
	events    *events.Server
	multicast *events.MulticastListener

	mu      sync.Mutex
	servers *dgram.Servers
	started bool
	stopped bool
}

// New builds a control point. Nothing touches the network until Start.
func New(cfg *config.Config, opts Options) (*ControlPoint, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	protocol, err := netif.ParseProtocol(cfg.Network.Protocol)
	if err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}

	cp := &ControlPoint{
		cfg:      cfg,
		opts:     opts,
		protocol: protocol,
		log:      logging.Named("controlpoint"),
		exec: workers.New(workers.Config{
			Callbacks: cfg.Workers.Callbacks,
			IO:        cfg.Workers.IO,
		}),
		client: gena.NewClient(cfg.Discovery.DescriptionTimeout()),
	}

	cp.subs = subscription.New(renewer{cp}, subscription.Options{
		Clock:     opts.Clock,
		OnRemoved: cp.subscriptionRemoved,
	})
	cp.engine = discovery.New(discovery.Options{
		Servers:           serversSearcher{cp},
		Fetcher:           description.NewFetcher(cfg.Discovery.DescriptionTimeout()),
		Executors:         cp.exec,
		Listener:          deviceListener{cp},
		Resolver:          opts.Resolver,
		Metrics:           opts.Metrics,
		Clock:             opts.Clock,
		SegmentFilter:     cfg.Network.SegmentFilter,
		SearchRate:        cfg.Network.SearchRate,
		FailedLocationTTL: cfg.Discovery.FailedLocationTTL(),
	})
	cp.events = events.NewServer(events.Config{
		Host:        cfg.Events.Host,
		Port:        cfg.Events.Port,
		ReadTimeout: cfg.Events.ReadTimeout(),
		Metrics:     opts.Metrics,
	}, cp, cp.exec)
	if cfg.Events.Multicast {
		cp.multicast = events.NewMulticastListener(cp, opts.Metrics)
	}
	return cp, nil
}

// Start opens the sockets, registers pinned devices and sends the first
// search. Pinned devices that cannot be described are logged and skipped.
func (cp *ControlPoint) Start(ctx context.Context) error {
	cp.mu.Lock()
	if cp.started {
		cp.mu.Unlock()
		return nil
	}
	cp.started = true
	cp.mu.Unlock()

	cp.exec.Start()
	if err := cp.events.Start(); err != nil {
		cp.exec.Terminate()
		return err
	}

	ifaces := cp.opts.Interfaces
	if len(ifaces) == 0 {
		var err error
		ifaces, err = netif.List(netif.Options{
			Names:           cp.cfg.Network.Interfaces,
			IncludeLoopback: cp.cfg.Network.IncludeLoopback,
		})
		if err != nil {
			cp.abort()
			return err
		}
	}

	roles := []dgram.Role{dgram.RoleSearch, dgram.RoleNotify}
	if cp.multicast != nil {
		roles = append(roles, dgram.RoleEvent)
	}
	servers := dgram.NewServers(ifaces, cp.protocol, roles, cp.HandlePacket, dgram.Options{
		ReadyTimeout: cp.cfg.Discovery.ReadyTimeout(),
	})
	if err := servers.Start(); err != nil {
		cp.abort()
		return err
	}
	cp.mu.Lock()
	cp.servers = servers
	cp.mu.Unlock()

	cp.engine.Start()
	cp.subs.Start()

	for _, p := range cp.cfg.Pinned {
		if err := cp.engine.AddPinned(ctx, p.Location); err != nil {
			cp.log.Warn("Failed to add pinned device", zap.String("location", p.Location), zap.Error(err))
		}
	}

	if err := cp.engine.Search(cp.cfg.Network.SearchTarget); err != nil {
		cp.log.Warn("Initial search failed", zap.Error(err))
	}
	cp.log.Info("Control point started",
		zap.Int("servers", servers.Len()),
		zap.Int("event_port", cp.events.Port()))
	return nil
}

func (cp *ControlPoint) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = cp.events.Shutdown(ctx)
	cp.exec.Terminate()
}

// Stop requests every component to stop and returns without waiting.
func (cp *ControlPoint) Stop() {
	cp.mu.Lock()
	if cp.stopped {
		cp.mu.Unlock()
		return
	}
	cp.stopped = true
	servers := cp.servers
	cp.mu.Unlock()

	cp.engine.Stop()
	cp.subs.Stop()
	if servers != nil {
		servers.Stop()
	}
	if err := cp.events.Close(); err != nil {
		cp.log.Warn("Failed to close event server", zap.Error(err))
	}
	cp.exec.Terminate()
}

// Wait blocks until every goroutine has exited and returns the receive
// loop errors.
func (cp *ControlPoint) Wait() error {
	cp.mu.Lock()
	servers := cp.servers
	cp.mu.Unlock()

	var err error
	if servers != nil {
		err = multierr.Append(err, servers.Wait())
	}
	cp.engine.Wait()
	cp.subs.Wait()
	cp.events.Wait()
	cp.exec.Wait()
	return err
}

// HandlePacket routes a datagram to discovery or the multicast event
// listener. Capture replay feeds packets through here as well.
func (cp *ControlPoint) HandlePacket(pkt dgram.Packet) {
	if pkt.Role == dgram.RoleEvent {
		if cp.multicast != nil {
			cp.multicast.HandlePacket(pkt)
		}
		return
	}
	cp.engine.HandlePacket(pkt)
}

// Search multicasts an M-SEARCH for target.
func (cp *ControlPoint) Search(target string) error {
	return cp.engine.Search(target)
}

// Devices returns the known root devices.
func (cp *ControlPoint) Devices() []*device.Device {
	return cp.engine.Registry().List()
}

// Device returns the root device whose tree contains udn.
func (cp *ControlPoint) Device(udn string) *device.Device {
	return cp.engine.Registry().FindByAnyUDN(udn)
}

// AddPinned describes and keeps the device at location.
func (cp *ControlPoint) AddPinned(ctx context.Context, location string) error {
	return cp.engine.AddPinned(ctx, location)
}

// Scanner returns a one-shot scanner over the discovery engine.
func (cp *ControlPoint) Scanner(timeout time.Duration, target string) *discovery.Scanner {
	s := discovery.NewScanner(cp.engine)
	if timeout > 0 {
		s.Timeout = timeout
	}
	if target != "" {
		s.Target = target
	}
	return s
}

// Subscriptions returns the active subscriptions.
func (cp *ControlPoint) Subscriptions() []subscription.Subscription {
	return cp.subs.List()
}

// Subscribe subscribes to svc's events and returns the subscription ID.
// With keepRenew the subscription is renewed until Unsubscribe or the
// device goes away.
func (cp *ControlPoint) Subscribe(ctx context.Context, svc *device.Service, keepRenew bool) (string, error) {
	if cp.events.Port() == 0 {
		return "", ErrNotStarted
	}
	if svc == nil || svc.EventSubURL == "" {
		return "", upnperr.NewStateError("service has no event URL", nil)
	}
	local := localAddr(svc.Device())
	if local == nil {
		return "", ErrNoCallbackAddress
	}

	callback := cp.events.CallbackURL(local)
	sid, granted, err := cp.client.Subscribe(ctx, svc.EventSubURL, callback, cp.cfg.Events.SubscriptionTimeout())
	if err != nil {
		return "", fmt.Errorf("subscribe to %s: %w", svc.ServiceID, err)
	}
	if err := cp.subs.Add(sid, svc, granted, keepRenew); err != nil {
		return "", err
	}
	cp.opts.Metrics.SetSubscriptions(cp.subs.Len())
	cp.log.Info("Subscribed",
		zap.String("sid", sid),
		zap.String("service", svc.ServiceID),
		zap.Duration("timeout", granted))
	return sid, nil
}

func localAddr(dev *device.Device) net.IP {
	if dev == nil {
		return nil
	}
	return dev.Root().LocalAddr()
}

// Renew renews sid now.
func (cp *ControlPoint) Renew(ctx context.Context, sid string) error {
	sub, ok := cp.subs.Get(sid)
	if !ok {
		return subscription.ErrUnknownSubscription
	}
	granted, err := renewer{cp}.Renew(ctx, sub)
	if err != nil {
		return err
	}
	return cp.subs.Renew(sid, granted)
}

// Unsubscribe cancels sid. The subscription is forgotten even when the
// device cannot be reached.
func (cp *ControlPoint) Unsubscribe(ctx context.Context, sid string) error {
	sub, ok := cp.subs.Remove(sid)
	if !ok {
		return subscription.ErrUnknownSubscription
	}
	cp.opts.Metrics.SetSubscriptions(cp.subs.Len())
	return renewer{cp}.Unsubscribe(ctx, sub)
}

// SetKeepRenew turns automatic renewal of sid on or off.
func (cp *ControlPoint) SetKeepRenew(sid string, keep bool) error {
	return cp.subs.SetKeepRenew(sid, keep)
}

// DispatchEvent reports a unicast event for a known subscription.
func (cp *ControlPoint) DispatchEvent(sid string, seq uint32, props []gena.Property) bool {
	sub, ok := cp.subs.Get(sid)
	if !ok {
		return false
	}
	cp.propertyChanged(Event{Service: sub.Service, SID: sid, Seq: seq, Props: props})
	return true
}

// DispatchMulticast reports a multicast event for a service of a known
// device.
func (cp *ControlPoint) DispatchMulticast(uuid, serviceID, level string, seq uint32, props []gena.Property) bool {
	root := cp.engine.Registry().FindByAnyUDN(uuid)
	if root == nil {
		return false
	}
	var svc *device.Service
	want := device.NormalizeUDN(uuid)
	root.Visit(func(dev *device.Device) {
		if svc != nil || device.NormalizeUDN(dev.UDN) != want {
			return
		}
		for _, s := range dev.Services {
			if s.ServiceID == serviceID {
				svc = s
				return
			}
		}
	})
	if svc == nil {
		return false
	}
	cp.propertyChanged(Event{Service: svc, UUID: uuid, Level: level, Seq: seq, Props: props, Multicast: true})
	return true
}

func (cp *ControlPoint) propertyChanged(ev Event) {
	if cp.opts.Listener == nil {
		return
	}
	l := cp.opts.Listener
	cp.exec.Callback(func() { l.PropertyChanged(ev) })
}

func (cp *ControlPoint) subscriptionRemoved(sub subscription.Subscription, reason subscription.RemovalReason) {
	cp.opts.Metrics.SetSubscriptions(cp.subs.Len())
	cp.log.Info("Subscription removed", zap.String("sid", sub.SID), zap.Stringer("reason", reason))
}

// serversSearcher sends searches through the servers opened by Start.
type serversSearcher struct{ cp *ControlPoint }

func (s serversSearcher) Search(target string) error {
	s.cp.mu.Lock()
	servers := s.cp.servers
	s.cp.mu.Unlock()
	if servers == nil {
		return ErrNotStarted
	}
	return servers.Search(target)
}

// renewer performs subscription network calls for the registry.
type renewer struct{ cp *ControlPoint }

func (r renewer) Renew(ctx context.Context, sub subscription.Subscription) (time.Duration, error) {
	if sub.Service == nil {
		return 0, upnperr.NewStateError("subscription without service", nil)
	}
	granted, err := r.cp.client.Renew(ctx, sub.Service.EventSubURL, sub.SID, r.cp.cfg.Events.SubscriptionTimeout())
	r.cp.opts.Metrics.Renewal(err == nil)
	return granted, err
}

func (r renewer) Unsubscribe(ctx context.Context, sub subscription.Subscription) error {
	if sub.Service == nil {
		return nil
	}
	return r.cp.client.Unsubscribe(ctx, sub.Service.EventSubURL, sub.SID)
}

// deviceListener drops subscriptions of lost devices before telling the
// application.
type deviceListener struct{ cp *ControlPoint }

func (d deviceListener) DeviceAdded(dev *device.Device) {
	if l := d.cp.opts.Listener; l != nil {
		l.DeviceAdded(dev)
	}
}

func (d deviceListener) DeviceUpdated(dev *device.Device) {
	if l := d.cp.opts.Listener; l != nil {
		l.DeviceUpdated(dev)
	}
}

func (d deviceListener) DeviceRemoved(dev *device.Device) {
	d.cp.subs.RemoveDevice(dev.UDN)
	if l := d.cp.opts.Listener; l != nil {
		l.DeviceRemoved(dev)
	}
}
