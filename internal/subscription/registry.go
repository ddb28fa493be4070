package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/logging"
)

// callTimeout bounds one renew or unsubscribe call from the waiter.
const callTimeout = 30 * time.Second

// Options configures a Registry.
type Options struct {
	Clock     clock.Clock
	Margin    time.Duration
	MinSleep  time.Duration
	OnRemoved func(sub Subscription, reason RemovalReason)
}

// Registry is a monitor over SID to subscription. Network calls are made on
// a snapshot, never under the lock.
type Registry struct {
	renewer Renewer
	clock   clock.Clock
	opts    Options
	log     *zap.Logger

	mu   sync.Mutex
	subs map[string]*Subscription

	ctx      context.Context
	cancel   context.CancelFunc
	wake     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  bool
}

// New creates a registry that renews through renewer.
func New(renewer Renewer, opts Options) *Registry {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	if opts.MinSleep <= 0 {
		opts.MinSleep = DefaultMinSleep
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		renewer: renewer,
		clock:   opts.Clock,
		opts:    opts,
		log:     logging.Named("subscription"),
		subs:    make(map[string]*Subscription),
		ctx:     ctx,
		cancel:  cancel,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

func (r *Registry) signal() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// Add records a subscription that starts now.
func (r *Registry) Add(sid string, svc *device.Service, timeout time.Duration, keepRenew bool) error {
	if sid == "" {
		return ErrEmptySID
	}
	r.mu.Lock()
	r.subs[sid] = &Subscription{
		SID:       sid,
		Service:   svc,
		Start:     r.clock.Now(),
		Timeout:   timeout,
		KeepRenew: keepRenew,
	}
	r.mu.Unlock()
	r.signal()
	return nil
}

// Get returns a copy of the subscription sid.
func (r *Registry) Get(sid string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[sid]
	if !ok {
		return Subscription{}, false
	}
	return *sub, true
}

// Renew records a successful renewal made outside the waiter: the
// subscription restarts now with timeout.
func (r *Registry) Renew(sid string, timeout time.Duration) error {
	r.mu.Lock()
	sub, ok := r.subs[sid]
	if ok {
		sub.Start = r.clock.Now()
		sub.Timeout = timeout
		sub.FailCount = 0
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSubscription
	}
	r.signal()
	return nil
}

// SetKeepRenew turns automatic renewal of sid on or off.
func (r *Registry) SetKeepRenew(sid string, keep bool) error {
	r.mu.Lock()
	sub, ok := r.subs[sid]
	if ok {
		sub.KeepRenew = keep
	}
	r.mu.Unlock()
	if !ok {
		return ErrUnknownSubscription
	}
	r.signal()
	return nil
}

// Remove forgets sid without cancelling it.
func (r *Registry) Remove(sid string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[sid]
	if !ok {
		return Subscription{}, false
	}
	delete(r.subs, sid)
	return *sub, true
}

// RemoveDevice forgets every subscription to a service of the device tree
// rooted at udn and reports each one as DeviceLost.
func (r *Registry) RemoveDevice(udn string) []Subscription {
	want := device.NormalizeUDN(udn)
	r.mu.Lock()
	var removed []Subscription
	for sid, sub := range r.subs {
		if sub.Service == nil || sub.Service.Device() == nil {
			continue
		}
		if device.NormalizeUDN(sub.Service.Device().Root().UDN) == want {
			removed = append(removed, *sub)
			delete(r.subs, sid)
		}
	}
	r.mu.Unlock()

	for _, sub := range removed {
		r.log.Info("Dropping subscription of lost device", zap.String("sid", sub.SID), zap.String("udn", udn))
		r.report(sub, DeviceLost)
	}
	return removed
}

// List returns copies of all subscriptions ordered by SID.
func (r *Registry) List() []Subscription {
	r.mu.Lock()
	out := make([]Subscription, 0, len(r.subs))
	for _, sub := range r.subs {
		out = append(out, *sub)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].SID < out[j].SID })
	return out
}

// Len returns the number of subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs)
}

// Start launches the waiter.
func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run()
}

// Stop asks the waiter to exit, cancelling any call in flight, and returns
// at once.
func (r *Registry) Stop() {
	r.stopOnce.Do(r.cancel)
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

func (r *Registry) report(sub Subscription, reason RemovalReason) {
	if r.opts.OnRemoved != nil {
		r.opts.OnRemoved(sub, reason)
	}
}

func (r *Registry) run() {
	defer close(r.done)
	for {
		next, ok := r.cycle()
		if r.ctx.Err() != nil {
			return
		}
		if !ok {
			select {
			case <-r.wake:
				continue
			case <-r.ctx.Done():
				return
			}
		}

		sleep := next.Sub(r.clock.Now())
		if sleep < r.opts.MinSleep {
			sleep = r.opts.MinSleep
		}
		timer := r.clock.Timer(sleep)
		select {
		case <-timer.C:
		case <-r.wake:
			timer.Stop()
		case <-r.ctx.Done():
			timer.Stop()
			return
		}
	}
}

// cycle renews what is due, drops what lapsed, and returns the next action
// time. ok is false when the registry is empty.
func (r *Registry) cycle() (next time.Time, ok bool) {
	now := r.clock.Now()

	r.mu.Lock()
	var due []Subscription
	for _, sub := range r.subs {
		if sub.KeepRenew && !NextRenewal(*sub, r.opts.Margin).After(now) {
			due = append(due, *sub)
		}
	}
	r.mu.Unlock()

	for _, sub := range due {
		if r.ctx.Err() != nil {
			return time.Time{}, false
		}
		r.renew(sub)
	}

	now = r.clock.Now()
	r.mu.Lock()
	var expired []Subscription
	for sid, sub := range r.subs {
		if sub.ExpiresAt().Before(now) {
			expired = append(expired, *sub)
			delete(r.subs, sid)
		}
	}
	for _, sub := range r.subs {
		at := sub.ExpiresAt()
		if sub.KeepRenew {
			if renewAt := NextRenewal(*sub, r.opts.Margin); renewAt.Before(at) {
				at = renewAt
			}
		}
		if !ok || at.Before(next) {
			next, ok = at, true
		}
	}
	r.mu.Unlock()

	for _, sub := range expired {
		r.log.Info("Subscription expired", zap.String("sid", sub.SID))
		ctx, cancel := context.WithTimeout(r.ctx, callTimeout)
		if err := r.renewer.Unsubscribe(ctx, sub); err != nil {
			r.log.Debug("Unsubscribe of expired subscription failed", zap.String("sid", sub.SID), zap.Error(err))
		}
		cancel()
		r.report(sub, Expired)
	}
	return next, ok
}

// renew runs one renewal of the snapshot sub and applies the outcome to
// the live record, if it is still there.
func (r *Registry) renew(sub Subscription) {
	ctx, cancel := context.WithTimeout(r.ctx, callTimeout)
	granted, err := r.renewer.Renew(ctx, sub)
	cancel()

	r.mu.Lock()
	live, ok := r.subs[sub.SID]
	if !ok || !live.Start.Equal(sub.Start) {
		// Removed or renewed by someone else meanwhile.
		r.mu.Unlock()
		return
	}
	if err == nil {
		live.Start = r.clock.Now()
		if granted > 0 {
			live.Timeout = granted
		}
		live.FailCount = 0
		timeout := live.Timeout
		r.mu.Unlock()
		r.log.Debug("Subscription renewed", zap.String("sid", sub.SID), zap.Duration("timeout", timeout))
		return
	}

	live.FailCount++
	failed := live.FailCount >= RetryCount
	dropped := *live
	if failed {
		delete(r.subs, sub.SID)
	}
	r.mu.Unlock()

	r.log.Warn("Subscription renewal failed",
		zap.String("sid", sub.SID),
		zap.Int("fail_count", dropped.FailCount),
		zap.Error(err))
	if failed {
		r.report(dropped, RenewFailed)
	}
}
