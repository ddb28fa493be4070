// Package subscription keeps GENA subscriptions alive. A background waiter
// renews kept-alive subscriptions ahead of their expiry, backs off after a
// failed renewal, and drops subscriptions that lapse or keep failing.
package subscription

import (
	"context"
	"errors"
	"time"

	"github.com/muurk/upnpcp/internal/device"
)

// RetryCount is the number of consecutive failed renewals after which a
// subscription is dropped.
const RetryCount = 2

// Default timings
const (
	DefaultMargin   = 10 * time.Second
	DefaultMinSleep = time.Second
)

var (
	// ErrEmptySID is returned by Add without a subscription ID.
	ErrEmptySID = errors.New("empty subscription ID")
	// ErrUnknownSubscription is returned for a SID the registry does not hold.
	ErrUnknownSubscription = errors.New("unknown subscription")
)

// Subscription is one active subscription. Values handed out by the
// registry are copies.
type Subscription struct {
	SID       string
	Service   *device.Service
	Start     time.Time
	Timeout   time.Duration
	KeepRenew bool
	FailCount int
}

// ExpiresAt returns when the publisher drops the subscription.
func (s Subscription) ExpiresAt() time.Time {
	return s.Start.Add(s.Timeout)
}

// NextRenewal returns when sub should be renewed. The interval grows with
// each failure, so a failed renewal is retried later than the first
// attempt but still before expiry. Renewal is pulled margin ahead of the
// interval end unless the interval is shorter than two margins, in which
// case it happens halfway.
func NextRenewal(sub Subscription, margin time.Duration) time.Time {
	interval := sub.Timeout * time.Duration(sub.FailCount+1) / RetryCount
	if interval >= 2*margin {
		return sub.Start.Add(interval - margin)
	}
	return sub.Start.Add(interval / 2)
}

// Renewer performs the network side of renewal and cancellation.
type Renewer interface {
	// Renew extends sub and returns the timeout granted.
	Renew(ctx context.Context, sub Subscription) (time.Duration, error)
	Unsubscribe(ctx context.Context, sub Subscription) error
}

// RemovalReason says why the registry dropped a subscription.
type RemovalReason int

const (
	// Expired subscriptions lapsed without renewal and were cancelled
	Expired RemovalReason = iota
	// RenewFailed subscriptions failed RetryCount renewals in a row
	RenewFailed
	// DeviceLost subscriptions belonged to a device that went away
	DeviceLost
)

func (r RemovalReason) String() string {
	switch r {
	case Expired:
		return "expired"
	case RenewFailed:
		return "renew failed"
	case DeviceLost:
		return "device lost"
	default:
		return "unknown"
	}
}
