// Package metrics exports control point counters to Prometheus.
//
// A nil *Metrics is valid and records nothing, so components take one
// unconditionally.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "upnpcp"

// Drop reasons for DatagramDropped.
const (
	DropParse       = "parse"
	DropFamily      = "family"
	DropSegment     = "segment"
	DropEcho        = "echo"
	DropVendorQuirk = "vendor_quirk"
	DropLocation    = "invalid_location"
	DropNoUUID      = "no_uuid"
	DropUnknownKind = "unknown_kind"
	DropStatus      = "status"
)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	datagrams     *prometheus.CounterVec
	dropped       *prometheus.CounterVec
	devices       prometheus.Gauge
	descriptions  *prometheus.CounterVec
	subscriptions prometheus.Gauge
	renewals      *prometheus.CounterVec
	events        *prometheus.CounterVec
}

// New creates the collectors and registers them with Go runtime metrics.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		datagrams: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_received_total",
			Help:      "SSDP and multicast event datagrams received, by server role.",
		}, []string{"role"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datagrams_dropped_total",
			Help:      "Datagrams discarded by the discovery filters, by reason.",
		}, []string{"reason"}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "devices",
			Help:      "Root devices currently known.",
		}),
		descriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "description_fetches_total",
			Help:      "Device description downloads, by result.",
		}, []string{"result"}),
		subscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscriptions",
			Help:      "Active GENA subscriptions.",
		}),
		renewals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscription_renewals_total",
			Help:      "Subscription renewals, by result.",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "GENA events received, by delivery path and result.",
		}, []string{"path", "result"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		m.datagrams, m.dropped, m.devices, m.descriptions,
		m.subscriptions, m.renewals, m.events,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// DatagramReceived counts a datagram on a server role.
func (m *Metrics) DatagramReceived(role string) {
	if m == nil {
		return
	}
	m.datagrams.WithLabelValues(role).Inc()
}

// DatagramDropped counts a filtered datagram.
func (m *Metrics) DatagramDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

// SetDevices sets the known root device count.
func (m *Metrics) SetDevices(n int) {
	if m == nil {
		return
	}
	m.devices.Set(float64(n))
}

// DescriptionFetched counts a description download.
func (m *Metrics) DescriptionFetched(ok bool) {
	if m == nil {
		return
	}
	m.descriptions.WithLabelValues(result(ok)).Inc()
}

// SetSubscriptions sets the active subscription count.
func (m *Metrics) SetSubscriptions(n int) {
	if m == nil {
		return
	}
	m.subscriptions.Set(float64(n))
}

// Renewal counts a subscription renewal attempt.
func (m *Metrics) Renewal(ok bool) {
	if m == nil {
		return
	}
	m.renewals.WithLabelValues(result(ok)).Inc()
}

// Event counts an event on path ("unicast" or "multicast").
func (m *Metrics) Event(path string, ok bool) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(path, result(ok)).Inc()
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
