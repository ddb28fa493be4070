package events

import (
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/dgram"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/metrics"
)

// MulticastListener turns multicast event datagrams into dispatches. Use
// HandlePacket as the handler of RoleEvent datagram servers.
type MulticastListener struct {
	dispatcher Dispatcher
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// NewMulticastListener creates a listener feeding dispatcher.
func NewMulticastListener(dispatcher Dispatcher, m *metrics.Metrics) *MulticastListener {
	return &MulticastListener{
		dispatcher: dispatcher,
		metrics:    m,
		log:        logging.Named("events"),
	}
}

// HandlePacket parses and dispatches one datagram. Invalid datagrams are
// dropped.
func (l *MulticastListener) HandlePacket(pkt dgram.Packet) {
	if pkt.Role != dgram.RoleEvent {
		return
	}
	l.metrics.DatagramReceived(pkt.Role.String())

	notify, err := ParseMulticastNotify(pkt.Data)
	if err != nil {
		l.metrics.Event("multicast", false)
		l.log.Debug("Dropping multicast event",
			zap.String("iface", pkt.Interface.Name),
			zap.Stringer("remote_addr", pkt.Source),
			zap.Error(err))
		return
	}
	ok := l.dispatcher.DispatchMulticast(notify.UUID, notify.ServiceID, notify.Level, notify.Seq, notify.Props)
	l.metrics.Event("multicast", ok)
}
