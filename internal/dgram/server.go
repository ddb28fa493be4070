package dgram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/netif"
)

var (
	// ErrNotReady is returned by Send when the socket did not come up within
	// the ready timeout.
	ErrNotReady = errors.New("datagram server not ready")
	// ErrStopped is returned by Send after Stop.
	ErrStopped = errors.New("datagram server stopped")
	// ErrNoAddress is returned by Start when the interface lacks an address
	// of the server family.
	ErrNoAddress = errors.New("interface has no address for this family")
)

// Default timings
const (
	DefaultReadyTimeout   = 3 * time.Second
	DefaultReceiveTimeout = time.Second
	DefaultBufferSize     = 8192
	multicastTTL          = 2
)

// Packet is one received datagram.
type Packet struct {
	Data      []byte
	Source    *net.UDPAddr
	Interface netif.Interface
	Local     *net.IPNet
	V6        bool
	Role      Role
}

// Handler receives packets on the server goroutine. It must not block.
type Handler func(Packet)

// Options tunes a Server. Zero values select the defaults.
type Options struct {
	ReadyTimeout   time.Duration
	ReceiveTimeout time.Duration
	BufferSize     int
}

func (o Options) withDefaults() Options {
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ReceiveTimeout <= 0 {
		o.ReceiveTimeout = DefaultReceiveTimeout
	}
	if o.BufferSize <= 0 {
		o.BufferSize = DefaultBufferSize
	}
	return o
}

// Server owns one UDP socket on one interface for one Variant, and the
// goroutine that receives on it.
type Server struct {
	ifc     netif.Interface
	variant Variant
	handler Handler
	opts    Options
	log     *zap.Logger

	mu     sync.Mutex
	conn   net.PacketConn
	p4     *ipv4.PacketConn
	p6     *ipv6.PacketConn
	joined bool

	stopped atomic.Bool
	started atomic.Bool
	ready   chan struct{}
	done    chan struct{}
	loopErr error
}

// NewServer creates a server. Start opens the socket.
func NewServer(ifc netif.Interface, variant Variant, handler Handler, opts Options) *Server {
	return &Server{
		ifc:     ifc,
		variant: variant,
		handler: handler,
		opts:    opts.withDefaults(),
		log: logging.Named("dgram").With(
			zap.String("iface", ifc.Name),
			zap.Stringer("variant", variant),
		),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Interface returns the interface the server is bound to.
func (s *Server) Interface() netif.Interface { return s.ifc }

// Variant returns the role and family of the server.
func (s *Server) Variant() Variant { return s.variant }

// Ready is closed once the socket is bound and the group joined.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Start binds the socket, joins the group for listening roles and starts
// the receive goroutine.
func (s *Server) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return fmt.Errorf("datagram server %s on %s already started", s.variant, s.ifc.Name)
	}

	local := s.ifc.Addr(s.variant.V6)
	if local == nil {
		close(s.done)
		return fmt.Errorf("%s on %s: %w", s.variant, s.ifc.Name, ErrNoAddress)
	}

	if err := s.open(local); err != nil {
		close(s.done)
		return err
	}

	close(s.ready)
	s.log.Debug("Datagram server started", zap.Stringer("local_addr", s.conn.LocalAddr()))
	go s.loop()
	return nil
}

func (s *Server) open(local *net.IPNet) error {
	var addr string
	if s.variant.Joins() {
		// Shared port: every interface binds the wildcard address and the
		// receive loop filters on the arrival interface.
		addr = ":" + strconv.Itoa(s.variant.Port())
	} else {
		host := local.IP.String()
		if s.variant.V6 {
			host += "%" + s.ifc.Zone()
		}
		addr = net.JoinHostPort(host, "0")
	}

	lc := net.ListenConfig{Control: reuseControl}
	conn, err := lc.ListenPacket(context.Background(), s.variant.Network(), addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s (%s): %w", addr, s.ifc.Name, err)
	}

	group := &net.UDPAddr{IP: s.variant.Group().IP}
	nifc := s.ifc.Net()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn

	if s.variant.V6 {
		p := ipv6.NewPacketConn(conn)
		if err := p.SetControlMessage(ipv6.FlagInterface|ipv6.FlagDst, true); err != nil {
			s.log.Debug("IPv6 control messages unavailable", zap.Error(err))
		}
		if err := p.SetMulticastInterface(nifc); err != nil {
			s.log.Debug("Failed to set multicast interface", zap.Error(err))
		}
		_ = p.SetMulticastHopLimit(multicastTTL)
		if s.variant.Joins() {
			if err := p.JoinGroup(nifc, group); err != nil {
				conn.Close()
				return fmt.Errorf("failed to join %s on %s: %w", group.IP, s.ifc.Name, err)
			}
			s.joined = true
		}
		s.p6 = p
		return nil
	}

	p := ipv4.NewPacketConn(conn)
	if err := p.SetControlMessage(ipv4.FlagInterface|ipv4.FlagDst, true); err != nil {
		s.log.Debug("IPv4 control messages unavailable", zap.Error(err))
	}
	if err := p.SetMulticastInterface(nifc); err != nil {
		s.log.Debug("Failed to set multicast interface", zap.Error(err))
	}
	_ = p.SetMulticastTTL(multicastTTL)
	if s.variant.Joins() {
		if err := p.JoinGroup(nifc, group); err != nil {
			conn.Close()
			return fmt.Errorf("failed to join %s on %s: %w", group.IP, s.ifc.Name, err)
		}
		s.joined = true
	}
	s.p4 = p
	return nil
}

func (s *Server) loop() {
	defer close(s.done)

	buf := make([]byte, s.opts.BufferSize)
	local := s.ifc.Addr(s.variant.V6)
	for {
		if s.stopped.Load() {
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.opts.ReceiveTimeout))

		n, ifIndex, src, err := s.readFrom(buf)
		if err != nil {
			if s.stopped.Load() {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			s.log.Error("Receive loop terminated", zap.Error(err))
			s.loopErr = err
			return
		}

		if ifIndex != 0 && ifIndex != s.ifc.Index {
			continue
		}
		udpSrc, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		logging.LogDatagram("rx", s.ifc.Name, udpSrc, data)

		s.handler(Packet{
			Data:      data,
			Source:    udpSrc,
			Interface: s.ifc,
			Local:     local,
			V6:        s.variant.V6,
			Role:      s.variant.Role,
		})
	}
}

func (s *Server) readFrom(buf []byte) (int, int, net.Addr, error) {
	if s.p6 != nil {
		n, cm, src, err := s.p6.ReadFrom(buf)
		if cm != nil {
			return n, cm.IfIndex, src, err
		}
		return n, 0, src, err
	}
	n, cm, src, err := s.p4.ReadFrom(buf)
	if cm != nil {
		return n, cm.IfIndex, src, err
	}
	return n, 0, src, err
}

// Send writes data to dst. If the socket is not ready within the ready
// timeout the datagram is dropped and ErrNotReady returned.
func (s *Server) Send(data []byte, dst *net.UDPAddr) error {
	if s.stopped.Load() {
		return ErrStopped
	}
	select {
	case <-s.ready:
	case <-s.done:
		return ErrStopped
	case <-time.After(s.opts.ReadyTimeout):
		s.log.Warn("Dropping datagram, server not ready", zap.Stringer("dst", dst))
		return ErrNotReady
	}

	if s.variant.V6 && dst.Zone == "" && (dst.IP.IsLinkLocalMulticast() || dst.IP.IsLinkLocalUnicast()) {
		withZone := *dst
		withZone.Zone = s.ifc.Zone()
		dst = &withZone
	}

	var err error
	if s.p6 != nil {
		_, err = s.p6.WriteTo(data, &ipv6.ControlMessage{IfIndex: s.ifc.Index}, dst)
	} else {
		_, err = s.conn.WriteTo(data, dst)
	}
	if err != nil {
		return fmt.Errorf("send to %s on %s: %w", dst, s.ifc.Name, err)
	}
	logging.LogDatagram("tx", s.ifc.Name, dst, data)
	return nil
}

// SendMulticast writes data to the variant group.
func (s *Server) SendMulticast(data []byte) error {
	return s.Send(data, s.variant.Group())
}

// Stop leaves the group and closes the socket, which ends the receive
// loop. It does not wait; use Wait for that.
func (s *Server) Stop() {
	if !s.stopped.CompareAndSwap(false, true) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return
	}
	if s.joined {
		group := &net.UDPAddr{IP: s.variant.Group().IP}
		if s.p6 != nil {
			_ = s.p6.LeaveGroup(s.ifc.Net(), group)
		} else {
			_ = s.p4.LeaveGroup(s.ifc.Net(), group)
		}
		s.joined = false
	}
	_ = s.conn.Close()
	s.log.Debug("Datagram server stopped")
}

// Wait blocks until the receive loop has exited and returns the error
// that ended it, or nil after Stop. It returns at once for servers that
// were never started.
func (s *Server) Wait() error {
	if !s.started.Load() {
		return nil
	}
	<-s.done
	return s.loopErr
}

// LocalAddr returns the bound address, or nil before Start.
func (s *Server) LocalAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}
