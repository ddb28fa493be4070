package events

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/httpmsg"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/metrics"
	"github.com/muurk/upnpcp/internal/workers"
)

// DefaultReadTimeout bounds reading one NOTIFY from a connection.
const DefaultReadTimeout = 30 * time.Second

// Config holds the event server configuration.
type Config struct {
	Host        string // empty listens on all addresses
	Port        int    // zero picks an ephemeral port
	ReadTimeout time.Duration
	Metrics     *metrics.Metrics
}

// Server accepts unicast event NOTIFY requests.
type Server struct {
	config     Config
	dispatcher Dispatcher
	exec       *workers.Executors
	log        *zap.Logger

	listener    net.Listener
	wg          sync.WaitGroup
	mu          sync.Mutex
	activeConns map[string]net.Conn
	closed      bool

	// ctx is cancelled by Close so the accept loop never stays parked
	// waiting for an I/O slot.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewServer creates an event server. Connections are handled on the I/O
// pool of exec.
func NewServer(config Config, dispatcher Dispatcher, exec *workers.Executors) *Server {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = DefaultReadTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:      config,
		dispatcher:  dispatcher,
		exec:        exec,
		log:         logging.Named("events"),
		activeConns: make(map[string]net.Conn),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start binds the listener and accepts connections in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for events: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	s.log.Info("Event server listening", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.acceptConnections()
	}()
	return nil
}

// Port returns the bound port, or 0 before Start.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// CallbackURL returns the URL devices reach the server at through the
// local address ip.
func (s *Server) CallbackURL(ip net.IP) string {
	return "http://" + net.JoinHostPort(ip.String(), strconv.Itoa(s.Port())) + "/"
}

func (s *Server) acceptConnections() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Error("Failed to accept connection", zap.Error(err))
			time.Sleep(100 * time.Millisecond)
			continue
		}

		s.wg.Add(1)
		err = s.exec.Go(s.ctx, func(context.Context) {
			defer s.wg.Done()
			s.handleConnection(conn)
		})
		if err != nil {
			s.wg.Done()
			_ = conn.Close()
			if errors.Is(err, workers.ErrTerminated) || s.ctx.Err() != nil {
				return
			}
			s.log.Warn("Dropping event connection", zap.Error(err))
		}
	}
}

// handleConnection serves exactly one exchange and closes conn.
func (s *Server) handleConnection(conn net.Conn) {
	remoteAddr := conn.RemoteAddr().String()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.activeConns[remoteAddr] = conn
	s.mu.Unlock()

	defer func() {
		_ = conn.Close()
		s.mu.Lock()
		delete(s.activeConns, remoteAddr)
		s.mu.Unlock()
	}()

	_ = conn.SetDeadline(time.Now().Add(s.config.ReadTimeout))

	msg, err := httpmsg.Read(bufio.NewReader(conn))
	if err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		s.log.Debug("Failed to read event request", zap.String("remote_addr", remoteAddr), zap.Error(err))
		s.respond(conn, remoteAddr, "", "", http.StatusBadRequest)
		return
	}

	status := s.serve(msg)
	s.config.Metrics.Event("unicast", status == http.StatusOK)
	s.respond(conn, remoteAddr, msg.Method, msg.URI, status)
}

func (s *Server) serve(msg *httpmsg.Message) int {
	notify, status := ParseNotify(msg)
	if notify == nil {
		return status
	}
	if !s.dispatcher.DispatchEvent(notify.SID, notify.Seq, notify.Props) {
		s.log.Debug("Event for unknown subscription", zap.String("sid", notify.SID))
		return http.StatusPreconditionFailed
	}
	return http.StatusOK
}

func (s *Server) respond(conn net.Conn, remoteAddr, method, uri string, status int) {
	logging.LogHTTPExchange(remoteAddr, method, uri, status)
	if err := WriteResponse(conn, status); err != nil {
		s.log.Debug("Failed to answer event", zap.String("remote_addr", remoteAddr), zap.Error(err))
	}
}

// Close stops accepting and closes open connections. It does not wait for
// the handlers; use Wait or Shutdown for that.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	for addr, conn := range s.activeConns {
		s.log.Debug("Closing active connection", zap.String("remote_addr", addr))
		_ = conn.Close()
	}
	s.mu.Unlock()
	s.cancel()

	if listener != nil {
		if err := listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// Wait blocks until the accept loop and every connection handler have
// returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// Shutdown closes the server and waits for its handlers until ctx ends.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.Close()

	done := make(chan struct{})
	go func() {
		s.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("Event server shutdown timed out")
		return ctx.Err()
	}
	return err
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.activeConns)
}
