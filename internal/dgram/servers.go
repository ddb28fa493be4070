package dgram

import (
	"fmt"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/netif"
	"github.com/muurk/upnpcp/internal/ssdp"
)

// maxParallelStarts bounds concurrent socket setup.
const maxParallelStarts = 8

// Servers fans start, stop and send operations out over one server per
// eligible interface, family and role.
type Servers struct {
	mu      sync.RWMutex
	servers []*Server
	log     *zap.Logger
}

// NewServers creates servers for every interface and role allowed by
// protocol. Interfaces lacking an address of a family get no server of
// that family.
func NewServers(ifaces []netif.Interface, protocol netif.Protocol, roles []Role, handler Handler, opts Options) *Servers {
	log := logging.Named("dgram")
	set := &Servers{log: log}
	for _, ifc := range ifaces {
		for _, v6 := range families(protocol) {
			if !ifc.HasFamily(v6) {
				log.Debug("Skipping interface without address family",
					zap.String("iface", ifc.Name), zap.Bool("v6", v6))
				continue
			}
			for _, role := range roles {
				set.servers = append(set.servers, NewServer(ifc, Variant{Role: role, V6: v6}, handler, opts))
			}
		}
	}
	return set
}

func families(p netif.Protocol) []bool {
	var out []bool
	if p.AllowsV4() {
		out = append(out, false)
	}
	if p.AllowsV6() {
		out = append(out, true)
	}
	return out
}

// Start starts every server. Servers that fail are logged and dropped from
// the set; an error is returned only when none started.
func (s *Servers) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.servers) == 0 {
		return fmt.Errorf("no usable network interfaces")
	}

	errs := make([]error, len(s.servers))
	var g errgroup.Group
	g.SetLimit(maxParallelStarts)
	for i, srv := range s.servers {
		g.Go(func() error {
			errs[i] = srv.Start()
			return nil
		})
	}
	_ = g.Wait()

	var started []*Server
	var combined error
	for i, srv := range s.servers {
		if errs[i] != nil {
			s.log.Warn("Datagram server failed to start",
				zap.String("iface", srv.ifc.Name),
				zap.Stringer("variant", srv.variant),
				zap.Error(errs[i]))
			combined = multierr.Append(combined, errs[i])
			continue
		}
		started = append(started, srv)
	}
	s.servers = started

	if len(started) == 0 {
		return fmt.Errorf("no datagram server could start: %w", combined)
	}
	return nil
}

// Stop requests every server to stop.
func (s *Servers) Stop() {
	for _, srv := range s.List() {
		srv.Stop()
	}
}

// Wait waits for every receive loop and combines their errors.
func (s *Servers) Wait() error {
	var err error
	for _, srv := range s.List() {
		err = multierr.Append(err, srv.Wait())
	}
	return err
}

// Search sends an M-SEARCH for target from every search server.
func (s *Servers) Search(target string) error {
	return s.SendMulticast(RoleSearch, func(v6 bool) []byte {
		return ssdp.NewSearch(target, v6).Encode()
	})
}

// SendMulticast sends build(v6) to the group of every server with role.
func (s *Servers) SendMulticast(role Role, build func(v6 bool) []byte) error {
	var err error
	sent := 0
	for _, srv := range s.List() {
		if srv.variant.Role != role {
			continue
		}
		if e := srv.SendMulticast(build(srv.variant.V6)); e != nil {
			err = multierr.Append(err, e)
			continue
		}
		sent++
	}
	if sent == 0 && err == nil {
		return fmt.Errorf("no %s server available", role)
	}
	return err
}

// List returns the servers in the set.
func (s *Servers) List() []*Server {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Server, len(s.servers))
	copy(out, s.servers)
	return out
}

// Len returns the number of servers.
func (s *Servers) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.servers)
}
