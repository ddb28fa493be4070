package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/ssdp"
)

const (
	// DefaultScanTimeout is how long a scan listens for answers
	DefaultScanTimeout = 5 * time.Second

	pollInterval = 100 * time.Millisecond
)

// Scanner runs one-shot searches on top of a running Engine.
type Scanner struct {
	Engine *Engine

	// Timeout is the maximum time to wait for answers
	Timeout time.Duration

	// Target is the search target, ssdp:all when empty
	Target string
}

// NewScanner creates a scanner with default settings.
func NewScanner(engine *Engine) *Scanner {
	return &Scanner{
		Engine:  engine,
		Timeout: DefaultScanTimeout,
		Target:  ssdp.All,
	}
}

// Scan searches, waits for the timeout or ctx, and returns the known
// devices.
func (s *Scanner) Scan(ctx context.Context) ([]*device.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	// A rate limited search means one just went out; listen for its answers.
	if err := s.Engine.Search(s.Target); err != nil && !errors.Is(err, ErrSearchRateLimited) {
		return nil, fmt.Errorf("failed to send search: %w", err)
	}
	<-ctx.Done()
	return s.Engine.Registry().List(), nil
}

// WaitForDevice searches and returns the root device containing udn as soon
// as it is described.
func (s *Scanner) WaitForDevice(ctx context.Context, udn string) (*device.Device, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout())
	defer cancel()

	if dev := s.Engine.Registry().FindByAnyUDN(udn); dev != nil {
		return dev, nil
	}
	if err := s.Engine.Search(s.Target); err != nil && !errors.Is(err, ErrSearchRateLimited) {
		return nil, fmt.Errorf("failed to send search: %w", err)
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if dev := s.Engine.Registry().FindByAnyUDN(udn); dev != nil {
				return dev, nil
			}
		case <-ctx.Done():
			return nil, fmt.Errorf("device %s not found within timeout", udn)
		}
	}
}

func (s *Scanner) timeout() time.Duration {
	if s.Timeout <= 0 {
		return DefaultScanTimeout
	}
	return s.Timeout
}
