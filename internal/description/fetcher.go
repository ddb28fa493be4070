package description

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptrace"
	"time"

	"github.com/huin/goupnp"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/upnperr"
	"github.com/muurk/upnpcp/internal/version"
)

const (
	// DefaultTimeout bounds one description download
	DefaultTimeout = 10 * time.Second

	// DefaultMaxRetries is the number of extra attempts after a retryable failure
	DefaultMaxRetries = 1

	// DefaultRetryDelay is the initial delay between attempts
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultMaxRetryDelay caps exponential backoff
	DefaultMaxRetryDelay = 5 * time.Second

	// maxDescriptionSize bounds the body read from a device
	maxDescriptionSize = 1 << 20
)

// Result is a downloaded and parsed description.
type Result struct {
	Device    *device.Device
	LocalAddr net.IP // local end of the connection used for the download
	Raw       []byte
}

// Fetcher downloads device descriptions.
type Fetcher struct {
	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client

	// Timeout bounds each attempt
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts for retryable failures
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts
	RetryDelay time.Duration

	// MaxRetryDelay is the maximum delay for exponential backoff
	MaxRetryDelay time.Duration
}

// NewFetcher creates a fetcher with the default retry policy.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{
		HTTPClient:    &http.Client{},
		Timeout:       timeout,
		MaxRetries:    DefaultMaxRetries,
		RetryDelay:    DefaultRetryDelay,
		MaxRetryDelay: DefaultMaxRetryDelay,
	}
}

// Fetch downloads and parses the description at location.
func (f *Fetcher) Fetch(ctx context.Context, location string) (*Result, error) {
	var lastErr error
	delay := f.RetryDelay

	for attempt := 0; attempt <= f.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, upnperr.NewNetworkError("description download cancelled", location, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
			if f.MaxRetryDelay > 0 && delay > f.MaxRetryDelay {
				delay = f.MaxRetryDelay
			}
		}

		res, err := f.fetchAttempt(ctx, location)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if !upnperr.IsRetryable(err) {
			return nil, err
		}
		logging.Debug("Description download failed, retrying",
			zap.String("location", location),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, lastErr
}

func (f *Fetcher) fetchAttempt(ctx context.Context, location string) (*Result, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	var localAddr net.IP
	trace := &httptrace.ClientTrace{
		GotConn: func(info httptrace.GotConnInfo) {
			if tcp, ok := info.Conn.LocalAddr().(*net.TCPAddr); ok {
				localAddr = tcp.IP
			}
		},
	}

	req, err := http.NewRequestWithContext(httptrace.WithClientTrace(ctx, trace), http.MethodGet, location, nil)
	if err != nil {
		return nil, upnperr.NewParseError(fmt.Sprintf("invalid location %q", location), err)
	}
	req.Header.Set("User-Agent", version.UserAgent())

	client := f.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, upnperr.NewNetworkError("description download failed", location, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, upnperr.NewHTTPError(resp.StatusCode, location, fmt.Sprintf("unexpected status code: %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxDescriptionSize))
	if err != nil {
		return nil, upnperr.NewNetworkError("failed to read description", location, err)
	}

	dev, err := Parse(raw, location)
	if err != nil {
		return nil, err
	}
	return &Result{Device: dev, LocalAddr: localAddr, Raw: raw}, nil
}

// Parse converts description XML into a device tree.
func Parse(raw []byte, location string) (*device.Device, error) {
	var root goupnp.RootDevice
	if err := xml.Unmarshal(raw, &root); err != nil {
		return nil, upnperr.NewParseError("failed to parse device description", err)
	}
	dev, err := device.FromRoot(&root, location)
	if err != nil {
		return nil, upnperr.NewParseError("incomplete device description", err)
	}
	return dev, nil
}
