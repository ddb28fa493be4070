package gena

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/upnperr"
	"github.com/muurk/upnpcp/internal/version"
)

const (
	// DefaultTimeout is the default HTTP request timeout
	DefaultTimeout = 10 * time.Second

	// DefaultSubscriptionTimeout is requested when the caller passes zero
	DefaultSubscriptionTimeout = 1800 * time.Second

	methodSubscribe   = "SUBSCRIBE"
	methodUnsubscribe = "UNSUBSCRIBE"
)

// Client sends subscription requests to event URLs.
type Client struct {
	// HTTPClient is the underlying HTTP client
	HTTPClient *http.Client
}

// NewClient creates a client whose requests time out after timeout.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{HTTPClient: &http.Client{Timeout: timeout}}
}

// Subscribe asks the publisher at eventURL to send events to callback. It
// returns the subscription ID and the duration granted, which falls back
// to the requested timeout when the device omits TIMEOUT.
func (c *Client) Subscribe(ctx context.Context, eventURL, callback string, timeout time.Duration) (string, time.Duration, error) {
	if timeout <= 0 {
		timeout = DefaultSubscriptionTimeout
	}
	req, err := c.newRequest(ctx, methodSubscribe, eventURL)
	if err != nil {
		return "", 0, err
	}
	setHeader(req, "CALLBACK", "<"+callback+">")
	setHeader(req, "NT", NTEvent)
	setHeader(req, "TIMEOUT", FormatTimeout(timeout))

	resp, err := c.do(req, eventURL)
	if err != nil {
		return "", 0, err
	}
	sid := strings.TrimSpace(resp.Header.Get("SID"))
	if sid == "" {
		return "", 0, upnperr.NewProtocolError("SUBSCRIBE response without SID", nil)
	}
	granted := grantedTimeout(resp, timeout)
	logging.Debug("Subscribed",
		zap.String("sid", sid),
		zap.String("event_url", eventURL),
		zap.Duration("timeout", granted))
	return sid, granted, nil
}

// Renew extends the subscription sid and returns the duration granted.
func (c *Client) Renew(ctx context.Context, eventURL, sid string, timeout time.Duration) (time.Duration, error) {
	if sid == "" {
		return 0, upnperr.NewStateError("renew without subscription ID", nil)
	}
	if timeout <= 0 {
		timeout = DefaultSubscriptionTimeout
	}
	req, err := c.newRequest(ctx, methodSubscribe, eventURL)
	if err != nil {
		return 0, err
	}
	setHeader(req, "SID", sid)
	setHeader(req, "TIMEOUT", FormatTimeout(timeout))

	resp, err := c.do(req, eventURL)
	if err != nil {
		return 0, err
	}
	return grantedTimeout(resp, timeout), nil
}

// Unsubscribe cancels the subscription sid.
func (c *Client) Unsubscribe(ctx context.Context, eventURL, sid string) error {
	if sid == "" {
		return upnperr.NewStateError("unsubscribe without subscription ID", nil)
	}
	req, err := c.newRequest(ctx, methodUnsubscribe, eventURL)
	if err != nil {
		return err
	}
	setHeader(req, "SID", sid)
	_, err = c.do(req, eventURL)
	return err
}

func (c *Client) newRequest(ctx context.Context, method, eventURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, eventURL, nil)
	if err != nil {
		return nil, upnperr.NewParseError(fmt.Sprintf("invalid event URL %q", eventURL), err)
	}
	setHeader(req, "USER-AGENT", version.UserAgent())
	return req, nil
}

// setHeader keeps the upper-case spelling some devices insist on.
func setHeader(req *http.Request, name, value string) {
	req.Header[name] = []string{value}
}

func (c *Client) do(req *http.Request, eventURL string) (*http.Response, error) {
	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, upnperr.Classify(err, eventURL)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()

	logging.LogHTTPExchange(eventURL, req.Method, req.URL.RequestURI(), resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		return nil, upnperr.NewHTTPError(resp.StatusCode, eventURL,
			fmt.Sprintf("%s failed: %s", req.Method, resp.Status))
	}
	return resp, nil
}

func grantedTimeout(resp *http.Response, requested time.Duration) time.Duration {
	v := resp.Header.Get("TIMEOUT")
	if v == "" {
		return requested
	}
	d, err := ParseTimeout(v)
	if err != nil {
		logging.Debug("Ignoring bad TIMEOUT in response", zap.String("timeout", v))
		return requested
	}
	return d
}
