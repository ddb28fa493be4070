package httpmsg

import (
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Kind distinguishes requests from responses.
type Kind int

const (
	KindRequest Kind = iota
	KindResponse
)

// String returns "request" or "response"
func (k Kind) String() string {
	switch k {
	case KindRequest:
		return "request"
	case KindResponse:
		return "response"
	default:
		return "Kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// DefaultVersion is used by NewRequest and NewResponse.
const DefaultVersion = "HTTP/1.1"

// Message is an HTTP request or response as UPnP uses them. Method and URI
// are set for KindRequest, StatusCode and Reason for KindResponse.
type Message struct {
	Kind       Kind
	Method     string
	URI        string
	Version    string
	StatusCode int
	Reason     string
	Header     Header
	Body       []byte
}

// NewRequest creates an HTTP/1.1 request with no headers.
func NewRequest(method, uri string) *Message {
	return &Message{Kind: KindRequest, Method: method, URI: uri, Version: DefaultVersion}
}

// NewResponse creates an HTTP/1.1 response. An empty reason is filled from
// StatusText.
func NewResponse(code int, reason string) *Message {
	if reason == "" {
		reason = StatusText(code)
	}
	return &Message{Kind: KindResponse, StatusCode: code, Reason: reason, Version: DefaultVersion}
}

// StatusText returns the reason phrase for the status codes UPnP uses.
func StatusText(code int) string {
	return http.StatusText(code)
}

// IsRequest reports whether m is a request.
func (m *Message) IsRequest() bool { return m.Kind == KindRequest }

// IsResponse reports whether m is a response.
func (m *Message) IsResponse() bool { return m.Kind == KindResponse }

// ContentLength returns the Content-Length header as a non-negative integer,
// or -1 when it is absent or invalid.
func (m *Message) ContentLength() int64 {
	v, ok := m.Header.Lookup("Content-Length")
	if !ok {
		return -1
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// IsChunked reports whether Transfer-Encoding contains "chunked".
func (m *Message) IsChunked() bool {
	for _, v := range m.Header.Values("Transfer-Encoding") {
		if strings.Contains(strings.ToLower(v), "chunked") {
			return true
		}
	}
	return false
}

// KeepAlive reports whether the connection stays open after this message.
// HTTP/1.1 defaults to keep-alive, HTTP/1.0 needs an explicit token.
func (m *Message) KeepAlive() bool {
	conn := strings.ToLower(strings.Join(m.Header.Values("Connection"), ","))
	if strings.Contains(conn, "close") {
		return false
	}
	if strings.EqualFold(m.Version, "HTTP/1.0") {
		return strings.Contains(conn, "keep-alive")
	}
	return true
}

// BodyText decodes the body as UTF-8. Invalid UTF-8 yields ("", false).
func (m *Message) BodyText() (string, bool) {
	if !utf8.Valid(m.Body) {
		return "", false
	}
	return string(m.Body), true
}

// SetBody stores body and sets Content-Length unless the message is chunked.
func (m *Message) SetBody(body []byte) {
	m.Body = body
	if !m.IsChunked() {
		m.Header.Set("Content-Length", strconv.Itoa(len(body)))
	}
}

// mayReadToClose reports whether a response without framing has its body
// delimited by the connection closing.
func (m *Message) mayReadToClose() bool {
	if m.Kind != KindResponse || m.KeepAlive() {
		return false
	}
	switch {
	case m.StatusCode >= 100 && m.StatusCode < 200,
		m.StatusCode == http.StatusNoContent,
		m.StatusCode == http.StatusNotModified:
		return false
	}
	return true
}
