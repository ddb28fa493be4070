package httpmsg

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/muurk/upnpcp/internal/upnperr"
)

var (
	// ErrMalformedStartLine is returned when the first line is neither a
	// request line nor a status line.
	ErrMalformedStartLine = errors.New("httpmsg: malformed start line")
	// ErrMalformedChunk is returned for a bad chunk size line or a chunk not
	// followed by CRLF.
	ErrMalformedChunk = errors.New("httpmsg: malformed chunk")
	// ErrDuplicateContentLength is a protocol violation.
	ErrDuplicateContentLength = errors.New("httpmsg: duplicate Content-Length")
	// ErrLineTooLong is returned for start or header lines above MaxLineLength.
	ErrLineTooLong = errors.New("httpmsg: line too long")
	// ErrBodyTooLarge is returned when a body exceeds MaxBodySize.
	ErrBodyTooLarge = errors.New("httpmsg: body too large")
	// ErrUnexpectedEOF is returned when the stream ends before a required token.
	ErrUnexpectedEOF = fmt.Errorf("httpmsg: unexpected end of message: %w", io.ErrUnexpectedEOF)
)

const (
	// MaxLineLength bounds a single start or header line.
	MaxLineLength = 64 << 10

	// MaxBodySize bounds a message body however it is framed. Content-Length
	// is never trusted for allocation.
	MaxBodySize = 1 << 20
)

// Read parses one message from r. It returns io.EOF when r is exhausted
// before the first byte of a message.
func Read(r *bufio.Reader) (*Message, error) {
	return read(r, false)
}

// ReadDatagram parses a message held entirely in b. A missing blank line
// after the headers is tolerated.
func ReadDatagram(b []byte) (*Message, error) {
	msg, err := read(bufio.NewReader(bytes.NewReader(b)), true)
	if errors.Is(err, io.EOF) {
		return nil, upnperr.NewParseError("empty datagram", ErrUnexpectedEOF)
	}
	return msg, err
}

func read(r *bufio.Reader, datagram bool) (*Message, error) {
	line, err := readLine(r)
	if err != nil {
		if errors.Is(err, io.EOF) && line == "" {
			return nil, io.EOF
		}
		if !errors.Is(err, io.EOF) || !datagram {
			return nil, wrapReadErr("start line", err)
		}
	}

	msg, err := parseStartLine(line)
	if err != nil {
		return nil, err
	}

	if err := readHeaders(r, &msg.Header, datagram); err != nil {
		return nil, err
	}

	if n := len(msg.Header.Values("Content-Length")); n > 1 {
		return nil, upnperr.NewProtocolError(fmt.Sprintf("%d Content-Length headers", n), ErrDuplicateContentLength)
	}

	if err := readBody(r, msg, datagram); err != nil {
		return nil, err
	}
	return msg, nil
}

// readLine returns one LF-terminated line with every CR removed.
func readLine(r *bufio.Reader) (string, error) {
	var buf []byte
	for {
		chunk, err := r.ReadSlice('\n')
		buf = append(buf, chunk...)
		if len(buf) > MaxLineLength {
			return "", upnperr.NewParseError("header line", ErrLineTooLong)
		}
		if err == bufio.ErrBufferFull {
			continue
		}
		line := strings.ReplaceAll(strings.TrimSuffix(string(buf), "\n"), "\r", "")
		if err != nil {
			return line, err
		}
		return line, nil
	}
}

func parseStartLine(line string) (*Message, error) {
	if strings.HasPrefix(line, "HTTP/") {
		parts := strings.SplitN(line, " ", 3)
		if len(parts) < 2 {
			return nil, upnperr.NewParseError(fmt.Sprintf("status line %q", line), ErrMalformedStartLine)
		}
		code, err := strconv.Atoi(parts[1])
		if err != nil || code < 100 || code > 999 {
			return nil, upnperr.NewParseError(fmt.Sprintf("status code %q", parts[1]), ErrMalformedStartLine)
		}
		msg := &Message{Kind: KindResponse, Version: parts[0], StatusCode: code}
		if len(parts) == 3 {
			msg.Reason = strings.TrimSpace(parts[2])
		}
		return msg, nil
	}

	parts := strings.Split(line, " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, upnperr.NewParseError(fmt.Sprintf("request line %q", line), ErrMalformedStartLine)
	}
	return &Message{Kind: KindRequest, Method: parts[0], URI: parts[1], Version: parts[2]}, nil
}

func readHeaders(r *bufio.Reader, h *Header, datagram bool) error {
	for {
		line, err := readLine(r)
		if err != nil && !errors.Is(err, io.EOF) {
			return wrapReadErr("header", err)
		}
		eof := err != nil

		if line == "" {
			if eof && !datagram {
				return wrapReadErr("header", io.ErrUnexpectedEOF)
			}
			return nil
		}

		if line[0] == ' ' || line[0] == '\t' {
			h.appendToLast(strings.TrimSpace(line))
		} else if name, value, ok := strings.Cut(line, ":"); ok {
			h.Add(strings.TrimSpace(name), strings.TrimSpace(value))
		}
		// lines without a colon are skipped

		if eof {
			if !datagram {
				return wrapReadErr("header", io.ErrUnexpectedEOF)
			}
			return nil
		}
	}
}

func readBody(r *bufio.Reader, msg *Message, datagram bool) error {
	if msg.IsChunked() {
		body, err := readChunked(r, datagram)
		if err != nil {
			return err
		}
		msg.Body = body
		return nil
	}

	if n := msg.ContentLength(); n >= 0 {
		if n == 0 {
			return nil
		}
		if n > MaxBodySize {
			if !datagram {
				return upnperr.NewParseError(fmt.Sprintf("Content-Length %d", n), ErrBodyTooLarge)
			}
			// A datagram body cannot outgrow the datagram itself.
			n = MaxBodySize
		}
		var body bytes.Buffer
		_, err := io.CopyN(&body, r, n)
		if err != nil {
			if datagram && errors.Is(err, io.EOF) {
				msg.Body = body.Bytes()
				return nil
			}
			return wrapReadErr("body", err)
		}
		msg.Body = body.Bytes()
		return nil
	}

	if msg.mayReadToClose() {
		body, err := io.ReadAll(io.LimitReader(r, MaxBodySize+1))
		if err != nil {
			return wrapReadErr("body", err)
		}
		if len(body) > MaxBodySize {
			return upnperr.NewParseError("body read to close", ErrBodyTooLarge)
		}
		if len(body) > 0 {
			msg.Body = body
		}
	}
	return nil
}

func readChunked(r *bufio.Reader, datagram bool) ([]byte, error) {
	var body bytes.Buffer
	for {
		line, err := readLine(r)
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			return nil, wrapReadErr("chunk size", err)
		}
		sizeText, _, _ := strings.Cut(line, ";")
		size, perr := strconv.ParseInt(strings.TrimSpace(sizeText), 16, 64)
		if perr != nil || size < 0 {
			return nil, upnperr.NewParseError(fmt.Sprintf("chunk size %q", line), ErrMalformedChunk)
		}
		if size > MaxBodySize-int64(body.Len()) {
			return nil, upnperr.NewParseError(fmt.Sprintf("chunk size %d", size), ErrBodyTooLarge)
		}

		if size == 0 {
			// Trailer fields, if any, then the final CRLF.
			for {
				trailer, err := readLine(r)
				if err != nil {
					if errors.Is(err, io.EOF) && datagram {
						return body.Bytes(), nil
					}
					return nil, wrapReadErr("chunk trailer", err)
				}
				if trailer == "" {
					return body.Bytes(), nil
				}
			}
		}

		if _, err := io.CopyN(&body, r, size); err != nil {
			return nil, wrapReadErr("chunk data", err)
		}
		crlf, err := readLine(r)
		if err != nil {
			return nil, wrapReadErr("chunk terminator", err)
		}
		if crlf != "" {
			return nil, upnperr.NewParseError("chunk not followed by CRLF", ErrMalformedChunk)
		}
	}
}

func wrapReadErr(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return upnperr.NewParseError("reading "+what, ErrUnexpectedEOF)
	}
	var typed *upnperr.Error
	if errors.As(err, &typed) {
		return err
	}
	return upnperr.NewNetworkError("reading "+what, "", err)
}
