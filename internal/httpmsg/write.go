package httpmsg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
)

// DefaultChunkSize is the chunk size used when writing chunked bodies.
const DefaultChunkSize = 1024

// Write serializes m to w. Chunked messages have their body framed in
// DefaultChunkSize chunks; other bodies are written verbatim.
func (m *Message) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)

	switch m.Kind {
	case KindRequest:
		fmt.Fprintf(bw, "%s %s %s\r\n", m.Method, m.URI, m.version())
	case KindResponse:
		fmt.Fprintf(bw, "%s %d %s\r\n", m.version(), m.StatusCode, m.Reason)
	default:
		return fmt.Errorf("httpmsg: cannot write message of %v", m.Kind)
	}

	for _, f := range m.Header.fields {
		fmt.Fprintf(bw, "%s: %s\r\n", f.Name, f.Value)
	}
	bw.WriteString("\r\n")

	if m.IsChunked() {
		if err := WriteChunked(bw, m.Body, DefaultChunkSize); err != nil {
			return err
		}
	} else if len(m.Body) > 0 {
		bw.Write(m.Body)
	}
	return bw.Flush()
}

// Encode returns the serialized message.
func (m *Message) Encode() []byte {
	var buf bytes.Buffer
	// Writes to a bytes.Buffer only fail for an invalid Kind.
	_ = m.Write(&buf)
	return buf.Bytes()
}

// WriteChunked writes body as chunks of at most size bytes followed by the
// terminating zero chunk.
func WriteChunked(w io.Writer, body []byte, size int) error {
	if size <= 0 {
		size = DefaultChunkSize
	}
	for len(body) > 0 {
		n := min(size, len(body))
		if _, err := io.WriteString(w, strconv.FormatInt(int64(n), 16)+"\r\n"); err != nil {
			return err
		}
		if _, err := w.Write(body[:n]); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "\r\n"); err != nil {
			return err
		}
		body = body[n:]
	}
	_, err := io.WriteString(w, "0\r\n\r\n")
	return err
}

func (m *Message) version() string {
	if m.Version == "" {
		return DefaultVersion
	}
	return m.Version
}
