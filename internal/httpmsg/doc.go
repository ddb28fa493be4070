// Package httpmsg reads and writes the subset of HTTP/1.x that UPnP needs:
// request and status lines, case-insensitive duplicate-preserving headers,
// and bodies framed by Content-Length, chunked transfer encoding, or the
// connection closing.
//
// The same codec serves TCP streams (GENA NOTIFY delivery) and UDP datagrams
// (SSDP). Datagrams are parsed with ReadDatagram, which accepts a message
// whose final blank line is missing.
//
// Parse failures are returned as *upnperr.Error values wrapping one of the
// sentinel errors of this package, so callers can both classify them and
// test for the specific cause with errors.Is.
package httpmsg
