// Package ssdp models Simple Service Discovery Protocol datagrams: M-SEARCH
// requests, search responses and NOTIFY alive/byebye advertisements.
//
// Parse decodes a datagram on top of the httpmsg codec and derives the
// fields the discovery engine works with: the UUID and type from USN, the
// advertisement lifetime from Cache-Control, the expiry time and the IPv6
// scope. The validation helpers implement the filters applied to every
// incoming message:
//
//   - HasInvalidLocation: Location must be an http URL resolving to the
//     datagram source (byebye messages are exempt)
//   - InSameSegment: optional IPv4 subnet check
//   - MatchesFamily: drop IPv4 traffic on IPv6 sockets and vice versa
//   - HasVendorQuirk: fixed table of devices to ignore
package ssdp
