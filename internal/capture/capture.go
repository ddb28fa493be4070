// Package capture replays SSDP and multicast event traffic from packet
// captures (pcap or pcapng) as datagram server packets, so the discovery
// pipeline can be exercised offline.
package capture

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/dgram"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/netif"
	"github.com/muurk/upnpcp/internal/ssdp"
)

// InterfaceName is the interface name reported on replayed packets.
const InterfaceName = "capture"

// pcapng section header block type, also the first four bytes of the file
var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// Stats summarizes a replay.
type Stats struct {
	Packets   int // frames read from the capture
	Datagrams int // SSDP or event datagrams handed to the callback
	Skipped   int // frames that were not UDP on an SSDP port
	Malformed int // frames gopacket could not decode
	First     time.Time
	Last      time.Time
}

// Duration is the time between the first and last frame.
func (s Stats) Duration() time.Duration {
	return s.Last.Sub(s.First)
}

type packetReader interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	LinkType() layers.LinkType
}

// Replay reads a capture from r and calls fn for every UDP datagram sent to
// or from the SSDP port, and every datagram sent to the multicast event
// port. Frames are delivered in capture order.
func Replay(r io.Reader, fn func(dgram.Packet)) (Stats, error) {
	var stats Stats

	pr, err := newReader(r)
	if err != nil {
		return stats, err
	}

	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return stats, nil
		}
		if err != nil {
			return stats, fmt.Errorf("reading capture: %w", err)
		}

		stats.Packets++
		if stats.First.IsZero() {
			stats.First = ci.Timestamp
		}
		stats.Last = ci.Timestamp

		packet := gopacket.NewPacket(data, pr.LinkType(), gopacket.DecodeOptions{Lazy: true, NoCopy: true})
		if errLayer := packet.ErrorLayer(); errLayer != nil && packet.Layer(layers.LayerTypeUDP) == nil {
			stats.Malformed++
			logging.Debug("Undecodable frame in capture",
				zap.Int("frame", stats.Packets),
				zap.Error(errLayer.Error()))
			continue
		}

		pkt, ok := datagram(packet)
		if !ok {
			stats.Skipped++
			continue
		}
		stats.Datagrams++
		fn(pkt)
	}
}

// ReplayFile replays the capture stored at path.
func ReplayFile(path string, fn func(dgram.Packet)) (Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return Stats{}, err
	}
	defer f.Close()
	return Replay(f, fn)
}

func newReader(r io.Reader) (packetReader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(len(pcapngMagic))
	if err != nil {
		return nil, fmt.Errorf("reading capture header: %w", err)
	}
	if bytes.Equal(magic, pcapngMagic) {
		ng, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("opening pcapng capture: %w", err)
		}
		return ng, nil
	}
	pr, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("opening pcap capture: %w", err)
	}
	return pr, nil
}

// datagram converts a decoded frame into the packet a datagram server
// would have delivered. The role follows from the ports: traffic to the
// event port is RoleEvent, traffic to the SSDP port is RoleNotify and
// unicast traffic from the SSDP port is a search response.
func datagram(packet gopacket.Packet) (dgram.Packet, bool) {
	udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
	if !ok || len(udp.Payload) == 0 {
		return dgram.Packet{}, false
	}

	var role dgram.Role
	switch {
	case udp.DstPort == ssdp.EventPort:
		role = dgram.RoleEvent
	case udp.DstPort == ssdp.Port:
		role = dgram.RoleNotify
	case udp.SrcPort == ssdp.Port:
		role = dgram.RoleSearch
	default:
		return dgram.Packet{}, false
	}

	var src net.IP
	var v6 bool
	switch ip := packet.NetworkLayer().(type) {
	case *layers.IPv4:
		src = ip.SrcIP
	case *layers.IPv6:
		src = ip.SrcIP
		v6 = true
	default:
		return dgram.Packet{}, false
	}

	payload := make([]byte, len(udp.Payload))
	copy(payload, udp.Payload)

	return dgram.Packet{
		Data:      payload,
		Source:    &net.UDPAddr{IP: src, Port: int(udp.SrcPort)},
		Interface: netif.Interface{Name: InterfaceName},
		V6:        v6,
		Role:      role,
	}, true
}
