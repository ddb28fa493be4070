package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/muurk/upnpcp/internal/bridge"
	"github.com/muurk/upnpcp/internal/capture"
	"github.com/muurk/upnpcp/internal/config"
	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/dgram"
	"github.com/muurk/upnpcp/internal/discovery"
	"github.com/muurk/upnpcp/internal/events"
	"github.com/muurk/upnpcp/internal/inventory"
	"github.com/muurk/upnpcp/internal/ui"
)

func init() {
	rootCmd.AddCommand(discoverCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}

// Discover command flags
var (
	discoverTimeout time.Duration
	discoverTarget  string
	discoverJSON    bool
	discoverDB      string
)

// discoverCmd runs one search and lists the devices that answered
var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Search for UPnP devices on the network",
	Long: `Send an SSDP search, listen for answers and advertisements for the
timeout, and list the devices that could be described.`,
	Example: `  # Search everything for 5 seconds (default)
  upnp-cp discover

  # Only media renderers, as JSON
  upnp-cp discover --target urn:schemas-upnp-org:device:MediaRenderer:1 --json

  # Record sightings in an inventory database
  upnp-cp discover --timeout 10s --db devices.db`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", discovery.DefaultScanTimeout, "How long to listen for answers")
	discoverCmd.Flags().StringVar(&discoverTarget, "target", "", "Search target (default: network.search_target from the config)")
	discoverCmd.Flags().BoolVar(&discoverJSON, "json", false, "Print devices as JSON")
	discoverCmd.Flags().StringVar(&discoverDB, "db", "", "SQLite inventory to record sightings in")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	target := discoverTarget
	if target == "" {
		target = cfg.Network.SearchTarget
	}
	cfg.Network.SearchTarget = target

	var listeners controlpoint.Listeners
	if discoverDB != "" {
		store, err := inventory.Open(discoverDB)
		if err != nil {
			return err
		}
		defer store.Close()
		listeners = append(listeners, inventory.NewRecorder(store, nil))
	}

	cp, err := controlpoint.New(cfg, controlpoint.Options{Listener: listeners})
	if err != nil {
		return err
	}

	if !discoverJSON {
		fmt.Println(ui.NewHeader("Discovery", "upnp-cp discover",
			ui.Param{Key: "Target", Value: target},
			ui.Param{Key: "Timeout", Value: discoverTimeout.String()},
			ui.Param{Key: "Protocol", Value: cfg.Network.Protocol},
		).Render())
		fmt.Println()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cp.Start(ctx); err != nil {
		return discoverFailed(err)
	}
	devices, scanErr := cp.Scanner(discoverTimeout, target).Scan(ctx)
	cp.Stop()
	if err := cp.Wait(); err != nil {
		return err
	}
	if scanErr != nil {
		return discoverFailed(scanErr)
	}

	if discoverJSON {
		out := make([]*bridge.Device, 0, len(devices))
		for _, d := range devices {
			out = append(out, bridge.DeviceSummary(d))
		}
		data, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if len(devices) == 0 {
		fmt.Println(ui.NewWarningResult("No devices found",
			ui.Param{Key: "Target", Value: target}).Render())
		return nil
	}
	fmt.Println(ui.RenderDeviceTable(devices))
	fmt.Println()
	result := ui.NewSuccessResult("Discovery complete",
		ui.Param{Key: "Devices", Value: strconv.Itoa(len(devices))})
	if discoverDB != "" {
		result.AddDetail("Inventory", discoverDB)
	}
	fmt.Println(result.Render())
	return nil
}

func discoverFailed(err error) error {
	if !discoverJSON {
		fmt.Println(ui.NewFailureResult("Discovery failed", err,
			"Check that a multicast-capable interface is up",
			"Restrict network.interfaces in the config to the LAN interface",
			"Make sure no firewall drops UDP port 1900",
		).Render())
	}
	return err
}

// replayCmd decodes a capture offline
var replayCmd = &cobra.Command{
	Use:   "replay <capture.pcap>",
	Short: "Decode SSDP traffic from a packet capture",
	Long: `Read a pcap or pcapng capture, extract the SSDP and multicast event
datagrams and show how the control point would have treated each one.
No network access is made; LOCATION addresses are not resolved.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

var replaySegmentFilter bool

func init() {
	replayCmd.Flags().BoolVar(&replaySegmentFilter, "segment-filter", false, "Apply the IPv4 subnet filter (needs the capture's subnet, usually off)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	path := args[0]
	accepted, dropped := 0, map[string]int{}

	stats, err := capture.ReplayFile(path, func(pkt dgram.Packet) {
		line, reason := describePacket(pkt)
		if reason == "" {
			accepted++
		} else {
			dropped[reason]++
		}
		fmt.Println(line)
	})
	if err != nil {
		fmt.Println(ui.NewFailureResult("Replay failed", err).Render())
		return err
	}

	result := ui.NewSuccessResult("Replay complete",
		ui.Param{Key: "Frames", Value: strconv.Itoa(stats.Packets)},
		ui.Param{Key: "Datagrams", Value: strconv.Itoa(stats.Datagrams)},
		ui.Param{Key: "Accepted", Value: strconv.Itoa(accepted)},
		ui.Param{Key: "Duration", Value: stats.Duration().String()},
	)
	for reason, n := range dropped {
		result.AddDetail("Dropped "+reason, strconv.Itoa(n))
	}
	fmt.Println()
	fmt.Println(result.Render())
	return nil
}

// describePacket renders one replayed datagram and returns the drop reason,
// empty when the datagram would have been accepted.
func describePacket(pkt dgram.Packet) (string, string) {
	prefix := fmt.Sprintf("%-7s %-22s", pkt.Role, pkt.Source)

	if pkt.Role == dgram.RoleEvent {
		n, err := events.ParseMulticastNotify(pkt.Data)
		if err != nil {
			return fmt.Sprintf("%s %s %v", prefix, ui.FailureMarker, err), "bad_event"
		}
		return fmt.Sprintf("%s %s uuid:%s %s level=%s seq=%d props=%d",
			prefix, ui.EventMarker, n.UUID, n.ServiceID, n.Level, n.Seq, len(n.Props)), ""
	}

	msg, reason, err := discovery.Screen(pkt, replaySegmentFilter, time.Now())
	switch {
	case err != nil:
		return fmt.Sprintf("%s %s %v", prefix, ui.FailureMarker, err), reason
	case reason != "":
		return fmt.Sprintf("%s %s %s %s", prefix, ui.FailureMarker, reason, msg.USN()), reason
	}

	kind := msg.NTS()
	if msg.IsResponse() {
		kind = "response"
	}
	return fmt.Sprintf("%s %s %-12s %s %s", prefix, ui.SuccessMarker, kind, msg.USN(), msg.Location), ""
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configForce bool

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the defaults",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if path == "" {
			p, err := config.DefaultPath()
			if err != nil {
				return err
			}
			path = p
		}
		if _, err := os.Stat(path); err == nil && !configForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		if err := config.NewConfig().Save(path); err != nil {
			return err
		}
		fmt.Println(ui.NewSuccessResult("Configuration written", ui.Param{Key: "Path", Value: path}).Render())
		return nil
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing file")
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		data, err := cfg.Marshal()
		if err != nil {
			return err
		}
		fmt.Print(string(data))
		return nil
	},
}
