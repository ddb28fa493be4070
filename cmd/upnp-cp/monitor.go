package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/bridge"
	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/inventory"
	"github.com/muurk/upnpcp/internal/logging"
	"github.com/muurk/upnpcp/internal/metrics"
	"github.com/muurk/upnpcp/internal/ui"
)

// Monitor command flags
var (
	monitorSubscribe   bool
	monitorWSAddr      string
	monitorMetricsAddr string
	monitorDB          string
)

// monitorCmd runs the control point until interrupted
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch devices come and go, and optionally their events",
	Long: `Run the control point until interrupted, printing every device that
appears, changes location or disappears.

With --subscribe every evented service of every device is subscribed to
and property changes are printed as they arrive. Subscriptions are renewed
until the device leaves or the command exits.`,
	Example: `  # Watch the network
  upnp-cp monitor

  # Subscribe to events and stream them to websocket clients
  upnp-cp monitor --subscribe --ws-addr :8080

  # Expose Prometheus metrics
  upnp-cp monitor --metrics-addr :9090`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().BoolVar(&monitorSubscribe, "subscribe", false, "Subscribe to every evented service")
	monitorCmd.Flags().StringVar(&monitorWSAddr, "ws-addr", "", "Serve a websocket event stream on this address (path /events)")
	monitorCmd.Flags().StringVar(&monitorMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (path /metrics)")
	monitorCmd.Flags().StringVar(&monitorDB, "db", "", "SQLite inventory to record sightings in")

	rootCmd.AddCommand(monitorCmd)
}

// console prints changes and subscribes to new devices when asked to.
// Its methods run on the callback executor.
type console struct {
	ctx       context.Context
	cp        *controlpoint.ControlPoint
	subscribe bool
}

func (c *console) DeviceAdded(dev *device.Device) {
	fmt.Println(ui.RenderDeviceChange(ui.ChangeAdded, dev, time.Now()))
	if c.subscribe {
		// Subscribing blocks on the network; keep the callback executor free.
		go c.subscribeAll(dev)
	}
}

func (c *console) DeviceUpdated(dev *device.Device) {
	fmt.Println(ui.RenderDeviceChange(ui.ChangeUpdated, dev, time.Now()))
}

func (c *console) DeviceRemoved(dev *device.Device) {
	fmt.Println(ui.RenderDeviceChange(ui.ChangeRemoved, dev, time.Now()))
}

func (c *console) PropertyChanged(ev controlpoint.Event) {
	fmt.Println(ui.RenderEvent(ev, time.Now()))
}

func (c *console) subscribeAll(dev *device.Device) {
	for _, svc := range dev.AllServices() {
		if svc.EventSubURL == "" {
			continue
		}
		sid, err := c.cp.Subscribe(c.ctx, svc, true)
		if err != nil {
			logging.Warn("Subscribe failed",
				zap.String("udn", dev.UDN),
				zap.String("service", svc.ServiceID),
				zap.Error(err))
			continue
		}
		logging.Info("Subscribed",
			zap.String("udn", dev.UDN),
			zap.String("service", svc.ServiceID),
			zap.String("sid", sid))
	}
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := &console{ctx: ctx, subscribe: monitorSubscribe}
	listeners := controlpoint.Listeners{out}

	if monitorDB != "" {
		store, err := inventory.Open(monitorDB)
		if err != nil {
			return err
		}
		defer store.Close()
		listeners = append(listeners, inventory.NewRecorder(store, nil))
	}

	var servers []*http.Server
	if monitorWSAddr != "" {
		hub := bridge.NewHub()
		go hub.Run(ctx)
		listeners = append(listeners, hub)

		mux := http.NewServeMux()
		mux.Handle("/events", hub)
		servers = append(servers, &http.Server{Addr: monitorWSAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	var m *metrics.Metrics
	if monitorMetricsAddr != "" {
		m = metrics.New()
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		servers = append(servers, &http.Server{Addr: monitorMetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second})
	}

	cp, err := controlpoint.New(cfg, controlpoint.Options{Listener: listeners, Metrics: m})
	if err != nil {
		return err
	}
	out.cp = cp

	params := []ui.Param{
		{Key: "Target", Value: cfg.Network.SearchTarget},
		{Key: "Protocol", Value: cfg.Network.Protocol},
		{Key: "Subscribe", Value: fmt.Sprint(monitorSubscribe)},
	}
	if monitorWSAddr != "" {
		params = append(params, ui.Param{Key: "Websocket", Value: monitorWSAddr + "/events"})
	}
	if monitorMetricsAddr != "" {
		params = append(params, ui.Param{Key: "Metrics", Value: monitorMetricsAddr + "/metrics"})
	}
	fmt.Println(ui.NewHeader("Monitor", "upnp-cp monitor", params...).Render())
	fmt.Println()

	for _, srv := range servers {
		go func(srv *http.Server) {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.Error("HTTP server failed", zap.String("addr", srv.Addr), zap.Error(err))
				stop()
			}
		}(srv)
	}

	if err := cp.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()

	fmt.Println()
	fmt.Println(ui.NewSuccessResult("Monitor stopped",
		ui.Param{Key: "Devices", Value: fmt.Sprint(len(cp.Devices()))},
		ui.Param{Key: "Subscriptions", Value: fmt.Sprint(len(cp.Subscriptions()))},
	).Render())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, sub := range cp.Subscriptions() {
		if err := cp.Unsubscribe(shutdownCtx, sub.SID); err != nil {
			logging.Debug("Unsubscribe on exit failed", zap.String("sid", sub.SID), zap.Error(err))
		}
	}
	cp.Stop()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	return cp.Wait()
}
