package inventory

import (
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/muurk/upnpcp/internal/controlpoint"
	"github.com/muurk/upnpcp/internal/device"
	"github.com/muurk/upnpcp/internal/logging"
)

// Recorder is a control point listener that writes a sighting for every
// device lifecycle change. Write failures are logged and otherwise ignored.
type Recorder struct {
	store *Store
	clock clock.Clock
	log   *zap.Logger
}

var _ controlpoint.Listener = (*Recorder)(nil)

// NewRecorder returns a listener recording into store. A nil clk uses the
// wall clock.
func NewRecorder(store *Store, clk clock.Clock) *Recorder {
	if clk == nil {
		clk = clock.New()
	}
	return &Recorder{store: store, clock: clk, log: logging.Named("inventory")}
}

func (r *Recorder) DeviceAdded(dev *device.Device)   { r.record(dev, EventAdded) }
func (r *Recorder) DeviceUpdated(dev *device.Device) { r.record(dev, EventUpdated) }
func (r *Recorder) DeviceRemoved(dev *device.Device) { r.record(dev, EventRemoved) }

// PropertyChanged is not recorded.
func (r *Recorder) PropertyChanged(controlpoint.Event) {}

func (r *Recorder) record(dev *device.Device, event string) {
	if err := r.store.RecordSighting(dev, event, r.clock.Now()); err != nil {
		r.log.Warn("Failed to record sighting",
			zap.String("udn", dev.UDN),
			zap.String("event", event),
			zap.Error(err))
	}
}
