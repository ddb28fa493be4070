// Package logging provides structured logging for the UPnP control point.
//
// This package wraps a zap logger with convenience functions used by every
// component: the datagram servers, the discovery engine, both registries and
// the event receiver.
//
// # Log Levels
//
//   - Debug: datagram dumps, header parsing, renewal scheduling
//   - Info: devices added or removed, subscriptions created
//   - Warn: dropped messages, failed downloads, renewal failures
//   - Error: sockets that could not be opened, receive loops that died
//
// # Configuration
//
// Initialize logging at startup:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given the UPNPCP_LOG_LEVEL environment variable is used,
// and when that is empty too the logger is silent.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
