// Package ui renders the upnp-cp command output with Lipgloss.
//
// Commands print a Header when they start, device cards or a device
// table while they run, and a Result box when they finish. The monitor
// command prints one line per device change and a short block per
// property change.
//
// Call ConfigureColor(os.Stdout) once at startup: when stdout is not a
// terminal all styling is reduced to plain text so the output can be
// piped or redirected.
//
// Logging is controlled separately by UPNPCP_LOG_LEVEL. When unset,
// zap logging is silent and only the rendered output is shown.
package ui
