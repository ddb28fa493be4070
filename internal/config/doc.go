// Package config provides the control point configuration.
//
// The configuration is a YAML file describing which interfaces and address
// families to use for SSDP, how the GENA event receiver binds, how long
// description downloads may take, how large the worker pools are, and which
// devices are pinned by description URL instead of being discovered.
//
// # Configuration File Location
//
// The configuration file is stored in platform-appropriate locations:
//   - Linux: $XDG_CONFIG_HOME/upnpcp/config.yaml or $HOME/.config/upnpcp/config.yaml
//   - macOS: $HOME/.config/upnpcp/config.yaml
//   - Windows: %LOCALAPPDATA%\upnpcp\config.yaml
//
// Every command accepts --config to use another file.
//
// # Usage Example
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cfg.Network.Protocol = "dual"
//	cfg.Pinned = append(cfg.Pinned, config.PinnedItem{Location: "http://192.0.2.2:49152/desc.xml"})
//
//	// Save changes atomically
//	if err := cfg.Save(""); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
// File writes are protected by a mutex and go through a temporary file and
// rename. A loaded Config is not safe for concurrent mutation.
package config
