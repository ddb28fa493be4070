// Package device holds the device and service tree built from a UPnP
// device description.
//
// A tree is assembled with a Builder (or converted from a goupnp
// RootDevice by FromRoot) and validated once by Build. Embedded devices
// keep a back reference to their parent; the tree is owned top down by the
// root. Each device knows the UDNs of its whole subtree, which is how an
// advertisement for an embedded device is matched to the root that owns it.
//
// The description fields are fixed after Build. Location, expiry and the
// addresses the device was learned from change when the device
// re-advertises, are guarded by a per-device lock, and are propagated
// through the tree by Refresh and SetOrigin.
package device
