// Package dgram runs the UDP sockets of the control point.
//
// A Server owns one socket on one network interface for one Variant: a role
// (search, notify or event) and an address family. Listening roles bind the
// shared SSDP or GENA port with SO_REUSEADDR/SO_REUSEPORT and join their
// multicast group on their interface only; the search role binds an
// ephemeral port on the interface address so unicast search responses come
// back to it.
//
// Each server receives on its own goroutine with a short read deadline so
// Stop is observed promptly. Datagrams that the kernel delivers for another
// interface (every socket bound to the shared port sees them) are dropped
// using the arrival interface from the IP control message.
//
// # Lifecycle
//
//	srv := dgram.NewServer(ifc, dgram.Variant{Role: dgram.RoleNotify}, handle, dgram.Options{})
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	...
//	srv.Stop()  // request and return
//	srv.Wait()  // join the receive goroutine
//
// Servers applies the same operations to every interface and family
// selected by the configured netif.Protocol.
package dgram
