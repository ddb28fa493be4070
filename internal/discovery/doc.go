// Package discovery turns SSDP traffic into device lifecycle changes.
//
// The Engine receives every datagram from the datagram servers, drops the
// ones that fail the filtering pipeline, and keeps the device registry in
// step with the network:
//
//  1. Parse the datagram as an SSDP message
//  2. Drop it when its address family does not match the socket
//  3. Drop IPv4 sources outside the receiving interface's subnet (optional)
//  4. Drop M-SEARCH requests, which are other control points' traffic
//  5. Drop devices on the vendor quirk list
//  6. Drop alive messages whose LOCATION does not resolve to the sender
//  7. Dispatch alive, response and byebye messages
//
// Unknown devices are described by downloading LOCATION on the I/O pool,
// one download per UDN at a time. Locations that fail are remembered for a
// while so a chatty device is not fetched on every NOTIFY.
//
// # Usage Example
//
//	engine := discovery.New(discovery.Options{
//	    Servers:   servers,
//	    Fetcher:   description.NewFetcher(10 * time.Second),
//	    Executors: exec,
//	    Listener:  myListener,
//	})
//	engine.Start()
//	defer engine.Stop()
//
//	if err := engine.Search(ssdp.All); err != nil {
//	    log.Printf("search: %v", err)
//	}
//
// Listener methods run on the callback executor, never on a network
// goroutine.
package discovery
