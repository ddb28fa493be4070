// Package events receives GENA event notifications.
//
// Two delivery paths feed the same Dispatcher:
//
//   - Server is a small HTTP listener whose URL is handed to devices as the
//     SUBSCRIBE callback. Each connection carries exactly one NOTIFY and is
//     closed after the response.
//   - MulticastListener handles datagrams from the multicast event group
//     (239.255.255.246:7900 and FF02::130), which carry events for every
//     listener at once and are addressed by device UUID and service ID
//     instead of subscription ID.
//
// # Response Codes
//
// The unicast server answers:
//
//	200 OK                   event dispatched
//	400 Bad Request          NT or NTS header missing, or unreadable request
//	405 Method Not Allowed   anything but NOTIFY
//	412 Precondition Failed  wrong NT/NTS, empty SID, bad SEQ,
//	                         empty or malformed property set, unknown SID
//
// Every response carries Content-Length: 0 and Connection: close.
//
// # Usage Example
//
//	srv := events.NewServer(events.Config{Port: 0}, dispatcher, exec)
//	if err := srv.Start(); err != nil {
//	    return err
//	}
//	defer srv.Shutdown(context.Background()) // or Close, then Wait
//
//	callback := srv.CallbackURL(dev.LocalAddr())
package events
