// Package upnperr classifies the failures a control point sees when it talks
// to devices: transport errors, unexpected HTTP status codes, malformed
// messages, protocol violations and state errors.
//
// Transport failures are recovered locally by their callers (receive loops
// retry timeouts, senders log and drop). Malformed and protocol errors fail a
// single message or exchange. State errors are returned to the caller and
// never cross goroutine boundaries.
//
// Packages keep their own sentinel errors for state conditions and wrap them
// with NewStateError where the caller needs the category:
//
//	if !ok {
//	    return upnperr.NewStateError("renew "+sid, ErrUnknownSubscription)
//	}
package upnperr
