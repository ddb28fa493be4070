// Package gena implements the client side of UPnP eventing (GENA):
// SUBSCRIBE, renewal and UNSUBSCRIBE requests, the TIMEOUT header format,
// and the <propertyset> bodies carried by event NOTIFY messages.
//
// # Usage Example
//
//	client := gena.NewClient(10 * time.Second)
//	sid, granted, err := client.Subscribe(ctx, svc.EventSubURL,
//	    "http://192.168.1.10:49152/", 30*time.Minute)
//	if err != nil {
//	    return err
//	}
//	// renew before granted elapses
//	granted, err = client.Renew(ctx, svc.EventSubURL, sid, 30*time.Minute)
//
// Events arrive as NOTIFY requests whose body ParsePropertySet turns into
// an ordered list of (variable, value) pairs.
package gena
