package ssdp

import (
	"strconv"

	"github.com/muurk/upnpcp/internal/httpmsg"
	"github.com/muurk/upnpcp/internal/version"
)

// NewSearch builds an M-SEARCH for target, "ssdp:all" when empty.
func NewSearch(target string, v6 bool) *httpmsg.Message {
	if target == "" {
		target = All
	}
	req := httpmsg.NewRequest(MethodSearch, "*")
	req.Header.Add("HOST", hostHeader(Group(v6)))
	req.Header.Add("MAN", Discover)
	req.Header.Add("MX", "1")
	req.Header.Add("ST", target)
	return req
}

// NewNotify builds a NOTIFY advertisement. Location and max-age are left
// out of byebye messages.
func NewNotify(nt, nts, usn, location string, maxAge int, v6 bool) *httpmsg.Message {
	req := httpmsg.NewRequest(MethodNotify, "*")
	req.Header.Add("HOST", hostHeader(Group(v6)))
	req.Header.Add("NT", nt)
	req.Header.Add("NTS", nts)
	req.Header.Add("USN", usn)
	if nts != NTSByeBye {
		req.Header.Add("LOCATION", location)
		req.Header.Add("CACHE-CONTROL", "max-age="+strconv.Itoa(maxAge))
		req.Header.Add("SERVER", version.UserAgent())
	}
	return req
}

// NewSearchResponse builds the unicast reply to an M-SEARCH.
func NewSearchResponse(st, usn, location string, maxAge int) *httpmsg.Message {
	resp := httpmsg.NewResponse(200, "OK")
	resp.Header.Add("CACHE-CONTROL", "max-age="+strconv.Itoa(maxAge))
	resp.Header.Add("EXT", "")
	resp.Header.Add("LOCATION", location)
	resp.Header.Add("SERVER", version.UserAgent())
	resp.Header.Add("ST", st)
	resp.Header.Add("USN", usn)
	return resp
}
