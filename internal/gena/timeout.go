package gena

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Infinite stands for "Second-infinite". It is large but still safe to add
// to a time.Time.
const Infinite = 100 * 365 * 24 * time.Hour

const timeoutPrefix = "Second-"

// ParseTimeout decodes a TIMEOUT header value.
func ParseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if len(s) < len(timeoutPrefix) || !strings.EqualFold(s[:len(timeoutPrefix)], timeoutPrefix) {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	v := s[len(timeoutPrefix):]
	if strings.EqualFold(v, "infinite") {
		return Infinite, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil || n == 0 {
		return 0, fmt.Errorf("invalid timeout %q", s)
	}
	return time.Duration(n) * time.Second, nil
}

// FormatTimeout encodes d as a TIMEOUT header value, rounding up to whole
// seconds.
func FormatTimeout(d time.Duration) string {
	if d >= Infinite {
		return timeoutPrefix + "infinite"
	}
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return timeoutPrefix + strconv.FormatInt(secs, 10)
}
